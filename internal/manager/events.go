package manager

// Event represents a manager lifecycle event: a name, the model and version it
// concerns and optional fields.
type Event struct {
	Name    string
	Model   string
	Version int64
	Fields  map[string]any
}

// Event names published by the manager.
const (
	EventLoadStart    = "load_start"
	EventLoadReady    = "load_ready"
	EventLoadFailed   = "load_failed"
	EventUnloadStart  = "unload_start"
	EventUnloadDone   = "unload_done"
	EventInferFailed  = "infer_failed"
	EventServerClosed = "server_closed"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
