// Package manager owns the served models: it scans the model repository,
// initializes handler instances per selected version and routes inference
// requests to them through a dynamic batcher. It is structured into small
// files by concern:
//
//   - manager.go: core Manager type, constructor, readiness.
//   - config.go: Config and package defaults.
//   - types.go: internal state types (State, model, version, Snapshot).
//   - errors.go: error types and helpers (IsTooBusy, IsModelNotFound, ...).
//   - load.go: repository scan, version selection and instance startup.
//   - unload.go: draining and closing versions.
//   - infer.go: wire request validation and batch submission.
//   - metadata.go: server/model metadata and the repository index.
//   - status_report.go: Status/Snapshot reporting helpers.
//   - events.go: lifecycle event publishing.
//
// External packages should treat this package as the orchestration layer and
// use public methods only. Internal types are subject to change.
package manager
