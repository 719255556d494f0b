// Package batcher forms batches out of concurrently submitted requests and
// dispatches them to a fixed set of executors, one worker per executor.
//
// Batch size is counted in rows: a request carrying a (3, 2) tensor occupies
// three slots of MaxBatchSize.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"llmserve/internal/handler"
)

var (
	// ErrBatchTooLarge is returned for a request with more rows than MaxBatchSize.
	ErrBatchTooLarge = errors.New("batcher: request exceeds max batch size")
	// ErrQueueFull is returned when no queue slot frees up within MaxWait.
	ErrQueueFull = errors.New("batcher: queue full")
	// ErrClosed is returned for requests submitted to, or queued in, a closed batcher.
	ErrClosed = errors.New("batcher: closed")
)

const (
	defaultQueueDepth = 1024
	defaultMaxWait    = 5 * time.Second
)

// Executor runs one batch. *handler.Handler satisfies it.
type Executor interface {
	Execute(ctx context.Context, reqs []handler.Request) ([]handler.Response, error)
}

// Config controls batch formation.
type Config struct {
	// Model labels metrics and logs.
	Model string
	// MaxBatchSize caps the rows of one batch. Zero or less disables
	// batching: every request is dispatched alone.
	MaxBatchSize int
	// PreferredBatchSizes are row counts the batcher dispatches at without
	// waiting for MaxQueueDelay.
	PreferredBatchSizes []int
	// MaxQueueDelay bounds how long the first request of a batch waits for
	// company.
	MaxQueueDelay time.Duration
	// MaxQueueDepth bounds the number of queued requests.
	MaxQueueDepth int
	// MaxWait bounds how long Submit waits for a queue slot.
	MaxWait time.Duration
	Logger  zerolog.Logger
}

type pending struct {
	ctx      context.Context
	req      handler.Request
	rows     int
	enqueued time.Time
	reply    chan result
}

type result struct {
	resp handler.Response
	err  error
}

// Batcher queues requests and feeds its workers.
type Batcher struct {
	cfg       Config
	preferred []int
	log       zerolog.Logger

	queue chan *pending
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.RWMutex
	closed bool
}

// New starts one worker per executor.
func New(cfg Config, executors []Executor) (*Batcher, error) {
	if len(executors) == 0 {
		return nil, errors.New("batcher: no executors")
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultQueueDepth
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	var preferred []int
	for _, p := range cfg.PreferredBatchSizes {
		if p <= 0 {
			return nil, fmt.Errorf("batcher: preferred batch size %d must be positive", p)
		}
		if cfg.MaxBatchSize > 0 && p > cfg.MaxBatchSize {
			return nil, fmt.Errorf("batcher: preferred batch size %d exceeds max batch size %d", p, cfg.MaxBatchSize)
		}
		preferred = append(preferred, p)
	}
	sort.Ints(preferred)
	b := &Batcher{
		cfg:       cfg,
		preferred: preferred,
		log:       cfg.Logger.With().Str("component", "batcher").Str("model", cfg.Model).Logger(),
		queue:     make(chan *pending, cfg.MaxQueueDepth),
		done:      make(chan struct{}),
	}
	for i, ex := range executors {
		b.wg.Add(1)
		go b.worker(i, ex)
	}
	return b, nil
}

// Submit queues req and blocks until its batch has run or ctx ends.
func (b *Batcher) Submit(ctx context.Context, req handler.Request) (handler.Response, error) {
	if err := ctx.Err(); err != nil {
		return handler.Response{}, err
	}
	rows := req.Input.Shape().Rows
	if b.cfg.MaxBatchSize > 0 && rows > b.cfg.MaxBatchSize {
		rejectedTotal.WithLabelValues(b.cfg.Model, "too_large").Inc()
		return handler.Response{}, fmt.Errorf("%w: %d rows > %d", ErrBatchTooLarge, rows, b.cfg.MaxBatchSize)
	}
	p := &pending{ctx: ctx, req: req, rows: rows, enqueued: time.Now(), reply: make(chan result, 1)}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return handler.Response{}, ErrClosed
	}
	timer := time.NewTimer(b.cfg.MaxWait)
	defer timer.Stop()
	select {
	case b.queue <- p:
		queueDepth.WithLabelValues(b.cfg.Model).Inc()
	case <-b.done:
		b.mu.RUnlock()
		return handler.Response{}, ErrClosed
	case <-ctx.Done():
		b.mu.RUnlock()
		return handler.Response{}, ctx.Err()
	case <-timer.C:
		b.mu.RUnlock()
		rejectedTotal.WithLabelValues(b.cfg.Model, "queue_full").Inc()
		return handler.Response{}, ErrQueueFull
	}
	b.mu.RUnlock()

	select {
	case r := <-p.reply:
		return r.resp, r.err
	case <-ctx.Done():
		return handler.Response{}, ctx.Err()
	}
}

// QueueLen reports the number of queued requests.
func (b *Batcher) QueueLen() int { return len(b.queue) }

// Close cancels the batches in flight, waits for the workers to exit and fails
// every queued request with ErrClosed.
func (b *Batcher) Close() error {
	b.once.Do(func() {
		close(b.done)
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		b.wg.Wait()
		for {
			select {
			case p := <-b.queue:
				b.dequeued(p)
				p.reply <- result{err: ErrClosed}
			default:
				b.log.Debug().Msg("batcher closed")
				return
			}
		}
	})
	return nil
}

// batchContext is canceled when the batcher closes or when every caller in the
// batch has gone away.
func (b *Batcher) batchContext(batch []*pending) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	var live atomic.Int64
	live.Store(int64(len(batch)))
	stops := make([]func() bool, len(batch))
	for i, p := range batch {
		stops[i] = context.AfterFunc(p.ctx, func() {
			if live.Add(-1) == 0 {
				cancel()
			}
		})
	}
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		for _, stop := range stops {
			stop()
		}
		cancel()
	}
}

func (b *Batcher) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Batcher) dequeued(p *pending) {
	queueDepth.WithLabelValues(b.cfg.Model).Dec()
	queueDelay.WithLabelValues(b.cfg.Model).Observe(time.Since(p.enqueued).Seconds())
}

func (b *Batcher) isPreferred(rows int) bool {
	for _, p := range b.preferred {
		if p == rows {
			return true
		}
	}
	return false
}

// target is the row count at which a batch is dispatched immediately.
func (b *Batcher) target() int {
	if n := len(b.preferred); n > 0 {
		return b.preferred[n-1]
	}
	return b.cfg.MaxBatchSize
}

func (b *Batcher) worker(id int, ex Executor) {
	defer b.wg.Done()
	log := b.log.With().Int("worker", id).Logger()
	var carry *pending
	for {
		first := carry
		carry = nil
		if first == nil {
			select {
			case <-b.done:
				return
			default:
			}
			select {
			case <-b.done:
				return
			case first = <-b.queue:
				b.dequeued(first)
			}
		}
		if first.ctx.Err() != nil {
			first.reply <- result{err: first.ctx.Err()}
			continue
		}
		var batch []*pending
		batch, carry = b.collect(first)
		b.dispatch(log, ex, batch)
		if carry != nil {
			select {
			case <-b.done:
				carry.reply <- result{err: ErrClosed}
				return
			default:
			}
		}
	}
}

// collect grows a batch starting at first. It returns the batch and the
// request that did not fit, if any.
func (b *Batcher) collect(first *pending) ([]*pending, *pending) {
	batch := []*pending{first}
	if b.cfg.MaxBatchSize <= 0 {
		return batch, nil
	}
	rows := first.rows
	deadline := time.NewTimer(time.Until(first.enqueued.Add(b.cfg.MaxQueueDelay)))
	defer deadline.Stop()

	add := func(p *pending) (*pending, bool) {
		b.dequeued(p)
		if p.ctx.Err() != nil {
			p.reply <- result{err: p.ctx.Err()}
			return nil, true
		}
		if rows+p.rows > b.cfg.MaxBatchSize {
			return p, false
		}
		batch = append(batch, p)
		rows += p.rows
		return nil, true
	}

	for rows < b.target() {
		select {
		case p := <-b.queue:
			if next, ok := add(p); !ok {
				return batch, next
			}
			continue
		default:
		}
		if b.isPreferred(rows) || b.cfg.MaxQueueDelay <= 0 {
			return batch, nil
		}
		select {
		case p := <-b.queue:
			if next, ok := add(p); !ok {
				return batch, next
			}
		case <-deadline.C:
			return batch, nil
		case <-b.done:
			return batch, nil
		}
	}
	return batch, nil
}

func (b *Batcher) dispatch(log zerolog.Logger, ex Executor, batch []*pending) {
	reqs := make([]handler.Request, len(batch))
	rows := 0
	for i, p := range batch {
		reqs[i] = p.req
		rows += p.rows
	}
	batchRows.WithLabelValues(b.cfg.Model).Observe(float64(rows))
	start := time.Now()
	ctx, cancel := b.batchContext(batch)
	resps, err := ex.Execute(ctx, reqs)
	cancel()
	if err != nil && b.isClosed() {
		err = fmt.Errorf("%w: batch aborted: %w", ErrClosed, err)
	}
	if err == nil && len(resps) != len(reqs) {
		err = fmt.Errorf("batcher: executor returned %d responses for %d requests", len(resps), len(reqs))
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	execDuration.WithLabelValues(b.cfg.Model, status).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Int("requests", len(reqs)).Int("rows", rows).Msg("batch failed")
		for _, p := range batch {
			p.reply <- result{err: err}
		}
		return
	}
	log.Debug().Int("requests", len(reqs)).Int("rows", rows).Dur("dur", time.Since(start)).Msg("batch done")
	for i, p := range batch {
		p.reply <- result{resp: resps[i]}
	}
}
