// Package audit records append-only audit entries. Appends are synchronous;
// a failed append is handed to a bounded retry queue that a background worker
// drains, so callers learn about the failure without losing the entry.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	dErrors "audiovault/pkg/domain-errors"
	"audiovault/pkg/platform/retry"
	"audiovault/pkg/requestcontext"
)

// Sink persists entries. Append must be idempotent on Entry.ID.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

// Fanout appends to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Append(ctx context.Context, entry Entry) error {
	var errs []error
	for _, s := range f {
		if err := s.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder stamps and appends entries.
type Recorder struct {
	sink     Sink
	queue    *Queue
	retry    retry.Policy
	interval time.Duration
	batch    int
	now      func() time.Time
	logger   *slog.Logger
	metrics  *Metrics
}

type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithQueueCapacity bounds the retry queue.
func WithQueueCapacity(n int) Option {
	return func(r *Recorder) {
		r.queue = NewQueue(n)
	}
}

// WithRetryPolicy sets the backoff the worker uses per queued entry.
func WithRetryPolicy(p retry.Policy) Option {
	return func(r *Recorder) {
		r.retry = p
	}
}

// WithDrainInterval sets how often the worker drains the queue.
func WithDrainInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithClock replaces time.Now for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// NewRecorder constructs a Recorder writing to sink.
func NewRecorder(sink Sink, opts ...Option) (*Recorder, error) {
	if sink == nil {
		return nil, errors.New("audit sink is required")
	}
	r := &Recorder{
		sink:     sink,
		queue:    NewQueue(DefaultQueueCapacity),
		retry:    retry.Policy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second},
		interval: time.Second,
		batch:    64,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record stamps entry and appends it. On failure the entry is queued for
// retry and an AuditWriteFailed error is returned either way.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	entry = r.stamp(ctx, entry)

	err := r.sink.Append(ctx, entry)
	if err == nil {
		r.metrics.incRecorded(entry.Category)
		return nil
	}

	r.metrics.incPersistFailures()
	if !r.queue.TryEnqueue(entry) {
		r.metrics.incDropped()
		r.logger.ErrorContext(ctx, "CRITICAL: audit write failed",
			"request_id", entry.RequestID,
			"entry_id", entry.ID,
			"resource_id", entry.ResourceID,
			"action", entry.Action,
			"queued", false,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeAuditWriteFailed, "audit entry dropped: retry queue full")
	}
	r.metrics.setQueueDepth(r.queue.Len())
	r.logger.ErrorContext(ctx, "CRITICAL: audit write failed",
		"request_id", entry.RequestID,
		"entry_id", entry.ID,
		"resource_id", entry.ResourceID,
		"action", entry.Action,
		"queued", true,
		"error", err,
	)
	return dErrors.Wrap(err, dErrors.CodeAuditWriteFailed, "audit entry queued for retry")
}

// Run drains the retry queue until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain makes one pass over the queued entries and returns how many were
// appended. Entries that still fail go back on the queue.
func (r *Recorder) Drain(ctx context.Context) int {
	pending := r.queue.DequeueBatch(r.batch)
	delivered := 0
	for i, entry := range pending {
		err := retry.Do(ctx, r.retry, func(ctx context.Context) error {
			r.metrics.incRetries()
			return r.sink.Append(ctx, entry)
		})
		if err == nil {
			delivered++
			r.metrics.incRedelivered()
			r.metrics.incRecorded(entry.Category)
			continue
		}
		if ctx.Err() != nil {
			r.requeue(ctx, pending[i:])
			break
		}
		r.requeue(ctx, pending[i:i+1])
	}
	r.metrics.setQueueDepth(r.queue.Len())
	return delivered
}

// Close makes a final drain on a fresh context bounded by timeout and reports
// entries that could not be delivered.
func (r *Recorder) Close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for r.queue.Len() > 0 && ctx.Err() == nil {
		if r.Drain(ctx) == 0 {
			break
		}
	}
	if n := r.queue.Len(); n > 0 {
		r.logger.Error("CRITICAL: audit entries undelivered at shutdown", "count", n)
		return fmt.Errorf("%d audit entries undelivered", n)
	}
	return nil
}

// Pending returns the retry queue depth.
func (r *Recorder) Pending() int {
	return r.queue.Len()
}

func (r *Recorder) requeue(ctx context.Context, entries []Entry) {
	for _, e := range entries {
		if !r.queue.TryEnqueue(e) {
			r.metrics.incDropped()
			r.logger.ErrorContext(ctx, "CRITICAL: audit entry dropped",
				"entry_id", e.ID,
				"resource_id", e.ResourceID,
				"action", e.Action,
			)
		}
	}
}

func (r *Recorder) stamp(ctx context.Context, e Entry) Entry {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	if e.Category == "" {
		e.Category = CategoryFor(e.Action)
	}
	if e.Actor == "" {
		e.Actor = requestcontext.CallerID(ctx)
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	if e.ClientIP == "" {
		e.ClientIP = requestcontext.ClientIP(ctx)
	}
	if e.ClientAgent == "" {
		e.ClientAgent = requestcontext.ClientAgent(ctx)
	}
	return e
}
