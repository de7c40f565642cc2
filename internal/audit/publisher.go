package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"visitorpass/pkg/requestcontext"
)

// Sink persists events. Implementations must be safe for use by one worker.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Emitter is what domain services depend on.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Publisher hands events to a Worker through a bounded inbox. Emit never
// blocks the caller: when the inbox is full the event is dropped and counted.
type Publisher struct {
	inbox   chan Event
	logger  *slog.Logger
	dropped prometheus.Counter

	mu     sync.RWMutex
	closed bool
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger reports dropped events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// WithRegisterer exports the dropped-events counter.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Publisher) {
		p.dropped = promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "visitorpass_audit_events_dropped_total",
			Help: "Audit events dropped because the inbox was full or closed.",
		})
	}
}

// NewPublisher creates a publisher with an inbox of the given size.
func NewPublisher(buffer int, opts ...Option) *Publisher {
	if buffer < 1 {
		buffer = 1
	}
	p := &Publisher{inbox: make(chan Event, buffer)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit fills in ID, category, request id, actor and timestamp when unset and
// enqueues the event.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	enrich(ctx, &event)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop(ctx, event, "closed")
		return
	}
	select {
	case p.inbox <- event:
	default:
		p.drop(ctx, event, "inbox full")
	}
}

// Inbox is consumed by a Worker.
func (p *Publisher) Inbox() <-chan Event {
	return p.inbox
}

// Close stops accepting events. The worker drains what is already queued.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

func (p *Publisher) drop(ctx context.Context, event Event, reason string) {
	if p.dropped != nil {
		p.dropped.Inc()
	}
	if p.logger != nil {
		p.logger.WarnContext(ctx, "audit event dropped",
			"action", event.Action,
			"visitor_id", event.VisitorID,
			"reason", reason,
		)
	}
}

func enrich(ctx context.Context, event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Category == "" {
		event.Category = event.Action.Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Actor == "" {
		event.Actor = requestcontext.Actor(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	event.Timestamp = event.Timestamp.UTC()
}

// Direct writes synchronously to a sink. Used by the CLI and in tests where
// no worker runs.
type Direct struct {
	sink   Sink
	logger *slog.Logger
}

// NewDirect wraps sink. Sink errors are logged, never returned.
func NewDirect(sink Sink, logger *slog.Logger) *Direct {
	return &Direct{sink: sink, logger: logger}
}

func (d *Direct) Emit(ctx context.Context, event Event) {
	enrich(ctx, &event)
	if err := d.sink.Append(ctx, event); err != nil && d.logger != nil {
		d.logger.ErrorContext(ctx, "audit append failed", "action", event.Action, "error", err)
	}
}
