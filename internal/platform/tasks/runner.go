// Package tasks runs best-effort background work (notifications, webhook
// processing) off the request path. A task never feeds back into the state
// transition that scheduled it: failures are reported on Errors and the
// caller moves on.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrQueueFull = errors.New("tasks: queue full")
	ErrClosed    = errors.New("tasks: runner closed")
)

// Task is one unit of background work.
type Task struct {
	Name      string
	VisitorID string
	Run       func(ctx context.Context) error
}

// Failure reports a task that returned an error, timed out or was dropped.
type Failure struct {
	Task      string
	VisitorID string
	Err       error
	At        time.Time
}

// Submitter is what services depend on.
type Submitter interface {
	Submit(ctx context.Context, task Task) error
}

// Runner executes tasks on a fixed pool of workers fed by a bounded queue.
type Runner struct {
	queue   chan queued
	errs    chan Failure
	timeout time.Duration
	workers int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	logger  *slog.Logger
	metrics *Metrics
}

type queued struct {
	task Task
	ctx  context.Context
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithMetrics attaches Prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New creates a runner. Call Start before submitting.
func New(workers, queueSize int, timeout time.Duration, opts ...Option) *Runner {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	r := &Runner{
		queue:   make(chan queued, queueSize),
		errs:    make(chan Failure, queueSize),
		timeout: timeout,
		workers: workers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the workers. Tasks inherit values from their submit context
// but run under ctx for cancellation.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(ctx)
	}
}

// Submit enqueues task without blocking. A full queue drops the task, reports
// it on Errors and returns ErrQueueFull.
func (r *Runner) Submit(ctx context.Context, task Task) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.queue <- queued{task: task, ctx: ctx}:
		r.metrics.incSubmitted(task.Name)
		return nil
	default:
		r.metrics.incDropped(task.Name)
		r.report(Failure{Task: task.Name, VisitorID: task.VisitorID, Err: ErrQueueFull, At: time.Now()})
		return ErrQueueFull
	}
}

// Errors returns the failure channel. It is closed after Close returns.
func (r *Runner) Errors() <-chan Failure {
	return r.errs
}

// Close stops accepting tasks and waits for queued ones to finish or ctx to end.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(r.errs)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks: drain interrupted: %w", ctx.Err())
	}
}

func (r *Runner) work(ctx context.Context) {
	defer r.wg.Done()
	for q := range r.queue {
		r.execute(ctx, q)
	}
}

func (r *Runner) execute(parent context.Context, q queued) {
	ctx, cancel := context.WithTimeout(detach(parent, q.ctx), r.timeout)
	defer cancel()

	start := time.Now()
	err := safeRun(ctx, q.task.Run)
	r.metrics.observe(q.task.Name, start, err)
	if err == nil {
		return
	}
	if ctx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("task %s timed out after %s: %w", q.task.Name, r.timeout, err)
	}
	r.report(Failure{Task: q.task.Name, VisitorID: q.task.VisitorID, Err: err, At: time.Now()})
}

func (r *Runner) report(f Failure) {
	select {
	case r.errs <- f:
	default:
		r.logger.Warn("task failure dropped, error channel full",
			"task", f.Task,
			"visitor_id", f.VisitorID,
			"error", f.Err,
		)
	}
}

func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return fn(ctx)
}

// valueContext serves values from the submitting context and cancellation
// from the runner context.
type valueContext struct {
	context.Context
	values context.Context
}

func (c valueContext) Value(key any) any {
	if v := c.values.Value(key); v != nil {
		return v
	}
	return c.Context.Value(key)
}

func detach(parent, values context.Context) context.Context {
	if values == nil {
		return parent
	}
	return valueContext{Context: parent, values: context.WithoutCancel(values)}
}

// Metrics counts task outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	submitted *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics registers task metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		submitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "visitorpass_tasks_submitted_total",
			Help: "Background tasks accepted by the runner",
		}, []string{"task"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "visitorpass_tasks_dropped_total",
			Help: "Background tasks dropped because the queue was full",
		}, []string{"task"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "visitorpass_tasks_failed_total",
			Help: "Background tasks that returned an error or timed out",
		}, []string{"task"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "visitorpass_task_duration_seconds",
			Help:    "Background task execution time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"task"}),
	}
}

func (m *Metrics) incSubmitted(task string) {
	if m != nil {
		m.submitted.WithLabelValues(task).Inc()
	}
}

func (m *Metrics) incDropped(task string) {
	if m != nil {
		m.dropped.WithLabelValues(task).Inc()
	}
}

func (m *Metrics) observe(task string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(task).Observe(time.Since(start).Seconds())
	if err != nil {
		m.failed.WithLabelValues(task).Inc()
	}
}
