package tasks

import (
	"context"
	"sync"
	"time"
)

// Inline runs each task synchronously on Submit and records failures. Used by
// tests and the CLI where a worker pool would only add nondeterminism.
type Inline struct {
	mu       sync.Mutex
	ran      []string
	failures []Failure
}

// NewInline returns an Inline runner.
func NewInline() *Inline {
	return &Inline{}
}

// Submit runs task immediately. Failures are recorded, never returned, so the
// caller sees the same contract as Runner.
func (i *Inline) Submit(ctx context.Context, task Task) error {
	err := safeRun(context.WithoutCancel(ctx), task.Run)
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ran = append(i.ran, task.Name)
	if err != nil {
		i.failures = append(i.failures, Failure{Task: task.Name, VisitorID: task.VisitorID, Err: err, At: time.Now()})
	}
	return nil
}

// Ran returns the names of every task executed so far.
func (i *Inline) Ran() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.ran...)
}

// Failures returns the recorded failures.
func (i *Inline) Failures() []Failure {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Failure(nil), i.failures...)
}
