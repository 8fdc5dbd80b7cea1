package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrTerminated is returned by EnsureNotTerminated once the task was
// cancelled.
var ErrTerminated = errors.New("worker task was terminated")

// Task is one named unit of cancellable work.
type Task struct {
	name       string
	terminated atomic.Bool
	done       chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a task whose context is derived from parent.
func New(parent context.Context, name string) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{name: name, done: make(chan struct{}), ctx: ctx, cancel: cancel}
}

// Name returns the diagnostic name.
func (t *Task) Name() string { return t.name }

// Context is cancelled when the task is terminated or finished.
func (t *Task) Context() context.Context { return t.ctx }

// Terminated reports whether the task was cancelled.
func (t *Task) Terminated() bool { return t.terminated.Load() }

// Terminate marks the task cancelled.
func (t *Task) Terminate() {
	t.terminated.Store(true)
	t.cancel()
}

// EnsureNotTerminated returns ErrTerminated once the task was cancelled.
func (t *Task) EnsureNotTerminated() error {
	if t.terminated.Load() {
		return ErrTerminated
	}
	return nil
}

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) finish() {
	close(t.done)
	t.cancel()
}

// Observer is told about task lifecycles.
type Observer interface {
	TaskStarted(name string)
	TaskFinished(name string, terminated bool)
}

// Registry holds the tasks of one session.
type Registry struct {
	mu       sync.Mutex
	tasks    map[*Task]struct{}
	closed   bool
	observer Observer
}

// NewRegistry creates an empty registry. observer may be nil.
func NewRegistry(observer Observer) *Registry {
	return &Registry{tasks: make(map[*Task]struct{}), observer: observer}
}

// Start registers t. A task started after TerminateAll is terminated
// right away.
func (r *Registry) Start(t *Task) {
	r.mu.Lock()
	r.tasks[t] = struct{}{}
	closed := r.closed
	r.mu.Unlock()
	if closed {
		t.Terminate()
	}
	if r.observer != nil {
		r.observer.TaskStarted(t.name)
	}
}

// Finish signals completion of t and removes it. Finishing a task twice is
// a caller bug and panics on the closed channel.
func (r *Registry) Finish(t *Task) {
	t.finish()
	r.mu.Lock()
	delete(r.tasks, t)
	r.mu.Unlock()
	if r.observer != nil {
		r.observer.TaskFinished(t.name, t.Terminated())
	}
}

// Len returns the number of running tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// TerminateAll cancels every registered task and every task started
// afterwards. The returned channel is closed once the tasks registered at
// the time of the call have finished.
func (r *Registry) TerminateAll() <-chan struct{} {
	r.mu.Lock()
	r.closed = true
	pending := make([]*Task, 0, len(r.tasks))
	for t := range r.tasks {
		pending = append(pending, t)
	}
	r.mu.Unlock()

	for _, t := range pending {
		t.Terminate()
	}
	all := make(chan struct{})
	go func() {
		for _, t := range pending {
			<-t.done
		}
		close(all)
	}()
	return all
}

// Run registers a task named name, runs fn with it and finishes it.
func (r *Registry) Run(parent context.Context, name string, fn func(*Task) error) error {
	t := New(parent, name)
	r.Start(t)
	defer r.Finish(t)
	return fn(t)
}
