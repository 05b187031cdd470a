package service

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/panics"
)

// Task is a handle to work running in its own goroutine. A panic inside the
// work is recovered and reported as the task error.
type Task struct {
	done chan struct{}
	err  error
}

// startTask runs fn in a new goroutine
func startTask(fn func() error) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)

		var pc panics.Catcher
		pc.Try(func() {
			t.err = fn()
		})
		if r := pc.Recovered(); r != nil {
			t.err = &PanicError{Value: r.Value, Stack: r.Stack}
		}
	}()
	return t
}

// PanicError is the error of a task whose work panicked
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Wait blocks until the task finishes or ctx is done
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
