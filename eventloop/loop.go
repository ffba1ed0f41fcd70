// Package eventloop provides the single goroutine that owns a renderer.
// Every renderer call and every renderer callback runs on it, one at a
// time, in submission order.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/grafana/xk6-webview/log"
	"github.com/grafana/xk6-webview/queue"
)

// ErrLoopClosed is returned when work is submitted to a closed loop.
var ErrLoopClosed = errors.New("event loop closed")

// Loop runs submitted tasks sequentially on a dedicated goroutine.
type Loop struct {
	ctx    context.Context
	cancel context.CancelFunc

	tasks *queue.Queue[func()]
	done  chan struct{}

	logger *log.Logger
}

// New starts a loop. It stops when ctx is done or Close is called.
func New(ctx context.Context, logger *log.Logger) *Loop {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{
		ctx:    ctx,
		cancel: cancel,
		tasks:  queue.New[func()](),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()

	return l
}

func (l *Loop) run() {
	defer close(l.done)
	defer l.tasks.Close()

	for {
		fn, err := l.tasks.Pop(l.ctx)
		if err != nil {
			l.logger.Debugf("Loop:run", "returning: %v", err)
			return
		}
		l.exec(fn)
	}
}

// exec runs fn and keeps the loop alive if it panics.
func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorf("Loop:exec", "task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
}

// Dispatch submits fn without waiting for it. It returns false if the loop
// is closed and fn will never run.
func (l *Loop) Dispatch(fn func()) bool {
	if l.ctx.Err() != nil {
		return false
	}

	return l.tasks.Push(fn)
}

// Call submits fn and waits until it has run. Calling it from a task
// running on the same loop deadlocks.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !l.Dispatch(func() {
		defer close(ran)
		fn()
	}) {
		return ErrLoopClosed
	}

	select {
	case <-ran:
		return nil
	case <-l.done:
		// the task may have been abandoned in the queue
		select {
		case <-ran:
			return nil
		default:
		}
		return ErrLoopClosed
	case <-ctx.Done():
		return fmt.Errorf("waiting for event loop task: %w", ctx.Err())
	}
}

// Close stops the loop and waits for the running task to return. Tasks
// still queued are abandoned.
func (l *Loop) Close() {
	l.cancel()
	<-l.done
}

// Done returns a channel that is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
