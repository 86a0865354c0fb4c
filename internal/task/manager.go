// Package task manages the lifecycle of the driver's background goroutines.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-micros/micros/logger"
)

// ErrStopped is returned when a task is started on a stopped Manager.
var ErrStopped = errors.New("task manager already stopped")

// Func is run repeatedly by the Manager until it returns false or the manager is stopped.
type Func func() bool

// Manager starts, stops and waits for a group of goroutines sharing one cancellation context.
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("reader", func() bool {
//	    // ... one iteration ...
//	    return true
//	})
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex
}

// NewManager creates a Manager whose tasks are canceled together with ctx.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context canceled by Stop.
func (mgr *Manager) Context() context.Context {
	return mgr.ctx
}

// Start runs taskFunc in a loop on a new goroutine until it returns false,
// it panics or the manager is stopped.
func (mgr *Manager) Start(name string, taskFunc Func) error {
	mgr.logger.Debug("start task", "name", name)

	return mgr.spawn(name, func() {
		mgr.runTaskLoop(name, taskFunc)
	})
}

// StartConsumer runs fn for each value received from ch until ch is closed,
// fn returns false or the manager is stopped. A panic in fn is logged and the
// consumer keeps going.
func StartConsumer[T any](mgr *Manager, name string, ch <-chan T, fn func(T) bool) error {
	if ch == nil {
		return fmt.Errorf("start %s: input channel is nil", name)
	}

	mgr.logger.Debug("start consumer task", "name", name)

	return mgr.spawn(name, func() {
		for {
			select {
			case <-mgr.ctx.Done():
				return
			case v, ok := <-ch:
				if !ok {
					mgr.logger.Debug("input channel closed", "name", name)
					return
				}
				if !mgr.callWithRecover(name, func() bool { return fn(v) }) {
					return
				}
			}
		}
	})
}

// Stop signals every running task to return.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	mgr.cancel()
}

// Wait blocks until every task has returned.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()
}

// WaitTimeout waits up to d for every task to return. It reports whether they did.
func (mgr *Manager) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mgr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Count returns the number of running tasks.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) spawn(name string, body func()) error {
	// holding the read lock orders wg.Add before a concurrent Stop
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	if mgr.ctx.Err() != nil {
		return fmt.Errorf("start %s: %w", name, ErrStopped)
	}

	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.Count())
		}()

		body()
	}()

	return nil
}

func (mgr *Manager) runTaskLoop(name string, taskFunc Func) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
		}
	}()

	for {
		select {
		case <-mgr.ctx.Done():
			return
		default:
			if !taskFunc() {
				return
			}
		}
	}
}

func (mgr *Manager) callWithRecover(name string, fn func() bool) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			cont = true
		}
	}()

	return fn()
}
