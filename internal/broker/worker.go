package broker

import (
	"context"
	"sync/atomic"
	"time"
)

// worker runs one connection attempt: the blocking connect followed by the
// client's network loop. A worker is never reused.
type worker struct {
	id     uint64
	client Client
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// detached is set when the worker was abandoned after the grace period.
	detached atomic.Bool
}

func newWorker(id uint64, client Client) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		id:     id,
		client: client,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// start runs the attempt on its own goroutine. onFailure is called when
// Connect fails before the worker was asked to stop.
func (w *worker) start(host string, port int, onFailure func(error)) {
	go func() {
		defer close(w.done)
		if err := w.client.Connect(w.ctx, host, port); err != nil {
			if w.ctx.Err() == nil && !w.detached.Load() {
				onFailure(err)
			}
			return
		}
		_ = w.client.Loop(w.ctx)
	}()
}

func (w *worker) running() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// stop halts the worker: signal the loop, cancel the context, wait up to
// grace, then abort the transport and abandon the goroutine. halted reports
// whether the worker was still running; forced whether the grace period
// ran out.
func (w *worker) stop(grace time.Duration) (halted, forced bool) {
	if !w.running() {
		w.cancel()
		return false, false
	}

	w.client.StopLoop()
	w.cancel()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-w.done:
		return true, false
	case <-timer.C:
	}

	w.detached.Store(true)
	w.client.Abort()
	return true, true
}
