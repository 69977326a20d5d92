package mqttrt

import (
	"context"
	"time"

	"github.com/skylinemq/mqttrt/internal/taskpool"
)

// defaultTaskPool adapts internal/taskpool.Pool to the TaskPool contract.
type defaultTaskPool struct {
	pool *taskpool.Pool
}

// newDefaultTaskPool starts a pool with a single worker goroutine; a
// Connection's own work is already serialized by refsMu, so one worker is
// enough to make progress without adding concurrency the design doesn't need.
func newDefaultTaskPool() *defaultTaskPool {
	return &defaultTaskPool{pool: taskpool.New(1)}
}

func (d *defaultTaskPool) Schedule(delay time.Duration, job Job) JobHandle {
	if delay <= 0 {
		d.pool.Submit(func(ctx context.Context) { job(ctx) })
		return nil
	}
	handle, _ := d.pool.SubmitAfter(delay, func(ctx context.Context) { job(ctx) })
	return jobHandleAdapter{handle}
}

func (d *defaultTaskPool) Close() {
	d.pool.Close()
}

type jobHandleAdapter struct {
	handle *taskpool.Handle
}

func (h jobHandleAdapter) TryCancel() bool {
	return h.handle.Cancel()
}
