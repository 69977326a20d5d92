package taskpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRuns(t *testing.T) {
	p := New(2)
	defer p.Close()

	var done atomic.Bool
	ch := make(chan struct{})
	p.Submit(func(ctx context.Context) {
		done.Store(true)
		close(ch)
	})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
	if !done.Load() {
		t.Fatal("expected job to have run")
	}
}

func TestSubmitAfterCancel(t *testing.T) {
	p := New(1)
	defer p.Close()

	var ran atomic.Bool
	handle, ok := p.SubmitAfter(50*time.Millisecond, func(ctx context.Context) {
		ran.Store(true)
	})
	if !ok {
		t.Fatal("expected SubmitAfter to succeed")
	}
	if !handle.Cancel() {
		t.Fatal("expected Cancel to succeed before the timer fires")
	}

	time.Sleep(100 * time.Millisecond)
	if ran.Load() {
		t.Fatal("expected cancelled job not to run")
	}
}

func TestCloseRejectsNewJobs(t *testing.T) {
	p := New(1)
	p.Close()

	if p.Submit(func(ctx context.Context) {}) {
		t.Fatal("expected Submit to fail after Close")
	}
	if _, ok := p.SubmitAfter(time.Millisecond, func(ctx context.Context) {}); ok {
		t.Fatal("expected SubmitAfter to fail after Close")
	}
}
