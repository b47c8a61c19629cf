package exec

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunReturnsValue(t *testing.T) {
	got, err := Run(context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestSubmitAndAwait(t *testing.T) {
	f := Submit(context.Background(), func(ctx context.Context) (string, error) {
		return "done", nil
	})

	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("future never completed")
	}

	got, err := f.Await(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "done" {
		t.Errorf("got %q", got)
	}
}

func TestAwaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	f := Submit(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Await(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The operation itself is unaffected by the abandoned wait.
	close(release)
	got, err := f.Await(context.Background())
	if err != nil || got != 1 {
		t.Errorf("got %d, %v", got, err)
	}
}

func TestRuntimeBoundsConcurrency(t *testing.T) {
	rt := NewRuntime(2)

	var inflight, peak atomic.Int32
	futures := make([]*Future[struct{}], 8)
	for i := range futures {
		futures[i] = SubmitOn(context.Background(), rt, func(ctx context.Context) (struct{}, error) {
			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inflight.Add(-1)
			return struct{}{}, nil
		})
	}
	for _, f := range futures {
		if _, err := f.Await(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if p := peak.Load(); p > 2 {
		t.Errorf("observed %d concurrent tasks, bound is 2", p)
	}
}

func TestErrorPropagates(t *testing.T) {
	sentinel := errors.New("boom")
	_, err := Run(context.Background(), func(ctx context.Context) (int, error) {
		return 0, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
}
