package retry

import (
	"context"
	"testing"
	"time"

	"github.com/machichima/obstore/internal/config"
	"github.com/machichima/obstore/pkg/obserrors"
)

func fastPolicy() config.RetryPolicy {
	return config.RetryPolicy{
		MaxRetries:   3,
		RetryTimeout: time.Second,
		InitBackoff:  time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
		BackoffBase:  2,
	}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), "get", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &obserrors.Error{Kind: obserrors.Generic, Retryable: true}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := obserrors.New(obserrors.NotFound, "memory", "k", "gone")
	err := Do(context.Background(), fastPolicy(), "get", func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !obserrors.IsKind(err, obserrors.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent errors must not retry, got %d calls", calls)
	}
}

func TestDoExhaustsAttemptBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), "put", func(ctx context.Context) error {
		calls++
		return obserrors.New(obserrors.Timeout, "s3", "k", "slow")
	})
	if !obserrors.IsKind(err, obserrors.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected initial call + 3 retries, got %d", calls)
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := fastPolicy()
	p.InitBackoff = time.Minute
	p.MaxBackoff = time.Minute

	err := Do(ctx, p, "get", func(ctx context.Context) error {
		return obserrors.New(obserrors.Timeout, "s3", "k", "slow")
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffCapped(t *testing.T) {
	b := NewBackoff(config.RetryPolicy{
		InitBackoff: 10 * time.Millisecond,
		MaxBackoff:  40 * time.Millisecond,
		BackoffBase: 2,
	})
	for i := 0; i < 20; i++ {
		if d := b.Next(); d > 40*time.Millisecond {
			t.Fatalf("interval %v exceeds cap at attempt %d", d, i)
		}
	}
}
