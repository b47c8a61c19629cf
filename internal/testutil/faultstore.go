package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/machichima/obstore/internal/store"
)

// FaultStore wraps a store with error injection and concurrency accounting
// for the upload bridge tests. All configuration methods are safe for
// concurrent use with in-flight operations.
type FaultStore struct {
	store.Store

	mu            sync.Mutex
	partErrors    map[int]error
	partDelay     time.Duration
	inflight      int
	maxInflight   int
	partsUploaded []int
	completeCalls int
	abortCalls    int
}

// NewFaultStore wraps inner with fault injection disabled.
func NewFaultStore(inner store.Store) *FaultStore {
	return &FaultStore{
		Store:      inner,
		partErrors: make(map[int]error),
	}
}

// FailPart makes the upload of the given part number fail with err.
func (f *FaultStore) FailPart(number int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partErrors[number] = err
}

// DelayParts adds a fixed delay to every part upload, widening the window
// in which concurrent uploads overlap.
func (f *FaultStore) DelayParts(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partDelay = d
}

// MaxInflight reports the highest number of simultaneously running part
// uploads observed so far.
func (f *FaultStore) MaxInflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}

// PartsUploaded returns the part numbers that completed successfully, in
// completion order.
func (f *FaultStore) PartsUploaded() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.partsUploaded...)
}

// CompleteCalls reports how many times CompleteMultipart ran.
func (f *FaultStore) CompleteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completeCalls
}

// AbortCalls reports how many times AbortMultipart ran.
func (f *FaultStore) AbortCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.abortCalls
}

// UploadPart implements store.Store.
func (f *FaultStore) UploadPart(ctx context.Context, path, uploadID string, number int, data []byte) (store.Part, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	injected := f.partErrors[number]
	delay := f.partDelay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return store.Part{}, ctx.Err()
		}
	}
	if injected != nil {
		return store.Part{}, injected
	}

	part, err := f.Store.UploadPart(ctx, path, uploadID, number, data)
	if err == nil {
		f.mu.Lock()
		f.partsUploaded = append(f.partsUploaded, number)
		f.mu.Unlock()
	}
	return part, err
}

// CompleteMultipart implements store.Store.
func (f *FaultStore) CompleteMultipart(ctx context.Context, path, uploadID string, parts []store.Part) (store.PutResult, error) {
	f.mu.Lock()
	f.completeCalls++
	f.mu.Unlock()
	return f.Store.CompleteMultipart(ctx, path, uploadID, parts)
}

// AbortMultipart implements store.Store.
func (f *FaultStore) AbortMultipart(ctx context.Context, path, uploadID string) error {
	f.mu.Lock()
	f.abortCalls++
	f.mu.Unlock()
	return f.Store.AbortMultipart(ctx, path, uploadID)
}
