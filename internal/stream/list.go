package stream

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/machichima/obstore/internal/exec"
	"github.com/machichima/obstore/internal/metrics"
	"github.com/machichima/obstore/internal/store"
)

// DefaultChunkSize is the number of objects per list chunk.
const DefaultChunkSize = 50

// ListOptions configure NewList.
type ListOptions struct {
	// ChunkSize is the number of objects returned per Next call. Zero uses
	// DefaultChunkSize.
	ChunkSize int
}

// ListStream is a lazy, fused sequence of object chunks under a prefix.
// Pages are fetched on demand; nothing is requested before the first Next.
// After exhaustion every further Next returns io.EOF, including after a
// mid-stream error. The stream is not restartable.
type ListStream struct {
	st     store.Store
	prefix string
	chunk  int

	mu      sync.Mutex
	token   string
	pending []store.ObjectMeta
	done    bool
}

// NewList builds a list stream over everything under prefix.
func NewList(st store.Store, prefix string, opts ListOptions) *ListStream {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &ListStream{st: st, prefix: prefix, chunk: chunk}
}

// Next returns the next chunk of at most ChunkSize objects in arrival
// order, or io.EOF once the listing is exhausted.
func (l *ListStream) Next(ctx context.Context) ([]store.ObjectMeta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for !l.done && len(l.pending) < l.chunk {
		start := time.Now()
		page, err := l.st.List(ctx, l.prefix, l.token, l.chunk)
		metrics.ObserveOperation(l.st.Name(), "list", start, err)
		if err != nil {
			// The stream fuses on error as well.
			l.done = true
			l.pending = nil
			return nil, err
		}
		l.pending = append(l.pending, page.Objects...)
		l.token = page.NextToken
		if page.NextToken == "" {
			l.done = true
		}
	}

	if len(l.pending) == 0 {
		return nil, io.EOF
	}

	n := l.chunk
	if n > len(l.pending) {
		n = len(l.pending)
	}
	out := l.pending[:n]
	l.pending = l.pending[n:]
	return out, nil
}

// Collect drains the remainder of the stream into one slice, preserving
// arrival order.
func (l *ListStream) Collect(ctx context.Context) ([]store.ObjectMeta, error) {
	var all []store.ObjectMeta
	for {
		chunk, err := l.Next(ctx)
		if err == io.EOF {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		all = append(all, chunk...)
	}
}

// NextAsync is Next through the shared execution runtime.
func (l *ListStream) NextAsync(ctx context.Context) *exec.Future[[]store.ObjectMeta] {
	return exec.Submit(ctx, func(ctx context.Context) ([]store.ObjectMeta, error) {
		return l.Next(ctx)
	})
}

// CollectAsync is Collect through the shared execution runtime.
func (l *ListStream) CollectAsync(ctx context.Context) *exec.Future[[]store.ObjectMeta] {
	return exec.Submit(ctx, func(ctx context.Context) ([]store.ObjectMeta, error) {
		return l.Collect(ctx)
	})
}
