// Package stream implements the file-like bridges over a store: a seekable
// buffered reader, a buffered concurrent multipart writer, and a fused
// chunked list stream. Every bridge offers the same behavior through a
// blocking call and a future-returning variant backed by the shared
// execution runtime.
package stream

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/machichima/obstore/internal/exec"
	"github.com/machichima/obstore/internal/metrics"
	"github.com/machichima/obstore/internal/store"
	"github.com/machichima/obstore/pkg/obserrors"
)

// DefaultReadCapacity is the minimum number of bytes fetched per round trip.
const DefaultReadCapacity = 1 << 20

// ReaderOptions configure Open.
type ReaderOptions struct {
	// Capacity is the read-ahead buffer size. Reads smaller than Capacity
	// still fetch Capacity bytes to amortize round trips. Zero uses
	// DefaultReadCapacity.
	Capacity int64
}

// Reader is a seekable, buffered, file-like view of one object. The object
// is pinned at Open time: metadata is fetched up front and all range reads
// are served against that snapshot. Methods are safe for concurrent use;
// the cursor is shared between the blocking and future-returning variants.
type Reader struct {
	st       store.Store
	path     string
	meta     store.ObjectMeta
	capacity int64

	mu       sync.Mutex
	pos      int64
	buf      []byte
	bufStart int64
	closed   bool
}

// Open fetches the object's metadata and returns a reader positioned at
// offset zero. A missing object fails here, not on first read.
func Open(ctx context.Context, st store.Store, path string, opts ReaderOptions) (*Reader, error) {
	start := time.Now()
	meta, err := st.Head(ctx, path)
	metrics.ObserveOperation(st.Name(), "open", start, err)
	if err != nil {
		return nil, err
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultReadCapacity
	}
	return &Reader{st: st, path: path, meta: meta, capacity: capacity}, nil
}

// Meta returns the metadata snapshot taken at Open.
func (r *Reader) Meta() store.ObjectMeta { return r.meta }

func (r *Reader) failIfClosed() error {
	if r.closed {
		return obserrors.New(obserrors.InvalidState, r.st.Name(), r.path, "reader is closed")
	}
	return nil
}

// available returns the buffered bytes at the cursor, fetching a fresh
// buffer when the cursor is outside the buffered window. A nil slice with a
// nil error means end of data. Caller holds r.mu.
func (r *Reader) available(ctx context.Context, want int64) ([]byte, error) {
	if r.pos >= r.meta.Size {
		return nil, nil
	}
	bufEnd := r.bufStart + int64(len(r.buf))
	if r.pos >= r.bufStart && r.pos < bufEnd {
		return r.buf[r.pos-r.bufStart:], nil
	}

	fetch := r.capacity
	if want > fetch {
		fetch = want
	}
	if remaining := r.meta.Size - r.pos; fetch > remaining {
		fetch = remaining
	}

	start := time.Now()
	data, err := r.st.GetRange(ctx, r.path, r.pos, fetch)
	metrics.ObserveOperation(r.st.Name(), "read", start, err)
	if err != nil {
		return nil, err
	}
	metrics.BytesRead.WithLabelValues(r.st.Name()).Add(float64(len(data)))
	r.buf = data
	r.bufStart = r.pos
	return r.buf, nil
}

// Read returns up to n bytes from the cursor, advancing it. n < 0 reads
// through the end of the object. A read at the end returns an empty slice;
// a read from a cursor beyond the end is an error, matching what a ranged
// fetch at that offset would report.
func (r *Reader) Read(ctx context.Context, n int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failIfClosed(); err != nil {
		return nil, err
	}
	if r.pos > r.meta.Size {
		return nil, obserrors.New(obserrors.Generic, r.st.Name(), r.path,
			"read offset %d beyond object size %d", r.pos, r.meta.Size)
	}

	want := int64(n)
	if n < 0 {
		want = r.meta.Size - r.pos
	}
	if remaining := r.meta.Size - r.pos; want > remaining {
		want = remaining
	}
	if want <= 0 {
		return []byte{}, nil
	}

	out := make([]byte, 0, want)
	for int64(len(out)) < want {
		chunk, err := r.available(ctx, want-int64(len(out)))
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			break
		}
		take := want - int64(len(out))
		if take > int64(len(chunk)) {
			take = int64(len(chunk))
		}
		out = append(out, chunk[:take]...)
		r.pos += take
	}
	return out, nil
}

// ReadLine returns bytes up to and including the next newline. The final
// line of an object without a trailing newline is returned as-is; reads at
// the end return an empty slice.
func (r *Reader) ReadLine(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failIfClosed(); err != nil {
		return nil, err
	}

	var out []byte
	for {
		chunk, err := r.available(ctx, 1)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			if out == nil {
				out = []byte{}
			}
			return out, nil
		}
		if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
			out = append(out, chunk[:i+1]...)
			r.pos += int64(i + 1)
			return out, nil
		}
		out = append(out, chunk...)
		r.pos += int64(len(chunk))
	}
}

// ReadLines returns the remaining lines. With a positive hint, reading
// stops after the line that carries the cumulative byte count past hint.
func (r *Reader) ReadLines(ctx context.Context, hint int64) ([][]byte, error) {
	var lines [][]byte
	var total int64
	for {
		line, err := r.ReadLine(ctx)
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			return lines, nil
		}
		lines = append(lines, line)
		total += int64(len(line))
		if hint > 0 && total >= hint {
			return lines, nil
		}
	}
}

// Seek moves the cursor per the whence convention of io.Seeker and returns
// the new offset. A negative resulting offset fails with InvalidSeek and
// leaves the cursor unchanged; seeking past the end is allowed.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failIfClosed(); err != nil {
		return 0, err
	}

	var next int64
	switch whence {
	case 0:
		next = offset
	case 1:
		next = r.pos + offset
	case 2:
		next = r.meta.Size + offset
	default:
		return 0, obserrors.New(obserrors.InvalidSeek, r.st.Name(), r.path, "invalid whence %d", whence)
	}
	if next < 0 {
		return 0, obserrors.New(obserrors.InvalidSeek, r.st.Name(), r.path,
			"seek to negative offset %d", next)
	}
	r.pos = next
	return next, nil
}

// Tell returns the current cursor offset.
func (r *Reader) Tell() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failIfClosed(); err != nil {
		return 0, err
	}
	return r.pos, nil
}

// Closed reports whether the reader has been closed.
func (r *Reader) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close releases the buffer. Closing twice is a no-op.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.buf = nil
	return nil
}

// ReadAsync is Read through the shared execution runtime.
func (r *Reader) ReadAsync(ctx context.Context, n int) *exec.Future[[]byte] {
	return exec.Submit(ctx, func(ctx context.Context) ([]byte, error) {
		return r.Read(ctx, n)
	})
}

// ReadLineAsync is ReadLine through the shared execution runtime.
func (r *Reader) ReadLineAsync(ctx context.Context) *exec.Future[[]byte] {
	return exec.Submit(ctx, func(ctx context.Context) ([]byte, error) {
		return r.ReadLine(ctx)
	})
}

// ReadLinesAsync is ReadLines through the shared execution runtime.
func (r *Reader) ReadLinesAsync(ctx context.Context, hint int64) *exec.Future[[][]byte] {
	return exec.Submit(ctx, func(ctx context.Context) ([][]byte, error) {
		return r.ReadLines(ctx, hint)
	})
}
