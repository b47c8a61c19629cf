package stream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/machichima/obstore/internal/exec"
	"github.com/machichima/obstore/internal/metrics"
	"github.com/machichima/obstore/internal/store"
	"github.com/machichima/obstore/pkg/obserrors"
)

// Writer defaults.
const (
	DefaultBufferSize     = 10 << 20
	DefaultMaxConcurrency = 12
)

// WriterOptions configure NewWriter.
type WriterOptions struct {
	// BufferSize is the part size threshold. Buffered data below it is
	// written with a single Put at Close; crossing it switches to a
	// multipart upload. Zero uses DefaultBufferSize.
	BufferSize int

	// MaxConcurrency bounds simultaneous part uploads. Zero uses
	// DefaultMaxConcurrency.
	MaxConcurrency int

	// Put carries attributes, tags and the write mode through to the
	// underlying Put or multipart create.
	Put store.PutOptions
}

// Writer is a buffered upload bridge. Writes accumulate in memory; each
// full buffer is shipped as one part by a bounded background upload, and
// Close assembles the object. A writer that saw any upload failure aborts
// the multipart upload best-effort and surfaces the first error.
//
// A writer abandoned without Close or Abort leaks any multipart upload it
// started on the remote store.
type Writer struct {
	st   store.Store
	path string
	opts WriterOptions

	// partCtx governs the background part uploads; cancelled on the first
	// failure so remaining parts stop early.
	partCtx context.Context
	cancel  context.CancelFunc
	sem     *semaphore.Weighted
	wg      sync.WaitGroup

	mu       sync.Mutex
	buf      []byte
	uploadID string
	nextPart int
	closed   bool

	resMu     sync.Mutex
	parts     []store.Part
	uploadErr error
}

// NewWriter builds a writer for path. No request is issued until the first
// buffer fills or the writer is closed.
func NewWriter(st store.Store, path string, opts WriterOptions) *Writer {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	partCtx, cancel := context.WithCancel(context.Background())
	return &Writer{
		st:      st,
		path:    path,
		opts:    opts,
		partCtx: partCtx,
		cancel:  cancel,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrency)),
	}
}

func (w *Writer) firstError() error {
	w.resMu.Lock()
	defer w.resMu.Unlock()
	return w.uploadErr
}

func (w *Writer) recordResult(part store.Part, err error) {
	w.resMu.Lock()
	defer w.resMu.Unlock()
	if err != nil {
		if w.uploadErr == nil {
			w.uploadErr = err
			w.cancel()
		}
		return
	}
	w.parts = append(w.parts, part)
}

// shipPart hands one chunk to a background upload. Slot acquisition blocks
// on the caller's context and is the writer's backpressure point. Caller
// holds w.mu.
func (w *Writer) shipPart(ctx context.Context, chunk []byte) error {
	if w.uploadID == "" {
		start := time.Now()
		id, err := w.st.CreateMultipart(ctx, w.path, w.opts.Put)
		metrics.ObserveOperation(w.st.Name(), "create_multipart", start, err)
		if err != nil {
			return err
		}
		w.uploadID = id
	}

	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	w.nextPart++
	number := w.nextPart
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)

		gauge := metrics.PartsInFlight.WithLabelValues(w.st.Name())
		gauge.Inc()
		defer gauge.Dec()

		start := time.Now()
		part, err := w.st.UploadPart(w.partCtx, w.path, w.uploadID, number, chunk)
		metrics.ObserveOperation(w.st.Name(), "upload_part", start, err)
		w.recordResult(part, err)
	}()
	return nil
}

// Write appends p to the buffer, shipping every full buffer as a part.
func (w *Writer) Write(ctx context.Context, p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, obserrors.New(obserrors.InvalidState, w.st.Name(), w.path, "writer is closed")
	}
	if err := w.firstError(); err != nil {
		return 0, err
	}

	w.buf = append(w.buf, p...)
	metrics.BytesWritten.WithLabelValues(w.st.Name()).Add(float64(len(p)))

	for len(w.buf) >= w.opts.BufferSize {
		chunk := w.buf[:w.opts.BufferSize]
		rest := w.buf[w.opts.BufferSize:]
		w.buf = append([]byte(nil), rest...)
		if err := w.shipPart(ctx, chunk); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush ships the buffered remainder as a partial part, starting the
// multipart upload if none exists yet.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return obserrors.New(obserrors.InvalidState, w.st.Name(), w.path, "writer is closed")
	}
	if err := w.firstError(); err != nil {
		return err
	}
	if len(w.buf) == 0 {
		return nil
	}
	chunk := w.buf
	w.buf = nil
	return w.shipPart(ctx, chunk)
}

// abortBestEffort discards the multipart upload. A fresh context is used so
// the abort still runs when the caller's context is already cancelled.
func (w *Writer) abortBestEffort() {
	if w.uploadID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.st.AbortMultipart(ctx, w.path, w.uploadID); err != nil {
		log.Warn().
			Str("store", w.st.Name()).
			Str("path", w.path).
			Str("upload_id", w.uploadID).
			Err(err).
			Msg("failed to abort multipart upload")
	}
	w.uploadID = ""
}

// Close finalizes the object. When no part was ever shipped, the buffered
// bytes go out as one Put; otherwise the remainder ships as the final part
// and the upload completes with parts sorted by index. Any failure aborts
// the upload best-effort and the first error is returned. Closing an
// already closed writer is a no-op.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.cancel()

	if w.uploadID == "" {
		start := time.Now()
		_, err := w.st.Put(ctx, w.path, w.buf, w.opts.Put)
		metrics.ObserveOperation(w.st.Name(), "put", start, err)
		w.buf = nil
		return err
	}

	var shipErr error
	if len(w.buf) > 0 {
		chunk := w.buf
		w.buf = nil
		shipErr = w.shipPart(ctx, chunk)
	}
	w.wg.Wait()

	err := shipErr
	if err == nil {
		err = w.firstError()
	}
	if err != nil {
		w.abortBestEffort()
		return err
	}

	w.resMu.Lock()
	parts := append([]store.Part(nil), w.parts...)
	w.resMu.Unlock()
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })

	start := time.Now()
	_, err = w.st.CompleteMultipart(ctx, w.path, w.uploadID, parts)
	metrics.ObserveOperation(w.st.Name(), "complete_multipart", start, err)
	if err != nil {
		w.abortBestEffort()
		return err
	}
	w.uploadID = ""
	return nil
}

// Abort cancels in-flight parts, discards the multipart upload and closes
// the writer. Aborting a closed writer is a no-op.
func (w *Writer) Abort(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.cancel()
	w.wg.Wait()
	w.buf = nil

	if w.uploadID == "" {
		return nil
	}
	err := w.st.AbortMultipart(ctx, w.path, w.uploadID)
	w.uploadID = ""
	return err
}

// Closed reports whether the writer has been closed or aborted.
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// WriteAsync is Write through the shared execution runtime.
func (w *Writer) WriteAsync(ctx context.Context, p []byte) *exec.Future[int] {
	return exec.Submit(ctx, func(ctx context.Context) (int, error) {
		return w.Write(ctx, p)
	})
}

// FlushAsync is Flush through the shared execution runtime.
func (w *Writer) FlushAsync(ctx context.Context) *exec.Future[struct{}] {
	return exec.Submit(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.Flush(ctx)
	})
}

// CloseAsync is Close through the shared execution runtime.
func (w *Writer) CloseAsync(ctx context.Context) *exec.Future[struct{}] {
	return exec.Submit(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.Close(ctx)
	})
}
