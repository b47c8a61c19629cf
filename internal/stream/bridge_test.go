package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machichima/obstore/internal/store/memory"
	"github.com/machichima/obstore/internal/testutil"
)

// End-to-end pass over one backend: upload through the writer in uneven
// slices, read back through the seekable reader, then observe the object in
// the list stream.
func TestWriteReadListScenario(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	payload := testutil.Payload(5<<20 + 137)

	w := NewWriter(st, "scenario/blob", WriterOptions{BufferSize: 1 << 20, MaxConcurrency: 3})
	for off := 0; off < len(payload); {
		end := off + 300_000
		if end > len(payload) {
			end = len(payload)
		}
		_, err := w.Write(ctx, payload[off:end])
		require.NoError(t, err)
		off = end
	}
	require.NoError(t, w.Close(ctx))

	r, err := Open(ctx, st, "scenario/blob", ReaderOptions{Capacity: 1 << 18})
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, int64(len(payload)), r.Meta().Size)

	got, err := r.Read(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Tail read after an end-relative seek.
	_, err = r.Seek(-137, 2)
	require.NoError(t, err)
	tail, err := r.Read(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, payload[len(payload)-137:], tail)

	objs, err := NewList(st, "scenario/", ListOptions{}).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "scenario/blob", objs[0].Path)
	assert.Equal(t, int64(len(payload)), objs[0].Size)
}
