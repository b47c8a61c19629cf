package stream

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machichima/obstore/internal/store"
	"github.com/machichima/obstore/internal/store/memory"
	"github.com/machichima/obstore/pkg/obserrors"
)

func seedKeys(t *testing.T, st store.Store, prefix string, n int) []string {
	t.Helper()
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("%s%03d", prefix, i)
		_, err := st.Put(context.Background(), k, []byte("v"), store.PutOptions{})
		require.NoError(t, err)
		keys = append(keys, k)
	}
	return keys
}

func TestListStreamChunks(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	keys := seedKeys(t, st, "data/", 12)

	l := NewList(st, "data/", ListOptions{ChunkSize: 5})

	var got []string
	chunks := 0
	for {
		chunk, err := l.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.LessOrEqual(t, len(chunk), 5)
		chunks++
		for _, m := range chunk {
			got = append(got, m.Path)
		}
	}

	assert.Equal(t, keys, got)
	assert.Equal(t, 3, chunks)
}

func TestListStreamFusedAfterExhaustion(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	seedKeys(t, st, "p/", 3)

	l := NewList(st, "p/", ListOptions{ChunkSize: 10})
	_, err := l.Next(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := l.Next(ctx)
		assert.Equal(t, io.EOF, err)
	}
}

func TestListStreamEmptyPrefix(t *testing.T) {
	l := NewList(memory.New(), "nothing/", ListOptions{})
	_, err := l.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestListStreamCollect(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	keys := seedKeys(t, st, "c/", 7)

	l := NewList(st, "c/", ListOptions{ChunkSize: 3})

	// Pull one chunk first; Collect drains only the remainder.
	first, err := l.Next(ctx)
	require.NoError(t, err)
	require.Len(t, first, 3)

	rest, err := l.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, rest, 4)
	assert.Equal(t, keys[3], rest[0].Path)

	// A drained stream collects to nothing.
	again, err := l.Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestListStreamErrorFuses(t *testing.T) {
	ctx := context.Background()
	l := NewList(failingLister{}, "p/", ListOptions{})

	_, err := l.Next(ctx)
	require.Error(t, err)
	assert.True(t, obserrors.IsKind(err, obserrors.Timeout))

	_, err = l.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestListStreamAsync(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	seedKeys(t, st, "a/", 4)

	l := NewList(st, "a/", ListOptions{ChunkSize: 2})
	chunk, err := l.NextAsync(ctx).Await(ctx)
	require.NoError(t, err)
	assert.Len(t, chunk, 2)

	rest, err := l.CollectAsync(ctx).Await(ctx)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

// failingLister fails every List call.
type failingLister struct {
	store.Store
}

func (failingLister) Name() string { return "failing" }

func (failingLister) List(ctx context.Context, prefix, token string, pageSize int) (store.ListPage, error) {
	return store.ListPage{}, obserrors.New(obserrors.Timeout, "failing", prefix, "deadline")
}
