package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machichima/obstore/internal/store"
	"github.com/machichima/obstore/pkg/obserrors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	res, err := s.Put(ctx, "dir/file.txt", []byte("content"), store.PutOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ETag)

	got, err := s.Get(ctx, "dir/file.txt", store.GetOptions{})
	require.NoError(t, err)
	defer got.Body.Close()

	data, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
	assert.Equal(t, int64(7), got.Meta.Size)
}

func TestPutIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Put(ctx, "k", []byte("v"), store.PutOptions{})
	require.NoError(t, err)

	// No temp files remain next to the object.
	entries, err := os.ReadDir(s.root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestGetRangeAndRangedGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Put(ctx, "k", []byte("0123456789"), store.PutOptions{})
	require.NoError(t, err)

	data, err := s.GetRange(ctx, "k", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(data))

	got, err := s.Get(ctx, "k", store.GetOptions{Offset: 5, Length: -1})
	require.NoError(t, err)
	defer got.Body.Close()
	data, err = io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, "56789", string(data))
}

func TestPutCreateMode(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Put(ctx, "k", []byte("v1"), store.PutOptions{Mode: store.Create})
	require.NoError(t, err)

	_, err = s.Put(ctx, "k", []byte("v2"), store.PutOptions{Mode: store.Create})
	assert.True(t, obserrors.IsKind(err, obserrors.AlreadyExists))
}

func TestMultipartRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	id, err := s.CreateMultipart(ctx, "big.bin", store.PutOptions{})
	require.NoError(t, err)

	p1, err := s.UploadPart(ctx, "big.bin", id, 1, []byte("aaa"))
	require.NoError(t, err)
	p2, err := s.UploadPart(ctx, "big.bin", id, 2, []byte("bbb"))
	require.NoError(t, err)

	_, err = s.CompleteMultipart(ctx, "big.bin", id, []store.Part{p1, p2})
	require.NoError(t, err)

	data, err := s.GetRange(ctx, "big.bin", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "aaabbb", string(data))

	// Upload staging is cleaned up.
	_, err = os.Stat(filepath.Join(s.root, uploadsDir, id))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadTargetsArePathBound(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	id, err := s.CreateMultipart(ctx, "a", store.PutOptions{})
	require.NoError(t, err)

	_, err = s.UploadPart(ctx, "b", id, 1, []byte("x"))
	assert.True(t, obserrors.IsKind(err, obserrors.NotFound))
}

func TestAbortMultipartIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	id, err := s.CreateMultipart(ctx, "k", store.PutOptions{})
	require.NoError(t, err)
	_, err = s.UploadPart(ctx, "k", id, 1, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, s.AbortMultipart(ctx, "k", id))
	require.NoError(t, s.AbortMultipart(ctx, "k", id))
}

func TestDeleteCleansEmptyDirs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Put(ctx, "a/b/c.txt", []byte("v"), store.PutOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "a/b/c.txt"))

	_, err = os.Stat(filepath.Join(s.root, "a"))
	assert.True(t, os.IsNotExist(err))

	err = s.Delete(ctx, "a/b/c.txt")
	assert.True(t, obserrors.IsKind(err, obserrors.NotFound))
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Put(ctx, "old/name", []byte("v"), store.PutOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Rename(ctx, "old/name", "new/name"))

	_, err = s.Head(ctx, "old/name")
	assert.True(t, obserrors.IsKind(err, obserrors.NotFound))
	meta, err := s.Head(ctx, "new/name")
	require.NoError(t, err)
	assert.Equal(t, int64(1), meta.Size)
}

func TestListPaginationSkipsUploads(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, k := range []string{"x/1", "x/2", "x/3"} {
		_, err := s.Put(ctx, k, []byte(k), store.PutOptions{})
		require.NoError(t, err)
	}
	// An in-progress upload must not surface in listings.
	_, err := s.CreateMultipart(ctx, "x/partial", store.PutOptions{})
	require.NoError(t, err)

	page, err := s.List(ctx, "x/", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Objects, 2)
	require.NotEmpty(t, page.NextToken)

	page, err = s.List(ctx, "x/", page.NextToken, 2)
	require.NoError(t, err)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "x/3", page.Objects[0].Path)
	assert.Empty(t, page.NextToken)
}

func TestListWithDelimiter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, k := range []string{"p/d1/a", "p/d1/b", "p/d2/a", "p/top"} {
		_, err := s.Put(ctx, k, []byte("v"), store.PutOptions{})
		require.NoError(t, err)
	}

	res, err := s.ListWithDelimiter(ctx, "p/")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/d1/", "p/d2/"}, res.CommonPrefixes)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "p/top", res.Objects[0].Path)
}

func TestSignURLNotSupported(t *testing.T) {
	s := newStore(t)
	_, err := s.SignURL(context.Background(), "GET", "k", 0)
	assert.True(t, obserrors.IsKind(err, obserrors.NotSupported))
}
