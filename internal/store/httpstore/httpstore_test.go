package httpstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machichima/obstore/internal/config"
	"github.com/machichima/obstore/internal/store"
	"github.com/machichima/obstore/pkg/obserrors"
)

// webdavServer is a minimal object server speaking the verbs the backend
// issues, including COPY and MOVE.
type webdavServer struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *webdavServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		if r.Header.Get("If-None-Match") == "*" {
			if _, exists := s.objects[key]; exists {
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
		}
		body, _ := io.ReadAll(r.Body)
		s.objects[key] = body
		w.Header().Set("ETag", fmt.Sprintf("%q", len(body)))
		w.WriteHeader(http.StatusCreated)
	case http.MethodHead, http.MethodGet:
		data, ok := s.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", fmt.Sprintf("%q", len(data)))
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
		if rng := r.Header.Get("Range"); rng != "" && r.Method == http.MethodGet {
			var start, end int
			if n, _ := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); n == 2 {
				w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
				w.Header().Set("Content-Length", fmt.Sprintf("%d", end-start+1))
				w.WriteHeader(http.StatusPartialContent)
				_, _ = w.Write(data[start : end+1])
				return
			}
			if n, _ := fmt.Sscanf(rng, "bytes=%d-", &start); n == 1 {
				w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(data)-1, len(data)))
				w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)-start))
				w.WriteHeader(http.StatusPartialContent)
				_, _ = w.Write(data[start:])
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case http.MethodDelete:
		if _, ok := s.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(s.objects, key)
		w.WriteHeader(http.StatusNoContent)
	case "COPY", "MOVE":
		data, ok := s.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		dst := r.Header.Get("Destination")
		dstKey := dst[strings.LastIndexByte(dst, '/')+1:]
		if r.Header.Get("Overwrite") == "F" {
			if _, exists := s.objects[dstKey]; exists {
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
		}
		s.objects[dstKey] = append([]byte(nil), data...)
		if r.Method == "MOVE" {
			delete(s.objects, key)
		}
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func testStore(t *testing.T) *Store {
	t.Helper()
	srv := httptest.NewServer(&webdavServer{objects: make(map[string][]byte)})
	t.Cleanup(srv.Close)

	opts := config.DefaultClientOptions()
	opts.AllowHTTP = true
	st, err := New(srv.URL, opts)
	require.NoError(t, err)
	return st
}

func TestNewRejectsPlainHTTPByDefault(t *testing.T) {
	_, err := New("http://example.com", config.DefaultClientOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.ClientAllowHTTP)
}

func TestPutGetHeadDelete(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	res, err := st.Put(ctx, "dir/file.bin", []byte("payload"), store.PutOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ETag)

	meta, err := st.Head(ctx, "dir/file.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(7), meta.Size)

	got, err := st.GetRange(ctx, "dir/file.bin", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	got, err = st.GetRange(ctx, "dir/file.bin", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, "load", string(got))

	require.NoError(t, st.Delete(ctx, "dir/file.bin"))
	err = st.Delete(ctx, "dir/file.bin")
	assert.True(t, obserrors.IsKind(err, obserrors.NotFound))
}

func TestGetMissing(t *testing.T) {
	st := testStore(t)
	_, err := st.Get(context.Background(), "missing", store.GetOptions{})
	assert.True(t, obserrors.IsKind(err, obserrors.NotFound))
}

func TestCreateModeConflict(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	_, err := st.Put(ctx, "k", []byte("v1"), store.PutOptions{Mode: store.Create})
	require.NoError(t, err)

	_, err = st.Put(ctx, "k", []byte("v2"), store.PutOptions{Mode: store.Create})
	assert.True(t, obserrors.IsKind(err, obserrors.AlreadyExists))
}

func TestCopyAndRename(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	_, err := st.Put(ctx, "src", []byte("v"), store.PutOptions{})
	require.NoError(t, err)

	require.NoError(t, st.Copy(ctx, "src", "dst", false))
	got, err := st.GetRange(ctx, "dst", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	err = st.Copy(ctx, "src", "dst", true)
	assert.True(t, obserrors.IsKind(err, obserrors.AlreadyExists))

	require.NoError(t, st.Rename(ctx, "src", "moved"))
	_, err = st.Head(ctx, "src")
	assert.True(t, obserrors.IsKind(err, obserrors.NotFound))
	_, err = st.Head(ctx, "moved")
	assert.NoError(t, err)
}

func TestUnsupportedOperations(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	_, err := st.CreateMultipart(ctx, "k", store.PutOptions{})
	assert.True(t, obserrors.IsKind(err, obserrors.NotSupported))

	_, err = st.List(ctx, "", "", 10)
	assert.True(t, obserrors.IsKind(err, obserrors.NotSupported))

	_, err = st.ListWithDelimiter(ctx, "")
	assert.True(t, obserrors.IsKind(err, obserrors.NotSupported))

	_, err = st.SignURL(ctx, "GET", "k", 0)
	assert.True(t, obserrors.IsKind(err, obserrors.NotSupported))
}
