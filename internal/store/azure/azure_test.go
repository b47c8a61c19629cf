package azure

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machichima/obstore/internal/store"
	"github.com/machichima/obstore/pkg/obserrors"
)

// blobServer is a minimal Blob-service emulator covering the request
// shapes the backend issues.
type blobServer struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	blocks map[string][]byte
	sas    string
}

func newBlobServer() *blobServer {
	return &blobServer{
		blobs:  make(map[string][]byte),
		blocks: make(map[string][]byte),
	}
}

func (b *blobServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sas != "" && r.URL.Query().Get("sig") != b.sas {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	// Container-level listing.
	if r.URL.Query().Get("comp") == "list" {
		b.serveList(w, r)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/container/")
	switch {
	case r.Method == http.MethodPut && r.URL.Query().Get("comp") == "block":
		body, _ := io.ReadAll(r.Body)
		b.blocks[r.URL.Query().Get("blockid")] = body
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPut && r.URL.Query().Get("comp") == "blocklist":
		var list struct {
			Latest []string `xml:"Latest"`
		}
		body, _ := io.ReadAll(r.Body)
		if err := xml.Unmarshal(body, &list); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var assembled []byte
		for _, id := range list.Latest {
			assembled = append(assembled, b.blocks[id]...)
		}
		b.blobs[key] = assembled
		w.Header().Set("ETag", fmt.Sprintf("%q", len(assembled)))
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPut:
		if r.Header.Get("If-None-Match") == "*" {
			if _, exists := b.blobs[key]; exists {
				w.WriteHeader(http.StatusConflict)
				return
			}
		}
		if src := r.Header.Get("x-ms-copy-source"); src != "" {
			srcKey := src[strings.LastIndex(src, "/container/")+len("/container/"):]
			data, ok := b.blobs[srcKey]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			b.blobs[key] = append([]byte(nil), data...)
			w.WriteHeader(http.StatusAccepted)
			return
		}
		body, _ := io.ReadAll(r.Body)
		b.blobs[key] = body
		w.Header().Set("ETag", fmt.Sprintf("%q", len(body)))
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodHead || r.Method == http.MethodGet:
		data, ok := b.blobs[key]
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
	case r.Method == http.MethodDelete:
		if _, ok := b.blobs[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(b.blobs, key)
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (b *blobServer) serveList(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	keys := make([]string, 0, len(b.blobs))
	for k := range b.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?><EnumerationResults><Blobs>`)
	for _, k := range keys {
		fmt.Fprintf(&sb,
			`<Blob><Name>%s</Name><Properties><Content-Length>%d</Content-Length><Etag>"e"</Etag></Properties></Blob>`,
			k, len(b.blobs[k]))
	}
	sb.WriteString(`</Blobs><NextMarker/></EnumerationResults>`)
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(sb.String()))
}

func testStore(t *testing.T, cred Credential) (*Store, *blobServer) {
	t.Helper()
	backend := newBlobServer()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	st, err := NewWithCredential(srv.URL, "container", cred, srv.Client())
	require.NoError(t, err)
	return st, backend
}

func TestPutGetHeadDelete(t *testing.T) {
	ctx := context.Background()
	st, _ := testStore(t, nil)

	res, err := st.Put(ctx, "dir/blob.bin", []byte("payload"), store.PutOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ETag)

	meta, err := st.Head(ctx, "dir/blob.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(7), meta.Size)

	got, err := st.GetRange(ctx, "dir/blob.bin", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	got, err = st.GetRange(ctx, "dir/blob.bin", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, "load", string(got))

	require.NoError(t, st.Delete(ctx, "dir/blob.bin"))
	err = st.Delete(ctx, "dir/blob.bin")
	assert.True(t, obserrors.IsKind(err, obserrors.NotFound))
}

func TestCreateModeConflict(t *testing.T) {
	ctx := context.Background()
	st, _ := testStore(t, nil)

	_, err := st.Put(ctx, "k", []byte("v1"), store.PutOptions{Mode: store.Create})
	require.NoError(t, err)

	_, err = st.Put(ctx, "k", []byte("v2"), store.PutOptions{Mode: store.Create})
	assert.True(t, obserrors.IsKind(err, obserrors.AlreadyExists))
}

func TestBlockUploadRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, _ := testStore(t, nil)

	id, err := st.CreateMultipart(ctx, "big", store.PutOptions{})
	require.NoError(t, err)

	p1, err := st.UploadPart(ctx, "big", id, 1, []byte("hello "))
	require.NoError(t, err)
	p2, err := st.UploadPart(ctx, "big", id, 2, []byte("blocks"))
	require.NoError(t, err)

	_, err = st.CompleteMultipart(ctx, "big", id, []store.Part{p1, p2})
	require.NoError(t, err)

	got, err := st.GetRange(ctx, "big", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "hello blocks", string(got))
}

func TestAbortIsNoop(t *testing.T) {
	st, _ := testStore(t, nil)
	assert.NoError(t, st.AbortMultipart(context.Background(), "k", "some-id"))
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	st, _ := testStore(t, nil)

	_, err := st.Put(ctx, "src", []byte("v"), store.PutOptions{})
	require.NoError(t, err)

	require.NoError(t, st.Copy(ctx, "src", "dst", false))
	got, err := st.GetRange(ctx, "dst", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	err = st.Copy(ctx, "src", "dst", true)
	assert.True(t, obserrors.IsKind(err, obserrors.AlreadyExists))
}

func TestList(t *testing.T) {
	ctx := context.Background()
	st, _ := testStore(t, nil)

	for _, k := range []string{"p/a", "p/b", "q/c"} {
		_, err := st.Put(ctx, k, []byte("v"), store.PutOptions{})
		require.NoError(t, err)
	}

	page, err := st.List(ctx, "p/", "", 100)
	require.NoError(t, err)
	require.Len(t, page.Objects, 2)
	assert.Equal(t, "p/a", page.Objects[0].Path)
	assert.Empty(t, page.NextToken)
}

func TestSASCredentialApplied(t *testing.T) {
	ctx := context.Background()
	backend := newBlobServer()
	backend.sas = "topsecret"
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	unsigned, err := NewWithCredential(srv.URL, "container", nil, srv.Client())
	require.NoError(t, err)
	_, err = unsigned.Put(ctx, "k", []byte("v"), store.PutOptions{})
	assert.True(t, obserrors.IsKind(err, obserrors.PermissionDenied))

	signed, err := NewWithCredential(srv.URL, "container", SASCredential("sig=topsecret"), srv.Client())
	require.NoError(t, err)
	_, err = signed.Put(ctx, "k", []byte("v"), store.PutOptions{})
	assert.NoError(t, err)
}

func TestBlockIDsFixedWidth(t *testing.T) {
	id := newUploadID()
	a := blockID(id, 1)
	b := blockID(id, 999999)
	assert.Equal(t, len(a), len(b))
}

func TestSignURLNotSupported(t *testing.T) {
	st, _ := testStore(t, nil)
	_, err := st.SignURL(context.Background(), "GET", "k", 0)
	assert.True(t, obserrors.IsKind(err, obserrors.NotSupported))
}
