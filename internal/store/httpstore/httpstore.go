// Package httpstore implements the store backend for plain HTTP(S)
// endpoints. The server is expected to honor standard verbs: GET/HEAD for
// reads, PUT for writes, DELETE for removal, and the WebDAV COPY/MOVE
// verbs for copy and rename. Multipart uploads, listing and presigning
// have no HTTP equivalent and return NotSupported.
package httpstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/machichima/obstore/internal/config"
	"github.com/machichima/obstore/internal/httputil"
	"github.com/machichima/obstore/internal/store"
	"github.com/machichima/obstore/pkg/obserrors"
)

const storeName = "http"

// Store is the HTTP backend rooted at one base URL.
type Store struct {
	client *http.Client
	base   *url.URL
}

// New builds an HTTP store from a base URL and resolved client options.
func New(baseURL string, clientOpts config.ClientOptions) (*Store, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, obserrors.New(obserrors.Generic, storeName, "", "unsupported scheme %q", base.Scheme)
	}
	if base.Scheme == "http" && !clientOpts.AllowHTTP {
		return nil, obserrors.New(obserrors.Generic, storeName, "",
			"plain http endpoints need %s", config.ClientAllowHTTP)
	}
	client, err := httputil.NewClient(clientOpts)
	if err != nil {
		return nil, err
	}
	return &Store{client: client, base: base}, nil
}

// Name implements store.Store.
func (s *Store) Name() string { return storeName }

func (s *Store) objectURL(path string) string {
	u := *s.base
	u.Path = u.Path + "/" + path
	return u.String()
}

func (s *Store) do(ctx context.Context, method, path string, body []byte, decorate func(*http.Request), okStatuses ...int) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.objectURL(path), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if decorate != nil {
		decorate(req)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if req.Context().Err() == context.DeadlineExceeded {
			return nil, obserrors.Wrap(obserrors.Timeout, storeName, path, err)
		}
		return nil, obserrors.Wrap(obserrors.Generic, storeName, path, err)
	}
	for _, ok := range okStatuses {
		if resp.StatusCode == ok {
			return resp, nil
		}
	}
	defer func() { _ = resp.Body.Close() }()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return nil, obserrors.FromHTTPStatus(resp.StatusCode, storeName, path, string(msg))
}

func metaFromHeaders(path string, h http.Header) store.ObjectMeta {
	meta := store.ObjectMeta{Path: path, ETag: h.Get("ETag")}
	if v := h.Get("Content-Length"); v != "" {
		meta.Size, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := h.Get("Content-Range"); v != "" {
		if i := strings.LastIndexByte(v, '/'); i >= 0 {
			if total, err := strconv.ParseInt(v[i+1:], 10, 64); err == nil {
				meta.Size = total
			}
		}
	}
	if v := h.Get("Last-Modified"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			meta.LastModified = t
		}
	}
	return meta
}

// Head implements store.Store.
func (s *Store) Head(ctx context.Context, path string) (store.ObjectMeta, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return store.ObjectMeta{}, err
	}
	resp, err := s.do(ctx, http.MethodHead, path, nil, nil, http.StatusOK)
	if err != nil {
		return store.ObjectMeta{}, err
	}
	_ = resp.Body.Close()
	return metaFromHeaders(path, resp.Header), nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, path string, opts store.GetOptions) (*store.GetResult, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return nil, err
	}
	resp, err := s.do(ctx, http.MethodGet, path, nil, func(req *http.Request) {
		if opts.IfMatch != "" {
			req.Header.Set("If-Match", opts.IfMatch)
		}
		if opts.IfNoneMatch != "" {
			req.Header.Set("If-None-Match", opts.IfNoneMatch)
		}
		if !opts.IfModifiedSince.IsZero() {
			req.Header.Set("If-Modified-Since", opts.IfModifiedSince.UTC().Format(http.TimeFormat))
		}
		if !opts.IfUnmodifiedSince.IsZero() {
			req.Header.Set("If-Unmodified-Since", opts.IfUnmodifiedSince.UTC().Format(http.TimeFormat))
		}
		if opts.RangeRequested() {
			if opts.Length > 0 {
				req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", opts.Offset, opts.Offset+opts.Length-1))
			} else {
				req.Header.Set("Range", fmt.Sprintf("bytes=%d-", opts.Offset))
			}
		}
	}, http.StatusOK, http.StatusPartialContent)
	if err != nil {
		return nil, err
	}
	return &store.GetResult{Meta: metaFromHeaders(path, resp.Header), Body: resp.Body}, nil
}

// GetRange implements store.Store.
func (s *Store) GetRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	res, err := s.Get(ctx, path, store.GetOptions{Offset: offset, Length: length})
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, obserrors.Wrap(obserrors.Generic, storeName, path, err)
	}
	return data, nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, path string, payload []byte, opts store.PutOptions) (store.PutResult, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return store.PutResult{}, err
	}
	resp, err := s.do(ctx, http.MethodPut, path, payload, func(req *http.Request) {
		switch opts.Mode {
		case store.Create:
			req.Header.Set("If-None-Match", "*")
		case store.Update:
			if opts.UpdateETag != "" {
				req.Header.Set("If-Match", opts.UpdateETag)
			}
		}
		if opts.ContentType != "" {
			req.Header.Set("Content-Type", opts.ContentType)
		}
	}, http.StatusOK, http.StatusCreated, http.StatusNoContent)
	if err != nil {
		if opts.Mode == store.Create && obserrors.IsKind(err, obserrors.Precondition) {
			return store.PutResult{}, obserrors.New(obserrors.AlreadyExists, storeName, path, "object exists")
		}
		return store.PutResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	return store.PutResult{ETag: resp.Header.Get("ETag")}, nil
}

// CreateMultipart implements store.Store.
func (s *Store) CreateMultipart(ctx context.Context, path string, opts store.PutOptions) (string, error) {
	return "", obserrors.New(obserrors.NotSupported, storeName, path, "multipart uploads are not available")
}

// UploadPart implements store.Store.
func (s *Store) UploadPart(ctx context.Context, path, uploadID string, number int, data []byte) (store.Part, error) {
	return store.Part{}, obserrors.New(obserrors.NotSupported, storeName, path, "multipart uploads are not available")
}

// CompleteMultipart implements store.Store.
func (s *Store) CompleteMultipart(ctx context.Context, path, uploadID string, parts []store.Part) (store.PutResult, error) {
	return store.PutResult{}, obserrors.New(obserrors.NotSupported, storeName, path, "multipart uploads are not available")
}

// AbortMultipart implements store.Store.
func (s *Store) AbortMultipart(ctx context.Context, path, uploadID string) error {
	return obserrors.New(obserrors.NotSupported, storeName, path, "multipart uploads are not available")
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := store.ValidatePath(storeName, path); err != nil {
		return err
	}
	resp, err := s.do(ctx, http.MethodDelete, path, nil, nil,
		http.StatusOK, http.StatusAccepted, http.StatusNoContent)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// Copy implements store.Store via the WebDAV COPY verb.
func (s *Store) Copy(ctx context.Context, src, dst string, ifNotExists bool) error {
	if err := store.ValidatePath(storeName, src); err != nil {
		return err
	}
	if err := store.ValidatePath(storeName, dst); err != nil {
		return err
	}
	resp, err := s.do(ctx, "COPY", src, nil, func(req *http.Request) {
		req.Header.Set("Destination", s.objectURL(dst))
		if ifNotExists {
			req.Header.Set("Overwrite", "F")
		}
	}, http.StatusCreated, http.StatusNoContent)
	if err != nil {
		if ifNotExists && obserrors.IsKind(err, obserrors.Precondition) {
			return obserrors.New(obserrors.AlreadyExists, storeName, dst, "object exists")
		}
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// Rename implements store.Store via the WebDAV MOVE verb.
func (s *Store) Rename(ctx context.Context, src, dst string) error {
	if err := store.ValidatePath(storeName, src); err != nil {
		return err
	}
	if err := store.ValidatePath(storeName, dst); err != nil {
		return err
	}
	resp, err := s.do(ctx, "MOVE", src, nil, func(req *http.Request) {
		req.Header.Set("Destination", s.objectURL(dst))
	}, http.StatusCreated, http.StatusNoContent)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// List implements store.Store. Plain HTTP has no listing protocol.
func (s *Store) List(ctx context.Context, prefix, token string, pageSize int) (store.ListPage, error) {
	return store.ListPage{}, obserrors.New(obserrors.NotSupported, storeName, prefix, "listing is not available")
}

// ListWithDelimiter implements store.Store.
func (s *Store) ListWithDelimiter(ctx context.Context, prefix string) (store.ListResult, error) {
	return store.ListResult{}, obserrors.New(obserrors.NotSupported, storeName, prefix, "listing is not available")
}

// SignURL implements store.Store. Plain HTTP has no signing scheme.
func (s *Store) SignURL(ctx context.Context, method, path string, expiry time.Duration) (string, error) {
	return "", obserrors.New(obserrors.NotSupported, storeName, path, "url signing is not available")
}

var _ store.Store = (*Store)(nil)
