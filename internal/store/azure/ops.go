package azure

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/machichima/obstore/internal/store"
	"github.com/machichima/obstore/pkg/obserrors"
)

func (s *Store) do(req *http.Request, path string, okStatuses ...int) (*http.Response, error) {
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
	meta := store.ObjectMeta{
		Path: path,
		ETag: h.Get("ETag"),
	}
	if v := h.Get("Content-Length"); v != "" {
		meta.Size, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := h.Get("Content-Range"); v != "" {
		// "bytes start-end/total": total is the full blob size.
		if i := bytes.LastIndexByte([]byte(v), '/'); i >= 0 {
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
	req, err := s.newRequest(ctx, http.MethodHead, s.blobURL(path), nil)
	if err != nil {
		return store.ObjectMeta{}, err
	}
	resp, err := s.do(req, path, http.StatusOK)
	if err != nil {
		return store.ObjectMeta{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	return metaFromHeaders(path, resp.Header), nil
}

func applyGetConditions(req *http.Request, opts store.GetOptions) {
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
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, path string, opts store.GetOptions) (*store.GetResult, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return nil, err
	}
	req, err := s.newRequest(ctx, http.MethodGet, s.blobURL(path), nil)
	if err != nil {
		return nil, err
	}
	applyGetConditions(req, opts)

	resp, err := s.do(req, path, http.StatusOK, http.StatusPartialContent)
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

func applyPutConditions(req *http.Request, opts store.PutOptions) {
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
	for k, v := range opts.Attributes {
		req.Header.Set("x-ms-meta-"+k, v)
	}
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, path string, payload []byte, opts store.PutOptions) (store.PutResult, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return store.PutResult{}, err
	}
	req, err := s.newRequest(ctx, http.MethodPut, s.blobURL(path), payload)
	if err != nil {
		return store.PutResult{}, err
	}
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	applyPutConditions(req, opts)

	resp, err := s.do(req, path, http.StatusCreated)
	if err != nil {
		if opts.Mode == store.Create && (obserrors.IsKind(err, obserrors.AlreadyExists) ||
			obserrors.IsKind(err, obserrors.Precondition)) {
			return store.PutResult{}, obserrors.New(obserrors.AlreadyExists, storeName, path, "object exists")
		}
		return store.PutResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	return store.PutResult{ETag: resp.Header.Get("ETag")}, nil
}

// CreateMultipart implements store.Store. Block blobs have no server-side
// upload handle; the id is generated client-side and scopes the block ids.
func (s *Store) CreateMultipart(ctx context.Context, path string, opts store.PutOptions) (string, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return "", err
	}
	return newUploadID(), nil
}

// UploadPart implements store.Store, staging the part as an uncommitted
// block.
func (s *Store) UploadPart(ctx context.Context, path, uploadID string, number int, data []byte) (store.Part, error) {
	q := url.Values{}
	q.Set("comp", "block")
	q.Set("blockid", blockID(uploadID, number))
	req, err := s.newRequest(ctx, http.MethodPut, s.blobURL(path)+"?"+q.Encode(), data)
	if err != nil {
		return store.Part{}, err
	}
	resp, err := s.do(req, path, http.StatusCreated)
	if err != nil {
		return store.Part{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	return store.Part{Number: number, ETag: blockID(uploadID, number)}, nil
}

type blockList struct {
	XMLName xml.Name `xml:"BlockList"`
	Latest  []string `xml:"Latest"`
}

// CompleteMultipart implements store.Store, committing the staged blocks
// in part order.
func (s *Store) CompleteMultipart(ctx context.Context, path, uploadID string, parts []store.Part) (store.PutResult, error) {
	list := blockList{Latest: make([]string, len(parts))}
	for i, p := range parts {
		list.Latest[i] = blockID(uploadID, p.Number)
	}
	body, err := xml.Marshal(list)
	if err != nil {
		return store.PutResult{}, obserrors.Wrap(obserrors.Generic, storeName, path, err)
	}

	req, err := s.newRequest(ctx, http.MethodPut, s.blobURL(path)+"?comp=blocklist", body)
	if err != nil {
		return store.PutResult{}, err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := s.do(req, path, http.StatusCreated)
	if err != nil {
		return store.PutResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	return store.PutResult{ETag: resp.Header.Get("ETag")}, nil
}

// AbortMultipart implements store.Store. Uncommitted blocks are garbage
// collected by the service, so abort has nothing to delete.
func (s *Store) AbortMultipart(ctx context.Context, path, uploadID string) error {
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := store.ValidatePath(storeName, path); err != nil {
		return err
	}
	req, err := s.newRequest(ctx, http.MethodDelete, s.blobURL(path), nil)
	if err != nil {
		return err
	}
	resp, err := s.do(req, path, http.StatusAccepted)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// Copy implements store.Store, using the server-side copy header.
func (s *Store) Copy(ctx context.Context, src, dst string, ifNotExists bool) error {
	if err := store.ValidatePath(storeName, src); err != nil {
		return err
	}
	if err := store.ValidatePath(storeName, dst); err != nil {
		return err
	}
	req, err := s.newRequest(ctx, http.MethodPut, s.blobURL(dst), nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-ms-copy-source", s.blobURL(src))
	if ifNotExists {
		req.Header.Set("If-None-Match", "*")
	}

	resp, err := s.do(req, dst, http.StatusCreated, http.StatusAccepted)
	if err != nil {
		if ifNotExists && (obserrors.IsKind(err, obserrors.AlreadyExists) ||
			obserrors.IsKind(err, obserrors.Precondition)) {
			return obserrors.New(obserrors.AlreadyExists, storeName, dst, "object exists")
		}
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// Rename implements store.Store. Blob storage has no native move.
func (s *Store) Rename(ctx context.Context, src, dst string) error {
	if err := s.Copy(ctx, src, dst, false); err != nil {
		return err
	}
	return s.Delete(ctx, src)
}

type listBlobs struct {
	XMLName    xml.Name `xml:"EnumerationResults"`
	NextMarker string   `xml:"NextMarker"`
	Blobs      struct {
		Blob []struct {
			Name       string `xml:"Name"`
			Properties struct {
				LastModified  string `xml:"Last-Modified"`
				ContentLength int64  `xml:"Content-Length"`
				ETag          string `xml:"Etag"`
			} `xml:"Properties"`
		} `xml:"Blob"`
		BlobPrefix []struct {
			Name string `xml:"Name"`
		} `xml:"BlobPrefix"`
	} `xml:"Blobs"`
}

func (s *Store) listPage(ctx context.Context, prefix, marker, delimiter string, pageSize int) (*listBlobs, error) {
	q := url.Values{}
	q.Set("restype", "container")
	q.Set("comp", "list")
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	if marker != "" {
		q.Set("marker", marker)
	}
	if delimiter != "" {
		q.Set("delimiter", delimiter)
	}
	if pageSize > 0 {
		q.Set("maxresults", strconv.Itoa(pageSize))
	}

	req, err := s.newRequest(ctx, http.MethodGet, s.container.String()+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.do(req, prefix, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var result listBlobs
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, obserrors.Wrap(obserrors.Generic, storeName, prefix, err)
	}
	return &result, nil
}

func (r *listBlobs) metas() []store.ObjectMeta {
	metas := make([]store.ObjectMeta, 0, len(r.Blobs.Blob))
	for _, b := range r.Blobs.Blob {
		meta := store.ObjectMeta{
			Path: b.Name,
			Size: b.Properties.ContentLength,
			ETag: b.Properties.ETag,
		}
		if t, err := http.ParseTime(b.Properties.LastModified); err == nil {
			meta.LastModified = t
		}
		metas = append(metas, meta)
	}
	return metas
}

// List implements store.Store. The continuation token is the service's
// opaque NextMarker.
func (s *Store) List(ctx context.Context, prefix, token string, pageSize int) (store.ListPage, error) {
	result, err := s.listPage(ctx, prefix, token, "", pageSize)
	if err != nil {
		return store.ListPage{}, err
	}
	return store.ListPage{Objects: result.metas(), NextToken: result.NextMarker}, nil
}

// ListWithDelimiter implements store.Store.
func (s *Store) ListWithDelimiter(ctx context.Context, prefix string) (store.ListResult, error) {
	var res store.ListResult
	marker := ""
	for {
		result, err := s.listPage(ctx, prefix, marker, "/", 0)
		if err != nil {
			return store.ListResult{}, err
		}
		for _, p := range result.Blobs.BlobPrefix {
			res.CommonPrefixes = append(res.CommonPrefixes, p.Name)
		}
		res.Objects = append(res.Objects, result.metas()...)
		if result.NextMarker == "" {
			sort.Strings(res.CommonPrefixes)
			return res, nil
		}
		marker = result.NextMarker
	}
}

// SignURL implements store.Store. SAS generation is an authentication
// protocol and stays outside this client.
func (s *Store) SignURL(ctx context.Context, method, path string, expiry time.Duration) (string, error) {
	return "", obserrors.New(obserrors.NotSupported, storeName, path, "SAS generation is not available")
}

var _ store.Store = (*Store)(nil)
