// Package memory implements an in-memory store used by tests and the
// memory:// CLI scheme. All operations are linearized under one mutex.
package memory

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // etag fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/machichima/obstore/internal/store"
	"github.com/machichima/obstore/pkg/obserrors"
)

const storeName = "memory"

type object struct {
	data     []byte
	etag     string
	version  string
	modified time.Time
}

type upload struct {
	path  string
	parts map[int][]byte
	etags map[int]string
}

// Store is the in-memory backend. The zero value is not usable; use New.
type Store struct {
	mu      sync.Mutex
	objects map[string]*object
	uploads map[string]*upload
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		objects: make(map[string]*object),
		uploads: make(map[string]*upload),
	}
}

// Name implements store.Store.
func (s *Store) Name() string { return storeName }

func etagOf(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (s *Store) lookup(path string) (*object, error) {
	o, ok := s.objects[path]
	if !ok {
		return nil, obserrors.New(obserrors.NotFound, storeName, path, "no such object")
	}
	return o, nil
}

func metaOf(path string, o *object) store.ObjectMeta {
	return store.ObjectMeta{
		Path:         path,
		LastModified: o.modified,
		Size:         int64(len(o.data)),
		ETag:         o.etag,
		Version:      o.version,
	}
}

// Head implements store.Store.
func (s *Store) Head(ctx context.Context, path string) (store.ObjectMeta, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return store.ObjectMeta{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.lookup(path)
	if err != nil {
		return store.ObjectMeta{}, err
	}
	return metaOf(path, o), nil
}

func checkConditions(path string, o *object, opts store.GetOptions) error {
	if opts.IfMatch != "" && opts.IfMatch != o.etag {
		return obserrors.New(obserrors.Precondition, storeName, path,
			"etag %s does not match %s", o.etag, opts.IfMatch)
	}
	if opts.IfNoneMatch != "" && (opts.IfNoneMatch == "*" || opts.IfNoneMatch == o.etag) {
		return obserrors.New(obserrors.NotModified, storeName, path, "etag matches %s", opts.IfNoneMatch)
	}
	if !opts.IfModifiedSince.IsZero() && !o.modified.After(opts.IfModifiedSince) {
		return obserrors.New(obserrors.NotModified, storeName, path, "not modified since %s", opts.IfModifiedSince)
	}
	if !opts.IfUnmodifiedSince.IsZero() && o.modified.After(opts.IfUnmodifiedSince) {
		return obserrors.New(obserrors.Precondition, storeName, path, "modified after %s", opts.IfUnmodifiedSince)
	}
	return nil
}

func sliceRange(path string, data []byte, offset, length int64) ([]byte, error) {
	if offset < 0 {
		return nil, obserrors.New(obserrors.Generic, storeName, path, "negative range offset %d", offset)
	}
	if offset > int64(len(data)) {
		return nil, obserrors.New(obserrors.Generic, storeName, path,
			"range offset %d beyond object size %d", offset, len(data))
	}
	end := int64(len(data))
	if length >= 0 && offset+length < end {
		end = offset + length
	}
	out := make([]byte, end-offset)
	copy(out, data[offset:end])
	return out, nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, path string, opts store.GetOptions) (*store.GetResult, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	if err := checkConditions(path, o, opts); err != nil {
		return nil, err
	}
	data := o.data
	if opts.RangeRequested() {
		length := opts.Length
		if length == 0 {
			length = -1
		}
		if data, err = sliceRange(path, o.data, opts.Offset, length); err != nil {
			return nil, err
		}
	} else {
		data = append([]byte(nil), o.data...)
	}
	return &store.GetResult{
		Meta: metaOf(path, o),
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

// GetRange implements store.Store.
func (s *Store) GetRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	return sliceRange(path, o.data, offset, length)
}

func (s *Store) checkPutMode(path string, opts store.PutOptions) error {
	existing, exists := s.objects[path]
	switch opts.Mode {
	case store.Create:
		if exists {
			return obserrors.New(obserrors.AlreadyExists, storeName, path, "object exists")
		}
	case store.Update:
		if !exists {
			return obserrors.New(obserrors.NotFound, storeName, path, "no such object")
		}
		if opts.UpdateETag != "" && existing.etag != opts.UpdateETag {
			return obserrors.New(obserrors.Precondition, storeName, path,
				"etag %s does not match %s", existing.etag, opts.UpdateETag)
		}
	}
	return nil
}

func (s *Store) putLocked(path string, data []byte) store.PutResult {
	o := &object{
		data:     data,
		etag:     etagOf(data),
		version:  uuid.NewString(),
		modified: time.Now().UTC(),
	}
	s.objects[path] = o
	return store.PutResult{ETag: o.etag, Version: o.version}
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, path string, payload []byte, opts store.PutOptions) (store.PutResult, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return store.PutResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPutMode(path, opts); err != nil {
		return store.PutResult{}, err
	}
	return s.putLocked(path, append([]byte(nil), payload...)), nil
}

// CreateMultipart implements store.Store.
func (s *Store) CreateMultipart(ctx context.Context, path string, opts store.PutOptions) (string, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.uploads[id] = &upload{
		path:  path,
		parts: make(map[int][]byte),
		etags: make(map[int]string),
	}
	return id, nil
}

func (s *Store) uploadFor(path, uploadID string) (*upload, error) {
	u, ok := s.uploads[uploadID]
	if !ok || u.path != path {
		return nil, obserrors.New(obserrors.NotFound, storeName, path, "no such upload %s", uploadID)
	}
	return u, nil
}

// UploadPart implements store.Store.
func (s *Store) UploadPart(ctx context.Context, path, uploadID string, number int, data []byte) (store.Part, error) {
	if number < 1 {
		return store.Part{}, obserrors.New(obserrors.Generic, storeName, path, "part number %d < 1", number)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.uploadFor(path, uploadID)
	if err != nil {
		return store.Part{}, err
	}
	buf := append([]byte(nil), data...)
	u.parts[number] = buf
	u.etags[number] = etagOf(buf)
	return store.Part{Number: number, ETag: u.etags[number]}, nil
}

// CompleteMultipart implements store.Store.
func (s *Store) CompleteMultipart(ctx context.Context, path, uploadID string, parts []store.Part) (store.PutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.uploadFor(path, uploadID)
	if err != nil {
		return store.PutResult{}, err
	}
	if !sort.SliceIsSorted(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number }) {
		return store.PutResult{}, obserrors.New(obserrors.Generic, storeName, path, "parts not sorted by number")
	}
	var assembled []byte
	for _, p := range parts {
		data, ok := u.parts[p.Number]
		if !ok {
			return store.PutResult{}, obserrors.New(obserrors.Generic, storeName, path,
				"unknown part %d in upload %s", p.Number, uploadID)
		}
		if p.ETag != "" && p.ETag != u.etags[p.Number] {
			return store.PutResult{}, obserrors.New(obserrors.Generic, storeName, path,
				"etag mismatch for part %d", p.Number)
		}
		assembled = append(assembled, data...)
	}
	delete(s.uploads, uploadID)
	return s.putLocked(path, assembled), nil
}

// AbortMultipart implements store.Store.
func (s *Store) AbortMultipart(ctx context.Context, path, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.uploadFor(path, uploadID); err != nil {
		return err
	}
	delete(s.uploads, uploadID)
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := store.ValidatePath(storeName, path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(path); err != nil {
		return err
	}
	delete(s.objects, path)
	return nil
}

// Copy implements store.Store.
func (s *Store) Copy(ctx context.Context, src, dst string, ifNotExists bool) error {
	if err := store.ValidatePath(storeName, src); err != nil {
		return err
	}
	if err := store.ValidatePath(storeName, dst); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.lookup(src)
	if err != nil {
		return err
	}
	if ifNotExists {
		if _, exists := s.objects[dst]; exists {
			return obserrors.New(obserrors.AlreadyExists, storeName, dst, "object exists")
		}
	}
	s.putLocked(dst, append([]byte(nil), o.data...))
	return nil
}

// Rename implements store.Store.
func (s *Store) Rename(ctx context.Context, src, dst string) error {
	if err := s.Copy(ctx, src, dst, false); err != nil {
		return err
	}
	return s.Delete(ctx, src)
}

// List implements store.Store. The continuation token is the decimal index
// of the next key in the sorted key space.
func (s *Store) List(ctx context.Context, prefix, token string, pageSize int) (store.ListPage, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 {
			return store.ListPage{}, obserrors.New(obserrors.Generic, storeName, prefix,
				"invalid continuation token %q", token)
		}
		start = n
	}
	if start >= len(keys) {
		return store.ListPage{}, nil
	}

	end := start + pageSize
	if end > len(keys) {
		end = len(keys)
	}
	page := store.ListPage{Objects: make([]store.ObjectMeta, 0, end-start)}
	for _, k := range keys[start:end] {
		page.Objects = append(page.Objects, metaOf(k, s.objects[k]))
	}
	if end < len(keys) {
		page.NextToken = fmt.Sprintf("%d", end)
	}
	return page, nil
}

// ListWithDelimiter implements store.Store.
func (s *Store) ListWithDelimiter(ctx context.Context, prefix string) (store.ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var res store.ListResult
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			dir := prefix + rest[:i+1]
			if _, ok := seen[dir]; !ok {
				seen[dir] = struct{}{}
				res.CommonPrefixes = append(res.CommonPrefixes, dir)
			}
			continue
		}
		res.Objects = append(res.Objects, metaOf(k, s.objects[k]))
	}
	return res, nil
}

// SignURL implements store.Store. Memory objects have no URL.
func (s *Store) SignURL(ctx context.Context, method, path string, expiry time.Duration) (string, error) {
	return "", obserrors.New(obserrors.NotSupported, storeName, path, "presigned URLs are not available")
}

var _ store.Store = (*Store)(nil)
