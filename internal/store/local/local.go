// Package local implements the filesystem backend for the file:// scheme.
//
// Objects are stored as files under a root directory, one file per key.
// Writes are atomic: data lands in a temp file in the destination directory
// and is renamed into place. Multipart uploads stage part.N files under a
// .uploads directory and completion concatenates them in part order.
package local

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // etag fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/machichima/obstore/internal/store"
	"github.com/machichima/obstore/pkg/obserrors"
)

const (
	storeName      = "local"
	dirPermissions = 0750
	uploadsDir     = ".uploads"
)

// Store is the filesystem backend rooted at one directory.
type Store struct {
	root string
}

// New creates a filesystem store rooted at root, creating it if missing.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, dirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Name implements store.Store.
func (s *Store) Name() string { return storeName }

func (s *Store) objectPath(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

func (s *Store) uploadPath(uploadID string) string {
	return filepath.Join(s.root, uploadsDir, uploadID)
}

func (s *Store) partPath(uploadID string, number int) string {
	return filepath.Join(s.uploadPath(uploadID), fmt.Sprintf("part.%d", number))
}

func statMeta(path, fsPath string) (store.ObjectMeta, error) {
	info, err := os.Stat(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return store.ObjectMeta{}, obserrors.New(obserrors.NotFound, storeName, path, "no such object")
		}
		return store.ObjectMeta{}, fmt.Errorf("failed to stat object: %w", err)
	}
	if info.IsDir() {
		return store.ObjectMeta{}, obserrors.New(obserrors.NotFound, storeName, path, "path is a directory")
	}
	return store.ObjectMeta{
		Path:         path,
		LastModified: info.ModTime().UTC(),
		Size:         info.Size(),
		ETag:         etagFor(info),
	}, nil
}

// etagFor derives a weak etag from file identity, mtime and size, so it
// changes whenever the content does without hashing on every stat.
func etagFor(info os.FileInfo) string {
	return fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size())
}

// writeAtomic streams r into a temp file next to dst and renames it into
// place, returning the md5 of the written bytes.
func writeAtomic(dst string, r io.Reader) (string, int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), dirPermissions); err != nil {
		return "", 0, fmt.Errorf("failed to create object directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	hash := md5.New() //nolint:gosec
	written, err := io.Copy(io.MultiWriter(tmpFile, hash), r)
	if err != nil {
		_ = tmpFile.Close()
		return "", 0, fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return "", 0, fmt.Errorf("failed to sync object: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", 0, fmt.Errorf("failed to rename object: %w", err)
	}
	return `"` + hex.EncodeToString(hash.Sum(nil)) + `"`, written, nil
}

// Head implements store.Store.
func (s *Store) Head(ctx context.Context, path string) (store.ObjectMeta, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return store.ObjectMeta{}, err
	}
	return statMeta(path, s.objectPath(path))
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, path string, opts store.GetOptions) (*store.GetResult, error) {
	meta, err := s.Head(ctx, path)
	if err != nil {
		return nil, err
	}
	if opts.IfMatch != "" && opts.IfMatch != meta.ETag {
		return nil, obserrors.New(obserrors.Precondition, storeName, path,
			"etag %s does not match %s", meta.ETag, opts.IfMatch)
	}
	if opts.IfNoneMatch != "" && (opts.IfNoneMatch == "*" || opts.IfNoneMatch == meta.ETag) {
		return nil, obserrors.New(obserrors.NotModified, storeName, path, "etag matches")
	}
	if !opts.IfModifiedSince.IsZero() && !meta.LastModified.After(opts.IfModifiedSince) {
		return nil, obserrors.New(obserrors.NotModified, storeName, path, "not modified")
	}
	if !opts.IfUnmodifiedSince.IsZero() && meta.LastModified.After(opts.IfUnmodifiedSince) {
		return nil, obserrors.New(obserrors.Precondition, storeName, path, "modified")
	}

	f, err := os.Open(s.objectPath(path)) //nolint:gosec // path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}

	if opts.RangeRequested() {
		length := opts.Length
		if length == 0 {
			length = -1
		}
		if _, err := f.Seek(opts.Offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to seek: %w", err)
		}
		var body io.ReadCloser = f
		if length >= 0 {
			body = struct {
				io.Reader
				io.Closer
			}{io.LimitReader(f, length), f}
		}
		return &store.GetResult{Meta: meta, Body: body}, nil
	}
	return &store.GetResult{Meta: meta, Body: f}, nil
}

// GetRange implements store.Store.
func (s *Store) GetRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	meta, err := s.Head(ctx, path)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > meta.Size {
		return nil, obserrors.New(obserrors.Generic, storeName, path,
			"range offset %d beyond object size %d", offset, meta.Size)
	}
	end := meta.Size
	if length >= 0 && offset+length < end {
		end = offset + length
	}

	f, err := os.Open(s.objectPath(path)) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, end-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read range: %w", err)
	}
	return buf, nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, path string, payload []byte, opts store.PutOptions) (store.PutResult, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return store.PutResult{}, err
	}

	existing, statErr := statMeta(path, s.objectPath(path))
	exists := statErr == nil
	switch opts.Mode {
	case store.Create:
		if exists {
			return store.PutResult{}, obserrors.New(obserrors.AlreadyExists, storeName, path, "object exists")
		}
	case store.Update:
		if !exists {
			return store.PutResult{}, obserrors.New(obserrors.NotFound, storeName, path, "no such object")
		}
		if opts.UpdateETag != "" && existing.ETag != opts.UpdateETag {
			return store.PutResult{}, obserrors.New(obserrors.Precondition, storeName, path,
				"etag %s does not match %s", existing.ETag, opts.UpdateETag)
		}
	}

	etag, _, err := writeAtomic(s.objectPath(path), bytes.NewReader(payload))
	if err != nil {
		return store.PutResult{}, err
	}
	return store.PutResult{ETag: etag}, nil
}

// CreateMultipart implements store.Store.
func (s *Store) CreateMultipart(ctx context.Context, path string, opts store.PutOptions) (string, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := os.MkdirAll(s.uploadPath(id), dirPermissions); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	// Record the target path so completion does not trust the caller blindly.
	if err := os.WriteFile(filepath.Join(s.uploadPath(id), "target"), []byte(path), 0600); err != nil {
		return "", fmt.Errorf("failed to record upload target: %w", err)
	}
	return id, nil
}

func (s *Store) checkUpload(path, uploadID string) error {
	target, err := os.ReadFile(filepath.Join(s.uploadPath(uploadID), "target"))
	if err != nil {
		if os.IsNotExist(err) {
			return obserrors.New(obserrors.NotFound, storeName, path, "no such upload %s", uploadID)
		}
		return fmt.Errorf("failed to read upload target: %w", err)
	}
	if string(target) != path {
		return obserrors.New(obserrors.NotFound, storeName, path, "upload %s targets a different path", uploadID)
	}
	return nil
}

// UploadPart implements store.Store.
func (s *Store) UploadPart(ctx context.Context, path, uploadID string, number int, data []byte) (store.Part, error) {
	if number < 1 {
		return store.Part{}, obserrors.New(obserrors.Generic, storeName, path, "part number %d < 1", number)
	}
	if err := s.checkUpload(path, uploadID); err != nil {
		return store.Part{}, err
	}
	etag, _, err := writeAtomic(s.partPath(uploadID, number), bytes.NewReader(data))
	if err != nil {
		return store.Part{}, err
	}
	return store.Part{Number: number, ETag: etag}, nil
}

// CompleteMultipart implements store.Store.
func (s *Store) CompleteMultipart(ctx context.Context, path, uploadID string, parts []store.Part) (store.PutResult, error) {
	if err := s.checkUpload(path, uploadID); err != nil {
		return store.PutResult{}, err
	}
	if !sort.SliceIsSorted(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number }) {
		return store.PutResult{}, obserrors.New(obserrors.Generic, storeName, path, "parts not sorted by number")
	}

	readers := make([]io.Reader, 0, len(parts))
	files := make([]*os.File, 0, len(parts))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, p := range parts {
		f, err := os.Open(s.partPath(uploadID, p.Number)) //nolint:gosec
		if err != nil {
			return store.PutResult{}, obserrors.New(obserrors.Generic, storeName, path,
				"unknown part %d in upload %s", p.Number, uploadID)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	etag, _, err := writeAtomic(s.objectPath(path), io.MultiReader(readers...))
	if err != nil {
		return store.PutResult{}, err
	}
	_ = os.RemoveAll(s.uploadPath(uploadID))
	return store.PutResult{ETag: etag}, nil
}

// AbortMultipart implements store.Store. Aborting an unknown upload is not
// an error, matching remote backend cleanup semantics.
func (s *Store) AbortMultipart(ctx context.Context, path, uploadID string) error {
	if err := os.RemoveAll(s.uploadPath(uploadID)); err != nil {
		return fmt.Errorf("failed to remove upload directory: %w", err)
	}
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := store.ValidatePath(storeName, path); err != nil {
		return err
	}
	fsPath := s.objectPath(path)
	if err := os.Remove(fsPath); err != nil {
		if os.IsNotExist(err) {
			return obserrors.New(obserrors.NotFound, storeName, path, "no such object")
		}
		return fmt.Errorf("failed to delete object: %w", err)
	}
	s.cleanEmptyDirs(filepath.Dir(fsPath))
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
	if ifNotExists {
		if _, err := os.Stat(s.objectPath(dst)); err == nil {
			return obserrors.New(obserrors.AlreadyExists, storeName, dst, "object exists")
		}
	}

	f, err := os.Open(s.objectPath(src)) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return obserrors.New(obserrors.NotFound, storeName, src, "no such object")
		}
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer func() { _ = f.Close() }()

	_, _, err = writeAtomic(s.objectPath(dst), f)
	return err
}

// Rename implements store.Store.
func (s *Store) Rename(ctx context.Context, src, dst string) error {
	if err := store.ValidatePath(storeName, src); err != nil {
		return err
	}
	if err := store.ValidatePath(storeName, dst); err != nil {
		return err
	}
	dstPath := s.objectPath(dst)
	if err := os.MkdirAll(filepath.Dir(dstPath), dirPermissions); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	if err := os.Rename(s.objectPath(src), dstPath); err != nil {
		if os.IsNotExist(err) {
			return obserrors.New(obserrors.NotFound, storeName, src, "no such object")
		}
		return fmt.Errorf("failed to rename object: %w", err)
	}
	s.cleanEmptyDirs(filepath.Dir(s.objectPath(src)))
	return nil
}

// List implements store.Store. The continuation token is the last key of
// the previous page.
func (s *Store) List(ctx context.Context, prefix, token string, pageSize int) (store.ListPage, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	keys, err := s.walkKeys(prefix)
	if err != nil {
		return store.ListPage{}, err
	}

	var page store.ListPage
	for _, k := range keys {
		if token != "" && k <= token {
			continue
		}
		meta, err := statMeta(k, s.objectPath(k))
		if err != nil {
			continue
		}
		page.Objects = append(page.Objects, meta)
		if len(page.Objects) == pageSize {
			page.NextToken = k
			break
		}
	}
	// Final-page check: NextToken only when more keys remain.
	if page.NextToken != "" && page.NextToken == keys[len(keys)-1] {
		page.NextToken = ""
	}
	return page, nil
}

// ListWithDelimiter implements store.Store.
func (s *Store) ListWithDelimiter(ctx context.Context, prefix string) (store.ListResult, error) {
	keys, err := s.walkKeys(prefix)
	if err != nil {
		return store.ListResult{}, err
	}

	seen := make(map[string]struct{})
	var res store.ListResult
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
		meta, err := statMeta(k, s.objectPath(k))
		if err != nil {
			continue
		}
		res.Objects = append(res.Objects, meta)
	}
	return res, nil
}

func (s *Store) walkKeys(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if d.IsDir() {
			if filepath.Base(p) == uploadsDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk objects: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// SignURL implements store.Store. Local files have no signable URL.
func (s *Store) SignURL(ctx context.Context, method, path string, expiry time.Duration) (string, error) {
	return "", obserrors.New(obserrors.NotSupported, storeName, path, "presigned URLs are not available")
}

func (s *Store) cleanEmptyDirs(dir string) {
	for dir != s.root && dir != "." && dir != "/" {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

var _ store.Store = (*Store)(nil)
