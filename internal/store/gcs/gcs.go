// Package gcs implements the store backend for Google Cloud Storage over
// its S3-interoperable XML API, using minio-go with HMAC credentials.
//
// The interop surface covers gets, puts, multipart uploads, listing and
// presigning. Conditional writes are emulated with a preceding stat, which
// leaves a small window a concurrent writer can win.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/machichima/obstore/internal/config"
	"github.com/machichima/obstore/internal/store"
	"github.com/machichima/obstore/pkg/obserrors"
)

const (
	storeName       = "gcs"
	defaultEndpoint = "storage.googleapis.com"
)

// Store is the GCS backend bound to one bucket.
type Store struct {
	client *minio.Client
	core   *minio.Core
	bucket string
}

// New builds a GCS store from resolved canonical configuration.
func New(cfg *config.Canonical, clientOpts config.ClientOptions) (*Store, error) {
	bucket, ok := cfg.Get(config.GCSBucket)
	if !ok {
		return nil, obserrors.New(obserrors.Generic, storeName, "", "missing %s", config.GCSBucket)
	}

	endpoint := cfg.GetString(config.GCSEndpoint, defaultEndpoint)
	secure := !clientOpts.AllowHTTP
	if strings.HasPrefix(endpoint, "http://") {
		endpoint = strings.TrimPrefix(endpoint, "http://")
		secure = false
	} else {
		endpoint = strings.TrimPrefix(endpoint, "https://")
	}

	accessKey := cfg.GetString(config.GCSHMACAccessKeyID, "")
	secretKey := cfg.GetString(config.GCSHMACSecretAccess, "")
	if accessKey == "" {
		return nil, obserrors.New(obserrors.Unauthenticated, storeName, "",
			"missing %s: the interop endpoint needs HMAC credentials", config.GCSHMACAccessKeyID)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build gcs client: %w", err)
	}

	return &Store{
		client: client,
		core:   &minio.Core{Client: client},
		bucket: bucket,
	}, nil
}

// Name implements store.Store.
func (s *Store) Name() string { return storeName }

func mapError(path string, err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code != "" || resp.StatusCode != 0 {
		switch resp.Code {
		case "NoSuchKey", "NoSuchUpload", "NotFound":
			return obserrors.Wrap(obserrors.NotFound, storeName, path, err)
		case "PreconditionFailed":
			return obserrors.Wrap(obserrors.Precondition, storeName, path, err)
		case "AccessDenied":
			return obserrors.Wrap(obserrors.PermissionDenied, storeName, path, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return obserrors.Wrap(obserrors.Unauthenticated, storeName, path, err)
		}
		if resp.StatusCode != 0 {
			mapped := obserrors.FromHTTPStatus(resp.StatusCode, storeName, path, resp.Message)
			mapped.Err = err
			return mapped
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return obserrors.Wrap(obserrors.Timeout, storeName, path, err)
	}
	return obserrors.Wrap(obserrors.Generic, storeName, path, err)
}

func metaFromInfo(path string, info minio.ObjectInfo) store.ObjectMeta {
	return store.ObjectMeta{
		Path:         path,
		LastModified: info.LastModified,
		Size:         info.Size,
		ETag:         info.ETag,
		Version:      info.VersionID,
	}
}

// Head implements store.Store.
func (s *Store) Head(ctx context.Context, path string) (store.ObjectMeta, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return store.ObjectMeta{}, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		return store.ObjectMeta{}, mapError(path, err)
	}
	return metaFromInfo(path, info), nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, path string, opts store.GetOptions) (*store.GetResult, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return nil, err
	}
	getOpts := minio.GetObjectOptions{}
	if opts.IfMatch != "" {
		if err := getOpts.SetMatchETag(strings.Trim(opts.IfMatch, `"`)); err != nil {
			return nil, mapError(path, err)
		}
	}
	if opts.IfNoneMatch != "" {
		if err := getOpts.SetMatchETagExcept(strings.Trim(opts.IfNoneMatch, `"`)); err != nil {
			return nil, mapError(path, err)
		}
	}
	if !opts.IfModifiedSince.IsZero() {
		if err := getOpts.SetModified(opts.IfModifiedSince); err != nil {
			return nil, mapError(path, err)
		}
	}
	if !opts.IfUnmodifiedSince.IsZero() {
		if err := getOpts.SetUnmodified(opts.IfUnmodifiedSince); err != nil {
			return nil, mapError(path, err)
		}
	}
	if opts.RangeRequested() {
		end := int64(0)
		if opts.Length > 0 {
			end = opts.Offset + opts.Length - 1
		}
		if err := getOpts.SetRange(opts.Offset, end); err != nil {
			return nil, mapError(path, err)
		}
	}

	body, info, _, err := s.core.GetObject(ctx, s.bucket, path, getOpts)
	if err != nil {
		return nil, mapError(path, err)
	}
	return &store.GetResult{Meta: metaFromInfo(path, info), Body: body}, nil
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
		return nil, mapError(path, err)
	}
	return data, nil
}

// checkWriteMode emulates create/update preconditions with a stat. The
// window between check and write is documented in the package comment.
func (s *Store) checkWriteMode(ctx context.Context, path string, opts store.PutOptions) error {
	if opts.Mode == store.Overwrite {
		return nil
	}
	meta, err := s.Head(ctx, path)
	switch opts.Mode {
	case store.Create:
		if err == nil {
			return obserrors.New(obserrors.AlreadyExists, storeName, path, "object exists")
		}
		if !obserrors.IsKind(err, obserrors.NotFound) {
			return err
		}
	case store.Update:
		if err != nil {
			return err
		}
		if opts.UpdateETag != "" && meta.ETag != strings.Trim(opts.UpdateETag, `"`) {
			return obserrors.New(obserrors.Precondition, storeName, path,
				"etag %s does not match %s", meta.ETag, opts.UpdateETag)
		}
	}
	return nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, path string, payload []byte, opts store.PutOptions) (store.PutResult, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return store.PutResult{}, err
	}
	if err := s.checkWriteMode(ctx, path, opts); err != nil {
		return store.PutResult{}, err
	}
	info, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{
			ContentType:  opts.ContentType,
			UserMetadata: opts.Attributes,
			UserTags:     opts.Tags,
		})
	if err != nil {
		return store.PutResult{}, mapError(path, err)
	}
	return store.PutResult{ETag: info.ETag, Version: info.VersionID}, nil
}

// CreateMultipart implements store.Store.
func (s *Store) CreateMultipart(ctx context.Context, path string, opts store.PutOptions) (string, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return "", err
	}
	if err := s.checkWriteMode(ctx, path, opts); err != nil {
		return "", err
	}
	id, err := s.core.NewMultipartUpload(ctx, s.bucket, path, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Attributes,
		UserTags:     opts.Tags,
	})
	if err != nil {
		return "", mapError(path, err)
	}
	return id, nil
}

// UploadPart implements store.Store.
func (s *Store) UploadPart(ctx context.Context, path, uploadID string, number int, data []byte) (store.Part, error) {
	part, err := s.core.PutObjectPart(ctx, s.bucket, path, uploadID, number,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
	if err != nil {
		return store.Part{}, mapError(path, err)
	}
	return store.Part{Number: part.PartNumber, ETag: part.ETag}, nil
}

// CompleteMultipart implements store.Store.
func (s *Store) CompleteMultipart(ctx context.Context, path, uploadID string, parts []store.Part) (store.PutResult, error) {
	completed := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		completed[i] = minio.CompletePart{PartNumber: p.Number, ETag: p.ETag}
	}
	info, err := s.core.CompleteMultipartUpload(ctx, s.bucket, path, uploadID, completed, minio.PutObjectOptions{})
	if err != nil {
		return store.PutResult{}, mapError(path, err)
	}
	return store.PutResult{ETag: info.ETag, Version: info.VersionID}, nil
}

// AbortMultipart implements store.Store.
func (s *Store) AbortMultipart(ctx context.Context, path, uploadID string) error {
	return mapError(path, s.core.AbortMultipartUpload(ctx, s.bucket, path, uploadID))
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, path string) error {
	if _, err := s.Head(ctx, path); err != nil {
		return err
	}
	return mapError(path, s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}))
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
		if _, err := s.Head(ctx, dst); err == nil {
			return obserrors.New(obserrors.AlreadyExists, storeName, dst, "object exists")
		} else if !obserrors.IsKind(err, obserrors.NotFound) {
			return err
		}
	}
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: s.bucket, Object: src})
	return mapError(dst, err)
}

// Rename implements store.Store.
func (s *Store) Rename(ctx context.Context, src, dst string) error {
	if err := s.Copy(ctx, src, dst, false); err != nil {
		return err
	}
	return s.Delete(ctx, src)
}

// List implements store.Store. The continuation token is the marker of the
// V1 listing API, which the interop endpoint supports.
func (s *Store) List(ctx context.Context, prefix, token string, pageSize int) (store.ListPage, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	result, err := s.core.ListObjects(s.bucket, prefix, token, "", pageSize)
	if err != nil {
		return store.ListPage{}, mapError(prefix, err)
	}

	page := store.ListPage{Objects: make([]store.ObjectMeta, 0, len(result.Contents))}
	for _, obj := range result.Contents {
		page.Objects = append(page.Objects, store.ObjectMeta{
			Path:         obj.Key,
			LastModified: obj.LastModified,
			Size:         obj.Size,
			ETag:         obj.ETag,
		})
	}
	if result.IsTruncated {
		page.NextToken = result.NextMarker
		if page.NextToken == "" && len(result.Contents) > 0 {
			page.NextToken = result.Contents[len(result.Contents)-1].Key
		}
	}
	return page, nil
}

// ListWithDelimiter implements store.Store.
func (s *Store) ListWithDelimiter(ctx context.Context, prefix string) (store.ListResult, error) {
	var res store.ListResult
	marker := ""
	for {
		result, err := s.core.ListObjects(s.bucket, prefix, marker, "/", 1000)
		if err != nil {
			return store.ListResult{}, mapError(prefix, err)
		}
		for _, cp := range result.CommonPrefixes {
			res.CommonPrefixes = append(res.CommonPrefixes, cp.Prefix)
		}
		for _, obj := range result.Contents {
			res.Objects = append(res.Objects, store.ObjectMeta{
				Path:         obj.Key,
				LastModified: obj.LastModified,
				Size:         obj.Size,
				ETag:         obj.ETag,
			})
		}
		if !result.IsTruncated {
			sort.Strings(res.CommonPrefixes)
			return res, nil
		}
		marker = result.NextMarker
		if marker == "" && len(result.Contents) > 0 {
			marker = result.Contents[len(result.Contents)-1].Key
		}
	}
}

// SignURL implements store.Store.
func (s *Store) SignURL(ctx context.Context, method, path string, expiry time.Duration) (string, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return "", err
	}
	var u *url.URL
	var err error
	switch strings.ToUpper(method) {
	case http.MethodGet:
		u, err = s.client.PresignedGetObject(ctx, s.bucket, path, expiry, url.Values{})
	case http.MethodPut:
		u, err = s.client.PresignedPutObject(ctx, s.bucket, path, expiry)
	case http.MethodHead:
		u, err = s.client.PresignedHeadObject(ctx, s.bucket, path, expiry, url.Values{})
	default:
		return "", obserrors.New(obserrors.NotSupported, storeName, path, "cannot presign method %s", method)
	}
	if err != nil {
		return "", mapError(path, err)
	}
	return u.String(), nil
}

var _ store.Store = (*Store)(nil)
