package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/machichima/obstore/internal/config"
	"github.com/machichima/obstore/internal/store"
	"github.com/machichima/obstore/pkg/obserrors"
)

func rangeHeader(offset, length int64) string {
	if length < 0 {
		return fmt.Sprintf("bytes=%d-", offset)
	}
	return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
}

// Head implements store.Store.
func (s *Store) Head(ctx context.Context, path string) (store.ObjectMeta, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return store.ObjectMeta{}, err
	}
	out, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return store.ObjectMeta{}, mapError(path, err)
	}
	meta := store.ObjectMeta{
		Path: path,
		Size: aws.ToInt64(out.ContentLength),
		ETag: derefETag(out.ETag),
	}
	if out.LastModified != nil {
		meta.LastModified = *out.LastModified
	}
	if out.VersionId != nil {
		meta.Version = *out.VersionId
	}
	return meta, nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, path string, opts store.GetOptions) (*store.GetResult, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return nil, err
	}
	in := &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	}
	if opts.IfMatch != "" {
		in.IfMatch = aws.String(opts.IfMatch)
	}
	if opts.IfNoneMatch != "" {
		in.IfNoneMatch = aws.String(opts.IfNoneMatch)
	}
	if !opts.IfModifiedSince.IsZero() {
		in.IfModifiedSince = aws.Time(opts.IfModifiedSince)
	}
	if !opts.IfUnmodifiedSince.IsZero() {
		in.IfUnmodifiedSince = aws.Time(opts.IfUnmodifiedSince)
	}
	if opts.RangeRequested() {
		length := opts.Length
		if length == 0 {
			length = -1
		}
		in.Range = aws.String(rangeHeader(opts.Offset, length))
	}

	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		return nil, mapError(path, err)
	}
	meta := store.ObjectMeta{
		Path: path,
		Size: aws.ToInt64(out.ContentLength),
		ETag: derefETag(out.ETag),
	}
	if out.LastModified != nil {
		meta.LastModified = *out.LastModified
	}
	if out.VersionId != nil {
		meta.Version = *out.VersionId
	}
	return &store.GetResult{Meta: meta, Body: out.Body}, nil
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

func applyPutOptions(in *awss3.PutObjectInput, opts store.PutOptions) error {
	if opts.Mode == store.Update {
		if opts.UpdateETag == "" {
			return obserrors.New(obserrors.Generic, storeName, aws.ToString(in.Key),
				"update mode requires an etag")
		}
		in.IfMatch = aws.String(opts.UpdateETag)
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Tags) > 0 {
		in.Tagging = aws.String(encodeTags(opts.Tags))
	}
	if len(opts.Attributes) > 0 {
		in.Metadata = opts.Attributes
	}
	return nil
}

// applyCreateStrategy configures a create-mode request per the configured
// conditional-put strategy. The returned option decorates the call when the
// strategy works through a custom header.
func applyCreateStrategy(strat config.WriteStrategy, setIfNoneMatch func()) (func(*awss3.Options), error) {
	switch strat.Mode {
	case config.StrategyETag:
		setIfNoneMatch()
		return nil, nil
	case config.StrategyHeader, config.StrategyHeaderWithStatus:
		return awss3.WithAPIOptions(smithyhttp.AddHeaderValue(strat.Header, strat.HeaderValue)), nil
	default:
		return nil, obserrors.New(obserrors.NotSupported, storeName, "",
			"conditional writes via a coordination table are not available")
	}
}

// lostCreateRace reports whether a create-mode failure means the object
// already existed, per the strategy in effect.
func lostCreateRace(strat config.WriteStrategy, raw, mapped error) bool {
	if strat.Mode == config.StrategyHeaderWithStatus {
		var re *smithyhttp.ResponseError
		return errors.As(raw, &re) && re.HTTPStatusCode() == strat.Status
	}
	return obserrors.IsKind(mapped, obserrors.Precondition) ||
		obserrors.IsKind(mapped, obserrors.AlreadyExists)
}

func encodeTags(tags map[string]string) string {
	pairs := make([]string, 0, len(tags))
	for k, v := range tags {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// Put implements store.Store. Create mode enforces the configured
// conditional-put strategy (If-None-Match: * by default) and surfaces the
// lost race as AlreadyExists.
func (s *Store) Put(ctx context.Context, path string, payload []byte, opts store.PutOptions) (store.PutResult, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return store.PutResult{}, err
	}
	in := &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(payload),
	}
	if err := applyPutOptions(in, opts); err != nil {
		return store.PutResult{}, err
	}
	var callOpts []func(*awss3.Options)
	if opts.Mode == store.Create {
		opt, err := applyCreateStrategy(s.putStrategy, func() { in.IfNoneMatch = aws.String("*") })
		if err != nil {
			return store.PutResult{}, err
		}
		if opt != nil {
			callOpts = append(callOpts, opt)
		}
	}

	out, err := s.client.PutObject(ctx, in, callOpts...)
	if err != nil {
		mapped := mapError(path, err)
		if opts.Mode == store.Create && lostCreateRace(s.putStrategy, err, mapped) {
			return store.PutResult{}, obserrors.New(obserrors.AlreadyExists, storeName, path, "object exists")
		}
		return store.PutResult{}, mapped
	}
	res := store.PutResult{ETag: derefETag(out.ETag)}
	if out.VersionId != nil {
		res.Version = *out.VersionId
	}
	return res, nil
}

// CreateMultipart implements store.Store.
func (s *Store) CreateMultipart(ctx context.Context, path string, opts store.PutOptions) (string, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return "", err
	}
	in := &awss3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Tags) > 0 {
		in.Tagging = aws.String(encodeTags(opts.Tags))
	}
	if len(opts.Attributes) > 0 {
		in.Metadata = opts.Attributes
	}
	out, err := s.client.CreateMultipartUpload(ctx, in)
	if err != nil {
		return "", mapError(path, err)
	}
	return aws.ToString(out.UploadId), nil
}

// UploadPart implements store.Store.
func (s *Store) UploadPart(ctx context.Context, path, uploadID string, number int, data []byte) (store.Part, error) {
	out, err := s.client.UploadPart(ctx, &awss3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(path),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(number)),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return store.Part{}, mapError(path, err)
	}
	return store.Part{Number: number, ETag: derefETag(out.ETag)}, nil
}

// CompleteMultipart implements store.Store.
func (s *Store) CompleteMultipart(ctx context.Context, path, uploadID string, parts []store.Part) (store.PutResult, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(int32(p.Number)),
			ETag:       aws.String(p.ETag),
		}
	}
	out, err := s.client.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(path),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return store.PutResult{}, mapError(path, err)
	}
	res := store.PutResult{ETag: derefETag(out.ETag)}
	if out.VersionId != nil {
		res.Version = *out.VersionId
	}
	return res, nil
}

// AbortMultipart implements store.Store.
func (s *Store) AbortMultipart(ctx context.Context, path, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &awss3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(path),
		UploadId: aws.String(uploadID),
	})
	return mapError(path, err)
}

// Delete implements store.Store. S3 deletes are idempotent, so a missing
// key is surfaced as NotFound via a preceding head.
func (s *Store) Delete(ctx context.Context, path string) error {
	if _, err := s.Head(ctx, path); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	return mapError(path, err)
}

// Copy implements store.Store. With the default etag strategy the
// if-not-exists check is head-then-copy, and a concurrent create between
// the two calls wins the race; header strategies push the condition to the
// service instead.
func (s *Store) Copy(ctx context.Context, src, dst string, ifNotExists bool) error {
	if err := store.ValidatePath(storeName, src); err != nil {
		return err
	}
	if err := store.ValidatePath(storeName, dst); err != nil {
		return err
	}
	var callOpts []func(*awss3.Options)
	if ifNotExists {
		switch s.copyStrategy.Mode {
		case config.StrategyHeader, config.StrategyHeaderWithStatus:
			callOpts = append(callOpts,
				awss3.WithAPIOptions(smithyhttp.AddHeaderValue(s.copyStrategy.Header, s.copyStrategy.HeaderValue)))
		case config.StrategyDynamo:
			return obserrors.New(obserrors.NotSupported, storeName, dst,
				"conditional writes via a coordination table are not available")
		default:
			if _, err := s.Head(ctx, dst); err == nil {
				return obserrors.New(obserrors.AlreadyExists, storeName, dst, "object exists")
			} else if !obserrors.IsKind(err, obserrors.NotFound) {
				return err
			}
		}
	}
	_, err := s.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(s.bucket + "/" + src),
	}, callOpts...)
	if err != nil {
		mapped := mapError(dst, err)
		if ifNotExists && lostCreateRace(s.copyStrategy, err, mapped) {
			return obserrors.New(obserrors.AlreadyExists, storeName, dst, "object exists")
		}
		return mapped
	}
	return nil
}

// Rename implements store.Store. S3 has no native move; copy then delete.
func (s *Store) Rename(ctx context.Context, src, dst string) error {
	if err := s.Copy(ctx, src, dst, false); err != nil {
		return err
	}
	return s.Delete(ctx, src)
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, prefix, token string, pageSize int) (store.ListPage, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	in := &awss3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(int32(pageSize)),
	}
	if token != "" {
		in.ContinuationToken = aws.String(token)
	}
	out, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		return store.ListPage{}, mapError(prefix, err)
	}

	page := store.ListPage{Objects: make([]store.ObjectMeta, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		meta := store.ObjectMeta{
			Path: aws.ToString(obj.Key),
			Size: aws.ToInt64(obj.Size),
			ETag: derefETag(obj.ETag),
		}
		if obj.LastModified != nil {
			meta.LastModified = *obj.LastModified
		}
		page.Objects = append(page.Objects, meta)
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

// ListWithDelimiter implements store.Store.
func (s *Store) ListWithDelimiter(ctx context.Context, prefix string) (store.ListResult, error) {
	var res store.ListResult
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return store.ListResult{}, mapError(prefix, err)
		}
		for _, cp := range out.CommonPrefixes {
			res.CommonPrefixes = append(res.CommonPrefixes, aws.ToString(cp.Prefix))
		}
		for _, obj := range out.Contents {
			meta := store.ObjectMeta{
				Path: aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
				ETag: derefETag(obj.ETag),
			}
			if obj.LastModified != nil {
				meta.LastModified = *obj.LastModified
			}
			res.Objects = append(res.Objects, meta)
		}
		if !aws.ToBool(out.IsTruncated) {
			return res, nil
		}
		token = out.NextContinuationToken
	}
}

// SignURL implements store.Store.
func (s *Store) SignURL(ctx context.Context, method, path string, expiry time.Duration) (string, error) {
	if err := store.ValidatePath(storeName, path); err != nil {
		return "", err
	}
	expires := awss3.WithPresignExpires(expiry)
	switch strings.ToUpper(method) {
	case "GET":
		out, err := s.presign.PresignGetObject(ctx, &awss3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(path),
		}, expires)
		if err != nil {
			return "", mapError(path, err)
		}
		return out.URL, nil
	case "PUT":
		out, err := s.presign.PresignPutObject(ctx, &awss3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(path),
		}, expires)
		if err != nil {
			return "", mapError(path, err)
		}
		return out.URL, nil
	case "DELETE":
		out, err := s.presign.PresignDeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(path),
		}, expires)
		if err != nil {
			return "", mapError(path, err)
		}
		return out.URL, nil
	}
	return "", obserrors.New(obserrors.NotSupported, storeName, path, "cannot presign method %s", method)
}

var _ store.Store = (*Store)(nil)
