// Package store defines the capability interface every object storage
// backend implements, together with the shared request and result types.
//
// The variant set is closed: memory, local filesystem, S3-compatible, GCS,
// Azure Blob, and generic HTTP, each in its own subpackage. Callers hold a
// Store and never branch on the concrete backend; operations a backend
// cannot perform return NotSupported.
//
// Example usage:
//
//	st := memory.New()
//	_, err := st.Put(ctx, "logs/app.log", data, store.PutOptions{})
//	meta, err := st.Head(ctx, "logs/app.log")
package store

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/machichima/obstore/pkg/obserrors"
)

// Store is the uniform capability interface over a single bucket or
// container. Paths are slash-separated keys relative to the store root.
type Store interface {
	// Name returns the backend identifier used in errors and metrics
	// ("memory", "local", "s3", "gcs", "azure", "http").
	Name() string

	// Head fetches object metadata without the payload.
	Head(ctx context.Context, path string) (ObjectMeta, error)

	// Get fetches metadata and a payload reader, honoring the range and
	// conditional options.
	Get(ctx context.Context, path string, opts GetOptions) (*GetResult, error)

	// GetRange fetches length bytes starting at offset. length < 0 reads
	// through the end of the object.
	GetRange(ctx context.Context, path string, offset, length int64) ([]byte, error)

	// Put stores a complete object in a single request.
	Put(ctx context.Context, path string, payload []byte, opts PutOptions) (PutResult, error)

	// CreateMultipart starts a multipart upload and returns its id.
	CreateMultipart(ctx context.Context, path string, opts PutOptions) (string, error)

	// UploadPart stores one part. Part numbers start at 1 and need not
	// arrive in order.
	UploadPart(ctx context.Context, path, uploadID string, number int, data []byte) (Part, error)

	// CompleteMultipart assembles the parts into the final object. Parts
	// must be sorted by number before the call.
	CompleteMultipart(ctx context.Context, path, uploadID string, parts []Part) (PutResult, error)

	// AbortMultipart discards an in-progress upload and its parts.
	AbortMultipart(ctx context.Context, path, uploadID string) error

	// Delete removes an object. Deleting a missing object returns NotFound.
	Delete(ctx context.Context, path string) error

	// Copy duplicates src to dst within the store. With ifNotExists set,
	// an existing dst fails with AlreadyExists.
	Copy(ctx context.Context, src, dst string, ifNotExists bool) error

	// Rename moves src to dst within the store.
	Rename(ctx context.Context, src, dst string) error

	// List returns one page of objects under prefix, resuming from token.
	// An empty NextToken marks the final page.
	List(ctx context.Context, prefix, token string, pageSize int) (ListPage, error)

	// ListWithDelimiter lists directly under prefix, grouping deeper keys
	// into common prefixes.
	ListWithDelimiter(ctx context.Context, prefix string) (ListResult, error)

	// SignURL produces a presigned URL for the given HTTP method and path.
	SignURL(ctx context.Context, method, path string, expiry time.Duration) (string, error)
}

// ObjectMeta describes one stored object.
type ObjectMeta struct {
	Path         string
	LastModified time.Time
	Size         int64
	ETag         string
	Version      string
}

// GetResult carries the metadata and payload stream of a Get.
type GetResult struct {
	Meta ObjectMeta
	Body io.ReadCloser
}

// GetOptions are the conditional and range options of a Get.
type GetOptions struct {
	// IfMatch fails with PreconditionFailed unless the ETag matches.
	IfMatch string
	// IfNoneMatch fails with NotModified when the ETag matches.
	IfNoneMatch string
	// IfModifiedSince fails with NotModified unless newer.
	IfModifiedSince time.Time
	// IfUnmodifiedSince fails with PreconditionFailed if newer.
	IfUnmodifiedSince time.Time
	// Offset/Length select a byte range; Length < 0 reads to the end.
	// Range is applied when Length != 0 or Offset > 0.
	Offset int64
	Length int64
}

// RangeRequested reports whether the options select a byte range.
func (o GetOptions) RangeRequested() bool {
	return o.Offset > 0 || o.Length != 0
}

// PutMode selects the write precondition.
type PutMode uint8

const (
	// Overwrite writes unconditionally.
	Overwrite PutMode = iota
	// Create fails with AlreadyExists when the path is present.
	Create
	// Update fails with PreconditionFailed unless the current object
	// matches UpdateETag.
	Update
)

// PutOptions are the attributes and precondition of a Put or multipart
// upload.
type PutOptions struct {
	Mode        PutMode
	UpdateETag  string
	ContentType string
	// Tags and Attributes are passed through to backends that support
	// object tagging and user metadata.
	Tags       map[string]string
	Attributes map[string]string
}

// PutResult reports the outcome of a completed write.
type PutResult struct {
	ETag    string
	Version string
}

// Part identifies one uploaded part of a multipart upload.
type Part struct {
	Number int
	ETag   string
}

// ListPage is one chunk of a paged listing.
type ListPage struct {
	Objects   []ObjectMeta
	NextToken string
}

// ListResult is a delimiter listing: objects directly under the prefix plus
// the common prefixes one level deeper.
type ListResult struct {
	CommonPrefixes []string
	Objects        []ObjectMeta
}

// ValidatePath rejects malformed keys before they reach a backend. Keys are
// relative, slash-separated, without empty, "." or ".." segments.
func ValidatePath(name, path string) error {
	if path == "" {
		return obserrors.New(obserrors.InvalidPath, name, path, "empty path")
	}
	if strings.HasPrefix(path, "/") {
		return obserrors.New(obserrors.InvalidPath, name, path, "path must be relative")
	}
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "":
			return obserrors.New(obserrors.InvalidPath, name, path, "empty path segment")
		case ".", "..":
			return obserrors.New(obserrors.InvalidPath, name, path, "relative path segment %q", seg)
		}
	}
	return nil
}
