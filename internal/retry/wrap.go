package retry

import (
	"context"
	"time"

	"github.com/machichima/obstore/internal/config"
	"github.com/machichima/obstore/internal/store"
)

// wrapped decorates a store with the retry loop. Only transient failures
// are retried; conditional and state errors pass through on first failure.
type wrapped struct {
	inner  store.Store
	policy config.RetryPolicy
}

// Wrap returns st with every operation retried per policy. A zero policy
// uses the defaults.
func Wrap(st store.Store, policy config.RetryPolicy) store.Store {
	return &wrapped{inner: st, policy: policy}
}

func (w *wrapped) Name() string { return w.inner.Name() }

func (w *wrapped) Head(ctx context.Context, path string) (store.ObjectMeta, error) {
	var meta store.ObjectMeta
	err := Do(ctx, w.policy, "head", func(ctx context.Context) error {
		var err error
		meta, err = w.inner.Head(ctx, path)
		return err
	})
	return meta, err
}

func (w *wrapped) Get(ctx context.Context, path string, opts store.GetOptions) (*store.GetResult, error) {
	var res *store.GetResult
	err := Do(ctx, w.policy, "get", func(ctx context.Context) error {
		var err error
		res, err = w.inner.Get(ctx, path, opts)
		return err
	})
	return res, err
}

func (w *wrapped) GetRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	var data []byte
	err := Do(ctx, w.policy, "get_range", func(ctx context.Context) error {
		var err error
		data, err = w.inner.GetRange(ctx, path, offset, length)
		return err
	})
	return data, err
}

func (w *wrapped) Put(ctx context.Context, path string, payload []byte, opts store.PutOptions) (store.PutResult, error) {
	var res store.PutResult
	err := Do(ctx, w.policy, "put", func(ctx context.Context) error {
		var err error
		res, err = w.inner.Put(ctx, path, payload, opts)
		return err
	})
	return res, err
}

func (w *wrapped) CreateMultipart(ctx context.Context, path string, opts store.PutOptions) (string, error) {
	var id string
	err := Do(ctx, w.policy, "create_multipart", func(ctx context.Context) error {
		var err error
		id, err = w.inner.CreateMultipart(ctx, path, opts)
		return err
	})
	return id, err
}

func (w *wrapped) UploadPart(ctx context.Context, path, uploadID string, number int, data []byte) (store.Part, error) {
	var part store.Part
	err := Do(ctx, w.policy, "upload_part", func(ctx context.Context) error {
		var err error
		part, err = w.inner.UploadPart(ctx, path, uploadID, number, data)
		return err
	})
	return part, err
}

func (w *wrapped) CompleteMultipart(ctx context.Context, path, uploadID string, parts []store.Part) (store.PutResult, error) {
	var res store.PutResult
	err := Do(ctx, w.policy, "complete_multipart", func(ctx context.Context) error {
		var err error
		res, err = w.inner.CompleteMultipart(ctx, path, uploadID, parts)
		return err
	})
	return res, err
}

func (w *wrapped) AbortMultipart(ctx context.Context, path, uploadID string) error {
	return Do(ctx, w.policy, "abort_multipart", func(ctx context.Context) error {
		return w.inner.AbortMultipart(ctx, path, uploadID)
	})
}

func (w *wrapped) Delete(ctx context.Context, path string) error {
	return Do(ctx, w.policy, "delete", func(ctx context.Context) error {
		return w.inner.Delete(ctx, path)
	})
}

func (w *wrapped) Copy(ctx context.Context, src, dst string, ifNotExists bool) error {
	return Do(ctx, w.policy, "copy", func(ctx context.Context) error {
		return w.inner.Copy(ctx, src, dst, ifNotExists)
	})
}

func (w *wrapped) Rename(ctx context.Context, src, dst string) error {
	return Do(ctx, w.policy, "rename", func(ctx context.Context) error {
		return w.inner.Rename(ctx, src, dst)
	})
}

func (w *wrapped) List(ctx context.Context, prefix, token string, pageSize int) (store.ListPage, error) {
	var page store.ListPage
	err := Do(ctx, w.policy, "list", func(ctx context.Context) error {
		var err error
		page, err = w.inner.List(ctx, prefix, token, pageSize)
		return err
	})
	return page, err
}

func (w *wrapped) ListWithDelimiter(ctx context.Context, prefix string) (store.ListResult, error) {
	var res store.ListResult
	err := Do(ctx, w.policy, "list_with_delimiter", func(ctx context.Context) error {
		var err error
		res, err = w.inner.ListWithDelimiter(ctx, prefix)
		return err
	})
	return res, err
}

func (w *wrapped) SignURL(ctx context.Context, method, path string, expiry time.Duration) (string, error) {
	var url string
	err := Do(ctx, w.policy, "sign_url", func(ctx context.Context) error {
		var err error
		url, err = w.inner.SignURL(ctx, method, path, expiry)
		return err
	})
	return url, err
}
