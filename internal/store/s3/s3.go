// Package s3 implements the store backend for S3 and S3-compatible
// services on aws-sdk-go-v2. Credentials resolve from the canonical
// configuration when supplied and fall back to the SDK's default chain.
package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/machichima/obstore/internal/config"
	"github.com/machichima/obstore/internal/httputil"
	"github.com/machichima/obstore/pkg/obserrors"
)

const storeName = "s3"

// Store is the S3 backend bound to one bucket.
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string

	// Conditional-write strategies from aws_conditional_put and
	// aws_copy_if_not_exists, parsed at construction.
	putStrategy  config.WriteStrategy
	copyStrategy config.WriteStrategy
}

// New builds an S3 store from resolved canonical configuration.
func New(ctx context.Context, cfg *config.Canonical, clientOpts config.ClientOptions) (*Store, error) {
	bucket, ok := cfg.Get(config.S3Bucket)
	if !ok {
		return nil, obserrors.New(obserrors.Generic, storeName, "", "missing %s", config.S3Bucket)
	}
	putStrategy, err := config.ParseWriteStrategy(cfg.GetString(config.S3ConditionalPut, ""))
	if err != nil {
		return nil, err
	}
	copyStrategy, err := config.ParseWriteStrategy(cfg.GetString(config.S3CopyIfNotExists, ""))
	if err != nil {
		return nil, err
	}

	httpClient, err := httputil.NewClient(clientOpts)
	if err != nil {
		return nil, err
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	region := cfg.GetString(config.S3Region, cfg.GetString(config.S3DefaultRegion, ""))
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if keyID, ok := cfg.Get(config.S3AccessKeyID); ok {
		secret := cfg.GetString(config.S3SecretAccessKey, "")
		token := cfg.GetString(config.S3SessionToken, "")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keyID, secret, token)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	virtualHosted, err := cfg.GetBool(config.S3VirtualHostedStyle, false)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint, ok := cfg.Get(config.S3Endpoint); ok {
			o.BaseEndpoint = aws.String(endpoint)
			// Compatible services usually require path-style addressing.
			o.UsePathStyle = !virtualHosted
		}
	})

	return &Store{
		client:       client,
		presign:      s3.NewPresignClient(client),
		bucket:       bucket,
		putStrategy:  putStrategy,
		copyStrategy: copyStrategy,
	}, nil
}

// Name implements store.Store.
func (s *Store) Name() string { return storeName }

// mapError converts SDK failures into the shared error vocabulary.
func mapError(path string, err error) error {
	if err == nil {
		return nil
	}

	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return obserrors.Wrap(obserrors.NotFound, storeName, path, err)
	}

	var api smithy.APIError
	if errors.As(err, &api) {
		switch api.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchUpload":
			return obserrors.Wrap(obserrors.NotFound, storeName, path, err)
		case "PreconditionFailed":
			return obserrors.Wrap(obserrors.Precondition, storeName, path, err)
		case "NotModified":
			return obserrors.Wrap(obserrors.NotModified, storeName, path, err)
		case "AccessDenied":
			return obserrors.Wrap(obserrors.PermissionDenied, storeName, path, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return obserrors.Wrap(obserrors.Unauthenticated, storeName, path, err)
		case "RequestTimeout":
			return obserrors.Wrap(obserrors.Timeout, storeName, path, err)
		case "SlowDown", "InternalError", "ServiceUnavailable":
			e := obserrors.Wrap(obserrors.Generic, storeName, path, err)
			e.Retryable = true
			return e
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return obserrors.Wrap(obserrors.Timeout, storeName, path, err)
	}
	return obserrors.Wrap(obserrors.Generic, storeName, path, err)
}

func derefETag(etag *string) string {
	if etag == nil {
		return ""
	}
	return *etag
}
