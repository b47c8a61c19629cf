// Package azure implements the store backend for Azure Blob Storage over
// its REST API, using the shared pooled HTTP client.
//
// Multipart uploads map onto Put Block / Put Block List: parts are staged
// as uncommitted blocks and committed in part order at completion. Abort is
// a no-op because uncommitted blocks expire server-side after a week.
//
// Authentication is an opaque Credential that decorates each request; SAS
// tokens and bearer tokens are provided, account-key signing is not.
package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/machichima/obstore/internal/config"
	"github.com/machichima/obstore/internal/httputil"
	"github.com/machichima/obstore/pkg/obserrors"
)

const (
	storeName  = "azure"
	apiVersion = "2021-08-06"
)

// Credential decorates outgoing requests with authentication material.
type Credential interface {
	Apply(req *http.Request) error
}

// SASCredential appends a shared access signature to every request URL.
type SASCredential string

// Apply implements Credential.
func (c SASCredential) Apply(req *http.Request) error {
	sas := strings.TrimPrefix(string(c), "?")
	if req.URL.RawQuery == "" {
		req.URL.RawQuery = sas
	} else {
		req.URL.RawQuery += "&" + sas
	}
	return nil
}

// BearerCredential sets an OAuth bearer token on every request.
type BearerCredential string

// Apply implements Credential.
func (c BearerCredential) Apply(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+string(c))
	return nil
}

// AnonymousCredential leaves requests unsigned, for public containers and
// the emulator.
type AnonymousCredential struct{}

// Apply implements Credential.
func (AnonymousCredential) Apply(*http.Request) error { return nil }

// Store is the Azure Blob backend bound to one container.
type Store struct {
	client    *http.Client
	container *url.URL
	cred      Credential
}

// New builds an Azure store from resolved canonical configuration.
func New(cfg *config.Canonical, clientOpts config.ClientOptions) (*Store, error) {
	account := cfg.GetString(config.AzureAccountName, "")
	container, ok := cfg.Get(config.AzureContainerName)
	if !ok {
		return nil, obserrors.New(obserrors.Generic, storeName, "", "missing %s", config.AzureContainerName)
	}

	endpoint := cfg.GetString(config.AzureEndpoint, "")
	useEmulator, err := cfg.GetBool(config.AzureUseEmulator, false)
	if err != nil {
		return nil, err
	}
	switch {
	case endpoint != "":
	case useEmulator:
		endpoint = fmt.Sprintf("http://127.0.0.1:10000/%s", account)
	case account != "":
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", account)
	default:
		return nil, obserrors.New(obserrors.Generic, storeName, "",
			"missing %s or %s", config.AzureAccountName, config.AzureEndpoint)
	}

	base, err := url.Parse(strings.TrimSuffix(endpoint, "/") + "/" + container)
	if err != nil {
		return nil, fmt.Errorf("invalid azure endpoint: %w", err)
	}

	var cred Credential = AnonymousCredential{}
	if sas, ok := cfg.Get(config.AzureSASToken); ok {
		cred = SASCredential(sas)
	} else if token, ok := cfg.Get(config.AzureBearerToken); ok {
		cred = BearerCredential(token)
	}

	client, err := httputil.NewClient(clientOpts)
	if err != nil {
		return nil, err
	}
	return &Store{client: client, container: base, cred: cred}, nil
}

// NewWithCredential builds a store against an explicit endpoint and
// credential, bypassing canonical configuration. Used by tests.
func NewWithCredential(endpoint, container string, cred Credential, client *http.Client) (*Store, error) {
	base, err := url.Parse(strings.TrimSuffix(endpoint, "/") + "/" + container)
	if err != nil {
		return nil, fmt.Errorf("invalid azure endpoint: %w", err)
	}
	if cred == nil {
		cred = AnonymousCredential{}
	}
	if client == nil {
		client = httputil.Default()
	}
	return &Store{client: client, container: base, cred: cred}, nil
}

// Name implements store.Store.
func (s *Store) Name() string { return storeName }

func (s *Store) blobURL(path string) string {
	u := *s.container
	u.Path = u.Path + "/" + path
	return u.String()
}

// newRequest builds a request with the protocol headers and credential
// applied.
func (s *Store) newRequest(ctx context.Context, method, rawURL string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("x-ms-version", apiVersion)
	req.Header.Set("x-ms-date", time.Now().UTC().Format(http.TimeFormat))
	if err := s.cred.Apply(req); err != nil {
		return nil, obserrors.Wrap(obserrors.Unauthenticated, storeName, "", err)
	}
	return req, nil
}

// blockID encodes an upload-scoped block identifier. IDs within one blob
// must have equal pre-encoding length, so the part number is fixed-width.
func blockID(uploadID string, number int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%06d", uploadID, number)))
}

func newUploadID() string { return uuid.NewString() }
