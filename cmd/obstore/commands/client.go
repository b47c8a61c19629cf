// Package commands implements the obstore CLI commands.
package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/machichima/obstore/internal/config"
	"github.com/machichima/obstore/internal/retry"
	"github.com/machichima/obstore/internal/store"
	"github.com/machichima/obstore/internal/store/azure"
	"github.com/machichima/obstore/internal/store/gcs"
	"github.com/machichima/obstore/internal/store/httpstore"
	"github.com/machichima/obstore/internal/store/local"
	"github.com/machichima/obstore/internal/store/memory"
	"github.com/machichima/obstore/internal/store/s3"
	"github.com/machichima/obstore/pkg/obserrors"
)

// Flag values shared by all commands, bound in main.
var (
	// ProfilePath is the YAML profile location, empty for the default.
	ProfilePath string
	// Overrides holds repeated -o key=value store option overrides.
	Overrides []string
)

// profile holds the per-family option maps read from the YAML profile.
type profile struct {
	sections map[config.Family]map[string]string
}

func defaultProfilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".obstore", "config.yaml")
}

// loadProfile reads the YAML profile. A missing file is not an error; a
// malformed one is.
func loadProfile() (*profile, error) {
	path := ProfilePath
	if path == "" {
		path = defaultProfilePath()
	}

	p := &profile{sections: make(map[config.Family]map[string]string)}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return p, nil
		}
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("loaded profile")

	for _, family := range []config.Family{
		config.FamilyS3, config.FamilyGCS, config.FamilyAzure,
		config.FamilyClient, config.FamilyRetry,
	} {
		section := v.GetStringMapString(string(family))
		if len(section) > 0 {
			p.sections[family] = section
		}
	}
	return p, nil
}

func (p *profile) section(family config.Family) map[string]string {
	out := make(map[string]string, len(p.sections[family]))
	for k, val := range p.sections[family] {
		out[k] = val
	}
	return out
}

// routeOverrides splits -o key=value flags between the backend family and
// the shared client and retry families, by which table knows the key.
// Unroutable keys go to the backend family so resolution reports them.
func routeOverrides(t *config.Table) (backend, client, retryOv map[string]string, err error) {
	backend = make(map[string]string)
	client = make(map[string]string)
	retryOv = make(map[string]string)

	for _, raw := range Overrides {
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, nil, nil, fmt.Errorf("invalid option %q, expected key=value", raw)
		}
		switch {
		case lookupOK(t, key):
			backend[key] = value
		case lookupOK(config.Client, key):
			client[key] = value
		case lookupOK(config.Retry, key):
			retryOv[key] = value
		default:
			backend[key] = value
		}
	}
	return backend, client, retryOv, nil
}

func lookupOK(t *config.Table, key string) bool {
	_, ok := t.Lookup(key)
	return ok
}

// setCanonical forces one canonical key to a value, dropping any alias
// spellings of it the map already carries.
func setCanonical(t *config.Table, m map[string]string, canonical, value string) {
	for k := range m {
		if resolved, ok := t.Lookup(k); ok && resolved == canonical {
			delete(m, k)
		}
	}
	m[canonical] = value
}

// resolved bundles the three canonical sets every network backend needs.
type resolved struct {
	backend *config.Canonical
	client  config.ClientOptions
	retries config.RetryPolicy
}

func resolveFamily(p *profile, t *config.Table, adjust func(map[string]string)) (*resolved, error) {
	env := config.EnvSnapshot(os.Environ())

	explicit := p.section(t.Family())
	if adjust != nil {
		adjust(explicit)
	}
	backendOv, clientOv, retryOv, err := routeOverrides(t)
	if err != nil {
		return nil, err
	}

	backend, err := config.Resolve(t, explicit, backendOv, env)
	if err != nil {
		return nil, err
	}
	clientCfg, err := config.Resolve(config.Client, p.section(config.FamilyClient), clientOv, env)
	if err != nil {
		return nil, err
	}
	clientOpts, err := config.ClientOptionsFrom(clientCfg)
	if err != nil {
		return nil, err
	}
	retryCfg, err := config.Resolve(config.Retry, p.section(config.FamilyRetry), retryOv, env)
	if err != nil {
		return nil, err
	}
	policy, err := config.RetryPolicyFrom(retryCfg)
	if err != nil {
		return nil, err
	}
	return &resolved{backend: backend, client: clientOpts, retries: policy}, nil
}

// memStore is shared so successive commands in one process (and tests)
// observe each other's writes.
var memStore = memory.New()

// OpenStore builds the store named by the URL scheme and returns it with
// the object path (or prefix) inside it. Network stores are wrapped with
// the retry decorator.
func OpenStore(ctx context.Context, rawURL string) (store.Store, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	path := strings.TrimPrefix(u.Path, "/")

	prof, err := loadProfile()
	if err != nil {
		return nil, "", err
	}

	switch u.Scheme {
	case "s3":
		res, err := resolveFamily(prof, config.S3, func(explicit map[string]string) {
			setCanonical(config.S3, explicit, config.S3Bucket, u.Host)
		})
		if err != nil {
			return nil, "", err
		}
		st, err := s3.New(ctx, res.backend, res.client)
		if err != nil {
			return nil, "", err
		}
		return retry.Wrap(st, res.retries), path, nil

	case "gs":
		res, err := resolveFamily(prof, config.GCS, func(explicit map[string]string) {
			setCanonical(config.GCS, explicit, config.GCSBucket, u.Host)
		})
		if err != nil {
			return nil, "", err
		}
		st, err := gcs.New(res.backend, res.client)
		if err != nil {
			return nil, "", err
		}
		return retry.Wrap(st, res.retries), path, nil

	case "az":
		res, err := resolveFamily(prof, config.Azure, func(explicit map[string]string) {
			setCanonical(config.Azure, explicit, config.AzureContainerName, u.Host)
		})
		if err != nil {
			return nil, "", err
		}
		st, err := azure.New(res.backend, res.client)
		if err != nil {
			return nil, "", err
		}
		return retry.Wrap(st, res.retries), path, nil

	case "http", "https":
		res, err := resolveFamily(prof, config.Client, nil)
		if err != nil {
			return nil, "", err
		}
		// The client table is the backend family here, so overrides
		// routed to it land in res.backend.
		clientOpts, err := config.ClientOptionsFrom(res.backend)
		if err != nil {
			return nil, "", err
		}
		st, err := httpstore.New(u.Scheme+"://"+u.Host, clientOpts)
		if err != nil {
			return nil, "", err
		}
		return retry.Wrap(st, res.retries), path, nil

	case "file":
		root := u.Path
		if u.Host != "" {
			root = u.Host + u.Path
		}
		dir, key := filepath.Split(root)
		st, err := local.New(dir)
		if err != nil {
			return nil, "", err
		}
		return st, key, nil

	case "memory":
		return memStore, path, nil

	default:
		return nil, "", obserrors.New(obserrors.NotSupported, u.Scheme, path,
			"unknown URL scheme %q", u.Scheme)
	}
}
