package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/machichima/obstore/pkg/obserrors"
)

// Defaults for the HTTP client view.
const (
	DefaultConnectTimeout     = 5 * time.Second
	DefaultRequestTimeout     = 30 * time.Second
	DefaultPoolIdleTimeout    = 90 * time.Second
	DefaultPoolMaxIdlePerHost = 32
)

// ClientOptions is the typed view of the client family consumed by
// internal/httputil.
type ClientOptions struct {
	AllowHTTP          bool
	AllowInvalidCerts  bool
	ConnectTimeout     time.Duration
	Timeout            time.Duration
	PoolIdleTimeout    time.Duration
	PoolMaxIdlePerHost int
	HTTP1Only          bool
	HTTP2Only          bool
	ProxyURL           string
	UserAgent          string
	DefaultContentType string
}

// DefaultClientOptions returns the options used when no client keys are set.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ConnectTimeout:     DefaultConnectTimeout,
		Timeout:            DefaultRequestTimeout,
		PoolIdleTimeout:    DefaultPoolIdleTimeout,
		PoolMaxIdlePerHost: DefaultPoolMaxIdlePerHost,
		UserAgent:          "obstore-go",
	}
}

// ClientOptionsFrom builds the typed view from a resolved client family.
func ClientOptionsFrom(c *Canonical) (ClientOptions, error) {
	opts := DefaultClientOptions()
	var err error
	if opts.AllowHTTP, err = c.GetBool(ClientAllowHTTP, opts.AllowHTTP); err != nil {
		return opts, err
	}
	if opts.AllowInvalidCerts, err = c.GetBool(ClientAllowInvalidCerts, opts.AllowInvalidCerts); err != nil {
		return opts, err
	}
	if opts.ConnectTimeout, err = c.GetDuration(ClientConnectTimeout, opts.ConnectTimeout); err != nil {
		return opts, err
	}
	if opts.Timeout, err = c.GetDuration(ClientTimeout, opts.Timeout); err != nil {
		return opts, err
	}
	if opts.PoolIdleTimeout, err = c.GetDuration(ClientPoolIdleTimeout, opts.PoolIdleTimeout); err != nil {
		return opts, err
	}
	maxIdle, err := c.GetInt(ClientPoolMaxIdlePerHost, int64(opts.PoolMaxIdlePerHost))
	if err != nil {
		return opts, err
	}
	opts.PoolMaxIdlePerHost = int(maxIdle)
	if opts.HTTP1Only, err = c.GetBool(ClientHTTP1Only, false); err != nil {
		return opts, err
	}
	if opts.HTTP2Only, err = c.GetBool(ClientHTTP2Only, false); err != nil {
		return opts, err
	}
	opts.ProxyURL = c.GetString(ClientProxyURL, "")
	opts.UserAgent = c.GetString(ClientUserAgent, opts.UserAgent)
	opts.DefaultContentType = c.GetString(ClientDefaultContentType, "")
	return opts, nil
}

// Defaults for the retry view.
const (
	DefaultMaxRetries   = 10
	DefaultRetryTimeout = 3 * time.Minute
	DefaultInitBackoff  = 100 * time.Millisecond
	DefaultMaxBackoff   = 15 * time.Second
	DefaultBackoffBase  = 2.0
)

// RetryPolicy is the typed view of the retry family consumed by
// internal/retry.
type RetryPolicy struct {
	MaxRetries   int
	RetryTimeout time.Duration
	InitBackoff  time.Duration
	MaxBackoff   time.Duration
	BackoffBase  float64
}

// DefaultRetryPolicy returns the policy used when no retry keys are set.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   DefaultMaxRetries,
		RetryTimeout: DefaultRetryTimeout,
		InitBackoff:  DefaultInitBackoff,
		MaxBackoff:   DefaultMaxBackoff,
		BackoffBase:  DefaultBackoffBase,
	}
}

// RetryPolicyFrom builds the typed view from a resolved retry family.
func RetryPolicyFrom(c *Canonical) (RetryPolicy, error) {
	p := DefaultRetryPolicy()
	maxRetries, err := c.GetInt(RetryMaxRetries, int64(p.MaxRetries))
	if err != nil {
		return p, err
	}
	p.MaxRetries = int(maxRetries)
	if p.RetryTimeout, err = c.GetDuration(RetryTimeout, p.RetryTimeout); err != nil {
		return p, err
	}
	if p.InitBackoff, err = c.GetDuration(RetryInitBackoff, p.InitBackoff); err != nil {
		return p, err
	}
	if p.MaxBackoff, err = c.GetDuration(RetryMaxBackoff, p.MaxBackoff); err != nil {
		return p, err
	}
	if raw, ok := c.Get(RetryBackoffBase); ok {
		f, parseErr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if parseErr != nil || f <= 1 {
			return p, obserrors.New(obserrors.Generic, string(c.family), "",
				"invalid backoff base %q: must be a number greater than 1", raw)
		}
		p.BackoffBase = f
	}
	return p, nil
}
