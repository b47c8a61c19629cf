// Package httputil builds the pooled HTTP clients shared by the REST
// backends, driven by the canonical client configuration family.
package httputil

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/machichima/obstore/internal/config"
	"github.com/machichima/obstore/pkg/obserrors"
)

// Transport defaults not exposed through the client option family.
const (
	DefaultMaxIdleConns        = 100
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultExpectContinue      = 1 * time.Second
)

// NewClient builds an HTTP client from resolved client options.
//
// Connection pool sizing, timeouts, protocol selection, TLS verification and
// proxying all come from opts; everything left at its zero value falls back
// to the defaults in config.DefaultClientOptions.
func NewClient(opts config.ClientOptions) (*http.Client, error) {
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = config.DefaultConnectTimeout
	}
	idleTimeout := opts.PoolIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = config.DefaultPoolIdleTimeout
	}
	maxIdlePerHost := opts.PoolMaxIdlePerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = config.DefaultPoolMaxIdlePerHost
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if opts.AllowInvalidCerts {
		tlsConfig.InsecureSkipVerify = true
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:     !opts.HTTP1Only,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		IdleConnTimeout:       idleTimeout,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ExpectContinueTimeout: DefaultExpectContinue,
		TLSClientConfig:       tlsConfig,
	}

	if opts.HTTP1Only {
		// Forces HTTP/1.1 by clearing the h2 upgrade path.
		transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	if opts.ProxyURL != "" {
		proxy, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, obserrors.New(obserrors.Generic, "", "",
				"invalid proxy url %q: %v", opts.ProxyURL, err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}, nil
}

// Default returns a shared client built from the default options. It is safe
// for concurrent use and must not be modified by callers.
func Default() *http.Client {
	return defaultClient
}

var defaultClient = func() *http.Client {
	c, err := NewClient(config.DefaultClientOptions())
	if err != nil {
		panic(err)
	}
	return c
}()
