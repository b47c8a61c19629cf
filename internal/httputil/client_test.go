package httputil_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machichima/obstore/internal/config"
	"github.com/machichima/obstore/internal/httputil"
)

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	client, err := httputil.NewClient(config.DefaultClientOptions())
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, config.DefaultRequestTimeout, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, config.DefaultPoolMaxIdlePerHost, transport.MaxIdleConnsPerHost)
	assert.Equal(t, config.DefaultPoolIdleTimeout, transport.IdleConnTimeout)
	assert.True(t, transport.ForceAttemptHTTP2)
}

func TestNewClient_CustomOptions(t *testing.T) {
	t.Parallel()

	opts := config.DefaultClientOptions()
	opts.Timeout = 60 * time.Second
	opts.PoolMaxIdlePerHost = 5
	opts.PoolIdleTimeout = 120 * time.Second

	client, err := httputil.NewClient(opts)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 5, transport.MaxIdleConnsPerHost)
	assert.Equal(t, 120*time.Second, transport.IdleConnTimeout)
}

func TestNewClient_ZeroValuesFallBack(t *testing.T) {
	t.Parallel()

	client, err := httputil.NewClient(config.ClientOptions{})
	require.NoError(t, err)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, config.DefaultPoolMaxIdlePerHost, transport.MaxIdleConnsPerHost)
	assert.Equal(t, config.DefaultPoolIdleTimeout, transport.IdleConnTimeout)
}

func TestNewClient_AllowInvalidCerts(t *testing.T) {
	t.Parallel()

	opts := config.DefaultClientOptions()
	opts.AllowInvalidCerts = true

	client, err := httputil.NewClient(opts)
	require.NoError(t, err)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, transport.TLSClientConfig)
	assert.True(t, transport.TLSClientConfig.InsecureSkipVerify)
}

func TestNewClient_HTTP1Only(t *testing.T) {
	t.Parallel()

	opts := config.DefaultClientOptions()
	opts.HTTP1Only = true

	client, err := httputil.NewClient(opts)
	require.NoError(t, err)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.False(t, transport.ForceAttemptHTTP2)
	assert.NotNil(t, transport.TLSNextProto)
	assert.Empty(t, transport.TLSNextProto)
}

func TestNewClient_InvalidProxyURL(t *testing.T) {
	t.Parallel()

	opts := config.DefaultClientOptions()
	opts.ProxyURL = "://not-a-url"

	_, err := httputil.NewClient(opts)
	require.Error(t, err)
}

func TestDefault_SharedInstance(t *testing.T) {
	t.Parallel()

	client := httputil.Default()
	require.NotNil(t, client)
	assert.Same(t, client, httputil.Default())
}
