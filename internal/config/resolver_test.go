package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machichima/obstore/pkg/obserrors"
)

func TestResolveAliasSpellings(t *testing.T) {
	spellings := []string{"region", "Region", "AWS_REGION", "aws_region"}

	for _, name := range spellings {
		c, err := Resolve(S3, map[string]string{name: "us-east-1"}, nil, nil)
		require.NoError(t, err, "spelling %q", name)

		got, ok := c.Get(S3Region)
		require.True(t, ok, "spelling %q did not resolve to canonical key", name)
		assert.Equal(t, "us-east-1", got)
	}
}

func TestResolveConflictAcrossSources(t *testing.T) {
	_, err := Resolve(S3,
		map[string]string{"region": "us-east-1"},
		map[string]string{"aws_region": "eu-west-2"},
		nil)
	require.Error(t, err)
	assert.True(t, obserrors.IsKind(err, obserrors.ConfigConflict))
}

func TestResolveIdenticalDuplicatesCollapse(t *testing.T) {
	c, err := Resolve(S3,
		map[string]string{"region": "us-east-1"},
		map[string]string{"AWS_REGION": "us-east-1"},
		nil)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", c.GetString(S3Region, ""))
}

func TestResolveUnknownKey(t *testing.T) {
	_, err := Resolve(S3, map[string]string{"regin": "typo"}, nil, nil)
	require.Error(t, err)
	assert.True(t, obserrors.IsKind(err, obserrors.UnknownConfigKey))
	assert.Contains(t, err.Error(), "regin")
}

func TestResolveEnvOnlyFillsUnsetKeys(t *testing.T) {
	env := map[string]string{
		"AWS_REGION": "ap-south-1",
		"AWS_BUCKET": "env-bucket",
	}
	c, err := Resolve(S3, map[string]string{"bucket": "explicit-bucket"}, nil, env)
	require.NoError(t, err)

	assert.Equal(t, "explicit-bucket", c.GetString(S3Bucket, ""), "explicit value must win over env")
	assert.Equal(t, "ap-south-1", c.GetString(S3Region, ""), "env must fill unset key")
}

func TestResolveAzureAliases(t *testing.T) {
	c, err := Resolve(Azure, map[string]string{
		"Account_Name": "acct",
		"container":    "data",
	}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "acct", c.GetString(AzureAccountName, ""))
	assert.Equal(t, "data", c.GetString(AzureContainerName, ""))
}

func TestGetBool(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"true", true}, {"TRUE", true}, {"1", true}, {"yes", true}, {"on", true},
		{"false", false}, {"0", false}, {"No", false}, {"off", false},
	}
	for _, tc := range cases {
		c, err := Resolve(Client, map[string]string{"allow_http": tc.raw}, nil, nil)
		require.NoError(t, err)
		got, err := c.GetBool(ClientAllowHTTP, !tc.want)
		require.NoError(t, err, "raw %q", tc.raw)
		assert.Equal(t, tc.want, got, "raw %q", tc.raw)
	}

	c, err := Resolve(Client, map[string]string{"allow_http": "maybe"}, nil, nil)
	require.NoError(t, err)
	_, err = c.GetBool(ClientAllowHTTP, false)
	assert.Error(t, err)
}

func TestGetDuration(t *testing.T) {
	c, err := Resolve(Client, map[string]string{
		"timeout":         "1m30s",
		"connect_timeout": "2.5",
	}, nil, nil)
	require.NoError(t, err)

	d, err := c.GetDuration(ClientTimeout, 0)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = c.GetDuration(ClientConnectTimeout, 0)
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, d)

	d, err = c.GetDuration(ClientPoolIdleTimeout, 7*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, d, "unset key returns default")
}

func TestClientOptionsFrom(t *testing.T) {
	c, err := Resolve(Client, map[string]string{
		"allow_http":             "true",
		"timeout":                "45s",
		"pool_max_idle_per_host": "8",
		"user_agent":             "custom/1.0",
	}, nil, nil)
	require.NoError(t, err)

	opts, err := ClientOptionsFrom(c)
	require.NoError(t, err)
	assert.True(t, opts.AllowHTTP)
	assert.Equal(t, 45*time.Second, opts.Timeout)
	assert.Equal(t, 8, opts.PoolMaxIdlePerHost)
	assert.Equal(t, "custom/1.0", opts.UserAgent)
	assert.Equal(t, DefaultConnectTimeout, opts.ConnectTimeout, "unset keys keep defaults")
}

func TestRetryPolicyFrom(t *testing.T) {
	c, err := Resolve(Retry, map[string]string{
		"max_retries":  "4",
		"init_backoff": "50ms",
		"backoff_base": "1.5",
	}, nil, nil)
	require.NoError(t, err)

	p, err := RetryPolicyFrom(c)
	require.NoError(t, err)
	assert.Equal(t, 4, p.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, p.InitBackoff)
	assert.Equal(t, 1.5, p.BackoffBase)
	assert.Equal(t, DefaultMaxBackoff, p.MaxBackoff)
}

func TestParseWriteStrategy(t *testing.T) {
	s, err := ParseWriteStrategy("etag")
	require.NoError(t, err)
	assert.Equal(t, StrategyETag, s.Mode)

	s, err = ParseWriteStrategy("header:If-Match:*")
	require.NoError(t, err)
	assert.Equal(t, StrategyHeader, s.Mode)
	assert.Equal(t, "If-Match", s.Header)
	assert.Equal(t, "*", s.HeaderValue)

	s, err = ParseWriteStrategy("header-with-status:x-goog-if-generation-match:0:412")
	require.NoError(t, err)
	assert.Equal(t, StrategyHeaderWithStatus, s.Mode)
	assert.Equal(t, 412, s.Status)

	s, err = ParseWriteStrategy("dynamo:locks")
	require.NoError(t, err)
	assert.Equal(t, StrategyDynamo, s.Mode)
	assert.Equal(t, "locks", s.Table)

	_, err = ParseWriteStrategy("header:only-name")
	assert.Error(t, err)
	_, err = ParseWriteStrategy("bogus")
	assert.Error(t, err)
}

func TestEnvSnapshot(t *testing.T) {
	env := EnvSnapshot([]string{"AWS_REGION=us-west-2", "EMPTY=", "NOEQUALS"})
	assert.Equal(t, "us-west-2", env["AWS_REGION"])
	assert.Equal(t, "", env["EMPTY"])
	_, ok := env["NOEQUALS"]
	assert.False(t, ok)
}
