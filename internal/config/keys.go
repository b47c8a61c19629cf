// Package config implements canonical-key configuration resolution for the
// store backends.
//
// Every backend family has a fixed set of canonical option identifiers. Each
// identifier is reachable through several historical alias spellings (a bare
// form, a backend-prefixed form, and any legacy names), matched
// case-insensitively. Resolution merges an explicit map, inline
// keyword-style overrides, and an environment snapshot into one
// immutable Canonical set, failing fast on unknown keys and on conflicting
// duplicate values.
package config

import "strings"

// Family identifies the canonical key set a value belongs to.
type Family string

const (
	// FamilyS3 covers S3-compatible backends.
	FamilyS3 Family = "s3"
	// FamilyGCS covers Google Cloud Storage.
	FamilyGCS Family = "gcs"
	// FamilyAzure covers Azure Blob Storage.
	FamilyAzure Family = "azure"
	// FamilyClient covers HTTP client options shared by all network backends.
	FamilyClient Family = "client"
	// FamilyRetry covers the retry policy options.
	FamilyRetry Family = "retry"
)

// keyDef declares one canonical key with its alias spellings and the
// environment variable it may be sourced from.
type keyDef struct {
	canonical string
	aliases   []string
	env       string
}

// Table is the alias-resolution table for one backend family. Tables are
// built once at package load; lookups are pure.
type Table struct {
	family  Family
	byAlias map[string]string
	envFor  map[string]string
	keys    []string
}

func newTable(family Family, defs []keyDef) *Table {
	t := &Table{
		family:  family,
		byAlias: make(map[string]string, len(defs)*3),
		envFor:  make(map[string]string, len(defs)),
	}
	for _, d := range defs {
		t.keys = append(t.keys, d.canonical)
		t.byAlias[d.canonical] = d.canonical
		for _, a := range d.aliases {
			t.byAlias[a] = d.canonical
		}
		if d.env != "" {
			t.envFor[d.canonical] = d.env
		}
	}
	return t
}

// Family returns the family this table resolves for.
func (t *Table) Family() Family { return t.family }

// Keys returns the canonical key names in declaration order.
func (t *Table) Keys() []string { return append([]string(nil), t.keys...) }

// Lookup resolves an arbitrary-case alias to its canonical key.
func (t *Table) Lookup(name string) (string, bool) {
	canonical, ok := t.byAlias[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// EnvName returns the environment variable consulted for a canonical key,
// or "" when the key has no environment spelling.
func (t *Table) EnvName(canonical string) string { return t.envFor[canonical] }

// Canonical S3 keys. The prefixed spelling is canonical, matching the
// environment-variable convention; bare spellings are aliases.
const (
	S3Bucket             = "aws_bucket"
	S3Region             = "aws_region"
	S3DefaultRegion      = "aws_default_region"
	S3AccessKeyID        = "aws_access_key_id"
	S3SecretAccessKey    = "aws_secret_access_key"
	S3SessionToken       = "aws_session_token"
	S3Endpoint           = "aws_endpoint"
	S3VirtualHostedStyle = "aws_virtual_hosted_style_request"
	S3IMDSv1Fallback     = "aws_imdsv1_fallback"
	S3MetadataEndpoint   = "aws_metadata_endpoint"
	S3UnsignedPayload    = "aws_unsigned_payload"
	S3SkipSignature      = "aws_skip_signature"
	S3ChecksumAlgorithm  = "aws_checksum_algorithm"
	S3ConditionalPut     = "aws_conditional_put"
	S3CopyIfNotExists    = "aws_copy_if_not_exists"
	S3DisableTagging     = "aws_disable_tagging"
	S3Express            = "aws_s3_express"
	S3RequestPayer       = "aws_request_payer"
	S3SSEAlgorithm       = "aws_server_side_encryption"
	S3SSEKMSKeyID        = "aws_sse_kms_key_id"
	S3SSEBucketKey       = "aws_sse_bucket_key_enabled"
)

// S3 is the canonical key table for S3-compatible backends.
var S3 = newTable(FamilyS3, []keyDef{
	{S3Bucket, []string{"bucket", "bucket_name", "aws_bucket_name"}, "AWS_BUCKET"},
	{S3Region, []string{"region"}, "AWS_REGION"},
	{S3DefaultRegion, []string{"default_region"}, "AWS_DEFAULT_REGION"},
	{S3AccessKeyID, []string{"access_key_id"}, "AWS_ACCESS_KEY_ID"},
	{S3SecretAccessKey, []string{"secret_access_key"}, "AWS_SECRET_ACCESS_KEY"},
	{S3SessionToken, []string{"session_token", "token", "aws_token"}, "AWS_SESSION_TOKEN"},
	{S3Endpoint, []string{"endpoint", "endpoint_url", "aws_endpoint_url"}, "AWS_ENDPOINT_URL"},
	{S3VirtualHostedStyle, []string{"virtual_hosted_style_request"}, ""},
	{S3IMDSv1Fallback, []string{"imdsv1_fallback"}, ""},
	{S3MetadataEndpoint, []string{"metadata_endpoint"}, "AWS_METADATA_ENDPOINT"},
	{S3UnsignedPayload, []string{"unsigned_payload"}, ""},
	{S3SkipSignature, []string{"skip_signature"}, ""},
	{S3ChecksumAlgorithm, []string{"checksum_algorithm"}, ""},
	{S3ConditionalPut, []string{"conditional_put"}, ""},
	{S3CopyIfNotExists, []string{"copy_if_not_exists"}, ""},
	{S3DisableTagging, []string{"disable_tagging"}, ""},
	{S3Express, []string{"s3_express"}, ""},
	{S3RequestPayer, []string{"request_payer"}, ""},
	{S3SSEAlgorithm, []string{"server_side_encryption", "sse_algorithm"}, ""},
	{S3SSEKMSKeyID, []string{"sse_kms_key_id"}, ""},
	{S3SSEBucketKey, []string{"sse_bucket_key_enabled"}, ""},
})

// Canonical GCS keys.
const (
	GCSBucket             = "google_bucket"
	GCSServiceAccount     = "google_service_account"
	GCSServiceAccountKey  = "google_service_account_key"
	GCSApplicationCreds   = "google_application_credentials"
	GCSHMACAccessKeyID    = "google_hmac_access_key_id"
	GCSHMACSecretAccess   = "google_hmac_secret_access_key"
	GCSEndpoint           = "google_endpoint"
)

// GCS is the canonical key table for Google Cloud Storage.
var GCS = newTable(FamilyGCS, []keyDef{
	{GCSBucket, []string{"bucket", "bucket_name", "google_bucket_name"}, "GOOGLE_BUCKET"},
	{GCSServiceAccount, []string{"service_account", "service_account_path", "google_service_account_path"}, "GOOGLE_SERVICE_ACCOUNT"},
	{GCSServiceAccountKey, []string{"service_account_key"}, "GOOGLE_SERVICE_ACCOUNT_KEY"},
	{GCSApplicationCreds, []string{"application_credentials"}, "GOOGLE_APPLICATION_CREDENTIALS"},
	{GCSHMACAccessKeyID, []string{"hmac_access_key_id"}, "GOOGLE_HMAC_ACCESS_KEY_ID"},
	{GCSHMACSecretAccess, []string{"hmac_secret_access_key"}, "GOOGLE_HMAC_SECRET_ACCESS_KEY"},
	{GCSEndpoint, []string{"endpoint", "endpoint_url"}, "GOOGLE_ENDPOINT_URL"},
})

// Canonical Azure keys.
const (
	AzureAccountName        = "azure_storage_account_name"
	AzureAccountKey         = "azure_storage_account_key"
	AzureContainerName      = "azure_container_name"
	AzureClientID           = "azure_storage_client_id"
	AzureClientSecret       = "azure_storage_client_secret"
	AzureTenantID           = "azure_storage_tenant_id"
	AzureSASToken           = "azure_storage_sas_key"
	AzureBearerToken        = "azure_storage_token"
	AzureEndpoint           = "azure_storage_endpoint"
	AzureUseEmulator        = "azure_storage_use_emulator"
	AzureUseFabricEndpoint  = "azure_use_fabric_endpoint"
	AzureMSIEndpoint        = "azure_msi_endpoint"
	AzureObjectID           = "azure_object_id"
	AzureMSIResourceID      = "azure_msi_resource_id"
	AzureFederatedTokenFile = "azure_federated_token_file"
	AzureUseAzureCli        = "azure_use_azure_cli"
	AzureDisableTagging     = "azure_disable_tagging"
)

// Azure is the canonical key table for Azure Blob Storage.
var Azure = newTable(FamilyAzure, []keyDef{
	{AzureAccountName, []string{"account_name", "azure_account_name"}, "AZURE_STORAGE_ACCOUNT_NAME"},
	{AzureAccountKey, []string{"account_key", "access_key", "azure_access_key", "master_key"}, "AZURE_STORAGE_ACCOUNT_KEY"},
	{AzureContainerName, []string{"container_name", "container", "azure_container"}, "AZURE_CONTAINER_NAME"},
	{AzureClientID, []string{"client_id", "azure_client_id"}, "AZURE_CLIENT_ID"},
	{AzureClientSecret, []string{"client_secret", "azure_client_secret"}, "AZURE_CLIENT_SECRET"},
	{AzureTenantID, []string{"tenant_id", "authority_id", "azure_tenant_id", "azure_authority_id"}, "AZURE_TENANT_ID"},
	{AzureSASToken, []string{"sas_key", "sas_token", "azure_storage_sas_token"}, "AZURE_STORAGE_SAS_TOKEN"},
	{AzureBearerToken, []string{"token", "bearer_token", "azure_storage_bearer_token"}, "AZURE_STORAGE_TOKEN"},
	{AzureEndpoint, []string{"endpoint", "azure_endpoint"}, "AZURE_STORAGE_ENDPOINT"},
	{AzureUseEmulator, []string{"use_emulator", "azure_use_emulator"}, "AZURE_STORAGE_USE_EMULATOR"},
	{AzureUseFabricEndpoint, []string{"use_fabric_endpoint"}, ""},
	{AzureMSIEndpoint, []string{"msi_endpoint", "azure_identity_endpoint"}, "AZURE_MSI_ENDPOINT"},
	{AzureObjectID, []string{"object_id"}, ""},
	{AzureMSIResourceID, []string{"msi_resource_id"}, ""},
	{AzureFederatedTokenFile, []string{"federated_token_file"}, "AZURE_FEDERATED_TOKEN_FILE"},
	{AzureUseAzureCli, []string{"use_azure_cli"}, ""},
	{AzureDisableTagging, []string{"disable_tagging"}, ""},
})

// Canonical HTTP client keys.
const (
	ClientAllowHTTP          = "allow_http"
	ClientAllowInvalidCerts  = "allow_invalid_certificates"
	ClientConnectTimeout     = "connect_timeout"
	ClientTimeout            = "timeout"
	ClientPoolIdleTimeout    = "pool_idle_timeout"
	ClientPoolMaxIdlePerHost = "pool_max_idle_per_host"
	ClientHTTP1Only          = "http1_only"
	ClientHTTP2Only          = "http2_only"
	ClientProxyURL           = "proxy_url"
	ClientUserAgent          = "user_agent"
	ClientDefaultContentType = "default_content_type"
)

// Client is the canonical key table for HTTP client options.
var Client = newTable(FamilyClient, []keyDef{
	{ClientAllowHTTP, []string{"client_allow_http"}, ""},
	{ClientAllowInvalidCerts, []string{"client_allow_invalid_certificates"}, ""},
	{ClientConnectTimeout, []string{"client_connect_timeout"}, ""},
	{ClientTimeout, []string{"client_timeout", "request_timeout"}, ""},
	{ClientPoolIdleTimeout, []string{"client_pool_idle_timeout"}, ""},
	{ClientPoolMaxIdlePerHost, []string{"client_pool_max_idle_per_host"}, ""},
	{ClientHTTP1Only, []string{"client_http1_only"}, ""},
	{ClientHTTP2Only, []string{"client_http2_only"}, ""},
	{ClientProxyURL, []string{"client_proxy_url"}, ""},
	{ClientUserAgent, []string{"client_user_agent"}, ""},
	{ClientDefaultContentType, []string{"client_default_content_type"}, ""},
})

// Canonical retry keys.
const (
	RetryMaxRetries   = "max_retries"
	RetryTimeout      = "retry_timeout"
	RetryInitBackoff  = "backoff_init"
	RetryMaxBackoff   = "backoff_max"
	RetryBackoffBase  = "backoff_base"
)

// Retry is the canonical key table for the retry policy.
var Retry = newTable(FamilyRetry, []keyDef{
	{RetryMaxRetries, []string{"retry_max_retries"}, ""},
	{RetryTimeout, []string{"retry_retry_timeout"}, ""},
	{RetryInitBackoff, []string{"init_backoff", "retry_backoff_init"}, ""},
	{RetryMaxBackoff, []string{"max_backoff", "retry_backoff_max"}, ""},
	{RetryBackoffBase, []string{"backoff_base_factor", "retry_backoff_base"}, ""},
})
