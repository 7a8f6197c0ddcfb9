package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	dserrors "github.com/systmms/feedcred/internal/errors"
	"github.com/systmms/feedcred/internal/logging"
	"github.com/systmms/feedcred/pkg/provider"
)

const testFeed = "https://pkgs.dev.azure.com/org/_packaging/feed/pypi/simple/"

func testLogger() *logging.Logger {
	return logging.New(false, true)
}

type fakeSecretsManager struct {
	value *string
	err   error
	calls int
	input *secretsmanager.GetSecretValueInput
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

type fakeSSM struct {
	value *string
	err   error
	input *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: f.value}}, nil
}

type fakeKeyVault struct {
	value   *string
	err     error
	name    string
	version string
}

func (f *fakeKeyVault) GetSecret(ctx context.Context, name, version string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.name, f.version = name, version
	if f.err != nil {
		return azsecrets.GetSecretResponse{}, f.err
	}
	var resp azsecrets.GetSecretResponse
	resp.Value = f.value
	return resp, nil
}

type fakeGCP struct {
	data []byte
	err  error
	name string
}

func (f *fakeGCP) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.name = req.Name
	if f.err != nil {
		return nil, f.err
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.Name,
		Payload: &secretmanagerpb.SecretPayload{Data: f.data},
	}, nil
}

func getOnce(t *testing.T, p provider.Provider, retry bool) (provider.Credential, error) {
	t.Helper()
	sess, err := p.Open(context.Background())
	require.NoError(t, err)
	defer sess.Close()
	return sess.GetCredentials(context.Background(), provider.Request{Endpoint: testFeed, IsRetry: retry})
}

func TestAWSSecretsManager(t *testing.T) {
	t.Parallel()

	fake := &fakeSecretsManager{value: aws.String(`{"pat":"sm-pat"}`)}
	p, err := NewAWSSecretsManagerProvider("aws.secretsmanager", map[string]interface{}{
		"secret_id":     "feeds/azure",
		"version_stage": "AWSCURRENT",
		"transform":     "json_extract:.pat",
	}, testLogger(), WithSecretsManagerClient(fake))
	require.NoError(t, err)

	cred, err := getOnce(t, p, false)
	require.NoError(t, err)
	assert.Equal(t, provider.Credential{Username: DefaultUsername, Secret: "sm-pat"}, cred)
	assert.Equal(t, "feeds/azure", aws.ToString(fake.input.SecretId))
	assert.Equal(t, "AWSCURRENT", aws.ToString(fake.input.VersionStage))
	assert.False(t, p.Capabilities().HonorsRetry)
}

func TestAWSSecretsManager_NotFound(t *testing.T) {
	t.Parallel()

	fake := &fakeSecretsManager{err: &smtypes.ResourceNotFoundException{Message: aws.String("no such secret")}}
	p, err := NewAWSSecretsManagerProvider("aws.secretsmanager", map[string]interface{}{"secret_id": "missing"}, testLogger(), WithSecretsManagerClient(fake))
	require.NoError(t, err)

	cred, err := getOnce(t, p, false)
	require.NoError(t, err)
	assert.True(t, cred.IsEmpty())
}

func TestAWSSecretsManager_AccessDenied(t *testing.T) {
	t.Parallel()

	fake := &fakeSecretsManager{err: errors.New("AccessDeniedException: not allowed")}
	p, err := NewAWSSecretsManagerProvider("aws.secretsmanager", map[string]interface{}{"secret_id": "x"}, testLogger(), WithSecretsManagerClient(fake))
	require.NoError(t, err)

	_, err = getOnce(t, p, false)
	var userErr dserrors.UserError
	require.ErrorAs(t, err, &userErr)
	assert.Contains(t, userErr.Suggestion, "secretsmanager:GetSecretValue")
}

func TestAWSSecretsManager_RequiresSecretID(t *testing.T) {
	t.Parallel()

	_, err := NewAWSSecretsManagerProvider("aws.secretsmanager", map[string]interface{}{}, testLogger(), WithSecretsManagerClient(&fakeSecretsManager{}))
	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "secret_id", cfgErr.Field)
}

func TestStoreSession_CachesUntilRetry(t *testing.T) {
	t.Parallel()

	fake := &fakeSecretsManager{value: aws.String("pat-1")}
	p, err := NewAWSSecretsManagerProvider("aws.secretsmanager", map[string]interface{}{"secret_id": "x", "username": "ci"}, testLogger(), WithSecretsManagerClient(fake))
	require.NoError(t, err)

	sess, err := p.Open(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	cred, err := sess.GetCredentials(ctx, provider.Request{Endpoint: testFeed})
	require.NoError(t, err)
	assert.Equal(t, "ci", cred.Username)

	_, err = sess.GetCredentials(ctx, provider.Request{Endpoint: testFeed})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)

	fake.value = aws.String("pat-2")
	cred, err = sess.GetCredentials(ctx, provider.Request{Endpoint: testFeed, IsRetry: true})
	require.NoError(t, err)
	assert.Equal(t, "pat-2", cred.Secret)
	assert.Equal(t, 2, fake.calls)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	_, err = sess.GetCredentials(ctx, provider.Request{Endpoint: testFeed})
	assert.Error(t, err)
}

func TestStoreSession_BadTransform(t *testing.T) {
	t.Parallel()

	fake := &fakeSecretsManager{value: aws.String("not json")}
	p, err := NewAWSSecretsManagerProvider("aws.secretsmanager", map[string]interface{}{"secret_id": "x", "transform": "json_extract:.pat"}, testLogger(), WithSecretsManagerClient(fake))
	require.NoError(t, err)

	_, err = getOnce(t, p, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestAWSSSM(t *testing.T) {
	t.Parallel()

	fake := &fakeSSM{value: aws.String(" ssm-pat \n")}
	p, err := NewAWSSSMProvider("aws.ssm", map[string]interface{}{
		"parameter": "/feeds/azure/pat",
		"transform": "trim",
	}, testLogger(), WithSSMClient(fake))
	require.NoError(t, err)

	cred, err := getOnce(t, p, false)
	require.NoError(t, err)
	assert.Equal(t, "ssm-pat", cred.Secret)
	assert.Equal(t, "/feeds/azure/pat", aws.ToString(fake.input.Name))
	assert.True(t, aws.ToBool(fake.input.WithDecryption))
}

func TestAWSSSM_NotFound(t *testing.T) {
	t.Parallel()

	fake := &fakeSSM{err: &ssmtypes.ParameterNotFound{}}
	p, err := NewAWSSSMProvider("aws.ssm", map[string]interface{}{"parameter": "/missing"}, testLogger(), WithSSMClient(fake))
	require.NoError(t, err)

	cred, err := getOnce(t, p, false)
	require.NoError(t, err)
	assert.True(t, cred.IsEmpty())
}

func TestAzureKeyVault(t *testing.T) {
	t.Parallel()

	fake := &fakeKeyVault{value: to.Ptr("kv-pat")}
	p, err := NewAzureKeyVaultProvider("azure.keyvault", map[string]interface{}{
		"vault_url":   "https://feeds.vault.azure.net/",
		"secret_name": "ado-pat",
		"version":     "abc",
	}, testLogger(), WithAzureKeyVaultClient(fake))
	require.NoError(t, err)

	cred, err := getOnce(t, p, false)
	require.NoError(t, err)
	assert.Equal(t, "kv-pat", cred.Secret)
	assert.Equal(t, "ado-pat", fake.name)
	assert.Equal(t, "abc", fake.version)
}

func TestAzureKeyVault_NotFound(t *testing.T) {
	t.Parallel()

	fake := &fakeKeyVault{err: &azcore.ResponseError{StatusCode: 404, ErrorCode: "SecretNotFound"}}
	p, err := NewAzureKeyVaultProvider("azure.keyvault", map[string]interface{}{
		"vault_url":   "https://feeds.vault.azure.net/",
		"secret_name": "ado-pat",
	}, testLogger(), WithAzureKeyVaultClient(fake))
	require.NoError(t, err)

	cred, err := getOnce(t, p, false)
	require.NoError(t, err)
	assert.True(t, cred.IsEmpty())
}

func TestAzureKeyVault_Config(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cfg   map[string]interface{}
		field string
	}{
		{"missing url", map[string]interface{}{"secret_name": "x"}, "vault_url"},
		{"http url", map[string]interface{}{"vault_url": "http://v.vault.azure.net", "secret_name": "x"}, "vault_url"},
		{"missing secret", map[string]interface{}{"vault_url": "https://v.vault.azure.net"}, "secret_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewAzureKeyVaultProvider("azure.keyvault", tt.cfg, testLogger(), WithAzureKeyVaultClient(&fakeKeyVault{}))
			var cfgErr dserrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestGCPSecretManager(t *testing.T) {
	t.Parallel()

	fake := &fakeGCP{data: []byte("gcp-pat")}
	p, err := NewGCPSecretManagerProvider("gcp.secretmanager", map[string]interface{}{
		"project_id": "feeds-prod",
		"secret":     "ado-pat",
	}, testLogger(), WithGCPSecretManagerClient(fake))
	require.NoError(t, err)

	cred, err := getOnce(t, p, false)
	require.NoError(t, err)
	assert.Equal(t, "gcp-pat", cred.Secret)
	assert.Equal(t, "projects/feeds-prod/secrets/ado-pat/versions/latest", fake.name)
}

func TestGCPSecretManager_ResourceName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  map[string]interface{}
		want string
	}{
		{map[string]interface{}{"project_id": "p", "secret": "s", "version": "3"}, "projects/p/secrets/s/versions/3"},
		{map[string]interface{}{"secret": "projects/q/secrets/s"}, "projects/q/secrets/s/versions/latest"},
		{map[string]interface{}{"secret": "projects/q/secrets/s/versions/7"}, "projects/q/secrets/s/versions/7"},
	}

	for _, tt := range tests {
		p, err := NewGCPSecretManagerProvider("gcp.secretmanager", tt.cfg, testLogger(), WithGCPSecretManagerClient(&fakeGCP{}))
		require.NoError(t, err)
		assert.Equal(t, tt.want, p.resourceName())
	}
}

func TestGCPSecretManager_Errors(t *testing.T) {
	t.Parallel()

	notFound := &fakeGCP{err: status.Error(codes.NotFound, "secret not found")}
	p, err := NewGCPSecretManagerProvider("gcp.secretmanager", map[string]interface{}{"project_id": "p", "secret": "s"}, testLogger(), WithGCPSecretManagerClient(notFound))
	require.NoError(t, err)
	cred, err := getOnce(t, p, false)
	require.NoError(t, err)
	assert.True(t, cred.IsEmpty())

	denied := &fakeGCP{err: status.Error(codes.PermissionDenied, "denied")}
	p, err = NewGCPSecretManagerProvider("gcp.secretmanager", map[string]interface{}{"project_id": "p", "secret": "s"}, testLogger(), WithGCPSecretManagerClient(denied))
	require.NoError(t, err)
	_, err = getOnce(t, p, false)
	var userErr dserrors.UserError
	require.ErrorAs(t, err, &userErr)
	assert.Contains(t, userErr.Suggestion, "secretAccessor")
}

func TestStoreProviderContract(t *testing.T) {
	t.Parallel()

	provider.RunContractTests(t, provider.ContractTest{
		CreateProvider: func(t *testing.T) provider.Provider {
			p, err := NewAWSSSMProvider("aws.ssm", map[string]interface{}{"parameter": "/feeds/pat"}, testLogger(), WithSSMClient(&fakeSSM{value: aws.String("pat")}))
			require.NoError(t, err)
			return p
		},
		Endpoint: testFeed,
		Want:     provider.Credential{Username: DefaultUsername, Secret: "pat"},
	})
}
