package cloud_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chalkan3/consul-mesh-verify/pkg/cloud"
	"github.com/chalkan3/consul-mesh-verify/pkg/cloud/fake"
	"github.com/chalkan3/consul-mesh-verify/pkg/config"
)

func TestErrorCode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "NoSuchBucket", cloud.ErrorCode(fake.APIError("NoSuchBucket", "gone")))
	assert.Equal(t, "ResourceNotFoundException", cloud.ErrorCode(fmt.Errorf("describe: %w", &ekstypes.ResourceNotFoundException{})))
	assert.Empty(t, cloud.ErrorCode(errors.New("plain")))
	assert.Empty(t, cloud.ErrorCode(nil))
}

func TestIsNotFoundCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		err   error
		codes []string
		want  bool
	}{
		{"default set", fake.APIError("NoSuchEntity", ""), nil, true},
		{"eks typed error", &ekstypes.ResourceNotFoundException{}, nil, true},
		{"not a not-found code", fake.APIError("AccessDenied", ""), nil, false},
		{"explicit code", fake.APIError("ServerSideEncryptionConfigurationNotFoundError", ""), []string{"ServerSideEncryptionConfigurationNotFoundError"}, true},
		{"explicit codes exclude defaults", fake.APIError("NoSuchBucket", ""), []string{"NoSuchKey"}, false},
		{"non api error", errors.New("NoSuchBucket"), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cloud.IsNotFoundCode(tt.err, tt.codes...))
		})
	}
}

func TestCallerIdentity(t *testing.T) {
	t.Parallel()
	sts := &fake.STSAPI{Account: "123456789012", ARN: "arn:aws:iam::123456789012:user/ci", UserID: "AIDAEXAMPLE"}

	id, err := cloud.CallerIdentity(context.Background(), sts)
	require.NoError(t, err)
	assert.Equal(t, "123456789012", id.Account)
	assert.Equal(t, "arn:aws:iam::123456789012:user/ci", id.ARN)

	sts.FailWith("GetCallerIdentity", fake.APIError("ExpiredToken", "token expired"))
	_, err = cloud.CallerIdentity(context.Background(), sts)
	require.Error(t, err)
	assert.Equal(t, "ExpiredToken", cloud.ErrorCode(err))
	assert.Equal(t, 2, sts.Calls("GetCallerIdentity"))
}

func TestLoadConfig_StaticCredentials(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))

	cfg := config.Config{
		Region: "eu-central-1",
		Credentials: config.Credentials{
			AccessKeyID:     "AKIDEXAMPLE",
			SecretAccessKey: "secret",
			SessionToken:    "token",
		},
	}
	awsCfg, err := cloud.LoadConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", awsCfg.Region)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)
	assert.Equal(t, "token", creds.SessionToken)

	clients := cloud.NewClients(awsCfg)
	assert.NotNil(t, clients.EKS)
	assert.NotNil(t, clients.Route53)
}

func TestTagHelpers(t *testing.T) {
	t.Parallel()
	tags := []ec2types.Tag{
		{Key: aws.String("Name"), Value: aws.String("consul-test-us-west-2")},
		{Key: aws.String("Tier"), Value: aws.String("Private")},
	}
	assert.Equal(t, "Private", cloud.TagValue(tags, "Tier"))
	assert.Empty(t, cloud.TagValue(tags, "Environment"))

	f := cloud.TagFilter("Name", "consul-test-us-west-2")
	assert.Equal(t, "tag:Name", aws.ToString(f.Name))
	assert.Equal(t, []string{"consul-test-us-west-2"}, f.Values)
	assert.Equal(t, "vpc-id", aws.ToString(cloud.VPCFilter("vpc-1").Name))
}
