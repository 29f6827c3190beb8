package checks

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cloudfake "github.com/chalkan3/consul-mesh-verify/pkg/cloud/fake"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

func TestStorageSuite_Healthy(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	suite := storageSuite(e.deps)
	for _, c := range suite.Checks {
		assert.NoError(t, run(t, suite, c.Name), c.Name)
	}
}

func TestStorageSuite_Encryption(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		encryption *s3types.ServerSideEncryptionConfiguration
		wantErr    []string
	}{
		{name: "kms", encryption: sseConfig(s3types.ServerSideEncryptionAwsKms)},
		{name: "kms among several rules", encryption: sseConfig(s3types.ServerSideEncryptionAes256, s3types.ServerSideEncryptionAwsKms)},
		{name: "aes256 only", encryption: sseConfig(s3types.ServerSideEncryptionAes256), wantErr: []string{"uses [AES256], want aws:kms", "consul-backup-test-us-west-2"}},
		{name: "no rules", encryption: sseConfig(), wantErr: []string{"no rules"}},
		{name: "not configured", encryption: nil, wantErr: []string{"default encryption is not configured"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.aws.S3.Encryption = tt.encryption

			err := run(t, storageSuite(e.deps), "bucket encryption")
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, verify.KindViolation, verify.Classify(err))
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestStorageSuite_MissingBucket(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.aws.S3.FailWith("GetBucketEncryption", cloudfake.APIError("NoSuchBucket", "The specified bucket does not exist"))

	err := run(t, storageSuite(e.deps), "bucket encryption")
	assert.ErrorIs(t, err, verify.ErrNotFound)
}

func TestStorageSuite_Versioning(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.aws.S3.Versioning = s3types.BucketVersioningStatusSuspended
	err := run(t, storageSuite(e.deps), "bucket versioning")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "versioning is Suspended")

	e.aws.S3.Versioning = ""
	err = run(t, storageSuite(e.deps), "bucket versioning")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never enabled")
}

func TestStorageSuite_PublicAccessBlock(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.aws.S3.PublicAccessBlock.RestrictPublicBuckets = aws.Bool(false)
	err := run(t, storageSuite(e.deps), "public access block")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RestrictPublicBuckets is disabled")
	assert.NotContains(t, err.Error(), "BlockPublicAcls")

	e.aws.S3.PublicAccessBlock = nil
	err = run(t, storageSuite(e.deps), "public access block")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestBackupSuite(t *testing.T) {
	t.Parallel()

	t.Run("fresh snapshot", func(t *testing.T) {
		e := newEnv(t)
		assert.NoError(t, run(t, backupSuite(e.deps), "latest snapshot"))
	})

	t.Run("stale snapshot", func(t *testing.T) {
		e := newEnv(t)
		e.clock.Step(25 * time.Hour)
		err := run(t, backupSuite(e.deps), "latest snapshot")
		require.Error(t, err)
		assert.Equal(t, verify.KindViolation, verify.Classify(err))
		assert.Contains(t, err.Error(), "snapshots/consul-20250601.snap is 27h0m0s old")
	})

	t.Run("no snapshots", func(t *testing.T) {
		e := newEnv(t)
		e.aws.S3.Objects = []s3types.Object{{Key: aws.String("terraform/state"), LastModified: aws.Time(testNow)}}
		err := run(t, backupSuite(e.deps), "latest snapshot")
		assert.ErrorIs(t, err, verify.ErrNotFound)
		assert.Contains(t, err.Error(), "consul-backup-test-us-west-2/snapshots/")
	})

	t.Run("dedicated backup bucket", func(t *testing.T) {
		e := newEnv(t)
		e.deps.Config.BackupBucket = "consul-snapshots"
		e.aws.S3.FailWith("ListObjectsV2", cloudfake.APIError("NoSuchBucket", "The specified bucket does not exist"))
		err := run(t, backupSuite(e.deps), "latest snapshot")
		var nf *verify.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "consul-snapshots", nf.Name)
	})
}
