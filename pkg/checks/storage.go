package checks

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/samber/lo"

	"github.com/chalkan3/consul-mesh-verify/pkg/cloud"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

const (
	errNoEncryptionConfig  = "ServerSideEncryptionConfigurationNotFoundError"
	errNoPublicAccessBlock = "NoSuchPublicAccessBlockConfiguration"
	errNoSuchBucket        = "NoSuchBucket"
)

func storageSuite(d Deps) verify.Suite {
	return verify.Suite{
		Name:      SuiteStorage,
		DependsOn: []string{SuiteIdentity},
		Checks: []verify.Check{
			{
				Name:        "bucket encryption",
				Run:         d.checkBucketEncryption,
				Remediation: "Configure default bucket encryption with a KMS key (aws:kms)",
			},
			{
				Name:        "bucket versioning",
				Run:         d.checkBucketVersioning,
				Remediation: "Enable versioning on the backup bucket",
			},
			{
				Name:        "public access block",
				Run:         d.checkPublicAccessBlock,
				Remediation: "Enable all four S3 public access block settings",
			},
		},
	}
}

// bucketErr maps an S3 error for bucket onto the failure taxonomy
func bucketErr(op, bucket string, err error) error {
	if cloud.IsNotFoundCode(err, errNoSuchBucket) {
		return verify.NotFound("s3 bucket", bucket, err)
	}
	return verify.Access(op+" "+bucket, err)
}

func (d Deps) checkBucketEncryption(ctx context.Context) error {
	bucket := d.Config.BucketName()
	out, err := d.Cloud.S3.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: aws.String(bucket)})
	if err != nil {
		if cloud.IsNotFoundCode(err, errNoEncryptionConfig) {
			return verify.Violationf("s3 bucket "+bucket, "default encryption is not configured")
		}
		return bucketErr("get bucket encryption", bucket, err)
	}

	var algorithms []s3types.ServerSideEncryption
	if out.ServerSideEncryptionConfiguration != nil {
		for _, rule := range out.ServerSideEncryptionConfiguration.Rules {
			if rule.ApplyServerSideEncryptionByDefault != nil {
				algorithms = append(algorithms, rule.ApplyServerSideEncryptionByDefault.SSEAlgorithm)
			}
		}
	}
	if len(algorithms) == 0 {
		return verify.Violationf("s3 bucket "+bucket, "default encryption has no rules")
	}
	if !lo.Contains(algorithms, s3types.ServerSideEncryptionAwsKms) {
		return verify.Violationf("s3 bucket "+bucket, "default encryption uses %v, want %s",
			lo.Uniq(algorithms), s3types.ServerSideEncryptionAwsKms)
	}
	return nil
}

func (d Deps) checkBucketVersioning(ctx context.Context) error {
	bucket := d.Config.BucketName()
	out, err := d.Cloud.S3.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: aws.String(bucket)})
	if err != nil {
		return bucketErr("get bucket versioning", bucket, err)
	}
	if out.Status != s3types.BucketVersioningStatusEnabled {
		status := string(out.Status)
		if status == "" {
			status = "never enabled"
		}
		return verify.Violationf("s3 bucket "+bucket, "versioning is %s, want %s", status, s3types.BucketVersioningStatusEnabled)
	}
	return nil
}

func (d Deps) checkPublicAccessBlock(ctx context.Context) error {
	bucket := d.Config.BucketName()
	out, err := d.Cloud.S3.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: aws.String(bucket)})
	if err != nil {
		if cloud.IsNotFoundCode(err, errNoPublicAccessBlock) {
			return verify.Violationf("s3 bucket "+bucket, "public access block is not configured")
		}
		return bucketErr("get public access block", bucket, err)
	}

	cfg := out.PublicAccessBlockConfiguration
	if cfg == nil {
		return verify.Violationf("s3 bucket "+bucket, "public access block is not configured")
	}
	return verify.Expect("s3 bucket "+bucket).
		That(aws.ToBool(cfg.BlockPublicAcls), "BlockPublicAcls is disabled").
		That(aws.ToBool(cfg.BlockPublicPolicy), "BlockPublicPolicy is disabled").
		That(aws.ToBool(cfg.IgnorePublicAcls), "IgnorePublicAcls is disabled").
		That(aws.ToBool(cfg.RestrictPublicBuckets), "RestrictPublicBuckets is disabled").
		Err()
}
