package checks

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/samber/lo"

	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

func backupSuite(d Deps) verify.Suite {
	return verify.Suite{
		Name:      SuiteBackup,
		DependsOn: []string{SuiteStorage},
		Checks: []verify.Check{
			{
				Name:        "latest snapshot",
				Run:         d.checkLatestSnapshot,
				Remediation: "Check the consul-backup CronJob and its access to the backup bucket",
			},
		},
	}
}

func (d Deps) checkLatestSnapshot(ctx context.Context) error {
	bucket, prefix := d.Config.SnapshotBucket(), d.Config.BackupPrefix

	var objects []s3types.Object
	p := s3.NewListObjectsV2Paginator(d.Cloud.S3, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return bucketErr("list objects in", bucket, err)
		}
		objects = append(objects, page.Contents...)
	}
	if len(objects) == 0 {
		return verify.NotFound("snapshot", bucket+"/"+prefix)
	}

	newest := lo.MaxBy(objects, func(a, b s3types.Object) bool {
		return aws.ToTime(a.LastModified).After(aws.ToTime(b.LastModified))
	})
	age := d.now().Since(aws.ToTime(newest.LastModified)).Truncate(time.Second)
	if d.Config.BackupMaxAge > 0 && age > d.Config.BackupMaxAge {
		return verify.Violationf("s3 bucket "+bucket, "newest snapshot %s is %s old, limit is %s",
			aws.ToString(newest.Key), age, d.Config.BackupMaxAge)
	}

	d.Log.Info("Latest snapshot", "key", aws.ToString(newest.Key), "age", age)
	return nil
}
