package checks

import (
	"context"

	"github.com/chalkan3/consul-mesh-verify/pkg/cloud"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

func identitySuite(d Deps) verify.Suite {
	return verify.Suite{
		Name: SuiteIdentity,
		Checks: []verify.Check{
			{
				Name:        "caller identity",
				Remediation: "Export AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY or configure an AWS profile",
				Run: func(ctx context.Context) error {
					id, err := cloud.CallerIdentity(ctx, d.Cloud.STS)
					if err != nil {
						return verify.Access("sts", err)
					}
					if id.Account == "" {
						return verify.Violationf("caller identity", "no account returned for %s", id.ARN)
					}
					d.Log.Info("Authenticated", "account", id.Account, "arn", id.ARN)
					return nil
				},
			},
		},
	}
}
