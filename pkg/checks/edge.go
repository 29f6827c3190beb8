package checks

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/samber/lo"

	"github.com/chalkan3/consul-mesh-verify/pkg/cloud"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

type edgeChecks struct {
	net *network
}

func edgeSuite(d Deps) verify.Suite {
	e := &edgeChecks{net: &network{Deps: d}}

	checks := []verify.Check{
		{Name: "load balancers", Run: e.checkLoadBalancers, Remediation: "Inspect the load balancer controller and the target group bindings"},
	}
	if d.Config.HostedZone != "" {
		checks = append(checks,
			verify.Check{Name: "dns records", Run: e.checkRecords},
			verify.Check{Name: "dns health checks", Run: e.checkHealthChecks, Remediation: "Create a Route53 health check for the mesh ingress"},
		)
	}

	return verify.Suite{
		Name:      SuiteEdge,
		DependsOn: []string{SuiteEKS},
		Checks:    checks,
	}
}

func (e *edgeChecks) checkLoadBalancers(ctx context.Context) error {
	vpcID, err := e.net.vpc(ctx)
	if err != nil {
		return err
	}

	var lbs []elbtypes.LoadBalancer
	p := elbv2.NewDescribeLoadBalancersPaginator(e.net.Cloud.ELB, &elbv2.DescribeLoadBalancersInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return verify.Access("describe load balancers", err)
		}
		lbs = append(lbs, page.LoadBalancers...)
	}
	lbs = lo.Filter(lbs, func(lb elbtypes.LoadBalancer, _ int) bool { return aws.ToString(lb.VpcId) == vpcID })
	if len(lbs) == 0 {
		e.net.Log.Info("No load balancers in VPC", "vpc", vpcID)
		return nil
	}

	expect := verify.Expect("vpc " + vpcID)
	for _, lb := range lbs {
		name := aws.ToString(lb.LoadBalancerName)
		var state elbtypes.LoadBalancerStateEnum
		if lb.State != nil {
			state = lb.State.Code
		}
		expect.That(state == elbtypes.LoadBalancerStateEnumActive, "load balancer %s is %q, want active", name, state)

		tgs, err := e.net.Cloud.ELB.DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{LoadBalancerArn: lb.LoadBalancerArn})
		if err != nil {
			return verify.Access("describe target groups of "+name, err)
		}
		expect.That(len(tgs.TargetGroups) > 0, "load balancer %s has no target groups", name)
	}
	return expect.Err()
}

func (e *edgeChecks) checkRecords(ctx context.Context) error {
	zone := e.net.Config.HostedZone
	out, err := e.net.Cloud.Route53.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{HostedZoneId: aws.String(zone)})
	if err != nil {
		if cloud.IsNotFoundCode(err, "NoSuchHostedZone") {
			return verify.NotFound("hosted zone", zone, err)
		}
		return verify.Access("list record sets", err)
	}
	if len(out.ResourceRecordSets) == 0 {
		return verify.Violationf("hosted zone "+zone, "no record sets")
	}
	return nil
}

func (e *edgeChecks) checkHealthChecks(ctx context.Context) error {
	out, err := e.net.Cloud.Route53.ListHealthChecks(ctx, &route53.ListHealthChecksInput{})
	if err != nil {
		return verify.Access("list health checks", err)
	}
	if len(out.HealthChecks) == 0 {
		return verify.NotFound("route53 health check", e.net.Config.HostedZone)
	}
	return nil
}
