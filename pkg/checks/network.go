package checks

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"

	"github.com/chalkan3/consul-mesh-verify/pkg/cloud"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

const (
	// defaultDenyRule is the catch-all rule number AWS adds to every ACL
	defaultDenyRule   = 32767
	anyIPv4           = "0.0.0.0/0"
	minSubnetsPerTier = 2
)

type network struct {
	Deps
	vpcID string
}

func networkSuite(d Deps) verify.Suite {
	n := &network{Deps: d}
	return verify.Suite{
		Name:      SuiteNetwork,
		DependsOn: []string{SuiteIdentity},
		Checks: []verify.Check{
			{Name: "vpc exists", Run: n.checkVPC, Remediation: "Apply the VPC terraform module for this environment"},
			{Name: "subnet tiers", Run: n.checkSubnets},
			{Name: "routing", Run: n.checkRouting, Remediation: "Public subnets need an internet gateway route and private subnets a NAT gateway route"},
			{Name: "network acls", Run: n.checkNetworkACLs},
			{Name: "security groups", Run: n.checkSecurityGroups, Remediation: "Restrict ingress rules open to 0.0.0.0/0"},
			{Name: "vpc peering", Run: n.checkPeering},
		},
	}
}

// vpc resolves the environment VPC by its Name tag, once per run
func (n *network) vpc(ctx context.Context) (string, error) {
	if n.vpcID != "" {
		return n.vpcID, nil
	}
	name := n.Config.VPCName()
	out, err := n.Cloud.EC2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []ec2types.Filter{cloud.TagFilter("Name", name)},
	})
	if err != nil {
		return "", verify.Access("describe vpcs", err)
	}
	if len(out.Vpcs) == 0 {
		return "", verify.NotFound("vpc", name)
	}
	n.vpcID = aws.ToString(out.Vpcs[0].VpcId)
	return n.vpcID, nil
}

func (n *network) checkVPC(ctx context.Context) error {
	vpcID, err := n.vpc(ctx)
	if err != nil {
		return err
	}
	n.Log.Info("Found VPC", "vpc", vpcID, "name", n.Config.VPCName())
	return nil
}

func (n *network) checkSubnets(ctx context.Context) error {
	vpcID, err := n.vpc(ctx)
	if err != nil {
		return err
	}

	var subnets []ec2types.Subnet
	p := ec2.NewDescribeSubnetsPaginator(n.Cloud.EC2, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{cloud.VPCFilter(vpcID)},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return verify.Access("describe subnets", err)
		}
		subnets = append(subnets, page.Subnets...)
	}

	byTier := lo.CountValuesBy(subnets, func(s ec2types.Subnet) string { return cloud.TagValue(s.Tags, "Tier") })
	return verify.Expect("vpc "+vpcID).
		That(byTier["Public"] >= minSubnetsPerTier, "expected at least %d public subnets, found %d", minSubnetsPerTier, byTier["Public"]).
		That(byTier["Private"] >= minSubnetsPerTier, "expected at least %d private subnets, found %d", minSubnetsPerTier, byTier["Private"]).
		Err()
}

func (n *network) checkRouting(ctx context.Context) error {
	vpcID, err := n.vpc(ctx)
	if err != nil {
		return err
	}
	out, err := n.Cloud.EC2.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []ec2types.Filter{cloud.VPCFilter(vpcID)},
	})
	if err != nil {
		return verify.Access("describe route tables", err)
	}

	routes := lo.FlatMap(out.RouteTables, func(rt ec2types.RouteTable, _ int) []ec2types.Route { return rt.Routes })
	hasIGW := lo.ContainsBy(routes, func(r ec2types.Route) bool {
		return strings.HasPrefix(aws.ToString(r.GatewayId), "igw-")
	})
	hasNAT := lo.ContainsBy(routes, func(r ec2types.Route) bool {
		return strings.HasPrefix(aws.ToString(r.NatGatewayId), "nat-")
	})

	return verify.Expect("vpc "+vpcID).
		That(hasIGW, "no route through an internet gateway").
		That(hasNAT, "no route through a NAT gateway").
		Err()
}

func (n *network) checkNetworkACLs(ctx context.Context) error {
	vpcID, err := n.vpc(ctx)
	if err != nil {
		return err
	}
	out, err := n.Cloud.EC2.DescribeNetworkAcls(ctx, &ec2.DescribeNetworkAclsInput{
		Filters: []ec2types.Filter{cloud.VPCFilter(vpcID)},
	})
	if err != nil {
		return verify.Access("describe network acls", err)
	}
	if len(out.NetworkAcls) == 0 {
		return verify.NotFound("network acl", vpcID)
	}

	expect := verify.Expect("vpc " + vpcID)
	for _, acl := range out.NetworkAcls {
		hasDefaultDeny := lo.ContainsBy(acl.Entries, func(e ec2types.NetworkAclEntry) bool {
			return aws.ToInt32(e.RuleNumber) == defaultDenyRule && e.RuleAction == ec2types.RuleActionDeny
		})
		expect.That(hasDefaultDeny, "network acl %s has no default deny rule %d", aws.ToString(acl.NetworkAclId), defaultDenyRule)
	}
	return expect.Err()
}

func (n *network) checkSecurityGroups(ctx context.Context) error {
	vpcID, err := n.vpc(ctx)
	if err != nil {
		return err
	}

	expect := verify.Expect("vpc " + vpcID)
	p := ec2.NewDescribeSecurityGroupsPaginator(n.Cloud.EC2, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{cloud.VPCFilter(vpcID)},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return verify.Access("describe security groups", err)
		}
		for _, sg := range page.SecurityGroups {
			for _, perm := range sg.IpPermissions {
				open := lo.ContainsBy(perm.IpRanges, func(r ec2types.IpRange) bool { return aws.ToString(r.CidrIp) == anyIPv4 })
				expect.That(!open, "security group %s allows ingress from %s on %s",
					aws.ToString(sg.GroupId), anyIPv4, portRange(perm))
			}
		}
	}
	return expect.Err()
}

func (n *network) checkPeering(ctx context.Context) error {
	vpcID, err := n.vpc(ctx)
	if err != nil {
		return err
	}
	out, err := n.Cloud.EC2.DescribeVpcPeeringConnections(ctx, &ec2.DescribeVpcPeeringConnectionsInput{})
	if err != nil {
		return verify.Access("describe vpc peering connections", err)
	}

	touching := lo.Filter(out.VpcPeeringConnections, func(pc ec2types.VpcPeeringConnection, _ int) bool {
		return (pc.RequesterVpcInfo != nil && aws.ToString(pc.RequesterVpcInfo.VpcId) == vpcID) ||
			(pc.AccepterVpcInfo != nil && aws.ToString(pc.AccepterVpcInfo.VpcId) == vpcID)
	})

	expect := verify.Expect("vpc " + vpcID)
	for _, pc := range touching {
		var code ec2types.VpcPeeringConnectionStateReasonCode
		if pc.Status != nil {
			code = pc.Status.Code
		}
		expect.That(code == ec2types.VpcPeeringConnectionStateReasonCodeActive,
			"peering connection %s is %q, want active", aws.ToString(pc.VpcPeeringConnectionId), code)
	}
	return expect.Err()
}

func portRange(perm ec2types.IpPermission) string {
	if aws.ToString(perm.IpProtocol) == "-1" {
		return "all traffic"
	}
	from, to := aws.ToInt32(perm.FromPort), aws.ToInt32(perm.ToPort)
	if from == to {
		return fmt.Sprintf("%s/%d", aws.ToString(perm.IpProtocol), from)
	}
	return fmt.Sprintf("%s/%d-%d", aws.ToString(perm.IpProtocol), from, to)
}
