package fake

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/samber/lo"
)

// =============================================================================
// EKS
// =============================================================================

// EKSAPI serves one cluster and its node groups
type EKSAPI struct {
	recorder
	Cluster    *ekstypes.Cluster
	Nodegroups []ekstypes.Nodegroup
}

func (f *EKSAPI) DescribeCluster(_ context.Context, in *eks.DescribeClusterInput, _ ...func(*eks.Options)) (*eks.DescribeClusterOutput, error) {
	if err := f.record("DescribeCluster"); err != nil {
		return nil, err
	}
	if f.Cluster == nil || aws.ToString(f.Cluster.Name) != aws.ToString(in.Name) {
		return nil, &ekstypes.ResourceNotFoundException{Message: aws.String("No cluster found for name: " + aws.ToString(in.Name))}
	}
	return &eks.DescribeClusterOutput{Cluster: f.Cluster}, nil
}

func (f *EKSAPI) ListNodegroups(_ context.Context, _ *eks.ListNodegroupsInput, _ ...func(*eks.Options)) (*eks.ListNodegroupsOutput, error) {
	if err := f.record("ListNodegroups"); err != nil {
		return nil, err
	}
	names := lo.Map(f.Nodegroups, func(ng ekstypes.Nodegroup, _ int) string { return aws.ToString(ng.NodegroupName) })
	return &eks.ListNodegroupsOutput{Nodegroups: names}, nil
}

func (f *EKSAPI) DescribeNodegroup(_ context.Context, in *eks.DescribeNodegroupInput, _ ...func(*eks.Options)) (*eks.DescribeNodegroupOutput, error) {
	if err := f.record("DescribeNodegroup"); err != nil {
		return nil, err
	}
	ng, ok := lo.Find(f.Nodegroups, func(ng ekstypes.Nodegroup) bool {
		return aws.ToString(ng.NodegroupName) == aws.ToString(in.NodegroupName)
	})
	if !ok {
		return nil, &ekstypes.ResourceNotFoundException{Message: aws.String("nodegroup not found")}
	}
	return &eks.DescribeNodegroupOutput{Nodegroup: &ng}, nil
}

// =============================================================================
// IAM
// =============================================================================

// IAMAPI serves roles and their attached managed policies by role name
type IAMAPI struct {
	recorder
	Roles            map[string]iamtypes.Role
	AttachedPolicies map[string][]iamtypes.AttachedPolicy
}

func (f *IAMAPI) GetRole(_ context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	if err := f.record("GetRole"); err != nil {
		return nil, err
	}
	role, ok := f.Roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, &iamtypes.NoSuchEntityException{Message: aws.String("The role with name " + aws.ToString(in.RoleName) + " cannot be found.")}
	}
	return &iam.GetRoleOutput{Role: &role}, nil
}

func (f *IAMAPI) ListAttachedRolePolicies(_ context.Context, in *iam.ListAttachedRolePoliciesInput, _ ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	if err := f.record("ListAttachedRolePolicies"); err != nil {
		return nil, err
	}
	name := aws.ToString(in.RoleName)
	if _, ok := f.Roles[name]; !ok {
		return nil, &iamtypes.NoSuchEntityException{Message: aws.String("role " + name + " not found")}
	}
	return &iam.ListAttachedRolePoliciesOutput{AttachedPolicies: f.AttachedPolicies[name]}, nil
}

// =============================================================================
// EC2
// =============================================================================

// EC2API serves network resources. Vpcs honours tag filters; the other
// collections honour the vpc-id filter.
type EC2API struct {
	recorder
	Vpcs               []ec2types.Vpc
	Subnets            []ec2types.Subnet
	RouteTables        []ec2types.RouteTable
	NetworkAcls        []ec2types.NetworkAcl
	SecurityGroups     []ec2types.SecurityGroup
	PeeringConnections []ec2types.VpcPeeringConnection
}

func (f *EC2API) DescribeVpcs(_ context.Context, in *ec2.DescribeVpcsInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	if err := f.record("DescribeVpcs"); err != nil {
		return nil, err
	}
	vpcs := lo.Filter(f.Vpcs, func(v ec2types.Vpc, _ int) bool { return tagsMatch(v.Tags, in.Filters) })
	return &ec2.DescribeVpcsOutput{Vpcs: vpcs}, nil
}

func (f *EC2API) DescribeSubnets(_ context.Context, in *ec2.DescribeSubnetsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	if err := f.record("DescribeSubnets"); err != nil {
		return nil, err
	}
	subnets := lo.Filter(f.Subnets, func(s ec2types.Subnet, _ int) bool { return vpcMatches(s.VpcId, in.Filters) })
	return &ec2.DescribeSubnetsOutput{Subnets: subnets}, nil
}

func (f *EC2API) DescribeRouteTables(_ context.Context, in *ec2.DescribeRouteTablesInput, _ ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error) {
	if err := f.record("DescribeRouteTables"); err != nil {
		return nil, err
	}
	tables := lo.Filter(f.RouteTables, func(rt ec2types.RouteTable, _ int) bool { return vpcMatches(rt.VpcId, in.Filters) })
	return &ec2.DescribeRouteTablesOutput{RouteTables: tables}, nil
}

func (f *EC2API) DescribeNetworkAcls(_ context.Context, in *ec2.DescribeNetworkAclsInput, _ ...func(*ec2.Options)) (*ec2.DescribeNetworkAclsOutput, error) {
	if err := f.record("DescribeNetworkAcls"); err != nil {
		return nil, err
	}
	acls := lo.Filter(f.NetworkAcls, func(acl ec2types.NetworkAcl, _ int) bool { return vpcMatches(acl.VpcId, in.Filters) })
	return &ec2.DescribeNetworkAclsOutput{NetworkAcls: acls}, nil
}

func (f *EC2API) DescribeSecurityGroups(_ context.Context, in *ec2.DescribeSecurityGroupsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	if err := f.record("DescribeSecurityGroups"); err != nil {
		return nil, err
	}
	groups := lo.Filter(f.SecurityGroups, func(sg ec2types.SecurityGroup, _ int) bool { return vpcMatches(sg.VpcId, in.Filters) })
	return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: groups}, nil
}

func (f *EC2API) DescribeVpcPeeringConnections(_ context.Context, _ *ec2.DescribeVpcPeeringConnectionsInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcPeeringConnectionsOutput, error) {
	if err := f.record("DescribeVpcPeeringConnections"); err != nil {
		return nil, err
	}
	return &ec2.DescribeVpcPeeringConnectionsOutput{VpcPeeringConnections: f.PeeringConnections}, nil
}

func tagsMatch(tags []ec2types.Tag, filters []ec2types.Filter) bool {
	for _, filter := range filters {
		key, ok := strings.CutPrefix(aws.ToString(filter.Name), "tag:")
		if !ok {
			continue
		}
		if !lo.ContainsBy(tags, func(t ec2types.Tag) bool {
			return aws.ToString(t.Key) == key && lo.Contains(filter.Values, aws.ToString(t.Value))
		}) {
			return false
		}
	}
	return true
}

func vpcMatches(vpcID *string, filters []ec2types.Filter) bool {
	for _, filter := range filters {
		if aws.ToString(filter.Name) == "vpc-id" && !lo.Contains(filter.Values, aws.ToString(vpcID)) {
			return false
		}
	}
	return true
}

// =============================================================================
// S3
// =============================================================================

// S3API serves the settings and objects of a single bucket. A nil
// Encryption or PublicAccessBlock yields the matching "not configured" error.
type S3API struct {
	recorder
	Encryption        *s3types.ServerSideEncryptionConfiguration
	Versioning        s3types.BucketVersioningStatus
	PublicAccessBlock *s3types.PublicAccessBlockConfiguration
	Objects           []s3types.Object
}

func (f *S3API) GetBucketEncryption(_ context.Context, _ *s3.GetBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error) {
	if err := f.record("GetBucketEncryption"); err != nil {
		return nil, err
	}
	if f.Encryption == nil {
		return nil, APIError("ServerSideEncryptionConfigurationNotFoundError", "The server side encryption configuration was not found")
	}
	return &s3.GetBucketEncryptionOutput{ServerSideEncryptionConfiguration: f.Encryption}, nil
}

func (f *S3API) GetBucketVersioning(_ context.Context, _ *s3.GetBucketVersioningInput, _ ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error) {
	if err := f.record("GetBucketVersioning"); err != nil {
		return nil, err
	}
	return &s3.GetBucketVersioningOutput{Status: f.Versioning}, nil
}

func (f *S3API) GetPublicAccessBlock(_ context.Context, _ *s3.GetPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.GetPublicAccessBlockOutput, error) {
	if err := f.record("GetPublicAccessBlock"); err != nil {
		return nil, err
	}
	if f.PublicAccessBlock == nil {
		return nil, APIError("NoSuchPublicAccessBlockConfiguration", "The public access block configuration was not found")
	}
	return &s3.GetPublicAccessBlockOutput{PublicAccessBlockConfiguration: f.PublicAccessBlock}, nil
}

func (f *S3API) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := f.record("ListObjectsV2"); err != nil {
		return nil, err
	}
	prefix := aws.ToString(in.Prefix)
	objects := lo.Filter(f.Objects, func(o s3types.Object, _ int) bool {
		return strings.HasPrefix(aws.ToString(o.Key), prefix)
	})
	return &s3.ListObjectsV2Output{
		Contents:    objects,
		KeyCount:    aws.Int32(int32(len(objects))),
		IsTruncated: aws.Bool(false),
	}, nil
}

// =============================================================================
// CloudWatch
// =============================================================================

// CloudWatchAPI serves metric alarms filtered by name
type CloudWatchAPI struct {
	recorder
	Alarms []cwtypes.MetricAlarm
}

func (f *CloudWatchAPI) DescribeAlarms(_ context.Context, in *cloudwatch.DescribeAlarmsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsOutput, error) {
	if err := f.record("DescribeAlarms"); err != nil {
		return nil, err
	}
	alarms := f.Alarms
	if len(in.AlarmNames) > 0 {
		alarms = lo.Filter(alarms, func(a cwtypes.MetricAlarm, _ int) bool {
			return lo.Contains(in.AlarmNames, aws.ToString(a.AlarmName))
		})
	}
	return &cloudwatch.DescribeAlarmsOutput{MetricAlarms: alarms}, nil
}

// =============================================================================
// STS
// =============================================================================

// STSAPI returns a fixed identity
type STSAPI struct {
	recorder
	Account string
	ARN     string
	UserID  string
}

func (f *STSAPI) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if err := f.record("GetCallerIdentity"); err != nil {
		return nil, err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.Account),
		Arn:     aws.String(f.ARN),
		UserId:  aws.String(f.UserID),
	}, nil
}

// =============================================================================
// ELBv2
// =============================================================================

// ELBAPI serves load balancers and their target groups keyed by load balancer ARN
type ELBAPI struct {
	recorder
	LoadBalancers []elbtypes.LoadBalancer
	TargetGroups  map[string][]elbtypes.TargetGroup
}

func (f *ELBAPI) DescribeLoadBalancers(_ context.Context, _ *elbv2.DescribeLoadBalancersInput, _ ...func(*elbv2.Options)) (*elbv2.DescribeLoadBalancersOutput, error) {
	if err := f.record("DescribeLoadBalancers"); err != nil {
		return nil, err
	}
	return &elbv2.DescribeLoadBalancersOutput{LoadBalancers: f.LoadBalancers}, nil
}

func (f *ELBAPI) DescribeTargetGroups(_ context.Context, in *elbv2.DescribeTargetGroupsInput, _ ...func(*elbv2.Options)) (*elbv2.DescribeTargetGroupsOutput, error) {
	if err := f.record("DescribeTargetGroups"); err != nil {
		return nil, err
	}
	return &elbv2.DescribeTargetGroupsOutput{TargetGroups: f.TargetGroups[aws.ToString(in.LoadBalancerArn)]}, nil
}

// =============================================================================
// Route53
// =============================================================================

// Route53API serves the record sets of hosted zones keyed by zone id
type Route53API struct {
	recorder
	RecordSets   map[string][]r53types.ResourceRecordSet
	HealthChecks []r53types.HealthCheck
}

func (f *Route53API) ListResourceRecordSets(_ context.Context, in *route53.ListResourceRecordSetsInput, _ ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error) {
	if err := f.record("ListResourceRecordSets"); err != nil {
		return nil, err
	}
	sets, ok := f.RecordSets[aws.ToString(in.HostedZoneId)]
	if !ok {
		return nil, &r53types.NoSuchHostedZone{Message: aws.String("No hosted zone found with ID: " + aws.ToString(in.HostedZoneId))}
	}
	return &route53.ListResourceRecordSetsOutput{ResourceRecordSets: sets}, nil
}

func (f *Route53API) ListHealthChecks(_ context.Context, _ *route53.ListHealthChecksInput, _ ...func(*route53.Options)) (*route53.ListHealthChecksOutput, error) {
	if err := f.record("ListHealthChecks"); err != nil {
		return nil, err
	}
	return &route53.ListHealthChecksOutput{HealthChecks: f.HealthChecks}, nil
}
