package checks

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/chalkan3/consul-mesh-verify/pkg/cloud"
	"github.com/chalkan3/consul-mesh-verify/pkg/kube"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

const (
	// MinKubernetesVersion is the oldest control plane version accepted
	MinKubernetesVersion = "1.25"
	minClusterSubnets    = 3
	minNodegroupSize     = 2
	minNodeDiskGiB       = 50
	minReadyNodes        = 2
	eksServicePrincipal  = "eks.amazonaws.com"
)

var (
	requiredLogTypes = []ekstypes.LogType{
		ekstypes.LogTypeApi,
		ekstypes.LogTypeAudit,
		ekstypes.LogTypeAuthenticator,
	}
	requiredNodePolicies = []string{
		"AmazonEKSWorkerNodePolicy",
		"AmazonEKS_CNI_Policy",
		"AmazonEC2ContainerRegistryReadOnly",
	}
	requiredNodegroupTags = []string{"Environment", "ManagedBy"}
)

type eksChecks struct {
	Deps
	cluster *ekstypes.Cluster
}

func eksSuite(d Deps) verify.Suite {
	e := &eksChecks{Deps: d}
	return verify.Suite{
		Name:      SuiteEKS,
		DependsOn: []string{SuiteNetwork},
		Checks: []verify.Check{
			{Name: "cluster status", Run: e.checkStatus, Remediation: "Apply the EKS terraform module for this environment"},
			{Name: "cluster security", Run: e.checkSecurity, Remediation: "Enable secrets encryption, control plane logging and private endpoint access"},
			{Name: "cluster subnets", Run: e.checkSubnets},
			{Name: "node groups", Run: e.checkNodegroups},
			{Name: "ready nodes", Run: e.checkReadyNodes},
			{Name: "cluster role", Run: e.checkClusterRole},
			{Name: "node role policies", Run: e.checkNodeRole, Remediation: "Attach the managed EKS worker, CNI and ECR read-only policies to the node role"},
		},
	}
}

func (e *eksChecks) describe(ctx context.Context) (*ekstypes.Cluster, error) {
	if e.cluster != nil {
		return e.cluster, nil
	}
	name := e.Config.ClusterName()
	out, err := e.Cloud.EKS.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
	if err != nil {
		if cloud.IsNotFoundCode(err, "ResourceNotFoundException") {
			return nil, verify.NotFound("eks cluster", name, err)
		}
		return nil, verify.Access("describe cluster "+name, err)
	}
	e.cluster = out.Cluster
	return e.cluster, nil
}

func (e *eksChecks) checkStatus(ctx context.Context) error {
	cluster, err := e.describe(ctx)
	if err != nil {
		return err
	}

	version := aws.ToString(cluster.Version)
	return verify.Expect("eks cluster "+e.Config.ClusterName()).
		That(cluster.Status == ekstypes.ClusterStatusActive, "status is %s, want %s", cluster.Status, ekstypes.ClusterStatusActive).
		That(versionAtLeast(version, MinKubernetesVersion), "kubernetes version %q is older than %s", version, MinKubernetesVersion).
		Err()
}

func (e *eksChecks) checkSecurity(ctx context.Context) error {
	cluster, err := e.describe(ctx)
	if err != nil {
		return err
	}

	var enabled []ekstypes.LogType
	if cluster.Logging != nil {
		for _, setup := range cluster.Logging.ClusterLogging {
			if aws.ToBool(setup.Enabled) {
				enabled = append(enabled, setup.Types...)
			}
		}
	}
	missingLogs, _ := lo.Difference(requiredLogTypes, enabled)
	privateAccess := cluster.ResourcesVpcConfig != nil && cluster.ResourcesVpcConfig.EndpointPrivateAccess

	return verify.Expect("eks cluster "+e.Config.ClusterName()).
		That(len(cluster.EncryptionConfig) > 0, "secrets encryption is not configured").
		That(len(missingLogs) == 0, "control plane logging disabled for %v", missingLogs).
		That(privateAccess, "private endpoint access is disabled").
		Err()
}

func (e *eksChecks) checkSubnets(ctx context.Context) error {
	cluster, err := e.describe(ctx)
	if err != nil {
		return err
	}
	var subnets []string
	if cluster.ResourcesVpcConfig != nil {
		subnets = cluster.ResourcesVpcConfig.SubnetIds
	}
	if len(subnets) < minClusterSubnets {
		return verify.Violationf("eks cluster "+e.Config.ClusterName(),
			"expected at least %d subnets, found %d", minClusterSubnets, len(subnets))
	}
	return nil
}

func (e *eksChecks) checkNodegroups(ctx context.Context) error {
	name := e.Config.ClusterName()

	var names []string
	p := eks.NewListNodegroupsPaginator(e.Cloud.EKS, &eks.ListNodegroupsInput{ClusterName: aws.String(name)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			if cloud.IsNotFoundCode(err, "ResourceNotFoundException") {
				return verify.NotFound("eks cluster", name, err)
			}
			return verify.Access("list nodegroups", err)
		}
		names = append(names, page.Nodegroups...)
	}
	if len(names) == 0 {
		return verify.NotFound("node group", name)
	}

	var errs error
	for _, ngName := range names {
		out, err := e.Cloud.EKS.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
			ClusterName:   aws.String(name),
			NodegroupName: aws.String(ngName),
		})
		if err != nil {
			return verify.Access("describe nodegroup "+ngName, err)
		}
		if err := nodegroupPosture(out.Nodegroup); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func nodegroupPosture(ng *ekstypes.Nodegroup) error {
	var minSize int32
	if ng.ScalingConfig != nil {
		minSize = aws.ToInt32(ng.ScalingConfig.MinSize)
	}
	expect := verify.Expect("node group " + aws.ToString(ng.NodegroupName)).
		That(minSize >= minNodegroupSize, "min size is %d, want at least %d", minSize, minNodegroupSize).
		That(ng.AmiType == ekstypes.AMITypesAl2X8664, "ami type is %q, want %s", ng.AmiType, ekstypes.AMITypesAl2X8664).
		That(aws.ToInt32(ng.DiskSize) >= minNodeDiskGiB, "disk size is %dGiB, want at least %dGiB", aws.ToInt32(ng.DiskSize), minNodeDiskGiB)
	for _, tag := range requiredNodegroupTags {
		_, ok := ng.Tags[tag]
		expect.That(ok, "missing tag %s", tag)
	}
	return expect.Err()
}

func (e *eksChecks) checkReadyNodes(ctx context.Context) error {
	_, err := kube.WaitForNodes(ctx, e.Kube, minReadyNodes, e.pollOptions())
	return err
}

func (e *eksChecks) checkClusterRole(ctx context.Context) error {
	name := e.Config.ClusterRoleName()
	out, err := e.Cloud.IAM.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		if cloud.IsNotFoundCode(err, "NoSuchEntity") {
			return verify.NotFound("iam role", name, err)
		}
		return verify.Access("get role "+name, err)
	}

	ok, err := trustsService(aws.ToString(out.Role.AssumeRolePolicyDocument), eksServicePrincipal)
	if err != nil {
		return fmt.Errorf("iam role %s: %w", name, err)
	}
	if !ok {
		return verify.Violationf("iam role "+name, "trust policy does not allow %s", eksServicePrincipal)
	}
	return nil
}

func (e *eksChecks) checkNodeRole(ctx context.Context) error {
	name := e.Config.NodeRoleName()

	var attached []iamtypes.AttachedPolicy
	p := iam.NewListAttachedRolePoliciesPaginator(e.Cloud.IAM, &iam.ListAttachedRolePoliciesInput{RoleName: aws.String(name)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			if cloud.IsNotFoundCode(err, "NoSuchEntity") {
				return verify.NotFound("iam role", name, err)
			}
			return verify.Access("list attached policies of "+name, err)
		}
		attached = append(attached, page.AttachedPolicies...)
	}

	names := lo.Map(attached, func(p iamtypes.AttachedPolicy, _ int) string { return aws.ToString(p.PolicyName) })
	missing, _ := lo.Difference(requiredNodePolicies, names)
	if len(missing) > 0 {
		return verify.Violationf("iam role "+name, "missing managed policies %v", missing)
	}
	return nil
}

// versionAtLeast compares Kubernetes minor versions such as "1.28"
func versionAtLeast(version, floor string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	c, err := semver.NewConstraint(">= " + floor)
	if err != nil {
		return false
	}
	return c.Check(v)
}
