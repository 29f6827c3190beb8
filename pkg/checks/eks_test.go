package checks

import (
	"net/url"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	corev1 "k8s.io/api/core/v1"

	"github.com/chalkan3/consul-mesh-verify/pkg/poll"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

func TestEKSSuite_Healthy(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	suite := eksSuite(e.deps)

	for _, c := range suite.Checks {
		assert.NoError(t, run(t, suite, c.Name), c.Name)
	}
	assert.Equal(t, 1, e.aws.EKS.Calls("DescribeCluster"), "the cluster is described once per run")
}

func TestEKSSuite_ClusterNotFound(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.aws.EKS.Cluster.Name = aws.String("someone-else")

	err := run(t, eksSuite(e.deps), "cluster status")
	require.Error(t, err)
	assert.Equal(t, verify.KindNotFound, verify.Classify(err))
	var nf *verify.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, testCluster, nf.Name)
}

func TestEKSSuite_StatusAndVersion(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.aws.EKS.Cluster.Status = ekstypes.ClusterStatusUpdating
	e.aws.EKS.Cluster.Version = aws.String("1.24")

	err := run(t, eksSuite(e.deps), "cluster status")
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "UPDATING")
	assert.Contains(t, errs[1].Error(), `"1.24" is older than 1.25`)
}

func TestVersionAtLeast(t *testing.T) {
	t.Parallel()
	assert.True(t, versionAtLeast("1.25", "1.25"))
	assert.True(t, versionAtLeast("1.30", "1.25"))
	assert.False(t, versionAtLeast("1.9", "1.25"))
	assert.False(t, versionAtLeast("not-a-version", "1.25"))
}

func TestEKSSuite_Security(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.aws.EKS.Cluster.EncryptionConfig = nil
	e.aws.EKS.Cluster.Logging = &ekstypes.Logging{ClusterLogging: []ekstypes.LogSetup{
		{Enabled: aws.Bool(true), Types: []ekstypes.LogType{ekstypes.LogTypeApi}},
		{Enabled: aws.Bool(false), Types: []ekstypes.LogType{ekstypes.LogTypeAudit, ekstypes.LogTypeAuthenticator}},
	}}
	e.aws.EKS.Cluster.ResourcesVpcConfig.EndpointPrivateAccess = false

	err := run(t, eksSuite(e.deps), "cluster security")
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "secrets encryption is not configured")
	assert.Contains(t, msg, "[audit authenticator]")
	assert.Contains(t, msg, "private endpoint access is disabled")
}

func TestEKSSuite_Subnets(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.aws.EKS.Cluster.ResourcesVpcConfig.SubnetIds = []string{"subnet-a", "subnet-b"}

	err := run(t, eksSuite(e.deps), "cluster subnets")
	assert.ErrorIs(t, err, verify.ErrViolation)
}

func TestEKSSuite_Nodegroups(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	small := healthyNodegroup("spot-workers")
	small.ScalingConfig.MinSize = aws.Int32(1)
	small.AmiType = ekstypes.AMITypesBottlerocketX8664
	small.DiskSize = aws.Int32(20)
	delete(small.Tags, "ManagedBy")
	e.aws.EKS.Nodegroups = append(e.aws.EKS.Nodegroups, small)

	err := run(t, eksSuite(e.deps), "node groups")
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 4)
	for _, ve := range errs {
		assert.Contains(t, ve.Error(), "node group spot-workers")
	}
	assert.Contains(t, err.Error(), "missing tag ManagedBy")
}

func TestEKSSuite_NoNodegroups(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.aws.EKS.Nodegroups = nil

	err := run(t, eksSuite(e.deps), "node groups")
	assert.ErrorIs(t, err, verify.ErrNotFound)
}

func TestEKSSuite_ReadyNodesTimeout(t *testing.T) {
	t.Parallel()
	notReady := readyNode("ip-10-0-2-10")
	notReady.Status.Conditions[0].Status = corev1.ConditionFalse
	e := newEnv(t, readyNode("ip-10-0-1-10"), notReady)
	suite := eksSuite(e.deps)

	err := runStepping(t, e, suite, "ready nodes")
	require.Error(t, err)
	assert.ErrorIs(t, err, poll.ErrTimeout)
	assert.Contains(t, err.Error(), "2 ready nodes")
}

func TestEKSSuite_ClusterRole(t *testing.T) {
	t.Parallel()
	policy := func(doc string) *string { return aws.String(url.QueryEscape(doc)) }

	tests := []struct {
		name    string
		doc     *string
		wantErr bool
	}{
		{name: "eks service", doc: trustPolicy("eks.amazonaws.com")},
		{name: "other service", doc: trustPolicy("ec2.amazonaws.com"), wantErr: true},
		{name: "pods identity service", doc: trustPolicy("pods.eks.amazonaws.com"), wantErr: true},
		{
			name: "service list",
			doc:  policy(`{"Statement":[{"Effect":"Allow","Principal":{"Service":["ec2.amazonaws.com","eks.amazonaws.com"]},"Action":["sts:AssumeRole","sts:TagSession"]}]}`),
		},
		{
			name:    "deny only",
			doc:     policy(`{"Statement":[{"Effect":"Deny","Principal":{"Service":"eks.amazonaws.com"},"Action":"sts:AssumeRole"}]}`),
			wantErr: true,
		},
		{
			name:    "service named in condition",
			doc:     policy(`{"Statement":[{"Effect":"Allow","Principal":{"AWS":"arn:aws:iam::123456789012:root"},"Action":"sts:AssumeRole","Condition":{"StringEquals":{"aws:CalledVia":"eks.amazonaws.com"}}}]}`),
			wantErr: true,
		},
		{
			name:    "other action",
			doc:     policy(`{"Statement":[{"Effect":"Allow","Principal":{"Service":"eks.amazonaws.com"},"Action":"sts:TagSession"}]}`),
			wantErr: true,
		},
		{
			name:    "wildcard principal",
			doc:     policy(`{"Statement":[{"Effect":"Allow","Principal":"*","Action":"sts:AssumeRole"}]}`),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t)
			role := e.aws.IAM.Roles["eks-cluster-"+testCluster]
			role.AssumeRolePolicyDocument = tt.doc
			e.aws.IAM.Roles["eks-cluster-"+testCluster] = role

			err := run(t, eksSuite(e.deps), "cluster role")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, verify.ErrViolation)
			assert.Contains(t, err.Error(), "eks.amazonaws.com")
		})
	}
}

func TestEKSSuite_ClusterRoleMalformedPolicy(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	role := e.aws.IAM.Roles["eks-cluster-"+testCluster]
	role.AssumeRolePolicyDocument = aws.String(url.QueryEscape("{not json"))
	e.aws.IAM.Roles["eks-cluster-"+testCluster] = role

	err := run(t, eksSuite(e.deps), "cluster role")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse trust policy")
}

func TestEKSSuite_ClusterRoleMissing(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	delete(e.aws.IAM.Roles, "eks-cluster-"+testCluster)
	err := run(t, eksSuite(e.deps), "cluster role")
	assert.ErrorIs(t, err, verify.ErrNotFound)
}

func TestEKSSuite_NodeRolePolicies(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.aws.IAM.AttachedPolicies["eks-node-"+testCluster] = attached("AmazonEKSWorkerNodePolicy")

	err := run(t, eksSuite(e.deps), "node role policies")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AmazonEKS_CNI_Policy")
	assert.Contains(t, err.Error(), "AmazonEC2ContainerRegistryReadOnly")
	assert.NotContains(t, err.Error(), "WorkerNodePolicy")
}
