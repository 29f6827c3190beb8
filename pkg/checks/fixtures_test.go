package checks

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	clocktesting "k8s.io/utils/clock/testing"

	cloudfake "github.com/chalkan3/consul-mesh-verify/pkg/cloud/fake"
	"github.com/chalkan3/consul-mesh-verify/pkg/config"
	"github.com/chalkan3/consul-mesh-verify/pkg/kube"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

const (
	testVPC     = "vpc-0abc"
	testCluster = "consul-test-us-west-2"
	testNS      = "consul-test"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const (
	testServerRole = "consul-server-" + testCluster
	testGossipKey  = "pUqJrVyVRj5jsiYEkM/tFQYfWyJIv4s3XkvDwy7Cu5s="

	wanMembers = "Node                 Address         Status  Type    Build   Protocol  DC   Partition  Segment\n" +
		"consul-server-0.dc1  10.0.1.5:8302   alive   server  1.17.0  2         dc1  default    <all>\n" +
		"consul-server-0.dc2  10.1.1.5:8302   alive   server  1.17.0  2         dc2  default    <all>\n"

	serverConfigHCL = `datacenter = "dc1"
encrypt = "` + testGossipKey + `"
acl { enabled = true default_policy = "deny" }
tls {
  defaults {
    verify_incoming = true
    verify_outgoing = true
  }
}
`
)

// =============================================================================
// Environment
// =============================================================================

type env struct {
	aws   *cloudfake.Clients
	kube  *fake.Clientset
	clock *clocktesting.FakeClock
	exec  map[string]string
	deps  Deps
}

func testConfig() config.Config {
	return config.Config{
		Region:       "us-west-2",
		Environment:  "test",
		ChartPath:    "../../helm/consul",
		PollInterval: 5 * time.Second,
		PodTimeout:   60 * time.Second,
		SuiteTimeout: 300 * time.Second,
		BackupPrefix: "snapshots/",
		BackupMaxAge: 24 * time.Hour,
	}
}

// newEnv builds a fully healthy deployment; tests break one thing at a time
func newEnv(t *testing.T, objects ...runtime.Object) *env {
	t.Helper()
	e := &env{
		aws:   healthyAWS(),
		clock: clocktesting.NewFakeClock(testNow),
		exec: map[string]string{
			"consul members":                  "Node             Address         Status  Type    Build   Protocol  DC   Partition  Segment\nconsul-server-0  10.0.1.5:8301   alive   server  1.17.0  2         dc1  default    <all>\n",
			"consul operator raft list-peers": "Node             ID        Address         State   Voter  RaftProtocol\nconsul-server-0  1c2d...   10.0.1.5:8300   leader  true   3\n",
			"consul members -detailed":        "consul-server-0  10.0.1.5:8301  alive  build=1.17.0,dc=dc1,role=consul\n",
			"consul members -wan":             wanMembers,
		},
	}
	if len(objects) == 0 {
		objects = healthyCluster()
	}
	e.kube = fake.NewClientset(objects...)
	e.deps = Deps{
		Config: testConfig(),
		Cloud:  e.aws.Cloud(),
		Kube:   e.kube,
		Exec: kube.ExecFunc(func(_ context.Context, _, _, _ string, command []string) (string, string, error) {
			return e.exec[strings.Join(command, " ")], "", nil
		}),
		Clock: e.clock,
		Log:   testr.New(t),
	}
	return e
}

// run executes the named check of suite
func run(t *testing.T, suite verify.Suite, name string) error {
	t.Helper()
	for _, c := range suite.Checks {
		if c.Name == name {
			return c.Run(context.Background())
		}
	}
	require.Failf(t, "unknown check", "suite %s has no check %q", suite.Name, name)
	return nil
}

// runStepping runs a check that polls, advancing the fake clock while it sleeps
func runStepping(t *testing.T, e *env, suite verify.Suite, name string) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- run(t, suite, name) }()
	for {
		select {
		case err := <-done:
			return err
		default:
		}
		if e.clock.HasWaiters() {
			e.clock.Step(time.Second)
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

// =============================================================================
// AWS fixtures
// =============================================================================

func tag(k, v string) ec2types.Tag {
	return ec2types.Tag{Key: aws.String(k), Value: aws.String(v)}
}

func subnet(id, tier string) ec2types.Subnet {
	return ec2types.Subnet{SubnetId: aws.String(id), VpcId: aws.String(testVPC), Tags: []ec2types.Tag{tag("Tier", tier)}}
}

func trustPolicy(service string) *string {
	doc := `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"Service":"` + service + `"},"Action":"sts:AssumeRole"}]}`
	return aws.String(url.QueryEscape(doc))
}

func attached(names ...string) []iamtypes.AttachedPolicy {
	out := make([]iamtypes.AttachedPolicy, 0, len(names))
	for _, n := range names {
		out = append(out, iamtypes.AttachedPolicy{PolicyName: aws.String(n), PolicyArn: aws.String("arn:aws:iam::aws:policy/" + n)})
	}
	return out
}

func healthyNodegroup(name string) ekstypes.Nodegroup {
	return ekstypes.Nodegroup{
		NodegroupName: aws.String(name),
		ScalingConfig: &ekstypes.NodegroupScalingConfig{MinSize: aws.Int32(2), MaxSize: aws.Int32(5), DesiredSize: aws.Int32(3)},
		AmiType:       ekstypes.AMITypesAl2X8664,
		DiskSize:      aws.Int32(100),
		Tags:          map[string]string{"Environment": "test", "ManagedBy": "terraform"},
	}
}

func healthyAWS() *cloudfake.Clients {
	c := cloudfake.NewClients()

	c.STS.Account = "123456789012"
	c.STS.ARN = "arn:aws:iam::123456789012:user/ci"

	c.EC2.Vpcs = []ec2types.Vpc{
		{VpcId: aws.String("vpc-other"), Tags: []ec2types.Tag{tag("Name", "consul-prod-us-west-2")}},
		{VpcId: aws.String(testVPC), Tags: []ec2types.Tag{tag("Name", testCluster)}},
	}
	c.EC2.Subnets = []ec2types.Subnet{
		subnet("subnet-pub-a", "Public"), subnet("subnet-pub-b", "Public"),
		subnet("subnet-priv-a", "Private"), subnet("subnet-priv-b", "Private"),
	}
	c.EC2.RouteTables = []ec2types.RouteTable{
		{VpcId: aws.String(testVPC), Routes: []ec2types.Route{{DestinationCidrBlock: aws.String("0.0.0.0/0"), GatewayId: aws.String("igw-123")}}},
		{VpcId: aws.String(testVPC), Routes: []ec2types.Route{{DestinationCidrBlock: aws.String("0.0.0.0/0"), NatGatewayId: aws.String("nat-456")}}},
	}
	c.EC2.NetworkAcls = []ec2types.NetworkAcl{{
		NetworkAclId: aws.String("acl-1"),
		VpcId:        aws.String(testVPC),
		Entries: []ec2types.NetworkAclEntry{
			{RuleNumber: aws.Int32(100), RuleAction: ec2types.RuleActionAllow, Egress: aws.Bool(false)},
			{RuleNumber: aws.Int32(32767), RuleAction: ec2types.RuleActionDeny, Egress: aws.Bool(false)},
		},
	}}
	c.EC2.SecurityGroups = []ec2types.SecurityGroup{{
		GroupId: aws.String("sg-1"),
		VpcId:   aws.String(testVPC),
		IpPermissions: []ec2types.IpPermission{{
			IpProtocol: aws.String("tcp"), FromPort: aws.Int32(8301), ToPort: aws.Int32(8301),
			IpRanges: []ec2types.IpRange{{CidrIp: aws.String("10.0.0.0/16")}},
		}},
	}}
	c.EC2.PeeringConnections = []ec2types.VpcPeeringConnection{{
		VpcPeeringConnectionId: aws.String("pcx-1"),
		RequesterVpcInfo:       &ec2types.VpcPeeringConnectionVpcInfo{VpcId: aws.String(testVPC)},
		AccepterVpcInfo:        &ec2types.VpcPeeringConnectionVpcInfo{VpcId: aws.String("vpc-dc2")},
		Status:                 &ec2types.VpcPeeringConnectionStateReason{Code: ec2types.VpcPeeringConnectionStateReasonCodeActive},
	}}

	c.EKS.Cluster = &ekstypes.Cluster{
		Name:             aws.String(testCluster),
		Status:           ekstypes.ClusterStatusActive,
		Version:          aws.String("1.28"),
		EncryptionConfig: []ekstypes.EncryptionConfig{{Resources: []string{"secrets"}}},
		Logging: &ekstypes.Logging{ClusterLogging: []ekstypes.LogSetup{{
			Enabled: aws.Bool(true),
			Types:   []ekstypes.LogType{ekstypes.LogTypeApi, ekstypes.LogTypeAudit, ekstypes.LogTypeAuthenticator},
		}}},
		ResourcesVpcConfig: &ekstypes.VpcConfigResponse{
			VpcId:                 aws.String(testVPC),
			EndpointPrivateAccess: true,
			SubnetIds:             []string{"subnet-priv-a", "subnet-priv-b", "subnet-pub-a"},
		},
	}
	c.EKS.Nodegroups = []ekstypes.Nodegroup{healthyNodegroup("consul-workers")}

	c.IAM.Roles = map[string]iamtypes.Role{
		"eks-cluster-" + testCluster: {RoleName: aws.String("eks-cluster-" + testCluster), AssumeRolePolicyDocument: trustPolicy("eks.amazonaws.com")},
		"eks-node-" + testCluster:    {RoleName: aws.String("eks-node-" + testCluster), AssumeRolePolicyDocument: trustPolicy("ec2.amazonaws.com")},
		testServerRole:               {RoleName: aws.String(testServerRole)},
	}
	c.IAM.AttachedPolicies = map[string][]iamtypes.AttachedPolicy{
		"eks-node-" + testCluster: attached("AmazonEKSWorkerNodePolicy", "AmazonEKS_CNI_Policy", "AmazonEC2ContainerRegistryReadOnly"),
	}

	c.S3.Encryption = sseConfig(s3types.ServerSideEncryptionAwsKms)
	c.S3.Versioning = s3types.BucketVersioningStatusEnabled
	c.S3.PublicAccessBlock = &s3types.PublicAccessBlockConfiguration{
		BlockPublicAcls:       aws.Bool(true),
		BlockPublicPolicy:     aws.Bool(true),
		IgnorePublicAcls:      aws.Bool(true),
		RestrictPublicBuckets: aws.Bool(true),
	}
	c.S3.Objects = []s3types.Object{
		{Key: aws.String("snapshots/consul-20250531.snap"), LastModified: aws.Time(testNow.Add(-26 * time.Hour))},
		{Key: aws.String("snapshots/consul-20250601.snap"), LastModified: aws.Time(testNow.Add(-2 * time.Hour))},
		{Key: aws.String("terraform/state"), LastModified: aws.Time(testNow)},
	}

	c.CloudWatch.Alarms = []cwtypes.MetricAlarm{{
		AlarmName:      aws.String("consul-health-test"),
		ActionsEnabled: aws.Bool(true),
		StateValue:     cwtypes.StateValueOk,
	}}

	c.ELB.LoadBalancers = []elbtypes.LoadBalancer{{
		LoadBalancerArn:  aws.String("arn:lb/consul-ingress"),
		LoadBalancerName: aws.String("consul-ingress"),
		VpcId:            aws.String(testVPC),
		State:            &elbtypes.LoadBalancerState{Code: elbtypes.LoadBalancerStateEnumActive},
	}}
	c.ELB.TargetGroups = map[string][]elbtypes.TargetGroup{
		"arn:lb/consul-ingress": {{TargetGroupName: aws.String("consul-ui")}},
	}

	c.Route53.RecordSets = map[string][]r53types.ResourceRecordSet{
		"Z123": {{Name: aws.String("consul.example.com."), Type: r53types.RRTypeA}},
	}
	c.Route53.HealthChecks = []r53types.HealthCheck{{Id: aws.String("hc-1")}}
	return c
}

func sseConfig(algorithms ...s3types.ServerSideEncryption) *s3types.ServerSideEncryptionConfiguration {
	cfg := &s3types.ServerSideEncryptionConfiguration{}
	for _, a := range algorithms {
		cfg.Rules = append(cfg.Rules, s3types.ServerSideEncryptionRule{
			ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{SSEAlgorithm: a},
		})
	}
	return cfg
}

// =============================================================================
// Cluster fixtures
// =============================================================================

func pod(ns, name string, labels map[string]string, phase corev1.PodPhase, ready bool) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Labels: labels},
		Status: corev1.PodStatus{
			Phase:             phase,
			ContainerStatuses: []corev1.ContainerStatus{{Name: "main", Ready: ready}},
		},
	}
}

func readyNode(name string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status: corev1.NodeStatus{Conditions: []corev1.NodeCondition{
			{Type: corev1.NodeReady, Status: corev1.ConditionTrue},
		}},
	}
}

func consulServer(phase corev1.PodPhase, ready bool) *corev1.Pod {
	return pod(testNS, "consul-server-0", map[string]string{"app": "consul", "component": "server"}, phase, ready)
}

func meshGateway(name string, phase corev1.PodPhase) *corev1.Pod {
	return pod(testNS, name, map[string]string{"app": "consul", "component": "mesh-gateway"}, phase, phase == corev1.PodRunning)
}

func serverConfig(data map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: ServerConfigMap, Namespace: testNS},
		Data:       data,
	}
}

func serverServiceAccount(annotations map[string]string) *corev1.ServiceAccount {
	return &corev1.ServiceAccount{
		ObjectMeta: metav1.ObjectMeta{Name: ServerServiceAccount, Namespace: testNS, Annotations: annotations},
	}
}

func healthyServerAccount() *corev1.ServiceAccount {
	return serverServiceAccount(map[string]string{RoleARNAnnotation: "arn:aws:iam::123456789012:role/" + testServerRole})
}

// baseCluster is the healthy cluster without the server config map and
// service account
func baseCluster() []runtime.Object {
	return []runtime.Object{
		readyNode("ip-10-0-1-10"),
		readyNode("ip-10-0-2-10"),
		consulServer(corev1.PodRunning, true),
		meshGateway("consul-mesh-gateway-0", corev1.PodRunning),
		pod(MonitoringNamespace, "prometheus-0", map[string]string{"app": "prometheus"}, corev1.PodRunning, true),
		&corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: "prometheus-config", Namespace: MonitoringNamespace},
			Data:       map[string]string{"prometheus.yml": "scrape_configs:\n  - job_name: consul-servers\n"},
		},
	}
}

func healthyCluster() []runtime.Object {
	return append(baseCluster(), serverConfig(map[string]string{"server.hcl": serverConfigHCL}), healthyServerAccount())
}
