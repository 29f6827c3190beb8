package checks

import (
	"context"
	"path"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/samber/lo"

	"github.com/chalkan3/consul-mesh-verify/pkg/cloud"
	"github.com/chalkan3/consul-mesh-verify/pkg/kube"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

// Objects the Consul chart creates for the servers
const (
	ServerConfigMap      = "consul-server-config"
	ServerServiceAccount = "consul-server"
	RoleARNAnnotation    = "eks.amazonaws.com/role-arn"
)

// settingPrefix anchors a key so "verify_incoming" does not match inside
// "tls_verify_incoming_rpc"; the key may be quoted as in JSON
const settingPrefix = `(?:^|[\s{,])"?`

var (
	verifyIncomingPattern = settingPattern("verify_incoming", `"?true\b`)
	verifyOutgoingPattern = settingPattern("verify_outgoing", `"?true\b`)
	gossipKeyPattern      = settingPattern("encrypt", `"?[A-Za-z0-9+/]{16,}={0,2}"?`)
	aclEnabledPattern     = regexp.MustCompile(`(?m)` + settingPrefix + `acl"?\s*[:=]?\s*\{(?:[^}]*?[\s,])?"?enabled"?\s*[:=]\s*"?true\b`)
)

// settingPattern matches key set to value in HCL, JSON or YAML
func settingPattern(key, value string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)` + settingPrefix + regexp.QuoteMeta(key) + `"?\s*[:=]\s*` + value)
}

type securityChecks struct {
	Deps
}

func securitySuite(d Deps) verify.Suite {
	s := &securityChecks{Deps: d}
	return verify.Suite{
		Name:      SuiteSecurity,
		DependsOn: []string{SuiteConsul},
		Checks: []verify.Check{
			{Name: "tls verification", Run: s.checkTLS, Remediation: "Set global.tls.enabled and global.tls.verify in the Helm values"},
			{Name: "acl system", Run: s.checkACL, Remediation: "Set global.acls.manageSystemACLs in the Helm values"},
			{Name: "gossip encryption", Run: s.checkGossipEncryption, Remediation: "Create a gossip key secret and reference it from global.gossipEncryption"},
			{Name: "server iam role", Run: s.checkServerRole, Remediation: "Annotate the consul-server service account with its IRSA role"},
		},
	}
}

// serverConfig returns every file of the server config map as one document
func (s *securityChecks) serverConfig(ctx context.Context) (string, error) {
	data, err := kube.ConfigMapData(ctx, s.Kube, s.Config.Namespace(), ServerConfigMap)
	if err != nil {
		return "", err
	}
	return strings.Join(lo.Values(data), "\n"), nil
}

func (s *securityChecks) configResource() string {
	return "configmap " + s.Config.Namespace() + "/" + ServerConfigMap
}

func (s *securityChecks) checkTLS(ctx context.Context) error {
	doc, err := s.serverConfig(ctx)
	if err != nil {
		return err
	}
	return verify.Expect(s.configResource()).
		That(verifyIncomingPattern.MatchString(doc), "verify_incoming is not enabled").
		That(verifyOutgoingPattern.MatchString(doc), "verify_outgoing is not enabled").
		Err()
}

func (s *securityChecks) checkACL(ctx context.Context) error {
	doc, err := s.serverConfig(ctx)
	if err != nil {
		return err
	}
	if !aclEnabledPattern.MatchString(doc) {
		return verify.Violationf(s.configResource(), "acl system is not enabled")
	}
	return nil
}

func (s *securityChecks) checkGossipEncryption(ctx context.Context) error {
	doc, err := s.serverConfig(ctx)
	if err != nil {
		return err
	}
	if !gossipKeyPattern.MatchString(doc) {
		return verify.Violationf(s.configResource(), "gossip encryption key is not set")
	}
	return nil
}

func (s *securityChecks) checkServerRole(ctx context.Context) error {
	ns := s.Config.Namespace()
	value, err := kube.ServiceAccountAnnotation(ctx, s.Kube, ns, ServerServiceAccount, RoleARNAnnotation)
	if err != nil {
		return err
	}

	parsed, err := arn.Parse(value)
	if err != nil || parsed.Service != "iam" || !strings.HasPrefix(parsed.Resource, "role/") {
		return verify.Violationf("serviceaccount "+ns+"/"+ServerServiceAccount, "%s %q is not an IAM role ARN", RoleARNAnnotation, value)
	}

	// role ARNs may carry a path: role/consul/consul-server
	name := path.Base(parsed.Resource)
	if _, err := s.Cloud.IAM.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)}); err != nil {
		if cloud.IsNotFoundCode(err, "NoSuchEntity") {
			return verify.NotFound("iam role", name, err)
		}
		return verify.Access("get role "+name, err)
	}
	return nil
}
