package checks

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/lo"
	corev1 "k8s.io/api/core/v1"

	"github.com/chalkan3/consul-mesh-verify/pkg/config"
	"github.com/chalkan3/consul-mesh-verify/pkg/helm"
	"github.com/chalkan3/consul-mesh-verify/pkg/kube"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

// Label selectors of the Consul workloads
const (
	ServerSelector      = "app=consul,component=server"
	MeshGatewaySelector = "app=consul,component=mesh-gateway"
	expectedServers     = 1
)

type consulChecks struct {
	Deps
}

func consulSuite(d Deps) verify.Suite {
	c := &consulChecks{Deps: d}

	checks := []verify.Check{
		{Name: "namespace", Run: c.checkNamespace},
	}
	if d.Config.Deploy {
		checks = append(checks, verify.Check{
			Name:        "helm release",
			Run:         c.deployRelease,
			Remediation: "Run helm upgrade --install manually and inspect the release status",
		})
	}
	checks = append(checks,
		verify.Check{Name: "server pods ready", Run: c.checkServersReady, Remediation: "Inspect the consul-server StatefulSet events"},
		verify.Check{Name: "single server", Run: c.checkServerCount},
		verify.Check{Name: "members", Run: c.checkMembers},
		verify.Check{Name: "raft leader", Run: c.checkRaftLeader, Remediation: "A cluster without a raft leader cannot serve writes; check server logs"},
		verify.Check{Name: "datacenter", Run: c.checkDatacenter},
		verify.Check{Name: "mesh gateway", Run: c.checkMeshGateway, Remediation: "Enable meshGateway in the Helm values"},
	)
	if d.Config.PeerDatacenter != "" {
		checks = append(checks, verify.Check{
			Name:        "wan federation",
			Run:         c.checkWANMembers,
			Remediation: "Check the mesh gateways and the federation secret of both datacenters",
		})
	}

	return verify.Suite{
		Name:      SuiteConsul,
		DependsOn: []string{SuiteEKS},
		Checks:    checks,
	}
}

func (c *consulChecks) checkNamespace(ctx context.Context) error {
	return c.ensureNamespace(ctx, c.Config.Namespace())
}

func (c *consulChecks) deployRelease(ctx context.Context) error {
	if c.Helm == nil {
		return errors.New("no helm installer configured")
	}
	rel := helm.Release{
		Name:      c.Config.ReleaseName(),
		Namespace: c.Config.Namespace(),
		Chart:     c.Config.ChartPath,
		Values:    c.Config.MeshValues(),
	}

	start := c.now().Now()
	err := c.Helm.InstallOrUpgrade(ctx, rel)
	c.observe(ctx, verify.Mutation{
		Kind:     "helm-release",
		Name:     rel.Namespace + "/" + rel.Name,
		Action:   verify.ActionInstall,
		Duration: c.now().Since(start),
		Err:      err,
	})
	return err
}

func (c *consulChecks) checkServersReady(ctx context.Context) error {
	res, err := kube.WaitForPods(ctx, c.Kube, c.Config.Namespace(), ServerSelector, expectedServers, c.pollOptions())
	if err != nil {
		return err
	}
	c.Log.Info("Consul servers ready", "attempts", res.Attempts, "elapsed", res.Elapsed)
	return nil
}

func (c *consulChecks) checkServerCount(ctx context.Context) error {
	ns := c.Config.Namespace()
	pods, err := kube.ListPods(c.Kube, ns, ServerSelector)(ctx)
	if err != nil {
		return verify.Access("list consul servers", err)
	}
	if len(pods) != expectedServers {
		return verify.Violationf("namespace "+ns, "found %d consul server pods, want %d", len(pods), expectedServers)
	}
	return nil
}

func (c *consulChecks) checkMembers(ctx context.Context) error {
	return c.expectOutput(ctx, "server", "consul", "members")
}

func (c *consulChecks) checkRaftLeader(ctx context.Context) error {
	return c.expectOutput(ctx, "leader", "consul", "operator", "raft", "list-peers")
}

func (c *consulChecks) checkDatacenter(ctx context.Context) error {
	return c.expectOutput(ctx, config.Datacenter, "consul", "members", "-detailed")
}

// checkWANMembers requires an alive server of both datacenters in the WAN pool
func (c *consulChecks) checkWANMembers(ctx context.Context) error {
	pod, stdout, err := c.execInServer(ctx, "consul", "members", "-wan")
	if err != nil {
		return err
	}

	expect := verify.Expect("pod " + c.Config.Namespace() + "/" + pod)
	for _, dc := range []string{config.Datacenter, c.Config.PeerDatacenter} {
		expect.That(hasAliveMember(stdout, dc), "wan members list no alive server in datacenter %s", dc)
	}
	return expect.Err()
}

// hasAliveMember scans `consul members` output for an alive row of datacenter
func hasAliveMember(output, datacenter string) bool {
	return lo.SomeBy(strings.Split(output, "\n"), func(line string) bool {
		fields := strings.Fields(line)
		return lo.Contains(fields, "alive") && lo.Contains(fields, datacenter)
	})
}

func (c *consulChecks) checkMeshGateway(ctx context.Context) error {
	ns := c.Config.Namespace()
	pods, err := kube.ListPods(c.Kube, ns, MeshGatewaySelector)(ctx)
	if err != nil {
		return verify.Access("list mesh gateways", err)
	}
	if len(pods) == 0 {
		return verify.NotFound("pods", ns+"/"+MeshGatewaySelector)
	}

	notRunning := lo.Reject(pods, func(p corev1.Pod, _ int) bool { return kube.IsPodRunning(p) })
	if len(notRunning) > 0 {
		return verify.Violationf("namespace "+ns, "mesh gateway pods not running: %s",
			strings.Join(lo.Map(notRunning, func(p corev1.Pod, _ int) string {
				return p.Name + " (" + string(p.Status.Phase) + ")"
			}), ", "))
	}
	return nil
}

// serverPod picks a ready Consul server to run commands in
func (c *consulChecks) serverPod(ctx context.Context) (string, error) {
	ns := c.Config.Namespace()
	pods, err := kube.ListPods(c.Kube, ns, ServerSelector)(ctx)
	if err != nil {
		return "", verify.Access("list consul servers", err)
	}
	pod, ok := lo.Find(pods, kube.IsPodReady)
	if !ok {
		return "", verify.NotFound("ready consul server pod", ns+"/"+ServerSelector)
	}
	return pod.Name, nil
}

// execInServer runs command in a ready server pod and returns its stdout
func (c *consulChecks) execInServer(ctx context.Context, command ...string) (pod, stdout string, err error) {
	pod, err = c.serverPod(ctx)
	if err != nil {
		return "", "", err
	}
	if c.Exec == nil {
		return "", "", errors.New("no pod executor configured")
	}

	ns := c.Config.Namespace()
	stdout, _, err = c.Exec.Exec(ctx, ns, pod, "", command)
	if err != nil {
		return pod, "", verify.Access("exec in "+ns+"/"+pod, err)
	}
	return pod, stdout, nil
}

// expectOutput runs command in a server pod and requires want in its stdout
func (c *consulChecks) expectOutput(ctx context.Context, want string, command ...string) error {
	pod, stdout, err := c.execInServer(ctx, command...)
	if err != nil {
		return err
	}
	if !strings.Contains(stdout, want) {
		return verify.Violationf("pod "+c.Config.Namespace()+"/"+pod, "output of %q does not contain %q", strings.Join(command, " "), want)
	}
	return nil
}
