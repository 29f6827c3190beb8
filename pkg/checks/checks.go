// Package checks defines the verification suites run against a deployed
// Consul service mesh: cloud identity, network, EKS, storage, the mesh itself,
// its security posture, monitoring, backups and the edge. Every suite reads
// through the injected accessors so it can be exercised against fakes.
package checks

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/clock"

	"github.com/chalkan3/consul-mesh-verify/pkg/cloud"
	"github.com/chalkan3/consul-mesh-verify/pkg/config"
	"github.com/chalkan3/consul-mesh-verify/pkg/helm"
	"github.com/chalkan3/consul-mesh-verify/pkg/kube"
	"github.com/chalkan3/consul-mesh-verify/pkg/poll"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

// Suite names
const (
	SuiteIdentity   = "identity"
	SuiteNetwork    = "network"
	SuiteEKS        = "eks"
	SuiteStorage    = "storage"
	SuiteConsul     = "consul"
	SuiteSecurity   = "security"
	SuiteMonitoring = "monitoring"
	SuiteBackup     = "backup"
	SuiteEdge       = "edge"
)

// Installer applies a chart release
type Installer interface {
	InstallOrUpgrade(ctx context.Context, rel helm.Release) error
}

// Deps are the accessors and settings shared by every suite
type Deps struct {
	Config config.Config
	Cloud  *cloud.Clients
	Kube   kubernetes.Interface
	Exec   kube.Executor
	Helm   Installer
	Clock  clock.Clock
	Log    logr.Logger

	// OnAttempt observes every poll attempt, e.g. for metrics
	OnAttempt func(poll.Attempt)
	// Mutations observes namespace and release changes, e.g. for auditing
	Mutations verify.MutationObserver
}

// Names lists every suite in registration order
func Names() []string {
	return []string{
		SuiteIdentity, SuiteNetwork, SuiteEKS, SuiteStorage,
		SuiteConsul, SuiteSecurity, SuiteMonitoring, SuiteBackup, SuiteEdge,
	}
}

// Suites builds every suite bound to deps
func Suites(deps Deps) []verify.Suite {
	return []verify.Suite{
		identitySuite(deps),
		networkSuite(deps),
		eksSuite(deps),
		storageSuite(deps),
		consulSuite(deps),
		securitySuite(deps),
		monitoringSuite(deps),
		backupSuite(deps),
		edgeSuite(deps),
	}
}

// pollOptions derives the poller settings from the configuration
func (d Deps) pollOptions() poll.Options {
	return poll.Options{
		Interval: d.Config.PollInterval,
		Timeout:  d.Config.PodTimeout,
		Clock:    d.Clock,
		OnAttempt: func(a poll.Attempt) {
			d.Log.V(1).Info("Poll attempt", "target", a.Target.String(), "attempt", a.Number,
				"elapsed", a.Elapsed, "ready", a.Ready, "error", a.Err)
			if d.OnAttempt != nil {
				d.OnAttempt(a)
			}
		},
	}
}

func (d Deps) now() clock.PassiveClock {
	if d.Clock == nil {
		return clock.RealClock{}
	}
	return d.Clock
}

// ensureNamespace creates namespace and reports the mutation
func (d Deps) ensureNamespace(ctx context.Context, namespace string) error {
	start := d.now().Now()
	created, err := kube.EnsureNamespace(ctx, d.Kube, namespace)

	action := verify.ActionExists
	if created {
		action = verify.ActionCreate
	}
	d.observe(ctx, verify.Mutation{
		Kind:     "namespace",
		Name:     namespace,
		Action:   action,
		Duration: d.now().Since(start),
		Err:      err,
	})
	if err != nil {
		return verify.Access(fmt.Sprintf("ensure namespace %s", namespace), err)
	}
	d.Log.Info("Namespace ready", "namespace", namespace, "created", created)
	return nil
}

func (d Deps) observe(ctx context.Context, m verify.Mutation) {
	if d.Mutations != nil {
		d.Mutations.ObserveMutation(ctx, m)
	}
}
