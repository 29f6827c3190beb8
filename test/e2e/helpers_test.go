//go:build e2e

// Package e2e runs the verification suites against a live AWS account and
// cluster. It only builds with -tags e2e.
package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"

	"github.com/chalkan3/consul-mesh-verify/pkg/checks"
	"github.com/chalkan3/consul-mesh-verify/pkg/cloud"
	"github.com/chalkan3/consul-mesh-verify/pkg/config"
	"github.com/chalkan3/consul-mesh-verify/pkg/helm"
	"github.com/chalkan3/consul-mesh-verify/pkg/kube"
)

// =============================================================================
// Test Environment Helpers
// =============================================================================

// TestEnvironment holds the live target, read from MESHVERIFY_* variables
type TestEnvironment struct {
	Config config.Config
}

// NewTestEnvironment loads the configuration the CLI would use
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	cfg, err := config.Load(config.NewViper(), os.Getenv("MESHVERIFY_E2E_CONFIG"))
	require.NoError(t, err)
	return &TestEnvironment{Config: cfg}
}

// SkipIfNoAWSCredentials skips unless the default credential chain resolves
// to a caller identity
func SkipIfNoAWSCredentials(t *testing.T, env *TestEnvironment) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	awsCfg, err := cloud.LoadConfig(ctx, env.Config)
	if err != nil {
		t.Skipf("AWS credentials not configured: %v", err)
	}
	if _, err := cloud.CallerIdentity(ctx, cloud.NewClients(awsCfg).STS); err != nil {
		t.Skipf("AWS credentials invalid: %v", err)
	}
}

// SkipIfNoCluster skips unless the kubeconfig loads
func SkipIfNoCluster(t *testing.T, env *TestEnvironment) {
	t.Helper()
	if _, err := kube.BuildRESTConfig(env.Config.Kubeconfig, env.Config.KubeContext); err != nil {
		t.Skipf("kubeconfig not available: %v", err)
	}
}

// NewDeps builds live suite dependencies
func NewDeps(t *testing.T, env *TestEnvironment) checks.Deps {
	t.Helper()
	awsCfg, err := cloud.LoadConfig(context.Background(), env.Config)
	require.NoError(t, err)
	kc, err := kube.NewClients(env.Config.Kubeconfig, env.Config.KubeContext)
	require.NoError(t, err)

	log := testr.New(t)
	return checks.Deps{
		Config: env.Config,
		Cloud:  cloud.NewClients(awsCfg),
		Kube:   kc.Interface,
		Exec:   kc.Executor,
		Helm:   helm.NewInstaller(env.Config.HelmBinary, helm.WithKubeconfig(env.Config.Kubeconfig), helm.WithLogger(log)),
		Clock:  clock.RealClock{},
		Log:    log,
	}
}

// =============================================================================
// Test Timing Helpers
// =============================================================================

// Timer tracks test duration
type Timer struct {
	name      string
	startTime time.Time
	t         *testing.T
}

// NewTimer creates a new timer
func NewTimer(t *testing.T, name string) *Timer {
	t.Logf("⏱️  Starting: %s", name)
	return &Timer{name: name, startTime: time.Now(), t: t}
}

// Stop logs and returns the elapsed time
func (timer *Timer) Stop() time.Duration {
	duration := time.Since(timer.startTime)
	timer.t.Logf("⏱️  Completed: %s in %v", timer.name, duration)
	return duration
}

func phase(t *testing.T, format string, args ...any) {
	t.Logf("📋 PHASE: %s", fmt.Sprintf(format, args...))
}
