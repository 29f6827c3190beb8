package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/utils/clock"

	"github.com/chalkan3/consul-mesh-verify/internal/audit"
	"github.com/chalkan3/consul-mesh-verify/pkg/checks"
	"github.com/chalkan3/consul-mesh-verify/pkg/cloud"
	"github.com/chalkan3/consul-mesh-verify/pkg/config"
	"github.com/chalkan3/consul-mesh-verify/pkg/helm"
	"github.com/chalkan3/consul-mesh-verify/pkg/kube"
	"github.com/chalkan3/consul-mesh-verify/pkg/metrics"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

// errVerificationFailed is returned when the run completed but did not pass
var errVerificationFailed = errors.New("verification failed")

var (
	verifyCompact bool
	verifySuites  []string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run verification suites against the deployment",
	Long: `Run verification suites against the live deployment and print a report.

Suites run in dependency order. Selecting a suite also runs the suites it
depends on; a suite whose prerequisite did not pass is reported as skipped.

Available suites: ` + strings.Join(checks.Names(), ", ") + `

The command exits non-zero when any check fails or errors.`,
	Example: `  # Verify everything
  meshverify verify

  # Verify only Consul (also runs identity, network and eks)
  meshverify verify consul

  # Verify several suites
  meshverify verify --suite storage --suite monitoring

  # Verify the security posture and WAN federation with dc2
  meshverify verify security --peer-datacenter dc2

  # Install the chart first, write metrics and an audit trail
  meshverify verify --deploy --metrics-file /var/lib/node_exporter/meshverify.prom --audit-file audit.jsonl`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runVerify(cmd, verifySuites)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	flags := verifyCmd.PersistentFlags()
	addDeployFlags(flags)
	flags.Bool(config.KeyDeploy, false, "Install or upgrade the Consul chart before verifying it")
	flags.Duration(config.KeySuiteTimeout, 0, "Upper bound on each suite (default 5m)")
	flags.String(config.KeyBackupBucket, "", "Bucket holding Consul snapshots (default the environment bucket)")
	flags.String(config.KeyBackupPrefix, "", "Key prefix of Consul snapshots (default snapshots/)")
	flags.Duration(config.KeyBackupMaxAge, 0, "Maximum age of the newest snapshot (default 24h)")
	flags.String(config.KeyHostedZone, "", "Route 53 hosted zone to verify; DNS checks are skipped when empty")
	flags.String(config.KeyPeerDatacenter, "", "WAN-federated Consul datacenter; the federation check is skipped when empty")
	flags.String(config.KeyMetricsFile, "", "Write Prometheus metrics to this textfile")
	flags.String(config.KeyAuditFile, "", "Append a JSON-lines audit trail to this file")
	flags.BoolVar(&verifyCompact, "compact", false, "Print only failing checks")
	verifyCmd.Flags().StringSliceVar(&verifySuites, "suite", nil, "Suites to run (repeatable; default all)")

	verifyCmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Run every suite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd, nil)
		},
	})
	for _, name := range checks.Names() {
		suite := name
		verifyCmd.AddCommand(&cobra.Command{
			Use:   suite,
			Short: fmt.Sprintf("Run the %s suite and its prerequisites", suite),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runVerify(cmd, []string{suite})
			},
		})
	}
}

// addDeployFlags registers the flags shared by verify and deploy
func addDeployFlags(flags *pflag.FlagSet) {
	flags.String(config.KeyChartPath, "", "Path or reference of the Consul Helm chart")
	flags.String(config.KeyHelmBinary, "", "Helm binary to run (default helm on $PATH)")
}

// session holds what one command run builds from its configuration
type session struct {
	cfg     config.Config
	log     logr.Logger
	runID   string
	metrics *metrics.Recorder
	trail   *audit.InMemoryLogger
	audit   *audit.Recorder
	closers []func() error
}

func newSession(ctx context.Context, cmd *cobra.Command) (*session, checks.Deps, error) {
	cfg, log, err := loadSession(cmd)
	if err != nil {
		return nil, checks.Deps{}, err
	}

	s := &session{
		cfg:     cfg,
		runID:   uuid.NewString(),
		metrics: metrics.NewRecorder(),
		trail:   audit.NewInMemoryLogger(0),
	}
	s.log = log.WithValues("run", s.runID)

	var sink audit.Logger = s.trail
	if cfg.AuditFile != "" {
		file, err := audit.OpenFile(cfg.AuditFile)
		if err != nil {
			return nil, checks.Deps{}, err
		}
		s.closers = append(s.closers, file.Close)
		sink = audit.Multi(s.trail, file)
	}
	s.audit = audit.NewRecorder(sink, s.runID, audit.WithLogger(s.log.WithName("audit")))

	kc, err := kube.NewClients(cfg.Kubeconfig, cfg.KubeContext)
	if err != nil {
		s.close()
		return nil, checks.Deps{}, err
	}
	awsCfg, err := cloud.LoadConfig(ctx, cfg)
	if err != nil {
		s.close()
		return nil, checks.Deps{}, err
	}

	deps := checks.Deps{
		Config: cfg,
		Cloud:  cloud.NewClients(awsCfg),
		Kube:   kc.Interface,
		Exec:   kc.Executor,
		Helm: helm.NewInstaller(cfg.HelmBinary,
			helm.WithKubeconfig(cfg.Kubeconfig),
			helm.WithKubeContext(cfg.KubeContext),
			helm.WithLogger(s.log.WithName("helm")),
		),
		Clock:     clock.RealClock{},
		Log:       s.log.WithName("checks"),
		OnAttempt: s.metrics.ObserveAttempt,
		Mutations: s.audit,
	}
	return s, deps, nil
}

// run executes suites and writes every configured output
func (s *session) run(ctx context.Context, cmd *cobra.Command, suites []verify.Suite) (*verify.Report, error) {
	names := make([]string, 0, len(suites))
	for _, suite := range suites {
		names = append(names, suite.Name)
	}
	s.audit.RunStarted(s.cfg.Environment, s.cfg.Region, names)
	s.log.Info("Starting verification", "suites", names)

	runner := verify.NewRunner(
		verify.WithLogger(s.log.WithName("runner")),
		verify.WithSuiteTimeout(s.cfg.SuiteTimeout),
		verify.WithObserver(s.metrics),
		verify.WithObserver(s.audit),
		verify.WithRunID(s.runID),
	)
	report, err := runner.Run(ctx, s.cfg.Environment, s.cfg.Region, suites)
	if err != nil {
		return nil, err
	}

	s.audit.RunFinished(report)
	s.metrics.ObserveReport(report)

	if verifyCompact {
		report.PrintCompact(cmd.OutOrStdout())
	} else {
		report.PrintReport(cmd.OutOrStdout())
	}

	summary := s.trail.Summary()
	s.log.V(1).Info("Audit summary", "events", summary.TotalEvents, "failures", summary.FailureCount,
		"slowestCheck", summary.SlowestCheck, "slowest", summary.SlowestDuration)

	if s.cfg.MetricsFile != "" {
		if err := s.metrics.WriteTextfile(s.cfg.MetricsFile); err != nil {
			return report, err
		}
		s.log.Info("Wrote metrics", "path", s.cfg.MetricsFile)
	}
	return report, nil
}

func (s *session) close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			s.log.Error(err, "Failed to close output")
		}
	}
}

func runVerify(cmd *cobra.Command, names []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, deps, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	suites, err := verify.Select(checks.Suites(deps), names...)
	if err != nil {
		return err
	}

	report, err := s.run(ctx, cmd, suites)
	if err != nil {
		return err
	}
	return reportError(report)
}

func reportError(report *verify.Report) error {
	if report.Passed() {
		return nil
	}
	return fmt.Errorf("%w: %s (%d failed, %d errors, %d skipped of %d checks)", errVerificationFailed,
		report.OverallStatus, report.Summary.FailedChecks, report.Summary.ErrorChecks,
		report.Summary.SkippedChecks, report.Summary.TotalChecks)
}
