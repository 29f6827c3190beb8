package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chalkan3/consul-mesh-verify/pkg/checks"
	"github.com/chalkan3/consul-mesh-verify/pkg/kube"
	"github.com/chalkan3/consul-mesh-verify/pkg/poll"
)

var (
	waitNamespace string
	waitSelector  string
	waitPodCount  int
	waitNodeCount int
)

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until cluster workloads are ready",
	Long: `Poll the cluster until the requested number of pods or nodes are ready,
or fail once the pod timeout passes.`,
}

var waitPodsCmd = &cobra.Command{
	Use:   "pods",
	Short: "Wait for pods matching a label selector to become ready",
	Example: `  # Wait for the Consul server in the test environment
  meshverify wait pods

  # Wait for two mesh gateways
  meshverify wait pods --selector app=consul,component=mesh-gateway --count 2 --pod-timeout 5m`,
	Args: cobra.NoArgs,
	RunE: runWaitPods,
}

var waitNodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Wait for cluster nodes to become ready",
	Args:  cobra.NoArgs,
	RunE:  runWaitNodes,
}

func init() {
	rootCmd.AddCommand(waitCmd)
	waitCmd.AddCommand(waitPodsCmd, waitNodesCmd)

	waitPodsCmd.Flags().StringVarP(&waitNamespace, "namespace", "n", "", "Namespace to watch (default the environment namespace)")
	waitPodsCmd.Flags().StringVarP(&waitSelector, "selector", "l", checks.ServerSelector, "Label selector of the pods")
	waitPodsCmd.Flags().IntVar(&waitPodCount, "count", 1, "Number of ready pods to wait for")
	waitNodesCmd.Flags().IntVar(&waitNodeCount, "count", 2, "Number of ready nodes to wait for")
}

func runWaitPods(cmd *cobra.Command, _ []string) error {
	return runWait(cmd, func(ctx context.Context, kc *kube.Clients, ns string, opts poll.Options) (poll.Result, error) {
		if waitNamespace != "" {
			ns = waitNamespace
		}
		return kube.WaitForPods(ctx, kc.Interface, ns, waitSelector, waitPodCount, opts)
	})
}

func runWaitNodes(cmd *cobra.Command, _ []string) error {
	return runWait(cmd, func(ctx context.Context, kc *kube.Clients, _ string, opts poll.Options) (poll.Result, error) {
		return kube.WaitForNodes(ctx, kc.Interface, waitNodeCount, opts)
	})
}

type waitFunc func(ctx context.Context, kc *kube.Clients, namespace string, opts poll.Options) (poll.Result, error)

func runWait(cmd *cobra.Command, wait waitFunc) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadSession(cmd)
	if err != nil {
		return err
	}
	kc, err := kube.NewClients(cfg.Kubeconfig, cfg.KubeContext)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	s := newSpinner(out)
	opts := poll.Options{
		Interval: cfg.PollInterval,
		Timeout:  cfg.PodTimeout,
		OnAttempt: func(a poll.Attempt) {
			log.V(1).Info("Poll attempt", "target", a.Target.String(), "attempt", a.Number, "ready", a.Ready, "error", a.Err)
			if s != nil {
				s.Lock()
				s.Suffix = fmt.Sprintf(" Waiting for %s (attempt %d, %s)", a.Target, a.Number, a.Elapsed.Round(time.Second))
				s.Unlock()
			}
		},
	}
	if s != nil {
		s.Start()
	}

	res, err := wait(ctx, kc, cfg.Namespace(), opts)
	if s != nil {
		s.Stop()
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s ready after %d attempts (%s)\n", color.GreenString("✓"), res.Attempts, res.Elapsed.Round(time.Second))
	return nil
}

// newSpinner returns nil unless out is a terminal
func newSpinner(out io.Writer) *spinner.Spinner {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
}
