package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chalkan3/consul-mesh-verify/pkg/checks"
	"github.com/chalkan3/consul-mesh-verify/pkg/config"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Install or upgrade Consul and wait for its servers",
	Long: `Create the environment namespace if needed, run helm upgrade --install
with the fixed mesh values (datacenter ` + config.Datacenter + `, one server, connect
injection, mesh gateways, TLS and ACLs) and wait until the server pod is
ready. Running it twice is safe.`,
	Example: `  meshverify deploy --environment staging --chart ./helm/consul`,
	Args:    cobra.NoArgs,
	RunE:    runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)
	addDeployFlags(deployCmd.Flags())
	deployCmd.Flags().String(config.KeyAuditFile, "", "Append a JSON-lines audit trail to this file")
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, deps, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	report, err := s.run(ctx, cmd, []verify.Suite{checks.DeploySuite(deps)})
	if err != nil {
		return err
	}
	return reportError(report)
}
