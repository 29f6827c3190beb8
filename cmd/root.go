package cmd

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/chalkan3/consul-mesh-verify/pkg/config"
	"github.com/chalkan3/consul-mesh-verify/pkg/logging"
)

var (
	cfgFile  string
	settings = config.NewViper()

	// Version information - set by main.go
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
	BuiltBy = "unknown"
)

// SetVersionInfo sets the version information from main.go
func SetVersionInfo(version, commit, date, builtBy string) {
	Version = version
	Commit = commit
	Date = date
	BuiltBy = builtBy
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "meshverify",
	Short: "Verify a Consul service mesh deployment on AWS",
	Long: `meshverify checks a live Consul service-mesh deployment on AWS end to end:
the VPC and EKS cluster it runs on, the S3 and IAM posture around it, the
Consul servers and mesh gateways inside the cluster, monitoring and backups.

Every setting can come from a flag, a config file (--config) or a
MESHVERIFY_* environment variable. AWS credentials are read from the
standard AWS_* variables or the shared credentials chain.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Config file (yaml, json or toml)")
	flags.StringP(config.KeyRegion, "r", "", "AWS region (default us-west-2, or $AWS_REGION)")
	flags.StringP(config.KeyEnvironment, "e", "", "Environment name used to derive resource names (default test)")
	flags.String(config.KeyKubeconfig, "", "Path to the kubeconfig (default $KUBECONFIG or ~/.kube/config)")
	flags.String(config.KeyKubeContext, "", "Kubeconfig context to use")
	flags.Duration(config.KeyPollInterval, 0, "Pause between readiness polls (default 5s)")
	flags.Duration(config.KeyPodTimeout, 0, "How long to wait for pods and nodes to become ready (default 60s)")
	flags.String(config.KeyLogLevel, "", "Log level: debug|info|warn|error")
	flags.String(config.KeyLogFormat, "", "Log format: console|json")

	rootCmd.SetVersionTemplate(versionTemplate())
	rootCmd.Version = Version
}

func versionTemplate() string {
	return fmt.Sprintf(`meshverify %s
  Commit:    %s
  Built:     %s
  Built by:  %s
`, Version, Commit, Date, BuiltBy)
}

// loadSession binds the command's flags and returns the validated
// configuration together with a logger built from it
func loadSession(cmd *cobra.Command) (config.Config, logr.Logger, error) {
	if err := config.BindFlags(settings, cmd.Flags()); err != nil {
		return config.Config{}, logr.Discard(), fmt.Errorf("failed to bind flags: %w", err)
	}
	cfg, err := config.Load(settings, cfgFile)
	if err != nil {
		return config.Config{}, logr.Discard(), err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return config.Config{}, logr.Discard(), err
	}
	return cfg, log.WithValues("environment", cfg.Environment, "region", cfg.Region), nil
}
