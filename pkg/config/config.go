// Package config holds the session configuration of a verification run:
// target region and environment, credentials, cluster access, timing and
// the Consul value set. It is built once per run and passed explicitly.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// EnvPrefix is the prefix of every environment variable read by Load
const EnvPrefix = "MESHVERIFY"

// Keys shared by viper, cobra flags and config files
const (
	KeyRegion          = "region"
	KeyEnvironment     = "environment"
	KeyAccessKeyID     = "aws-access-key-id"
	KeySecretAccessKey = "aws-secret-access-key"
	KeySessionToken    = "aws-session-token"
	KeyKubeconfig      = "kubeconfig"
	KeyKubeContext     = "kube-context"
	KeyChartPath       = "chart"
	KeyHelmBinary      = "helm-binary"
	KeyDeploy          = "deploy"
	KeyPollInterval    = "poll-interval"
	KeyPodTimeout      = "pod-timeout"
	KeySuiteTimeout    = "suite-timeout"
	KeyBackupBucket    = "backup-bucket"
	KeyBackupPrefix    = "backup-prefix"
	KeyBackupMaxAge    = "backup-max-age"
	KeyHostedZone      = "hosted-zone"
	KeyPeerDatacenter  = "peer-datacenter"
	KeyMetricsFile     = "metrics-file"
	KeyAuditFile       = "audit-file"
	KeyLogLevel        = "log-level"
	KeyLogFormat       = "log-format"
)

// Datacenter is the Consul datacenter the mesh is deployed into
const Datacenter = "dc1"

// Credentials is ambient AWS credential material
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// IsSet reports whether static credentials were supplied
func (c Credentials) IsSet() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Config is the immutable configuration of one verification run
type Config struct {
	Region      string
	Environment string
	Credentials Credentials

	Kubeconfig  string
	KubeContext string

	ChartPath  string
	HelmBinary string
	Deploy     bool

	PollInterval time.Duration
	PodTimeout   time.Duration
	SuiteTimeout time.Duration

	BackupBucket string
	BackupPrefix string
	BackupMaxAge time.Duration

	HostedZone string

	// PeerDatacenter is the WAN-federated datacenter, if any
	PeerDatacenter string

	MetricsFile string
	AuditFile   string
	LogLevel    string
	LogFormat   string
}

var defaults = map[string]any{
	KeyRegion:       "us-west-2",
	KeyEnvironment:  "test",
	KeyChartPath:    "../../helm/consul",
	KeyHelmBinary:   "helm",
	KeyDeploy:       false,
	KeyPollInterval: 5 * time.Second,
	KeyPodTimeout:   60 * time.Second,
	KeySuiteTimeout: 300 * time.Second,
	KeyBackupPrefix: "snapshots/",
	KeyBackupMaxAge: 24 * time.Hour,
	KeyLogLevel:     "info",
	KeyLogFormat:    "console",
}

// NewViper returns a viper instance with defaults and environment bindings.
// Every key can be set as MESHVERIFY_<KEY>; credentials also come from the
// standard AWS_* variables and the region from AWS_REGION.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	_ = v.BindEnv(KeyRegion, EnvPrefix+"_REGION", "AWS_REGION")
	_ = v.BindEnv(KeyAccessKeyID, EnvPrefix+"_AWS_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv(KeySecretAccessKey, EnvPrefix+"_AWS_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv(KeySessionToken, EnvPrefix+"_AWS_SESSION_TOKEN", "AWS_SESSION_TOKEN")
	_ = v.BindEnv(KeyKubeconfig, EnvPrefix+"_KUBECONFIG", "KUBECONFIG")

	return v
}

// BindFlags binds every flag in flags whose name is a known key
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if !isKnownKey(f.Name) {
			return
		}
		err = multierr.Append(err, v.BindPFlag(f.Name, f))
	})
	return err
}

func isKnownKey(name string) bool {
	switch name {
	case KeyAccessKeyID, KeySecretAccessKey, KeySessionToken, KeyKubeconfig, KeyKubeContext,
		KeyBackupBucket, KeyHostedZone, KeyPeerDatacenter, KeyMetricsFile, KeyAuditFile:
		return true
	}
	_, ok := defaults[name]
	return ok
}

// Load reads the optional config file and returns the validated configuration
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := Config{
		Region:      v.GetString(KeyRegion),
		Environment: v.GetString(KeyEnvironment),
		Credentials: Credentials{
			AccessKeyID:     v.GetString(KeyAccessKeyID),
			SecretAccessKey: v.GetString(KeySecretAccessKey),
			SessionToken:    v.GetString(KeySessionToken),
		},
		Kubeconfig:     v.GetString(KeyKubeconfig),
		KubeContext:    v.GetString(KeyKubeContext),
		ChartPath:      v.GetString(KeyChartPath),
		HelmBinary:     v.GetString(KeyHelmBinary),
		Deploy:         v.GetBool(KeyDeploy),
		PollInterval:   v.GetDuration(KeyPollInterval),
		PodTimeout:     v.GetDuration(KeyPodTimeout),
		SuiteTimeout:   v.GetDuration(KeySuiteTimeout),
		BackupBucket:   v.GetString(KeyBackupBucket),
		BackupPrefix:   v.GetString(KeyBackupPrefix),
		BackupMaxAge:   v.GetDuration(KeyBackupMaxAge),
		HostedZone:     v.GetString(KeyHostedZone),
		PeerDatacenter: v.GetString(KeyPeerDatacenter),
		MetricsFile:    v.GetString(KeyMetricsFile),
		AuditFile:      v.GetString(KeyAuditFile),
		LogLevel:       v.GetString(KeyLogLevel),
		LogFormat:      v.GetString(KeyLogFormat),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once
func (c Config) Validate() error {
	var err error
	if c.Region == "" {
		err = multierr.Append(err, fmt.Errorf("region is required"))
	}
	if c.Environment == "" {
		err = multierr.Append(err, fmt.Errorf("environment is required"))
	}
	if c.PollInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("poll-interval must be positive, got %s", c.PollInterval))
	}
	if c.PodTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("pod-timeout must be positive, got %s", c.PodTimeout))
	}
	if c.SuiteTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("suite-timeout must be positive, got %s", c.SuiteTimeout))
	}
	if c.PollInterval > 0 && c.PodTimeout > 0 && c.PollInterval > c.PodTimeout {
		err = multierr.Append(err, fmt.Errorf("poll-interval %s is longer than pod-timeout %s", c.PollInterval, c.PodTimeout))
	}
	if c.BackupMaxAge < 0 {
		err = multierr.Append(err, fmt.Errorf("backup-max-age must not be negative, got %s", c.BackupMaxAge))
	}
	if c.PeerDatacenter == Datacenter {
		err = multierr.Append(err, fmt.Errorf("peer-datacenter must differ from the local datacenter %s", Datacenter))
	}
	if c.Credentials.AccessKeyID != "" && c.Credentials.SecretAccessKey == "" {
		err = multierr.Append(err, fmt.Errorf("aws-secret-access-key is required when aws-access-key-id is set"))
	}
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
