// Package helm installs the mesh chart by shelling out to the helm binary.
package helm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

// DefaultBinary is used when no helm binary path is configured
const DefaultBinary = "helm"

// ErrBinaryNotFound is returned when the helm binary cannot be located
var ErrBinaryNotFound = errors.New("helm binary not found")

// Release describes one chart installation
type Release struct {
	Name      string
	Namespace string
	Chart     string
	Values    map[string]any
	Wait      bool
	Timeout   time.Duration
}

// Runner executes a command and returns its output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands as local subprocesses
type ExecRunner struct{}

// Run resolves name on PATH (or uses it as a path) and executes it
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, name, err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = os.Environ()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Installer runs `helm upgrade --install`
type Installer struct {
	binary      string
	kubeconfig  string
	kubeContext string
	runner      Runner
	log         logr.Logger
}

// Option configures an Installer
type Option func(*Installer)

// WithKubeconfig passes --kubeconfig to helm
func WithKubeconfig(path string) Option {
	return func(i *Installer) { i.kubeconfig = path }
}

// WithKubeContext passes --kube-context to helm
func WithKubeContext(name string) Option {
	return func(i *Installer) { i.kubeContext = name }
}

// WithRunner replaces the subprocess runner
func WithRunner(r Runner) Option {
	return func(i *Installer) { i.runner = r }
}

// WithLogger sets the logger
func WithLogger(log logr.Logger) Option {
	return func(i *Installer) { i.log = log }
}

// NewInstaller creates an installer for the given binary (DefaultBinary if empty)
func NewInstaller(binary string, opts ...Option) *Installer {
	if binary == "" {
		binary = DefaultBinary
	}
	i := &Installer{
		binary: binary,
		runner: ExecRunner{},
		log:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// InstallOrUpgrade installs the release or upgrades it in place. Repeating
// the call with the same release is safe.
func (i *Installer) InstallOrUpgrade(ctx context.Context, rel Release) error {
	if rel.Name == "" || rel.Chart == "" || rel.Namespace == "" {
		return fmt.Errorf("release name, chart and namespace are required")
	}

	valuesFile, err := writeValues(rel.Values)
	if err != nil {
		return err
	}
	defer os.Remove(valuesFile)

	args := i.args(rel, valuesFile)
	i.log.Info("running helm", "release", rel.Name, "namespace", rel.Namespace, "chart", rel.Chart)

	start := time.Now()
	_, stderr, err := i.runner.Run(ctx, i.binary, args...)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			return fmt.Errorf("helm upgrade --install %s: %w", rel.Name, err)
		}
		return fmt.Errorf("helm upgrade --install %s: %w: %s", rel.Name, err, msg)
	}

	i.log.Info("helm release applied", "release", rel.Name, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func (i *Installer) args(rel Release, valuesFile string) []string {
	args := []string{
		"upgrade", "--install", rel.Name, rel.Chart,
		"--namespace", rel.Namespace,
		"--values", valuesFile,
	}
	if rel.Wait {
		args = append(args, "--wait")
		if rel.Timeout > 0 {
			args = append(args, "--timeout", rel.Timeout.String())
		}
	}
	if i.kubeconfig != "" {
		args = append(args, "--kubeconfig", i.kubeconfig)
	}
	if i.kubeContext != "" {
		args = append(args, "--kube-context", i.kubeContext)
	}
	return args
}

// writeValues marshals values into a temporary YAML file and returns its path
func writeValues(values map[string]any) (string, error) {
	if values == nil {
		values = map[string]any{}
	}
	data, err := yaml.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal helm values: %w", err)
	}

	f, err := os.CreateTemp("", "meshverify-values-*.yaml")
	if err != nil {
		return "", fmt.Errorf("failed to create values file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write values file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write values file: %w", err)
	}
	return f.Name(), nil
}
