package kube

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
)

// Executor runs a command inside a running container and returns its output
type Executor interface {
	Exec(ctx context.Context, namespace, pod, container string, command []string) (stdout, stderr string, err error)
}

// ExecFunc adapts a function to Executor
type ExecFunc func(ctx context.Context, namespace, pod, container string, command []string) (string, string, error)

func (f ExecFunc) Exec(ctx context.Context, namespace, pod, container string, command []string) (string, string, error) {
	return f(ctx, namespace, pod, container, command)
}

// SPDYExecutor executes commands through the pods/exec subresource
type SPDYExecutor struct {
	config *rest.Config
	client kubernetes.Interface
}

// NewSPDYExecutor creates an executor bound to a cluster
func NewSPDYExecutor(config *rest.Config, client kubernetes.Interface) *SPDYExecutor {
	return &SPDYExecutor{config: config, client: client}
}

// Exec runs command without stdin or a TTY. An empty container selects the
// pod's default container.
func (e *SPDYExecutor) Exec(ctx context.Context, namespace, pod, container string, command []string) (string, string, error) {
	req := e.client.CoreV1().RESTClient().
		Post().
		Resource("pods").
		Namespace(namespace).
		Name(pod).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: container,
			Command:   command,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(e.config, "POST", req.URL())
	if err != nil {
		return "", "", fmt.Errorf("create executor for %s/%s: %w", namespace, pod, err)
	}

	var stdout, stderr bytes.Buffer
	err = exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("exec %q in %s/%s: %w: %s",
			strings.Join(command, " "), namespace, pod, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), stderr.String(), nil
}
