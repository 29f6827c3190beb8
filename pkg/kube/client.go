// Package kube is the cluster resource accessor: namespaces, pods, config
// maps, nodes and remote command execution against the Kubernetes API.
package kube

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Clients bundles the handles built once per run
type Clients struct {
	Interface kubernetes.Interface
	Executor  Executor
}

// BuildRESTConfig loads a REST config. An empty kubeconfig falls back to the
// standard loading rules ($KUBECONFIG, then ~/.kube/config); an empty
// context uses the kubeconfig's current context.
func BuildRESTConfig(kubeconfig, kubeContext string) (*rest.Config, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}

	overrides := &clientcmd.ConfigOverrides{}
	if kubeContext != "" {
		overrides.CurrentContext = kubeContext
	}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return restConfig, nil
}

// NewClients builds the typed clientset and the exec helper from kubeconfig
func NewClients(kubeconfig, kubeContext string) (*Clients, error) {
	restConfig, err := BuildRESTConfig(kubeconfig, kubeContext)
	if err != nil {
		return nil, err
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return &Clients{
		Interface: clientset,
		Executor:  NewSPDYExecutor(restConfig, clientset),
	}, nil
}
