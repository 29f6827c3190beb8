package kube

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/chalkan3/consul-mesh-verify/pkg/poll"
)

// ListNodes returns an accessor listing every node in the cluster
func ListNodes(client kubernetes.Interface) poll.Accessor[corev1.Node] {
	return func(ctx context.Context) ([]corev1.Node, error) {
		nodes, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
		if err != nil {
			return nil, fmt.Errorf("list nodes: %w", err)
		}
		return nodes.Items, nil
	}
}

// IsNodeReady reports whether the NodeReady condition is True
func IsNodeReady(node corev1.Node) bool {
	return lo.ContainsBy(node.Status.Conditions, func(c corev1.NodeCondition) bool {
		return c.Type == corev1.NodeReady && c.Status == corev1.ConditionTrue
	})
}

// ReadyNodes lists the nodes that are currently Ready
func ReadyNodes(ctx context.Context, client kubernetes.Interface) ([]corev1.Node, error) {
	nodes, err := ListNodes(client)(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(nodes, func(n corev1.Node, _ int) bool { return IsNodeReady(n) }), nil
}

// WaitForNodes blocks until at least expected nodes are Ready
func WaitForNodes(ctx context.Context, client kubernetes.Interface, expected int, opts poll.Options) (poll.Result, error) {
	return poll.WaitUntil(ctx,
		poll.Target{Kind: "nodes", Selector: "Ready=True", Expected: expected},
		ListNodes(client),
		poll.AtLeast(expected, IsNodeReady),
		opts,
	)
}
