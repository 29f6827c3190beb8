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

// ListPods returns an accessor listing pods in namespace matching selector.
// Every call fetches a fresh list.
func ListPods(client kubernetes.Interface, namespace, selector string) poll.Accessor[corev1.Pod] {
	return func(ctx context.Context) ([]corev1.Pod, error) {
		pods, err := client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return nil, fmt.Errorf("list pods %s/%s: %w", namespace, selector, err)
		}
		return pods.Items, nil
	}
}

// IsPodRunning reports whether the pod phase is Running
func IsPodRunning(pod corev1.Pod) bool {
	return pod.Status.Phase == corev1.PodRunning
}

// IsPodReady reports whether the pod is Running and every container is
// ready. A pod that has not reported container statuses yet is not ready.
func IsPodReady(pod corev1.Pod) bool {
	if !IsPodRunning(pod) || len(pod.Status.ContainerStatuses) == 0 {
		return false
	}
	return lo.EveryBy(pod.Status.ContainerStatuses, func(cs corev1.ContainerStatus) bool {
		return cs.Ready
	})
}

// PodTarget describes a wait for expected ready pods
func PodTarget(namespace, selector string, expected int) poll.Target {
	return poll.Target{
		Kind:     "pods",
		Selector: namespace + "/" + selector,
		Expected: expected,
	}
}

// WaitForPods blocks until at least expected pods matching selector are ready
func WaitForPods(ctx context.Context, client kubernetes.Interface, namespace, selector string, expected int, opts poll.Options) (poll.Result, error) {
	return poll.WaitUntil(ctx,
		PodTarget(namespace, selector, expected),
		ListPods(client, namespace, selector),
		poll.AtLeast(expected, IsPodReady),
		opts,
	)
}
