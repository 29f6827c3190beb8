package kube

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ManagedByLabel marks namespaces created by this tool
const ManagedByLabel = "app.kubernetes.io/managed-by"

// EnsureNamespace creates the namespace if it does not exist. A conflict
// (409 AlreadyExists) is success, so concurrent or repeated calls are safe.
// created reports whether this call created it.
func EnsureNamespace(ctx context.Context, client kubernetes.Interface, name string) (created bool, err error) {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{ManagedByLabel: "meshverify"},
		},
	}

	_, err = client.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	switch {
	case err == nil:
		return true, nil
	case apierrors.IsAlreadyExists(err):
		return false, nil
	default:
		return false, fmt.Errorf("create namespace %s: %w", name, err)
	}
}
