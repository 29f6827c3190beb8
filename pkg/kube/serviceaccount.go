package kube

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

// ServiceAccountAnnotation reads one annotation of a service account. A
// missing service account or an absent or empty annotation is a
// verify.NotFoundError.
func ServiceAccountAnnotation(ctx context.Context, client kubernetes.Interface, namespace, name, key string) (string, error) {
	sa, err := client.CoreV1().ServiceAccounts(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", verify.NotFound("serviceaccount", namespace+"/"+name, err)
		}
		return "", verify.Access("get serviceaccount "+namespace+"/"+name, err)
	}

	value := sa.Annotations[key]
	if value == "" {
		return "", verify.NotFound("serviceaccount annotation", namespace+"/"+name+"["+key+"]")
	}
	return value, nil
}
