package kube

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

// ConfigMapData reads every key of a config map. A missing config map is a
// verify.NotFoundError.
func ConfigMapData(ctx context.Context, client kubernetes.Interface, namespace, name string) (map[string]string, error) {
	cm, err := client.CoreV1().ConfigMaps(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, verify.NotFound("configmap", namespace+"/"+name, err)
		}
		return nil, verify.Access("get configmap "+namespace+"/"+name, err)
	}
	return cm.Data, nil
}

// ConfigMapValue reads one key of a config map. A missing config map or key
// is a verify.NotFoundError.
func ConfigMapValue(ctx context.Context, client kubernetes.Interface, namespace, name, key string) (string, error) {
	data, err := ConfigMapData(ctx, client, namespace, name)
	if err != nil {
		return "", err
	}

	value, ok := data[key]
	if !ok {
		return "", verify.NotFound("configmap key", namespace+"/"+name+"["+key+"]")
	}
	return value, nil
}
