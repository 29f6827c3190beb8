package config

import "fmt"

// Resource names are derived from environment and region so that each
// deployment is uniquely named.

// ClusterName is the EKS cluster name
func (c Config) ClusterName() string {
	return fmt.Sprintf("consul-%s-%s", c.Environment, c.Region)
}

// VPCName is the Name tag of the deployment VPC
func (c Config) VPCName() string {
	return c.ClusterName()
}

// Namespace is the Kubernetes namespace of the Consul release
func (c Config) Namespace() string {
	return fmt.Sprintf("consul-%s", c.Environment)
}

// ReleaseName is the Helm release name
func (c Config) ReleaseName() string {
	return c.Namespace()
}

// BucketName is the backup bucket
func (c Config) BucketName() string {
	return fmt.Sprintf("consul-backup-%s-%s", c.Environment, c.Region)
}

// SnapshotBucket is where Consul snapshots are expected, the backup bucket
// unless overridden
func (c Config) SnapshotBucket() string {
	if c.BackupBucket != "" {
		return c.BackupBucket
	}
	return c.BucketName()
}

// AlarmName is the CloudWatch alarm watching Consul health
func (c Config) AlarmName() string {
	return fmt.Sprintf("consul-health-%s", c.Environment)
}

// ClusterRoleName is the IAM role assumed by the EKS control plane
func (c Config) ClusterRoleName() string {
	return "eks-cluster-" + c.ClusterName()
}

// NodeRoleName is the IAM role of the worker nodes
func (c Config) NodeRoleName() string {
	return "eks-node-" + c.ClusterName()
}

// MeshValues is the Helm value set describing the desired mesh topology
func (c Config) MeshValues() map[string]any {
	return map[string]any{
		"global": map[string]any{
			"name":       c.Namespace(),
			"datacenter": Datacenter,
		},
		"server": map[string]any{
			"replicas": 1,
		},
		"connectInject": map[string]any{"enabled": true},
		"meshGateway":   map[string]any{"enabled": true},
		"tls":           map[string]any{"enabled": true},
		"acls":          map[string]any{"enabled": true},
	}
}
