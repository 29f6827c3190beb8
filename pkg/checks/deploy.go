package checks

import (
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

// SuiteDeploy installs the mesh without verifying the surrounding infrastructure
const SuiteDeploy = "deploy"

// DeploySuite ensures the namespace, installs or upgrades the Consul release
// and waits for the server pods. It has no prerequisites and always installs,
// whatever Config.Deploy says.
func DeploySuite(d Deps) verify.Suite {
	c := &consulChecks{Deps: d}
	return verify.Suite{
		Name: SuiteDeploy,
		Checks: []verify.Check{
			{Name: "namespace", Run: c.checkNamespace},
			{Name: "helm release", Run: c.deployRelease},
			{Name: "server pods ready", Run: c.checkServersReady},
		},
	}
}
