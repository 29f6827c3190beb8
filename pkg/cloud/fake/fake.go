// Package fake provides in-memory implementations of the cloud accessor
// interfaces for tests. Each fake serves the resources stored on it and
// returns the error registered for an operation, if any.
package fake

import (
	"sync"

	"github.com/aws/smithy-go"

	"github.com/chalkan3/consul-mesh-verify/pkg/cloud"
)

// recorder tracks calls and injected errors per operation
type recorder struct {
	mu     sync.Mutex
	errors map[string]error
	calls  map[string]int
}

// FailWith makes every later call of op return err
func (r *recorder) FailWith(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errors == nil {
		r.errors = map[string]error{}
	}
	r.errors[op] = err
}

// Calls returns how many times op was invoked
func (r *recorder) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *recorder) record(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[op]++
	return r.errors[op]
}

// APIError builds a generic AWS API error with the given code
func APIError(code, message string) error {
	return &smithy.GenericAPIError{Code: code, Message: message}
}

// Clients holds one fake per service
type Clients struct {
	EKS        *EKSAPI
	IAM        *IAMAPI
	EC2        *EC2API
	S3         *S3API
	CloudWatch *CloudWatchAPI
	STS        *STSAPI
	ELB        *ELBAPI
	Route53    *Route53API
}

// NewClients creates empty fakes for every service
func NewClients() *Clients {
	return &Clients{
		EKS:        &EKSAPI{},
		IAM:        &IAMAPI{},
		EC2:        &EC2API{},
		S3:         &S3API{},
		CloudWatch: &CloudWatchAPI{},
		STS:        &STSAPI{},
		ELB:        &ELBAPI{},
		Route53:    &Route53API{},
	}
}

// Cloud exposes the fakes through the accessor interfaces
func (c *Clients) Cloud() *cloud.Clients {
	return &cloud.Clients{
		EKS:        c.EKS,
		IAM:        c.IAM,
		EC2:        c.EC2,
		S3:         c.S3,
		CloudWatch: c.CloudWatch,
		STS:        c.STS,
		ELB:        c.ELB,
		Route53:    c.Route53,
	}
}
