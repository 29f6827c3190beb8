package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

// Error codes returned by AWS when the requested resource is absent
var notFoundCodes = map[string]bool{
	"NotFound":                             true,
	"NoSuchBucket":                         true,
	"NoSuchKey":                            true,
	"NoSuchEntity":                         true,
	"NoSuchHostedZone":                     true,
	"ResourceNotFoundException":            true,
	"InvalidVpcID.NotFound":                true,
	"LoadBalancerNotFound":                 true,
	"NoSuchPublicAccessBlockConfiguration": true,
}

// ErrorCode returns the AWS API error code of err, or "" when err did not
// come from an AWS API
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsNotFoundCode reports whether err carries one of codes. Without codes
// the common not-found codes are matched.
func IsNotFoundCode(err error, codes ...string) bool {
	code := ErrorCode(err)
	if code == "" {
		return false
	}
	if len(codes) == 0 {
		return notFoundCodes[code]
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// Identity is the principal the run is authenticated as
type Identity struct {
	Account string
	ARN     string
	UserID  string
}

// CallerIdentity resolves the current principal
func CallerIdentity(ctx context.Context, client STSAPI) (Identity, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, fmt.Errorf("get caller identity: %w", err)
	}
	return Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}
