// Package retry decides which errors are worth retrying while waiting on
// external state. Only a designated set of transient failures is retried;
// credential and request errors surface immediately.
package retry

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
	"syscall"

	"github.com/aws/smithy-go"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Class is the retry classification of an error
type Class string

const (
	// ClassTransient errors are expected to clear up on their own
	ClassTransient Class = "transient"
	// ClassFatal errors will not change by waiting (bad credentials, bad requests)
	ClassFatal Class = "fatal"
	// ClassUnknown errors are not recognised and therefore not retried
	ClassUnknown Class = "unknown"
)

// RetryableError wraps an error to mark it transient explicitly
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps an error as retryable
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err was explicitly marked retryable
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

var (
	transientAWSCodes = map[string]struct{}{
		"Throttling":                {},
		"ThrottlingException":       {},
		"ThrottledException":        {},
		"RequestLimitExceeded":      {},
		"RequestThrottled":          {},
		"RequestThrottledException": {},
		"TooManyRequestsException":  {},
		"SlowDown":                  {},
		"ServiceUnavailable":        {},
		"InternalError":             {},
		"InternalFailure":           {},
		"RequestTimeout":            {},
		"RequestTimeoutException":   {},
		"ResourceNotFoundException": {},
		"NoSuchBucket":              {},
		"NotFound":                  {},
	}

	fatalAWSCodes = map[string]struct{}{
		"AccessDenied":                {},
		"AccessDeniedException":       {},
		"UnauthorizedOperation":       {},
		"UnrecognizedClientException": {},
		"ExpiredToken":                {},
		"ExpiredTokenException":       {},
		"InvalidClientTokenId":        {},
		"SignatureDoesNotMatch":       {},
		"AuthFailure":                 {},
		"ValidationError":             {},
		"ValidationException":         {},
		"InvalidParameterValue":       {},
	}

	transientPatterns = []string{
		"Internal Server Error", "Bad Gateway",
		"Service Unavailable", "Gateway Timeout",
		"connection reset by peer", "connection refused",
		"i/o timeout", "TLS handshake timeout",
		"unexpected EOF", "no such host",
	}

	// word boundaries keep port numbers like ":5000" from matching
	httpStatusCodePattern = regexp.MustCompile(`\b50[0-4]\b`)
)

// Classify sorts err into transient, fatal or unknown
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	// A spent deadline is the caller's timeout, not a network fault
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassFatal
	}

	if IsRetryable(err) {
		return ClassTransient
	}

	if class, ok := classifyKubernetes(err); ok {
		return class
	}

	if class, ok := classifyAWS(err); ok {
		return class
	}

	if isNetworkError(err) {
		return ClassTransient
	}

	msg := err.Error()
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return ClassTransient
		}
	}
	if httpStatusCodePattern.MatchString(msg) {
		return ClassTransient
	}

	return ClassUnknown
}

// IsTransient reports whether waiting and trying again may succeed
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// IsFatal reports whether err indicates a misconfiguration that waiting cannot fix
func IsFatal(err error) bool {
	return Classify(err) == ClassFatal
}

func classifyKubernetes(err error) (Class, bool) {
	var status apierrors.APIStatus
	if !errors.As(err, &status) {
		return "", false
	}

	switch {
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err),
		apierrors.IsBadRequest(err), apierrors.IsInvalid(err):
		return ClassFatal, true
	case apierrors.IsNotFound(err), apierrors.IsTooManyRequests(err),
		apierrors.IsServerTimeout(err), apierrors.IsTimeout(err),
		apierrors.IsInternalError(err), apierrors.IsServiceUnavailable(err):
		return ClassTransient, true
	}

	if status.Status().Code >= 500 {
		return ClassTransient, true
	}
	return ClassUnknown, true
}

func classifyAWS(err error) (Class, bool) {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if _, ok := fatalAWSCodes[code]; ok {
			return ClassFatal, true
		}
		if _, ok := transientAWSCodes[code]; ok {
			return ClassTransient, true
		}
	}

	var withStatus interface{ HTTPStatusCode() int }
	if errors.As(err, &withStatus) {
		switch code := withStatus.HTTPStatusCode(); {
		case code == 429 || code >= 500:
			return ClassTransient, true
		case code == 401 || code == 403:
			return ClassFatal, true
		}
	}

	if apiErr != nil {
		return ClassUnknown, true
	}
	return "", false
}

func isNetworkError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
