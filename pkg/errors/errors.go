// Package errors classifies convergence failures into retryable and permanent ones.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/cuemby/burrow/pkg/types"
)

// DefaultRetryDelay is used when a transient failure carries no hint of its own
const DefaultRetryDelay = 5 * time.Second

// ErrTransientConnection marks network failures that go away on their own
var ErrTransientConnection = errors.New("transient connection error")

// ErrTransientKubernetesAPI marks orchestrator API failures worth retrying
var ErrTransientKubernetesAPI = errors.New("transient Kubernetes API error")

// ErrPermanentConfig marks invalid desired state or configuration.
// These are not retried until the desired state changes.
var ErrPermanentConfig = errors.New("permanent configuration error")

// ErrNotFound marks a resource that no longer exists in the desired-state store
var ErrNotFound = errors.New("not found")

// IsTransientConnection checks for network errors, by sentinel, type or message
func IsTransientConnection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientConnection) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"i/o timeout",
		"no such host",
		"network is unreachable",
		"broken pipe",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// IsTransientKubernetesAPI checks for API server responses that a retry can fix
func IsTransientKubernetesAPI(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientKubernetesAPI) {
		return true
	}
	return apierrors.IsConflict(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err) ||
		apierrors.IsUnexpectedServerError(err) ||
		apierrors.IsAlreadyExists(err)
}

// IsTransient reports whether a retry without any desired-state change may succeed
func IsTransient(err error) bool {
	return IsTransientConnection(err) || IsTransientKubernetesAPI(err)
}

// IsPermanent checks for failures that need a desired-state change to clear
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanentConfig) {
		return true
	}
	return apierrors.IsInvalid(err) ||
		apierrors.IsBadRequest(err) ||
		apierrors.IsForbidden(err)
}

// IsNotFound reports whether err means the resource is gone
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// WrapTransientConnection tags err as a transient connection error
func WrapTransientConnection(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransientConnection) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientConnection, err)
}

// WrapTransientKubernetesAPI tags err as a transient orchestrator error
func WrapTransientKubernetesAPI(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransientKubernetesAPI) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientKubernetesAPI, err)
}

// WrapPermanentConfig tags err as a permanent configuration error
func WrapPermanentConfig(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermanentConfig) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermanentConfig, err)
}

// Classify maps a convergence error onto an executor outcome.
// Unknown errors are treated as transient so the resource is revisited.
func Classify(err error, retryDelay time.Duration) types.Outcome {
	if err == nil {
		return types.Converged()
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if IsPermanent(err) {
		return types.Fatal(err.Error())
	}
	if hint, ok := apierrors.SuggestsClientDelay(err); ok && hint > 0 {
		return types.RetryAfter(time.Duration(hint)*time.Second, err.Error())
	}
	return types.RetryAfter(retryDelay, err.Error())
}
