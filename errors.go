package farmauth

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when a required local field is missing. It never reaches the backend.
	ErrValidation = errors.New("validation failed")
	// ErrProvider is returned when the federated provider fails or rejects the sign-in.
	ErrProvider = errors.New("identity provider error")
	// ErrProviderCancelled is returned when the user closes the provider popup.
	ErrProviderCancelled = errors.New("identity provider cancelled")
	// ErrBackendRejection is returned for a non-success envelope or an HTTP failure status.
	ErrBackendRejection = errors.New("backend rejected request")
	// ErrStorageUnavailable is returned when the token store cannot be read or written.
	ErrStorageUnavailable = errors.New("session storage unavailable")
	// ErrInvalidAssertion is returned when an identity assertion has no token or no email.
	ErrInvalidAssertion = errors.New("invalid identity assertion")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ValidationError names the local field that failed a fail-fast check.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return e.Field + " is required"
}

// Is reports whether target is [ErrValidation].
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RejectionError is a backend refusal. Message carries the backend's own
// human-readable text when it supplied one.
type RejectionError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *RejectionError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("backend rejected request (%d): %s", e.StatusCode, e.Message)
	case e.Status != "":
		return fmt.Sprintf("backend rejected request (%d): status %q", e.StatusCode, e.Status)
	default:
		return fmt.Sprintf("backend rejected request (%d)", e.StatusCode)
	}
}

// Is reports whether target is [ErrBackendRejection].
func (e *RejectionError) Is(target error) bool {
	return target == ErrBackendRejection
}

// ProviderError wraps a failure from the federated provider. Cancel signals
// unwrap to [ErrProviderCancelled]; everything else only matches [ErrProvider].
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return "provider " + e.Op + " failed"
	}
	return "provider " + e.Op + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is reports whether target is [ErrProvider].
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
