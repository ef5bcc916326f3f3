package geo

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes coordinator failures.
type ErrorCode string

const (
	// ErrCodeCapabilityUnavailable indicates region monitoring is unsupported on this device.
	ErrCodeCapabilityUnavailable ErrorCode = "CAPABILITY_UNAVAILABLE"

	// ErrCodeAuthorizationInsufficient indicates location permission is below the required level.
	ErrCodeAuthorizationInsufficient ErrorCode = "AUTHORIZATION_INSUFFICIENT"

	// ErrCodeRegistrationFailed indicates the platform rejected a start or stop.
	ErrCodeRegistrationFailed ErrorCode = "REGISTRATION_FAILED"

	// ErrCodeResolutionFailed indicates a callback referenced an unknown geofence.
	ErrCodeResolutionFailed ErrorCode = "RESOLUTION_FAILED"

	// ErrCodePersistenceFailed indicates serialization or a storage write failed.
	ErrCodePersistenceFailed ErrorCode = "PERSISTENCE_FAILED"

	// ErrCodeNoPendingRequest indicates a location result arrived with nothing to resolve.
	ErrCodeNoPendingRequest ErrorCode = "NO_PENDING_REQUEST"

	// ErrCodeInvalidGeofence indicates a geofence failed validation.
	ErrCodeInvalidGeofence ErrorCode = "INVALID_GEOFENCE"
)

// Error is a coded coordinator error.
type Error struct {
	Code       ErrorCode
	Message    string
	Identifier string // geofence identifier, when one is involved
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Identifier != "" {
		msg = fmt.Sprintf("%s (geofence=%s)", msg, e.Identifier)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

func IsCapabilityUnavailable(err error) bool {
	return CodeOf(err) == ErrCodeCapabilityUnavailable
}

func IsAuthorizationInsufficient(err error) bool {
	return CodeOf(err) == ErrCodeAuthorizationInsufficient
}

func IsRegistrationFailed(err error) bool {
	return CodeOf(err) == ErrCodeRegistrationFailed
}

func IsPersistenceFailed(err error) bool {
	return CodeOf(err) == ErrCodePersistenceFailed
}

func IsInvalidGeofence(err error) bool {
	return CodeOf(err) == ErrCodeInvalidGeofence
}

func NewCapabilityUnavailableError() *Error {
	return &Error{
		Code:    ErrCodeCapabilityUnavailable,
		Message: "region monitoring is not available on this device",
	}
}

func NewAuthorizationError(have, want Authorization) *Error {
	return &Error{
		Code:    ErrCodeAuthorizationInsufficient,
		Message: fmt.Sprintf("location authorization %s, need at least %s", have, want),
	}
}

func NewRegistrationError(identifier string, err error) *Error {
	return &Error{
		Code:       ErrCodeRegistrationFailed,
		Message:    "region monitoring request rejected",
		Identifier: identifier,
		Err:        err,
	}
}

func NewResolutionError(identifier string) *Error {
	return &Error{
		Code:       ErrCodeResolutionFailed,
		Message:    "no geofence for region",
		Identifier: identifier,
	}
}

func NewPersistenceError(op string, err error) *Error {
	return &Error{
		Code:    ErrCodePersistenceFailed,
		Message: op,
		Err:     err,
	}
}

func NewInvalidGeofenceError(identifier, reason string) *Error {
	return &Error{
		Code:       ErrCodeInvalidGeofence,
		Message:    reason,
		Identifier: identifier,
	}
}
