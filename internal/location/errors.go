package location

import (
	"errors"
	"fmt"
)

// ErrorCode is a platform location failure code. The numeric values are
// shared with the mobile bridges.
type ErrorCode int

const (
	CodeUnknown               ErrorCode = 0
	CodePermissionDenied      ErrorCode = 1
	CodeNetworkError          ErrorCode = 2
	CodeClientIsNull          ErrorCode = 3
	CodeDisabled              ErrorCode = 4
	CodeIsNull                ErrorCode = 5
	CodeCurrentLocationFailed ErrorCode = 6
	CodeSettingsFailed        ErrorCode = 7
	CodeTimeout               ErrorCode = 408
)

var codeNames = map[ErrorCode]string{
	CodeUnknown:               "LOCATION_UNKNOWN",
	CodePermissionDenied:      "PERMISSION_DENIED",
	CodeNetworkError:          "NETWORK_ERROR",
	CodeClientIsNull:          "LOCATION_CLIENT_IS_NULL",
	CodeDisabled:              "LOCATION_DISABLED",
	CodeIsNull:                "LOCATION_IS_NULL",
	CodeCurrentLocationFailed: "CURRENT_LOCATION_FAILED",
	CodeSettingsFailed:        "LOCATION_SETTINGS_FAILED",
	CodeTimeout:               "LOCATION_TIMEOUT",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("LOCATION_ERROR_%d", int(c))
}

// ParseErrorCode accepts the names produced by String.
func ParseErrorCode(s string) (ErrorCode, error) {
	for code, name := range codeNames {
		if name == s {
			return code, nil
		}
	}
	return CodeUnknown, fmt.Errorf("unknown location error code %q", s)
}

// Error is a location fetch failure reported by the platform.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a location error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func codeOf(err error) (ErrorCode, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le.Code, true
	}
	return 0, false
}

func hasCode(err error, want ErrorCode) bool {
	code, ok := codeOf(err)
	return ok && code == want
}

func IsPermissionDenied(err error) bool {
	return hasCode(err, CodePermissionDenied)
}

func IsLocationDisabled(err error) bool {
	return hasCode(err, CodeDisabled)
}

func IsNetworkError(err error) bool {
	return hasCode(err, CodeNetworkError)
}

func IsLocationTimeout(err error) bool {
	return hasCode(err, CodeTimeout)
}

func IsLocationUnknown(err error) bool {
	return hasCode(err, CodeUnknown)
}
