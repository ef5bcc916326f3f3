package geo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodes_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("start monitoring: %w", NewRegistrationError("home", errors.New("region limit exceeded")))

	assert.True(t, IsRegistrationFailed(err))
	assert.False(t, IsCapabilityUnavailable(err))
	assert.Equal(t, ErrCodeRegistrationFailed, CodeOf(err))
	assert.Contains(t, err.Error(), "geofence=home")
	assert.Contains(t, err.Error(), "region limit exceeded")
}

func TestErrorCodes_Constructors(t *testing.T) {
	assert.True(t, IsCapabilityUnavailable(NewCapabilityUnavailableError()))
	assert.True(t, IsAuthorizationInsufficient(NewAuthorizationError(AuthorizationNone, AuthorizationWhenInUse)))
	assert.True(t, IsPersistenceFailed(NewPersistenceError("save", errors.New("disk full"))))
	assert.Equal(t, ErrCodeResolutionFailed, CodeOf(NewResolutionError("gone")))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewPersistenceError("save geofences", cause)
	assert.ErrorIs(t, err, cause)
}
