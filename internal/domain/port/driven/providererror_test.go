package driven_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ericfisherdev/coinsplit/internal/domain/port/driven"
)

func TestProviderErrorClassification(t *testing.T) {
	tests := []struct {
		kind      driven.ProviderErrorKind
		retryable bool
		reauth    bool
	}{
		{driven.ErrKindAuthenticationFailed, false, true},
		{driven.ErrKindTokenExpired, true, true},
		{driven.ErrKindRateLimited, true, false},
		{driven.ErrKindNotFound, false, false},
		{driven.ErrKindAPI, false, false},
		{driven.ErrKindNetwork, true, false},
		{driven.ErrKindInvalidResponse, false, false},
		{driven.ErrKindConfiguration, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := fmt.Errorf("create expense: %w", driven.NewProviderError(tt.kind, "x"))
			assert.True(t, driven.IsProviderError(err))
			assert.Equal(t, tt.retryable, driven.IsRetryable(err))
			assert.Equal(t, tt.reauth, driven.RequiresReauth(err))
		})
	}
}

func TestProviderErrorMessage(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &driven.ProviderError{Kind: driven.ErrKindRateLimited, Message: "slow down", RetryAfter: 3 * time.Second, Err: cause}

	assert.Equal(t, "rate_limited: slow down (retry after 3s): dial tcp: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestPlainErrorsAreNotProviderErrors(t *testing.T) {
	err := errors.New("database is locked")
	assert.False(t, driven.IsProviderError(err))
	assert.False(t, driven.IsRetryable(err))
	assert.False(t, driven.RequiresReauth(err))
}
