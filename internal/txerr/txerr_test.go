package txerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf_UnwrapsTaggedError(t *testing.T) {
	err := New(RateLimited, "place_order", errors.New("too many requests"))
	assert.Equal(t, RateLimited, ClassOf(err))
}

func TestClassOf_DefaultsToTransientForUntaggedErrors(t *testing.T) {
	assert.Equal(t, Transient, ClassOf(errors.New("some other failure")))
}

func TestRetryable_TransientAndRateLimitedOnly(t *testing.T) {
	assert.True(t, Retryable(Transientf("op", "boom")))
	assert.True(t, Retryable(New(RateLimited, "op", errors.New("boom"))))
	assert.False(t, Retryable(Permanentf("op", "boom")))
	assert.False(t, Retryable(New(AuthError, "op", errors.New("boom"))))
}

func TestErrorWrapsAndFormats(t *testing.T) {
	base := errors.New("connection reset")
	err := New(Transient, "get_candles", base)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "get_candles")
	assert.Contains(t, err.Error(), "transient")
}

func TestWithRetryAfter_IncludedInMessage(t *testing.T) {
	err := New(RateLimited, "place_order", errors.New("rate limited")).WithRetryAfter(2.5)
	assert.Contains(t, err.Error(), "retry_after=2.5s")
}
