package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")

	cacheErr := fmt.Errorf("admit: %w", ErrCacheUnavailable.WithCause(cause))
	assert.True(t, IsCacheUnavailable(cacheErr))
	assert.False(t, IsBackendUnavailable(cacheErr))
	assert.Equal(t, http.StatusServiceUnavailable, ToHTTPStatus(cacheErr))
	assert.ErrorIs(t, cacheErr, cause)

	assert.True(t, IsInvalidSubscriberID(ErrInvalidSubscriberID))
	assert.True(t, IsConflict(ErrBackendConflict))
	assert.True(t, IsFeedParse(ErrFeedParse.WithCause(cause)))
	assert.True(t, IsReplayFetch(ErrReplayFetch))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(cause))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, ErrFeedParse.IsFatal())
	assert.True(t, ErrInvalidSubscriberID.IsFatal())
	assert.False(t, ErrBackendUnavailable.IsFatal())
	assert.True(t, ErrBackendUnavailable.AsFatal().IsFatal())
	assert.True(t, ErrBackendUnavailable.WithCause(ErrFeedParse).IsFatal(), "fatal cause")
	assert.True(t, ErrBackendUnavailable.AsFatal().WithDetail("k", "v").IsFatal(), "copies keep the flag")
}

func TestToErrorResponse(t *testing.T) {
	err := ErrValidation.WithDetail("message", "topic level minimum of centre-id required")
	resp := ToErrorResponse(err)
	assert.Equal(t, "topic level minimum of centre-id required", resp["error"])
	assert.Equal(t, "VALIDATION_ERROR", resp["error_code"])

	resp = ToErrorResponse(fmt.Errorf("boom"))
	assert.Equal(t, "INTERNAL_ERROR", resp["error_code"])
	assert.Equal(t, "internal server error", resp["error"])
}

func TestRecoverPanic(t *testing.T) {
	assert.Nil(t, RecoverPanic(nil))

	err := RecoverPanic("exploded")
	var appErr *Error
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.True(t, appErr.IsFatal())
}

func TestWithDetail_DoesNotMutateSentinel(t *testing.T) {
	_ = ErrValidation.WithDetail("message", "datetime/topic/subscriber-id required")
	assert.Empty(t, ErrValidation.Details)
}
