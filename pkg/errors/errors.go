package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrTimeout            = NewError("TIMEOUT", "operation timed out", http.StatusRequestTimeout)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)

	ErrInvalidSubscriberID = NewError("INVALID_SUBSCRIBER_ID", "Invalid UUID", http.StatusBadRequest)
	ErrCacheUnavailable    = NewError("CACHE_UNAVAILABLE", "dedup cache unavailable", http.StatusServiceUnavailable)
	ErrBackendUnavailable  = NewError("BACKEND_UNAVAILABLE", "storage backend unavailable", http.StatusServiceUnavailable)
	ErrBackendConflict     = NewError("BACKEND_CONFLICT", "storage backend state conflict", http.StatusConflict)
	ErrFeedParse           = NewError("FEED_PARSE_ERROR", "unparseable notification message", http.StatusUnprocessableEntity)
	ErrReplayFetch         = NewError("REPLAY_FETCH_ERROR", "feature query failed", http.StatusBadGateway)
)

// permanentCodes never succeed on retry.
var permanentCodes = map[string]bool{
	ErrValidation.Code:          true,
	ErrNotFound.Code:            true,
	ErrInvalidSubscriberID.Code: true,
	ErrFeedParse.Code:           true,
}

type fatal interface {
	IsFatal() bool
}

// Error is an application error with a stable code and HTTP status. The With*
// methods return copies, so the package sentinels are never mutated.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
	fatal   *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

// text prefers a "message" detail over the generic sentinel message.
func (e *Error) text() string {
	if msg, ok := e.Details["message"].(string); ok && msg != "" {
		return msg
	}
	return e.Message
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.text(), e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.text())
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether retrying cannot help. An explicit AsFatal wins,
// then a fatal cause, then the code.
func (e *Error) IsFatal() bool {
	if e.fatal != nil {
		return *e.fatal
	}
	var f fatal
	if e.Cause != nil && errors.As(e.Cause, &f) {
		return f.IsFatal()
	}
	return permanentCodes[e.Code]
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	err.Details[key] = value
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	yes := true
	err.fatal = &yes
	return &err
}

func code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func IsValidation(err error) bool {
	return code(err) == ErrValidation.Code
}

func IsConflict(err error) bool {
	return code(err) == ErrBackendConflict.Code
}

func IsInvalidSubscriberID(err error) bool {
	return code(err) == ErrInvalidSubscriberID.Code
}

func IsCacheUnavailable(err error) bool {
	return code(err) == ErrCacheUnavailable.Code
}

func IsBackendUnavailable(err error) bool {
	return code(err) == ErrBackendUnavailable.Code
}

func IsFeedParse(err error) bool {
	return code(err) == ErrFeedParse.Code
}

func IsReplayFetch(err error) bool {
	return code(err) == ErrReplayFetch.Code
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ToErrorResponse renders err as the JSON error body. Errors outside this
// package are reported as ErrInternal without leaking their text.
func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal
	}

	response := map[string]interface{}{
		"error":      appErr.text(),
		"error_code": appErr.Code,
	}
	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}
	return response
}
