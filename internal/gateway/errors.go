package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/convoim/convo/internal/identity"
	"github.com/convoim/convo/internal/messaging"
	"github.com/convoim/convo/internal/store"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewConflictError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusConflict,
		Message:    lower(http.StatusText(http.StatusConflict)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewServiceUnavailableError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    lower(http.StatusText(http.StatusServiceUnavailable)),
		Err:        err,
	}
}

// mapError translates core errors into API responses. Resources the
// caller may not access map to the same 404 as resources that do not
// exist.
func mapError(err error) *ApiError {
	switch {
	case errors.Is(err, store.ErrInvalidParticipants),
		errors.Is(err, messaging.ErrEmptyContent):
		return NewBadRequestError()
	case errors.Is(err, store.ErrConversationNotFound),
		errors.Is(err, store.ErrNotAParticipant),
		errors.Is(err, store.ErrMessageNotFound),
		errors.Is(err, store.ErrAccountNotFound):
		return NewNotFoundError()
	case errors.Is(err, store.ErrAccountExists):
		return NewConflictError()
	case errors.Is(err, identity.ErrAuthenticationFailed):
		return NewUnauthorizedError()
	case errors.Is(err, messaging.ErrSendFailed):
		return NewServiceUnavailableError(err)
	default:
		return NewInternalServerError(err)
	}
}
