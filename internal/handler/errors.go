package handler

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/caremeds/internal/domain/fault"
)

func init() {
	huma.NewError = newError
}

// ErrorBody is the error envelope of every failed API call.
type ErrorBody struct {
	Code    int                 `json:"code" doc:"HTTP status code"`
	Kind    string              `json:"kind" doc:"Error kind, e.g. validation or not_found"`
	Message string              `json:"message" doc:"Human-readable description"`
	Errors  []*huma.ErrorDetail `json:"errors,omitempty" doc:"Request validation details"`
}

func (e *ErrorBody) Error() string { return e.Message }

// GetStatus implements huma.StatusError.
func (e *ErrorBody) GetStatus() int { return e.Code }

const kindInternal = "internal"

// kindStatus is the HTTP status for each error kind.
var kindStatus = map[fault.Kind]int{
	fault.KindValidation:        http.StatusBadRequest,
	fault.KindInsufficientStock: http.StatusBadRequest,
	fault.KindInvalidTransition: http.StatusBadRequest,
	fault.KindNotFound:          http.StatusNotFound,
	fault.KindAuthorization:     http.StatusUnauthorized,
	fault.KindUnauthenticated:   http.StatusUnauthorized,
	fault.KindConflict:          http.StatusConflict,
}

// newError renders errors raised by huma itself (malformed requests,
// unknown content types) in the API envelope. Request validation failures
// are reported as 400 like domain validation errors.
func newError(status int, msg string, errs ...error) huma.StatusError {
	if status == http.StatusUnprocessableEntity {
		status = http.StatusBadRequest
	}
	body := &ErrorBody{
		Code:    status,
		Kind:    statusKind(status),
		Message: msg,
	}
	for _, err := range errs {
		if err == nil {
			continue
		}
		if d, ok := err.(huma.ErrorDetailer); ok {
			body.Errors = append(body.Errors, d.ErrorDetail())
			continue
		}
		body.Errors = append(body.Errors, &huma.ErrorDetail{Message: err.Error()})
	}
	return body
}

func statusKind(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return string(fault.KindUnauthenticated)
	case status == http.StatusNotFound:
		return string(fault.KindNotFound)
	case status == http.StatusConflict:
		return string(fault.KindConflict)
	case status >= http.StatusInternalServerError:
		return kindInternal
	default:
		return string(fault.KindValidation)
	}
}

// mapError converts a domain error into the API error envelope. Errors
// without a kind are logged and reported as 500 without details.
func mapError(ctx context.Context, err error) error {
	kind := fault.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		return &ErrorBody{
			Code:    http.StatusInternalServerError,
			Kind:    kindInternal,
			Message: "internal server error",
		}
	}
	return &ErrorBody{
		Code:    status,
		Kind:    string(kind),
		Message: err.Error(),
	}
}
