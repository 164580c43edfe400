// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/hourledger/hourledger/internal/shared"
)

var codeStatus = map[shared.Code]int{
	shared.CodeInvalidArgument:    http.StatusBadRequest,
	shared.CodePermissionDenied:   http.StatusForbidden,
	shared.CodeFailedPrecondition: http.StatusPreconditionFailed,
	shared.CodeResourceExhausted:  http.StatusTooManyRequests,
	shared.CodeAborted:            http.StatusConflict,
	shared.CodeNotFound:           http.StatusNotFound,
	shared.CodeInternal:           http.StatusInternalServerError,
}

// Status maps an error code to its HTTP status.
func Status(code shared.Code) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807. Internal errors are
// reported without their message.
func RespondError(w http.ResponseWriter, err error) {
	if errors.Is(err, shared.ErrUnauthenticated) {
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	code := shared.CodeOf(err)
	status := Status(code)
	problem := ProblemDetail{
		Title:  http.StatusText(status),
		Status: status,
		Code:   string(code),
	}
	if code != shared.CodeInternal {
		problem.Detail = err.Error()
		problem.Details = shared.DetailsOf(err)
	}
	if retryAfter, ok := problem.Details["retryAfterSeconds"]; ok {
		switch v := retryAfter.(type) {
		case int:
			w.Header().Set("Retry-After", strconv.Itoa(v))
		case int64:
			w.Header().Set("Retry-After", strconv.FormatInt(v, 10))
		}
	}
	write(w, status, "application/problem+json", problem)
}
