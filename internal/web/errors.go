package web

// errors.go turns handler errors into JSON responses.
//
// The technical error is logged with the request id; the client receives the
// mapped user message and support code, and for imports the failing row.

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/JonMunkholm/shopcsv/internal/ingest"
	"github.com/JonMunkholm/shopcsv/internal/logging"
	"github.com/JonMunkholm/shopcsv/internal/shop"
)

// errNoFile is returned when a multipart upload lacks the "file" part.
var errNoFile = errors.New("no file provided")

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string             `json:"error"`
	Message string             `json:"message"`
	Action  string             `json:"action,omitempty"`
	Code    string             `json:"code"`
	Failure *ingest.RowFailure `json:"failure,omitempty"`
	// Result reports what an import completed before it stopped.
	Result any `json:"result,omitempty"`
}

// respondError logs err and writes the mapped message with the status
// derived from its category.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	s.respondImportError(w, r, err, nil, nil)
}

func (s *Server) respondImportError(w http.ResponseWriter, r *http.Request, err error, failure *ingest.RowFailure, result any) {
	status := statusFor(err)
	msg := ingest.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if failure != nil {
		attrs = append(attrs, "line", failure.Line)
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}

	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Failure: failure,
		Result:  result,
	})
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, ingest.ErrSizeLimitExceeded), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrUnsupportedEncoding):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ingest.ErrReferenceNotFound), errors.Is(err, ingest.ErrMalformedInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errNoFile), errors.Is(err, errBadParam), errors.Is(err, shop.ErrInvalidOrdering):
		return http.StatusBadRequest
	case errors.Is(err, shop.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// clientIP returns the request's address without the port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
