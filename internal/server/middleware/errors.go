package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/fairwayhq/fairway/internal/metrics"
	"github.com/fairwayhq/fairway/internal/observability"
)

// ErrorResponse is the JSON error body shared by every middleware rejection.
// It mirrors the body written by the errors package, which this package
// cannot import.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// privateContext lists envelope context keys that are logged but never returned.
var privateContext = map[string]bool{"stack_trace": true}

// Recovery turns a panic into a critical INTERNAL_ERROR response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			stack := debug.Stack()
			requestID := GetRequestID(r.Context())

			metrics.RecordPanic()
			if logger := observability.ServerLogger; logger != nil {
				logger.Error("Recovered from panic",
					zap.Any("panic", recovered),
					zap.String("path", r.URL.Path),
					zap.String("requestID", requestID),
					zap.ByteString("stack", stack))
			}

			envelope := newEnvelope(r, "INTERNAL_ERROR", fmt.Sprintf("panic: %v", recovered), map[string]interface{}{
				"path":        r.URL.Path,
				"stack_trace": string(stack),
			})
			envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// newEnvelope builds an envelope correlated with the request id.
func newEnvelope(r *http.Request, code, message string, context map[string]interface{}) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message).WithCorrelationID(GetRequestID(r.Context()))
	if len(context) > 0 {
		if withContext, err := envelope.WithContext(context); err == nil {
			envelope = withContext
		}
	}
	return envelope
}

func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, status int) {
	body := ErrorResponse{Error: ErrorDetail{
		Code:      envelope.Code,
		Message:   envelope.Message,
		RequestID: envelope.CorrelationID,
	}}
	for key, value := range envelope.Context {
		if privateContext[key] {
			continue
		}
		if body.Error.Details == nil {
			body.Error.Details = map[string]interface{}{}
		}
		body.Error.Details[key] = value
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
