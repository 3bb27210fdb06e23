package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwayhq/fairway/internal/core/engine"
	"github.com/fairwayhq/fairway/internal/server/middleware"
)

func TestHTTPStatusFromCode(t *testing.T) {
	cases := map[string]int{
		CodeInvalidInput:         http.StatusBadRequest,
		CodeNotFound:             http.StatusNotFound,
		CodeUnauthorized:         http.StatusUnauthorized,
		CodeRateLimited:          http.StatusTooManyRequests,
		CodeServiceUnavailable:   http.StatusServiceUnavailable,
		CodeRateLimitPolicyError: http.StatusInternalServerError,
		"SOMETHING_ELSE":         http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatusFromCode(code), code)
	}
}

func TestRespondWithRateLimitedError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/bets", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDContextKey, "req-42"))
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, NewRateLimitedError("bets", 17))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "17", rec.Header().Get(middleware.RetryAfterHeader))

	var resp HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeRateLimited, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "17 seconds")
	assert.Equal(t, "req-42", resp.Error.RequestID)
	assert.Equal(t, "bets", resp.Error.Details["policy"])
	assert.EqualValues(t, 17, resp.Error.Details["retry_after_seconds"])
}

func TestEnsureEnvelopeUnknownPolicy(t *testing.T) {
	err := fmt.Errorf("guard: %w", engine.ErrUnknownPolicy)
	envelope := EnsureEnvelope(err)

	assert.Equal(t, CodeRateLimitPolicyError, envelope.Code)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(envelope))
	assert.Contains(t, envelope.Context["wrapped_error"], "unknown rate limit policy")
}

func TestEnsureEnvelopePlainError(t *testing.T) {
	envelope := EnsureEnvelope(fmt.Errorf("disk full"))
	assert.Equal(t, CodeInternal, envelope.Code)

	nilEnvelope := EnsureEnvelope(nil)
	assert.Equal(t, CodeInternal, nilEnvelope.Code)
}

func TestWrapUsesRequestID(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDContextKey, "req-7")
	envelope := WrapNotFound(ctx, fmt.Errorf("no row"), "entry not found")

	assert.Equal(t, CodeNotFound, envelope.Code)
	assert.Equal(t, "req-7", envelope.CorrelationID)
	assert.Equal(t, "no row", envelope.Context["wrapped_error"])
}

func TestEnsureCorrelationIDFallback(t *testing.T) {
	envelope := EnsureCorrelationID(NewInternalError("boom"), context.Background())
	assert.NotEmpty(t, envelope.CorrelationID)
}

func TestEnsureEnvelopeUnwrapsEnvelope(t *testing.T) {
	inner := NewNotFoundError("no such entry")
	assert.Same(t, inner, EnsureEnvelope(fmt.Errorf("admin: %w", inner)))
}

func TestResponseDetailsPrefersDetails(t *testing.T) {
	envelope, err := NewRateLimitedError("auth", 5).WithContext(map[string]interface{}{
		"policy": "shadowed",
		"path":   "/auth/login",
	})
	require.NoError(t, err)

	details := ResponseDetails(envelope)
	assert.Equal(t, "auth", details["policy"])
	assert.Equal(t, "/auth/login", details["path"])
	assert.Nil(t, ResponseDetails(NewInternalError("bare")))
}

func TestRespondWithNilEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithEnvelope(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get(middleware.RetryAfterHeader))
}
