package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/fairwayhq/fairway/internal/core"
	"github.com/fairwayhq/fairway/internal/core/engine"
	"github.com/fairwayhq/fairway/internal/metrics"
	"github.com/fairwayhq/fairway/internal/observability"
)

// Quota headers attached to every guarded response
const (
	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"
	RetryAfterHeader         = "Retry-After"
	ForwardedForHeader       = "X-Forwarded-For"
)

// DenialRecorder receives the first denial of each key within a window.
// Record must not block.
type DenialRecorder interface {
	Record(event core.DenialEvent)
}

// RateLimit guards next with the named policy. Denied requests never reach next.
// recorder may be nil.
func RateLimit(limiter *engine.RateLimiter, policy string, recorder DenialRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := core.RequestIdentity{
				PrincipalID:  PrincipalFromContext(r.Context()),
				ForwardedFor: r.Header.Get(ForwardedForHeader),
				PeerAddr:     r.RemoteAddr,
			}

			now := limiter.Now()
			decision, key, err := limiter.CheckRequestAt(policy, id, now)
			if err != nil {
				writePolicyFailure(w, r, policy, err)
				return
			}

			metrics.RecordRateLimitDecision(decision.Policy, decision.Allowed)
			setQuotaHeaders(w, decision)

			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := decision.RetryAfterSeconds(now)
			if decision.FirstDenial && recorder != nil {
				recorder.Record(core.DenialEvent{
					Policy:        decision.Policy,
					Key:           key,
					Path:          r.URL.Path,
					ResetAt:       decision.ResetAt,
					FirstDeniedAt: now,
				})
			}

			if logger := observability.ServerLogger; logger != nil {
				logger.Debug("Request rate limited",
					zap.String("policy", decision.Policy),
					zap.String("key", key),
					zap.Int("retry_after", retryAfter),
					zap.String("requestID", GetRequestID(r.Context())))
			}

			writeRateLimited(w, r, decision, retryAfter)
		})
	}
}

func setQuotaHeaders(w http.ResponseWriter, decision core.Decision) {
	h := w.Header()
	h.Set(RateLimitLimitHeader, strconv.Itoa(decision.Limit))
	h.Set(RateLimitRemainingHeader, strconv.Itoa(decision.Remaining))
	h.Set(RateLimitResetHeader, strconv.FormatInt(decision.ResetAt.Unix(), 10))
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, decision core.Decision, retryAfter int) {
	w.Header().Set(RetryAfterHeader, strconv.Itoa(retryAfter))

	envelope := newEnvelope(r, core.ErrorCodeRateLimited, core.RateLimitedMessage(retryAfter), map[string]interface{}{
		"policy":              decision.Policy,
		"retry_after_seconds": retryAfter,
		"reset_at":            decision.ResetAt.UTC().Format(time.RFC3339),
	})

	writeErrorResponse(w, envelope, http.StatusTooManyRequests)
}

// writePolicyFailure rejects the request when the guard names a policy the limiter does not know.
func writePolicyFailure(w http.ResponseWriter, r *http.Request, policy string, err error) {
	if logger := observability.ServerLogger; logger != nil {
		logger.Error("Rate limit policy lookup failed",
			zap.String("policy", policy),
			zap.Error(err),
			zap.String("requestID", GetRequestID(r.Context())))
	}

	envelope := newEnvelope(r, core.ErrorCodeRateLimitPolicy, "Rate limit policy is not configured", nil)
	envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
	metrics.RecordError(envelope.Code, http.StatusInternalServerError)

	writeErrorResponse(w, envelope, http.StatusInternalServerError)
}
