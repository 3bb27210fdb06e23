package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairwayhq/fairway/internal/core"
	"github.com/fairwayhq/fairway/internal/core/engine"
	apperrors "github.com/fairwayhq/fairway/internal/errors"
	"github.com/fairwayhq/fairway/internal/server/middleware"
)

// PolicyStatus describes one policy and how many keys currently hold a window.
type PolicyStatus struct {
	Name          string `json:"name"`
	WindowSeconds int64  `json:"window_seconds"`
	Max           int    `json:"max"`
	KeyRule       string `json:"key_rule"`
	ActiveKeys    int    `json:"active_keys"`
}

// RateLimitsResponse is returned by GET /admin/rate-limits.
type RateLimitsResponse struct {
	Entries  int            `json:"entries"`
	Policies []PolicyStatus `json:"policies"`
}

// EntryResponse is the live window for one key.
type EntryResponse struct {
	Policy    string    `json:"policy"`
	Key       string    `json:"key"`
	Count     int64     `json:"count"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Expired   bool      `json:"expired"`
}

// RateLimitAdmin serves read and reset operations over a running limiter.
type RateLimitAdmin struct {
	Limiter *engine.RateLimiter
}

// NewRateLimitAdmin returns admin handlers for limiter.
func NewRateLimitAdmin(limiter *engine.RateLimiter) *RateLimitAdmin {
	return &RateLimitAdmin{Limiter: limiter}
}

// ListPolicies handles GET /admin/rate-limits.
func (h *RateLimitAdmin) ListPolicies(w http.ResponseWriter, r *http.Request) {
	stats := h.Limiter.Stats()

	policies := h.Limiter.Registry.Policies()
	resp := RateLimitsResponse{
		Entries:  stats.Entries,
		Policies: make([]PolicyStatus, 0, len(policies)),
	}
	for _, p := range policies {
		resp.Policies = append(resp.Policies, PolicyStatus{
			Name:          p.Name,
			WindowSeconds: int64(p.Window / time.Second),
			Max:           p.Max,
			KeyRule:       string(p.KeyRule),
			ActiveKeys:    stats.Active[p.Name],
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetEntry handles GET /admin/rate-limits/{policy}/{key}.
func (h *RateLimitAdmin) GetEntry(w http.ResponseWriter, r *http.Request) {
	policyName, key, ok := h.entryParams(w, r)
	if !ok {
		return
	}

	entry, found, err := h.Limiter.Snapshot(policyName, key)
	if err != nil {
		apperrors.RespondWithError(w, r, policyLookupError(r.Context(), err))
		return
	}
	if !found {
		apperrors.RespondWithError(w, r, apperrors.WrapNotFound(r.Context(), nil, "No active window for key"))
		return
	}

	policy, _ := h.Limiter.Registry.Lookup(policyName)
	remaining := max(policy.Max-int(entry.Count), 0)
	expired := entry.Expired(h.Limiter.Now())
	if expired {
		remaining = policy.Max
	}

	writeJSON(w, http.StatusOK, EntryResponse{
		Policy:    policyName,
		Key:       key,
		Count:     entry.Count,
		Limit:     policy.Max,
		Remaining: remaining,
		ResetAt:   entry.ResetAt,
		Expired:   expired,
	})
}

// ResetEntry handles DELETE /admin/rate-limits/{policy}/{key}.
func (h *RateLimitAdmin) ResetEntry(w http.ResponseWriter, r *http.Request) {
	policyName, key, ok := h.entryParams(w, r)
	if !ok {
		return
	}

	removed, err := h.Limiter.Reset(policyName, key)
	if err != nil {
		apperrors.RespondWithError(w, r, policyLookupError(r.Context(), err))
		return
	}
	if !removed {
		apperrors.RespondWithError(w, r, apperrors.WrapNotFound(r.Context(), nil, "No active window for key"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// QuotaResponse lists the caller's standing under every policy.
type QuotaResponse struct {
	Principal string          `json:"principal,omitempty"`
	Quotas    []EntryResponse `json:"quotas"`
}

// Quota handles GET /v1/quota. It reads windows without consuming them.
func (h *RateLimitAdmin) Quota(w http.ResponseWriter, r *http.Request) {
	id := core.RequestIdentity{
		PrincipalID:  middleware.PrincipalFromContext(r.Context()),
		ForwardedFor: r.Header.Get(middleware.ForwardedForHeader),
		PeerAddr:     r.RemoteAddr,
	}
	now := h.Limiter.Now()

	resp := QuotaResponse{Principal: id.PrincipalID}
	for _, policy := range h.Limiter.Registry.Policies() {
		key := h.Limiter.Keys.Derive(id, policy.KeyRule)
		quota := EntryResponse{Policy: policy.Name, Key: key, Limit: policy.Max, Remaining: policy.Max}

		entry, found, err := h.Limiter.Snapshot(policy.Name, key)
		if err != nil {
			apperrors.RespondWithError(w, r, policyLookupError(r.Context(), err))
			return
		}
		if found && !entry.Expired(now) {
			quota.Count = entry.Count
			quota.ResetAt = entry.ResetAt
			quota.Remaining = max(policy.Max-int(entry.Count), 0)
		}
		resp.Quotas = append(resp.Quotas, quota)
	}

	writeJSON(w, http.StatusOK, resp)
}

// CheckHealth reports the limiter unhealthy when it has no policies to enforce.
func (h *RateLimitAdmin) CheckHealth(ctx context.Context) error {
	if h == nil || h.Limiter == nil || len(h.Limiter.Registry.Names()) == 0 {
		return errors.New("rate limiter has no policies")
	}
	return nil
}

func (h *RateLimitAdmin) entryParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	policyName, err := url.PathUnescape(chi.URLParam(r, "policy"))
	if err != nil || policyName == "" {
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Invalid policy name"))
		return "", "", false
	}
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || key == "" {
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Invalid rate limit key"))
		return "", "", false
	}
	return policyName, key, true
}

func policyLookupError(ctx context.Context, err error) error {
	if errors.Is(err, engine.ErrUnknownPolicy) {
		return apperrors.WrapNotFound(ctx, err, "Unknown rate limit policy")
	}
	return apperrors.WrapInternal(ctx, err, "Rate limit lookup failed")
}
