package metrics

// Rate limit metric names
const (
	RateLimitDecisionsName      = "ratelimit_decisions_total"
	RateLimitEntriesName        = "ratelimit_entries"
	RateLimitReapedName         = "ratelimit_reaped"
	RateLimitJournalDroppedName = "ratelimit_journal_dropped_total"
)

// RecordRateLimitDecision counts one admission decision for a policy.
func RecordRateLimitDecision(policy string, allowed bool) {
	counter(RateLimitDecisionsName, labels{"policy": policy, "outcome": outcome(allowed, "allowed", "denied")})
}

// RecordRateLimitSweep publishes the outcome of one reaper pass.
func RecordRateLimitSweep(removed, remaining int) {
	gauge(RateLimitReapedName, float64(removed), nil)
	gauge(RateLimitEntriesName, float64(remaining), nil)
}

// RecordJournalDrop counts a denial event the journal could not accept.
func RecordJournalDrop(policy string) {
	counter(RateLimitJournalDroppedName, labels{"policy": policy})
}
