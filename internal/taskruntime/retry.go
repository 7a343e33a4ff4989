package taskruntime

import "time"

// RetryPolicy is the per-task-name retry declaration from spec §4.1's
// canonical policy table. It is deliberately a plain struct rather
// than the teacher's retry.Config (which also carries jitter and a
// max-delay clamp) because the task runtime's delay formula is fixed
// by the spec: initial × multiplier^(attempt-1), no jitter, no cap.
type RetryPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Multiplier float64
}

// Delay returns the reschedule delay for the given 1-based attempt
// number, per spec §4.1: initial × multiplier^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.Initial
	}
	d := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// ShouldRetry reports whether attempt (the attempt that just failed,
// 1-based) is still within policy.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt <= p.MaxRetries
}

// Canonical task-class retry policies (spec §4.1 table).
var (
	ManualRefreshPolicy = RetryPolicy{MaxRetries: 2, Initial: 30 * time.Second, Multiplier: 1}
	ScheduledScanPolicy = RetryPolicy{MaxRetries: 3, Initial: 120 * time.Second, Multiplier: 2}
	SummaryPolicy       = RetryPolicy{MaxRetries: 2, Initial: 60 * time.Second, Multiplier: 1}
	EmbeddingPolicy     = RetryPolicy{MaxRetries: 2, Initial: 60 * time.Second, Multiplier: 1}
	FanOutPolicy        = RetryPolicy{MaxRetries: 0}
)
