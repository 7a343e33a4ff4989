package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrAllBackendsUnavailable is returned by Gateway.Generate when every
// configured backend is either cooling or returned no result on every
// retry of the outer sequence (spec §4.3: "Return null on final failure").
var ErrAllBackendsUnavailable = errors.New("provider: all backends unavailable")

// GatewayConfig tunes the state machine and retry sequence.
// DefaultGatewayConfig returns the documented values. Zero values are
// handled as follows: MinInterval falls back to 1s, SequenceRetries to
// a single pass, and an empty SequenceBackoff to a constant 5s.
// QuotaSoftPct is used as given.
type GatewayConfig struct {
	// MinInterval is the minimum spacing between requests to a single
	// backend while it is available (spec's "provider_min_interval_seconds").
	MinInterval time.Duration
	// QuotaSoftPct is the usage fraction (0-100) at which a backend with
	// a known quota limit is treated as cooling even without a 429.
	QuotaSoftPct float64
	// SequenceRetries is how many times the whole primary→fallback
	// sequence is retried before giving up (spec: "up to 3 times").
	SequenceRetries int
	// SequenceBackoff is the delay schedule between sequence retries
	// (spec: "5s, 10s, 20s").
	SequenceBackoff []time.Duration
}

// DefaultGatewayConfig returns spec.md's documented defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		MinInterval:     time.Second,
		QuotaSoftPct:    90,
		SequenceRetries: 3,
		SequenceBackoff: []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second},
	}
}

// backendState is the process-local cooling/quota bookkeeping the
// Gateway owns per backend (spec §9: "Global mutable state in the
// provider gateway ... must be converted to an explicit per-process
// value owned by the gateway component, with atomic updates"), shaped
// like notify.service's channelHealth map.
type backendState struct {
	mu           sync.Mutex
	coolingUntil time.Time
	quotaLimit   int
	quotaUsage   int
	haveQuota    bool
	limiter      *rate.Limiter
}

func newBackendState(minInterval time.Duration) *backendState {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &backendState{limiter: rate.NewLimiter(rate.Every(minInterval), 1)}
}

func (s *backendState) isAvailable(now time.Time, quotaSoftPct float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Before(s.coolingUntil) {
		return false
	}
	if s.haveQuota && s.quotaLimit > 0 {
		used := float64(s.quotaUsage) / float64(s.quotaLimit) * 100
		if used >= quotaSoftPct {
			return false
		}
	}
	return true
}

func (s *backendState) cool(retryAfter time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	until := time.Now().Add(retryAfter)
	s.coolingUntil = until
	return until
}

func (s *backendState) recordUsage(limit, usage int) {
	if limit <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haveQuota = true
	s.quotaLimit = limit
	s.quotaUsage = usage
}

// Gateway is the C1 Provider Gateway: a unified text-generation call
// across a primary and fallback Backend, with per-backend cooling and
// quota tracking and whole-sequence retry (spec §4.3).
type Gateway struct {
	primary  Backend
	fallback Backend // nil disables fallback
	cfg      GatewayConfig

	states map[string]*backendState
	logger *slog.Logger
}

// New constructs a Gateway. fallback may be nil to disable the
// fallback leg entirely.
func New(primary, fallback Backend, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	states := map[string]*backendState{
		primary.Name(): newBackendState(cfg.MinInterval),
	}
	if fallback != nil {
		states[fallback.Name()] = newBackendState(cfg.MinInterval)
	}
	return &Gateway{primary: primary, fallback: fallback, cfg: cfg, states: states, logger: logger}
}

// IsAvailable reports whether the named backend is currently usable:
// not cooling and under its soft quota threshold.
func (g *Gateway) IsAvailable(name string) bool {
	st, ok := g.states[name]
	if !ok {
		return false
	}
	return st.isAvailable(time.Now(), g.cfg.QuotaSoftPct)
}

// Generate tries the primary backend, falls back to the secondary on
// unavailability or an empty result, and retries the whole sequence up
// to SequenceRetries times with the configured backoff before giving up
// (spec §4.3 "Fallback logic").
func (g *Gateway) Generate(ctx context.Context, messages []Message) (Response, error) {
	retries := g.cfg.SequenceRetries
	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		resp, ok, err := g.tryBackend(ctx, g.primary, messages)
		if ok {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		}

		if g.fallback != nil {
			resp, ok, err = g.tryBackend(ctx, g.fallback, messages)
			if ok {
				return resp, nil
			}
			if err != nil {
				lastErr = err
			}
		}

		if attempt == retries {
			break
		}
		delay := g.backoffFor(attempt)
		g.logger.Warn("provider: sequence attempt failed, retrying",
			slog.Int("attempt", attempt), slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if lastErr != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrAllBackendsUnavailable, lastErr)
	}
	return Response{}, ErrAllBackendsUnavailable
}

func (g *Gateway) backoffFor(attempt int) time.Duration {
	if attempt-1 < len(g.cfg.SequenceBackoff) {
		return g.cfg.SequenceBackoff[attempt-1]
	}
	if len(g.cfg.SequenceBackoff) > 0 {
		return g.cfg.SequenceBackoff[len(g.cfg.SequenceBackoff)-1]
	}
	return 5 * time.Second
}

// tryBackend calls one backend if it is available, updating cooling
// and quota state from the result. ok reports whether the call
// produced a usable (non-empty) response.
func (g *Gateway) tryBackend(ctx context.Context, b Backend, messages []Message) (Response, bool, error) {
	st := g.states[b.Name()]
	if !st.isAvailable(time.Now(), g.cfg.QuotaSoftPct) {
		return Response{}, false, nil
	}
	if err := st.limiter.Wait(ctx); err != nil {
		return Response{}, false, err
	}

	resp, err := b.Generate(ctx, messages)
	if err != nil {
		var rle *RateLimitError
		if errors.As(err, &rle) {
			until := st.cool(rle.RetryAfter)
			if rle.HaveQuota {
				st.recordUsage(rle.QuotaLimit, rle.QuotaUsage)
			}
			g.logger.Warn("provider: backend cooling",
				slog.String("backend", b.Name()),
				slog.Time("until", until))
			return Response{}, false, err
		}
		return Response{}, false, err
	}
	if resp.FirstText() == "" {
		return Response{}, false, fmt.Errorf("provider: backend %s returned no result", b.Name())
	}
	return resp, true, nil
}
