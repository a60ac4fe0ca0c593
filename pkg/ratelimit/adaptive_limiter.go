// Package ratelimit provides a token-bucket gate for adapter fetch pacing.
//
// The teacher's own rate limiter adapts its RPS/burst to observed request
// latency in a background loop. §5 names one fixed rate per source (not a
// range an adaptation loop would hunt within), so every caller in this
// pipeline asks for a single constant RPS — that loop would only ever
// compute a value immediately clamped back to the one allowed rate,
// dead motion running forever in the background. What's kept is the part
// the teacher's version and this one share: a mutex-guarded token bucket
// with Allow/Wait semantics.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config configures the limiter's fixed rate and burst. Enabled lets a
// caller construct a no-op limiter (Allow always true) without an extra
// branch at every call site.
type Config struct {
	Enabled      bool    `yaml:"enabled"`
	InitialRPS   float64 `yaml:"initial_rps"`
	InitialBurst int     `yaml:"initial_burst"`
}

// Stats reports the limiter's running counters.
type Stats struct {
	TotalRequests    int64   `json:"total_requests"`
	AllowedRequests  int64   `json:"allowed_requests"`
	BlockedRequests  int64   `json:"blocked_requests"`
	AverageLatencyMS float64 `json:"average_latency_ms"`
	RPS              float64 `json:"rps"`
	Burst            int     `json:"burst"`
}

// AdaptiveRateLimiter is a fixed-rate token bucket. The name is kept from
// the teacher's latency-adaptive limiter even though adaptation was
// trimmed away: every caller in this pipeline configures it with one
// fixed InitialRPS/InitialBurst pair and exercises only the token-bucket
// gate.
type AdaptiveRateLimiter struct {
	enabled bool
	rps     float64
	burst   int

	mutex      sync.Mutex
	tokens     float64
	lastRefill time.Time

	latencyTotal time.Duration
	latencyCount int64

	stats Stats

	logger *logrus.Logger
}

// NewAdaptiveRateLimiter constructs a limiter at config.InitialRPS/Burst,
// defaulting unset fields the way the teacher's constructor does.
func NewAdaptiveRateLimiter(config Config, logger *logrus.Logger) *AdaptiveRateLimiter {
	if config.InitialRPS == 0 {
		config.InitialRPS = 10
	}
	if config.InitialBurst == 0 {
		config.InitialBurst = int(config.InitialRPS * 2)
	}
	if config.InitialBurst < 1 {
		config.InitialBurst = 1
	}

	return &AdaptiveRateLimiter{
		enabled:    config.Enabled,
		rps:        config.InitialRPS,
		burst:      config.InitialBurst,
		tokens:     float64(config.InitialBurst),
		lastRefill: time.Now(),
		logger:     logger,
	}
}

// Allow reports whether a request may proceed right now, consuming a
// token if so.
func (rl *AdaptiveRateLimiter) Allow() bool {
	if !rl.enabled {
		return true
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.stats.TotalRequests++

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now

	rl.tokens = math.Min(rl.tokens+elapsed*rl.rps, float64(rl.burst))

	if rl.tokens >= 1 {
		rl.tokens--
		rl.stats.AllowedRequests++
		return true
	}

	rl.stats.BlockedRequests++
	return false
}

// RecordLatency folds one request's observed latency into the running
// average exposed via Stats. It does not feed back into the rate — this
// limiter holds a fixed rate — but the pipeline's adapters record it
// anyway so Stats reflects real upstream behavior for diagnostics.
func (rl *AdaptiveRateLimiter) RecordLatency(latency time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.latencyTotal += latency
	rl.latencyCount++
}

// Wait blocks until a token is available or ctx is done.
func (rl *AdaptiveRateLimiter) Wait(ctx context.Context) error {
	if !rl.enabled {
		return nil
	}

	for {
		if rl.Allow() {
			return nil
		}

		rl.mutex.Lock()
		waitTime := time.Duration(1000/rl.rps) * time.Millisecond
		rl.mutex.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
			continue
		}
	}
}

// Stats returns a snapshot of the limiter's running counters.
func (rl *AdaptiveRateLimiter) Stats() Stats {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	s := rl.stats
	s.RPS = rl.rps
	s.Burst = rl.burst
	if rl.latencyCount > 0 {
		s.AverageLatencyMS = float64(rl.latencyTotal.Milliseconds()) / float64(rl.latencyCount)
	}
	return s
}

// Stop is a no-op retained so HTTPAdapter.Close can call it unconditionally;
// this limiter holds no background goroutine to release.
func (rl *AdaptiveRateLimiter) Stop() {}
