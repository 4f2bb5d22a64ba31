package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterConfig tunes per-channel backpressure and the offender penalty box.
type LimiterConfig struct {
	// RequestsPerSecond and Burst bound how fast a single channel may
	// submit admissible requests.
	RequestsPerSecond float64
	Burst             int

	// OffenseThreshold is how many SignatureInvalid rejections a channel
	// accrues before it's temporarily blocked outright.
	OffenseThreshold int

	// OffensePenalty is how long a channel is blocked for once it crosses
	// OffenseThreshold, doubling (capped at OffensePenaltyMax) on every
	// further offense recorded before the counter resets.
	OffensePenalty    time.Duration
	OffensePenaltyMax time.Duration

	// OffenseDecay is how long with no new offenses before the counter
	// resets to zero.
	OffenseDecay time.Duration
}

func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		RequestsPerSecond: 20,
		Burst:             40,
		OffenseThreshold:  5,
		OffensePenalty:    time.Second,
		OffensePenaltyMax: time.Minute,
		OffenseDecay:      5 * time.Minute,
	}
}

type offenderState struct {
	count      int
	lastOffense time.Time
	blockedUntil time.Time
	penalty    time.Duration
}

// LimiterSet tracks one token-bucket rate.Limiter and one offender penalty
// state per channel, both created lazily.
type LimiterSet struct {
	cfg LimiterConfig

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	offenders map[string]*offenderState
}

func NewLimiterSet(cfg LimiterConfig) *LimiterSet {
	return &LimiterSet{
		cfg:       cfg,
		limiters:  make(map[string]*rate.Limiter),
		offenders: make(map[string]*offenderState),
	}
}

// Allow reports whether channelName may send another request right now
// under its steady-state rate limit.
func (s *LimiterSet) Allow(channelName string) bool {
	s.mu.Lock()
	l, ok := s.limiters[channelName]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)
		s.limiters[channelName] = l
	}
	s.mu.Unlock()
	return l.Allow()
}

// CheckOffender reports whether channelName is currently serving a penalty
// block, and if so for how much longer.
func (s *LimiterSet) CheckOffender(channelName string) (blocked bool, retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.offenders[channelName]
	if !ok {
		return false, 0
	}
	if time.Now().Before(o.blockedUntil) {
		return true, time.Until(o.blockedUntil)
	}
	return false, 0
}

// RecordOffense counts one SignatureInvalid rejection against channelName.
// Once the count reaches OffenseThreshold, the channel is blocked for a
// penalty duration that doubles on each further offense, capped at
// OffensePenaltyMax; count and penalty reset after OffenseDecay of silence.
func (s *LimiterSet) RecordOffense(channelName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	o, ok := s.offenders[channelName]
	if !ok || now.Sub(o.lastOffense) > s.cfg.OffenseDecay {
		o = &offenderState{penalty: s.cfg.OffensePenalty}
		s.offenders[channelName] = o
	}

	o.count++
	o.lastOffense = now

	if o.count >= s.cfg.OffenseThreshold {
		o.blockedUntil = now.Add(o.penalty)
		o.penalty *= 2
		if o.penalty > s.cfg.OffensePenaltyMax {
			o.penalty = s.cfg.OffensePenaltyMax
		}
	}
}
