package ratelimit

import (
	"sync"
	"time"

	"easypay.backend/pkg/utils"
)

// Config holds the two sliding windows every request must pass.
type Config struct {
	PerMinute int
	PerHour   int
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{PerMinute: 100, PerHour: 1000}
}

// Result reports the outcome of an Allow call.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

type window struct {
	timestamps []time.Time
	lastAccess time.Time
}

// SlidingWindowLimiter keeps a deque of request timestamps per client
// identity. On each call it evicts entries older than the hour window, then
// counts the remainder against both limits. O(1) amortized when requests
// arrive in time order.
type SlidingWindowLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	config   Config
	clock    utils.Clock
	maxKeys  int
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSlidingWindowLimiter creates a limiter and starts a background sweep
// of idle identities.
func NewSlidingWindowLimiter(config Config, clock utils.Clock) *SlidingWindowLimiter {
	if clock == nil {
		clock = utils.NewClock()
	}
	if config.PerMinute <= 0 {
		config.PerMinute = 100
	}
	if config.PerHour <= 0 {
		config.PerHour = 1000
	}
	rl := &SlidingWindowLimiter{
		windows: make(map[string]*window),
		config:  config,
		clock:   clock,
		maxKeys: 10000,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow records the request for identity if both windows permit it.
// A rejected request is not recorded against the windows.
func (rl *SlidingWindowLimiter) Allow(identity string) Result {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[identity]
	if !ok {
		if len(rl.windows) >= rl.maxKeys {
			rl.evictOldestLocked()
		}
		w = &window{}
		rl.windows[identity] = w
	}
	w.lastAccess = now

	// Evict everything past the hour window; the minute count is a suffix
	// of what remains.
	hourCutoff := now.Add(-time.Hour)
	idx := 0
	for idx < len(w.timestamps) && !w.timestamps[idx].After(hourCutoff) {
		idx++
	}
	if idx > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[idx:]...)
	}

	hourCount := len(w.timestamps)
	minuteCutoff := now.Add(-time.Minute)
	minuteCount := 0
	for i := len(w.timestamps) - 1; i >= 0; i-- {
		if w.timestamps[i].After(minuteCutoff) {
			minuteCount++
		} else {
			break
		}
	}

	if minuteCount >= rl.config.PerMinute {
		oldest := w.timestamps[len(w.timestamps)-minuteCount]
		return Result{Allowed: false, RetryAfter: retryAfter(oldest.Add(time.Minute).Sub(now))}
	}
	if hourCount >= rl.config.PerHour {
		oldest := w.timestamps[0]
		return Result{Allowed: false, RetryAfter: retryAfter(oldest.Add(time.Hour).Sub(now))}
	}

	w.timestamps = append(w.timestamps, now)
	return Result{Allowed: true}
}

func retryAfter(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d
}

func (rl *SlidingWindowLimiter) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for key, w := range rl.windows {
		if first || w.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = w.lastAccess
			first = false
		}
	}
	if oldestKey != "" {
		delete(rl.windows, oldestKey)
	}
}

func (rl *SlidingWindowLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *SlidingWindowLimiter) cleanup() {
	cutoff := rl.clock.Now().Add(-time.Hour)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, w := range rl.windows {
		if w.lastAccess.Before(cutoff) {
			delete(rl.windows, key)
		}
	}
}

// Shutdown stops the cleanup goroutine
func (rl *SlidingWindowLimiter) Shutdown() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}
