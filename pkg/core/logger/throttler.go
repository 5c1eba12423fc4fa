package logger

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LogThrottler logs a WARN at most once per interval per key and DEBUG otherwise.
// Suppressed occurrences are counted and reported with the next WARN.
type LogThrottler struct {
	log      *zap.Logger
	interval time.Duration

	mu       sync.Mutex
	trackers map[string]*throttleState
}

type throttleState struct {
	limiter    *rate.Limiter
	suppressed int
	firstSeen  time.Time
}

// NewLogThrottler creates a LogThrottler. A zero interval defaults to 5 minutes.
func NewLogThrottler(log *zap.Logger, interval time.Duration) *LogThrottler {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	return &LogThrottler{
		log:      log,
		interval: interval,
		trackers: make(map[string]*throttleState),
	}
}

// Warn logs msg as WARN once per interval for key, DEBUG otherwise.
func (t *LogThrottler) Warn(key string, msg string, fields ...zap.Field) {
	t.mu.Lock()
	state, ok := t.trackers[key]
	if !ok {
		state = &throttleState{
			limiter:   rate.NewLimiter(rate.Every(t.interval), 1),
			firstSeen: time.Now(),
		}
		t.trackers[key] = state
	}

	if !state.limiter.Allow() {
		state.suppressed++
		t.mu.Unlock()
		t.log.Debug(msg, fields...)
		return
	}

	suppressed := state.suppressed
	state.suppressed = 0
	since := time.Since(state.firstSeen)
	t.mu.Unlock()

	if suppressed > 0 {
		fields = append(fields,
			zap.Int("suppressed", suppressed),
			zap.Duration("since", since),
		)
	}
	t.log.Warn(msg, fields...)
}

// Reset forgets key, so the next Warn for it is logged immediately.
func (t *LogThrottler) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.trackers, key)
}
