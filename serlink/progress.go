package serlink

import (
	"sync"
	"time"
)

// ProgressTracker rate-limits progress callbacks during a transfer.
type ProgressTracker struct {
	mu sync.Mutex

	name        string
	transferred int64
	total       int64
	startTime   time.Time
	lastUpdate  time.Time
	lastBytes   int64

	callback       func(string, int64, int64, float64)
	updateInterval time.Duration
}

// NewProgressTracker creates a tracker invoking callback at most once per
// interval.
func NewProgressTracker(callback func(string, int64, int64, float64), interval time.Duration) *ProgressTracker {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &ProgressTracker{
		callback:       callback,
		updateInterval: interval,
	}
}

// Start begins tracking a transfer. transferred may be non-zero when
// resuming.
func (pt *ProgressTracker) Start(name string, transferred, total int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.name = name
	pt.transferred = transferred
	pt.total = total
	pt.startTime = time.Now()
	pt.lastUpdate = pt.startTime
	pt.lastBytes = transferred
}

// Update records progress and fires the callback if the interval elapsed.
func (pt *ProgressTracker) Update(transferred int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.transferred = transferred

	now := time.Now()
	if now.Sub(pt.lastUpdate) < pt.updateInterval {
		return
	}

	elapsed := now.Sub(pt.lastUpdate).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(transferred-pt.lastBytes) / elapsed
	}

	if pt.callback != nil {
		pt.callback(pt.name, transferred, pt.total, rate)
	}

	pt.lastUpdate = now
	pt.lastBytes = transferred
}

// Complete fires a final callback and returns the elapsed duration.
func (pt *ProgressTracker) Complete() time.Duration {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.callback != nil {
		pt.callback(pt.name, pt.transferred, pt.total, 0)
	}
	return time.Since(pt.startTime)
}
