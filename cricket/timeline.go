package cricket

import (
	"sync"
	"time"
)

// Timeline holds the delayed transitions of one screen, such as the pause
// while a ball is revealed. Cancel stops everything still pending; a callback
// that has not started by the time Cancel returns never runs.
type Timeline struct {
	mu     sync.Mutex
	gen    uint64
	timers map[*time.Timer]struct{}
}

func NewTimeline() *Timeline {
	return &Timeline{timers: make(map[*time.Timer]struct{})}
}

// After schedules fn to run once d has elapsed.
func (t *Timeline) After(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	gen := t.gen

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		_, live := t.timers[timer]
		delete(t.timers, timer)
		stale := gen != t.gen
		t.mu.Unlock()

		if !live || stale {
			return
		}
		fn()
	})
	t.timers[timer] = struct{}{}
}

// Pending returns the number of scheduled callbacks that have not fired.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.timers)
}

func (t *Timeline) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for timer := range t.timers {
		timer.Stop()
		delete(t.timers, timer)
	}
	t.gen++
}
