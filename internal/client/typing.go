package client

import (
	"sync"
	"time"
)

// quietPeriod is how long a typing flag stays set without renewal.
const quietPeriod = 3 * time.Second

// TypingTracker models the ephemeral per-room "is typing" flag: set by
// NotifyTyping, renewed by repeated calls, and self-clearing after a
// quiet period. It does not broadcast typing state to peers.
type TypingTracker struct {
	mu     sync.Mutex
	quiet  time.Duration
	typing map[string]bool
	timers map[string]*time.Timer
}

// NewTypingTracker creates a tracker with the standard quiet period.
func NewTypingTracker() *TypingTracker {
	return &TypingTracker{
		quiet:  quietPeriod,
		typing: make(map[string]bool),
		timers: make(map[string]*time.Timer),
	}
}

// NotifyTyping sets the room's typing flag and restarts its countdown.
func (t *TypingTracker) NotifyTyping(room string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.typing[room] = true
	if timer, ok := t.timers[room]; ok {
		timer.Reset(t.quiet)
		return
	}
	t.timers[room] = time.AfterFunc(t.quiet, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.typing, room)
		delete(t.timers, room)
	})
}

// IsTyping reports whether the room's typing flag is currently set.
func (t *TypingTracker) IsTyping(room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing[room]
}

// Stop cancels all pending countdowns and clears every flag.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for room, timer := range t.timers {
		timer.Stop()
		delete(t.timers, room)
	}
	clear(t.typing)
}
