package follower

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/viam-modules/person-follower/target"
)

// announcer decides which commands are worth saying out loud. A command is announced
// only when the interval has passed since the last announcement and it differs from
// what was last announced. NoPerson is never announced.
type announcer struct {
	mu       sync.Mutex
	clk      clock.Clock
	interval time.Duration

	lastSpoken     target.Command
	lastSpokenTime time.Time
}

func newAnnouncer(clk clock.Clock, interval time.Duration) *announcer {
	return &announcer{clk: clk, interval: interval}
}

// announce returns the text to speak for cmd and whether anything should be said.
func (a *announcer) announce(cmd target.Command) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clk.Now()
	if now.Sub(a.lastSpokenTime) < a.interval {
		return "", false
	}
	if cmd == a.lastSpoken || cmd == target.NoPerson {
		return "", false
	}
	a.lastSpoken = cmd
	a.lastSpokenTime = now
	return string(cmd), true
}
