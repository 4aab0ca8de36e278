package auth

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Throttle counts failed logins per exact username within a fixed window.
// A nil *Throttle never blocks.
type Throttle struct {
	failures    *gocache.Cache
	maxAttempts int
	window      time.Duration
}

// NewThrottle returns a throttle allowing maxAttempts failures per window,
// or nil when maxAttempts is not positive.
func NewThrottle(maxAttempts int, window time.Duration) *Throttle {
	if maxAttempts <= 0 {
		return nil
	}
	return &Throttle{
		// expired entries are removed by Sweep, driven by the scheduler
		failures:    gocache.New(window, gocache.NoExpiration),
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Allowed reports whether another attempt for username may be checked.
func (t *Throttle) Allowed(username string) bool {
	if t == nil {
		return true
	}
	v, found := t.failures.Get(username)
	if !found {
		return true
	}
	count, ok := v.(int)
	return !ok || count < t.maxAttempts
}

// Fail records a failed attempt. The window starts at the first failure.
func (t *Throttle) Fail(username string) {
	if t == nil {
		return
	}
	if err := t.failures.Add(username, 1, t.window); err != nil {
		if _, err := t.failures.IncrementInt(username, 1); err != nil {
			// expired between Add and IncrementInt
			t.failures.Set(username, 1, t.window)
		}
	}
}

// Reset forgets all failures for username.
func (t *Throttle) Reset(username string) {
	if t == nil {
		return
	}
	t.failures.Delete(username)
}

// Sweep drops expired failure windows and returns the number of tracked usernames left.
func (t *Throttle) Sweep() int {
	if t == nil {
		return 0
	}
	t.failures.DeleteExpired()
	return t.failures.ItemCount()
}
