package realtime

import "time"

// Backoff is the reconnect policy: attempt n waits min(Base*2^n, Max),
// and no attempt is made once MaxAttempts have been scheduled.
type Backoff struct {
	Base        time.Duration `yaml:"base"`
	Max         time.Duration `yaml:"max"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// DefaultBackoff returns the 1s base / 10s cap / 5 attempts policy.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        time.Second,
		Max:         10 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before the given attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return d
}

// Allowed reports whether another attempt may be scheduled after attempts so far.
func (b Backoff) Allowed(attempts int) bool {
	return attempts < b.MaxAttempts
}
