package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DelaySchedule(t *testing.T) {
	b := DefaultBackoff()

	var got []time.Duration
	for attempt := 1; b.Allowed(attempt - 1); attempt++ {
		got = append(got, b.Delay(attempt))
	}

	assert.Equal(t, []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}, got)
}

func TestBackoff_Allowed(t *testing.T) {
	b := DefaultBackoff()
	assert.True(t, b.Allowed(0))
	assert.True(t, b.Allowed(4))
	assert.False(t, b.Allowed(5))
}

func TestBackoff_LargeAttemptStaysCapped(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second, MaxAttempts: 100}
	assert.Equal(t, 10*time.Second, b.Delay(80))
}
