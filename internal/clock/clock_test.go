package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestFakeStep verifies consecutive reads advance by the configured step.
func TestFakeStep(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start, time.Second)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Second), c.Now())

	c.Advance(time.Hour)
	assert.Equal(t, start.Add(2*time.Second+time.Hour), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

// TestFakeFrozen verifies a zero step keeps time still.
func TestFakeFrozen(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start, 0)
	assert.Equal(t, c.Now(), c.Now())
}
