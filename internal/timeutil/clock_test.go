package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func start() time.Time {
	return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func TestMockClockAdvance(t *testing.T) {
	c := NewMockClock(start())
	assert.Equal(t, start(), c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start().Add(90*time.Second), c.Now())
}

func TestMockClockSet(t *testing.T) {
	c := NewMockClock(start())
	later := start().Add(time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestMockTimerFiresAtDeadline(t *testing.T) {
	c := NewMockClock(start())
	timer := c.NewTimer(10 * time.Second)

	c.Advance(5 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired before its deadline")
	default:
	}

	c.Advance(5 * time.Second)
	select {
	case at := <-timer.C():
		assert.Equal(t, start().Add(10*time.Second), at)
	default:
		t.Fatal("timer did not fire at its deadline")
	}
}

func TestMockTimerStop(t *testing.T) {
	c := NewMockClock(start())
	timer := c.NewTimer(time.Second)

	assert.True(t, timer.Stop())
	c.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}

	// A second stop reports the timer was no longer active.
	assert.False(t, timer.Stop())
}

func TestMockTickerFiresEveryInterval(t *testing.T) {
	c := NewMockClock(start())
	ticker := c.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for i := 1; i <= 3; i++ {
		c.Advance(5 * time.Second)
		select {
		case <-ticker.C():
		default:
			t.Fatalf("missing tick %d", i)
		}
	}
}

func TestMockTickerStop(t *testing.T) {
	c := NewMockClock(start())
	ticker := c.NewTicker(time.Second)
	ticker.Stop()

	c.Advance(2 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestRealClock(t *testing.T) {
	var clock Clock = RealClock{}
	assert.WithinDuration(t, time.Now(), clock.Now(), time.Second)

	timer := clock.NewTimer(time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}

	ticker := clock.NewTicker(time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not tick")
	}
}
