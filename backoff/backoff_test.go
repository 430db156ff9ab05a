package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zendesk/samson-sub001/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesAndCaps(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_JitterWithinBounds(t *testing.T) {
	e := &backoff.Exponential{Initial: time.Second, Max: 4 * time.Second, Jitter: true}

	seen := make(map[time.Duration]bool)
	for range 100 {
		got := e.Delay(3)
		if got < 2*time.Second || got > 4*time.Second {
			t.Fatalf("Delay(3) = %v, want within [2s, 4s]", got)
		}
		seen[got] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected variance in jitter, got %d distinct values", len(seen))
	}
}

func TestPoll_StaysUnderOneSecond(t *testing.T) {
	s := backoff.Poll()
	for attempt := 1; attempt <= 20; attempt++ {
		if d := s.Delay(attempt); d <= 0 || d > time.Second {
			t.Errorf("Delay(%d) = %v, want (0, 1s]", attempt, d)
		}
	}
}

func TestSleep(t *testing.T) {
	t.Run("waits", func(t *testing.T) {
		s := backoff.StrategyFunc(func(int) time.Duration { return 10 * time.Millisecond })
		if err := backoff.Sleep(context.Background(), s, 1); err != nil {
			t.Errorf("Sleep = %v", err)
		}
	})

	t.Run("returns on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start := time.Now()
		err := backoff.Sleep(ctx, backoff.NewConstant(time.Hour), 1)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Sleep = %v, want context.Canceled", err)
		}
		if time.Since(start) > time.Second {
			t.Error("Sleep ignored cancellation")
		}
	})
}
