package clock

import (
	"testing"
	"time"
)

func TestManual_AdvanceAndSet(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewManual(start)
	if !c.Now().Equal(start) {
		t.Fatalf("now=%v, want %v", c.Now(), start)
	}
	c.Advance(90 * time.Minute)
	if got := c.Now().Sub(start); got != 90*time.Minute {
		t.Fatalf("advanced by %v", got)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Fatalf("set did not apply")
	}
}

func TestReal_IsUTC(t *testing.T) {
	t.Parallel()

	if loc := (Real{}).Now().Location(); loc != time.UTC {
		t.Fatalf("location=%v, want UTC", loc)
	}
}
