package clock

import (
	"errors"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
)

func TestParseTimeControl(t *testing.T) {
	cases := []struct {
		in   string
		init time.Duration
		inc  time.Duration
	}{
		{"5+0", 5 * time.Minute, 0},
		{"3+2", 3 * time.Minute, 2 * time.Second},
		{" 10 ", 10 * time.Minute, 0},
		{"0.5+1", 30 * time.Second, time.Second},
		{"none", 0, 0},
		{"", 0, 0},
	}
	for _, c := range cases {
		tc, err := ParseTimeControl(c.in)
		if err != nil { t.Fatalf("ParseTimeControl(%q): %v", c.in, err) }
		if tc.Initial != c.init || tc.Increment != c.inc {
			t.Fatalf("ParseTimeControl(%q)=%+v", c.in, tc)
		}
	}
	for _, bad := range []string{"x+1", "5+x", "-1+0", "0+0", "5+-2"} {
		if _, err := ParseTimeControl(bad); !errors.Is(err, ErrInvalidTimeControl) {
			t.Fatalf("ParseTimeControl(%q) err=%v", bad, err)
		}
	}
	if s := (TimeControl{Initial: 3 * time.Minute, Increment: 2 * time.Second}).String(); s != "3+2" {
		t.Fatalf("String()=%q", s)
	}
}

func TestRemainingClampsAtZero(t *testing.T) {
	now := time.Unix(1_000, 0)
	if got := Remaining(5*time.Second, now, now.Add(2*time.Second)); got != 3*time.Second {
		t.Fatalf("Remaining=%v", got)
	}
	if got := Remaining(time.Second, now, now.Add(time.Minute)); got != 0 {
		t.Fatalf("Remaining must clamp, got %v", got)
	}
	if got := Remaining(time.Second, now, now.Add(-time.Second)); got != time.Second {
		t.Fatalf("clock skew must not add time, got %v", got)
	}
}

func TestTick_ChargesMoverAndAddsIncrement(t *testing.T) {
	start := time.Unix(1_000, 0)
	c := TimeControl{Initial: time.Minute}.Start(start)
	out, expired := Tick(c, domain.White, start.Add(10*time.Second), 2*time.Second)
	if expired { t.Fatalf("unexpected expiry") }
	if out.WhiteMs != 52_000 || out.BlackMs != 60_000 {
		t.Fatalf("unexpected clock: %+v", out)
	}
	if !out.LastTick.Equal(start.Add(10 * time.Second)) { t.Fatalf("LastTick not advanced") }
}

func TestTick_Expiry(t *testing.T) {
	start := time.Unix(1_000, 0)
	c := TimeControl{Initial: time.Minute}.Start(start)
	out, expired := Tick(c, domain.Black, start.Add(2*time.Minute), 5*time.Second)
	if !expired || out.BlackMs != 0 { t.Fatalf("expected expiry with zero clock, got %+v", out) }
	if out.WhiteMs < 0 || out.BlackMs < 0 { t.Fatalf("negative clock") }
	if !Expired(c, domain.Black, start.Add(time.Minute)) { t.Fatalf("Expired should be true at exactly zero") }
	if Expired(c, domain.White, start.Add(59*time.Second)) { t.Fatalf("Expired too early") }
}
