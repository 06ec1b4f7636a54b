package clock

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
)

var ErrInvalidTimeControl = errors.New("invalid time control")

// TimeControl is an "M+I" control: M minutes each, I seconds added per move.
// The zero value is untimed.
type TimeControl struct {
	Initial   time.Duration
	Increment time.Duration
}

func (tc TimeControl) Untimed() bool { return tc.Initial <= 0 }

func (tc TimeControl) String() string {
	if tc.Untimed() {
		return "none"
	}
	mins := strconv.FormatFloat(tc.Initial.Minutes(), 'f', -1, 64)
	return fmt.Sprintf("%s+%d", mins, int64(tc.Increment/time.Second))
}

// ParseTimeControl parses "5+0", "3+2" or "0.5+1". Empty, "none" and "untimed" are untimed.
func ParseTimeControl(raw string) (TimeControl, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "", "none", "untimed":
		return TimeControl{}, nil
	}
	minsPart, incPart, found := strings.Cut(s, "+")
	if !found {
		incPart = "0"
	}
	mins, err := strconv.ParseFloat(strings.TrimSpace(minsPart), 64)
	if err != nil || mins <= 0 {
		return TimeControl{}, fmt.Errorf("%w: %q", ErrInvalidTimeControl, raw)
	}
	inc, err := strconv.Atoi(strings.TrimSpace(incPart))
	if err != nil || inc < 0 {
		return TimeControl{}, fmt.Errorf("%w: %q", ErrInvalidTimeControl, raw)
	}
	return TimeControl{
		Initial:   time.Duration(mins * float64(time.Minute)),
		Increment: time.Duration(inc) * time.Second,
	}, nil
}

// Start returns the initial clock state.
func (tc TimeControl) Start(now time.Time) domain.ClockSnapshot {
	ms := tc.Initial.Milliseconds()
	return domain.ClockSnapshot{WhiteMs: ms, BlackMs: ms, LastTick: now}
}

// Remaining subtracts the time elapsed since lastTick, clamped at zero.
func Remaining(remaining time.Duration, lastTick, now time.Time) time.Duration {
	elapsed := now.Sub(lastTick)
	if elapsed < 0 {
		elapsed = 0
	}
	left := remaining - elapsed
	if left < 0 {
		return 0
	}
	return left
}

// Pending is the clock as seen at now with side running. It does not move LastTick.
func Pending(c domain.ClockSnapshot, running domain.Side, now time.Time) domain.ClockSnapshot {
	left := Remaining(time.Duration(c.Remaining(running))*time.Millisecond, c.LastTick, now).Milliseconds()
	return set(c, running, left)
}

// Expired reports whether running has no time left at now.
func Expired(c domain.ClockSnapshot, running domain.Side, now time.Time) bool {
	return Pending(c, running, now).Remaining(running) <= 0
}

// Tick charges mover for the time since LastTick, moves LastTick to now and adds the
// increment when time remains. expired is true when the mover reached zero.
func Tick(c domain.ClockSnapshot, mover domain.Side, now time.Time, increment time.Duration) (domain.ClockSnapshot, bool) {
	out := Pending(c, mover, now)
	out.LastTick = now
	left := out.Remaining(mover)
	if left <= 0 {
		return set(out, mover, 0), true
	}
	return set(out, mover, left+increment.Milliseconds()), false
}

func set(c domain.ClockSnapshot, side domain.Side, ms int64) domain.ClockSnapshot {
	if ms < 0 {
		ms = 0
	}
	if side == domain.White {
		c.WhiteMs = ms
	} else {
		c.BlackMs = ms
	}
	return c
}
