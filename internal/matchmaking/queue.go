// Package matchmaking pairs waiting players first-come first-served per pairing key.
package matchmaking

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
)

var ErrInvalidArgs = errors.New("invalid arguments")

// Entry is one waiting player. Transport is the connection that asked to be paired.
type Entry struct {
	Identity    string
	DisplayName string
	PairingKey  string
	Transport   string
	EnqueuedAt  time.Time
}

// Queue is safe for concurrent use. Entries are kept in insertion order.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

func NewQueue() *Queue {
	return &Queue{now: time.Now}
}

// Enqueue replaces any entry of identity with a fresh one at the back.
func (q *Queue) Enqueue(identity, displayName, pairingKey, transport string) error {
	if strings.TrimSpace(identity) == "" {
		return ErrInvalidArgs
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueueLocked(Entry{
		Identity:    identity,
		DisplayName: displayName,
		PairingKey:  pairingKey,
		Transport:   transport,
	})
	return nil
}

// Requeue puts e back at the front of the queue, keeping its original place in line.
func (q *Queue) Requeue(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(func(x Entry) bool { return x.Identity == e.Identity })
	q.entries = append([]Entry{e}, q.entries...)
}

// TryPair takes the oldest entry with pairingKey that is not identity's own.
// On a match it also drops any entry of identity.
func (q *Queue) TryPair(identity, pairingKey string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tryPairLocked(identity, pairingKey)
}

// FindOrEnqueue pairs identity with the oldest compatible waiter, or enqueues it.
func (q *Queue) FindOrEnqueue(identity, displayName, pairingKey, transport string) (Entry, bool, error) {
	if strings.TrimSpace(identity) == "" {
		return Entry{}, false, ErrInvalidArgs
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if opp, ok := q.tryPairLocked(identity, pairingKey); ok {
		return opp, true, nil
	}
	q.enqueueLocked(Entry{
		Identity:    identity,
		DisplayName: displayName,
		PairingKey:  pairingKey,
		Transport:   transport,
	})
	return Entry{}, false, nil
}

// Cancel removes identity's entry and reports whether one existed.
func (q *Queue) Cancel(identity string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(func(e Entry) bool { return e.Identity == identity }) > 0
}

// CancelByTransport removes every entry registered through transport.
func (q *Queue) CancelByTransport(transport string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(func(e Entry) bool { return e.Transport == transport })
}

// Size counts entries with pairingKey. An empty key counts all entries.
func (q *Queue) Size(pairingKey string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if pairingKey == "" {
		return len(q.entries)
	}
	n := 0
	for _, e := range q.entries {
		if e.PairingKey == pairingKey {
			n++
		}
	}
	return n
}

// Snapshot returns the waiting entries in queue order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...)
}

func (q *Queue) enqueueLocked(e Entry) {
	q.removeLocked(func(x Entry) bool { return x.Identity == e.Identity })
	e.EnqueuedAt = q.now()
	q.entries = append(q.entries, e)
}

func (q *Queue) tryPairLocked(identity, pairingKey string) (Entry, bool) {
	for i, e := range q.entries {
		if e.PairingKey != pairingKey || e.Identity == identity {
			continue
		}
		q.entries = append(q.entries[:i:i], q.entries[i+1:]...)
		q.removeLocked(func(x Entry) bool { return x.Identity == identity })
		return e, true
	}
	return Entry{}, false
}

func (q *Queue) removeLocked(match func(Entry) bool) int {
	kept := q.entries[:0:0]
	removed := 0
	for _, e := range q.entries {
		if match(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	return removed
}

// AssignSides gives a and b opposite sides with equal probability.
func AssignSides(a, b string) (white, black string) {
	var buf [1]byte
	if _, err := rand.Read(buf[:]); err != nil {
		buf[0] = byte(time.Now().UnixNano())
	}
	if buf[0]&1 == 0 {
		return a, b
	}
	return b, a
}

type ColorChoice string

const (
	ColorWhite  ColorChoice = "white"
	ColorBlack  ColorChoice = "black"
	ColorRandom ColorChoice = "random"
)

func ParseColorChoice(s string) ColorChoice {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return ColorWhite
	case "black", "b":
		return ColorBlack
	default:
		return ColorRandom
	}
}

// Side resolves the choice to a concrete side, flipping a coin for random.
func (c ColorChoice) Side() domain.Side {
	switch c {
	case ColorWhite:
		return domain.White
	case ColorBlack:
		return domain.Black
	}
	if w, _ := AssignSides("w", "b"); w == "w" {
		return domain.White
	}
	return domain.Black
}
