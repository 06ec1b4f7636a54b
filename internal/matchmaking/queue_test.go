package matchmaking

import (
	"testing"

	"github.com/park285/cheese-arena/internal/domain"
)

func TestFIFOFairness(t *testing.T) {
	q := NewQueue()
	for _, id := range []string{"A", "B", "C"} {
		if err := q.Enqueue(id, id, "5+0", "t-"+id); err != nil { t.Fatalf("enqueue %s: %v", id, err) }
	}
	opp, ok := q.TryPair("D", "5+0")
	if !ok || opp.Identity != "A" { t.Fatalf("expected D to pair with A, got %+v ok=%v", opp, ok) }
	if q.Size("5+0") != 2 { t.Fatalf("expected B and C waiting, size=%d", q.Size("5+0")) }
	rest := q.Snapshot()
	if rest[0].Identity != "B" || rest[1].Identity != "C" { t.Fatalf("order broken: %+v", rest) }
}

func TestEnqueueIsIdempotentPerIdentity(t *testing.T) {
	q := NewQueue()
	_ = q.Enqueue("A", "A", "5+0", "t1")
	_ = q.Enqueue("B", "B", "5+0", "t2")
	_ = q.Enqueue("A", "A", "3+2", "t3")

	if q.Size("") != 2 { t.Fatalf("expected 2 entries, got %d", q.Size("")) }
	if q.Size("5+0") != 1 || q.Size("3+2") != 1 { t.Fatalf("unexpected key sizes") }
	if s := q.Snapshot(); s[len(s)-1].Identity != "A" || s[len(s)-1].Transport != "t3" { t.Fatalf("re-enqueue must move to back: %+v", s) }
}

func TestTryPair_SkipsSelfAndOtherKeys(t *testing.T) {
	q := NewQueue()
	_ = q.Enqueue("A", "A", "5+0", "t1")
	_ = q.Enqueue("B", "B", "10+0", "t2")

	if _, ok := q.TryPair("A", "5+0"); ok { t.Fatalf("A must not pair with itself") }
	if _, ok := q.TryPair("C", "3+2"); ok { t.Fatalf("no entry with key 3+2") }
	opp, ok := q.TryPair("C", "10+0")
	if !ok || opp.Identity != "B" { t.Fatalf("expected B, got %+v", opp) }
}

func TestFindOrEnqueue(t *testing.T) {
	q := NewQueue()
	if _, ok, err := q.FindOrEnqueue("A", "Alice", "5+0", "t1"); ok || err != nil { t.Fatalf("first caller must wait: ok=%v err=%v", ok, err) }
	opp, ok, err := q.FindOrEnqueue("B", "Bob", "5+0", "t2")
	if err != nil || !ok || opp.Identity != "A" || opp.Transport != "t1" { t.Fatalf("unexpected pairing: %+v ok=%v err=%v", opp, ok, err) }
	if q.Size("") != 0 { t.Fatalf("both players must leave the queue") }
	if _, _, err := q.FindOrEnqueue(" ", "", "5+0", "t3"); err == nil { t.Fatalf("expected error for empty identity") }
}

func TestCancelAndCancelByTransport(t *testing.T) {
	q := NewQueue()
	_ = q.Enqueue("A", "A", "5+0", "t1")
	_ = q.Enqueue("B", "B", "5+0", "t1")
	_ = q.Enqueue("C", "C", "5+0", "t2")

	if !q.Cancel("C") || q.Cancel("C") { t.Fatalf("cancel must report removal once") }
	if n := q.CancelByTransport("t1"); n != 2 { t.Fatalf("expected 2 removed, got %d", n) }
	if q.Size("") != 0 { t.Fatalf("queue not empty") }
}

func TestRequeueKeepsPlace(t *testing.T) {
	q := NewQueue()
	_ = q.Enqueue("A", "A", "5+0", "t1")
	_ = q.Enqueue("B", "B", "5+0", "t2")
	a, _ := q.TryPair("C", "5+0")
	q.Requeue(a)
	if s := q.Snapshot(); s[0].Identity != "A" { t.Fatalf("requeued entry must be first: %+v", s) }
}

func TestAssignSides_Distribution(t *testing.T) {
	whiteA := 0
	for i := 0; i < 2000; i++ {
		w, b := AssignSides("A", "B")
		if w == b { t.Fatalf("same player on both sides") }
		if w == "A" {
			whiteA++
		}
	}
	if whiteA < 850 || whiteA > 1150 { t.Fatalf("side split looks biased: A white %d/2000", whiteA) }
}

func TestParseColorChoice(t *testing.T) {
	if ParseColorChoice("W").Side() != domain.White { t.Fatalf("white") }
	if ParseColorChoice("black").Side() != domain.Black { t.Fatalf("black") }
	if s := ParseColorChoice("whatever").Side(); !s.Valid() { t.Fatalf("random must resolve to a side, got %q", s) }
}
