package document

import (
	"testing"

	"github.com/prosemark/server/internal/ot"
)

func TestRecentOpsDedup(t *testing.T) {
	r := NewRecentOps(4)
	if !r.Insert("a", recentOpResult{rev: 1}) {
		t.Fatal("first insert of a new id should succeed")
	}
	if r.Insert("a", recentOpResult{rev: 2}) {
		t.Fatal("second insert of the same id should report already-seen")
	}
	if !r.Contains("a") {
		t.Fatal("expected a to be recorded")
	}
}

func TestRecentOpsGetReturnsStoredResultUnchangedByLaterInserts(t *testing.T) {
	r := NewRecentOps(4)
	r.Insert("a", recentOpResult{rev: 1, ops: []ot.Op{ot.Insert(0, "x")}})
	r.Insert("a", recentOpResult{rev: 99})

	got, ok := r.Get("a")
	if !ok {
		t.Fatal("expected a to be recorded")
	}
	if got.rev != 1 || len(got.ops) != 1 {
		t.Fatalf("expected the first-application result to survive, got %+v", got)
	}
}

func TestRecentOpsGetMissingReturnsFalse(t *testing.T) {
	r := NewRecentOps(4)
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected no result for an id that was never inserted")
	}
}

func TestRecentOpsEvictsOldestOverCapacity(t *testing.T) {
	r := NewRecentOps(2)
	r.Insert("a", recentOpResult{rev: 1})
	r.Insert("b", recentOpResult{rev: 2})
	r.Insert("c", recentOpResult{rev: 3})

	if r.Contains("a") {
		t.Fatal("expected oldest id to be evicted")
	}
	if !r.Contains("b") || !r.Contains("c") {
		t.Fatal("expected the two most recent ids to survive")
	}
}
