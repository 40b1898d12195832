package document

import (
	"container/list"

	"github.com/prosemark/server/internal/ot"
)

// recentOpsCap bounds memory per document regardless of how long it
// stays open; grounded on original_source's RECENT_OPS_CAP (4096).
const recentOpsCap = 4096

// recentOpResult is what a given op_id's first application actually
// produced — the rev it landed at and the ops it was transformed into
// — cached so a later resend of the same op_id (the author's ack was
// lost and it reconnects and resubmits, §4.3/§5) gets back the truth
// instead of whatever the document's current revision happens to be
// by the time the resend arrives.
type recentOpResult struct {
	rev uint64
	ops []ot.Op
}

type recentOpsEntry struct {
	id     string
	result recentOpResult
}

// RecentOps is a bounded, insertion-ordered map of recently applied
// op_ids to the result each one produced, used to make `apply_edit`
// idempotent across WebSocket reconnects (§4.3's de-duplication
// rule). Grounded on original_source/state.rs's RecentOps (HashSet +
// VecDeque), adapted to container/list + map for O(1) insert/evict in
// Go and extended to carry each op_id's (rev, ops) so a dedup hit can
// answer truthfully rather than with the document's current state.
type RecentOps struct {
	cap   int
	index map[string]*list.Element
	order *list.List
}

func NewRecentOps(cap int) *RecentOps {
	if cap <= 0 {
		cap = recentOpsCap
	}
	return &RecentOps{
		cap:   cap,
		index: make(map[string]*list.Element),
		order: list.New(),
	}
}

func (r *RecentOps) Contains(id string) bool {
	_, ok := r.index[id]
	return ok
}

// Get returns the result recorded for id's first application, if any.
func (r *RecentOps) Get(id string) (recentOpResult, bool) {
	el, ok := r.index[id]
	if !ok {
		return recentOpResult{}, false
	}
	return el.Value.(recentOpsEntry).result, true
}

// Insert records id's first-application result, evicting the oldest
// entry if the set is now over capacity. Returns false if id was
// already present, leaving its stored result untouched.
func (r *RecentOps) Insert(id string, result recentOpResult) bool {
	if _, ok := r.index[id]; ok {
		return false
	}
	el := r.order.PushBack(recentOpsEntry{id: id, result: result})
	r.index[id] = el
	for r.order.Len() > r.cap {
		oldest := r.order.Front()
		if oldest == nil {
			break
		}
		r.order.Remove(oldest)
		delete(r.index, oldest.Value.(recentOpsEntry).id)
	}
	return true
}
