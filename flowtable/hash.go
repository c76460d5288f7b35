package flowtable

import (
	"hash/crc32"
	"time"

	"github.com/of83/datapath/action"
	"github.com/of83/datapath/flowkey"
)

// HashTable is a power-of-two bucket array over exact keys (§4.3). Each
// bucket holds at most one flow; there is no chaining on the hot path —
// a colliding insert either replaces the occupant (same key) or is
// rejected so the caller can try the next table in the chain.
type HashTable struct {
	poly    uint32
	table   *crc32.Table
	buckets []*Flow
	mask    uint32
	reclaim Reclaimer
}

// NewHashTable builds a table with size buckets (rounded up to a power
// of two) hashed with the given CRC32 polynomial.
func NewHashTable(size int, poly uint32, reclaim Reclaimer) *HashTable {
	n := 1
	for n < size {
		n <<= 1
	}
	if reclaim == nil {
		reclaim = ImmediateReclaimer{}
	}
	return &HashTable{
		poly:    poly,
		table:   crc32.MakeTable(poly),
		buckets: make([]*Flow, n),
		mask:    uint32(n - 1),
		reclaim: reclaim,
	}
}

func (h *HashTable) index(k flowkey.Key) uint32 {
	return crc32.Checksum(k.Bytes(), h.table) & h.mask
}

// Lookup returns the bucket's occupant if its key matches exactly.
func (h *HashTable) Lookup(k flowkey.Key) (*Flow, bool) {
	f := h.buckets[h.index(k)]
	if f == nil {
		return nil, false
	}
	if f.Template.Key != k {
		return nil, false
	}
	return f, true
}

// Insert admits flow if it is exact (§4.3's "rejects wildcards != 0").
// A same-key collision replaces the occupant in place and retires it;
// any other collision is reported as "not placed" so the Chain can try
// the next table.
func (h *HashTable) Insert(flow *Flow) bool {
	if !flow.IsExact() {
		return false
	}
	idx := h.index(flow.Template.Key)
	old := h.buckets[idx]
	if old != nil && old.Template.Key != flow.Template.Key {
		return false
	}
	if old != nil {
		h.reclaim.Retire(old)
	}
	h.buckets[idx] = flow
	return true
}

// Delete removes entries matching key under filter and returns the
// count removed. Strict exact keys go straight to their bucket; a
// wildcarded filter (admin delete) walks every bucket using the §4.5
// predicate.
func (h *HashTable) Delete(f DeleteFilter) int {
	if f.Template.IsExact() {
		idx := h.index(f.Template.Key)
		occ := h.buckets[idx]
		if occ == nil || occ.Template.Key != f.Template.Key {
			return 0
		}
		if f.HasOutPort && !hasOutputPort(occ.Actions, f.OutPort) {
			return 0
		}
		h.buckets[idx] = nil
		h.reclaim.Retire(occ)
		return 1
	}

	removed := 0
	for i, occ := range h.buckets {
		if occ == nil {
			continue
		}
		if !flowkey.Matches(occ.Template.Key, f.Template) {
			continue
		}
		if f.Strict && (occ.Template.Wildcards != f.Template.Wildcards || occ.Priority != f.Priority) {
			continue
		}
		if f.HasOutPort && !hasOutputPort(occ.Actions, f.OutPort) {
			continue
		}
		h.buckets[i] = nil
		h.reclaim.Retire(occ)
		removed++
	}
	return removed
}

// Modify replaces the action list of every entry matching f in place,
// leaving counters and CreatedAt untouched, and returns the count
// matched (§4.10's FLOW_MOD MODIFY/MODIFY_STRICT).
func (h *HashTable) Modify(f DeleteFilter, actions []action.Action) int {
	if f.Template.IsExact() {
		idx := h.index(f.Template.Key)
		occ := h.buckets[idx]
		if occ == nil || occ.Template.Key != f.Template.Key {
			return 0
		}
		if f.HasOutPort && !hasOutputPort(occ.Actions, f.OutPort) {
			return 0
		}
		occ.Actions = actions
		return 1
	}

	matched := 0
	for _, occ := range h.buckets {
		if occ == nil {
			continue
		}
		if !flowkey.Matches(occ.Template.Key, f.Template) {
			continue
		}
		if f.Strict && (occ.Template.Wildcards != f.Template.Wildcards || occ.Priority != f.Priority) {
			continue
		}
		if f.HasOutPort && !hasOutputPort(occ.Actions, f.OutPort) {
			continue
		}
		occ.Actions = actions
		matched++
	}
	return matched
}

// Timeout removes and returns expired entries.
func (h *HashTable) Timeout(now time.Time) []*Flow {
	var expired []*Flow
	for i, occ := range h.buckets {
		if occ == nil {
			continue
		}
		if _, ok := occ.Expired(now); ok {
			h.buckets[i] = nil
			expired = append(expired, occ)
		}
	}
	return expired
}

// All returns every live flow, for STATS_REQUEST enumeration.
func (h *HashTable) All() []*Flow {
	var out []*Flow
	for _, f := range h.buckets {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}
