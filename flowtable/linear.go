package flowtable

import (
	"time"

	"github.com/of83/datapath/action"
	"github.com/of83/datapath/flowkey"
)

// Linear holds wildcarded flows ordered by non-increasing priority, ties
// broken by insertion age with the older entry first (§4.4). It is
// O(n) per lookup, acceptable because the table is bounded by maxFlows.
type Linear struct {
	entries []*Flow
	nextSeq uint64
	maxFlows int
	reclaim  Reclaimer
}

// NewLinear builds an empty table bounded to maxFlows entries.
func NewLinear(maxFlows int, reclaim Reclaimer) *Linear {
	if reclaim == nil {
		reclaim = ImmediateReclaimer{}
	}
	return &Linear{maxFlows: maxFlows, reclaim: reclaim}
}

// Lookup scans in priority order and returns the first entry whose
// key+wildcards match under the §4.5 predicate.
func (l *Linear) Lookup(k flowkey.Key) (*Flow, bool) {
	for _, f := range l.entries {
		if flowkey.Matches(k, f.Template) {
			return f, true
		}
	}
	return nil, false
}

// Insert admits only wildcarded flows. An entry with exactly the same
// (key, wildcards, priority) is replaced in place by the new flow — a
// fresh entry, with its own zeroed counters and CreatedAt, takes the
// old one's slot; otherwise the new flow is inserted in priority order.
func (l *Linear) Insert(flow *Flow) bool {
	if flow.IsExact() {
		return false
	}
	for i, f := range l.entries {
		if sameRule(f, flow) {
			flow.seq = f.seq
			l.entries[i] = flow
			l.reclaim.Retire(f)
			return true
		}
	}
	if len(l.entries) >= l.maxFlows {
		return false
	}
	flow.seq = l.nextSeq
	l.nextSeq++

	idx := 0
	for idx < len(l.entries) && l.entries[idx].Priority >= flow.Priority {
		idx++
	}
	l.entries = append(l.entries, nil)
	copy(l.entries[idx+1:], l.entries[idx:])
	l.entries[idx] = flow
	return true
}

func sameRule(a, b *Flow) bool {
	return a.Template.Key == b.Template.Key &&
		a.Template.Wildcards == b.Template.Wildcards &&
		a.Template.NwSrcMask == b.Template.NwSrcMask &&
		a.Template.NwDstMask == b.Template.NwDstMask &&
		a.Priority == b.Priority
}

// Delete removes entries matching filter and returns the count removed.
// Strict delete additionally requires exact wildcard-bitmap equality.
func (l *Linear) Delete(f DeleteFilter) int {
	removed := 0
	kept := l.entries[:0]
	for _, occ := range l.entries {
		matches := flowkey.Overlaps(occ.Template, f.Template)
		if matches && (!f.Strict || (occ.Template.Wildcards == f.Template.Wildcards && occ.Priority == f.Priority)) &&
			(!f.HasOutPort || hasOutputPort(occ.Actions, f.OutPort)) {
			l.reclaim.Retire(occ)
			removed++
			continue
		}
		kept = append(kept, occ)
	}
	l.entries = kept
	return removed
}

// Modify replaces the action list of every entry matching f in place,
// leaving counters, CreatedAt, and ordering untouched, and returns the
// count matched.
func (l *Linear) Modify(f DeleteFilter, actions []action.Action) int {
	matched := 0
	for _, occ := range l.entries {
		if !flowkey.Overlaps(occ.Template, f.Template) {
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
func (l *Linear) Timeout(now time.Time) []*Flow {
	var expired []*Flow
	kept := l.entries[:0]
	for _, occ := range l.entries {
		if _, ok := occ.Expired(now); ok {
			expired = append(expired, occ)
			continue
		}
		kept = append(kept, occ)
	}
	l.entries = kept
	return expired
}

// All returns every live flow, for STATS_REQUEST enumeration.
func (l *Linear) All() []*Flow {
	out := make([]*Flow, len(l.entries))
	copy(out, l.entries)
	return out
}
