package flowtable

import (
	"time"

	"github.com/of83/datapath/action"
	"github.com/of83/datapath/flowkey"
)

// Chain composes the exact-hash, double-hash, and linear-priority tables
// into the single ordered lookup/insert path of §4.6. Ordering is fixed:
// lookups try tables in listed order and stop at the first hit; inserts
// likewise — the first table that accepts takes ownership.
type Chain struct {
	tables []table
}

// table is the common shape of HashTable, DoubleHash, and Linear that
// Chain drives without caring which.
type table interface {
	Lookup(flowkey.Key) (*Flow, bool)
	Insert(*Flow) bool
	Delete(DeleteFilter) int
	Modify(DeleteFilter, []action.Action) int
	Timeout(time.Time) []*Flow
	All() []*Flow
}

// NewChain builds the fixed three-table chain. hashSize bounds each of
// the two exact-hash tables inside the double-hash composition; linear
// caps the wildcarded table.
func NewChain(hashSize, linearMax int, reclaim Reclaimer) *Chain {
	return &Chain{
		tables: []table{
			NewHashTable(hashSize, polyIEEE, reclaim),
			NewDoubleHash(hashSize, reclaim),
			NewLinear(linearMax, reclaim),
		},
	}
}

// Lookup returns the first matching flow across the chain in table
// order, or false if none match.
func (c *Chain) Lookup(k flowkey.Key) (*Flow, bool) {
	for _, t := range c.tables {
		if f, ok := t.Lookup(k); ok {
			return f, true
		}
	}
	return nil, false
}

// Insert offers flow to each table in order and records which table
// admitted it. It returns -1 if every table rejected (§4.6 "no
// capacity").
func (c *Chain) Insert(flow *Flow) int {
	for i, t := range c.tables {
		if t.Insert(flow) {
			flow.Table = i
			return i
		}
	}
	return -1
}

// Delete sums matches removed across every table in the chain.
func (c *Chain) Delete(f DeleteFilter) int {
	removed := 0
	for _, t := range c.tables {
		removed += t.Delete(f)
	}
	return removed
}

// Modify replaces the action list of every entry matching tmpl (§4.5's
// predicate, wildcard- and priority-equality when strict) in place,
// across every table in the chain, without touching counters or
// CreatedAt. It returns the number of entries matched; zero matches is
// not an error (spec.md's Open Question #2: MODIFY against nothing
// succeeds having changed nothing).
func (c *Chain) Modify(tmpl flowkey.Template, priority uint16, strict bool, actions []action.Action) (matched int, err error) {
	f := DeleteFilter{Template: tmpl, Priority: priority, Strict: strict}
	for _, t := range c.tables {
		matched += t.Modify(f, actions)
	}
	return matched, nil
}

// Timeout collects every entry that expired as of now across the chain,
// removing each from its table.
func (c *Chain) Timeout(now time.Time) []*Flow {
	var expired []*Flow
	for _, t := range c.tables {
		expired = append(expired, t.Timeout(now)...)
	}
	return expired
}

// All returns every live flow across the chain, for STATS_REQUEST
// enumeration.
func (c *Chain) All() []*Flow {
	var out []*Flow
	for _, t := range c.tables {
		out = append(out, t.All()...)
	}
	return out
}
