// Package flowtable implements the layered flow table (§2 components
// 2-6): flow entries, the exact-hash and double-hash tables, the
// linear-priority table, and the Chain that composes them. The tables
// and the Chain hold no lock of their own: they are not safe for
// concurrent use, and callers serialize every lookup and mutation. The
// reclamation discipline is likewise simplified to the single-threaded
// choice §9's Open Question #1 resolves this design toward: flows are
// simply freed by the garbage collector once unreferenced, and Reclaimer
// exists only to mark the call sites where a concurrent implementation
// would plug in an epoch or hazard-pointer scheme.
package flowtable

import (
	"sync/atomic"
	"time"

	"github.com/of83/datapath/action"
	"github.com/of83/datapath/flowkey"
)

// MaxActions bounds a flow's action program (§3).
const MaxActions = 16

// Permanent disables idle/hard timeout (§3, §6).
const Permanent uint16 = 0

// ExpireReason distinguishes why a flow left the chain (§4.6).
type ExpireReason int

const (
	ExpireIdleTimeout ExpireReason = iota
	ExpireHardTimeout
)

// Flow is a match + actions + bookkeeping record (§3).
type Flow struct {
	Template flowkey.Template
	Priority uint16 // meaningful only when Template.Wildcards != 0

	IdleTimeout uint16
	HardTimeout uint16
	CreatedAt   time.Time
	usedAt      atomic.Int64 // unix nanos; lock-free per §5's counter contract

	packetCount atomic.Uint64
	byteCount   atomic.Uint64

	Actions []action.Action

	// Table records which table in the chain admitted this flow, for
	// STATS_REQUEST{type=FLOW} display only (SPEC_FULL.md §3 supplement).
	Table int

	// seq orders same-priority insertions for the linear table's
	// "ties break by insertion age, older first" rule (§4.4).
	seq uint64
}

// NewFlow builds a Flow with its clock fields initialized to now.
func NewFlow(tmpl flowkey.Template, priority, idle, hard uint16, actions []action.Action) *Flow {
	f := &Flow{
		Template:    tmpl,
		Priority:    priority,
		IdleTimeout: idle,
		HardTimeout: hard,
		CreatedAt:   time.Now(),
		Actions:     actions,
	}
	f.usedAt.Store(f.CreatedAt.UnixNano())
	return f
}

// IsExact reports whether this flow belongs in the hash tables (§3
// invariant: wildcards==0 flows live only in the hash tables).
func (f *Flow) IsExact() bool { return f.Template.IsExact() }

// Touch records a hit: used_at = now, counters += (1, n) (§4.9). Called
// from the packet path without a lock — atomics give the monotonicity
// guarantee §5 asks for without serializing readers.
func (f *Flow) Touch(now time.Time, frameLen int) {
	f.usedAt.Store(now.UnixNano())
	f.packetCount.Add(1)
	f.byteCount.Add(uint64(frameLen))
}

func (f *Flow) UsedAt() time.Time { return time.Unix(0, f.usedAt.Load()) }
func (f *Flow) PacketCount() uint64 { return f.packetCount.Load() }
func (f *Flow) ByteCount() uint64   { return f.byteCount.Load() }

// Expired reports whether the flow has timed out as of now, and why.
// The idle test is checked first per §4.6.
func (f *Flow) Expired(now time.Time) (ExpireReason, bool) {
	if f.IdleTimeout != Permanent && now.After(f.UsedAt().Add(time.Duration(f.IdleTimeout)*time.Second)) {
		return ExpireIdleTimeout, true
	}
	if f.HardTimeout != Permanent && now.After(f.CreatedAt.Add(time.Duration(f.HardTimeout)*time.Second)) {
		return ExpireHardTimeout, true
	}
	return 0, false
}

// Reclaimer marks the point at which a flow removed from (or replaced
// in) a table becomes eligible for release. The single-threaded
// implementation this module chooses (§9 Open Question #1) needs no
// grace period — there can be no concurrent reader once the writer,
// which is the only goroutine touching tables, has unlinked the entry —
// so the default Reclaimer is a no-op and the Go garbage collector does
// the rest.
type Reclaimer interface {
	Retire(old *Flow)
}

// ImmediateReclaimer is the single-threaded Reclaimer: it does nothing,
// relying on the GC. A multi-threaded implementation would replace this
// with an epoch or hazard-pointer scheme that defers the actual drop of
// the last reference until every reader that might hold old has quiesced.
type ImmediateReclaimer struct{}

func (ImmediateReclaimer) Retire(*Flow) {}

// DeleteFilter selects the entries a FLOW_MOD DELETE/DELETE_STRICT or
// MODIFY/MODIFY_STRICT acts on (§4.10, §6 supplement).
type DeleteFilter struct {
	Template flowkey.Template
	Strict   bool
	// Priority is compared against a wildcarded occupant's own Priority
	// whenever Strict is set (spec.md "priority and wildcards must match
	// exactly"); meaningless otherwise, since exact flows carry no
	// meaningful priority (§3).
	Priority uint16
	// OutPort, when HasOutPort is set, restricts to flows whose action
	// list outputs to this port (SPEC_FULL.md §6 supplement,
	// grounded on original_source/switch/switch-flow.c's out_port filter).
	OutPort    uint16
	HasOutPort bool
}
