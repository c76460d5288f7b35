// Package datapath owns the tables, ports, buffer pool, and control
// channel and drives both the packet path (Forwarder, §4.9) and the
// control path (dispatch, §4.10) from the single poll loop described in
// §5. Errors that cross a package boundary are wrapped with
// github.com/pkg/errors the way superkkt-cherry and weaveworks-weave
// wrap causes for logging, and OOM/buffer-pool-full diagnostics are
// rate-limited with golang.org/x/time/rate per §7.
package datapath

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/of83/datapath/bufpool"
	"github.com/of83/datapath/flowtable"
	"github.com/of83/datapath/portreg"
)

// ControlSender is the outbound control-channel collaborator: whatever
// relays framed messages to the controller (the secure-channel relay is
// out of scope, §1 — this module only needs the seam).
type ControlSender interface {
	Reply(msg []byte) error
}

// Datapath is a single switch instance: chain, buffer pool, port
// registry, and the config the control channel can read/write.
type Datapath struct {
	Chain *flowtable.Chain
	Pool  *bufpool.Pool
	Ports *portreg.Registry

	DatapathID uint64
	Ctrl       ControlSender

	cfgMu sync.RWMutex
	cfg   Config

	dropLimiter *rate.Limiter
}

// New builds a Datapath with the fixed three-table chain sized per
// spec.md §5's resource bounds, an empty buffer pool, and cfg as the
// initial GET_CONFIG state.
func New(dpid uint64, ctrl ControlSender, ports *portreg.Registry, hashSize, linearMax int, cfg Config) *Datapath {
	return &Datapath{
		Chain:       flowtable.NewChain(hashSize, linearMax, flowtable.ImmediateReclaimer{}),
		Pool:        bufpool.New(),
		Ports:       ports,
		DatapathID:  dpid,
		Ctrl:        ctrl,
		cfg:         cfg.Coerced(),
		dropLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Config returns the current GET_CONFIG state.
func (d *Datapath) Config() Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

// SetConfig applies a SET_CONFIG update, coercing an unrecognized frag
// sub-field to DROP per §6.
func (d *Datapath) SetConfig(cfg Config) {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	d.cfg = cfg.Coerced()
}

// logDroppedRateLimited logs an internal-only failure (§7's OOM/pool-full
// list) without flooding the log when it recurs every packet.
func (d *Datapath) logDroppedRateLimited(format string, args ...any) {
	if d.dropLimiter.Allow() {
		log.Printf(format, args...)
	}
}

// Run drives the timeout sweeper at least once per second of wall time
// (§5) until ctx is canceled. The packet and control paths are invoked
// directly by the embedding program's own I/O loop (per-NIC driver glue
// and the secure-channel relay are out of scope, §1) — this loop only
// owns the piece that has no external event to wait on.
func (d *Datapath) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			d.sweep(now)
		}
	}
}

// sweep removes expired flows and, when SEND_FLOW_EXP is set, reports
// them to the controller (§4.6, §5).
func (d *Datapath) sweep(now time.Time) {
	expired := d.Chain.Timeout(now)
	if len(expired) == 0 {
		return
	}
	sendExp := d.Config().SendFlowExp()
	for _, f := range expired {
		if sendExp {
			d.sendFlowExpired(f, now)
		}
	}
}
