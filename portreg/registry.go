// Package portreg holds per-port state and implements the flood/all/
// local/numeric fan-out behind an Output call (§4.11). The port map is
// guarded by a single sync.RWMutex the way ofp4sw/pipeline.go guards its
// port table, since writers (PORT_MOD, port up/down events) are rare and
// the packet path only ever needs a read lock to snapshot the flood set.
package portreg

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/of83/datapath/wire"
)

// Sender is the per-port transport collaborator a Registry drives; it is
// supplied by the embedding program (e.g. a raw-socket or pcap writer),
// not implemented here (§1: "per-NIC driver glue" is out of scope).
type Sender interface {
	Send(portNo uint16, data []byte) error
}

// Port is one registered physical port's state (§3).
type Port struct {
	No       uint16
	HwAddr   [6]byte
	Name     string
	Flags    uint32
	Speed    uint32
	Features uint32

	dropCount uint64
}

func (p *Port) noFlood() bool { return p.Flags&wire.PortFlagNoFlood != 0 }

// Registry is the live port table.
type Registry struct {
	mu     sync.RWMutex
	ports  map[uint16]*Port
	sender Sender
}

func New(sender Sender) *Registry {
	return &Registry{ports: make(map[uint16]*Port), sender: sender}
}

// Add registers or replaces a port's descriptor.
func (r *Registry) Add(p *Port) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports[p.No] = p
}

// Remove drops a port from the registry (e.g. on PORT_STATUS delete).
func (r *Registry) Remove(no uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ports, no)
}

// Get returns a port's current descriptor.
func (r *Registry) Get(no uint16) (*Port, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.ports[no]
	return p, ok
}

// SetFlags applies a PORT_MOD flags update.
func (r *Registry) SetFlags(no uint16, flags uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.ports[no]
	if !ok {
		return false
	}
	p.Flags = flags
	return true
}

// All returns every registered port, for FEATURES_REPLY's port list.
func (r *Registry) All() []*Port {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Port, 0, len(r.ports))
	for _, p := range r.ports {
		out = append(out, p)
	}
	return out
}

// Output delivers data per §4.11: a numeric port sends directly; FLOOD
// and ALL fan out to every port but inPort (FLOOD additionally excludes
// NO_FLOOD ports); LOCAL and unregistered numeric ports are dropped. A
// send error on any port is counted against that port's drop counter and
// not returned; the fan-out runs on an errgroup.Group whose goroutines
// never fail, so Output returns nil in every case.
func (r *Registry) Output(ctx context.Context, data []byte, outPort, inPort uint16) error {
	switch outPort {
	case wire.PortFlood, wire.PortAll:
		return r.fanOut(ctx, data, inPort, outPort == wire.PortFlood)
	case wire.PortLocal:
		return nil // host-stack delivery is outside this module's scope
	default:
		r.send(outPort, data)
		return nil
	}
}

func (r *Registry) fanOut(ctx context.Context, data []byte, inPort uint16, skipNoFlood bool) error {
	r.mu.RLock()
	targets := make([]uint16, 0, len(r.ports))
	for no, p := range r.ports {
		if no == inPort {
			continue
		}
		if skipNoFlood && p.noFlood() {
			continue
		}
		targets = append(targets, no)
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(len(targets))
	for _, no := range targets {
		no := no
		g.Go(func() error {
			r.send(no, data)
			return nil
		})
	}
	return g.Wait()
}

func (r *Registry) send(no uint16, data []byte) {
	r.mu.RLock()
	p, ok := r.ports[no]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := r.sender.Send(no, data); err != nil {
		r.mu.Lock()
		p.dropCount++
		r.mu.Unlock()
	}
}

// DropCount reports a port's accumulated drop counter.
func (p *Port) DropCount() uint64 { return p.dropCount }
