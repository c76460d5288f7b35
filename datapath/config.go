package datapath

import "github.com/of83/datapath/wire"

// Config is the datapath's mutable GET/SET_CONFIG state (§4.10, §6).
// Loading it from a file or flag set is out of scope (§1) — the
// embedding program populates it directly.
type Config struct {
	Flags       uint16
	MissSendLen uint16
}

// SendFlowExp reports whether FLOW_EXPIRED messages should be emitted.
func (c Config) SendFlowExp() bool { return c.Flags&wire.FlagSendFlowExp != 0 }

// FragDrop reports whether IP fragments should be dropped before lookup.
func (c Config) FragDrop() bool { return c.Flags&wire.FragMask == wire.FragDrop }

// Coerced returns c with its frag sub-field normalized per §6.
func (c Config) Coerced() Config {
	c.Flags = wire.CoerceFrag(c.Flags)
	return c
}
