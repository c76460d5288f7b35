package datapath

import (
	"github.com/pkg/errors"

	"github.com/of83/datapath/action"
	"github.com/of83/datapath/flowkey"
	"github.com/of83/datapath/flowtable"
	"github.com/of83/datapath/wire"
)

// HandleControl is the Control-message dispatch contract of §4.10:
// validate the header, then dispatch by type to a handler that mutates
// the chain/config or replies with stats. A validation failure replies
// with a typed ERROR and makes no state change.
func (d *Datapath) HandleControl(data []byte) error {
	var hdr wire.Header
	if err := hdr.UnmarshalBinary(data); err != nil {
		return errors.Wrap(err, "datapath: control message")
	}
	if err := wire.ValidateHeader(hdr, len(data)); err != nil {
		d.replyError(hdr.Xid, err)
		return errors.Wrap(err, "datapath: header validation")
	}
	if hdr.Length < wire.HeaderLen {
		err := wire.Error{Kind: wire.ErrBadLength}
		d.replyError(hdr.Xid, err)
		return errors.Wrap(err, "datapath: header validation")
	}
	body := data[wire.HeaderLen:hdr.Length]

	switch hdr.Type {
	case wire.TypeHello:
		return nil
	case wire.TypeEchoRequest:
		d.reply(wire.TypeEchoReply, hdr.Xid, body)
		return nil
	case wire.TypeFeaturesRequest:
		return d.handleFeaturesRequest(hdr.Xid)
	case wire.TypeGetConfigRequest:
		return d.handleGetConfig(hdr.Xid)
	case wire.TypeSetConfig:
		return d.handleSetConfig(hdr.Xid, body)
	case wire.TypePacketOut:
		return d.handlePacketOut(hdr.Xid, body)
	case wire.TypeFlowMod:
		return d.handleFlowMod(hdr.Xid, body)
	case wire.TypePortMod:
		return d.handlePortMod(hdr.Xid, body)
	case wire.TypeStatsRequest:
		return d.handleStatsRequest(hdr.Xid, body)
	default:
		d.replyError(hdr.Xid, wire.Error{Kind: wire.ErrBadType})
		return errors.Errorf("datapath: unhandled message type %d", hdr.Type)
	}
}

func (d *Datapath) reply(msgType uint8, xid uint32, body []byte) {
	if d.Ctrl == nil {
		return
	}
	hdr := wire.Header{Version: wire.Version, Type: msgType, Xid: xid, Length: uint16(wire.HeaderLen + len(body))}
	if err := d.Ctrl.Reply(append(hdr.MarshalBinary(), body...)); err != nil {
		d.logDroppedRateLimited("datapath: reply failed: %v", err)
	}
}

func (d *Datapath) replyError(xid uint32, err error) {
	var wErr wire.Error
	if e, ok := err.(wire.Error); ok {
		wErr = e
	} else {
		wErr = wire.Error{Kind: wire.ErrBadType}
	}
	d.reply(wire.TypeError, xid, wErr.MarshalBinary())
}

func (d *Datapath) handleFeaturesRequest(xid uint32) error {
	ports := d.Ports.All()
	reply := wire.FeaturesReply{DatapathID: d.DatapathID}
	for _, p := range ports {
		reply.Ports = append(reply.Ports, wire.PhyPort{PortNo: p.No, HwAddr: p.HwAddr, Flags: p.Flags, Speed: p.Speed, Features: p.Features})
	}
	d.reply(wire.TypeFeaturesReply, xid, reply.MarshalBinary())
	return nil
}

func (d *Datapath) handleGetConfig(xid uint32) error {
	cfg := d.Config()
	reply := wire.GetConfigReply{Flags: cfg.Flags, MissSendLen: cfg.MissSendLen}
	d.reply(wire.TypeGetConfigReply, xid, reply.MarshalBinary())
	return nil
}

func (d *Datapath) handleSetConfig(xid uint32, body []byte) error {
	var c wire.GetConfigReply
	if err := c.UnmarshalBinary(body); err != nil {
		d.replyError(xid, wire.Error{Kind: wire.ErrBadLength})
		return errors.Wrap(err, "datapath: set_config")
	}
	d.SetConfig(Config{Flags: c.Flags, MissSendLen: c.MissSendLen})
	return nil
}

// handlePacketOut implements §4.10's PACKET_OUT contract: an inline
// frame bypasses the table entirely; a buffered frame is looked up and
// its actions run with ignore_no_fwd = true (this executor has no
// no-forward port flag in its action set, so the flag has no effect
// beyond documenting the caller's intent).
func (d *Datapath) handlePacketOut(xid uint32, body []byte) error {
	var out wire.PacketOut
	if err := out.UnmarshalBinary(body); err != nil {
		d.replyError(xid, wire.Error{Kind: wire.ErrBadLength})
		return errors.Wrap(err, "datapath: packet_out")
	}

	if out.BufferID == wire.NoBuffer {
		frame := action.NewFrame(out.Data)
		action.Execute(frame, toActions(out.Actions), out.InPort, wire.VlanNone, portSink{d: d, inPort: out.InPort})
		return nil
	}

	full, inPort, ok := d.Pool.Retrieve(out.BufferID)
	if !ok {
		d.replyError(xid, wire.Error{Kind: wire.ErrBufferUnknown})
		return errors.New("datapath: packet_out: buffer unknown")
	}
	if out.InPort != 0 {
		inPort = out.InPort
	}
	frame := action.NewFrame(full)
	action.Execute(frame, toActions(out.Actions), inPort, wire.VlanNone, portSink{d: d, inPort: inPort})
	return nil
}

func toActions(wa []wire.WireAction) []action.Action {
	out := make([]action.Action, 0, len(wa))
	for _, a := range wa {
		out = append(out, decodeAction(a))
	}
	return out
}

// decodeAction turns a wire action record into the tagged-variant form
// the executor runs (§3's "tagged variant instead of function-pointer
// arrays").
func decodeAction(a wire.WireAction) action.Action {
	switch a.Type {
	case wire.ActionOutput:
		return action.Action{Kind: action.Output, Port: uint16(a.Arg >> 16), MaxLen: uint16(a.Arg)}
	case wire.ActionSetVlanVid:
		return action.Action{Kind: action.SetVlanVid, VlanVid: uint16(a.Arg)}
	case wire.ActionSetVlanPcp:
		return action.Action{Kind: action.SetVlanPcp, VlanPcp: uint8(a.Arg)}
	case wire.ActionStripVlan:
		return action.Action{Kind: action.StripVlan}
	case wire.ActionSetDlSrc:
		return action.Action{Kind: action.SetDlSrc, Mac: macFromArg(a.Arg)}
	case wire.ActionSetDlDst:
		return action.Action{Kind: action.SetDlDst, Mac: macFromArg(a.Arg)}
	case wire.ActionSetNwSrc:
		return action.Action{Kind: action.SetNwSrc, IP: a.Arg}
	case wire.ActionSetNwDst:
		return action.Action{Kind: action.SetNwDst, IP: a.Arg}
	case wire.ActionSetTpSrc:
		return action.Action{Kind: action.SetTpSrc, TpPort: uint16(a.Arg)}
	case wire.ActionSetTpDst:
		return action.Action{Kind: action.SetTpDst, TpPort: uint16(a.Arg)}
	default:
		return action.Action{}
	}
}

// macFromArg recovers only the low 32 bits of a MAC from Arg — this
// datapath's 8-byte action record has no room for a full 48-bit address
// alongside a type tag, so SetDlSrc/SetDlDst addresses are carried with
// their top 16 bits zeroed. A deployment needing full MAC rewrites would
// widen the wire action record; out of scope here (§6's action is fixed
// at 8 bytes).
func macFromArg(arg uint32) [6]byte {
	var mac [6]byte
	mac[2] = byte(arg >> 24)
	mac[3] = byte(arg >> 16)
	mac[4] = byte(arg >> 8)
	mac[5] = byte(arg)
	return mac
}

func (d *Datapath) handleFlowMod(xid uint32, body []byte) error {
	var fm wire.FlowMod
	if err := fm.UnmarshalBinary(body); err != nil {
		d.replyError(xid, wire.Error{Kind: wire.ErrBadLength})
		return errors.Wrap(err, "datapath: flow_mod")
	}
	tmpl := flowkey.FromWire(fm.Match)
	actions := toActions(fm.Actions)

	switch fm.Command {
	case wire.FlowAdd:
		return d.flowAdd(xid, tmpl, fm, actions)
	case wire.FlowModify, wire.FlowModifyStrict:
		if action.LoopsBack(actions, tmpl.Key.InPort) {
			d.replyError(xid, wire.Error{Kind: wire.ErrBadAction})
			return errors.New("datapath: flow_mod rejected: output loops back to the ingress port")
		}
		strict := fm.Command == wire.FlowModifyStrict
		d.Chain.Modify(tmpl, fm.Priority, strict, actions)
		return nil
	case wire.FlowDelete, wire.FlowDeleteStrict:
		d.Chain.Delete(flowtable.DeleteFilter{Template: tmpl, Priority: fm.Priority, Strict: fm.Command == wire.FlowDeleteStrict})
		return nil
	default:
		d.replyError(xid, wire.Error{Kind: wire.ErrBadType})
		return errors.Errorf("datapath: unknown flow_mod command %d", fm.Command)
	}
}

func (d *Datapath) flowAdd(xid uint32, tmpl flowkey.Template, fm wire.FlowMod, actions []action.Action) error {
	if action.LoopsBack(actions, tmpl.Key.InPort) {
		d.replyError(xid, wire.Error{Kind: wire.ErrBadAction})
		return errors.New("datapath: flow_mod rejected: output loops back to the ingress port")
	}
	flow := flowtable.NewFlow(tmpl, fm.Priority, fm.MaxIdle, flowtable.Permanent, actions)
	if d.Chain.Insert(flow) < 0 {
		d.replyError(xid, wire.Error{Kind: wire.ErrFlowTableFull})
		return errors.New("datapath: flow_mod rejected: no table accepted the insert")
	}

	if fm.BufferID != wire.NoBuffer {
		full, inPort, ok := d.Pool.Retrieve(fm.BufferID)
		if ok {
			frame := action.NewFrame(full)
			action.Execute(frame, actions, inPort, wire.VlanNone, portSink{d: d, inPort: inPort})
		}
	}
	return nil
}

func (d *Datapath) handlePortMod(xid uint32, body []byte) error {
	var p wire.PhyPort
	if err := p.UnmarshalBinary(body); err != nil {
		d.replyError(xid, wire.Error{Kind: wire.ErrBadLength})
		return errors.Wrap(err, "datapath: port_mod")
	}
	if !d.Ports.SetFlags(p.PortNo, p.Flags) {
		d.replyError(xid, wire.Error{Kind: wire.ErrBadType})
		return errors.Errorf("datapath: port_mod: unknown port %d", p.PortNo)
	}
	return nil
}
