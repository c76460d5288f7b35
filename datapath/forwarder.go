package datapath

import (
	"time"

	"github.com/of83/datapath/action"
	"github.com/of83/datapath/flowkey"
	"github.com/of83/datapath/flowtable"
	"github.com/of83/datapath/wire"
)

// stpMAC is the bridge-group address BPDUs are sent to; NO_RECV_STP on
// the ingress port only suppresses frames destined there (§4.9 step 3).
var stpMAC = [6]byte{0x01, 0x80, 0xC2, 0x00, 0x00, 0x00}

// HandleFrame is the Forwarder contract of §4.9: parse, filter, look up,
// and either run the matching flow's actions or punt to the controller.
func (d *Datapath) HandleFrame(inPort uint16, data []byte, now time.Time) {
	key, isFrag := flowkey.Extract(data, inPort)

	if isFrag && d.Config().FragDrop() {
		return
	}

	if p, ok := d.Ports.Get(inPort); ok {
		if p.Flags&wire.PortFlagNoRecv != 0 {
			return
		}
		if key.DlDst == stpMAC && p.Flags&wire.PortFlagNoRecvSTP != 0 {
			return
		}
	}

	flow, hit := d.Chain.Lookup(key)
	if !hit {
		d.missToController(data, inPort, now)
		return
	}

	flow.Touch(now, len(data))
	frame := action.NewFrame(data)
	action.Execute(frame, flow.Actions, inPort, key.DlVlan, portSink{d: d, inPort: inPort})
}

// missToController implements §4.9's miss path: save the frame in the
// buffer pool and send PACKET_IN carrying the first miss_send_len bytes
// — or the entire frame if the save itself failed, since there is then
// no saved copy a later PACKET_OUT could replay against.
func (d *Datapath) missToController(data []byte, inPort uint16, now time.Time) {
	bufID := d.Pool.Save(data, inPort, now)
	sendData := data
	if bufID == wire.NoBuffer {
		d.logDroppedRateLimited("bufpool: pool saturated, PACKET_IN sent with no buffer id (port %d)", inPort)
	} else if missLen := int(d.Config().MissSendLen); missLen > 0 && missLen < len(data) {
		sendData = data[:missLen]
	}
	d.sendPacketIn(bufID, sendData, len(data), inPort, wire.ReasonNoMatch)
}

// puntToController saves full for later retrieval via PACKET_OUT and
// emits a PACKET_IN carrying sendData (the caller's own max_len-truncated
// copy, §4.7's CONTROLLER action — unlike the miss path this truncation
// doesn't depend on the save outcome). On pool exhaustion the PACKET_IN
// still goes out with the sentinel id (§4.12), logged at a rate limit
// rather than per-packet.
func (d *Datapath) puntToController(full, sendData []byte, inPort uint16, reason uint8, at time.Time) {
	bufID := d.Pool.Save(full, inPort, at)
	if bufID == wire.NoBuffer {
		d.logDroppedRateLimited("bufpool: pool saturated, PACKET_IN sent with no buffer id (port %d)", inPort)
	}
	d.sendPacketIn(bufID, sendData, len(full), inPort, reason)
}

func (d *Datapath) sendPacketIn(bufID uint32, sendData []byte, totalLen int, inPort uint16, reason uint8) {
	msg := wire.PacketIn{
		BufferID: bufID,
		TotalLen: uint16(totalLen),
		InPort:   inPort,
		Reason:   reason,
		Data:     sendData,
	}
	d.sendAsync(wire.TypePacketIn, msg.MarshalBinary())
}

func (d *Datapath) sendFlowExpired(f *flowtable.Flow, now time.Time) {
	var duration uint32
	if elapsed := now.Sub(f.CreatedAt); elapsed > 0 {
		duration = uint32(elapsed.Seconds())
	}
	msg := wire.FlowExpired{
		Match:       f.Template.ToWire(),
		Priority:    f.Priority,
		Duration:    duration,
		PacketCount: f.PacketCount(),
		ByteCount:   f.ByteCount(),
	}
	d.sendAsync(wire.TypeFlowExpired, msg.MarshalBinary())
}

// sendAsync frames and transmits a message the datapath initiates on
// its own (PACKET_IN, FLOW_EXPIRED) rather than in reply to a request,
// so it carries xid 0.
func (d *Datapath) sendAsync(msgType uint8, body []byte) {
	if d.Ctrl == nil {
		return
	}
	hdr := wire.Header{Version: wire.Version, Type: msgType, Length: uint16(wire.HeaderLen + len(body))}
	if err := d.Ctrl.Reply(append(hdr.MarshalBinary(), body...)); err != nil {
		d.logDroppedRateLimited("datapath: control channel send failed: %v", err)
	}
}
