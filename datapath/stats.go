package datapath

import (
	"time"

	"github.com/pkg/errors"

	"github.com/of83/datapath/flowtable"
	"github.com/of83/datapath/portreg"
	"github.com/of83/datapath/wire"
)

// handleStatsRequest enumerates flows/tables/ports per §4.10, plus the
// DESC and AGGREGATE sub-types from SPEC_FULL.md's §6 supplement.
// Replies are chunked so no single STATS_REPLY exceeds maxStatsBody
// bytes of entries, with StatsReplyMore set on every part but the last.
func (d *Datapath) handleStatsRequest(xid uint32, body []byte) error {
	var sh wire.StatsHeader
	if err := sh.UnmarshalBinary(body); err != nil {
		d.replyError(xid, wire.Error{Kind: wire.ErrBadLength})
		return errors.Wrap(err, "datapath: stats_request")
	}

	now := time.Now()
	switch sh.Type {
	case wire.StatsDesc:
		d.replyStatsChunks(xid, wire.StatsDesc, [][]byte{descBody()})
	case wire.StatsFlow:
		d.replyStatsChunks(xid, wire.StatsFlow, chunkFlowStats(d.Chain.All(), now))
	case wire.StatsAggregate:
		d.replyStatsChunks(xid, wire.StatsAggregate, [][]byte{aggregateBody(d.Chain.All())})
	case wire.StatsTable:
		d.replyStatsChunks(xid, wire.StatsTable, [][]byte{tableStatsBody(d.Chain.All())})
	case wire.StatsPort:
		d.replyStatsChunks(xid, wire.StatsPort, chunkPortStats(d.Ports.All()))
	default:
		d.replyError(xid, wire.Error{Kind: wire.ErrBadType})
		return errors.Errorf("datapath: unknown stats type %d", sh.Type)
	}
	return nil
}

// maxStatsBody bounds a single STATS_REPLY part's entry payload.
const maxStatsBody = 4096

func (d *Datapath) replyStatsChunks(xid uint32, statsType uint16, chunks [][]byte) {
	if len(chunks) == 0 {
		chunks = [][]byte{{}}
	}
	for i, c := range chunks {
		flags := uint16(0)
		if i < len(chunks)-1 {
			flags = wire.StatsReplyMore
		}
		hdr := wire.StatsHeader{Type: statsType, Flags: flags}
		d.reply(wire.TypeStatsReply, xid, append(hdr.MarshalBinary(), c...))
	}
}

func descBody() []byte {
	return []byte("of83 datapath core")
}

func flowToStats(f *flowtable.Flow, now time.Time) wire.FlowStats {
	var duration uint32
	if elapsed := now.Sub(f.CreatedAt); elapsed > 0 {
		duration = uint32(elapsed.Seconds())
	}
	return wire.FlowStats{
		Match:       f.Template.ToWire(),
		Priority:    f.Priority,
		Table:       uint8(f.Table),
		Duration:    duration,
		PacketCount: f.PacketCount(),
		ByteCount:   f.ByteCount(),
	}
}

func chunkFlowStats(flows []*flowtable.Flow, now time.Time) [][]byte {
	var chunks [][]byte
	var cur []byte
	for _, f := range flows {
		entry := flowToStats(f, now).MarshalBinary()
		if len(cur)+len(entry) > maxStatsBody && len(cur) > 0 {
			chunks = append(chunks, cur)
			cur = nil
		}
		cur = append(cur, entry...)
	}
	return append(chunks, cur)
}

func aggregateBody(flows []*flowtable.Flow) []byte {
	var agg wire.AggregateStats
	for _, f := range flows {
		agg.PacketCount += f.PacketCount()
		agg.ByteCount += f.ByteCount()
		agg.FlowCount++
	}
	return agg.MarshalBinary()
}

func tableStatsBody(flows []*flowtable.Flow) []byte {
	counts := map[int]uint32{}
	for _, f := range flows {
		counts[f.Table]++
	}
	var buf []byte
	for table := 0; table < 3; table++ {
		n := counts[table]
		buf = append(buf, byte(table), byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
	return buf
}

func chunkPortStats(ports []*portreg.Port) [][]byte {
	var chunks [][]byte
	var cur []byte
	for _, p := range ports {
		entry := wire.PortStats{PortNo: p.No, DropCount: p.DropCount()}.MarshalBinary()
		if len(cur)+len(entry) > maxStatsBody && len(cur) > 0 {
			chunks = append(chunks, cur)
			cur = nil
		}
		cur = append(cur, entry...)
	}
	return append(chunks, cur)
}
