package flowtable

import (
	"time"

	"github.com/of83/datapath/action"
	"github.com/of83/datapath/flowkey"
)

// DoubleHash composes two HashTables built with different CRC32
// polynomials (§4.3): insert tries the first table, then the second;
// lookup, delete, and timeout operate on both.
type DoubleHash struct {
	a, b *HashTable
}

// Different CRC32 polynomials give the two tables independent collision
// patterns, so a key that collides in one rarely also collides in the
// other.
const (
	polyIEEE    = 0xedb88320
	polyCastagnoli = 0x82f63b78
)

func NewDoubleHash(size int, reclaim Reclaimer) *DoubleHash {
	return &DoubleHash{
		a: NewHashTable(size, polyIEEE, reclaim),
		b: NewHashTable(size, polyCastagnoli, reclaim),
	}
}

func (d *DoubleHash) Lookup(k flowkey.Key) (*Flow, bool) {
	if f, ok := d.a.Lookup(k); ok {
		return f, true
	}
	return d.b.Lookup(k)
}

func (d *DoubleHash) Insert(flow *Flow) bool {
	if d.a.Insert(flow) {
		return true
	}
	return d.b.Insert(flow)
}

func (d *DoubleHash) Delete(f DeleteFilter) int {
	return d.a.Delete(f) + d.b.Delete(f)
}

func (d *DoubleHash) Modify(f DeleteFilter, actions []action.Action) int {
	return d.a.Modify(f, actions) + d.b.Modify(f, actions)
}

func (d *DoubleHash) Timeout(now time.Time) []*Flow {
	return append(d.a.Timeout(now), d.b.Timeout(now)...)
}

func (d *DoubleHash) All() []*Flow {
	return append(d.a.All(), d.b.All()...)
}
