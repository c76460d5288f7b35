package bufpool

import (
	"testing"
	"time"
)

func TestSaveRetrieveRoundTrip(t *testing.T) {
	p := New()
	now := time.Now()
	id := p.Save([]byte("hello"), 2, now)
	if id == NoBuffer {
		t.Fatalf("save on an empty pool returned NoBuffer")
	}

	data, inPort, ok := p.Retrieve(id)
	if !ok || string(data) != "hello" || inPort != 2 {
		t.Fatalf("retrieve: ok=%v data=%q inPort=%d", ok, data, inPort)
	}

	if _, _, ok := p.Retrieve(id); ok {
		t.Fatalf("retrieving the same id twice should report BUFFER_UNKNOWN")
	}
}

func TestSaveWithinOverwriteWindowReturnsNoBuffer(t *testing.T) {
	p := New()
	now := time.Now()
	for i := 0; i < Size; i++ {
		p.Save([]byte{byte(i)}, 0, now)
	}
	// writeAt has wrapped back to slot 0, which is still within its window.
	if id := p.Save([]byte("evict me"), 0, now.Add(100*time.Millisecond)); id != NoBuffer {
		t.Fatalf("save within overwrite window = %d, want NoBuffer", id)
	}
}

func TestSaveAfterOverwriteWindowEvicts(t *testing.T) {
	p := New()
	now := time.Now()
	first := p.Save([]byte("a"), 0, now)
	for i := 1; i < Size; i++ {
		p.Save([]byte{byte(i)}, 0, now)
	}
	later := now.Add(2 * OverwriteWindow)
	second := p.Save([]byte("b"), 0, later)
	if second == NoBuffer {
		t.Fatalf("save past overwrite window returned NoBuffer")
	}
	if first == second {
		t.Fatalf("cookie did not change across eviction")
	}
	if _, _, ok := p.Retrieve(first); ok {
		t.Fatalf("stale id from before eviction should not resolve")
	}
}
