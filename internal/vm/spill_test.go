package vm

import "testing"

func TestSpillRoundTrip(t *testing.T) {
	s := NewSpillTable()

	id := s.Spill(I64Val(99))
	if id < SpillRegStart {
		t.Fatalf("spill id = %d, want >= %d", id, SpillRegStart)
	}
	v, ok := s.Get(id)
	if !ok {
		t.Fatalf("Get(%d) missed a spilled id", id)
	}
	if v.AsI64() != 99 {
		t.Errorf("Get(%d) = %d, want 99", id, v.AsI64())
	}
}

func TestSpillIDsMonotonic(t *testing.T) {
	s := NewSpillTable()
	prev := s.Spill(I32Val(0))
	for i := 1; i < 10; i++ {
		id := s.Spill(I32Val(int32(i)))
		if id <= prev {
			t.Fatalf("spill id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestSpillSetOverwrites(t *testing.T) {
	s := NewSpillTable()
	id := s.Spill(I64Val(1))
	s.Set(id, I64Val(2))
	if v, _ := s.Get(id); v.AsI64() != 2 {
		t.Errorf("Get after Set = %d, want 2", v.AsI64())
	}
}

func TestSpillRemove(t *testing.T) {
	s := NewSpillTable()
	id := s.Spill(F64Val(1.5))
	s.Remove(id)
	if _, ok := s.Get(id); ok {
		t.Errorf("Get succeeded on a removed id")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after removing the only entry, want 0", s.Len())
	}

	// The id can be repopulated through Set.
	s.Set(id, U32Val(7))
	if v, ok := s.Get(id); !ok || v.AsU32() != 7 {
		t.Errorf("Set after Remove did not restore the slot")
	}
}

func TestSpillReservePinsID(t *testing.T) {
	s := NewSpillTable()
	pinned := uint16(SpillRegStart + 100)
	s.Reserve(pinned)

	if _, ok := s.Get(pinned); !ok {
		t.Fatalf("reserved id %d not present", pinned)
	}

	// Auto-assigned ids must skip past the pinned id.
	for i := 0; i < 110; i++ {
		if id := s.Spill(I32Val(int32(i))); id == pinned {
			t.Fatalf("Spill collided with reserved id %d", pinned)
		}
	}
}

func TestSpillResizePreservesEntries(t *testing.T) {
	s := NewSpillTable()
	startCap := s.Capacity()

	const n = 50
	ids := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, s.Spill(I64Val(int64(i*3))))
	}

	if s.Capacity() == startCap {
		t.Fatalf("capacity still %d after %d inserts, expected growth", startCap, n)
	}
	for i, id := range ids {
		v, ok := s.Get(id)
		if !ok {
			t.Fatalf("id %d lost across resize", id)
		}
		if v.AsI64() != int64(i*3) {
			t.Errorf("id %d = %d after resize, want %d", id, v.AsI64(), i*3)
		}
	}
	if s.Len() != n {
		t.Errorf("Len = %d, want %d", s.Len(), n)
	}
}

func TestSpillResizeDiscardsTombstones(t *testing.T) {
	s := NewSpillTable()
	ids := make([]uint16, 0, 8)
	for i := 0; i < 8; i++ {
		ids = append(ids, s.Spill(I32Val(int32(i))))
	}
	for _, id := range ids[:4] {
		s.Remove(id)
	}

	// Force growth; live entries must survive, removed ones stay gone.
	for i := 0; i < 40; i++ {
		s.Spill(BoolVal(true))
	}
	for _, id := range ids[:4] {
		if _, ok := s.Get(id); ok {
			t.Errorf("removed id %d resurrected by resize", id)
		}
	}
	for i, id := range ids[4:] {
		v, ok := s.Get(id)
		if !ok || v.AsI32() != int32(i+4) {
			t.Errorf("live id %d lost or corrupted across resize", id)
		}
	}
}

func TestSpillFindLRU(t *testing.T) {
	s := NewSpillTable()
	a := s.Spill(I32Val(1))
	b := s.Spill(I32Val(2))
	c := s.Spill(I32Val(3))

	// Touch a and b so c becomes the oldest.
	s.Get(a)
	s.Get(b)
	if got := s.FindLRU(); got != c {
		t.Errorf("FindLRU = %d, want %d", got, c)
	}

	// Touch c; a is now oldest.
	s.Get(c)
	if got := s.FindLRU(); got != a {
		t.Errorf("FindLRU after touching c = %d, want %d", got, a)
	}
}

func TestSpillFindLRUEmpty(t *testing.T) {
	s := NewSpillTable()
	if got := s.FindLRU(); got != 0 {
		t.Errorf("FindLRU on empty table = %d, want 0", got)
	}
}

func TestSpillVisitLiveOnly(t *testing.T) {
	s := NewSpillTable()
	a := s.Spill(I32Val(1))
	b := s.Spill(I32Val(2))
	s.Remove(a)

	seen := make(map[uint16]Value)
	s.Visit(func(id uint16, v Value) {
		seen[id] = v
	})
	if len(seen) != 1 {
		t.Fatalf("Visit saw %d entries, want 1", len(seen))
	}
	if v, ok := seen[b]; !ok || v.AsI32() != 2 {
		t.Errorf("Visit missed live entry %d", b)
	}
}
