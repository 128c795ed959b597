package vm

// SpillTable turns the bounded physical register space into an effectively
// unbounded logical one. It is an open-addressing hash table with linear
// probing over a power-of-two capacity; deleted slots become tombstones so
// probe chains stay intact. Spilling is the cold path: lookups are O(1)
// amortized, LRU scans are O(capacity) by design.
//
// Slot id 0 marks an empty entry. That is safe because spill ids are always
// allocated at or above SpillRegStart.
type SpillTable struct {
	entries    []spillEntry
	count      int // live entries
	tombstones int
	nextID     uint32 // monotonic id source, starts at SpillRegStart
	lruClock   uint8
}

type spillEntry struct {
	id        uint16
	value     Value
	tombstone bool
	lastUsed  uint8
}

const spillInitialCapacity = 16

// NewSpillTable creates an empty spill table with the default capacity.
func NewSpillTable() *SpillTable {
	return NewSpillTableSize(spillInitialCapacity)
}

// NewSpillTableSize creates an empty spill table with at least the given
// capacity, rounded up to a power of two.
func NewSpillTableSize(capacity int) *SpillTable {
	if capacity < spillInitialCapacity {
		capacity = spillInitialCapacity
	}
	cap := 1
	for cap < capacity {
		cap <<= 1
	}
	return &SpillTable{
		entries: make([]spillEntry, cap),
		nextID:  SpillRegStart,
	}
}

// findEntry locates the slot for id: either the entry holding it, or the
// first reusable slot (a tombstone if one was passed, else the empty slot
// that terminates the probe chain).
func findEntry(entries []spillEntry, id uint16) *spillEntry {
	mask := uint32(len(entries) - 1)
	index := uint32(id) & mask
	var tombstone *spillEntry

	for {
		entry := &entries[index]
		if entry.id == 0 {
			if !entry.tombstone {
				if tombstone != nil {
					return tombstone
				}
				return entry
			}
			if tombstone == nil {
				tombstone = entry
			}
		} else if entry.id == id {
			return entry
		}
		index = (index + 1) & mask
	}
}

// resize doubles the table, rehashing only live entries and discarding
// tombstones.
func (s *SpillTable) resize() {
	old := s.entries
	s.entries = make([]spillEntry, len(old)*2)
	s.count = 0
	s.tombstones = 0

	for i := range old {
		entry := &old[i]
		if entry.id != 0 && !entry.tombstone {
			dest := findEntry(s.entries, entry.id)
			*dest = *entry
			s.count++
		}
	}
}

func (s *SpillTable) maybeResize() {
	if (s.count+s.tombstones+1)*4 > len(s.entries)*3 {
		s.resize()
	}
}

// Spill stores value under a freshly allocated id beyond the fixed address
// space and returns that id.
func (s *SpillTable) Spill(value Value) uint16 {
	s.maybeResize()

	id := uint16(s.nextID)
	s.nextID++

	entry := findEntry(s.entries, id)
	if entry.tombstone {
		s.tombstones--
	}
	entry.id = id
	entry.value = value
	entry.tombstone = false
	entry.lastUsed = s.lruClock
	s.lruClock++

	s.count++
	return id
}

// Reserve pins a caller-chosen id (used for parameter binding) with a
// default value. The monotonic counter is advanced past the id so a later
// Spill can never collide with it.
func (s *SpillTable) Reserve(id uint16) {
	s.maybeResize()

	entry := findEntry(s.entries, id)
	if entry.tombstone {
		s.tombstones--
	}
	isNew := entry.id != id || entry.tombstone
	entry.id = id
	entry.value = BoolVal(false)
	entry.tombstone = false
	entry.lastUsed = s.lruClock
	s.lruClock++

	if isNew {
		s.count++
	}
	if uint32(id) >= s.nextID {
		s.nextID = uint32(id) + 1
	}
}

// Set upserts the value stored under id.
func (s *SpillTable) Set(id uint16, value Value) {
	s.maybeResize()

	entry := findEntry(s.entries, id)
	if entry.tombstone {
		s.tombstones--
	}
	isNew := entry.id != id || entry.tombstone
	entry.id = id
	entry.value = value
	entry.tombstone = false
	entry.lastUsed = s.lruClock
	s.lruClock++

	if isNew {
		s.count++
	}
}

// Get returns the value stored under id, if any. A hit refreshes the
// entry's last-used clock.
func (s *SpillTable) Get(id uint16) (Value, bool) {
	entry := findEntry(s.entries, id)
	if entry.id != id || entry.tombstone {
		return Value{}, false
	}
	entry.lastUsed = s.lruClock
	s.lruClock++
	return entry.value, true
}

// Remove tombstones the slot holding id, if present.
func (s *SpillTable) Remove(id uint16) {
	entry := findEntry(s.entries, id)
	if entry.id == id && !entry.tombstone {
		entry.tombstone = true
		entry.id = 0
		s.count--
		s.tombstones++
	}
}

// FindLRU scans all live entries for the least recently used id. It returns
// 0 when the table is empty. Eviction itself is the caller's decision; the
// table never drops an entry on its own.
func (s *SpillTable) FindLRU() uint16 {
	oldest := uint8(255)
	var lru uint16

	for i := range s.entries {
		entry := &s.entries[i]
		if entry.id != 0 && !entry.tombstone && entry.lastUsed < oldest {
			oldest = entry.lastUsed
			lru = entry.id
		}
	}
	return lru
}

// Visit calls fn for every live entry. The collector uses this to treat
// every spilled value as a root.
func (s *SpillTable) Visit(fn func(id uint16, value Value)) {
	for i := range s.entries {
		entry := &s.entries[i]
		if entry.id != 0 && !entry.tombstone {
			fn(entry.id, entry.value)
		}
	}
}

// Len returns the number of live entries.
func (s *SpillTable) Len() int { return s.count }

// Capacity returns the current table capacity.
func (s *SpillTable) Capacity() int { return len(s.entries) }
