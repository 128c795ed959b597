package vm

import "hash/fnv"

// Persistent Hash Array Mapped Trie mapping identifier names to register
// ids. The code generator snapshots the map at scope entry and restores
// it at scope exit, so shadowed bindings need no undo log.

const (
	hamtBits = 5
	hamtSize = 1 << hamtBits // 32
	hamtMask = hamtSize - 1
)

// NameMap is an immutable map from identifier to register id.
type NameMap struct {
	root  *hamtNode
	count int
}

type hamtNode struct {
	bitmap   uint32
	contents []interface{} // *hamtEntry, *hamtNode, or []*hamtEntry
}

type hamtEntry struct {
	hash uint32
	key  string
	id   uint16
}

// EmptyNameMap returns a map with no bindings.
func EmptyNameMap() *NameMap {
	return &NameMap{}
}

// Len returns the number of bindings.
func (m *NameMap) Len() int {
	return m.count
}

// Get returns the register id bound to name.
func (m *NameMap) Get(name string) (uint16, bool) {
	if m.root == nil {
		return 0, false
	}
	return m.root.get(hashName(name), name, 0)
}

// Put returns a new map with name bound to id; the receiver is unchanged.
func (m *NameMap) Put(name string, id uint16) *NameMap {
	hash := hashName(name)

	var newRoot *hamtNode
	var added bool
	if m.root == nil {
		newRoot = &hamtNode{}
		newRoot, added = newRoot.put(hash, name, id, 0)
	} else {
		newRoot, added = m.root.put(hash, name, id, 0)
	}

	newCount := m.count
	if added {
		newCount++
	}
	return &NameMap{root: newRoot, count: newCount}
}

// Range iterates over all bindings until f returns false.
func (m *NameMap) Range(f func(name string, id uint16) bool) {
	if m.root != nil {
		m.root.iterate(f)
	}
}

func (n *hamtNode) get(hash uint32, key string, shift uint) (uint16, bool) {
	idx := (hash >> shift) & hamtMask
	bit := uint32(1) << idx

	if n.bitmap&bit == 0 {
		return 0, false
	}

	pos := popcount(n.bitmap & (bit - 1))
	switch v := n.contents[pos].(type) {
	case *hamtEntry:
		if v.hash == hash && v.key == key {
			return v.id, true
		}
		return 0, false
	case *hamtNode:
		return v.get(hash, key, shift+hamtBits)
	case []*hamtEntry:
		for _, e := range v {
			if e.hash == hash && e.key == key {
				return e.id, true
			}
		}
	}
	return 0, false
}

func (n *hamtNode) put(hash uint32, key string, id uint16, shift uint) (*hamtNode, bool) {
	idx := (hash >> shift) & hamtMask
	bit := uint32(1) << idx

	newNode := &hamtNode{
		bitmap:   n.bitmap,
		contents: make([]interface{}, len(n.contents)),
	}
	copy(newNode.contents, n.contents)

	if n.bitmap&bit == 0 {
		newNode.bitmap |= bit
		pos := popcount(newNode.bitmap & (bit - 1))
		entry := &hamtEntry{hash: hash, key: key, id: id}

		newNode.contents = append(newNode.contents, nil)
		copy(newNode.contents[pos+1:], newNode.contents[pos:])
		newNode.contents[pos] = entry
		return newNode, true
	}

	pos := popcount(n.bitmap & (bit - 1))
	switch v := newNode.contents[pos].(type) {
	case *hamtEntry:
		if v.hash == hash && v.key == key {
			newNode.contents[pos] = &hamtEntry{hash: hash, key: key, id: id}
			return newNode, false
		}

		// Collision past the hash width becomes a bucket.
		if shift >= 30 {
			newNode.contents[pos] = []*hamtEntry{v, {hash: hash, key: key, id: id}}
			return newNode, true
		}

		child := &hamtNode{}
		child, _ = child.put(v.hash, v.key, v.id, shift+hamtBits)
		child, added := child.put(hash, key, id, shift+hamtBits)
		newNode.contents[pos] = child
		return newNode, added

	case *hamtNode:
		newChild, added := v.put(hash, key, id, shift+hamtBits)
		newNode.contents[pos] = newChild
		return newNode, added

	case []*hamtEntry:
		for i, e := range v {
			if e.hash == hash && e.key == key {
				bucket := make([]*hamtEntry, len(v))
				copy(bucket, v)
				bucket[i] = &hamtEntry{hash: hash, key: key, id: id}
				newNode.contents[pos] = bucket
				return newNode, false
			}
		}
		bucket := make([]*hamtEntry, len(v)+1)
		copy(bucket, v)
		bucket[len(v)] = &hamtEntry{hash: hash, key: key, id: id}
		newNode.contents[pos] = bucket
		return newNode, true
	}
	return newNode, false
}

func (n *hamtNode) iterate(f func(name string, id uint16) bool) bool {
	for _, item := range n.contents {
		switch v := item.(type) {
		case *hamtEntry:
			if !f(v.key, v.id) {
				return false
			}
		case *hamtNode:
			if !v.iterate(f) {
				return false
			}
		case []*hamtEntry:
			for _, e := range v {
				if !f(e.key, e.id) {
					return false
				}
			}
		}
	}
	return true
}

func hashName(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func popcount(x uint32) int {
	x = x - ((x >> 1) & 0x55555555)
	x = (x & 0x33333333) + ((x >> 2) & 0x33333333)
	x = (x + (x >> 4)) & 0x0f0f0f0f
	x = x + (x >> 8)
	x = x + (x >> 16)
	return int(x & 0x3f)
}

// GlobalNames binds identifier names to global register ids, allocating
// through the register file on first definition. Scopes snapshot and
// restore the underlying persistent map.
type GlobalNames struct {
	rf       *RegisterFile
	bindings *NameMap
}

// NewGlobalNames creates an empty name table over a register file.
func NewGlobalNames(rf *RegisterFile) *GlobalNames {
	return &GlobalNames{rf: rf, bindings: EmptyNameMap()}
}

// Define binds name to a freshly allocated global register, or returns
// the existing binding when the name is already defined.
func (g *GlobalNames) Define(name string) (uint16, error) {
	if id, ok := g.bindings.Get(name); ok {
		return id, nil
	}
	id, err := g.rf.AllocateGlobalRegister()
	if err != nil {
		return 0, err
	}
	g.bindings = g.bindings.Put(name, id)
	return id, nil
}

// Lookup returns the register id bound to name.
func (g *GlobalNames) Lookup(name string) (uint16, bool) {
	return g.bindings.Get(name)
}

// Snapshot returns the current bindings for later restore.
func (g *GlobalNames) Snapshot() *NameMap {
	return g.bindings
}

// Restore rewinds the bindings to a snapshot. Register ids allocated
// since remain allocated; only the name visibility rolls back.
func (g *GlobalNames) Restore(snapshot *NameMap) {
	g.bindings = snapshot
}

// Len returns the number of visible bindings.
func (g *GlobalNames) Len() int {
	return g.bindings.Len()
}
