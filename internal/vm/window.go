package vm

import (
	"errors"
	"math/bits"
)

// RegTag identifies which native bank a typed window slot occupies.
type RegTag uint8

const (
	TagNone RegTag = iota
	TagI32
	TagI64
	TagU32
	TagU64
	TagF64
	TagBool
	TagHeap
)

// TypedWindowSize covers every non-spill register id. Spilled registers are
// never held in typed form.
const TypedWindowSize = SpillRegStart

const windowMaskWords = (TypedWindowSize + 63) / 64

var errStaleWindow = errors.New("typed window released through a stale reference")

// Bit masks selecting the frame-shared and frame-private id ranges.
// Globals and module registers are shared across all frames; the
// frame/temp range must never leak between activations.
var (
	windowSharedMask  [windowMaskWords]uint64
	windowPrivateMask [windowMaskWords]uint64
)

func init() {
	for id := 0; id < TypedWindowSize; id++ {
		word, bit := id/64, uint(id%64)
		if id < FrameRegStart || id >= ModuleRegStart {
			windowSharedMask[word] |= 1 << bit
		} else {
			windowPrivateMask[word] |= 1 << bit
		}
	}
}

// TypedWindow is the dual native/boxed storage overlay for one frame's hot
// registers. Each slot is either absent, or live with a type tag selecting
// one of the native banks (or the boxed bank for heap references). A live
// slot whose native value has diverged from the authoritative boxed value
// carries the dirty bit until reconciliation pushes it back.
//
// Slot state machine: absent -> live,clean (Materialize) -> live,dirty
// (typed Store without reconciliation) -> live,clean (Reconcile) -> absent
// (clear outside the shared ranges on release).
type TypedWindow struct {
	generation uint32

	live  [windowMaskWords]uint64
	dirty [windowMaskWords]uint64
	tags  [TypedWindowSize]RegTag

	i32s  [TypedWindowSize]int32
	i64s  [TypedWindowSize]int64
	u32s  [TypedWindowSize]uint32
	u64s  [TypedWindowSize]uint64
	f64s  [TypedWindowSize]float64
	bools [TypedWindowSize]bool
	heaps [TypedWindowSize]Value // boxed backing for heap-tagged slots
}

// Generation distinguishes windows recycled from the free pool; it is
// bumped on every acquire and release.
func (w *TypedWindow) Generation() uint32 { return w.generation }

// Live reports whether the slot presently holds a materialized typed value.
func (w *TypedWindow) Live(id uint16) bool {
	return id < TypedWindowSize && w.live[id/64]&(1<<uint(id%64)) != 0
}

// Dirty reports whether the slot's typed value has diverged from the boxed
// value. Dirty is only ever set while the slot is live.
func (w *TypedWindow) Dirty(id uint16) bool {
	return id < TypedWindowSize && w.dirty[id/64]&(1<<uint(id%64)) != 0
}

// Tag returns the slot's type tag, TagNone if the slot is absent.
func (w *TypedWindow) Tag(id uint16) RegTag {
	if !w.Live(id) {
		return TagNone
	}
	return w.tags[id]
}

func (w *TypedWindow) setLive(id uint16) {
	w.live[id/64] |= 1 << uint(id%64)
}

func (w *TypedWindow) setDirty(id uint16) {
	w.dirty[id/64] |= 1 << uint(id%64)
}

func (w *TypedWindow) clearDirty(id uint16) {
	w.dirty[id/64] &^= 1 << uint(id%64)
}

// ClearSlot makes the slot absent. Clearing live also clears dirty: the
// dirty bit may never outlive the live bit.
func (w *TypedWindow) ClearSlot(id uint16) {
	if id >= TypedWindowSize {
		return
	}
	word, bit := id/64, uint(id%64)
	w.live[word] &^= 1 << bit
	w.dirty[word] &^= 1 << bit
	w.tags[id] = TagNone
	w.heaps[id] = Value{}
}

// Materialize seeds a slot from its authoritative boxed value. The slot
// becomes live and clean: typed and boxed views agree at this point.
func (w *TypedWindow) Materialize(id uint16, v Value) {
	if id >= TypedWindowSize {
		return
	}
	switch v.Type {
	case ValBool:
		w.bools[id] = v.AsBool()
		w.tags[id] = TagBool
	case ValI32:
		w.i32s[id] = v.AsI32()
		w.tags[id] = TagI32
	case ValI64:
		w.i64s[id] = v.AsI64()
		w.tags[id] = TagI64
	case ValU32:
		w.u32s[id] = v.AsU32()
		w.tags[id] = TagU32
	case ValU64:
		w.u64s[id] = v.AsU64()
		w.tags[id] = TagU64
	case ValF64:
		w.f64s[id] = v.AsF64()
		w.tags[id] = TagF64
	case ValObj:
		w.heaps[id] = v
		w.tags[id] = TagHeap
	}
	w.setLive(id)
	w.clearDirty(id)
}

// Typed stores. Each records a typed mutation: the slot becomes live and
// dirty until the next reconciliation writes the value back to the boxed
// bank.

func (w *TypedWindow) StoreI32(id uint16, v int32) {
	if id >= TypedWindowSize {
		return
	}
	w.i32s[id] = v
	w.tags[id] = TagI32
	w.setLive(id)
	w.setDirty(id)
}

func (w *TypedWindow) StoreI64(id uint16, v int64) {
	if id >= TypedWindowSize {
		return
	}
	w.i64s[id] = v
	w.tags[id] = TagI64
	w.setLive(id)
	w.setDirty(id)
}

func (w *TypedWindow) StoreU32(id uint16, v uint32) {
	if id >= TypedWindowSize {
		return
	}
	w.u32s[id] = v
	w.tags[id] = TagU32
	w.setLive(id)
	w.setDirty(id)
}

func (w *TypedWindow) StoreU64(id uint16, v uint64) {
	if id >= TypedWindowSize {
		return
	}
	w.u64s[id] = v
	w.tags[id] = TagU64
	w.setLive(id)
	w.setDirty(id)
}

func (w *TypedWindow) StoreF64(id uint16, v float64) {
	if id >= TypedWindowSize {
		return
	}
	w.f64s[id] = v
	w.tags[id] = TagF64
	w.setLive(id)
	w.setDirty(id)
}

func (w *TypedWindow) StoreBool(id uint16, v bool) {
	if id >= TypedWindowSize {
		return
	}
	w.bools[id] = v
	w.tags[id] = TagBool
	w.setLive(id)
	w.setDirty(id)
}

// StoreHeap records a heap reference in the window's boxed backing array.
// Heap slots never occupy a native bank.
func (w *TypedWindow) StoreHeap(id uint16, v Value) {
	if id >= TypedWindowSize {
		return
	}
	w.heaps[id] = v
	w.tags[id] = TagHeap
	w.setLive(id)
	w.setDirty(id)
}

// Typed loads. The caller must have checked Live and Tag.

func (w *TypedWindow) LoadI32(id uint16) int32   { return w.i32s[id] }
func (w *TypedWindow) LoadI64(id uint16) int64   { return w.i64s[id] }
func (w *TypedWindow) LoadU32(id uint16) uint32  { return w.u32s[id] }
func (w *TypedWindow) LoadU64(id uint16) uint64  { return w.u64s[id] }
func (w *TypedWindow) LoadF64(id uint16) float64 { return w.f64s[id] }
func (w *TypedWindow) LoadBool(id uint16) bool   { return w.bools[id] }
func (w *TypedWindow) LoadHeap(id uint16) Value  { return w.heaps[id] }

// Box converts the slot's native value back into a boxed Value.
func (w *TypedWindow) Box(id uint16) Value {
	switch w.tags[id] {
	case TagI32:
		return I32Val(w.i32s[id])
	case TagI64:
		return I64Val(w.i64s[id])
	case TagU32:
		return U32Val(w.u32s[id])
	case TagU64:
		return U64Val(w.u64s[id])
	case TagF64:
		return F64Val(w.f64s[id])
	case TagBool:
		return BoolVal(w.bools[id])
	case TagHeap:
		return w.heaps[id]
	default:
		return BoolVal(false)
	}
}

// reset empties every slot. Used when a window is taken from the pool.
func (w *TypedWindow) reset() {
	w.live = [windowMaskWords]uint64{}
	w.dirty = [windowMaskWords]uint64{}
	for i := range w.heaps {
		w.heaps[i] = Value{}
		w.tags[i] = TagNone
	}
}

// copySlot transfers one live slot from src, preserving its dirty state.
func (w *TypedWindow) copySlot(src *TypedWindow, id uint16) {
	tag := src.tags[id]
	w.tags[id] = tag
	switch tag {
	case TagI32:
		w.i32s[id] = src.i32s[id]
	case TagI64:
		w.i64s[id] = src.i64s[id]
	case TagU32:
		w.u32s[id] = src.u32s[id]
	case TagU64:
		w.u64s[id] = src.u64s[id]
	case TagF64:
		w.f64s[id] = src.f64s[id]
	case TagBool:
		w.bools[id] = src.bools[id]
	case TagHeap:
		w.heaps[id] = src.heaps[id]
	}
	w.setLive(id)
	if src.Dirty(id) {
		w.setDirty(id)
	} else {
		w.clearDirty(id)
	}
}

// copyShared copies every live shared-range slot (globals and module
// registers) from src into w, dirty state included.
func (w *TypedWindow) copyShared(src *TypedWindow) {
	for word := 0; word < windowMaskWords; word++ {
		pending := src.live[word] & windowSharedMask[word]
		for pending != 0 {
			bit := bits.TrailingZeros64(pending)
			pending &^= 1 << uint(bit)
			w.copySlot(src, uint16(word*64+bit))
		}
	}
}

// clearPrivate marks every frame-private slot absent, defending against
// stale pool contents leaking between unrelated calls.
func (w *TypedWindow) clearPrivate() {
	for word := 0; word < windowMaskWords; word++ {
		pending := w.live[word] & windowPrivateMask[word]
		for pending != 0 {
			bit := bits.TrailingZeros64(pending)
			pending &^= 1 << uint(bit)
			w.ClearSlot(uint16(word*64 + bit))
		}
		// Defensive wipe even for slots that were not live.
		w.live[word] &^= windowPrivateMask[word]
		w.dirty[word] &^= windowPrivateMask[word]
	}
}

// windowRef identifies a pooled window by index plus the generation it was
// handed out under. A release through a stale generation is detected
// instead of silently recycling another frame's window.
type windowRef struct {
	index      int
	generation uint32
}

// windowPool is an explicit arena of typed windows with a free index stack.
type windowPool struct {
	windows []*TypedWindow
	free    []int
	nextGen uint32
}

func newWindowPool(prealloc int) *windowPool {
	p := &windowPool{}
	for i := 0; i < prealloc; i++ {
		p.windows = append(p.windows, &TypedWindow{})
		p.free = append(p.free, i)
	}
	return p
}

// acquire takes a window from the pool, allocating a new one only when the
// free stack is empty. The window comes back empty with a fresh generation.
func (p *windowPool) acquire() (*TypedWindow, windowRef) {
	var index int
	if n := len(p.free); n > 0 {
		index = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		index = len(p.windows)
		p.windows = append(p.windows, &TypedWindow{})
	}

	w := p.windows[index]
	w.reset()
	p.nextGen++
	w.generation = p.nextGen
	return w, windowRef{index: index, generation: w.generation}
}

// release returns a window to the pool. The generation is bumped so any
// outstanding reference to this hand-out becomes detectably stale.
func (p *windowPool) release(ref windowRef) error {
	w, ok := p.resolve(ref)
	if !ok {
		return errStaleWindow
	}
	w.generation++
	p.free = append(p.free, ref.index)
	return nil
}

// resolve maps a reference back to its window, failing on generation
// mismatch (use-after-release) or out-of-range index.
func (p *windowPool) resolve(ref windowRef) (*TypedWindow, bool) {
	if ref.index < 0 || ref.index >= len(p.windows) {
		return nil, false
	}
	w := p.windows[ref.index]
	if w.generation != ref.generation {
		return nil, false
	}
	return w, true
}
