package vm

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
)

var (
	errStackOverflow  = errors.New("stack overflow: call frame pool exhausted")
	errNoActiveFrame  = errors.New("no active call frame")
	errGlobalsFull    = errors.New("global register bank exhausted")
	errFrameRegsFull  = errors.New("frame register bank exhausted")
	errNoTempScope    = errors.New("no open temp scope")
	errUnwindTooDeep  = errors.New("unwind target exceeds current call depth")
)

// RegisterFile coordinates every register bank: the globals, the call frame
// stack, the temp banks, the spill table, the module routing, and the
// binding to the currently active typed window.
//
// Read and Write are total over all 16-bit ids: an id outside every
// declared range resolves deterministically into the global bank modulo its
// size instead of failing. That fallback can mask a code-generator bug, so
// it is logged when fallback tracing is on.
type RegisterFile struct {
	globals   [GlobalRegisters]Value
	rootTemps [TempRegisters]Value

	// legacy is the flat mirror array owned by the VM. Invariant: always
	// kept equal to the authoritative bank for every id it covers. It is a
	// migration-compatibility shim; remove once every consumer is
	// range-aware.
	legacy *[RegisterCount]Value

	frames     []CallFrame
	freeFrames []int
	current    *CallFrame
	depth      int

	pool      *windowPool
	rootRef   windowRef
	activeWin *TypedWindow
	activeRef windowRef

	spill   *SpillTable
	modules ModuleRegistry

	traceFallback bool

	// Allocator state for the code-generator boundary.
	globalCount int
	nextTemp    uint8
	tempScopes  []uint8
}

// newRegisterFile wires a register file over the given legacy mirror. The
// frame pool is fully allocated up front so push/pop never hits the Go
// allocator in the steady state.
func newRegisterFile(legacy *[RegisterCount]Value, maxDepth, windowPrealloc, spillCapacity int) *RegisterFile {
	if maxDepth <= 0 {
		maxDepth = MaxCallFrames
	}
	rf := &RegisterFile{
		legacy: legacy,
		frames: make([]CallFrame, maxDepth),
		pool:   newWindowPool(windowPrealloc),
		spill:  NewSpillTableSize(spillCapacity),
	}
	for i := range rf.globals {
		rf.globals[i] = BoolVal(false)
	}
	for i := range rf.rootTemps {
		rf.rootTemps[i] = BoolVal(false)
	}
	rf.freeFrames = make([]int, 0, maxDepth)
	for i := maxDepth - 1; i >= 0; i-- {
		rf.frames[i].poolIndex = i
		rf.freeFrames = append(rf.freeFrames, i)
	}

	// The root window is permanently acquired; it serves whenever no frame
	// is active.
	root, rootRef := rf.pool.acquire()
	rf.rootRef = rootRef
	rf.activeWin = root
	rf.activeRef = rootRef
	return rf
}

// SetModuleRegistry attaches the module register routing target.
func (rf *RegisterFile) SetModuleRegistry(m ModuleRegistry) {
	rf.modules = m
}

// CurrentFrame returns the active frame, nil when none is pushed.
func (rf *RegisterFile) CurrentFrame() *CallFrame { return rf.current }

// Depth returns the number of active call frames.
func (rf *RegisterFile) Depth() int { return rf.depth }

// ActiveWindow returns the typed window reads and writes are bound to: the
// current frame's window, or the root window when no frame is active.
func (rf *RegisterFile) ActiveWindow() *TypedWindow { return rf.activeWin }

// RootWindow returns the persistent window used when no frame is active.
func (rf *RegisterFile) RootWindow() *TypedWindow {
	w, _ := rf.pool.resolve(rf.rootRef)
	return w
}

// Spill exposes the spill table.
func (rf *RegisterFile) Spill() *SpillTable { return rf.spill }

// activeTemps selects the temp bank reads and writes are bound to.
func (rf *RegisterFile) activeTemps() *[TempRegisters]Value {
	if rf.current != nil {
		return &rf.current.temps
	}
	return &rf.rootTemps
}

// RootTemp returns the root-level temp at the given offset (used when no
// frame is active; the collector treats the whole bank as roots).
func (rf *RegisterFile) RootTemp(offset uint16) Value {
	return rf.rootTemps[offset]
}

// fallback resolves an id that missed every routed range. Deterministic by
// contract: the global bank modulo its size.
func (rf *RegisterFile) fallback(id uint16) uint16 {
	if rf.traceFallback {
		fmt.Fprintf(os.Stderr, "[regfile] id %d outside routed ranges, falling back to global %d\n",
			id, id%GlobalRegisters)
	}
	return id % GlobalRegisters
}

// Read returns the value stored under any 16-bit register id.
func (rf *RegisterFile) Read(id uint16) Value {
	// Global registers (0-255)
	if id < FrameRegStart {
		return rf.globals[id]
	}

	// Frame registers (256-319)
	if id < TempRegStart {
		if rf.current != nil {
			return rf.current.registers[id-FrameRegStart]
		}
		// No frame yet: the legacy mirror keeps bootstrap reads defined.
		return rf.legacy[id]
	}

	// Temp registers (320-351)
	if id < ModuleRegStart {
		return rf.activeTemps()[id-TempRegStart]
	}

	// Module registers (352-479)
	if id < SpillRegStart {
		if rf.modules != nil {
			moduleID, offset := DecomposeModuleRegister(id)
			if v, ok := rf.modules.GetRegister(moduleID, offset); ok {
				return v
			}
		}
		return rf.legacy[id]
	}

	// Spilled registers (480+)
	if v, ok := rf.spill.Get(id); ok {
		return v
	}
	if int(id) < RegisterCount {
		return rf.legacy[id]
	}
	return rf.globals[rf.fallback(id)]
}

// Write stores a value under any 16-bit register id. Global, frame, temp,
// and module writes are mirrored into the legacy flat array so code still
// reading through it stays consistent.
func (rf *RegisterFile) Write(id uint16, v Value) {
	// Global registers (0-255)
	if id < FrameRegStart {
		rf.globals[id] = v
		rf.legacy[id] = v
		return
	}

	// Frame registers (256-319)
	if id < TempRegStart {
		if rf.current != nil {
			rf.current.registers[id-FrameRegStart] = v
		}
		rf.legacy[id] = v
		return
	}

	// Temp registers (320-351)
	if id < ModuleRegStart {
		rf.activeTemps()[id-TempRegStart] = v
		rf.legacy[id] = v
		return
	}

	// Module registers (352-479)
	if id < SpillRegStart {
		stored := false
		if rf.modules != nil {
			moduleID, offset := DecomposeModuleRegister(id)
			stored = rf.modules.SetRegister(moduleID, offset, v)
		}
		_ = stored // registry miss still lands in the mirror below
		rf.legacy[id] = v
		return
	}

	// Spilled registers (480+). Table writes may grow the spill table.
	rf.spill.Set(id, v)
}

// ---------------------------------------------------------------------------
// Frame lifecycle
// ---------------------------------------------------------------------------

// PushFrame activates a new call frame drawn from the pool. It fails with a
// stack-overflow error when the pool is exhausted. The new frame's typed
// window inherits the live shared-range slots (globals, module registers)
// of the window it shadows; its private range starts empty.
func (rf *RegisterFile) PushFrame() (*CallFrame, error) {
	n := len(rf.freeFrames)
	if n == 0 {
		return nil, errStackOverflow
	}
	idx := rf.freeFrames[n-1]
	rf.freeFrames = rf.freeFrames[:n-1]

	f := &rf.frames[idx]
	f.resetStorage()
	f.parent = rf.current
	f.prevWindowRef = rf.activeRef

	w, ref := rf.pool.acquire()
	w.copyShared(rf.activeWin)
	w.clearPrivate()
	f.window = w
	f.windowRef = ref

	rf.current = f
	rf.activeWin = w
	rf.activeRef = ref
	rf.depth++
	return f, nil
}

// PopFrame deactivates the current frame: its typed window's live
// shared-range slots merge back into the window it shadowed (so typed
// mutations of globals and module registers stay visible to the caller),
// bindings are restored, and the frame returns to the pool scrubbed.
func (rf *RegisterFile) PopFrame() error {
	f := rf.current
	if f == nil {
		return errNoActiveFrame
	}

	parentWin, ok := rf.pool.resolve(f.prevWindowRef)
	if !ok {
		return errStaleWindow
	}
	parentWin.copyShared(f.window)
	if err := rf.pool.release(f.windowRef); err != nil {
		return err
	}

	rf.current = f.parent
	rf.activeWin = parentWin
	rf.activeRef = f.prevWindowRef
	rf.depth--

	f.resetStorage()
	f.resetMetadata()
	rf.freeFrames = append(rf.freeFrames, f.poolIndex)
	return nil
}

// UnwindTo pops frames until the given call depth, used by error
// propagation to tear a call chain down without running each return.
func (rf *RegisterFile) UnwindTo(depth int) error {
	if depth > rf.depth {
		return errUnwindTooDeep
	}
	for rf.depth > depth {
		if err := rf.PopFrame(); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Typed window reconciliation
// ---------------------------------------------------------------------------

// Reconcile pushes every dirty slot of the active typed window back through
// the ordinary write path and clears the dirty bits. Cost is proportional
// to the number of dirty slots, not the window capacity: the dirty bitmask
// is scanned word at a time.
//
// Callers must run this before any operation that needs the boxed view:
// generic opcodes, collector root marking, spilling, printing, crossing
// into the module registry.
func (rf *RegisterFile) Reconcile() {
	w := rf.activeWin
	if w == nil {
		return
	}
	for word := 0; word < windowMaskWords; word++ {
		pending := w.dirty[word]
		for pending != 0 {
			bit := bits.TrailingZeros64(pending)
			pending &^= 1 << uint(bit)
			id := uint16(word*64 + bit)
			rf.Write(id, w.Box(id))
			w.clearDirty(id)
		}
	}
}

// ---------------------------------------------------------------------------
// Allocator boundary for the code generator
// ---------------------------------------------------------------------------

// AllocateGlobalRegister hands out the next unused global register id.
func (rf *RegisterFile) AllocateGlobalRegister() (uint16, error) {
	if rf.globalCount >= GlobalRegisters {
		return 0, errGlobalsFull
	}
	id := uint16(rf.globalCount)
	rf.globalCount++
	return id, nil
}

// AllocateFrameRegister hands out the next unused register of the active
// frame. With 64 registers per frame exhaustion is rare; callers spill on
// failure.
func (rf *RegisterFile) AllocateFrameRegister() (uint16, error) {
	if rf.current == nil {
		return 0, errNoActiveFrame
	}
	if rf.current.registerCount >= FrameRegisters {
		return 0, errFrameRegsFull
	}
	id := FrameRegStart + rf.current.registerCount
	rf.current.registerCount++
	return id, nil
}

// AllocateTempRegister hands out a scratch register. Temps wrap around,
// assuming short-lived usage.
func (rf *RegisterFile) AllocateTempRegister() uint16 {
	if rf.nextTemp >= TempRegisters {
		rf.nextTemp = 0
	}
	id := TempRegStart + uint16(rf.nextTemp)
	rf.nextTemp++
	return id
}

// BeginTempScope marks the temp high-water mark so EndTempScope can hand
// the scratch registers allocated since back in one step.
func (rf *RegisterFile) BeginTempScope() {
	rf.tempScopes = append(rf.tempScopes, rf.nextTemp)
}

// EndTempScope releases every temp allocated since the matching
// BeginTempScope.
func (rf *RegisterFile) EndTempScope() error {
	n := len(rf.tempScopes)
	if n == 0 {
		return errNoTempScope
	}
	rf.nextTemp = rf.tempScopes[n-1]
	rf.tempScopes = rf.tempScopes[:n-1]
	return nil
}

// AllocateSpilled stores a value beyond the fixed register space and
// returns its synthetic id.
func (rf *RegisterFile) AllocateSpilled(v Value) uint16 {
	return rf.spill.Spill(v)
}

// ReserveSpill pins a caller-chosen spill id, used for parameter binding.
func (rf *RegisterFile) ReserveSpill(id uint16) {
	rf.spill.Reserve(id)
}

// Stats reports occupancy counters for diagnostics.
type Stats struct {
	GlobalsAllocated int
	FrameRegsUsed    int
	SpilledCount     int
	SpillCapacity    int
	Depth            int
	WindowPoolSize   int
}

// Stats snapshots the register file's occupancy.
func (rf *RegisterFile) Stats() Stats {
	s := Stats{
		GlobalsAllocated: rf.globalCount,
		SpilledCount:     rf.spill.Len(),
		SpillCapacity:    rf.spill.Capacity(),
		Depth:            rf.depth,
		WindowPoolSize:   len(rf.pool.windows),
	}
	if rf.current != nil {
		s.FrameRegsUsed = int(rf.current.registerCount)
	}
	return s
}
