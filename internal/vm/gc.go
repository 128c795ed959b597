package vm

import (
	"fmt"
	"os"
	"time"
	"unsafe"
)

// GCStats describes one completed collection. Observers (telemetry,
// traces) receive a copy after every cycle.
type GCStats struct {
	Cycle       uint64
	BytesBefore int
	BytesAfter  int
	Freed       int
	Live        int // objects surviving the sweep
	FreedByKind map[ObjKind]int
	Duration    time.Duration
}

// SetCollectionObserver installs a hook invoked after every collection.
func (vm *VM) SetCollectionObserver(fn func(GCStats)) {
	vm.observer = fn
}

// BytesAllocated returns the heap accounting counter.
func (vm *VM) BytesAllocated() int { return vm.bytesAllocated }

// GCThreshold returns the byte count that triggers the next collection.
func (vm *VM) GCThreshold() int { return vm.gcThreshold }

// Collections returns the number of completed collection cycles.
func (vm *VM) Collections() uint64 { return vm.gcCount }

// PauseGC suspends collection; calls nest.
func (vm *VM) PauseGC() { vm.gcPauseDepth++ }

// ResumeGC re-enables collection after a matching PauseGC.
func (vm *VM) ResumeGC() {
	if vm.gcPauseDepth > 0 {
		vm.gcPauseDepth--
	}
}

// GCPaused reports whether collection is currently suspended.
func (vm *VM) GCPaused() bool { return vm.gcPauseDepth > 0 }

// LiveObjectCount walks the live-object list. Diagnostics and tests only.
func (vm *VM) LiveObjectCount() int {
	n := 0
	for obj := vm.objects; obj != nil; obj = obj.header().next {
		n++
	}
	return n
}

// FreeListLen returns the number of pooled dead objects of one kind.
func (vm *VM) FreeListLen(kind ObjKind) int {
	return len(vm.freeObjects[kind])
}

// ObjectLive reports whether o is still linked in the live-object list.
// Diagnostics and tests only; O(live objects).
func (vm *VM) ObjectLive(o Object) bool {
	for obj := vm.objects; obj != nil; obj = obj.header().next {
		if obj == o {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// maybeCollect runs the collector when the accounting counter has crossed
// the threshold. It runs before the next object is linked so a collection
// can never sweep a value the caller has not rooted yet.
func (vm *VM) maybeCollect() {
	if vm.gcPauseDepth == 0 && vm.bytesAllocated > vm.gcThreshold {
		vm.Collect()
	}
}

// adopt initializes a header and links the object into the live list.
func (vm *VM) adopt(o Object, kind ObjKind, size int) {
	h := o.header()
	h.kind = kind
	h.marked = false
	h.next = vm.objects
	vm.objects = o
	vm.bytesAllocated += size
}

// take pops a pooled object of the given kind, or returns nil when the
// pool is empty and a fresh allocation is needed.
func (vm *VM) take(kind ObjKind) Object {
	pool := vm.freeObjects[kind]
	n := len(pool)
	if n == 0 {
		return nil
	}
	o := pool[n-1]
	vm.freeObjects[kind] = pool[:n-1]
	return o
}

func objectSize(o Object) int {
	switch obj := o.(type) {
	case *ObjString:
		return int(unsafe.Sizeof(*obj)) + len(obj.Chars)
	case *ObjArray:
		return int(unsafe.Sizeof(*obj)) + cap(obj.Elements)*int(unsafe.Sizeof(Value{}))
	case *ObjByteBuffer:
		return int(unsafe.Sizeof(*obj)) + cap(obj.Bytes)
	case *ObjEnumInstance:
		return int(unsafe.Sizeof(*obj))
	case *ObjError:
		return int(unsafe.Sizeof(*obj))
	case *ObjRangeIterator:
		return int(unsafe.Sizeof(*obj))
	case *ObjArrayIterator:
		return int(unsafe.Sizeof(*obj))
	case *ObjFile:
		return int(unsafe.Sizeof(*obj))
	case *ObjFunction:
		return int(unsafe.Sizeof(*obj))
	case *ObjClosure:
		return int(unsafe.Sizeof(*obj)) + cap(obj.Upvalues)*int(unsafe.Sizeof(uintptr(0)))
	case *ObjUpvalue:
		return int(unsafe.Sizeof(*obj))
	default:
		return 0
	}
}

// AllocateString allocates a heap string.
func (vm *VM) AllocateString(chars string) *ObjString {
	vm.maybeCollect()
	s, _ := vm.take(KindString).(*ObjString)
	if s == nil {
		s = &ObjString{}
	}
	s.Chars = chars
	s.hash = 0
	vm.adopt(s, KindString, int(unsafe.Sizeof(*s))+len(chars))
	return s
}

// AllocateArray allocates an array with the given capacity.
func (vm *VM) AllocateArray(capacity int) *ObjArray {
	vm.maybeCollect()
	if capacity <= 0 {
		capacity = 8
	}
	a, _ := vm.take(KindArray).(*ObjArray)
	if a == nil {
		a = &ObjArray{}
	}
	if cap(a.Elements) < capacity {
		a.Elements = make([]Value, 0, capacity)
	} else {
		a.Elements = a.Elements[:0]
	}
	vm.adopt(a, KindArray, objectSize(a))
	return a
}

// AllocateByteBuffer allocates byte storage of the given size.
func (vm *VM) AllocateByteBuffer(size int) *ObjByteBuffer {
	vm.maybeCollect()
	b, _ := vm.take(KindByteBuffer).(*ObjByteBuffer)
	if b == nil {
		b = &ObjByteBuffer{}
	}
	if cap(b.Bytes) < size {
		b.Bytes = make([]byte, size)
	} else {
		b.Bytes = b.Bytes[:size]
		for i := range b.Bytes {
			b.Bytes[i] = 0
		}
	}
	vm.adopt(b, KindByteBuffer, objectSize(b))
	return b
}

// AllocateEnumInstance allocates one constructed enum variant.
func (vm *VM) AllocateEnumInstance(typeName, variantName *ObjString, variantIndex int, payload *ObjArray) *ObjEnumInstance {
	vm.maybeCollect()
	e, _ := vm.take(KindEnumInstance).(*ObjEnumInstance)
	if e == nil {
		e = &ObjEnumInstance{}
	}
	e.TypeName = typeName
	e.VariantName = variantName
	e.VariantIndex = variantIndex
	e.Payload = payload
	vm.adopt(e, KindEnumInstance, int(unsafe.Sizeof(*e)))
	return e
}

// AllocateError allocates a runtime error value. The message becomes a
// heap string owned by the error.
func (vm *VM) AllocateError(kind ErrorKind, message, file string, line, column int) *ObjError {
	// The message string allocation can trigger a collection; pin nothing
	// yet, the error object does not exist.
	msg := vm.AllocateString(message)
	vm.PauseGC() // msg has no root until the error is linked
	e, _ := vm.take(KindError).(*ObjError)
	if e == nil {
		e = &ObjError{}
	}
	e.Err = kind
	e.Message = msg
	e.File = file
	e.Line = line
	e.Column = column
	vm.adopt(e, KindError, int(unsafe.Sizeof(*e)))
	vm.ResumeGC()
	return e
}

// AllocateRangeIterator allocates an integer range iterator.
func (vm *VM) AllocateRangeIterator(start, end, step int64) *ObjRangeIterator {
	vm.maybeCollect()
	it, _ := vm.take(KindRangeIterator).(*ObjRangeIterator)
	if it == nil {
		it = &ObjRangeIterator{}
	}
	it.Current = start
	it.End = end
	it.Step = step
	vm.adopt(it, KindRangeIterator, int(unsafe.Sizeof(*it)))
	return it
}

// AllocateArrayIterator allocates an iterator over an array.
func (vm *VM) AllocateArrayIterator(array *ObjArray) *ObjArrayIterator {
	vm.maybeCollect()
	it, _ := vm.take(KindArrayIterator).(*ObjArrayIterator)
	if it == nil {
		it = &ObjArrayIterator{}
	}
	it.Array = array
	it.Index = 0
	vm.adopt(it, KindArrayIterator, int(unsafe.Sizeof(*it)))
	return it
}

// AllocateFile allocates a file handle object; the path becomes a heap
// string kept alive with the handle.
func (vm *VM) AllocateFile(path string, handle *os.File) *ObjFile {
	p := vm.AllocateString(path)
	vm.PauseGC() // p has no root until the file object is linked
	f, _ := vm.take(KindFile).(*ObjFile)
	if f == nil {
		f = &ObjFile{}
	}
	f.Path = p
	f.Handle = handle
	f.Closed = false
	vm.adopt(f, KindFile, int(unsafe.Sizeof(*f)))
	vm.ResumeGC()
	return f
}

// AllocateFunction allocates a function object around a chunk.
func (vm *VM) AllocateFunction(arity int, chunk *Chunk, name *ObjString) *ObjFunction {
	vm.maybeCollect()
	f, _ := vm.take(KindFunction).(*ObjFunction)
	if f == nil {
		f = &ObjFunction{}
	}
	f.Arity = arity
	f.UpvalueCount = 0
	f.Chunk = chunk
	f.Name = name
	vm.adopt(f, KindFunction, int(unsafe.Sizeof(*f)))
	return f
}

// AllocateClosure allocates a closure over a function. Upvalue slots are
// sized to the function's upvalue count and filled by the caller.
func (vm *VM) AllocateClosure(fn *ObjFunction) *ObjClosure {
	vm.maybeCollect()
	c, _ := vm.take(KindClosure).(*ObjClosure)
	if c == nil {
		c = &ObjClosure{}
	}
	c.Function = fn
	if cap(c.Upvalues) < fn.UpvalueCount {
		c.Upvalues = make([]*ObjUpvalue, fn.UpvalueCount)
	} else {
		c.Upvalues = c.Upvalues[:fn.UpvalueCount]
		for i := range c.Upvalues {
			c.Upvalues[i] = nil
		}
	}
	vm.adopt(c, KindClosure, objectSize(c))
	return c
}

// AllocateUpvalue allocates an open upvalue for a register slot.
func (vm *VM) AllocateUpvalue(slot int) *ObjUpvalue {
	vm.maybeCollect()
	u, _ := vm.take(KindUpvalue).(*ObjUpvalue)
	if u == nil {
		u = &ObjUpvalue{}
	}
	u.Slot = slot
	u.Closed = BoolVal(false)
	u.Next = nil
	vm.adopt(u, KindUpvalue, int(unsafe.Sizeof(*u)))
	return u
}

// ---------------------------------------------------------------------------
// Mark phase
// ---------------------------------------------------------------------------

func markValue(v Value) {
	if v.IsObj() {
		markObject(v.Obj)
	}
}

// markObject marks o and recurses through its heap-typed fields. Marking
// an already-marked object is a no-op, which also terminates cycles.
func markObject(o Object) {
	if o == nil {
		return
	}
	h := o.header()
	if h.marked {
		return
	}
	h.marked = true

	switch obj := o.(type) {
	case *ObjString, *ObjByteBuffer, *ObjRangeIterator:
		// No heap-typed fields.
	case *ObjArray:
		for _, el := range obj.Elements {
			markValue(el)
		}
	case *ObjEnumInstance:
		markObjectString(obj.TypeName)
		markObjectString(obj.VariantName)
		if obj.Payload != nil {
			markObject(obj.Payload)
		}
	case *ObjError:
		markObjectString(obj.Message)
	case *ObjArrayIterator:
		if obj.Array != nil {
			markObject(obj.Array)
		}
	case *ObjFile:
		markObjectString(obj.Path)
	case *ObjFunction:
		markObjectString(obj.Name)
		if obj.Chunk != nil {
			for _, c := range obj.Chunk.Constants {
				markValue(c)
			}
		}
	case *ObjClosure:
		if obj.Function != nil {
			markObject(obj.Function)
		}
		for _, uv := range obj.Upvalues {
			if uv != nil {
				markObject(uv)
			}
		}
	case *ObjUpvalue:
		markValue(obj.Closed)
	}
}

// A nil *ObjString boxed into the Object interface is not interface-nil,
// so string fields go through this guard.
func markObjectString(s *ObjString) {
	if s != nil {
		markObject(s)
	}
}

// markWindow marks the heap-tagged slots of a typed window. Native-typed
// slots carry no heap references.
func markWindow(w *TypedWindow) {
	if w == nil {
		return
	}
	for id := uint16(0); id < TypedWindowSize; id++ {
		if w.Live(id) && w.tags[id] == TagHeap {
			markValue(w.heaps[id])
		}
	}
}

// markRoots enumerates every reference the collector must treat as
// inherently reachable. Missing any of these turns into a use-after-free
// once the object is reused, so the list is exhaustive by construction.
func (vm *VM) markRoots() {
	rf := vm.rf

	// Global registers.
	for i := range rf.globals {
		markValue(rf.globals[i])
	}

	// Every active frame: boxed registers, boxed temps, typed window.
	for f := rf.current; f != nil; f = f.parent {
		for i := range f.registers {
			markValue(f.registers[i])
		}
		for i := range f.temps {
			markValue(f.temps[i])
		}
		markWindow(f.window)
	}

	// Root-level window and temp bank (used when no frame is active).
	markWindow(rf.RootWindow())
	for i := range rf.rootTemps {
		markValue(rf.rootTemps[i])
	}

	// Every live spill entry.
	rf.spill.Visit(func(_ uint16, v Value) {
		markValue(v)
	})

	// The executing chunk and every registered function's chunk: functions
	// stay reachable even when not on the call stack.
	if vm.chunk != nil {
		for _, c := range vm.chunk.Constants {
			markValue(c)
		}
	}
	for i := range vm.functions {
		if ch := vm.functions[i].Chunk; ch != nil {
			for _, c := range ch.Constants {
				markValue(c)
			}
		}
	}

	// The legacy flat mirror.
	for i := range vm.registers {
		markValue(vm.registers[i])
	}

	// Last reported error, open upvalues, module names, native names.
	markValue(vm.lastError)
	for uv := vm.openUpvalues; uv != nil; uv = uv.Next {
		markObject(uv)
	}
	for _, s := range vm.loadedModules {
		markObjectString(s)
	}
	for _, s := range vm.loadingModules {
		markObjectString(s)
	}
	for i := range vm.natives {
		markObjectString(vm.natives[i].Name)
	}
}

// ---------------------------------------------------------------------------
// Sweep phase
// ---------------------------------------------------------------------------

// sweep walks the live-object list, unlinking every unmarked object onto
// its kind's free stack and clearing survivor marks for the next cycle.
func (vm *VM) sweep() (int, int, map[ObjKind]int) {
	freed, live := 0, 0
	byKind := make(map[ObjKind]int)

	link := &vm.objects
	for *link != nil {
		obj := *link
		h := obj.header()
		if h.marked {
			h.marked = false
			live++
			link = &h.next
			continue
		}

		*link = h.next
		h.next = nil
		vm.releaseObject(obj)
		freed++
		byKind[h.kind]++
	}
	return freed, live, byKind
}

// releaseObject accounts for the freed bytes and returns the object to its
// kind's pool for reuse by the next allocation.
func (vm *VM) releaseObject(o Object) {
	vm.bytesAllocated -= objectSize(o)
	if vm.bytesAllocated < 0 {
		vm.bytesAllocated = 0
	}

	switch obj := o.(type) {
	case *ObjFile:
		if obj.Handle != nil && !obj.Closed {
			obj.Handle.Close()
			obj.Closed = true
		}
		obj.Handle = nil
		obj.Path = nil
	case *ObjString:
		obj.Chars = ""
		obj.hash = 0
	case *ObjArray:
		obj.Elements = obj.Elements[:0]
	case *ObjEnumInstance:
		obj.TypeName = nil
		obj.VariantName = nil
		obj.Payload = nil
	case *ObjError:
		obj.Message = nil
	case *ObjArrayIterator:
		obj.Array = nil
	case *ObjFunction:
		obj.Chunk = nil
		obj.Name = nil
	case *ObjClosure:
		obj.Function = nil
		for i := range obj.Upvalues {
			obj.Upvalues[i] = nil
		}
	case *ObjUpvalue:
		obj.Closed = BoolVal(false)
		obj.Next = nil
	}

	kind := o.header().kind
	vm.freeObjects[kind] = append(vm.freeObjects[kind], o)
}

// Collect runs one full mark-and-sweep cycle. It is a no-op while paused.
// The active typed window is reconciled first so a value that exists only
// in typed form cannot be missed.
func (vm *VM) Collect() {
	if vm.gcPauseDepth > 0 {
		return
	}
	start := time.Now()
	before := vm.bytesAllocated

	vm.rf.Reconcile()
	vm.markRoots()
	freed, live, byKind := vm.sweep()

	vm.gcThreshold = int(float64(vm.bytesAllocated) * vm.gcGrowth)
	vm.gcCount++

	stats := GCStats{
		Cycle:       vm.gcCount,
		BytesBefore: before,
		BytesAfter:  vm.bytesAllocated,
		Freed:       freed,
		Live:        live,
		FreedByKind: byKind,
		Duration:    time.Since(start),
	}
	if vm.TraceGC {
		fmt.Fprintf(os.Stderr, "[gc] cycle %d: %d -> %d bytes, freed %d objects in %s\n",
			stats.Cycle, stats.BytesBefore, stats.BytesAfter, stats.Freed, stats.Duration)
	}
	if vm.observer != nil {
		vm.observer(stats)
	}
}
