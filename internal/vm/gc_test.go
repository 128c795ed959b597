package vm

import (
	"fmt"
	"testing"

	"github.com/jordyorel/orus-lang-sub001/internal/config"
)

func TestCollectSweepsUnreachable(t *testing.T) {
	machine := newTestVM()
	defer machine.Close()

	for i := 0; i < 10; i++ {
		machine.AllocateString(fmt.Sprintf("garbage-%d", i))
	}
	if got := machine.LiveObjectCount(); got != 10 {
		t.Fatalf("live objects before collect = %d, want 10", got)
	}

	machine.Collect()

	if got := machine.LiveObjectCount(); got != 0 {
		t.Errorf("live objects after collect = %d, want 0", got)
	}
	if got := machine.FreeListLen(KindString); got != 10 {
		t.Errorf("string free list = %d, want 10", got)
	}
	if machine.BytesAllocated() != 0 {
		t.Errorf("bytes allocated after sweeping everything = %d, want 0", machine.BytesAllocated())
	}
}

func TestCollectKeepsRootedGlobals(t *testing.T) {
	machine := newTestVM()
	defer machine.Close()
	rf := machine.Registers()

	s := machine.AllocateString("keep")
	rf.Write(3, ObjVal(s))
	machine.AllocateString("drop")

	machine.Collect()

	if !machine.ObjectLive(s) {
		t.Fatalf("rooted string swept")
	}
	got := rf.Read(3)
	if !got.IsObj() || got.AsString() != s {
		t.Errorf("global 3 no longer references the string")
	}
	if s.Chars != "keep" {
		t.Errorf("string contents corrupted: %q", s.Chars)
	}
}

func TestCollectKeepsDeepFrameChain(t *testing.T) {
	machine := newTestVM()
	defer machine.Close()
	rf := machine.Registers()

	const depth = 4
	strs := make([]*ObjString, 0, depth)
	for i := 0; i < depth; i++ {
		frame, err := rf.PushFrame()
		if err != nil {
			t.Fatalf("PushFrame %d failed: %s", i, err)
		}
		s := machine.AllocateString(fmt.Sprintf("frame-%d", i))
		frame.SetRegister(0, ObjVal(s))
		strs = append(strs, s)
	}

	machine.Collect()

	for i, s := range strs {
		if !machine.ObjectLive(s) {
			t.Errorf("frame %d's string swept while its frame is active", i)
		}
		if s.Chars != fmt.Sprintf("frame-%d", i) {
			t.Errorf("frame %d's string corrupted: %q", i, s.Chars)
		}
	}

	// The chain's registers still point at the same objects, innermost out.
	f := rf.CurrentFrame()
	for i := depth - 1; i >= 0; i-- {
		if got := f.Register(0); got.AsString() != strs[i] {
			t.Errorf("frame %d register lost its reference after collection", i)
		}
		f = f.Parent()
	}
	rf.UnwindTo(0)
}

func TestCollectKeepsSpilledValue(t *testing.T) {
	machine := newTestVM()
	defer machine.Close()
	rf := machine.Registers()

	s := machine.AllocateString("spilled")
	id := rf.AllocateSpilled(ObjVal(s))

	machine.Collect()

	if !machine.ObjectLive(s) {
		t.Fatalf("spilled string swept")
	}
	got, ok := rf.Spill().Get(id)
	if !ok || got.AsString() != s {
		t.Errorf("spill table lost the value across collection")
	}
}

func TestCollectKeepsTypedWindowHeapSlot(t *testing.T) {
	machine := newTestVM()
	defer machine.Close()
	rf := machine.Registers()

	s := machine.AllocateString("windowed")
	rf.ActiveWindow().StoreHeap(40, ObjVal(s))

	machine.Collect()

	if !machine.ObjectLive(s) {
		t.Fatalf("heap value held only by a typed window was swept")
	}
	// Collection reconciles first, so the boxed global holds it too now.
	if got := rf.Read(40); got.AsString() != s {
		t.Errorf("global 40 after collection = %v, want the windowed string", got)
	}
}

func TestCollectMarksTransitively(t *testing.T) {
	machine := newTestVM()
	defer machine.Close()
	rf := machine.Registers()

	inner := machine.AllocateString("inner")
	arr := machine.AllocateArray(2)
	arr.Append(ObjVal(inner))
	rf.Write(0, ObjVal(arr))

	machine.Collect()

	if !machine.ObjectLive(arr) || !machine.ObjectLive(inner) {
		t.Fatalf("array or its element swept while rooted through the array")
	}
	if arr.Elements[0].AsString() != inner {
		t.Errorf("array element no longer references the inner string")
	}
}

func TestCollectKeepsChunkConstants(t *testing.T) {
	machine := newTestVM()
	defer machine.Close()

	c := NewChunk()
	s := machine.AllocateString("const")
	c.AddConstant(ObjVal(s))
	machine.SetCurrentChunk(c)

	fs := machine.AllocateString("in-function")
	fc := NewChunk()
	fc.AddConstant(ObjVal(fs))
	machine.RegisterFunction(Function{Chunk: fc})

	machine.Collect()

	if !machine.ObjectLive(s) {
		t.Errorf("current chunk constant swept")
	}
	if !machine.ObjectLive(fs) {
		t.Errorf("registered function's chunk constant swept")
	}
}

func TestCollectKeepsOpenUpvalues(t *testing.T) {
	machine := newTestVM()
	defer machine.Close()
	rf := machine.Registers()

	s := machine.AllocateString("captured")
	rf.Write(8, ObjVal(s))
	uv := machine.CaptureUpvalue(8)

	machine.Collect()
	if !machine.ObjectLive(uv) {
		t.Fatalf("open upvalue swept")
	}

	// After closing, the value lives inside the upvalue. Root the upvalue
	// through a closure and drop the register.
	machine.CloseUpvalues(8)
	if uv.IsOpen() {
		t.Fatalf("upvalue still open after CloseUpvalues")
	}
	fn := machine.AllocateFunction(0, NewChunk(), nil)
	fn.UpvalueCount = 1
	closure := machine.AllocateClosure(fn)
	closure.Upvalues[0] = uv
	rf.Write(9, ObjVal(closure))
	rf.Write(8, BoolVal(false))

	machine.Collect()
	if !machine.ObjectLive(s) {
		t.Errorf("closed-over string swept while reachable through the closure")
	}
	if uv.Closed.AsString() != s {
		t.Errorf("closed upvalue lost its value")
	}
}

func TestCollectKeepsLastError(t *testing.T) {
	machine := newTestVM()
	defer machine.Close()

	e := machine.AllocateError(ErrRuntime, "boom", "main.orus", 3, 7)
	machine.SetLastError(ObjVal(e))

	machine.Collect()

	if !machine.ObjectLive(e) || !machine.ObjectLive(e.Message) {
		t.Errorf("last error or its message swept")
	}
	if e.Message.Chars != "boom" {
		t.Errorf("error message corrupted: %q", e.Message.Chars)
	}
}

func TestSweepReusesIdentity(t *testing.T) {
	machine := newTestVM()
	defer machine.Close()

	const n = 5
	old := make(map[*ObjString]bool, n)
	for i := 0; i < n; i++ {
		old[machine.AllocateString(fmt.Sprintf("tmp-%d", i))] = true
	}

	machine.Collect()
	if got := machine.FreeListLen(KindString); got != n {
		t.Fatalf("free list = %d after sweep, want %d", got, n)
	}

	// The next n string allocations must come from the free list, reusing
	// the exact swept objects.
	for i := 0; i < n; i++ {
		s := machine.AllocateString(fmt.Sprintf("new-%d", i))
		if !old[s] {
			t.Errorf("allocation %d did not reuse a swept object", i)
		}
	}
	if got := machine.FreeListLen(KindString); got != 0 {
		t.Errorf("free list = %d after reuse, want 0", got)
	}
}

func TestPauseSuppressesCollection(t *testing.T) {
	cfg := config.Default()
	cfg.GCThresholdBytes = 64
	machine := New(cfg)
	defer machine.Close()

	machine.PauseGC()
	for i := 0; i < 100; i++ {
		machine.AllocateString("pinned while paused")
	}
	if got := machine.Collections(); got != 0 {
		t.Fatalf("collections while paused = %d, want 0", got)
	}
	machine.Collect() // still paused: must be a no-op
	if got := machine.Collections(); got != 0 {
		t.Fatalf("explicit Collect ran while paused")
	}

	machine.ResumeGC()
	machine.Collect()
	if got := machine.Collections(); got != 1 {
		t.Errorf("collections after resume = %d, want 1", got)
	}
}

func TestThresholdGrowsAfterCollection(t *testing.T) {
	cfg := config.Default()
	cfg.GCThresholdBytes = 128
	cfg.GCGrowthFactor = 2.0
	machine := New(cfg)
	defer machine.Close()
	rf := machine.Registers()

	// Keep survivors so the new threshold is nonzero.
	for i := 0; i < 8; i++ {
		rf.Write(uint16(i), ObjVal(machine.AllocateString("survivor survivor survivor")))
	}
	machine.Collect()

	want := int(float64(machine.BytesAllocated()) * 2.0)
	if got := machine.GCThreshold(); got != want {
		t.Errorf("threshold after collection = %d, want %d", got, want)
	}
}

func TestAllocationTriggersCollection(t *testing.T) {
	cfg := config.Default()
	cfg.GCThresholdBytes = 256
	machine := New(cfg)
	defer machine.Close()

	for i := 0; i < 200; i++ {
		machine.AllocateString("short-lived")
	}
	if machine.Collections() == 0 {
		t.Errorf("no collection triggered despite crossing the threshold")
	}
}

func TestCollectionObserver(t *testing.T) {
	machine := newTestVM()
	defer machine.Close()

	var seen []GCStats
	machine.SetCollectionObserver(func(stats GCStats) {
		seen = append(seen, stats)
	})

	machine.Registers().Write(0, ObjVal(machine.AllocateString("kept")))
	machine.AllocateString("observed")
	machine.Collect()

	if len(seen) != 1 {
		t.Fatalf("observer called %d times, want 1", len(seen))
	}
	st := seen[0]
	if st.Cycle != 1 {
		t.Errorf("cycle = %d, want 1", st.Cycle)
	}
	if st.Freed != 1 {
		t.Errorf("freed = %d, want 1", st.Freed)
	}
	if st.Live != 1 {
		t.Errorf("live = %d, want 1", st.Live)
	}
	if st.Live != machine.LiveObjectCount() {
		t.Errorf("live counter %d disagrees with the live list %d", st.Live, machine.LiveObjectCount())
	}
	if st.FreedByKind[KindString] != 1 {
		t.Errorf("freed strings = %d, want 1", st.FreedByKind[KindString])
	}
	if st.BytesBefore <= st.BytesAfter {
		t.Errorf("bytes did not shrink: %d -> %d", st.BytesBefore, st.BytesAfter)
	}
}

func TestFreeListsArePerKind(t *testing.T) {
	machine := newTestVM()
	defer machine.Close()

	machine.AllocateString("s")
	machine.AllocateArray(2)
	machine.AllocateRangeIterator(0, 10, 1)

	machine.Collect()

	if machine.FreeListLen(KindString) != 1 ||
		machine.FreeListLen(KindArray) != 1 ||
		machine.FreeListLen(KindRangeIterator) != 1 {
		t.Errorf("free lists = s:%d a:%d r:%d, want 1 each",
			machine.FreeListLen(KindString),
			machine.FreeListLen(KindArray),
			machine.FreeListLen(KindRangeIterator))
	}
	if machine.FreeListLen(KindClosure) != 0 {
		t.Errorf("closure free list = %d, want 0", machine.FreeListLen(KindClosure))
	}
}
