package vm

import (
	"github.com/jordyorel/orus-lang-sub001/internal/config"
)

// Function is a registered bytecode function: its entry point, arity, and
// chunk. Registered functions stay reachable even when not on the call
// stack — their constant pools are collector roots.
type Function struct {
	Start int
	Arity int
	Chunk *Chunk
}

// NativeFn is the signature of a host-implemented function.
type NativeFn func(args []Value) (Value, error)

// NativeFunction binds a heap-resident name to a host function. The name
// string is a collector root for as long as the native is registered.
type NativeFunction struct {
	Name  *ObjString
	Arity int
	Fn    NativeFn
}

// VM is one isolated virtual machine instance: the register file, the
// legacy flat mirror, the heap, and the collector state. Multiple VMs can
// coexist; nothing here is process-global.
//
// The model is single-threaded and cooperative: one mutator, stop-the-world
// collection that runs synchronously inside an allocation call.
type VM struct {
	rf *RegisterFile

	// registers is the legacy flat mirror over every non-spill id. The
	// register file keeps it equal to the authoritative banks; every entry
	// is a collector root.
	registers [RegisterCount]Value

	// Heap state.
	objects        Object // intrusive list of all live objects
	freeObjects    [objKindCount][]Object
	bytesAllocated int
	gcThreshold    int
	gcGrowth       float64
	gcPauseDepth   int
	gcCount        uint64
	observer       func(GCStats)

	// Execution context consulted for roots.
	chunk          *Chunk // currently executing chunk
	functions      []Function
	natives        []NativeFunction
	lastError      Value
	openUpvalues   *ObjUpvalue
	loadedModules  []*ObjString
	loadingModules []*ObjString

	// TraceGC logs each collection to stderr.
	TraceGC bool
}

// New creates an isolated VM with the given runtime configuration.
func New(cfg config.Runtime) *VM {
	vm := &VM{
		gcThreshold: cfg.GCThresholdBytes,
		gcGrowth:    cfg.GCGrowthFactor,
		TraceGC:     cfg.TraceGC,
	}
	for i := range vm.registers {
		vm.registers[i] = BoolVal(false)
	}
	vm.rf = newRegisterFile(&vm.registers, cfg.MaxCallDepth, cfg.WindowPoolSize, cfg.SpillCapacity)
	vm.rf.traceFallback = cfg.TraceFallback
	vm.lastError = BoolVal(false)
	return vm
}

// NewDefault creates a VM with the default runtime configuration.
func NewDefault() *VM {
	return New(config.Default())
}

// Registers returns the VM's register file.
func (vm *VM) Registers() *RegisterFile { return vm.rf }

// Read is a convenience passthrough to the register file.
func (vm *VM) Read(id uint16) Value { return vm.rf.Read(id) }

// Write is a convenience passthrough to the register file.
func (vm *VM) Write(id uint16, v Value) { vm.rf.Write(id, v) }

// LegacyRegister reads the flat mirror directly. Migration-era consumers
// only; range-aware access goes through Read.
func (vm *VM) LegacyRegister(id uint16) Value {
	return vm.registers[id]
}

// SetCurrentChunk binds the chunk whose constants are live during
// execution.
func (vm *VM) SetCurrentChunk(c *Chunk) { vm.chunk = c }

// RegisterFunction records a bytecode function and returns its index.
func (vm *VM) RegisterFunction(fn Function) int {
	vm.functions = append(vm.functions, fn)
	return len(vm.functions) - 1
}

// FunctionAt returns a registered function by index.
func (vm *VM) FunctionAt(index int) *Function {
	return &vm.functions[index]
}

// RegisterNative records a host function under a heap-allocated name.
func (vm *VM) RegisterNative(name string, arity int, fn NativeFn) int {
	native := NativeFunction{
		Name:  vm.AllocateString(name),
		Arity: arity,
		Fn:    fn,
	}
	vm.natives = append(vm.natives, native)
	return len(vm.natives) - 1
}

// SetLastError records the most recent error value; it stays reachable
// until overwritten.
func (vm *VM) SetLastError(v Value) { vm.lastError = v }

// LastError returns the most recently reported error value.
func (vm *VM) LastError() Value { return vm.lastError }

// BeginModuleLoad records a module as loading; its name string is pinned
// for the collector until FinishModuleLoad moves it to the loaded list.
func (vm *VM) BeginModuleLoad(name string) {
	vm.loadingModules = append(vm.loadingModules, vm.AllocateString(name))
}

// FinishModuleLoad promotes a loading module to loaded.
func (vm *VM) FinishModuleLoad(name string) {
	for i, s := range vm.loadingModules {
		if s.Chars == name {
			vm.loadingModules = append(vm.loadingModules[:i], vm.loadingModules[i+1:]...)
			vm.loadedModules = append(vm.loadedModules, s)
			return
		}
	}
	vm.loadedModules = append(vm.loadedModules, vm.AllocateString(name))
}

// ---------------------------------------------------------------------------
// Upvalue management
// ---------------------------------------------------------------------------

// CaptureUpvalue returns an upvalue for the given register slot, reusing an
// existing open upvalue so every closure capturing the slot shares one
// cell. The open list is kept sorted by slot, highest first.
func (vm *VM) CaptureUpvalue(slot uint16) *ObjUpvalue {
	var prev *ObjUpvalue
	upvalue := vm.openUpvalues
	for upvalue != nil && upvalue.Slot > int(slot) {
		prev = upvalue
		upvalue = upvalue.Next
	}
	if upvalue != nil && upvalue.Slot == int(slot) {
		return upvalue
	}

	created := vm.AllocateUpvalue(int(slot))
	created.Next = upvalue
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// CloseUpvalues closes every open upvalue at or above the given slot: the
// register's current value moves into the upvalue and the cell leaves the
// open list.
func (vm *VM) CloseUpvalues(from uint16) {
	for vm.openUpvalues != nil && vm.openUpvalues.Slot >= int(from) {
		upvalue := vm.openUpvalues
		upvalue.Closed = vm.rf.Read(uint16(upvalue.Slot))
		upvalue.Slot = -1
		vm.openUpvalues = upvalue.Next
		upvalue.Next = nil
	}
}

// OpenUpvalues returns the head of the open-upvalue list.
func (vm *VM) OpenUpvalues() *ObjUpvalue { return vm.openUpvalues }

// Close tears the VM down: every pooled frame, pooled window, and heap
// object is released together. The VM must not be used afterwards.
func (vm *VM) Close() {
	// Close OS resources owned by live file objects before dropping them.
	for obj := vm.objects; obj != nil; obj = obj.header().next {
		if f, ok := obj.(*ObjFile); ok && f.Handle != nil && !f.Closed {
			f.Handle.Close()
			f.Closed = true
		}
	}
	vm.objects = nil
	for i := range vm.freeObjects {
		vm.freeObjects[i] = nil
	}
	vm.bytesAllocated = 0
	vm.openUpvalues = nil
	vm.functions = nil
	vm.natives = nil
	vm.loadedModules = nil
	vm.loadingModules = nil
	vm.chunk = nil
	vm.rf = nil
}
