package vm

// CallFrame is one activation record. For its lifetime it exclusively owns
// a boxed register bank, a boxed temp bank, and one typed register window.
// Frames live in a fixed pool sized to the maximum call depth; they are
// recycled, never individually heap-allocated per call.
type CallFrame struct {
	registers [FrameRegisters]Value
	temps     [TempRegisters]Value

	window    *TypedWindow
	windowRef windowRef

	parent        *CallFrame // caller frame, nil for the outermost call
	prevWindowRef windowRef  // window active before this frame was pushed

	// Frame metadata, scrubbed when the frame returns to the pool.
	FunctionIndex int
	ReturnAddress int
	ModuleID      uint8

	registerCount uint16 // frame registers handed out to the code generator
	poolIndex     int
}

// Register returns the frame's boxed register at the given offset.
func (f *CallFrame) Register(offset uint16) Value {
	return f.registers[offset]
}

// SetRegister stores into the frame's boxed register bank.
func (f *CallFrame) SetRegister(offset uint16, v Value) {
	f.registers[offset] = v
}

// Temp returns the frame's boxed temp at the given offset.
func (f *CallFrame) Temp(offset uint16) Value {
	return f.temps[offset]
}

// Window returns the frame's typed register window.
func (f *CallFrame) Window() *TypedWindow {
	return f.window
}

// Parent returns the caller frame, nil for the outermost call.
func (f *CallFrame) Parent() *CallFrame {
	return f.parent
}

// resetStorage restores every boxed slot to the default scalar so a reused
// frame can never expose a previous occupant's values.
func (f *CallFrame) resetStorage() {
	for i := range f.registers {
		f.registers[i] = BoolVal(false)
	}
	for i := range f.temps {
		f.temps[i] = BoolVal(false)
	}
	f.registerCount = 0
}

// resetMetadata scrubs everything except pool bookkeeping.
func (f *CallFrame) resetMetadata() {
	f.window = nil
	f.windowRef = windowRef{}
	f.parent = nil
	f.prevWindowRef = windowRef{}
	f.FunctionIndex = 0
	f.ReturnAddress = 0
	f.ModuleID = 0
	f.registerCount = 0
}
