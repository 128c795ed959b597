package vm

// Register address layout. A register id is a 16-bit logical address
// partitioned into contiguous ranges; range membership is decided purely by
// numeric comparison against these boundaries.
const (
	GlobalRegisters = 256 // ids 0-255: globals, shared across all frames
	FrameRegisters  = 64  // ids 256-319: private to the active frame
	TempRegisters   = 32  // ids 320-351: scratch space
	ModuleRegisters = 128 // ids 352-479: per-module storage

	GlobalRegStart = 0
	FrameRegStart  = 256
	TempRegStart   = 320
	ModuleRegStart = 352
	SpillRegStart  = 480 // everything from here up lives in the spill table

	// RegisterCount sizes the legacy flat mirror: every non-spill id fits.
	RegisterCount = 512

	// MaxCallFrames bounds call depth; the frame pool is sized to it.
	MaxCallFrames = 256
)

// IsGlobalRegister reports whether id addresses the global bank.
func IsGlobalRegister(id uint16) bool {
	return id < FrameRegStart
}

// IsFrameRegister reports whether id addresses the active frame's bank.
func IsFrameRegister(id uint16) bool {
	return id >= FrameRegStart && id < TempRegStart
}

// IsTempRegister reports whether id addresses the active temp bank.
func IsTempRegister(id uint16) bool {
	return id >= TempRegStart && id < ModuleRegStart
}

// IsModuleRegister reports whether id addresses module-owned storage.
func IsModuleRegister(id uint16) bool {
	return id >= ModuleRegStart && id < SpillRegStart
}

// IsSpillRegister reports whether id addresses the spill table.
func IsSpillRegister(id uint16) bool {
	return id >= SpillRegStart
}

// DecomposeModuleRegister splits a module-range id into (module id, offset).
// The caller must have checked IsModuleRegister(id).
func DecomposeModuleRegister(id uint16) (uint8, uint16) {
	rel := id - ModuleRegStart
	return uint8(rel / ModuleRegisters), rel % ModuleRegisters
}
