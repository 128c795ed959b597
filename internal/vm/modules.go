package vm

// ModuleRegistry is the narrow boundary to the module/import system. The
// register file decomposes a module-range id into (module id, offset) and
// routes through this interface; it never allocates module ids itself.
// Lookup misses fall back to the legacy flat array in the register file.
type ModuleRegistry interface {
	// GetRegister returns the value stored for (moduleID, offset), if a
	// module with that id is loaded and the offset is in range.
	GetRegister(moduleID uint8, offset uint16) (Value, bool)

	// SetRegister stores a value for (moduleID, offset), reporting whether
	// the slot exists.
	SetRegister(moduleID uint8, offset uint16, value Value) bool
}

// ModuleBank is the in-process ModuleRegistry used when no external module
// system is attached. Each registered module owns a fixed bank of
// ModuleRegisters values.
type ModuleBank struct {
	modules []*moduleSlot
}

type moduleSlot struct {
	id        uint8
	name      string
	allocated uint16
	registers [ModuleRegisters]Value
}

// NewModuleBank creates an empty bank.
func NewModuleBank() *ModuleBank {
	return &ModuleBank{}
}

// AddModule registers a module and returns its id. Ids are assigned
// densely in registration order.
func (b *ModuleBank) AddModule(name string) uint8 {
	id := uint8(len(b.modules))
	slot := &moduleSlot{id: id, name: name}
	for i := range slot.registers {
		slot.registers[i] = BoolVal(false)
	}
	b.modules = append(b.modules, slot)
	return id
}

// ModuleCount returns the number of registered modules.
func (b *ModuleBank) ModuleCount() int { return len(b.modules) }

// ModuleName returns the name a module was registered under.
func (b *ModuleBank) ModuleName(moduleID uint8) (string, bool) {
	slot := b.find(moduleID)
	if slot == nil {
		return "", false
	}
	return slot.name, true
}

// AllocateRegister hands out the next unused register offset for a
// module, for use at code generation time. It returns the full register
// id in the module range, or false when the module's bank is exhausted.
func (b *ModuleBank) AllocateRegister(moduleID uint8) (uint16, bool) {
	slot := b.find(moduleID)
	if slot == nil || slot.allocated >= ModuleRegisters {
		return 0, false
	}
	offset := slot.allocated
	slot.allocated++
	return ModuleRegStart + uint16(moduleID)*ModuleRegisters + offset, true
}

func (b *ModuleBank) find(moduleID uint8) *moduleSlot {
	if int(moduleID) >= len(b.modules) {
		return nil
	}
	return b.modules[moduleID]
}

// GetRegister implements ModuleRegistry.
func (b *ModuleBank) GetRegister(moduleID uint8, offset uint16) (Value, bool) {
	slot := b.find(moduleID)
	if slot == nil || offset >= ModuleRegisters {
		return Value{}, false
	}
	return slot.registers[offset], true
}

// SetRegister implements ModuleRegistry.
func (b *ModuleBank) SetRegister(moduleID uint8, offset uint16, value Value) bool {
	slot := b.find(moduleID)
	if slot == nil || offset >= ModuleRegisters {
		return false
	}
	slot.registers[offset] = value
	return true
}
