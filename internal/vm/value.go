package vm

import (
	"fmt"
	"math"
	"strconv"
)

// ValueType identifies the type of value stored in the Value struct
type ValueType uint8

const (
	ValBool ValueType = iota
	ValI32
	ValI64
	ValU32
	ValU64
	ValF64
	ValObj // Heap-resident object (string, array, closure, etc.)
)

// Value is a stack-allocated tagged union.
// It avoids heap allocation for scalars (bool, integers, floats).
// Size: ~24 bytes on 64-bit systems (1 byte type + 7 padding + 8 data + 8 pointer).
type Value struct {
	Type ValueType
	Data uint64 // Stores integer bits, float64 bits, or bool (0/1)
	Obj  Object // Holds heap objects; liveness is decided by the collector
}

// Constructors

func BoolVal(v bool) Value {
	var data uint64
	if v {
		data = 1
	}
	return Value{Type: ValBool, Data: data}
}

func I32Val(v int32) Value {
	return Value{Type: ValI32, Data: uint64(uint32(v))}
}

func I64Val(v int64) Value {
	return Value{Type: ValI64, Data: uint64(v)}
}

func U32Val(v uint32) Value {
	return Value{Type: ValU32, Data: uint64(v)}
}

func U64Val(v uint64) Value {
	return Value{Type: ValU64, Data: v}
}

func F64Val(v float64) Value {
	return Value{Type: ValF64, Data: math.Float64bits(v)}
}

func ObjVal(o Object) Value {
	return Value{Type: ValObj, Obj: o}
}

// Accessors

func (v Value) AsBool() bool {
	return v.Data == 1
}

func (v Value) AsI32() int32 {
	return int32(uint32(v.Data))
}

func (v Value) AsI64() int64 {
	return int64(v.Data)
}

func (v Value) AsU32() uint32 {
	return uint32(v.Data)
}

func (v Value) AsU64() uint64 {
	return v.Data
}

func (v Value) AsF64() float64 {
	return math.Float64frombits(v.Data)
}

// IsObj reports whether v holds a heap reference.
func (v Value) IsObj() bool {
	return v.Type == ValObj && v.Obj != nil
}

// AsString returns the referenced string object, or nil if v is not a string.
func (v Value) AsString() *ObjString {
	if v.Type != ValObj {
		return nil
	}
	s, _ := v.Obj.(*ObjString)
	return s
}

// AsArray returns the referenced array object, or nil if v is not an array.
func (v Value) AsArray() *ObjArray {
	if v.Type != ValObj {
		return nil
	}
	a, _ := v.Obj.(*ObjArray)
	return a
}

// Equal reports whether two values are identical. Object values compare
// by reference, matching interpreter identity semantics.
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	if v.Type == ValObj {
		return v.Obj == other.Obj
	}
	return v.Data == other.Data
}

// String renders a value for diagnostics and traces.
func (v Value) String() string {
	switch v.Type {
	case ValBool:
		return strconv.FormatBool(v.AsBool())
	case ValI32:
		return strconv.FormatInt(int64(v.AsI32()), 10)
	case ValI64:
		return strconv.FormatInt(v.AsI64(), 10)
	case ValU32:
		return strconv.FormatUint(uint64(v.AsU32()), 10)
	case ValU64:
		return strconv.FormatUint(v.AsU64(), 10)
	case ValF64:
		return strconv.FormatFloat(v.AsF64(), 'g', -1, 64)
	case ValObj:
		if v.Obj == nil {
			return "<nil obj>"
		}
		return v.Obj.Inspect()
	default:
		return fmt.Sprintf("<unknown value type %d>", v.Type)
	}
}
