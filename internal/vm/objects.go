package vm

import (
	"fmt"
	"hash/fnv"
	"os"
)

// ObjKind identifies the concrete type of a heap object.
type ObjKind uint8

const (
	KindString ObjKind = iota
	KindArray
	KindByteBuffer
	KindEnumInstance
	KindError
	KindRangeIterator
	KindArrayIterator
	KindFile
	KindFunction
	KindClosure
	KindUpvalue
	objKindCount
)

var objKindNames = [objKindCount]string{
	"string", "array", "bytebuffer", "enum", "error",
	"range_iterator", "array_iterator", "file", "function", "closure", "upvalue",
}

func (k ObjKind) String() string {
	if int(k) < len(objKindNames) {
		return objKindNames[k]
	}
	return fmt.Sprintf("objkind(%d)", uint8(k))
}

// ObjHeader is embedded at the start of every heap object. It carries the
// kind tag, the collector-owned mark bit, and the intrusive link in the
// single live-object list.
type ObjHeader struct {
	kind   ObjKind
	marked bool
	next   Object
}

func (h *ObjHeader) header() *ObjHeader { return h }

// Kind returns the object's kind tag.
func (h *ObjHeader) Kind() ObjKind { return h.kind }

// Marked reports the collector mark bit. It is reset after each sweep.
func (h *ObjHeader) Marked() bool { return h.marked }

// Object is implemented by every heap-resident value.
type Object interface {
	header() *ObjHeader
	Inspect() string
}

// ObjString is an immutable heap string.
type ObjString struct {
	ObjHeader
	Chars string
	hash  uint32
}

func (s *ObjString) Inspect() string { return `"` + s.Chars + `"` }

// Hash returns the FNV-1a hash of the string, computed lazily.
func (s *ObjString) Hash() uint32 {
	if s.hash == 0 {
		h := fnv.New32a()
		h.Write([]byte(s.Chars))
		s.hash = h.Sum32() | 1 // never 0, so 0 still means "not computed"
	}
	return s.hash
}

// ObjArray is a growable array of values.
type ObjArray struct {
	ObjHeader
	Elements []Value
}

func (a *ObjArray) Inspect() string { return fmt.Sprintf("<array len=%d>", len(a.Elements)) }

// Append adds a value, growing the backing slice as needed.
func (a *ObjArray) Append(v Value) {
	a.Elements = append(a.Elements, v)
}

// ObjByteBuffer is a mutable byte storage object backing `bytes` values.
type ObjByteBuffer struct {
	ObjHeader
	Bytes []byte
}

func (b *ObjByteBuffer) Inspect() string { return fmt.Sprintf("<bytes len=%d>", len(b.Bytes)) }

// ObjEnumInstance is one constructed variant of an enum type.
type ObjEnumInstance struct {
	ObjHeader
	TypeName     *ObjString
	VariantName  *ObjString
	VariantIndex int
	Payload      *ObjArray // nil for payload-free variants
}

func (e *ObjEnumInstance) Inspect() string {
	if e.TypeName != nil && e.VariantName != nil {
		return e.TypeName.Chars + "." + e.VariantName.Chars
	}
	return "<enum>"
}

// ErrorKind classifies runtime error objects.
type ErrorKind uint8

const (
	ErrRuntime ErrorKind = iota
	ErrType
	ErrName
	ErrIndex
	ErrKey
	ErrValue
	ErrConversion
	ErrArgument
	ErrImport
	ErrAttribute
	ErrUnimplemented
	ErrSyntax
	ErrRecursion
	ErrIO
	ErrOS
	ErrEOF
)

// ObjError is a runtime error value with source position information.
type ObjError struct {
	ObjHeader
	Err     ErrorKind
	Message *ObjString
	File    string
	Line    int
	Column  int
}

func (e *ObjError) Inspect() string {
	if e.Message != nil {
		return "<error: " + e.Message.Chars + ">"
	}
	return "<error>"
}

// ObjRangeIterator walks an integer range without materializing it.
type ObjRangeIterator struct {
	ObjHeader
	Current int64
	End     int64
	Step    int64
}

func (r *ObjRangeIterator) Inspect() string {
	return fmt.Sprintf("<range %d..%d step %d>", r.Current, r.End, r.Step)
}

// ObjArrayIterator walks the elements of an array.
type ObjArrayIterator struct {
	ObjHeader
	Array *ObjArray
	Index int
}

func (it *ObjArrayIterator) Inspect() string { return "<array iterator>" }

// ObjFile is an open file handle. The path string is a heap object so the
// collector keeps it alive for as long as the handle is reachable.
type ObjFile struct {
	ObjHeader
	Path   *ObjString
	Handle *os.File
	Closed bool
}

func (f *ObjFile) Inspect() string {
	if f.Path != nil {
		return "<file " + f.Path.Chars + ">"
	}
	return "<file>"
}

// ObjFunction is a compiled function: its bytecode chunk plus metadata.
type ObjFunction struct {
	ObjHeader
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
	Name         *ObjString
}

func (f *ObjFunction) Inspect() string {
	if f.Name != nil {
		return "<fn " + f.Name.Chars + ">"
	}
	return "<fn>"
}

// ObjUpvalue is a captured register slot. While open it refers to the
// register identified by Slot; once closed the value lives in Closed.
type ObjUpvalue struct {
	ObjHeader
	Slot   int // register id while open, -1 once closed
	Closed Value
	Next   *ObjUpvalue // open-upvalue list, sorted by slot descending
}

func (u *ObjUpvalue) Inspect() string { return "<upvalue>" }

// IsOpen reports whether the upvalue still refers to a live register.
func (u *ObjUpvalue) IsOpen() bool { return u.Slot >= 0 }

// ObjClosure pairs a function with its captured upvalues.
type ObjClosure struct {
	ObjHeader
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

func (c *ObjClosure) Inspect() string {
	if c.Function != nil && c.Function.Name != nil {
		return "<closure " + c.Function.Name.Chars + ">"
	}
	return "<closure>"
}
