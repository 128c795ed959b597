package vm

// Chunk represents a sequence of bytecode instructions plus the constant
// pool referenced by them. The dispatch loop owns decoding; this core only
// needs the layout and the constants (they are collector roots).
type Chunk struct {
	// Code is the bytecode instructions
	Code []byte

	// Constants pool - literals, interned strings, nested functions
	Constants []Value

	// Lines maps bytecode offset to source line number (for errors)
	Lines []int

	// Columns maps bytecode offset to source column number (for errors)
	Columns []int

	// File is the source file name
	File string
}

// NewChunk creates a new empty chunk
func NewChunk() *Chunk {
	return &Chunk{
		Code:      make([]byte, 0, 256),
		Constants: make([]Value, 0, 64),
		Lines:     make([]int, 0, 256),
		Columns:   make([]int, 0, 256),
	}
}

// Write adds a byte to the chunk with line info (column defaults to 0)
func (c *Chunk) Write(b byte, line int) {
	c.WriteWithCol(b, line, 0)
}

// WriteWithCol adds a byte to the chunk with line and column info
func (c *Chunk) WriteWithCol(b byte, line, col int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
	c.Columns = append(c.Columns, col)
}

// AddConstant adds a constant to the pool and returns its index
func (c *Chunk) AddConstant(value Value) int {
	c.Constants = append(c.Constants, value)
	return len(c.Constants) - 1
}

// Len returns the number of bytes in the chunk
func (c *Chunk) Len() int {
	return len(c.Code)
}
