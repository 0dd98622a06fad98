package vm

import "sort"

// ---------------------------------------------------------------------------
// Script: immutable compiled program
// ---------------------------------------------------------------------------

// Script is a compiled program: a flat table of function prototypes plus
// source metadata. Funcs[0] is the program body. Scripts are immutable after
// compilation and safe to share read-only across fibers and VM instances.
type Script struct {
	FileName string
	Funcs    []*FunctionProto
}

// Program returns the top-level function unit.
func (s *Script) Program() *FunctionProto { return s.Funcs[0] }

// Verify statically checks every function unit for well-formed bytecode and
// balanced stack effects.
func (s *Script) Verify() error {
	for i, fn := range s.Funcs {
		if err := verifyFunc(fn, len(s.Funcs)); err != nil {
			return &DeserializationError{Field: funcField(i, "code"), Msg: err.Error()}
		}
	}
	return nil
}

// Function prototype flags.
const (
	FuncGenerator uint8 = 1 << 0 // function body contains yield points
	FuncArrow     uint8 = 1 << 1 // lexical this
	FuncStrict    uint8 = 1 << 2 // "use strict" semantics for writes
	FuncRest      uint8 = 1 << 3 // last parameter is a rest parameter
)

// FunctionProto is one compiled function unit: bytecode, constant pool and
// activation metadata. Closure instruction operands reference prototypes by
// index in the owning Script's function table.
type FunctionProto struct {
	Name string // function name, "" for anonymous, "<program>" for the body

	Arity   int   // declared parameter count (rest parameter included)
	NumVars int   // function-scoped slots: parameters then hoisted vars
	NumLex  int   // lexical slots in the function's top scope
	Flags   uint8

	Code     []byte
	Literals []Literal

	Lines []SourceLoc // sorted by Offset; maps bytecode offsets to positions
}

// IsGenerator reports whether the unit compiles a generator function.
func (p *FunctionProto) IsGenerator() bool { return p.Flags&FuncGenerator != 0 }

// IsArrow reports whether the unit uses the lexical this binding.
func (p *FunctionProto) IsArrow() bool { return p.Flags&FuncArrow != 0 }

// IsStrict reports whether strict-mode write semantics apply.
func (p *FunctionProto) IsStrict() bool { return p.Flags&FuncStrict != 0 }

// HasRest reports whether the last parameter collects remaining arguments.
func (p *FunctionProto) HasRest() bool { return p.Flags&FuncRest != 0 }

// Position returns the source position for a bytecode offset, or zeros when
// no mapping covers it.
func (p *FunctionProto) Position(offset int) (line, col int) {
	i := sort.Search(len(p.Lines), func(i int) bool {
		return p.Lines[i].Offset > offset
	})
	if i == 0 {
		return 0, 0
	}
	loc := p.Lines[i-1]
	return loc.Line, loc.Col
}

// SourceLoc maps a bytecode offset to a source position.
type SourceLoc struct {
	Offset int // bytecode offset where the mapping starts
	Line   int // 1-based line number
	Col    int // 1-based column number
}

// ---------------------------------------------------------------------------
// Literals: the constant pool
// ---------------------------------------------------------------------------

// LiteralKind discriminates constant pool entries.
type LiteralKind uint8

const (
	LitNumber LiteralKind = iota
	LitString
)

// Literal is one constant pool entry. Property and global names are stored
// as LitString entries; name-carrying opcodes require their operand to
// reference one.
type Literal struct {
	Kind LiteralKind
	Num  float64
	Str  string
}

// NumberLiteral builds a numeric constant pool entry.
func NumberLiteral(f float64) Literal { return Literal{Kind: LitNumber, Num: f} }

// StringLiteral builds a string constant pool entry.
func StringLiteral(s string) Literal { return Literal{Kind: LitString, Str: s} }
