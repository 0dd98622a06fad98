package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Portable form: JSON-representable Script serialization
// ---------------------------------------------------------------------------
//
// The portable form is a plain structurally-typed value: it marshals with
// encoding/json and with the canonical CBOR mode in wire.go. Conversion both
// ways is pure and deterministic; re-serializing a deserialized Script
// yields an identical portable form.

// PortableFormat identifies the serialization format.
const PortableFormat = "kestrel/script"

// PortableVersion is the current portable form version.
const PortableVersion = 1

// Portable is the serializable form of a Script.
type Portable struct {
	Format  string         `json:"format" cbor:"1,keyasint"`
	Version int            `json:"version" cbor:"2,keyasint"`
	File    string         `json:"file,omitempty" cbor:"3,keyasint,omitempty"`
	Funcs   []PortableFunc `json:"funcs" cbor:"4,keyasint"`
}

// PortableFunc is the serializable form of one function table entry.
type PortableFunc struct {
	Name     string            `json:"name,omitempty" cbor:"1,keyasint,omitempty"`
	Arity    int               `json:"arity" cbor:"2,keyasint"`
	Vars     int               `json:"vars" cbor:"3,keyasint"`
	Lex      int               `json:"lex" cbor:"4,keyasint"`
	Flags    uint8             `json:"flags,omitempty" cbor:"5,keyasint,omitempty"`
	Code     []byte            `json:"code" cbor:"6,keyasint"`
	Literals []PortableLiteral `json:"literals,omitempty" cbor:"7,keyasint,omitempty"`
	Lines    []PortableLine    `json:"lines,omitempty" cbor:"8,keyasint,omitempty"`
}

// PortableLiteral is the serializable form of a constant pool entry.
// Numbers that are NaN or infinite are carried in Str since JSON cannot
// represent them as numbers.
type PortableLiteral struct {
	Kind string  `json:"kind" cbor:"1,keyasint"`
	Num  float64 `json:"num,omitempty" cbor:"2,keyasint,omitempty"`
	Str  string  `json:"str,omitempty" cbor:"3,keyasint,omitempty"`
}

// PortableLine is the serializable form of a source map entry.
type PortableLine struct {
	Offset int `json:"offset" cbor:"1,keyasint"`
	Line   int `json:"line" cbor:"2,keyasint"`
	Col    int `json:"col" cbor:"3,keyasint"`
}

// Literal kind names in the portable form.
const (
	portKindNumber = "number"
	portKindString = "string"
	portKindNaN    = "nan"
	portKindInf    = "inf"
	portKindNegInf = "-inf"
)

// ---------------------------------------------------------------------------
// Script -> Portable
// ---------------------------------------------------------------------------

// ToPortable converts the Script to its portable form. The conversion is
// pure: the Script is not retained or mutated.
func (s *Script) ToPortable() *Portable {
	p := &Portable{
		Format:  PortableFormat,
		Version: PortableVersion,
		File:    s.FileName,
		Funcs:   make([]PortableFunc, len(s.Funcs)),
	}
	for i, fn := range s.Funcs {
		pf := PortableFunc{
			Name:  fn.Name,
			Arity: fn.Arity,
			Vars:  fn.NumVars,
			Lex:   fn.NumLex,
			Flags: fn.Flags,
			Code:  append([]byte(nil), fn.Code...),
		}
		if len(fn.Literals) > 0 {
			pf.Literals = make([]PortableLiteral, len(fn.Literals))
			for j, lit := range fn.Literals {
				pf.Literals[j] = portableLiteral(lit)
			}
		}
		if len(fn.Lines) > 0 {
			pf.Lines = make([]PortableLine, len(fn.Lines))
			for j, loc := range fn.Lines {
				pf.Lines[j] = PortableLine{Offset: loc.Offset, Line: loc.Line, Col: loc.Col}
			}
		}
		p.Funcs[i] = pf
	}
	return p
}

func portableLiteral(lit Literal) PortableLiteral {
	switch lit.Kind {
	case LitString:
		return PortableLiteral{Kind: portKindString, Str: lit.Str}
	default:
		switch {
		case math.IsNaN(lit.Num):
			return PortableLiteral{Kind: portKindNaN}
		case math.IsInf(lit.Num, 1):
			return PortableLiteral{Kind: portKindInf}
		case math.IsInf(lit.Num, -1):
			return PortableLiteral{Kind: portKindNegInf}
		default:
			return PortableLiteral{Kind: portKindNumber, Num: lit.Num}
		}
	}
}

// ---------------------------------------------------------------------------
// Portable -> Script
// ---------------------------------------------------------------------------

// FromPortable validates a portable form and reconstructs the Script.
// Malformed input fails with a *DeserializationError naming the offending
// field; a partially-valid Script is never produced.
func FromPortable(p *Portable) (*Script, error) {
	if p == nil {
		return nil, &DeserializationError{Field: "portable", Msg: "nil input"}
	}
	if p.Format != PortableFormat {
		return nil, &DeserializationError{Field: "format", Msg: fmt.Sprintf("unknown format %q", p.Format)}
	}
	if p.Version != PortableVersion {
		return nil, &DeserializationError{Field: "version", Msg: fmt.Sprintf("unsupported version %d", p.Version)}
	}
	if len(p.Funcs) == 0 {
		return nil, &DeserializationError{Field: "funcs", Msg: "no function units"}
	}
	if len(p.Funcs) > 0xFFFF {
		return nil, &DeserializationError{Field: "funcs", Msg: "function table too large"}
	}

	s := &Script{
		FileName: p.File,
		Funcs:    make([]*FunctionProto, len(p.Funcs)),
	}
	for i := range p.Funcs {
		fn, err := fromPortableFunc(&p.Funcs[i], i)
		if err != nil {
			return nil, err
		}
		s.Funcs[i] = fn
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return s, nil
}

func fromPortableFunc(pf *PortableFunc, i int) (*FunctionProto, error) {
	if pf.Arity < 0 || pf.Arity > 255 {
		return nil, &DeserializationError{Field: funcField(i, "arity"), Msg: fmt.Sprintf("out of range: %d", pf.Arity)}
	}
	if pf.Vars < pf.Arity || pf.Vars > 255 {
		return nil, &DeserializationError{Field: funcField(i, "vars"), Msg: fmt.Sprintf("out of range: %d", pf.Vars)}
	}
	if pf.Lex < 0 || pf.Lex > 255 {
		return nil, &DeserializationError{Field: funcField(i, "lex"), Msg: fmt.Sprintf("out of range: %d", pf.Lex)}
	}
	if pf.Flags&^(FuncGenerator|FuncArrow|FuncStrict|FuncRest) != 0 {
		return nil, &DeserializationError{Field: funcField(i, "flags"), Msg: fmt.Sprintf("unknown flag bits 0x%02X", pf.Flags)}
	}
	if len(pf.Code) == 0 {
		return nil, &DeserializationError{Field: funcField(i, "code"), Msg: "empty bytecode"}
	}
	if len(pf.Code) > 0xFFFF {
		return nil, &DeserializationError{Field: funcField(i, "code"), Msg: "bytecode too large"}
	}
	if len(pf.Literals) > 0xFFFF {
		return nil, &DeserializationError{Field: funcField(i, "literals"), Msg: "constant pool too large"}
	}

	fn := &FunctionProto{
		Name:    pf.Name,
		Arity:   pf.Arity,
		NumVars: pf.Vars,
		NumLex:  pf.Lex,
		Flags:   pf.Flags,
		Code:    append([]byte(nil), pf.Code...),
	}
	if len(pf.Literals) > 0 {
		fn.Literals = make([]Literal, len(pf.Literals))
		for j, pl := range pf.Literals {
			lit, err := fromPortableLiteral(pl)
			if err != nil {
				return nil, &DeserializationError{
					Field: fmt.Sprintf("funcs[%d].literals[%d]", i, j),
					Msg:   err.Error(),
				}
			}
			fn.Literals[j] = lit
		}
	}
	if len(pf.Lines) > 0 {
		fn.Lines = make([]SourceLoc, len(pf.Lines))
		prev := -1
		for j, pl := range pf.Lines {
			if pl.Offset < 0 || pl.Offset >= len(pf.Code) || pl.Offset <= prev {
				return nil, &DeserializationError{
					Field: fmt.Sprintf("funcs[%d].lines[%d].offset", i, j),
					Msg:   fmt.Sprintf("offsets must be strictly increasing and within bytecode, got %d", pl.Offset),
				}
			}
			prev = pl.Offset
			fn.Lines[j] = SourceLoc{Offset: pl.Offset, Line: pl.Line, Col: pl.Col}
		}
	}
	return fn, nil
}

func fromPortableLiteral(pl PortableLiteral) (Literal, error) {
	switch pl.Kind {
	case portKindNumber:
		if math.IsNaN(pl.Num) || math.IsInf(pl.Num, 0) {
			return Literal{}, fmt.Errorf("non-finite number literal must use kind %q, %q or %q", portKindNaN, portKindInf, portKindNegInf)
		}
		return NumberLiteral(pl.Num), nil
	case portKindString:
		return StringLiteral(pl.Str), nil
	case portKindNaN:
		return NumberLiteral(math.NaN()), nil
	case portKindInf:
		return NumberLiteral(math.Inf(1)), nil
	case portKindNegInf:
		return NumberLiteral(math.Inf(-1)), nil
	default:
		return Literal{}, fmt.Errorf("unknown literal kind %q", pl.Kind)
	}
}

func funcField(i int, name string) string {
	return fmt.Sprintf("funcs[%d].%s", i, name)
}
