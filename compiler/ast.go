package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Syntax tree
// ---------------------------------------------------------------------------
//
// The tree is deliberately uniform: one node struct carrying a kind tag,
// ordered children and a source position. External producers can build trees
// directly and hand them to CompileNode; the bundled parser is just the
// default producer.

// SyntaxError reports a parse or compile failure with its source position.
type SyntaxError struct {
	File string
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Col, e.Msg)
}

// NodeKind tags a syntax tree node.
type NodeKind uint8

const (
	NProgram NodeKind = iota

	// Expressions
	NNumber    // Num
	NString    // Lit
	NBool      // Num is 0 or 1
	NNull      //
	NUndefined //
	NIdent     // Lit
	NThis      //
	NArray     // Kids: elements (NEmpty for holes, NRest for spread tail)
	NObject    // Kids: NProp...
	NProp      // Lit: key; Kids[0]: value; FlagComputed: Kids[0] key expr, Kids[1] value
	NFunc      // Lit: name; Kids: params... then body block last; see FlagGenerator/FlagArrow
	NRest      // Kids[0]: pattern (rest parameter or rest element)
	NCall      // Kids[0]: callee; Kids[1:]: arguments
	NNew       // Kids[0]: callee; Kids[1:]: arguments
	NMember    // Kids[0]: object; Lit: property name
	NIndex     // Kids[0]: object; Kids[1]: key expression
	NUnary     // Lit: operator; Kids[0]
	NUpdate    // Lit: "++" or "--"; FlagPrefix; Kids[0]: target
	NBinary    // Lit: operator; Kids[0], Kids[1]
	NLogical   // Lit: "&&", "||" or "??"; Kids[0], Kids[1]
	NAssign    // Lit: "=", "+=", ...; Kids[0]: target; Kids[1]: value
	NCond      // Kids: test, consequent, alternate
	NSeq       // Kids[0], Kids[1]
	NYield     // FlagDelegate; Kids[0]: argument (optional)

	// Patterns
	NArrayPat  // Kids: element patterns (NEmpty holes, NRest tail)
	NObjectPat // Kids: NPropPat...
	NPropPat   // Lit: source key; Kids[0]: target pattern
	NDefault   // Kids[0]: pattern; Kids[1]: default expression

	// Statements
	NExprStmt   // Kids[0]
	NVarDecl    // Lit: "var", "let" or "const"; Kids: NDeclarator...
	NDeclarator // Kids[0]: target pattern; Kids[1]: initializer (optional)
	NBlock      // Kids: statements
	NIf         // Kids: test, consequent, alternate (optional)
	NWhile      // Kids: test, body
	NDoWhile    // Kids: body, test
	NFor        // Kids: init, test, update, body (NEmpty when absent)
	NForIn      // Kids: target, object, body
	NForOf      // Kids: target, iterable, body
	NReturn     // Kids[0]: argument (optional)
	NBreak      // Lit: label (optional)
	NContinue   // Lit: label (optional)
	NThrow      // Kids[0]
	NTry        // Kids: block, catch param or NEmpty, catch block or NEmpty, finally block or NEmpty
	NSwitch     // Kids[0]: discriminant; Kids[1:]: NCase...
	NCase       // Kids[0]: test or NEmpty for default; Kids[1:]: statements
	NLabeled    // Lit: label; Kids[0]: statement
	NEmpty      //
)

// Node flags.
const (
	FlagGenerator uint8 = 1 << iota
	FlagArrow
	FlagPrefix
	FlagComputed
	FlagDeclaration // NFunc appearing as a declaration
	FlagConst       // NVarDecl-less binding contexts (for-of/for-in lets)
	FlagDelegate    // NYield with a * (yield*)
)

// Node is one syntax tree node.
type Node struct {
	Kind  NodeKind
	Lit   string
	Num   float64
	Flags uint8
	Kids  []*Node
	Line  int
	Col   int
}

func newNode(kind NodeKind, line, col int, kids ...*Node) *Node {
	return &Node{Kind: kind, Line: line, Col: col, Kids: kids}
}
