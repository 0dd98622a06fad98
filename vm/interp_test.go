package vm_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/kestreljs/kestrel/compiler"
	"github.com/kestreljs/kestrel/vm"
)

// compileSrc compiles a snippet, failing the test on syntax errors.
func compileSrc(t *testing.T, src string) *vm.Script {
	t.Helper()
	script, err := compiler.Compile("test.js", src)
	if err != nil {
		t.Fatalf("compile error: %v\nsource:\n%s", err, src)
	}
	return script
}

// run executes a snippet on a fresh VM and returns its completion value.
func run(t *testing.T, src string) (vm.Value, *vm.VM) {
	t.Helper()
	m := vm.New()
	v, err := m.RunScript(compileSrc(t, src), 0)
	if err != nil {
		t.Fatalf("runtime error: %v\nsource:\n%s", err, src)
	}
	return v, m
}

func runNum(t *testing.T, src string, want float64) {
	t.Helper()
	v, _ := run(t, src)
	if !v.IsNumber() {
		t.Fatalf("got %v, want number %v\nsource:\n%s", v, want, src)
	}
	if v.Num() != want {
		t.Errorf("got %v, want %v\nsource:\n%s", v.Num(), want, src)
	}
}

func runStr(t *testing.T, src string, want string) {
	t.Helper()
	v, m := run(t, src)
	if !v.IsString() {
		t.Fatalf("got %v, want string %q\nsource:\n%s", v, want, src)
	}
	if got := m.GoString(v); got != want {
		t.Errorf("got %q, want %q\nsource:\n%s", got, want, src)
	}
}

func runBool(t *testing.T, src string, want bool) {
	t.Helper()
	v, _ := run(t, src)
	if !v.IsBool() {
		t.Fatalf("got %v, want bool %v\nsource:\n%s", v, want, src)
	}
	if v.Bool() != want {
		t.Errorf("got %v, want %v\nsource:\n%s", v.Bool(), want, src)
	}
}

// ---------------------------------------------------------------------------
// Expressions and operators
// ---------------------------------------------------------------------------

func TestArithmetic(t *testing.T) {
	cases := []struct {
		src  string
		want float64
	}{
		{"1 + 2", 3},
		{"10 - 4", 6},
		{"6 * 7", 42},
		{"10 / 4", 2.5},
		{"10 % 3", 1},
		{"-5 + 3", -2},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"1 + 2 + '3' - 0", 33}, // (1+2) -> 3, then "33", minus coerces back
		{"5 & 3", 1},
		{"5 | 3", 7},
		{"5 ^ 3", 6},
		{"~0", -1},
		{"1 << 4", 16},
		{"-16 >> 2", -4},
		{"-1 >>> 28", 15},
	}
	for _, c := range cases {
		runNum(t, c.src, c.want)
	}
}

func TestNewPopulatesGlobals(t *testing.T) {
	// Construction builds the realm's builtins through the VM itself; a
	// fresh instance must come up with the standard globals in place.
	m := vm.New()
	for _, name := range []string{"Object", "Array", "String", "Math", "parseInt", "globalThis"} {
		if _, ok := m.GetGlobal(name); !ok {
			t.Errorf("global %q missing from a fresh instance", name)
		}
	}
}

func TestBooleanLiterals(t *testing.T) {
	runBool(t, "true", true)
	runBool(t, "false", false)
	runStr(t, "typeof true", "boolean")
	runNum(t, "var x = 0; if (true) x = 9; x", 9)
	runNum(t, "var n = 0; while (true) { n++; if (n === 3) break; } n", 3)
	runNum(t, "var hits = 0; true || hits++; hits", 0)
}

func TestStringOps(t *testing.T) {
	runStr(t, `'foo' + 'bar'`, "foobar")
	runStr(t, `'n=' + 42`, "n=42")
	runStr(t, `'abc'.toUpperCase()`, "ABC")
	runStr(t, `'  x  '.trim()`, "x")
	runStr(t, `'a,b,c'.split(',')[1]`, "b")
	runNum(t, `'hello'.length`, 5)
	runNum(t, `'hello'.indexOf('llo')`, 2)
	runStr(t, `'ab'.repeat(3)`, "ababab")
}

func TestComparisons(t *testing.T) {
	cases := []struct {
		src  string
		want bool
	}{
		{"1 < 2", true},
		{"2 <= 2", true},
		{"3 > 4", false},
		{"'a' < 'b'", true},
		{"1 == '1'", true},
		{"1 === '1'", false},
		{"null == undefined", true},
		{"null === undefined", false},
		{"NaN === NaN", false},
		{"1 != 2", true},
		{"1 !== 1", false},
	}
	for _, c := range cases {
		runBool(t, c.src, c.want)
	}
}

func TestLogicalOperators(t *testing.T) {
	runNum(t, "1 && 2", 2)
	runNum(t, "0 || 5", 5)
	runNum(t, "0 ?? 5", 0)
	runNum(t, "null ?? 5", 5)
	runNum(t, "undefined ?? 7", 7)
	runBool(t, "!0", true)
	// Short circuit must not evaluate the right side.
	runNum(t, `
		var hits = 0;
		function bump() { hits++; return true; }
		false && bump();
		true || bump();
		hits;
	`, 0)
}

func TestTernaryAndSequence(t *testing.T) {
	runNum(t, "1 ? 10 : 20", 10)
	runNum(t, "0 ? 10 : 20", 20)
	runNum(t, "(1, 2, 3)", 3)
}

func TestTypeof(t *testing.T) {
	runStr(t, "typeof 1", "number")
	runStr(t, "typeof 'x'", "string")
	runStr(t, "typeof true", "boolean")
	runStr(t, "typeof undefined", "undefined")
	runStr(t, "typeof null", "object")
	runStr(t, "typeof {}", "object")
	runStr(t, "typeof function() {}", "function")
	// typeof on an unresolved name must not throw.
	runStr(t, "typeof neverDeclared", "undefined")
}

func TestUpdateExpressions(t *testing.T) {
	runNum(t, "var x = 5; x++", 5)
	runNum(t, "var x = 5; x++; x", 6)
	runNum(t, "var x = 5; ++x", 6)
	runNum(t, "var x = 5; x--; x", 4)
	runNum(t, "var o = {n: 1}; o.n++; o.n", 2)
	runNum(t, "var o = {n: 1}; ++o.n", 2)
	runNum(t, "var a = [7]; a[0]++; a[0]", 8)
	runNum(t, "var a = [7]; a[0]++", 7)
}

func TestCompoundAssignment(t *testing.T) {
	runNum(t, "var x = 10; x += 5; x", 15)
	runNum(t, "var x = 10; x -= 3; x", 7)
	runNum(t, "var x = 10; x *= 2; x", 20)
	runNum(t, "var x = 7; x %= 4; x", 3)
	runNum(t, "var o = {n: 1}; o.n += 9; o.n", 10)
	runNum(t, "var a = [1]; a[0] <<= 3; a[0]", 8)
	runStr(t, "var s = 'a'; s += 'b'; s", "ab")
}

// ---------------------------------------------------------------------------
// Objects and arrays
// ---------------------------------------------------------------------------

func TestObjectLiterals(t *testing.T) {
	runNum(t, "({a: 1, b: 2}).b", 2)
	runNum(t, "var k = 'dyn'; ({[k]: 9})[k]", 9)
	runNum(t, "var a = 3; ({a}).a", 3)
	runNum(t, "var o = {f: function() { return this.n; }, n: 5}; o.f()", 5)
	runBool(t, "'a' in {a: 1}", true)
	runBool(t, "'b' in {a: 1}", false)
	runBool(t, "var o = {a: 1}; delete o.a; 'a' in o", false)
}

func TestArrays(t *testing.T) {
	runNum(t, "[1, 2, 3].length", 3)
	runNum(t, "[1, 2, 3][1]", 2)
	runNum(t, "var a = []; a.push(4); a.push(5); a[1]", 5)
	runNum(t, "var a = [1, 2, 3]; a.pop(); a.length", 2)
	runStr(t, "[1, 2, 3].join('-')", "1-2-3")
	runNum(t, "[1, 2, 3].map(function(x) { return x * 2; })[2]", 6)
	runNum(t, "[1, 2, 3, 4].filter(function(x) { return x % 2 === 0; }).length", 2)
	runNum(t, "[1, 2, 3].reduce(function(a, b) { return a + b; }, 0)", 6)
	runNum(t, "var a = [1, 2]; a.length = 5; a.length", 5)
	runNum(t, "var sp = [2, 3]; [1, ...sp, 4].length", 4)
	runNum(t, "var sp = [2, 3]; [1, ...sp, 4][2]", 3)
}

func TestMemberChains(t *testing.T) {
	runNum(t, "var o = {a: {b: {c: 42}}}; o.a.b.c", 42)
	runNum(t, "var o = {}; o.x = {}; o.x.y = 7; o.x.y", 7)
	runNum(t, "var m = {grid: [[1, 2], [3, 4]]}; m.grid[1][0]", 3)
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func TestIfElse(t *testing.T) {
	runNum(t, "var x; if (1 < 2) { x = 1; } else { x = 2; } x", 1)
	runNum(t, "var x; if (1 > 2) { x = 1; } else { x = 2; } x", 2)
	runNum(t, "var x = 0; if (true) x = 9; x", 9)
}

func TestLoops(t *testing.T) {
	runNum(t, "var s = 0; for (var i = 1; i <= 10; i++) s += i; s", 55)
	runNum(t, "var s = 0; var i = 0; while (i < 5) { s += i; i++; } s", 10)
	runNum(t, "var n = 0; do { n++; } while (n < 3); n", 3)
	runNum(t, "var n = 0; do { n++; } while (false); n", 1)
}

func TestBreakContinue(t *testing.T) {
	runNum(t, `
		var s = 0;
		for (var i = 0; i < 100; i++) {
			if (i === 5) break;
			s += i;
		}
		s;
	`, 10)
	runNum(t, `
		var s = 0;
		for (var i = 0; i < 10; i++) {
			if (i % 2 === 0) continue;
			s += i;
		}
		s;
	`, 25)
	runNum(t, `
		var hits = 0;
		outer: for (var i = 0; i < 3; i++) {
			for (var j = 0; j < 3; j++) {
				if (j === 1) continue outer;
				hits++;
			}
		}
		hits;
	`, 3)
	runNum(t, `
		var hits = 0;
		outer: for (var i = 0; i < 3; i++) {
			for (var j = 0; j < 3; j++) {
				if (i === 1) break outer;
				hits++;
			}
		}
		hits;
	`, 3)
}

func TestSwitch(t *testing.T) {
	src := `
		function classify(n) {
			switch (n) {
			case 0:
				return "zero";
			case 1:
			case 2:
				return "small";
			default:
				return "big";
			}
		}
		classify(%s);
	`
	runStr(t, strings.Replace(src, "%s", "0", 1), "zero")
	runStr(t, strings.Replace(src, "%s", "2", 1), "small")
	runStr(t, strings.Replace(src, "%s", "9", 1), "big")

	// Fall-through without break.
	runNum(t, `
		var n = 0;
		switch (1) {
		case 1: n += 1;
		case 2: n += 10;
			break;
		case 3: n += 100;
		}
		n;
	`, 11)

	// break out of switch inside a loop targets the switch.
	runNum(t, `
		var n = 0;
		for (var i = 0; i < 3; i++) {
			switch (i) {
			case 1:
				break;
			default:
				n++;
			}
		}
		n;
	`, 2)
}

func TestForIn(t *testing.T) {
	runNum(t, `
		var o = {a: 1, b: 2, c: 3};
		var total = 0;
		for (var k in o) total += o[k];
		total;
	`, 6)
	runStr(t, `
		var seen = [];
		for (var k in {x: 1, y: 2}) seen.push(k);
		seen.join(',');
	`, "x,y")
}

func TestForOf(t *testing.T) {
	runNum(t, `
		var total = 0;
		for (var v of [10, 20, 30]) total += v;
		total;
	`, 60)
	runNum(t, `
		var total = 0;
		for (var v of [1, 2, 3, 4, 5]) {
			if (v === 4) break;
			total += v;
		}
		total;
	`, 6)
	runNum(t, `
		let total = 0;
		for (const v of [1, 2, 3]) total += v;
		total;
	`, 6)
}

// ---------------------------------------------------------------------------
// Functions and closures
// ---------------------------------------------------------------------------

func TestFunctions(t *testing.T) {
	runNum(t, "function add(a, b) { return a + b; } add(2, 3)", 5)
	runNum(t, "var f = function(x) { return x * x; }; f(6)", 36)
	runNum(t, "var f = (x) => x + 1; f(4)", 5)
	runNum(t, "var f = x => x * 2; f(21)", 42)
	// Missing arguments become undefined, extras are dropped.
	runBool(t, "function f(a, b) { return b === undefined; } f(1)", true)
	runNum(t, "function f(a) { return a; } f(1, 2, 3)", 1)
	// Recursion.
	runNum(t, "function fact(n) { return n <= 1 ? 1 : n * fact(n - 1); } fact(6)", 720)
}

func TestDefaultAndRestParams(t *testing.T) {
	runNum(t, "function f(a, b = 10) { return a + b; } f(1)", 11)
	runNum(t, "function f(a, b = 10) { return a + b; } f(1, 2)", 3)
	runNum(t, "function f(a = 1, b = a * 2) { return a + b; } f()", 3)
	runNum(t, "function f(...rest) { return rest.length; } f(1, 2, 3)", 3)
	runNum(t, "function f(first, ...rest) { return rest[0]; } f(1, 2, 3)", 2)
	runNum(t, "function f(...rest) { return rest.length; } f()", 0)
}

func TestSpreadCalls(t *testing.T) {
	runNum(t, `
		function sum(a, b, c, d) { return a + b + c + d; }
		var xs = [2, 3];
		sum(1, ...xs, 4);
	`, 10)
	// Spread through a method call keeps the receiver.
	runNum(t, `
		var o = {base: 10, add: function(a, b) { return this.base + a + b; }};
		var xs = [1, 2];
		o.add(...xs);
	`, 13)
}

func TestClosures(t *testing.T) {
	// Captures are by reference.
	runNum(t, `
		function counter() {
			var n = 0;
			return function() { n++; return n; };
		}
		var c = counter();
		c(); c(); c();
	`, 3)
	// Independent closures do not share state.
	runNum(t, `
		function counter() {
			var n = 0;
			return function() { return ++n; };
		}
		var a = counter();
		var b = counter();
		a(); a();
		b();
	`, 1)
	// Sibling closures over the same variable do share it.
	runNum(t, `
		function pair() {
			var n = 0;
			return [function() { n += 10; }, function() { return n; }];
		}
		var p = pair();
		p[0](); p[0]();
		p[1]();
	`, 20)
}

func TestThisBinding(t *testing.T) {
	runNum(t, `
		var o = {
			n: 7,
			get: function() { return this.n; }
		};
		o.get();
	`, 7)
	// Arrow functions inherit this lexically.
	runNum(t, `
		var o = {
			n: 3,
			make: function() { return () => this.n; }
		};
		o.make()();
	`, 3)
	// Computed method calls keep the receiver.
	runNum(t, `
		var o = {n: 5, get: function() { return this.n; }};
		var k = 'get';
		o[k]();
	`, 5)
}

func TestNewAndPrototypes(t *testing.T) {
	runNum(t, `
		function Point(x, y) { this.x = x; this.y = y; }
		Point.prototype.norm1 = function() { return this.x + this.y; };
		var p = new Point(3, 4);
		p.norm1();
	`, 7)
	runBool(t, `
		function Point() {}
		new Point() instanceof Point;
	`, true)
	runBool(t, `
		function A() {} function B() {}
		new A() instanceof B;
	`, false)
	// A constructor returning an object overrides this.
	runNum(t, `
		function F() { this.n = 1; return {n: 2}; }
		new F().n;
	`, 2)
	runNum(t, `
		function F() { this.n = 1; return 42; }
		new F().n;
	`, 1)
}

func TestFunctionMethods(t *testing.T) {
	runNum(t, `
		function f(a, b) { return this.n + a + b; }
		f.call({n: 1}, 2, 3);
	`, 6)
	runNum(t, `
		function f(a, b) { return this.n + a + b; }
		f.apply({n: 1}, [2, 3]);
	`, 6)
	runNum(t, `
		function f(a, b) { return a + b; }
		var add1 = f.bind(null, 1);
		add1(10);
	`, 11)
}

// ---------------------------------------------------------------------------
// Scoping
// ---------------------------------------------------------------------------

func TestLexicalScope(t *testing.T) {
	runNum(t, `
		let x = 1;
		{
			let x = 2;
		}
		x;
	`, 1)
	runNum(t, `
		var x = 1;
		function f() { var x = 2; return x; }
		f();
		x;
	`, 1)
	runNum(t, "const c = 9; c", 9)
}

func TestConstAssignmentRejected(t *testing.T) {
	_, err := compiler.Compile("test.js", "const c = 1; c = 2;")
	if err == nil {
		t.Fatal("expected compile error for assignment to const")
	}
	var se *compiler.SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SyntaxError, got %T", err)
	}
}

func TestVarHoisting(t *testing.T) {
	runBool(t, "var before = typeof x === 'undefined'; var x = 1; before", true)
	runNum(t, `
		function f() {
			if (false) { var x = 1; }
			x = 5;
			return x;
		}
		f();
	`, 5)
}

func TestFunctionHoisting(t *testing.T) {
	runNum(t, "var r = f(); function f() { return 8; } r", 8)
	runNum(t, `
		function outer() {
			return inner();
			function inner() { return 3; }
		}
		outer();
	`, 3)
}

func TestNestedFunctionDeclarations(t *testing.T) {
	// Inner declarations are function-scoped vars, not lexical bindings;
	// declaring one must not read as a redeclaration of its own name.
	runNum(t, `
		function outer() {
			function inner() { return 5; }
			return inner();
		}
		outer();
	`, 5)
	runNum(t, `
		function f() {
			function g() { return 1; }
			function h() { return g() + 2; }
			return h();
		}
		f();
	`, 3)
}

// ---------------------------------------------------------------------------
// Destructuring
// ---------------------------------------------------------------------------

func TestArrayDestructuring(t *testing.T) {
	runNum(t, "var [a, b] = [1, 2]; a + b", 3)
	runNum(t, "var [a, , c] = [1, 2, 3]; c", 3)
	runNum(t, "var [a, ...rest] = [1, 2, 3, 4]; rest.length", 3)
	runNum(t, "var [a = 5] = []; a", 5)
	runNum(t, "var [a = 5] = [2]; a", 2)
	runNum(t, "let [x, y] = [10, 20]; x * y", 200)
	runNum(t, "var a = 1, b = 2; [a, b] = [b, a]; a * 10 + b", 21)
}

func TestObjectDestructuring(t *testing.T) {
	runNum(t, "var {a, b} = {a: 1, b: 2}; a + b", 3)
	runNum(t, "var {a: x} = {a: 7}; x", 7)
	runNum(t, "var {missing = 4} = {}; missing", 4)
	runNum(t, "var {a: {b}} = {a: {b: 6}}; b", 6)
	runNum(t, "function f({x, y}) { return x + y; } f({x: 1, y: 2})", 3)
	runNum(t, "function f([a, b]) { return a * b; } f([3, 4])", 12)
}

func TestDestructuringAssignmentValue(t *testing.T) {
	// The expression's value is the right-hand side itself.
	v, m := run(t, "var a, b, c; [a, b, c] = [1, 2, 3]")
	out, ok := m.Export(v).([]interface{})
	if !ok {
		t.Fatalf("completion value is %T, want array", m.Export(v))
	}
	if len(out) != 3 || out[0] != 1.0 || out[1] != 2.0 || out[2] != 3.0 {
		t.Errorf("completion value = %v, want [1 2 3]", out)
	}

	// And the globals are bound.
	for i, name := range []string{"a", "b", "c"} {
		g, ok := m.GetGlobal(name)
		if !ok {
			t.Fatalf("global %s not bound", name)
		}
		if g.Num() != float64(i+1) {
			t.Errorf("global %s = %v, want %d", name, g.Num(), i+1)
		}
	}
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

func TestThrowCatch(t *testing.T) {
	runNum(t, `
		var x = 0;
		try {
			throw 42;
		} catch (e) {
			x = e;
		}
		x;
	`, 42)
	runStr(t, `
		function boom() { throw new Error("kaput"); }
		var msg = "";
		try { boom(); } catch (e) { msg = e.message; }
		msg;
	`, "kaput")
	// Catch binding is scoped to the handler.
	runStr(t, `
		var e = "outer";
		try { throw "inner"; } catch (e) {}
		e;
	`, "outer")
}

func TestFinally(t *testing.T) {
	runStr(t, `
		var log = [];
		try {
			log.push("try");
		} finally {
			log.push("finally");
		}
		log.join(',');
	`, "try,finally")
	runStr(t, `
		var log = [];
		try {
			try {
				throw "x";
			} finally {
				log.push("inner");
			}
		} catch (e) {
			log.push("caught:" + e);
		}
		log.join(',');
	`, "inner,caught:x")
	// Finally runs on return paths.
	runStr(t, `
		var log = [];
		function f() {
			try {
				return "ret";
			} finally {
				log.push("fin");
			}
		}
		log.push(f());
		log.join(',');
	`, "fin,ret")
	// Finally runs when break leaves the try.
	runStr(t, `
		var log = [];
		for (var i = 0; i < 3; i++) {
			try {
				if (i === 1) break;
				log.push("i" + i);
			} finally {
				log.push("fin" + i);
			}
		}
		log.join(',');
	`, "i0,fin0,fin1")
}

func TestUncaughtThrow(t *testing.T) {
	m := vm.New()
	_, err := m.RunScript(compileSrc(t, `throw new TypeError("bad");`), 0)
	if err == nil {
		t.Fatal("expected error from uncaught throw")
	}
	var re *vm.RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RuntimeError, got %T: %v", err, err)
	}
	if !m.IsErrorKind(err, vm.TypeErrorKind) {
		t.Errorf("expected TypeError kind, message: %s", re.Message)
	}
	if !strings.Contains(re.Message, "bad") {
		t.Errorf("message %q does not mention the thrown text", re.Message)
	}
}

func TestRuntimeErrors(t *testing.T) {
	m := vm.New()
	_, err := m.RunScript(compileSrc(t, "undefinedName + 1"), 0)
	if !m.IsErrorKind(err, vm.ReferenceErrorKind) {
		t.Errorf("unresolved read: got %v, want ReferenceError", err)
	}

	m = vm.New()
	_, err = m.RunScript(compileSrc(t, "null.x"), 0)
	if !m.IsErrorKind(err, vm.TypeErrorKind) {
		t.Errorf("property on null: got %v, want TypeError", err)
	}

	m = vm.New()
	_, err = m.RunScript(compileSrc(t, "var x = 3; x()"), 0)
	if !m.IsErrorKind(err, vm.TypeErrorKind) {
		t.Errorf("calling a number: got %v, want TypeError", err)
	}
}

func TestErrorStackTrace(t *testing.T) {
	m := vm.New()
	src := `function inner() { throw new Error("deep"); }
function outer() { inner(); }
outer();`
	_, err := m.RunScript(compileSrc(t, src), 0)
	var re *vm.RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RuntimeError, got %T", err)
	}
	if len(re.Stack) < 3 {
		t.Fatalf("stack has %d entries, want at least 3", len(re.Stack))
	}
	if re.Stack[0].Function != "inner" {
		t.Errorf("innermost frame is %q, want inner", re.Stack[0].Function)
	}
	if re.Stack[1].Function != "outer" {
		t.Errorf("second frame is %q, want outer", re.Stack[1].Function)
	}
}

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

func TestGeneratorBasics(t *testing.T) {
	runNum(t, `
		function* gen() { yield 1; yield 2; yield 3; }
		var g = gen();
		g.next().value + g.next().value + g.next().value;
	`, 6)
	runBool(t, `
		function* gen() { yield 1; }
		var g = gen();
		g.next();
		g.next().done;
	`, true)
	// next() argument becomes the yield expression's value.
	runNum(t, `
		function* echo() { var got = yield 0; yield got; }
		var g = echo();
		g.next();
		g.next(41).value;
	`, 41)
}

func TestGeneratorFibonacci(t *testing.T) {
	src := `
		function* fib() {
			var a = 0, b = 1;
			while (true) {
				yield a;
				var next = a + b;
				a = b;
				b = next;
			}
		}
		var g = fib();
		var out = [];
		for (var i = 0; i < 11; i++) out.push(g.next().value);
		out;
	`
	v, m := run(t, src)
	out, ok := m.Export(v).([]interface{})
	if !ok {
		t.Fatalf("result is %T, want array", m.Export(v))
	}
	want := []float64{0, 1, 1, 2, 3, 5, 8, 13, 21, 34, 55}
	if len(out) != len(want) {
		t.Fatalf("got %d values, want %d", len(out), len(want))
	}
	for i, w := range want {
		if out[i] != w {
			t.Errorf("fib[%d] = %v, want %v", i, out[i], w)
		}
	}
}

func TestGeneratorDoneStaysDone(t *testing.T) {
	runNum(t, `
		var hits = 0;
		function* g() { hits++; yield 1; }
		var it = g();
		it.next(); it.next();
		it.next(); it.next();
		hits;
	`, 1)
	runBool(t, `
		function* g() { yield 1; }
		var it = g();
		it.next(); it.next();
		var r = it.next();
		r.done === true && r.value === undefined;
	`, true)
}

func TestGeneratorReturnAndThrow(t *testing.T) {
	runBool(t, `
		function* g() { yield 1; yield 2; }
		var it = g();
		it.next();
		var r = it.return(99);
		r.done === true && r.value === 99;
	`, true)
	runStr(t, `
		var log = [];
		function* g() {
			try { yield 1; } catch (e) { log.push("caught:" + e); }
		}
		var it = g();
		it.next();
		it.throw("boom");
		log.join(',');
	`, "caught:boom")
	// return drains finally blocks inside the generator.
	runStr(t, `
		var log = [];
		function* g() {
			try { yield 1; } finally { log.push("fin"); }
		}
		var it = g();
		it.next();
		it.return(0);
		log.join(',');
	`, "fin")
}

func TestYieldDelegation(t *testing.T) {
	runNum(t, `
		function* inner() { yield 1; yield 2; }
		function* outer() { yield* inner(); yield 3; }
		var g = outer();
		g.next().value + g.next().value + g.next().value;
	`, 6)
}

func TestGeneratorForOf(t *testing.T) {
	runNum(t, `
		function* range(n) { for (var i = 0; i < n; i++) yield i; }
		var total = 0;
		for (var v of range(5)) total += v;
		total;
	`, 10)
}

// ---------------------------------------------------------------------------
// Instruction budgets and fibers
// ---------------------------------------------------------------------------

func TestInstructionBudget(t *testing.T) {
	m := vm.New()
	_, err := m.RunScript(compileSrc(t, "i = 0; while (true) i++;"), 500)
	var timeout *vm.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
	if timeout.Limit != 500 {
		t.Errorf("Limit = %d, want 500", timeout.Limit)
	}
	if timeout.Fiber.State() != vm.FiberPaused {
		t.Fatalf("fiber state = %v, want paused", timeout.Fiber.State())
	}
	if timeout.Fiber.InstructionCount() < 500 {
		t.Errorf("instruction count = %d, want >= 500", timeout.Fiber.InstructionCount())
	}

	iv, ok := m.GetGlobal("i")
	if !ok {
		t.Fatal("global i not bound after timeout")
	}
	before := iv.Num()
	if before <= 0 {
		t.Fatalf("i = %v after 500 instructions, want > 0", before)
	}

	// Resuming continues from where the fiber stopped, not from zero.
	_, err = timeout.Fiber.Resume(500)
	if !errors.As(err, &timeout) {
		t.Fatalf("expected second timeout, got %v", err)
	}
	iv, _ = m.GetGlobal("i")
	if iv.Num() <= before {
		t.Errorf("i did not advance across resume: %v -> %v", before, iv.Num())
	}
	if timeout.Fiber.InstructionCount() < 1000 {
		t.Errorf("instruction count = %d, want >= 1000 after two drives", timeout.Fiber.InstructionCount())
	}
}

func TestBudgetCompletion(t *testing.T) {
	// A script that finishes under budget completes normally.
	m := vm.New()
	v, err := m.RunScript(compileSrc(t, "var s = 0; for (var i = 0; i < 10; i++) s += i; s;"), 100000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Num() != 45 {
		t.Errorf("got %v, want 45", v.Num())
	}
}

func TestResumeToCompletion(t *testing.T) {
	m := vm.New()
	script := compileSrc(t, "var s = 0; for (var i = 0; i < 1000; i++) s += i; s;")

	f, err := m.CreateFiber(script)
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.Run(100)
	var timeout *vm.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	// Drive to completion with unlimited resumes.
	v, err := f.Resume(0)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if v.Num() != 499500 {
		t.Errorf("got %v, want 499500", v.Num())
	}
	if f.State() != vm.FiberDone {
		t.Errorf("state = %v, want done", f.State())
	}
}

func TestHostPause(t *testing.T) {
	m := vm.New()
	script := compileSrc(t, "suspendHere() + 1;")

	var fiber *vm.Fiber
	m.SetGlobal("suspendHere", m.NewNativeFunction("suspendHere", 0,
		func(v *vm.VM, this vm.Value, args []vm.Value) (vm.Value, error) {
			fiber.Pause()
			return vm.Undefined, nil
		}))

	f, err := m.CreateFiber(script)
	if err != nil {
		t.Fatal(err)
	}
	fiber = f

	_, err = f.Run(0)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if f.State() != vm.FiberPaused {
		t.Fatalf("state = %v, want paused", f.State())
	}

	// The injected value becomes the suspended call's result.
	f.SetReturnValue(vm.NumberValue(41))
	v, err := f.Resume(0)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if v.Num() != 42 {
		t.Errorf("got %v, want 42", v.Num())
	}
}

func TestFiberStateErrors(t *testing.T) {
	m := vm.New()
	f, err := m.CreateFiber(compileSrc(t, "1;"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Resume(0); err == nil {
		t.Error("resuming a created fiber should fail")
	}
	if _, err := f.Run(0); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if _, err := f.Run(0); err == nil {
		t.Error("running a done fiber should fail")
	}
}

// ---------------------------------------------------------------------------
// Isolation between VM instances
// ---------------------------------------------------------------------------

func TestGlobalIsolation(t *testing.T) {
	script := compileSrc(t, "x = (typeof x === 'undefined') ? 1 : x + 1; x;")
	a, b := vm.New(), vm.New()

	for i := 1; i <= 3; i++ {
		v, err := a.RunScript(script, 0)
		if err != nil {
			t.Fatal(err)
		}
		if v.Num() != float64(i) {
			t.Errorf("vm a run %d: got %v", i, v.Num())
		}
	}
	// The second VM never saw those runs.
	v, err := b.RunScript(script, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Num() != 1 {
		t.Errorf("vm b: got %v, want 1", v.Num())
	}
}

func TestBuiltinPrototypeIsolation(t *testing.T) {
	a, b := vm.New(), vm.New()

	poison := compileSrc(t, `
		Array.prototype.first = function() { return this[0]; };
		[10, 20].first();
	`)
	v, err := a.RunScript(poison, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Num() != 10 {
		t.Errorf("patched prototype in vm a: got %v, want 10", v.Num())
	}

	// The same lookup in the untouched VM must fail.
	probe := compileSrc(t, "typeof [].first;")
	pv, err := b.RunScript(probe, 0)
	if err != nil {
		t.Fatal(err)
	}
	if b.GoString(pv) != "undefined" {
		t.Errorf("vm b sees Array.prototype.first as %q, want undefined", b.GoString(pv))
	}
}

func TestScriptSharedAcrossVMs(t *testing.T) {
	// One compiled script, many VMs; each gets its own globals.
	script := compileSrc(t, "var n = (typeof n === 'undefined') ? 0 : n; n += 5; n;")
	for i := 0; i < 3; i++ {
		m := vm.New()
		v, err := m.RunScript(script, 0)
		if err != nil {
			t.Fatal(err)
		}
		if v.Num() != 5 {
			t.Errorf("vm %d: got %v, want 5", i, v.Num())
		}
	}
}

// ---------------------------------------------------------------------------
// Host interop
// ---------------------------------------------------------------------------

func TestHostRoundTrip(t *testing.T) {
	m := vm.New()
	v, err := m.ToValue(map[string]interface{}{
		"name":  "kestrel",
		"count": 3.0,
		"tags":  []interface{}{"a", "b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	m.SetGlobal("cfg", v)

	res, err := m.RunScript(compileSrc(t, "cfg.name + ':' + cfg.count + ':' + cfg.tags.length;"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if m.GoString(res) != "kestrel:3:2" {
		t.Errorf("got %q", m.GoString(res))
	}
}

func TestExportedFunctionCallsBack(t *testing.T) {
	m := vm.New()
	_, err := m.RunScript(compileSrc(t, "function double(x) { return x * 2; }"), 0)
	if err != nil {
		t.Fatal(err)
	}
	fv, ok := m.GetGlobal("double")
	if !ok {
		t.Fatal("double not bound")
	}
	fn, ok := m.Export(fv).(*vm.Func)
	if !ok {
		t.Fatalf("export is %T, want *vm.Func", m.Export(fv))
	}
	out, err := fn.Call(21)
	if err != nil {
		t.Fatal(err)
	}
	if out != 42.0 {
		t.Errorf("got %v, want 42", out)
	}

	// Converting back restores identity.
	back, err := m.ToValue(fn)
	if err != nil {
		t.Fatal(err)
	}
	if back != fv {
		t.Error("ToValue(Export(f)) lost function identity")
	}
}

func TestNativeFunctionThrow(t *testing.T) {
	m := vm.New()
	m.SetGlobal("fail", m.NewNativeFunction("fail", 0,
		func(v *vm.VM, this vm.Value, args []vm.Value) (vm.Value, error) {
			return vm.Undefined, vm.Throw(v.NewError(vm.RangeErrorKind, "out of range"))
		}))
	res, err := m.RunScript(compileSrc(t, `
		var msg = "";
		try { fail(); } catch (e) { msg = e.name + ": " + e.message; }
		msg;
	`), 0)
	if err != nil {
		t.Fatal(err)
	}
	if m.GoString(res) != "RangeError: out of range" {
		t.Errorf("got %q", m.GoString(res))
	}
}
