package dslx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func evalString(t *testing.T, expr string, data map[string]any) Value {
	t.Helper()
	v, err := Evaluate(expr, NewContext(data))
	if err != nil {
		t.Fatalf("Evaluate(%q) error: %v", expr, err)
	}
	return v
}

func TestLiteralsAndArithmetic(t *testing.T) {
	cases := map[string]float64{
		"1 + 2":     3,
		"10 - 4":    6,
		"3 * 4":     12,
		"10 / 4":    2.5,
		"10 % 3":    1,
		"2 + 3 * 4": 14,
		"(2 + 3) * 4": 20,
	}
	for expr, want := range cases {
		v := evalString(t, expr, nil)
		if v.Kind() != KindNumber || v.num != want {
			t.Errorf("%q = %v, want %v", expr, v.ToAny(), want)
		}
	}
}

func TestStringConcat(t *testing.T) {
	v := evalString(t, `"hello " + "world"`, nil)
	if v.AsString() != "hello world" {
		t.Errorf("got %q", v.AsString())
	}
}

func TestMemberAccessAndIndexing(t *testing.T) {
	data := map[string]any{
		"user": map[string]any{"name": "ada", "tags": []any{"a", "b", "c"}},
	}
	v := evalString(t, "user.name", data)
	if v.AsString() != "ada" {
		t.Fatalf("got %q", v.AsString())
	}
	v = evalString(t, "user.tags[1]", data)
	if v.AsString() != "b" {
		t.Fatalf("got %q", v.AsString())
	}
}

func TestTernaryAndLogical(t *testing.T) {
	v := evalString(t, `true ? "yes" : "no"`, nil)
	if v.AsString() != "yes" {
		t.Fatalf("got %q", v.AsString())
	}
	v = evalString(t, `false || "fallback"`, nil)
	if v.AsString() != "fallback" {
		t.Fatalf("got %q", v.AsString())
	}
	v = evalString(t, `1 < 2 && 2 < 3`, nil)
	if !v.Truthy() {
		t.Fatalf("expected true")
	}
}

func TestArrayAndObjectLiterals(t *testing.T) {
	v := evalString(t, `[1, 2, 3]`, nil)
	if len(v.Items()) != 3 {
		t.Fatalf("got %v", v.ToAny())
	}
	v = evalString(t, `{name: "ada", age: 30}`, nil)
	if v.Member(String("name")).AsString() != "ada" {
		t.Fatalf("got %v", v.ToAny())
	}
}

func TestPipeFunctionCallInjection(t *testing.T) {
	data := map[string]any{"items": []any{3.0, 1.0, 2.0}}
	v := evalString(t, "items | sort()", data)
	got := v.Items()
	if len(got) != 3 || got[0].num != 1 || got[2].num != 3 {
		t.Fatalf("got %v", v.ToAny())
	}
}

func TestPipeRebind(t *testing.T) {
	data := map[string]any{"name": "ada"}
	v := evalString(t, `name | data + "!"`, data)
	if v.AsString() != "ada!" {
		t.Fatalf("got %q", v.AsString())
	}
}

// TestPipeRebindNonCallPath covers the non-call fallback of evalPipe: the
// right side is evaluated in a child context with "data" rebound to the
// piped value, not injected as a call argument, so "it" must not resolve.
func TestPipeRebindNonCallPath(t *testing.T) {
	vars := map[string]any{"count": 2.0}
	v := evalString(t, `count | data * 10`, vars)
	if v.num != 20 {
		t.Fatalf("expected data rebound to piped value, got %v", v.ToAny())
	}

	if _, err := Evaluate(`count | it * 10`, NewContext(vars)); err == nil {
		t.Fatal("expected error: \"it\" is no longer the pipe rebind name")
	}
}

func TestBuiltinFunctions(t *testing.T) {
	if got := evalString(t, `length("hello")`, nil); got.num != 5 {
		t.Errorf("length: got %v", got.ToAny())
	}
	if got := evalString(t, `toString(42)`, nil); got.AsString() != "42" {
		t.Errorf("toString: got %q", got.AsString())
	}
	if got := evalString(t, `toNumber("42")`, nil); got.num != 42 {
		t.Errorf("toNumber: got %v", got.ToAny())
	}
	if got := evalString(t, `join([1,2,3], "-")`, nil); got.AsString() != "1-2-3" {
		t.Errorf("join: got %q", got.AsString())
	}
	if got := evalString(t, `split("a,b,c", ",")`, nil); len(got.Items()) != 3 {
		t.Errorf("split: got %v", got.ToAny())
	}
	if got := evalString(t, `default(null, "fallback")`, nil); got.AsString() != "fallback" {
		t.Errorf("default: got %q", got.AsString())
	}
	if got := evalString(t, `includes([1,2,3], 2)`, nil); !got.Truthy() {
		t.Errorf("includes: expected true")
	}
}

func TestFilterMapFind(t *testing.T) {
	data := map[string]any{
		"servers": []any{
			map[string]any{"name": "a", "active": true},
			map[string]any{"name": "b", "active": false},
			map[string]any{"name": "c", "active": true},
		},
	}
	v := evalString(t, "servers | filterActive()", data)
	if len(v.Items()) != 2 {
		t.Fatalf("filterActive: got %v", v.ToAny())
	}
	v = evalString(t, "servers | getNames()", data)
	names := v.Items()
	if len(names) != 3 || names[0].AsString() != "a" {
		t.Fatalf("getNames: got %v", v.ToAny())
	}
	v = evalString(t, `servers | filterBy("name", "b")`, data)
	if len(v.Items()) != 1 || v.Items()[0].Member(String("name")).AsString() != "b" {
		t.Fatalf("filterBy: got %v", v.ToAny())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	data := map[string]any{"obj": map[string]any{"a": 1.0}}
	v := evalString(t, "toJSON(obj)", data)
	if v.AsString() != `{"a":1}` {
		t.Fatalf("got %q", v.AsString())
	}
	v = evalString(t, `fromJSON("{\"x\": 5}").x`, nil)
	if v.num != 5 {
		t.Fatalf("got %v", v.ToAny())
	}
}

func TestDivisionByZeroError(t *testing.T) {
	_, err := Evaluate("1 / 0", NewContext(nil))
	if err == nil {
		t.Fatal("expected error")
	}
	ee, ok := err.(*EvalError)
	if !ok || ee.Code != ErrDivisionByZero {
		t.Fatalf("got %v", err)
	}
}

func TestUndefinedMemberIsNullNotError(t *testing.T) {
	v := evalString(t, "missing.nested.path", nil)
	if v.Kind() != KindNull {
		t.Fatalf("expected null, got %v", v.ToAny())
	}
}

func TestUnaryOperators(t *testing.T) {
	if got := evalString(t, "!false", nil); !got.Truthy() {
		t.Errorf("expected true")
	}
	if got := evalString(t, "-5", nil); got.num != -5 {
		t.Errorf("got %v", got.ToAny())
	}
}

func TestFromAnyToAnyRoundTrip(t *testing.T) {
	original := map[string]any{
		"name":   "ada",
		"age":    30.0,
		"active": true,
		"tags":   []any{"a", "b"},
		"nested": map[string]any{"x": 1.0},
	}
	v := FromAny(original)
	require.Equal(t, KindObject, v.Kind())
	require.Equal(t, original, v.ToAny())

	back := evalString(t, "toJSON(obj)", map[string]any{"obj": original})
	again := evalString(t, "fromJSON(str)", map[string]any{"str": back.AsString()})
	require.Equal(t, original, again.ToAny())
}

func TestMergePickOmit(t *testing.T) {
	v := evalString(t, `merge({a: 1}, {b: 2})`, nil)
	if v.Member(String("a")).num != 1 || v.Member(String("b")).num != 2 {
		t.Fatalf("merge: got %v", v.ToAny())
	}
	v = evalString(t, `pick({a: 1, b: 2, c: 3}, ["a", "c"])`, nil)
	if _, ok := v.Raw()["b"]; ok {
		t.Fatalf("pick: should not contain b: %v", v.ToAny())
	}
	v = evalString(t, `omit({a: 1, b: 2}, ["b"])`, nil)
	if _, ok := v.Raw()["b"]; ok {
		t.Fatalf("omit: should not contain b: %v", v.ToAny())
	}
}
