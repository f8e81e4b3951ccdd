package jserror

import (
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }

func TestParseStack(t *testing.T) {
	frames := ParseStack(`Error: err
        at Error (unknown source)
        at test (native)
        at new <anonymous> (test0:3:5)
        at f (test1:2:19)
        at g (test2:1:15)
        at test3:1
        at test3:1:1`)

	want := []ParsedFrame{
		{Function: strp("Error"), Source: "unknown source"},
		{Function: strp("test"), Source: "native"},
		{Function: strp("<anonymous>"), Source: "test0", Line: intp(3), Column: intp(5)},
		{Function: strp("f"), Source: "test1", Line: intp(2), Column: intp(19)},
		{Function: strp("g"), Source: "test2", Line: intp(1), Column: intp(15)},
		{Source: "test3", Line: intp(1)},
		{Source: "test3", Line: intp(1), Column: intp(1)},
	}
	assert.Equal(t, want, frames)
}

func TestParseStackEngineLayout(t *testing.T) {
	frames := ParseStack("Error: boom\n\tat hello (test:4:27(3))\n\tat test:7:17(5)\n\tat native\n")
	require.Len(t, frames, 3)

	assert.Equal(t, "hello", *frames[0].Function)
	assert.Equal(t, "test", frames[0].Source)
	assert.Equal(t, 4, *frames[0].Line)
	assert.Equal(t, 27, *frames[0].Column)

	assert.Nil(t, frames[1].Function)
	assert.Equal(t, 17, *frames[1].Column)

	assert.Equal(t, "native", frames[2].Source)
	assert.Nil(t, frames[2].Line)
}

func TestFramesString(t *testing.T) {
	frames := Frames{
		{FuncName: "a", ScriptName: "test", LineNum: 4, Column: 24},
		{IsEval: true},
		{FuncName: "b", ScriptName: "test", LineNum: 8, Column: 24, IsConstructor: true},
		{ScriptName: "test", LineNum: 12, Column: 1},
	}
	assert.Equal(t, "\tat a (test:4:24)\n\tat (eval)\n\tat b (test:8:24)\n\tat test:12:1\n", frames.String())
	assert.Equal(t, "Error: x\n    at a (test:4:24)\n    at (eval)\n    at b (test:8:24)\n    at test:12:1", frames.Text("Error: x"))
}

func TestClassify(t *testing.T) {
	_, numErr := strconv.Atoi("x")
	_, rangeErr := strconv.ParseInt("99999999999999999999", 10, 64)

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"range constructor", Range("list index out of range"), KindRange},
		{"wrapped sentinel", fmt.Errorf("lookup: %w", ErrNoAttribute), KindReference},
		{"syntax constructor", Syntax("invalid syntax"), KindSyntax},
		{"type constructor", Type("bad operand"), KindType},
		{"not implemented", NotImplemented("Not support"), KindError},
		{"strconv syntax", numErr, KindSyntax},
		{"strconv range", rangeErr, KindRange},
		{"other", errors.New("boom"), KindError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "list index out of range", Message(Range("list index out of range")))
	assert.Equal(t, "lookup: no such attribute", Message(fmt.Errorf("lookup: %w", ErrNoAttribute)))
	assert.True(t, errors.Is(NotImplemented("x"), ErrNotImplemented))
}

func TestErrorRendering(t *testing.T) {
	e := &Error{Info: Info{
		Name:       "Error",
		Message:    "hello world",
		ScriptName: "test",
		LineNum:    14,
		StartCol:   26,
		SourceLine: `    throw Error("hello world");`,
	}}
	assert.Equal(t, `Error: hello world ( test @ 14 : 26 )  -> throw Error("hello world");`, e.Error())

	cause := errors.New("host failure")
	e.Cause = cause
	assert.True(t, errors.Is(e, cause))
	assert.Contains(t, e.Error(), "->"+" host failure")
}

func TestErrorIsTaxonomy(t *testing.T) {
	e := &Error{Info: Info{Name: "ReferenceError", Message: "x is not defined"}}
	assert.True(t, errors.Is(e, ErrNoAttribute))
	assert.False(t, errors.Is(e, ErrTypeMismatch))
}

func TestSourceOffsets(t *testing.T) {
	src := "var a = 1;\nthrow Error('x');\n"
	pos, line := SourceOffsets(src, 2, 7)
	assert.Equal(t, 17, pos)
	assert.Equal(t, "throw Error('x');", line)

	pos, line = SourceOffsets(src, 10, 1)
	assert.Equal(t, len(src), pos)
	assert.Empty(t, line)
}
