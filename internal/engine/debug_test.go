package engine

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/jsbridge/internal/protocol"
)

// debugRecorder collects events and packets delivered to debug hooks.
type debugRecorder struct {
	mu         sync.Mutex
	events     []*DebugEvent
	states     []*ExecutionState
	packets    []*protocol.Packet
	dispatched int
}

func (r *debugRecorder) hooks() *DebugHooks {
	return &DebugHooks{
		OnEvent: func(ev *DebugEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
			r.states = append(r.states, ev.State())
		},
		OnMessage: func(data []byte) {
			p, err := protocol.Parse(data)
			if err != nil {
				return
			}
			r.mu.Lock()
			r.packets = append(r.packets, p)
			r.mu.Unlock()
		},
		OnDispatch: func() {
			r.mu.Lock()
			r.dispatched++
			r.mu.Unlock()
		},
	}
}

func (r *debugRecorder) types() []DebugEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DebugEventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *debugRecorder) response(requestSeq int) *protocol.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.packets {
		if p.Response != nil && p.Response.RequestSeq == requestSeq {
			return p.Response
		}
	}
	return nil
}

func sendCommand(t *testing.T, iso *Isolate, seq int, command string, args map[string]any) {
	t.Helper()
	data, err := protocol.Encode(protocol.NewRequest(seq, command, args))
	require.NoError(t, err)
	require.NoError(t, iso.SendDebugCommand(data))
}

func TestDebugCompileEvents(t *testing.T) {
	iso := NewIsolate()
	rec := &debugRecorder{}
	iso.SetDebugHooks(rec.hooks())
	assert.True(t, iso.DebugEnabled())

	_, err := iso.Compile("function greet() {}\nvar f = function() {}", WithScriptName("events.js"))
	require.NoError(t, err)

	assert.Equal(t, []DebugEventType{EventBeforeCompile, EventNewFunction, EventNewFunction, EventAfterCompile}, rec.types())
	assert.Equal(t, "events.js", rec.events[0].Script.Name)
	assert.Equal(t, 2, rec.events[0].Script.LineCount)
	assert.Equal(t, "greet", rec.events[1].Function.Name)

	var names []string
	for _, p := range rec.packets {
		if p.Event != nil {
			names = append(names, p.Event.Event)
		}
	}
	assert.Equal(t, []string{"beforeCompile", "newFunction", "newFunction", "afterCompile"}, names)

	iso.SetDebugHooks(nil)
	assert.False(t, iso.DebugEnabled())
	_, err = iso.Compile("1")
	require.NoError(t, err)
	assert.Len(t, rec.types(), 4)
}

func TestDebugBreak(t *testing.T) {
	iso := NewIsolate()
	rec := &debugRecorder{}
	iso.SetDebugHooks(rec.hooks())
	host := NewAttrs().Method("tick", func([]any) (any, error) { return "tock", nil })
	c := newTestContext(t, WithIsolate(iso), WithGlobal(host))

	iso.DebugBreak()
	v, err := c.EvalScript("function inner() {\n  return tick()\n}\ninner()", "break.js")
	require.NoError(t, err)
	assert.Equal(t, "tock", v)

	var state *ExecutionState
	for i, ev := range rec.events {
		if ev.Type == EventBreak {
			assert.Same(t, c, ev.Context)
			state = rec.states[i]
			break
		}
	}
	require.NotNil(t, state, "break event raised")
	assert.Positive(t, state.FrameCount())

	var inner *DebugFrame
	for i := range state.Frames {
		if state.Frames[i].Function == "inner" {
			inner = &state.Frames[i]
		}
	}
	require.NotNil(t, inner)
	assert.Equal(t, "break.js", inner.Script)
	assert.Equal(t, 2, inner.Line)
	assert.Contains(t, inner.SourceLine, "return tick()")
	assert.Contains(t, inner.InvocationText(), "inner(")
	assert.Contains(t, state.String(), "inner")

	selected, ok := state.Frame(-1)
	require.True(t, ok)
	assert.Equal(t, 0, selected.Index)

	// a break fires once
	before := len(rec.types())
	_, err = c.Eval("tick()")
	require.NoError(t, err)
	for _, typ := range rec.types()[before:] {
		assert.NotEqual(t, EventBreak, typ)
	}
}

func TestDebugBreakArguments(t *testing.T) {
	iso := NewIsolate()
	rec := &debugRecorder{}
	iso.SetDebugHooks(rec.hooks())
	host := NewAttrs().Method("hook", func(args []any) (any, error) { return len(args), nil })
	c := newTestContext(t, WithIsolate(iso), WithGlobal(host))

	iso.DebugBreak()
	v, err := c.EvalScript("function f(a, b) {\n  return hook(a, b)\n}\nf(1, 'two')", "args.js")
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)

	var state *ExecutionState
	for i, ev := range rec.events {
		if ev.Type == EventBreak {
			state = rec.states[i]
		}
	}
	require.NotNil(t, state, "break event raised")
	top, ok := state.Frame(0)
	require.True(t, ok)

	first, ok := top.Argument(0)
	require.True(t, ok)
	assert.EqualValues(t, 1, first.Value)
	second, ok := top.Argument(1)
	require.True(t, ok)
	assert.Equal(t, "two", second.Value)
	_, ok = top.Argument(2)
	assert.False(t, ok)
	assert.Contains(t, top.InvocationText(), "(1, two)")

	_, ok = top.Local(0)
	assert.False(t, ok)
	assert.Empty(t, top.LocalsText())
}

func TestCancelDebugBreak(t *testing.T) {
	iso := NewIsolate()
	rec := &debugRecorder{}
	iso.SetDebugHooks(rec.hooks())
	c := newTestContext(t, WithIsolate(iso), WithGlobal(NewAttrs().Method("tick", func([]any) (any, error) { return nil, nil })))

	iso.DebugBreak()
	iso.CancelDebugBreak()
	_, err := c.Eval("tick()")
	require.NoError(t, err)
	assert.NotContains(t, rec.types(), EventBreak)
}

func TestDebugExceptionEvents(t *testing.T) {
	iso := NewIsolate()
	rec := &debugRecorder{}
	iso.SetDebugHooks(rec.hooks())
	failure := errors.New("disk on fire")
	c := newTestContext(t, WithIsolate(iso), WithGlobal(NewAttrs().Method("fail", func([]any) (any, error) {
		return nil, failure
	})))

	_, err := c.Eval("(function() { try { fail() } catch (e) {} })()")
	require.NoError(t, err)

	var exceptions []*DebugEvent
	for _, ev := range rec.events {
		if ev.Type == EventException {
			exceptions = append(exceptions, ev)
		}
	}
	require.Len(t, exceptions, 1)
	assert.False(t, exceptions[0].Uncaught)
	assert.ErrorIs(t, exceptions[0].Err, failure)

	_, err = c.Eval("fail()")
	assert.ErrorIs(t, err, failure)

	exceptions = exceptions[:0]
	for _, ev := range rec.events {
		if ev.Type == EventException {
			exceptions = append(exceptions, ev)
		}
	}
	require.Len(t, exceptions, 3)
	assert.True(t, exceptions[2].Uncaught)
	assert.ErrorIs(t, exceptions[2].Err, failure)
}

func TestDebugCommandsAtCheckpoint(t *testing.T) {
	iso := NewIsolate()
	rec := &debugRecorder{}
	iso.SetDebugHooks(rec.hooks())
	c := newTestContext(t, WithIsolate(iso), WithGlobal(NewAttrs().Method("tick", func([]any) (any, error) { return nil, nil })))

	sendCommand(t, iso, 1, "evaluate", map[string]any{"expression": "6 * 7"})
	sendCommand(t, iso, 2, "backtrace", nil)
	assert.Equal(t, 2, rec.dispatched)

	_, err := c.EvalScript("function step() { tick() }\nstep()", "commands.js")
	require.NoError(t, err)

	eval := rec.response(1)
	require.NotNil(t, eval)
	assert.True(t, eval.Success)
	assert.Equal(t, "evaluate", eval.Command)
	body := eval.Body.(map[string]any)
	assert.Equal(t, "42", body["text"])

	bt := rec.response(2)
	require.NotNil(t, bt)
	assert.True(t, bt.Success)
	frames := bt.Body.(map[string]any)["frames"].([]any)
	var funcs []string
	for _, f := range frames {
		funcs = append(funcs, f.(map[string]any)["func"].(string))
	}
	assert.Contains(t, funcs, "step")
}

func TestProcessDebugMessages(t *testing.T) {
	iso := NewIsolate()
	rec := &debugRecorder{}
	iso.SetDebugHooks(rec.hooks())

	sendCommand(t, iso, 1, "version", nil)
	sendCommand(t, iso, 2, "launch", nil)
	sendCommand(t, iso, 3, "continue", map[string]any{"stepaction": "sideways"})
	sendCommand(t, iso, 4, "evaluate", map[string]any{"expression": "1"})
	iso.ProcessDebugMessages()

	version := rec.response(1)
	require.NotNil(t, version)
	assert.True(t, version.Success)
	assert.Equal(t, Version, version.Body.(map[string]any)["V8Version"])

	unknown := rec.response(2)
	require.NotNil(t, unknown)
	assert.False(t, unknown.Success)
	assert.True(t, strings.HasPrefix(unknown.Message, "unknown command"))

	step := rec.response(3)
	require.NotNil(t, step)
	assert.False(t, step.Success)

	noContext := rec.response(4)
	require.NotNil(t, noContext)
	assert.False(t, noContext.Success)

	assert.Error(t, iso.SendDebugCommand([]byte("{")))
	assert.Error(t, iso.SendDebugCommand([]byte(`{"type":"event"}`)))
}

func TestStepArmsBreak(t *testing.T) {
	iso := NewIsolate()
	rec := &debugRecorder{}
	iso.SetDebugHooks(rec.hooks())
	c := newTestContext(t, WithIsolate(iso), WithGlobal(NewAttrs().Method("tick", func([]any) (any, error) { return nil, nil })))

	sendCommand(t, iso, 1, "continue", map[string]any{"stepaction": "next"})
	iso.ProcessDebugMessages()
	require.True(t, rec.response(1).Success)

	_, err := c.Eval("tick()")
	require.NoError(t, err)
	assert.Contains(t, rec.types(), EventBreak)
}
