package engine

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/jsbridge/internal/jserror"
	"github.com/GriffinCanCode/jsbridge/internal/protocol"
)

// DebugEventType classifies debug events.
type DebugEventType int

const (
	EventBreak DebugEventType = iota + 1
	EventException
	EventNewFunction
	EventBeforeCompile
	EventAfterCompile
)

func (t DebugEventType) String() string {
	switch t {
	case EventBreak:
		return "break"
	case EventException:
		return "exception"
	case EventNewFunction:
		return "newFunction"
	case EventBeforeCompile:
		return "beforeCompile"
	case EventAfterCompile:
		return "afterCompile"
	}
	return "unknown"
}

// ScriptInfo describes a script in compile and new-function events.
type ScriptInfo struct {
	ID           uint64
	Name         string
	Source       string
	LineOffset   int
	ColumnOffset int
	LineCount    int
	Functions    []FunctionInfo
}

func (s ScriptInfo) String() string {
	return fmt.Sprintf("<script %s, %d lines>", s.Name, s.LineCount)
}

// Variable is a named value of a debug frame.
type Variable struct {
	Name  string
	Value any
}

// DebugFrame is one frame of an execution state.
type DebugFrame struct {
	Index         int
	Function      string
	Script        string
	Line          int
	Column        int
	IsConstructor bool
	IsNative      bool
	SourceLine    string
	Arguments     []Variable
	Locals        []Variable
}

// Argument returns the argument at position i.
func (f DebugFrame) Argument(i int) (Variable, bool) {
	if i < 0 || i >= len(f.Arguments) {
		return Variable{}, false
	}
	return f.Arguments[i], true
}

// Local returns the local variable at position i.
func (f DebugFrame) Local(i int) (Variable, bool) {
	if i < 0 || i >= len(f.Locals) {
		return Variable{}, false
	}
	return f.Locals[i], true
}

// InvocationText renders the call of the frame.
func (f DebugFrame) InvocationText() string {
	name := f.Function
	if name == "" {
		name = "(anonymous function)"
	}
	if f.IsConstructor {
		name = "new " + name
	}
	args := make([]string, len(f.Arguments))
	for i, a := range f.Arguments {
		args[i] = fmt.Sprint(a.Value)
	}
	return name + "(" + strings.Join(args, ", ") + ")"
}

// SourceAndPositionText renders the source line and a caret under the column.
func (f DebugFrame) SourceAndPositionText() string {
	if f.IsNative {
		return "native"
	}
	caret := strings.Repeat(" ", max(f.Column-1, 0)) + "^"
	return fmt.Sprintf("%s:%d:%d\n%s\n%s", f.Script, f.Line, f.Column, f.SourceLine, caret)
}

// LocalsText renders the frame's locals one per line.
func (f DebugFrame) LocalsText() string {
	var sb strings.Builder
	for _, l := range f.Locals {
		fmt.Fprintf(&sb, "var %s = %v\n", l.Name, l.Value)
	}
	return sb.String()
}

func (f DebugFrame) String() string {
	loc := "native"
	if !f.IsNative {
		loc = fmt.Sprintf("%s line %d column %d", f.Script, f.Line, f.Column)
	}
	return fmt.Sprintf("#%02d %s %s\n", f.Index, f.InvocationText(), loc)
}

// ExecutionState is the call stack at the time of an event.
type ExecutionState struct {
	Frames   []DebugFrame
	Selected int
}

func (s *ExecutionState) FrameCount() int { return len(s.Frames) }

// Frame returns frame i, or the selected frame for a negative i.
func (s *ExecutionState) Frame(i int) (DebugFrame, bool) {
	if i < 0 {
		i = s.Selected
	}
	if i >= len(s.Frames) {
		return DebugFrame{}, false
	}
	return s.Frames[i], true
}

func (s *ExecutionState) String() string {
	var sb strings.Builder
	for _, f := range s.Frames {
		sb.WriteString(f.String())
	}
	return sb.String()
}

// DebugEvent is delivered to the OnEvent hook. It is only valid for the
// duration of the callback.
type DebugEvent struct {
	Type     DebugEventType
	Context  *Context
	Script   *ScriptInfo
	Function *FunctionInfo
	// Err is the exception of an Exception event. Uncaught is set when it
	// reached the host.
	Err      error
	Uncaught bool

	stateOnce sync.Once
	state     *ExecutionState
	build     func() *ExecutionState
}

// State returns the execution state, built on first use.
func (e *DebugEvent) State() *ExecutionState {
	e.stateOnce.Do(func() {
		if e.build != nil {
			e.state = e.build()
		}
		if e.state == nil {
			e.state = &ExecutionState{}
		}
	})
	return e.state
}

// DebugHooks connect a debugger to an isolate. OnEvent receives events,
// OnMessage receives encoded response and event packets, and OnDispatch is
// told when commands are waiting for ProcessDebugMessages.
type DebugHooks struct {
	OnEvent    func(*DebugEvent)
	OnMessage  func([]byte)
	OnDispatch func()
}

type debugAgent struct {
	iso *Isolate

	mu       sync.Mutex
	hooks    *DebugHooks
	queue    [][]byte
	seq      int
	scriptID uint64

	armed   atomic.Bool
	pending atomic.Bool
	inEvent atomic.Bool
}

func newDebugAgent(iso *Isolate) *debugAgent {
	return &debugAgent{iso: iso}
}

// SetDebugHooks installs or, with nil, removes the debugger hooks.
func (iso *Isolate) SetDebugHooks(h *DebugHooks) {
	a := iso.debug
	a.mu.Lock()
	a.hooks = h
	if h == nil {
		a.queue = nil
		a.armed.Store(false)
		a.pending.Store(false)
	}
	a.mu.Unlock()
}

// DebugEnabled reports whether hooks are installed.
func (iso *Isolate) DebugEnabled() bool {
	return iso.debug.currentHooks() != nil
}

// DebugBreak requests a Break event at the next host boundary crossing.
func (iso *Isolate) DebugBreak() { iso.debug.armed.Store(true) }

// DebugBreakForCommand requests a break that only processes queued
// commands, without raising a Break event.
func (iso *Isolate) DebugBreakForCommand() { iso.debug.pending.Store(true) }

func (iso *Isolate) CancelDebugBreak() { iso.debug.armed.Store(false) }

// SendDebugCommand queues a request packet for the agent.
func (iso *Isolate) SendDebugCommand(payload []byte) error {
	if _, err := protocol.ParseRequest(payload); err != nil {
		return err
	}
	a := iso.debug
	a.mu.Lock()
	a.queue = append(a.queue, payload)
	hooks := a.hooks
	a.mu.Unlock()
	a.pending.Store(true)

	if hooks != nil && hooks.OnDispatch != nil {
		hooks.OnDispatch()
	}
	return nil
}

// ProcessDebugMessages handles queued commands on the calling thread.
func (iso *Isolate) ProcessDebugMessages() {
	iso.debug.drain(Current())
}

func (a *debugAgent) currentHooks() *DebugHooks {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hooks
}

func (a *debugAgent) nextSeq() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return a.seq
}

// checkpoint is called at every host boundary crossing of running script.
// args are the values passed across the boundary; a break exposes them as
// the arguments of the top frame.
func (a *debugAgent) checkpoint(c *Context, args ...goja.Value) {
	if a.pending.Load() {
		a.drain(c)
	}
	if a.armed.CompareAndSwap(true, false) {
		a.raise(&DebugEvent{Type: EventBreak, Context: c, build: liveState(c, argumentVars(c, args))})
	}
}

func argumentVars(c *Context, args []goja.Value) []Variable {
	if len(args) == 0 {
		return nil
	}
	vars := make([]Variable, len(args))
	for i, arg := range args {
		vars[i] = Variable{Name: strconv.Itoa(i), Value: c.fromValue(arg)}
	}
	return vars
}

func (a *debugAgent) raise(ev *DebugEvent) {
	hooks := a.currentHooks()
	if hooks == nil {
		return
	}
	if !a.inEvent.CompareAndSwap(false, true) {
		return
	}
	defer a.inEvent.Store(false)

	a.iso.metrics.RecordDebugEvent(ev.Type.String())
	if hooks.OnEvent != nil {
		hooks.OnEvent(ev)
	}
	a.emit(hooks, ev)
}

func (a *debugAgent) emit(hooks *DebugHooks, ev *DebugEvent) {
	if hooks.OnMessage == nil {
		return
	}
	body := map[string]any{}
	if ev.Script != nil {
		body["script"] = map[string]any{
			"id":           ev.Script.ID,
			"name":         ev.Script.Name,
			"lineOffset":   ev.Script.LineOffset,
			"columnOffset": ev.Script.ColumnOffset,
			"lineCount":    ev.Script.LineCount,
		}
	}
	if ev.Function != nil {
		body["function"] = map[string]any{"name": ev.Function.Name, "line": ev.Function.Line, "column": ev.Function.Column}
	}
	if ev.Err != nil {
		body["exception"] = ev.Err.Error()
		body["uncaught"] = ev.Uncaught
	}
	if ev.Type == EventBreak || ev.Type == EventException {
		if f, ok := ev.State().Frame(0); ok {
			body["sourceLine"] = f.Line
			body["sourceColumn"] = f.Column
			body["script"] = map[string]any{"name": f.Script}
		}
	}
	a.send(hooks, &protocol.Event{Seq: a.nextSeq(), Type: protocol.TypeEvent, Event: ev.Type.String(), Body: body})
}

func (a *debugAgent) send(hooks *DebugHooks, packet any) {
	data, err := protocol.Encode(packet)
	if err != nil {
		a.iso.logger.Warn("failed to encode debug packet", zap.Error(err))
		return
	}
	hooks.OnMessage(data)
}

func (a *debugAgent) scriptInfo(s *Script) *ScriptInfo {
	a.mu.Lock()
	a.scriptID++
	id := a.scriptID
	a.mu.Unlock()
	return &ScriptInfo{
		ID:           id,
		Name:         s.name,
		Source:       s.src,
		LineOffset:   s.lineOffset,
		ColumnOffset: s.colOffset,
		LineCount:    strings.Count(s.src, "\n") + 1,
		Functions:    s.functions,
	}
}

func (a *debugAgent) beforeCompile(s *Script) {
	if a.currentHooks() == nil {
		return
	}
	a.raise(&DebugEvent{Type: EventBeforeCompile, Script: a.scriptInfo(s), Context: Current()})
}

func (a *debugAgent) afterCompile(s *Script) {
	if a.currentHooks() == nil {
		return
	}
	a.raise(&DebugEvent{Type: EventAfterCompile, Script: a.scriptInfo(s), Context: Current()})
}

func (a *debugAgent) newFunction(s *Script, fn FunctionInfo) {
	if a.currentHooks() == nil {
		return
	}
	a.raise(&DebugEvent{Type: EventNewFunction, Script: a.scriptInfo(s), Function: &fn, Context: Current()})
}

func (a *debugAgent) hostException(c *Context, _ *goja.Object, err error) {
	if a.currentHooks() == nil {
		return
	}
	a.raise(&DebugEvent{Type: EventException, Context: c, Err: err, build: liveState(c, nil)})
}

func (a *debugAgent) uncaughtException(c *Context, _ *goja.Exception, err *jserror.Error) {
	if a.currentHooks() == nil {
		return
	}
	a.raise(&DebugEvent{Type: EventException, Context: c, Err: err, Uncaught: true, build: func() *ExecutionState {
		return frameState(c.iso, err.Frames)
	}})
}

// liveState captures the stack lazily. Only the top frame carries arguments;
// goja does not expose the arguments or locals of deeper frames.
func liveState(c *Context, args []Variable) func() *ExecutionState {
	return func() *ExecutionState {
		state := frameState(c.iso, c.CurrentStackTrace(0))
		if len(state.Frames) > 0 {
			state.Frames[0].Arguments = args
		}
		return state
	}
}

func frameState(iso *Isolate, frames jserror.Frames) *ExecutionState {
	state := &ExecutionState{Frames: make([]DebugFrame, len(frames))}
	for i, f := range frames {
		df := DebugFrame{
			Index:         i,
			Function:      f.FuncName,
			Script:        f.ScriptName,
			Line:          f.LineNum,
			Column:        f.Column,
			IsConstructor: f.IsConstructor,
			IsNative:      f.IsNative,
		}
		if entry := iso.source(f.ScriptName); entry != nil {
			_, df.SourceLine = jserror.SourceOffsets(entry.src, f.LineNum-entry.lineOffset, 1)
		}
		state.Frames[i] = df
	}
	return state
}

// drain processes every queued command. c is the context commands such as
// evaluate run in; it may be nil.
func (a *debugAgent) drain(c *Context) {
	a.mu.Lock()
	queue := a.queue
	a.queue = nil
	hooks := a.hooks
	a.mu.Unlock()
	a.pending.Store(false)

	for _, payload := range queue {
		req, err := protocol.ParseRequest(payload)
		if err != nil {
			continue
		}
		resp := a.handle(c, req)
		if hooks != nil && hooks.OnMessage != nil {
			a.send(hooks, resp)
		}
	}
}

// Version reported by the version command.
const Version = "jsbridge/1 goja"

func (a *debugAgent) handle(c *Context, req *protocol.Request) *protocol.Response {
	resp := &protocol.Response{
		Seq:        a.nextSeq(),
		Type:       protocol.TypeResponse,
		RequestSeq: req.Seq,
		Command:    req.Command,
		Success:    true,
		Running:    true,
	}

	switch req.Command {
	case "continue":
		if action, ok := req.Arguments["stepaction"].(string); ok {
			switch action {
			case "in", "next", "out", "min":
				a.armed.Store(true)
			default:
				resp.Success = false
				resp.Message = "invalid stepaction " + action
			}
		}
	case "suspend":
		a.armed.Store(true)
		resp.Running = false
	case "evaluate":
		expr, _ := req.Arguments["expression"].(string)
		if c == nil {
			resp.Success, resp.Message = false, "no context"
			break
		}
		v, err := c.Eval(expr)
		if err != nil {
			resp.Success, resp.Message = false, err.Error()
			break
		}
		resp.Body = map[string]any{"text": fmt.Sprint(Convert(v)), "value": Convert(v)}
	case "backtrace":
		var frames []map[string]any
		if c != nil {
			for i, f := range c.CurrentStackTrace(0) {
				frames = append(frames, map[string]any{
					"index": i, "func": f.FuncName, "script": f.ScriptName,
					"line": f.LineNum, "column": f.Column,
				})
			}
		}
		resp.Body = map[string]any{"frames": frames, "totalFrames": len(frames)}
	case "version":
		resp.Body = map[string]any{"V8Version": Version}
	default:
		resp.Success = false
		resp.Message = "unknown command " + req.Command
	}
	return resp
}
