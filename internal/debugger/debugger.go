// Package debugger is the host-side adapter for an isolate's debug agent.
//
// A Debugger classifies engine debug events and hands them to per-kind
// handlers, decodes agent messages into protocol packets, and builds
// request packets for the agent's command queue.
package debugger

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/jsbridge/internal/engine"
	"github.com/GriffinCanCode/jsbridge/internal/protocol"
)

// Step actions accepted by the continue command.
const (
	StepNext = "next"
	StepIn   = "in"
	StepOut  = "out"
	StepMin  = "min"
)

// ErrDisabled is returned by Request while the debugger is detached.
var ErrDisabled = errors.New("debugger is not enabled")

// EventHandler receives one classified debug event. The event and its
// execution state are only valid during the call.
type EventHandler func(*engine.DebugEvent)

// MessageHandler receives decoded response and event packets.
type MessageHandler func(*protocol.Packet)

// Debugger attaches to one isolate
type Debugger struct {
	iso    *engine.Isolate
	logger *zap.Logger

	mu         sync.RWMutex
	enabled    bool
	seq        int
	handlers   map[engine.DebugEventType]EventHandler
	onMessage  MessageHandler
	onDispatch func()
	waiters    map[int]chan *protocol.Response
}

// Option configures a Debugger
type Option func(*Debugger)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Debugger) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a disabled debugger for iso. A nil iso means the default
// isolate.
func New(iso *engine.Isolate, opts ...Option) *Debugger {
	if iso == nil {
		iso = engine.DefaultIsolate()
	}
	d := &Debugger{
		iso:      iso,
		logger:   zap.NewNop(),
		handlers: make(map[engine.DebugEventType]EventHandler),
		waiters:  make(map[int]chan *protocol.Response),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Isolate returns the debugged isolate.
func (d *Debugger) Isolate() *engine.Isolate { return d.iso }

// SetEnabled installs or removes the debugger's hooks on the isolate.
func (d *Debugger) SetEnabled(enable bool) {
	d.mu.Lock()
	d.enabled = enable
	d.mu.Unlock()

	if !enable {
		d.iso.SetDebugHooks(nil)
		d.logger.Debug("debugger disabled")
		return
	}
	d.iso.SetDebugHooks(&engine.DebugHooks{
		OnEvent:    d.dispatchEvent,
		OnMessage:  d.dispatchMessage,
		OnDispatch: d.dispatchCommands,
	})
	d.logger.Debug("debugger enabled", zap.String("isolate", d.iso.ID()))
}

// Enabled reports whether the debugger is attached.
func (d *Debugger) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled && d.iso.DebugEnabled()
}

// Do runs fn with the debugger enabled, disabling it afterwards.
func (d *Debugger) Do(fn func() error) error {
	d.SetEnabled(true)
	defer d.SetEnabled(false)
	return fn()
}

func (d *Debugger) on(t engine.DebugEventType, h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		delete(d.handlers, t)
		return
	}
	d.handlers[t] = h
}

func (d *Debugger) OnBreak(h EventHandler) { d.on(engine.EventBreak, h) }

func (d *Debugger) OnException(h EventHandler) { d.on(engine.EventException, h) }

func (d *Debugger) OnNewFunction(h EventHandler) { d.on(engine.EventNewFunction, h) }

func (d *Debugger) OnBeforeCompile(h EventHandler) { d.on(engine.EventBeforeCompile, h) }

func (d *Debugger) OnAfterCompile(h EventHandler) { d.on(engine.EventAfterCompile, h) }

// OnMessage sets the handler for packets sent by the agent.
func (d *Debugger) OnMessage(h MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMessage = h
}

// OnDispatch sets the function told that commands are waiting. It may call
// ProcessDebugMessages from a thread with a context entered.
func (d *Debugger) OnDispatch(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDispatch = fn
}

func (d *Debugger) dispatchEvent(ev *engine.DebugEvent) {
	d.mu.RLock()
	h := d.handlers[ev.Type]
	d.mu.RUnlock()

	if h == nil {
		return
	}
	h(ev)
}

func (d *Debugger) dispatchMessage(data []byte) {
	p, err := protocol.Parse(data)
	if err != nil {
		d.logger.Warn("dropping malformed debug message", zap.Error(err))
		return
	}

	d.mu.Lock()
	h := d.onMessage
	var waiter chan *protocol.Response
	if p.Response != nil {
		if waiter = d.waiters[p.Response.RequestSeq]; waiter != nil {
			delete(d.waiters, p.Response.RequestSeq)
		}
	}
	d.mu.Unlock()

	if waiter != nil {
		waiter <- p.Response
	}
	if h != nil {
		h(p)
	}
}

func (d *Debugger) dispatchCommands() {
	d.mu.RLock()
	fn := d.onDispatch
	d.mu.RUnlock()

	if fn != nil {
		fn()
	}
}

func (d *Debugger) nextSeq() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	seq := d.seq
	d.seq++
	return seq
}

// SendCommand queues a request for the agent and returns the encoded
// packet. The agent answers at its next host boundary crossing or on
// ProcessDebugMessages.
func (d *Debugger) SendCommand(command string, args map[string]any) ([]byte, error) {
	return d.send(d.nextSeq(), command, args)
}

func (d *Debugger) send(seq int, command string, args map[string]any) ([]byte, error) {
	req := protocol.NewRequest(seq, command, args)
	data, err := protocol.Encode(req)
	if err != nil {
		return nil, err
	}
	if err := d.iso.SendDebugCommand(data); err != nil {
		return nil, err
	}
	d.logger.Debug("debug command queued", zap.String("command", command), zap.Int("seq", seq))
	return data, nil
}

// Request queues a command and waits for its response. Something must
// drain the queue meanwhile: running script, or an OnDispatch function
// calling ProcessDebugMessages.
func (d *Debugger) Request(ctx context.Context, command string, args map[string]any) (*protocol.Response, error) {
	if !d.Enabled() {
		return nil, ErrDisabled
	}
	seq := d.nextSeq()
	ch := make(chan *protocol.Response, 1)

	d.mu.Lock()
	d.waiters[seq] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.waiters, seq)
		d.mu.Unlock()
	}()

	if _, err := d.send(seq, command, args); err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Continue resumes with the given step action.
func (d *Debugger) Continue(action string, steps int) ([]byte, error) {
	if steps < 1 {
		steps = 1
	}
	return d.SendCommand("continue", map[string]any{"stepaction": action, "stepcount": steps})
}

// StepNext steps to the next statement in the current function.
func (d *Debugger) StepNext(steps int) ([]byte, error) { return d.Continue(StepNext, steps) }

// StepIn steps into functions invoked by the next statement.
func (d *Debugger) StepIn(steps int) ([]byte, error) { return d.Continue(StepIn, steps) }

// StepOut steps out of the current function.
func (d *Debugger) StepOut(steps int) ([]byte, error) { return d.Continue(StepOut, steps) }

// StepMin performs a minimum step. It is requested as a step out.
func (d *Debugger) StepMin(steps int) ([]byte, error) { return d.Continue(StepOut, steps) }

func (d *Debugger) DebugBreak() { d.iso.DebugBreak() }

func (d *Debugger) DebugBreakForCommand() { d.iso.DebugBreakForCommand() }

func (d *Debugger) CancelDebugBreak() { d.iso.CancelDebugBreak() }

// ProcessDebugMessages handles queued commands on the calling thread.
func (d *Debugger) ProcessDebugMessages() { d.iso.ProcessDebugMessages() }
