package engine

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/jsbridge/internal/jserror"
)

// Context is a global scope bound to an isolate. Each context owns its own
// script runtime; contexts of one isolate share the isolate's lock.
type Context struct {
	id     string
	iso    *Isolate
	logger *zap.Logger

	host       any
	extensions []string
	console    bool

	tokenMu sync.RWMutex
	token   any

	// runtime state, rebuilt by Reset
	rt          *goja.Runtime
	handles     *handleTable
	global      goja.DynamicObject
	installed   map[string]bool
	wrapperBase *goja.Object
	hostErrors  map[*goja.Object]error

	// execution state, guarded by the isolate lock
	runner int
	depth  int
	start  time.Time
	closed bool
}

type contextOptions struct {
	iso        *Isolate
	global     any
	extensions []string
	token      any
	console    bool
}

// ContextOption configures a Context
type ContextOption func(*contextOptions)

// WithIsolate binds the context to iso instead of the default isolate.
func WithIsolate(iso *Isolate) ContextOption {
	return func(o *contextOptions) { o.iso = iso }
}

// WithGlobal exposes host as the context's global object. host is converted
// like any other value; HostObject implementations and other contexts'
// objects are the usual choices.
func WithGlobal(host any) ContextOption {
	return func(o *contextOptions) { o.global = host }
}

// WithExtensions enables registered extensions by name.
func WithExtensions(names ...string) ContextOption {
	return func(o *contextOptions) { o.extensions = append(o.extensions, names...) }
}

func WithSecurityToken(token any) ContextOption {
	return func(o *contextOptions) { o.token = token }
}

// WithConsole installs a console object that logs through the isolate logger.
func WithConsole(enabled bool) ContextOption {
	return func(o *contextOptions) { o.console = enabled }
}

// NewContext creates a context
func NewContext(opts ...ContextOption) (*Context, error) {
	o := contextOptions{console: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.iso == nil {
		o.iso = DefaultIsolate()
	}
	if err := o.iso.checkAlive(); err != nil {
		return nil, err
	}

	exts, err := resolveExtensions(o.extensions)
	if err != nil {
		return nil, err
	}

	c := &Context{
		id:         uuid.NewString(),
		iso:        o.iso,
		host:       o.global,
		extensions: exts,
		console:    o.console,
		token:      o.token,
	}
	c.logger = o.iso.logger.With(zap.String("context", c.id))

	if err := c.Reset(); err != nil {
		return nil, err
	}
	if err := o.iso.addContext(c); err != nil {
		return nil, err
	}
	c.logger.Debug("context created", zap.Strings("extensions", exts))
	return c, nil
}

func (c *Context) ID() string { return c.id }

func (c *Context) Isolate() *Isolate { return c.iso }

func (c *Context) SecurityToken() any {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

func (c *Context) SetSecurityToken(token any) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.token = token
}

// Enter pushes c onto the calling thread's context stack. The goroutine is
// wired to its OS thread until the matching Leave.
func (c *Context) Enter() error {
	if c.closed {
		return ErrContextClosed
	}
	tid := pinThread()
	pushContext(tid, c)
	return nil
}

// Leave pops c, which must be the top of the calling thread's stack.
func (c *Context) Leave() error {
	tid := currentThread()
	if err := popContext(tid, c); err != nil {
		return err
	}
	unpinThread()
	return nil
}

// Do runs fn with c entered, leaving on every exit path.
func (c *Context) Do(fn func() error) (err error) {
	if err := c.Enter(); err != nil {
		return err
	}
	defer func() {
		if lerr := c.Leave(); err == nil {
			err = lerr
		}
	}()
	return fn()
}

// InUse reports whether c is on any thread's context stack.
func (c *Context) InUse() bool {
	return onAnyStack(c)
}

// Eval compiles and runs src as an unnamed script.
func (c *Context) Eval(src string) (any, error) {
	return c.EvalScript(src, "")
}

// EvalScript compiles and runs src under the given script name.
func (c *Context) EvalScript(src, name string) (any, error) {
	script, err := c.iso.Compile(src, WithScriptName(name))
	if err != nil {
		return nil, err
	}
	return script.RunIn(c)
}

// Global returns the context's global object.
func (c *Context) Global() *Object {
	return &Object{ctx: c, obj: c.rt.GlobalObject()}
}

// LiveHandles returns the number of host values currently wrapped for script.
func (c *Context) LiveHandles() int {
	return c.handles.count()
}

// CurrentStackTrace captures up to limit frames of the running script. It
// is meant to be called from host callbacks.
func (c *Context) CurrentStackTrace(limit int) jserror.Frames {
	frames := c.rt.CaptureCallStack(limit, nil)
	out := make(jserror.Frames, 0, len(frames))
	for _, f := range frames {
		pos := f.Position()
		frame := jserror.Frame{
			FuncName:   f.FuncName(),
			ScriptName: f.SrcName(),
			LineNum:    pos.Line,
			Column:     pos.Column,
		}
		switch {
		case frame.ScriptName == "<native>" || frame.ScriptName == "":
			frame.IsNative = true
		case frame.ScriptName == "<eval>":
			frame.IsEval = true
		}
		if frame.FuncName == "<anonymous>" || frame.FuncName == "<native>" {
			frame.FuncName = ""
		}
		out = append(out, c.iso.shiftFrame(frame))
	}
	return out
}

// Reset discards all script state and rebuilds the runtime.
func (c *Context) Reset() error {
	tid := pinThread()
	defer unpinThread()
	c.iso.lock.acquire(tid)
	defer c.iso.lock.release(tid)

	if c.depth > 0 {
		return ErrContextBusy
	}

	c.rt = goja.New()
	c.rt.SetMaxCallStackSize(c.iso.ResourceLimits().callStackSize())
	c.handles = newHandleTable()
	c.installed = make(map[string]bool)
	c.hostErrors = make(map[*goja.Object]error)
	c.global = nil

	c.wrapperBase = c.rt.NewObject()
	c.installWatchMethods(c.wrapperBase)

	if c.console {
		c.setupConsole()
	}
	if err := c.installExtensions(); err != nil {
		return err
	}
	if c.host != nil {
		if err := c.installGlobal(c.host); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the context. Closing an entered context fails.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	if onAnyStack(c) {
		return fmt.Errorf("%w: context still entered", ErrContextBusy)
	}
	c.closed = true
	c.iso.removeContext(c)
	c.logger.Debug("context closed")
	return nil
}

// installGlobal makes host the global object: its current attributes become
// accessor properties of the script global, and the host wrapper becomes the
// global's prototype so later attributes stay visible.
func (c *Context) installGlobal(host any) error {
	v := c.toValue(host)
	obj, ok := v.(*goja.Object)
	if !ok {
		return fmt.Errorf("%w: global must be an object, got %T", jserror.ErrTypeMismatch, host)
	}
	dyn, ok := obj.Export().(goja.DynamicObject)
	if !ok {
		return fmt.Errorf("%w: global must be a host object or a context object, got %T", jserror.ErrTypeMismatch, host)
	}
	c.global = dyn
	if err := c.rt.GlobalObject().SetPrototype(obj); err != nil {
		return err
	}
	c.refreshGlobal()
	return nil
}

func (c *Context) refreshGlobal() {
	if c.global == nil {
		return
	}
	global := c.rt.GlobalObject()
	for _, name := range c.global.Keys() {
		if c.installed[name] || slices.Contains(global.Keys(), name) {
			continue
		}
		getter := c.rt.ToValue(func(goja.FunctionCall) goja.Value {
			return orUndefined(c.globalGet(name))
		})
		setter := c.rt.ToValue(func(call goja.FunctionCall) goja.Value {
			c.global.Set(name, call.Argument(0))
			return goja.Undefined()
		})
		if err := global.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
			c.logger.Debug("skipping global attribute", zap.String("name", name), zap.Error(err))
			continue
		}
		c.installed[name] = true
	}
}

// globalGet reads a global attribute. Reads of host globals are not break
// points, so a break armed before a call to a global host function fires at
// the call with its arguments.
func (c *Context) globalGet(name string) goja.Value {
	if w, ok := c.global.(*hostWrapper); ok {
		return w.lookup(name)
	}
	return c.global.Get(name)
}

// exec runs fn on the calling thread with the isolate held and c entered.
// The result is converted to a host value and script failures to errors.
func (c *Context) exec(fn func(rt *goja.Runtime) (goja.Value, error)) (result any, err error) {
	if c.closed {
		return nil, ErrContextClosed
	}
	if err := c.iso.checkAlive(); err != nil {
		return nil, err
	}

	tid := pinThread()
	defer unpinThread()

	start := time.Now()
	if c.iso.lock.acquire(tid) {
		c.iso.metrics.ObserveLockWait(time.Since(start))
	}
	defer c.iso.lock.release(tid)

	if c.runner != 0 && c.runner != tid {
		return nil, ErrContextBusy
	}

	// Running code in c enters c, so no token check applies here. Tokens
	// guard handle access from another context's code.
	pushContext(tid, c)
	defer popContext(tid, c)

	outer := c.depth == 0
	c.runner = tid
	c.depth++
	if outer {
		c.start = time.Now()
		c.iso.beginRun(c)
		c.refreshGlobal()
	}
	defer func() {
		c.depth--
		if c.depth == 0 {
			status := "ok"
			if err != nil {
				status = "error"
			}
			c.iso.metrics.RecordRun(status, time.Since(c.start))
			c.runner = 0
			c.iso.endRun(c)
			clear(c.hostErrors)
		}
	}()
	defer func() {
		if x := recover(); x != nil {
			result, err = nil, c.recoverPanic(x)
		}
	}()

	v, err := fn(c.rt)
	if err != nil {
		if rerr := c.runError(err); rerr != nil {
			return nil, rerr
		}
		return Undefined, nil
	}
	return c.fromValue(v), nil
}

// access runs a host-side handle operation with the isolate held. Script
// exceptions raised by the operation are returned as errors.
func (c *Context) access(fn func(rt *goja.Runtime) error) (err error) {
	if c.closed {
		return ErrContextClosed
	}
	if err := c.iso.checkAlive(); err != nil {
		return err
	}

	tid := pinThread()
	defer unpinThread()
	c.iso.lock.acquire(tid)
	defer c.iso.lock.release(tid)

	if c.runner != 0 && c.runner != tid {
		return ErrContextBusy
	}
	if err := c.checkAccess(tid); err != nil {
		return err
	}
	defer func() {
		if x := recover(); x != nil {
			err = c.recoverPanic(x)
		}
	}()
	return fn(c.rt)
}

// recoverPanic turns a panic raised while c was executing into an error.
// Script throws become script errors; anything else kills the isolate.
func (c *Context) recoverPanic(x any) error {
	switch x := x.(type) {
	case *goja.Exception:
		return c.runError(x)
	case *goja.InterruptedError:
		return c.runError(x)
	case goja.Value:
		if err, ok := c.takeHostError(x); ok {
			return err
		}
		return c.errorFromValue(x, "", nil)
	case error:
		if isStackOverflow(x) {
			return c.runError(x)
		}
	}
	c.iso.markDead(x)
	return fmt.Errorf("%w: %v", ErrIsolateDead, x)
}

// checkAccess enforces security tokens between the calling thread's current
// context and c.
func (c *Context) checkAccess(tid int) error {
	caller := threadTop(tid)
	if caller == nil || caller == c || tokensMatch(caller.SecurityToken(), c.SecurityToken()) {
		return nil
	}
	return fmt.Errorf("%w: context %s cannot access context %s", ErrAccessDenied, caller.id, c.id)
}

func tokensMatch(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

func isStackOverflow(err error) bool {
	var so *goja.StackOverflowError
	if errors.As(err, &so) {
		return true
	}
	return strings.Contains(err.Error(), "Maximum call stack size exceeded")
}

// runError translates an error returned by the script runtime.
func (c *Context) runError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if reason, ok := interrupted.Value().(error); ok && errors.Is(reason, ErrOutOfMemory) {
			if c.iso.ignoreOOM.Swap(false) {
				return nil
			}
			return &jserror.Error{
				Info:  jserror.Info{Name: "RangeError", Message: "Allocation failed - process out of memory"},
				Cause: ErrOutOfMemory,
			}
		}
		return err
	}

	if isStackOverflow(err) {
		c.iso.overflow.Store(true)
		c.iso.metrics.RecordFault("stack_overflow")
		info := c.buildInfo("RangeError", "Maximum call stack size exceeded", err.Error())
		return &jserror.Error{Info: info, Cause: ErrStackOverflow}
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		return c.exceptionError(ex)
	}
	return err
}
