package engine

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/jsbridge/internal/infrastructure/monitoring"
)

// DefaultMaxCallStackSize bounds script recursion when no stack limit is
// configured. Unbounded recursion would otherwise exhaust the Go stack.
const DefaultMaxCallStackSize = 8192

// DefaultPollInterval is how often the memory watchdog samples the heap.
const DefaultPollInterval = 2 * time.Millisecond

// ResourceLimits caps what a single isolate may consume. Zero means no limit.
type ResourceLimits struct {
	// MaxYoungSpaceSize bounds bytes allocated between two watchdog polls.
	MaxYoungSpaceSize uint64
	// MaxOldSpaceSize bounds live heap growth over the course of a run.
	MaxOldSpaceSize uint64
	// MaxCallStackSize bounds script call depth.
	MaxCallStackSize int
	PollInterval     time.Duration
}

func (l ResourceLimits) memoryCapped() bool {
	return l.MaxYoungSpaceSize > 0 || l.MaxOldSpaceSize > 0
}

func (l ResourceLimits) callStackSize() int {
	if l.MaxCallStackSize > 0 {
		return l.MaxCallStackSize
	}
	return DefaultMaxCallStackSize
}

// Isolate is one independent engine instance. Contexts created on it share
// its lock, limits, compiled program cache and debugger.
type Isolate struct {
	id      string
	logger  *zap.Logger
	metrics *monitoring.Metrics
	lock    *isolateLock

	limitsMu sync.Mutex
	limits   ResourceLimits

	oom       atomic.Bool
	overflow  atomic.Bool
	ignoreOOM atomic.Bool
	dead      atomic.Bool

	mu       sync.Mutex
	contexts map[*Context]struct{}
	programs map[uint64]*goja.Program
	sources  map[string]*sourceEntry
	running  map[*Context]struct{}
	watchdog *watchdog
	disposed bool

	debug *debugAgent
}

type sourceEntry struct {
	src        string
	lineOffset int
	colOffset  int
}

// IsolateOption configures an Isolate
type IsolateOption func(*Isolate)

func WithLogger(logger *zap.Logger) IsolateOption {
	return func(iso *Isolate) {
		if logger != nil {
			iso.logger = logger
		}
	}
}

func WithMetrics(metrics *monitoring.Metrics) IsolateOption {
	return func(iso *Isolate) {
		iso.metrics = metrics
	}
}

func WithResourceLimits(limits ResourceLimits) IsolateOption {
	return func(iso *Isolate) {
		iso.limits = limits
	}
}

// NewIsolate creates an isolate
func NewIsolate(opts ...IsolateOption) *Isolate {
	iso := &Isolate{
		id:       uuid.NewString(),
		logger:   zap.NewNop(),
		lock:     newIsolateLock(),
		contexts: make(map[*Context]struct{}),
		programs: make(map[uint64]*goja.Program),
		sources:  make(map[string]*sourceEntry),
		running:  make(map[*Context]struct{}),
	}
	for _, opt := range opts {
		opt(iso)
	}
	iso.logger = iso.logger.With(zap.String("isolate", iso.id))
	iso.debug = newDebugAgent(iso)
	return iso
}

var (
	defaultIsolate     *Isolate
	defaultIsolateOnce sync.Once
)

// DefaultIsolate returns the implicit process-wide isolate, creating it on
// first use.
func DefaultIsolate() *Isolate {
	defaultIsolateOnce.Do(func() {
		defaultIsolate = NewIsolate()
	})
	return defaultIsolate
}

// CurrentIsolate returns the isolate of the calling thread's entered
// context, or nil.
func CurrentIsolate() *Isolate {
	if c := Current(); c != nil {
		return c.iso
	}
	return nil
}

func (iso *Isolate) ID() string { return iso.id }

func (iso *Isolate) Logger() *zap.Logger { return iso.logger }

// ResourceLimits returns the configured limits.
func (iso *Isolate) ResourceLimits() ResourceLimits {
	iso.limitsMu.Lock()
	defer iso.limitsMu.Unlock()
	return iso.limits
}

// SetResourceLimits replaces the limits. They apply from the next run.
func (iso *Isolate) SetResourceLimits(limits ResourceLimits) {
	iso.limitsMu.Lock()
	iso.limits = limits
	iso.limitsMu.Unlock()
	iso.logger.Debug("resource limits updated",
		zap.Uint64("max_young", limits.MaxYoungSpaceSize),
		zap.Uint64("max_old", limits.MaxOldSpaceSize),
		zap.Int("max_stack", limits.MaxCallStackSize))
}

// ResetResourceLimits removes every limit.
func (iso *Isolate) ResetResourceLimits() {
	iso.SetResourceLimits(ResourceLimits{})
}

func (iso *Isolate) HasOutOfMemory() bool { return iso.oom.Load() }

func (iso *Isolate) HasStackOverflow() bool { return iso.overflow.Load() }

// IgnoreOutOfMemory makes the next run that trips the memory limit return
// without an error. The sticky flag is still set.
func (iso *Isolate) IgnoreOutOfMemory() {
	iso.ignoreOOM.Store(true)
}

// Collect runs a full garbage collection and clears the sticky fault flags.
func (iso *Isolate) Collect() {
	runtime.GC()
	debug.FreeOSMemory()
	iso.oom.Store(false)
	iso.overflow.Store(false)
}

// IsDead reports whether the isolate hit an unrecoverable fault.
func (iso *Isolate) IsDead() bool { return iso.dead.Load() }

func (iso *Isolate) checkAlive() error {
	if iso.dead.Load() {
		return ErrIsolateDead
	}
	return nil
}

func (iso *Isolate) markDead(cause any) {
	if iso.dead.CompareAndSwap(false, true) {
		iso.logger.Error("isolate died", zap.Any("cause", cause), zap.Stack("stack"))
		iso.metrics.RecordFault("dead")
	}
}

// Dispose releases the isolate. It fails while contexts are still open.
func (iso *Isolate) Dispose() error {
	iso.mu.Lock()
	defer iso.mu.Unlock()

	if len(iso.contexts) > 0 {
		return fmt.Errorf("%w: %d open", ErrIsolateInUse, len(iso.contexts))
	}
	iso.disposed = true
	clear(iso.programs)
	clear(iso.sources)
	return nil
}

func (iso *Isolate) addContext(c *Context) error {
	iso.mu.Lock()
	defer iso.mu.Unlock()

	if iso.disposed {
		return ErrIsolateDead
	}
	iso.contexts[c] = struct{}{}
	iso.metrics.AddContexts(1)
	return nil
}

func (iso *Isolate) removeContext(c *Context) {
	iso.mu.Lock()
	defer iso.mu.Unlock()

	if _, ok := iso.contexts[c]; ok {
		delete(iso.contexts, c)
		iso.metrics.AddContexts(-1)
	}
}

// ContextCount returns the number of open contexts.
func (iso *Isolate) ContextCount() int {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	return len(iso.contexts)
}

func (iso *Isolate) cachedProgram(key uint64) *goja.Program {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	return iso.programs[key]
}

func (iso *Isolate) storeProgram(key uint64, prg *goja.Program) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	iso.programs[key] = prg
}

func (iso *Isolate) registerSource(name, src string, line, col int) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	iso.sources[name] = &sourceEntry{src: src, lineOffset: line, colOffset: col}
}

func (iso *Isolate) source(name string) *sourceEntry {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	return iso.sources[name]
}

// beginRun marks c as executing and starts the memory watchdog for the first
// concurrent run.
func (iso *Isolate) beginRun(c *Context) {
	limits := iso.ResourceLimits()
	c.rt.SetMaxCallStackSize(limits.callStackSize())

	iso.mu.Lock()
	defer iso.mu.Unlock()

	iso.running[c] = struct{}{}
	if iso.watchdog == nil && limits.memoryCapped() {
		iso.watchdog = startWatchdog(iso, limits)
	}
}

func (iso *Isolate) endRun(c *Context) {
	iso.mu.Lock()
	delete(iso.running, c)
	var wd *watchdog
	if len(iso.running) == 0 {
		wd, iso.watchdog = iso.watchdog, nil
	}
	iso.mu.Unlock()

	if wd != nil {
		wd.stop()
	}
	c.rt.ClearInterrupt()
}

// interruptAll aborts every running context with reason.
func (iso *Isolate) interruptAll(reason error) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	for c := range iso.running {
		c.rt.Interrupt(reason)
	}
}
