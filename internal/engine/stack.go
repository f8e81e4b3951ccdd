package engine

import "sync"

// stackEntry is one enter() on a thread. seq orders enters process-wide.
type stackEntry struct {
	ctx *Context
	seq uint64
}

type threadState struct {
	entries []stackEntry
}

func (t *threadState) top() *stackEntry {
	if len(t.entries) == 0 {
		return nil
	}
	return &t.entries[len(t.entries)-1]
}

// contextStacks tracks the entered contexts of every OS thread. A thread's
// state is created on its first enter and dropped when its last context
// leaves.
var contextStacks = struct {
	sync.Mutex
	threads map[int]*threadState
	seq     uint64
}{threads: make(map[int]*threadState)}

func pushContext(tid int, c *Context) uint64 {
	contextStacks.Lock()
	defer contextStacks.Unlock()

	st := contextStacks.threads[tid]
	if st == nil {
		st = &threadState{}
		contextStacks.threads[tid] = st
	}
	contextStacks.seq++
	st.entries = append(st.entries, stackEntry{ctx: c, seq: contextStacks.seq})
	return contextStacks.seq
}

func popContext(tid int, c *Context) error {
	contextStacks.Lock()
	defer contextStacks.Unlock()

	st := contextStacks.threads[tid]
	if st == nil || !st.contains(c) {
		return ErrNotEntered
	}
	if st.top().ctx != c {
		return ErrLeaveOrder
	}
	st.entries = st.entries[:len(st.entries)-1]
	if len(st.entries) == 0 {
		delete(contextStacks.threads, tid)
	}
	return nil
}

func (t *threadState) contains(c *Context) bool {
	for _, e := range t.entries {
		if e.ctx == c {
			return true
		}
	}
	return false
}

// topSeq returns the enter sequence of the thread's top entry, zero if the
// thread has nothing entered.
func topSeq(tid int) uint64 {
	contextStacks.Lock()
	defer contextStacks.Unlock()

	if st := contextStacks.threads[tid]; st != nil {
		return st.top().seq
	}
	return 0
}

func threadTop(tid int) *Context {
	contextStacks.Lock()
	defer contextStacks.Unlock()

	if st := contextStacks.threads[tid]; st != nil {
		return st.top().ctx
	}
	return nil
}

func enteredOn(tid int, c *Context) bool {
	contextStacks.Lock()
	defer contextStacks.Unlock()

	st := contextStacks.threads[tid]
	return st != nil && st.contains(c)
}

func onAnyStack(c *Context) bool {
	contextStacks.Lock()
	defer contextStacks.Unlock()

	for _, st := range contextStacks.threads {
		if st.contains(c) {
			return true
		}
	}
	return false
}

// InContext reports whether the calling thread has any context entered.
func InContext() bool {
	return threadTop(currentThread()) != nil
}

// Current returns the top of the calling thread's context stack, or nil.
func Current() *Context {
	return threadTop(currentThread())
}

// Entered returns the most recently entered context that is still entered
// on any thread, or nil.
func Entered() *Context {
	contextStacks.Lock()
	defer contextStacks.Unlock()

	var (
		best *Context
		seq  uint64
	)
	for _, st := range contextStacks.threads {
		for _, e := range st.entries {
			if e.seq > seq {
				best, seq = e.ctx, e.seq
			}
		}
	}
	return best
}
