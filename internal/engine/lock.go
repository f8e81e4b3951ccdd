package engine

import "sync"

// isolateLock is a re-entrant per-thread mutex. Holders are identified by
// OS thread id; zero means free.
type isolateLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner int
	depth int
}

func newIsolateLock() *isolateLock {
	l := &isolateLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// acquire blocks until tid holds the lock and reports whether it had to wait.
func (l *isolateLock) acquire(tid int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	waited := false
	for l.owner != 0 && l.owner != tid {
		waited = true
		l.cond.Wait()
	}
	l.owner = tid
	l.depth++
	return waited
}

func (l *isolateLock) tryAcquire(tid int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner != 0 && l.owner != tid {
		return false
	}
	l.owner = tid
	l.depth++
	return true
}

// release drops one level of the hold. It returns false if tid is not the owner.
func (l *isolateLock) release(tid int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner != tid || l.depth == 0 {
		return false
	}
	l.depth--
	if l.depth == 0 {
		l.owner = 0
		l.cond.Broadcast()
	}
	return true
}

// releaseAll drops the whole hold and returns the depth for restore.
func (l *isolateLock) releaseAll(tid int) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner != tid || l.depth == 0 {
		return 0, false
	}
	depth := l.depth
	l.owner = 0
	l.depth = 0
	l.cond.Broadcast()
	return depth, true
}

// restore re-acquires a hold previously dropped by releaseAll.
func (l *isolateLock) restore(tid, depth int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.owner != 0 && l.owner != tid {
		l.cond.Wait()
	}
	l.owner = tid
	l.depth += depth
}

func (l *isolateLock) heldBy(tid int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner == tid && l.depth > 0
}

func (l *isolateLock) held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner != 0
}
