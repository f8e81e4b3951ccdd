package engine

import (
	"sync/atomic"
	"time"
)

// lockerActive becomes true the first time any Locker takes an isolate and
// stays true for the life of the process.
var lockerActive atomic.Bool

// LockerActive reports whether explicit locking has ever been engaged.
func LockerActive() bool {
	return lockerActive.Load()
}

type lockerState int

const (
	lockerNew lockerState = iota
	lockerHeld
	lockerDone
)

// Locker is a single-use scoped hold on an isolate. Lockers on the same
// thread nest; a Locker on another thread blocks until the hold is free.
//
// A Locker remembers the context stack of the thread that created it. If
// that stack changed before Lock, the token is stale and Lock fails rather
// than acquiring on behalf of a context chain that no longer exists.
type Locker struct {
	iso   *Isolate
	state lockerState

	// snapshot of the creating thread, zero if it had no context entered
	createdOn int
	createdAt uint64

	tid int
}

// NewLocker returns an unlocked token for iso. A nil iso means the default
// isolate.
func NewLocker(iso *Isolate) *Locker {
	if iso == nil {
		iso = DefaultIsolate()
	}
	l := &Locker{iso: iso}
	tid := currentThread()
	if seq := topSeq(tid); seq != 0 {
		l.createdOn, l.createdAt = tid, seq
	}
	return l
}

// Lock acquires the isolate for the calling thread, blocking while another
// thread holds it. The goroutine stays wired to its OS thread until Unlock.
func (l *Locker) Lock() error {
	if l.state != lockerNew {
		return ErrLockerReused
	}
	if err := l.iso.checkAlive(); err != nil {
		return err
	}

	tid := pinThread()
	if l.createdOn != 0 {
		if l.createdOn != tid {
			unpinThread()
			return ErrWrongThread
		}
		if topSeq(tid) != l.createdAt {
			unpinThread()
			return ErrStaleLocker
		}
	}

	start := time.Now()
	if l.iso.lock.acquire(tid) {
		l.iso.metrics.ObserveLockWait(time.Since(start))
	}
	lockerActive.Store(true)
	l.tid = tid
	l.state = lockerHeld
	return nil
}

// Unlock releases the hold taken by Lock. It must run on the locking thread.
func (l *Locker) Unlock() error {
	if l.state != lockerHeld {
		return ErrLockerNotHeld
	}
	if currentThread() != l.tid {
		return ErrWrongThread
	}
	if !l.iso.lock.release(l.tid) {
		return ErrLockerNotHeld
	}
	l.state = lockerDone
	unpinThread()
	return nil
}

// Held reports whether this token currently holds the isolate.
func (l *Locker) Held() bool {
	return l.state == lockerHeld
}

// Unlocker temporarily gives up the calling thread's hold on an isolate so
// other threads can run while the host blocks.
type Unlocker struct {
	iso   *Isolate
	tid   int
	depth int
}

func NewUnlocker(iso *Isolate) *Unlocker {
	if iso == nil {
		iso = DefaultIsolate()
	}
	return &Unlocker{iso: iso}
}

// Release drops every level of the calling thread's hold.
func (u *Unlocker) Release() error {
	if u.depth != 0 {
		return ErrLockerReused
	}
	tid := currentThread()
	depth, ok := u.iso.lock.releaseAll(tid)
	if !ok {
		return ErrNotLocked
	}
	u.tid, u.depth = tid, depth
	return nil
}

// Restore re-acquires the hold dropped by Release, blocking if needed.
func (u *Unlocker) Restore() error {
	if u.depth == 0 {
		return ErrNotRestorable
	}
	if currentThread() != u.tid {
		return ErrWrongThread
	}
	start := time.Now()
	u.iso.lock.restore(u.tid, u.depth)
	u.iso.metrics.ObserveLockWait(time.Since(start))
	u.depth = 0
	return nil
}

// WithLock runs fn while holding the isolate through a fresh Locker.
func (iso *Isolate) WithLock(fn func() error) error {
	l := NewLocker(iso)
	if err := l.Lock(); err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}

// WithoutLock runs fn with the calling thread's hold temporarily released.
func (iso *Isolate) WithoutLock(fn func() error) error {
	u := NewUnlocker(iso)
	if err := u.Release(); err != nil {
		return err
	}
	defer u.Restore()
	return fn()
}

// IsLocked reports whether the calling thread holds the isolate.
func (iso *Isolate) IsLocked() bool {
	return iso.lock.heldBy(currentThread())
}
