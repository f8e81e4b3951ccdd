package engine

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerNesting(t *testing.T) {
	iso := NewIsolate()
	assert.False(t, iso.IsLocked())

	outer := NewLocker(iso)
	require.NoError(t, outer.Lock())
	assert.True(t, outer.Held())
	assert.True(t, iso.IsLocked())
	assert.True(t, LockerActive())

	inner := NewLocker(iso)
	require.NoError(t, inner.Lock())
	assert.True(t, iso.IsLocked())
	require.NoError(t, inner.Unlock())
	assert.True(t, iso.IsLocked(), "outer hold survives the inner unlock")

	require.NoError(t, outer.Unlock())
	assert.False(t, outer.Held())
	assert.False(t, iso.IsLocked())
}

func TestLockerSingleUse(t *testing.T) {
	iso := NewIsolate()
	l := NewLocker(iso)

	assert.ErrorIs(t, l.Unlock(), ErrLockerNotHeld)
	require.NoError(t, l.Lock())
	require.NoError(t, l.Unlock())

	assert.ErrorIs(t, l.Lock(), ErrLockerReused)
	assert.ErrorIs(t, l.Unlock(), ErrLockerNotHeld)
}

func TestLockerBlocksOtherThreads(t *testing.T) {
	iso := NewIsolate()
	l := NewLocker(iso)
	require.NoError(t, l.Lock())

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = iso.WithLock(func() error {
			acquired.Store(true)
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, acquired.Load())

	require.NoError(t, l.Unlock())
	<-done
	assert.True(t, acquired.Load())
}

func TestLockerStaleAfterContextChange(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	iso := NewIsolate()
	c, err := NewContext(WithIsolate(iso))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Enter())
	l := NewLocker(iso)
	require.NoError(t, c.Leave())

	assert.ErrorIs(t, l.Lock(), ErrStaleLocker)
	assert.False(t, iso.IsLocked())
}

func TestLockerWrongThread(t *testing.T) {
	iso := NewIsolate()
	c, err := NewContext(WithIsolate(iso))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Enter())
	l := NewLocker(iso)

	errs := make(chan error, 1)
	go func() { errs <- l.Lock() }()
	assert.ErrorIs(t, <-errs, ErrWrongThread)

	require.NoError(t, l.Lock())
	require.NoError(t, l.Unlock())
	require.NoError(t, c.Leave())
}

func TestUnlocker(t *testing.T) {
	iso := NewIsolate()

	u := NewUnlocker(iso)
	assert.ErrorIs(t, u.Release(), ErrNotLocked)
	assert.ErrorIs(t, u.Restore(), ErrNotRestorable)

	err := iso.WithLock(func() error {
		return iso.WithLock(func() error {
			return iso.WithoutLock(func() error {
				assert.False(t, iso.IsLocked())

				// another thread can take the isolate meanwhile
				done := make(chan error)
				go func() {
					done <- iso.WithLock(func() error { return nil })
				}()
				return <-done
			})
		})
	})
	require.NoError(t, err)
	assert.False(t, iso.IsLocked())
}

func TestUnlockerRestoresDepth(t *testing.T) {
	iso := NewIsolate()
	outer := NewLocker(iso)
	require.NoError(t, outer.Lock())
	inner := NewLocker(iso)
	require.NoError(t, inner.Lock())

	u := NewUnlocker(iso)
	require.NoError(t, u.Release())
	assert.False(t, iso.IsLocked())
	require.NoError(t, u.Restore())

	require.NoError(t, inner.Unlock())
	assert.True(t, iso.IsLocked())
	require.NoError(t, outer.Unlock())
	assert.False(t, iso.IsLocked())
}
