package engine

import "runtime"

// pinThread wires the calling goroutine to its OS thread and returns the
// thread id. Calls nest; every pinThread needs a matching unpinThread.
func pinThread() int {
	runtime.LockOSThread()
	return threadID()
}

func unpinThread() {
	runtime.UnlockOSThread()
}

// currentThread reports the id of the thread the caller runs on. It is only
// stable while the caller is pinned.
func currentThread() int {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	return threadID()
}
