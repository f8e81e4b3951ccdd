package engine

import "errors"

// Usage errors. These indicate a programming error in the embedding code
// and are never recovered internally.
var (
	ErrLockerReused  = errors.New("locker already used")
	ErrLockerNotHeld = errors.New("locker is not holding the isolate")
	ErrWrongThread   = errors.New("locker used from a thread that does not own it")
	ErrStaleLocker   = errors.New("locker invalidated by a context change since it was created")
	ErrNotLocked     = errors.New("unlocker requires the isolate to be locked by the calling thread")
	ErrNotRestorable = errors.New("unlocker has not released the isolate")
	ErrLeaveOrder    = errors.New("context is not at the top of the thread's context stack")
	ErrNotEntered    = errors.New("context is not entered on the calling thread")
	ErrNoContext     = errors.New("no context entered on the calling thread")
	ErrContextBusy   = errors.New("context is executing on another thread")
	ErrContextClosed = errors.New("context is closed")
)

// Isolate faults.
var (
	ErrIsolateDead   = errors.New("isolate is dead")
	ErrIsolateInUse  = errors.New("isolate still has live contexts")
	ErrOutOfMemory   = errors.New("isolate memory limit exceeded")
	ErrStackOverflow = errors.New("maximum call stack size exceeded")
	ErrInterrupted   = errors.New("script execution interrupted")
)

// Bridge errors.
var (
	ErrAccessDenied       = errors.New("security token mismatch")
	ErrNotFunction        = errors.New("object is not a function")
	ErrNotWatchable       = errors.New("object does not support property watches")
	ErrPrecompileMismatch = errors.New("precompiled data does not match the script source")
	ErrUnknownExtension   = errors.New("unknown extension")
	ErrDuplicateExtension = errors.New("extension already registered")
)
