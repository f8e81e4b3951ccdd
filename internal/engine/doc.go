/*
Package engine embeds a JavaScript engine behind an isolate/context model.

# Overview

An Isolate owns one engine instance: its lock, resource limits, compiled
program cache and debugger agent. Contexts are global scopes bound to an
isolate; each OS thread keeps its own stack of entered contexts.

# Threads

Thread identity is the OS thread. Enter, Locker.Lock and every script run
wire the calling goroutine to its thread for their duration, so the stack
of entered contexts and the isolate hold follow the goroutine.

	iso := engine.NewIsolate(engine.WithLogger(logger))
	ctx, err := engine.NewContext(engine.WithIsolate(iso), engine.WithGlobal(host))
	if err != nil {
		return err
	}
	err = ctx.Do(func() error {
		v, err := ctx.Eval("1 + 1")
		...
	})

# Values

Host values cross into script through the converter: primitives map
directly, time.Time becomes Date, HostObject implementations become
dynamic objects, Func becomes a function, and *[]any / map[string]any stay
live. Script values come back as primitives, time.Time, the original host
value, or an *Object handle. Convert deep-converts a result into plain
maps and slices.

# Errors

Host errors returned from callbacks are thrown into script as the error
kind given by jserror.Classify. If script does not catch them, the run
returns a *jserror.Error whose Cause is the original error, so errors.Is
and errors.As keep working.

# Locking

Runs take the isolate lock implicitly. Use Locker to hold an isolate across
several operations and Unlocker to let other threads in while the host
blocks.
*/
package engine
