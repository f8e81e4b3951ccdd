// Package jserror describes failures that cross the host/script boundary.
//
// Host errors are classified into the script error taxonomy before they are
// thrown into a running script:
//
//   - ErrOutOfRange     -> RangeError
//   - ErrNoAttribute    -> ReferenceError
//   - ErrSyntax         -> SyntaxError
//   - ErrTypeMismatch   -> TypeError
//   - ErrNotImplemented -> Error
//
// Anything else becomes a plain Error carrying the host message. When such an
// exception escapes the script uncaught, the *Error returned to the host wraps
// the original host error, so errors.Is and errors.As still match it.
//
// Script failures travel the other way as *Error values holding an Info
// record: name, message, script position, the offending source line and the
// stack trace.
//
// Example Usage:
//
//	return nil, jserror.Range("list index out of range")
//
//	var jsErr *jserror.Error
//	if errors.As(err, &jsErr) {
//		log.Info("script failed", zap.String("where", jsErr.Location()))
//	}
package jserror
