package jserror

import (
	"errors"
	"strconv"
)

// Host-side classification sentinels.
var (
	ErrOutOfRange     = errors.New("index out of range")
	ErrNoAttribute    = errors.New("no such attribute")
	ErrSyntax         = errors.New("malformed source")
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrNotImplemented = errors.New("not implemented")
)

// Kind is the script-side error class a host error maps to.
type Kind int

const (
	KindError Kind = iota
	KindRange
	KindReference
	KindSyntax
	KindType
)

// Name returns the script constructor name for the kind.
func (k Kind) Name() string {
	switch k {
	case KindRange:
		return "RangeError"
	case KindReference:
		return "ReferenceError"
	case KindSyntax:
		return "SyntaxError"
	case KindType:
		return "TypeError"
	default:
		return "Error"
	}
}

// HostError is a host failure with an explicit script class and a bare message.
type HostError struct {
	Kind     Kind
	Msg      string
	sentinel error
}

func (e *HostError) Error() string { return e.Msg }

func (e *HostError) Unwrap() error { return e.sentinel }

// Range reports an out-of-range access.
func Range(msg string) error {
	return &HostError{Kind: KindRange, Msg: msg, sentinel: ErrOutOfRange}
}

// Reference reports a missing attribute.
func Reference(msg string) error {
	return &HostError{Kind: KindReference, Msg: msg, sentinel: ErrNoAttribute}
}

// Syntax reports malformed source met during dynamic evaluation.
func Syntax(msg string) error {
	return &HostError{Kind: KindSyntax, Msg: msg, sentinel: ErrSyntax}
}

// Type reports a type mismatch.
func Type(msg string) error {
	return &HostError{Kind: KindType, Msg: msg, sentinel: ErrTypeMismatch}
}

// NotImplemented reports a feature the host does not provide.
func NotImplemented(msg string) error {
	return &HostError{Kind: KindError, Msg: msg, sentinel: ErrNotImplemented}
}

// Classify maps a host error onto the script error taxonomy.
func Classify(err error) Kind {
	var he *HostError
	if errors.As(err, &he) {
		return he.Kind
	}

	switch {
	case errors.Is(err, ErrOutOfRange), errors.Is(err, strconv.ErrRange):
		return KindRange
	case errors.Is(err, ErrNoAttribute):
		return KindReference
	case errors.Is(err, ErrSyntax), errors.Is(err, strconv.ErrSyntax):
		return KindSyntax
	case errors.Is(err, ErrTypeMismatch):
		return KindType
	default:
		return KindError
	}
}

// Message returns the text a script sees as the error message.
func Message(err error) string {
	var he *HostError
	if errors.As(err, &he) {
		return he.Msg
	}
	return err.Error()
}
