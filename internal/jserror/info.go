package jserror

import (
	"fmt"
	"strings"
)

// Info describes a compile or run failure reported by the script engine.
type Info struct {
	Name       string `json:"name"`
	Message    string `json:"message"`
	ScriptName string `json:"script_name"`
	LineNum    int    `json:"line"`      // 1-based
	StartPos   int    `json:"start_pos"` // 0-based character offset into the script source
	EndPos     int    `json:"end_pos"`
	StartCol   int    `json:"start_col"` // 0-based
	EndCol     int    `json:"end_col"`
	SourceLine string `json:"source_line,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
	Frames     Frames `json:"frames,omitempty"`
}

// Location renders the position part of the summary.
func (i *Info) Location() string {
	return fmt.Sprintf("%s @ %d : %d", i.ScriptName, i.LineNum, i.StartCol)
}

// Summary renders "<Name>: <Message> ( <Script> @ <Line> : <Col> )  -> <origin>".
func (i *Info) Summary(origin string) string {
	var sb strings.Builder
	if i.Name != "" {
		sb.WriteString(i.Name)
		sb.WriteString(": ")
	}
	sb.WriteString(i.Message)
	sb.WriteString(" ( ")
	sb.WriteString(i.Location())
	sb.WriteString(" )  -> ")
	sb.WriteString(origin)
	return sb.String()
}

// Error is a script failure surfaced to the host.
type Error struct {
	Info

	// Cause is the host error that was thrown into the script, if the
	// exception started on the host side.
	Cause error
}

func (e *Error) Error() string {
	origin := strings.TrimSpace(e.SourceLine)
	if e.Cause != nil {
		origin = e.Cause.Error()
	}
	return e.Summary(origin)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches sentinel errors of the classified host taxonomy for script
// errors that did not start on the host side.
func (e *Error) Is(target error) bool {
	if e.Cause != nil {
		return false
	}
	switch target {
	case ErrOutOfRange:
		return e.Name == "RangeError"
	case ErrNoAttribute:
		return e.Name == "ReferenceError"
	case ErrSyntax:
		return e.Name == "SyntaxError"
	case ErrTypeMismatch:
		return e.Name == "TypeError"
	}
	return false
}

// SourceOffsets computes the 0-based character offset of a 1-based line and
// 1-based column in src, together with the text of that line.
func SourceOffsets(src string, line, column int) (pos int, text string) {
	if line < 1 {
		return 0, ""
	}
	lines := strings.SplitAfter(src, "\n")
	if line > len(lines) {
		return len([]rune(src)), ""
	}
	for _, l := range lines[:line-1] {
		pos += len([]rune(l))
	}
	text = strings.TrimRight(lines[line-1], "\r\n")
	if column > 1 {
		pos += column - 1
	}
	return pos, text
}
