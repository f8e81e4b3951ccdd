package jserror

import (
	"regexp"
	"strconv"
	"strings"
)

// Frame is one entry of a script stack trace.
type Frame struct {
	FuncName      string `json:"function,omitempty"`
	ScriptName    string `json:"script"`
	LineNum       int    `json:"line"`
	Column        int    `json:"column"`
	IsEval        bool   `json:"eval,omitempty"`
	IsConstructor bool   `json:"constructor,omitempty"`
	IsNative      bool   `json:"native,omitempty"`
}

// Location renders "script:line:col", "native" or "(eval)".
func (f Frame) Location() string {
	switch {
	case f.IsNative:
		return "native"
	case f.IsEval:
		return "(eval)"
	}
	return f.ScriptName + ":" + strconv.Itoa(f.LineNum) + ":" + strconv.Itoa(f.Column)
}

func (f Frame) String() string {
	if f.IsEval {
		return "\tat (eval)\n"
	}
	if f.FuncName == "" {
		return "\tat " + f.Location() + "\n"
	}
	return "\tat " + f.FuncName + " (" + f.Location() + ")\n"
}

// Frames is an ordered stack trace, innermost frame first.
type Frames []Frame

func (fs Frames) String() string {
	var sb strings.Builder
	for _, f := range fs {
		sb.WriteString(f.String())
	}
	return sb.String()
}

// Text renders the trace in the engine's "    at ..." layout under header.
func (fs Frames) Text(header string) string {
	var sb strings.Builder
	sb.WriteString(header)
	for _, f := range fs {
		sb.WriteString("\n    at ")
		if f.FuncName != "" && !f.IsEval {
			sb.WriteString(f.FuncName)
			sb.WriteString(" (")
			sb.WriteString(f.Location())
			sb.WriteString(")")
			continue
		}
		sb.WriteString(f.Location())
	}
	return sb.String()
}

// ParsedFrame is one frame recovered from a textual stack trace. Absent
// parts are nil.
type ParsedFrame struct {
	Function *string
	Source   string
	Line     *int
	Column   *int
}

var (
	frameLineRe = regexp.MustCompile(`^\s*at\s+(.*?)\s*$`)
	frameCallRe = regexp.MustCompile(`^(?:new\s+)?(.+?)\s+\((.+)\)$`)
	frameLocRe  = regexp.MustCompile(`^(.+?)(?::(\d+))?(?::(\d+))?(?:\(\d+\))?$`)
)

// ParseStack decomposes a textual stack trace into frames. Lines that are not
// "at ..." entries, such as the leading "Name: message" header, are skipped.
func ParseStack(text string) []ParsedFrame {
	var frames []ParsedFrame
	for _, line := range strings.Split(text, "\n") {
		m := frameLineRe.FindStringSubmatch(line)
		if m == nil || m[1] == "" {
			continue
		}

		var frame ParsedFrame
		loc := m[1]
		if call := frameCallRe.FindStringSubmatch(loc); call != nil {
			name := call[1]
			frame.Function = &name
			loc = call[2]
		}

		parts := frameLocRe.FindStringSubmatch(loc)
		if parts == nil {
			frame.Source = loc
			frames = append(frames, frame)
			continue
		}
		frame.Source = parts[1]
		frame.Line = atoiPtr(parts[2])
		frame.Column = atoiPtr(parts[3])
		frames = append(frames, frame)
	}
	return frames
}

// ToFrames converts parsed frames into trace frames.
func ToFrames(parsed []ParsedFrame) Frames {
	frames := make(Frames, 0, len(parsed))
	for _, p := range parsed {
		f := Frame{ScriptName: p.Source}
		if p.Function != nil && *p.Function != "<anonymous>" {
			f.FuncName = *p.Function
		}
		if p.Line != nil {
			f.LineNum = *p.Line
		}
		if p.Column != nil {
			f.Column = *p.Column
		}
		switch p.Source {
		case "native", "<native>":
			f.IsNative = true
		case "<eval>", "(eval)":
			f.IsEval = true
		}
		frames = append(frames, f)
	}
	return frames
}

func atoiPtr(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}
