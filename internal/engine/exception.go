package engine

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/jsbridge/internal/jserror"
)

// throw raises err inside the running script. Host errors become script
// Error objects of the kind their taxonomy maps to; the original error is
// remembered so an uncaught exception surfaces it again on the host side.
func (c *Context) throw(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	obj := c.errorObject(err)
	c.iso.debug.hostException(c, obj, err)
	panic(obj)
}

func (c *Context) errorObject(err error) *goja.Object {
	kind := jserror.Classify(err)
	obj := c.newError(kind.Name(), jserror.Message(err))
	c.hostErrors[obj] = err
	c.iso.metrics.RecordHostError(kind.Name())
	c.logger.Debug("host error converted for script", zap.String("kind", kind.Name()), zap.Error(err))
	return obj
}

func (c *Context) newError(ctorName, msg string) *goja.Object {
	obj, err := c.rt.New(c.rt.Get(ctorName), c.rt.ToValue(msg))
	if err != nil {
		return c.rt.NewGoError(errors.New(msg))
	}
	return obj
}

// takeHostError returns and forgets the host error behind a thrown value.
func (c *Context) takeHostError(v goja.Value) (error, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	err, ok := c.hostErrors[obj]
	if ok {
		delete(c.hostErrors, obj)
	}
	return err, ok
}

// exceptionError converts an uncaught script exception into a host error.
func (c *Context) exceptionError(ex *goja.Exception) error {
	cause, _ := c.takeHostError(ex.Value())
	err := c.errorFromValue(ex.Value(), ex.String(), cause)
	c.iso.debug.uncaughtException(c, ex, err)
	return err
}

func (c *Context) errorFromValue(v goja.Value, stack string, cause error) *jserror.Error {
	name, msg := "", ""
	if obj, ok := v.(*goja.Object); ok {
		if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) {
			name = n.String()
		}
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			msg = m.String()
		} else {
			msg = obj.String()
		}
	} else if v != nil {
		msg = v.String()
	}
	return &jserror.Error{Info: c.buildInfo(name, msg, stack), Cause: cause}
}

// buildInfo fills an Error Info from a rendered engine stack. The first
// frame that belongs to a script determines the reported position.
func (c *Context) buildInfo(name, msg, stack string) jserror.Info {
	info := jserror.Info{Name: name, Message: msg}

	raw := jserror.ToFrames(jserror.ParseStack(stack))
	info.Frames = make(jserror.Frames, 0, len(raw))
	located := false
	for _, f := range raw {
		shifted := c.iso.shiftFrame(f)
		info.Frames = append(info.Frames, shifted)
		if located || f.IsNative || f.IsEval || f.ScriptName == "" {
			continue
		}
		located = true
		info.ScriptName = shifted.ScriptName
		info.LineNum = shifted.LineNum
		info.StartCol = max(shifted.Column-1, 0)
		info.EndCol = info.StartCol + 1
		if entry := c.iso.source(f.ScriptName); entry != nil {
			info.StartPos, info.SourceLine = jserror.SourceOffsets(entry.src, f.LineNum, f.Column)
			info.EndPos = info.StartPos + 1
		}
	}

	header := msg
	if name != "" {
		header = name + ": " + msg
	}
	info.StackTrace = info.Frames.Text(header)
	return info
}

// shiftFrame applies the line and column offsets of the frame's script.
func (iso *Isolate) shiftFrame(f jserror.Frame) jserror.Frame {
	if f.IsNative || f.IsEval {
		return f
	}
	entry := iso.source(f.ScriptName)
	if entry == nil {
		return f
	}
	if f.LineNum == 1 {
		f.Column += entry.colOffset
	}
	f.LineNum += entry.lineOffset
	return f
}

// compileError converts a parser or compiler failure into a SyntaxError
// carrying the failing position.
func (iso *Isolate) compileError(err error, name, src string, lineOffset, colOffset int) error {
	info := jserror.Info{Name: "SyntaxError", Message: err.Error(), ScriptName: name}

	line, col := 0, 0
	var list parser.ErrorList
	var single *parser.Error
	var cse *goja.CompilerSyntaxError
	switch {
	case errors.As(err, &list) && len(list) > 0:
		info.Message = list[0].Message
		line, col = list[0].Position.Line, list[0].Position.Column
	case errors.As(err, &single):
		info.Message = single.Message
		line, col = single.Position.Line, single.Position.Column
	case errors.As(err, &cse):
		info.Message = cse.Message
		if cse.File != nil {
			pos := cse.File.Position(cse.Offset)
			line, col = pos.Line, pos.Column
		}
	}

	if line > 0 {
		info.StartPos, info.SourceLine = jserror.SourceOffsets(src, line, col)
		info.EndPos = info.StartPos + 1
		if line == 1 {
			col += colOffset
		}
		info.LineNum = line + lineOffset
		info.StartCol = max(col-1, 0)
		info.EndCol = info.StartCol + 1
	}
	info.StackTrace = fmt.Sprintf("%s: %s\n    at %s", info.Name, info.Message, info.Location())
	return &jserror.Error{Info: info}
}
