package engine

import (
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// setupConsole installs console.log/info/warn/error/debug writing to the
// context logger.
func (c *Context) setupConsole() {
	console := c.rt.NewObject()
	_ = console.Set("log", c.makeConsoleFunc(zapcore.InfoLevel))
	_ = console.Set("info", c.makeConsoleFunc(zapcore.InfoLevel))
	_ = console.Set("warn", c.makeConsoleFunc(zapcore.WarnLevel))
	_ = console.Set("error", c.makeConsoleFunc(zapcore.ErrorLevel))
	_ = console.Set("debug", c.makeConsoleFunc(zapcore.DebugLevel))
	_ = c.rt.GlobalObject().Set("console", console)
}

// makeConsoleFunc creates a console function
func (c *Context) makeConsoleFunc(level zapcore.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}

		fields := []zap.Field{zap.String("source", "console")}
		if frames := c.CurrentStackTrace(2); len(frames) > 1 {
			fields = append(fields, zap.String("at", frames[1].Location()))
		}
		if ce := c.logger.Check(level, strings.Join(parts, " ")); ce != nil {
			ce.Write(fields...)
		}
		return goja.Undefined()
	}
}
