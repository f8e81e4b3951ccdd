package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestConsoleLogsThroughIsolateLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	iso := NewIsolate(WithLogger(zap.New(core)))
	c := newTestContext(t, WithIsolate(iso))

	_, err := c.EvalScript("console.log('hello', 42)\nconsole.warn('careful')", "console.js")
	require.NoError(t, err)

	entries := logs.FilterField(zap.String("source", "console")).All()
	require.Len(t, entries, 2)
	assert.Equal(t, "hello 42", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "careful", entries[1].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Contains(t, entries[0].ContextMap()["at"], "console.js:1:")
}

func TestConsoleDisabled(t *testing.T) {
	c := newTestContext(t, WithConsole(false))
	v, err := c.Eval("typeof console")
	require.NoError(t, err)
	assert.Equal(t, "undefined", v)
}
