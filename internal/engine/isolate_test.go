package engine

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/jsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/jsbridge/internal/jserror"
)

func TestStackOverflow(t *testing.T) {
	iso := NewIsolate(WithResourceLimits(ResourceLimits{MaxCallStackSize: 64}))
	c := newTestContext(t, WithIsolate(iso))
	assert.False(t, iso.HasStackOverflow())

	_, err := c.Eval("function down(n) { return down(n + 1) }\ndown(0)")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStackOverflow)
	assert.True(t, iso.HasStackOverflow(), "the flag stays set after the call returns")

	var jsErr *jserror.Error
	require.ErrorAs(t, err, &jsErr)
	assert.Equal(t, "RangeError", jsErr.Name)

	// the isolate stays usable
	v, err := c.Eval("1 + 1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
	assert.True(t, iso.HasStackOverflow())

	iso.Collect()
	assert.False(t, iso.HasStackOverflow())
}

func TestDeepRecursionWithinLimit(t *testing.T) {
	iso := NewIsolate(WithResourceLimits(ResourceLimits{MaxCallStackSize: 2000}))
	c := newTestContext(t, WithIsolate(iso))

	v, err := c.Eval("function depth(n) { return n == 0 ? 0 : 1 + depth(n - 1) }\ndepth(500)")
	require.NoError(t, err)
	assert.EqualValues(t, 500, v)
	assert.False(t, iso.HasStackOverflow())
}

const hoarder = "var hoard = []; while (true) { hoard.push(new Array(1024).fill(hoard.length)) }"

func TestOutOfMemory(t *testing.T) {
	iso := NewIsolate(WithResourceLimits(ResourceLimits{
		MaxOldSpaceSize: 32 << 20,
		PollInterval:    time.Millisecond,
	}))
	c := newTestContext(t, WithIsolate(iso))

	_, err := c.Eval(hoarder)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.True(t, iso.HasOutOfMemory())

	iso.IgnoreOutOfMemory()
	v, err := c.Eval(hoarder)
	require.NoError(t, err)
	assert.Equal(t, Undefined, v)
	assert.True(t, iso.HasOutOfMemory())

	iso.ResetResourceLimits()
	iso.Collect()
	assert.False(t, iso.HasOutOfMemory())
	assert.Equal(t, ResourceLimits{}, iso.ResourceLimits())

	_, err = c.Eval("hoard = null")
	require.NoError(t, err)
}

func TestResourceLimitsApplyToNextRun(t *testing.T) {
	iso := NewIsolate()
	c := newTestContext(t, WithIsolate(iso))

	recurse := "function r(n) { return n == 0 ? 0 : 1 + r(n - 1) }\nr(300)"
	_, err := c.Eval(recurse)
	require.NoError(t, err)

	iso.SetResourceLimits(ResourceLimits{MaxCallStackSize: 100})
	_, err = c.Eval(recurse)
	assert.ErrorIs(t, err, ErrStackOverflow)

	iso.ResetResourceLimits()
	_, err = c.Eval(recurse)
	assert.NoError(t, err)
}

func TestIsolateDiesOnHostPanic(t *testing.T) {
	iso := NewIsolate(WithLogger(zaptest.NewLogger(t)))
	host := NewAttrs().Method("explode", func([]any) (any, error) {
		panic("kaboom")
	})
	c := newTestContext(t, WithIsolate(iso), WithGlobal(host))

	_, err := c.Eval("explode()")
	assert.ErrorIs(t, err, ErrIsolateDead)
	assert.True(t, iso.IsDead())

	_, err = c.Eval("1")
	assert.ErrorIs(t, err, ErrIsolateDead)
	_, err = NewContext(WithIsolate(iso))
	assert.ErrorIs(t, err, ErrIsolateDead)
	_, err = iso.Compile("1")
	assert.ErrorIs(t, err, ErrIsolateDead)
}

func TestIsolateMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	iso := NewIsolate(WithMetrics(metrics))
	host := NewAttrs().Method("fail", func([]any) (any, error) {
		return nil, jserror.Type("nope")
	})
	c := newTestContext(t, WithIsolate(iso), WithGlobal(host))

	_, err := c.Eval("1")
	require.NoError(t, err)
	_, err = c.Eval("fail()")
	require.Error(t, err)
	_, err = iso.Compile("var = ;")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ContextsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HostErrors.WithLabelValues("TypeError")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CompilesTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("error")))
}
