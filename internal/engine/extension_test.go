package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtensions(t *testing.T) {
	require.NoError(t, RegisterExtension(&Extension{
		Name: "test/greeting",
		Funcs: map[string]Func{
			"greet": func(args []any) (any, error) {
				return fmt.Sprintf("hello %v", args[0]), nil
			},
		},
	}))
	require.NoError(t, RegisterExtension(&Extension{
		Name:   "test/welcome",
		Source: "var welcome = greet('world');",
		Deps:   []string{"test/greeting"},
	}))

	assert.ErrorIs(t, RegisterExtension(&Extension{Name: "test/greeting"}), ErrDuplicateExtension)
	assert.Subset(t, Extensions(), []string{"test/greeting", "test/welcome"})

	ext, ok := LookupExtension("test/welcome")
	require.True(t, ok)
	assert.Equal(t, []string{"test/greeting"}, ext.Deps)

	t.Run("enabled with dependencies", func(t *testing.T) {
		c := newTestContext(t, WithExtensions("test/welcome"))
		v, err := c.Eval("welcome")
		require.NoError(t, err)
		assert.Equal(t, "hello world", v)
	})

	t.Run("not enabled", func(t *testing.T) {
		c := newTestContext(t)
		v, err := c.Eval("typeof greet")
		require.NoError(t, err)
		assert.Equal(t, "undefined", v)
	})

	t.Run("auto enable", func(t *testing.T) {
		require.NoError(t, SetAutoEnable("test/greeting", true))
		defer SetAutoEnable("test/greeting", false)

		c := newTestContext(t)
		v, err := c.Eval("greet(1)")
		require.NoError(t, err)
		assert.Equal(t, "hello 1", v)
	})

	t.Run("survives reset", func(t *testing.T) {
		c := newTestContext(t, WithExtensions("test/welcome"))
		require.NoError(t, c.Reset())
		v, err := c.Eval("welcome")
		require.NoError(t, err)
		assert.Equal(t, "hello world", v)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewContext(WithExtensions("test/missing"))
		assert.ErrorIs(t, err, ErrUnknownExtension)
		assert.ErrorIs(t, SetAutoEnable("test/missing", true), ErrUnknownExtension)
	})
}

func TestExtensionSourceErrors(t *testing.T) {
	require.NoError(t, RegisterExtension(&Extension{Name: "test/broken", Source: "var = ;"}))
	_, err := NewContext(WithExtensions("test/broken"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SyntaxError")
}
