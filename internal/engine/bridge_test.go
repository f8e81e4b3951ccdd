package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/jsbridge/internal/jserror"
)

type adder struct{}

func (adder) Call(_ any, args []any) (any, error) {
	var sum int64
	for _, a := range args {
		n, ok := a.(int64)
		if !ok {
			return nil, jserror.Type(fmt.Sprintf("cannot add %v", a))
		}
		sum += n
	}
	return sum, nil
}

type point struct{}

func (point) Construct(args []any) (any, error) {
	if len(args) != 2 {
		return nil, jserror.Range("point takes two coordinates")
	}
	return map[string]any{"x": args[0], "y": args[1]}, nil
}

// counter is a host object that can also be called.
type counter struct{ *Attrs }

func (counter) Call(_ any, args []any) (any, error) { return len(args), nil }

type quotaError struct{ limit int }

func (e *quotaError) Error() string { return fmt.Sprintf("quota of %d exceeded", e.limit) }

func TestAbsentVersusNull(t *testing.T) {
	host := NewAttrs().
		Put("x", nil).
		Define("y", Property{Get: func() (any, error) {
			return nil, jserror.Reference("y is not available")
		}})
	c := newTestContext(t, WithGlobal(host))

	v, err := c.Eval("x")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = c.Eval("typeof missing")
	require.NoError(t, err)
	assert.Equal(t, "undefined", v)

	_, err = c.Eval("y")
	var jsErr *jserror.Error
	require.ErrorAs(t, err, &jsErr)
	assert.Equal(t, "ReferenceError", jsErr.Name)
	assert.ErrorIs(t, err, jserror.ErrNoAttribute)

	v, err = c.Eval("(function() { try { return y } catch (e) { return e instanceof ReferenceError } })()")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestHostErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{name: "range", err: jserror.Range("index 5 out of range"), kind: "RangeError"},
		{name: "reference", err: jserror.Reference("no attribute z"), kind: "ReferenceError"},
		{name: "syntax", err: jserror.Syntax("unexpected token"), kind: "SyntaxError"},
		{name: "type", err: jserror.Type("not a number"), kind: "TypeError"},
		{name: "not implemented", err: jserror.NotImplemented("later"), kind: "Error"},
		{name: "other", err: &quotaError{limit: 3}, kind: "Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := NewAttrs().Method("fail", func([]any) (any, error) { return nil, tt.err })
			c := newTestContext(t, WithGlobal(host))

			v, err := c.Eval("(function() { try { fail(); return 'no throw' } catch (e) { return e.name } })()")
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v)

			_, err = c.Eval("fail()")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err, "uncaught host errors surface as the original error")
		})
	}
}

func TestHostErrorIdentity(t *testing.T) {
	host := NewAttrs().Method("spend", func([]any) (any, error) {
		return nil, &quotaError{limit: 10}
	})
	c := newTestContext(t, WithGlobal(host))

	_, err := c.EvalScript("function run() { spend() }\nrun()", "quota.js")
	var quota *quotaError
	require.ErrorAs(t, err, &quota)
	assert.Equal(t, 10, quota.limit)

	var jsErr *jserror.Error
	require.ErrorAs(t, err, &jsErr)
	assert.Equal(t, "quota.js", jsErr.ScriptName)
	assert.Contains(t, err.Error(), "quota of 10 exceeded")
}

func TestWatchTransformsAssignments(t *testing.T) {
	obj := NewAttrs().Put("p", 1)
	c := newTestContext(t, WithGlobal(NewAttrs().Put("o", obj)))

	v, err := c.Eval(`(function() {
		o.watch('p', function(id, oldval, newval) { return oldval + newval; });
		o.p = 2;
		var transformed = o.p;
		delete o.p;
		var afterDelete = o.p;
		o.unwatch('p');
		o.p = 2;
		return [transformed, afterDelete, o.p];
	})()`)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), Undefined, int64(2)}, Convert(v))
}

func TestWatchFromHost(t *testing.T) {
	obj := NewAttrs().Put("p", int64(1))
	c := newTestContext(t, WithGlobal(NewAttrs().Put("o", obj)))

	w, err := c.Wrap(obj)
	require.NoError(t, err)
	require.NoError(t, w.Watch("p", func(_ string, oldVal, newVal any) any {
		return oldVal.(int64) * newVal.(int64) * 10
	}))

	v, err := c.Eval("o.p = 4; o.p")
	require.NoError(t, err)
	assert.EqualValues(t, 40, v)

	require.NoError(t, w.Unwatch("p"))
	v, err = c.Eval("o.p = 4; o.p")
	require.NoError(t, err)
	assert.EqualValues(t, 4, v)

	plain, err := c.Eval("({})")
	require.NoError(t, err)
	assert.ErrorIs(t, plain.(*Object).Watch("p", nil), ErrNotWatchable)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, w.Watch("p", nil), ErrContextClosed)
	assert.ErrorIs(t, w.Unwatch("p"), ErrContextClosed)
}

func TestEnumerationIsLive(t *testing.T) {
	counter := 0
	obj := NewAttrs().Put("a", 1).Define("computed", Property{Get: func() (any, error) {
		counter++
		return counter, nil
	}})
	c := newTestContext(t, WithGlobal(NewAttrs().Put("o", obj)))

	v, err := c.Eval("Object.keys(o).join(',')")
	require.NoError(t, err)
	assert.Equal(t, "a,computed", v)

	obj.Put("late", true)
	v, err = c.Eval("var names = []; for (var k in o) names.push(k); names.join(',')")
	require.NoError(t, err)
	assert.Equal(t, "a,computed,late", v)

	v, err = c.Eval("'late' in o")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestReadOnlyProperty(t *testing.T) {
	obj := NewAttrs().Define("version", Property{Get: func() (any, error) { return "1.0", nil }})
	c := newTestContext(t, WithGlobal(NewAttrs().Put("o", obj)))

	v, err := c.Eval("(function() { try { o.version = '2.0'; return 'assigned' } catch (e) { return e.name } })()")
	require.NoError(t, err)
	assert.Equal(t, "TypeError", v)

	v, err = c.Eval("o.extra = 5; o.extra")
	require.NoError(t, err)
	assert.EqualValues(t, 5, v)
	extra, ok := obj.Lookup("extra")
	require.True(t, ok)
	assert.EqualValues(t, 5, extra)
}

func TestCallableHostValues(t *testing.T) {
	host := NewAttrs().Put("add", adder{}).Put("Point", point{})
	c := newTestContext(t, WithGlobal(host))

	v, err := c.Eval("add(1, 2, 3)")
	require.NoError(t, err)
	assert.EqualValues(t, 6, v)

	v, err = c.Eval("var p = new Point(3, 4); p.x + p.y")
	require.NoError(t, err)
	assert.EqualValues(t, 7, v)

	v, err = c.Eval("(function() { try { return add('a') } catch (e) { return e.name } })()")
	require.NoError(t, err)
	assert.Equal(t, "TypeError", v)

	v, err = c.Eval("(function() { try { return new Point(1) } catch (e) { return e.name } })()")
	require.NoError(t, err)
	assert.Equal(t, "RangeError", v)

	// host values come back as themselves
	fn, err := c.Global().Get("add")
	require.NoError(t, err)
	assert.Equal(t, adder{}, fn)
}

func TestCallableHostObjectProperties(t *testing.T) {
	d := counter{NewAttrs().Put("a", 1)}
	c := newTestContext(t, WithGlobal(NewAttrs().Put("d", d)))

	v, err := c.Eval("d(1, 2)")
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)

	v, err = c.Eval("typeof d")
	require.NoError(t, err)
	assert.Equal(t, "function", v)

	d.Put("b", 2)
	v, err = c.Eval("Object.keys(d).join(',')")
	require.NoError(t, err)
	assert.Equal(t, "a,b", v)

	v, err = c.Eval("d.b")
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)

	v, err = c.Eval("d.c = 3; 'c' in d")
	require.NoError(t, err)
	assert.Equal(t, true, v)
	got, ok := d.Lookup("c")
	require.True(t, ok)
	assert.EqualValues(t, 3, got)

	v, err = c.Eval("delete d.a; 'a' in d")
	require.NoError(t, err)
	assert.Equal(t, false, v)
	_, ok = d.Lookup("a")
	assert.False(t, ok)

	v, err = c.Eval("d.length + ':' + ('call' in d)")
	require.NoError(t, err)
	assert.Equal(t, "0:true", v)

	back, err := c.Global().Get("d")
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func TestHostFunctionRoundTrip(t *testing.T) {
	var received []any
	host := NewAttrs().Method("record", func(args []any) (any, error) {
		received = args
		return len(args), nil
	})
	c := newTestContext(t, WithGlobal(host))

	v, err := c.Eval("record(1, 'two', null, undefined, true, 2.5)")
	require.NoError(t, err)
	assert.EqualValues(t, 6, v)
	assert.Equal(t, []any{int64(1), "two", nil, Undefined, true, 2.5}, received)
}

func TestScriptFunctionCalledFromHost(t *testing.T) {
	c := newTestContext(t)

	v, err := c.Eval("(function(a, b) { return a * b })")
	require.NoError(t, err)
	fn := v.(*Object)
	assert.True(t, fn.IsFunction())

	res, err := fn.Call(6, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 42, res)

	v, err = c.Eval("(function() { return this.base + 1 })")
	require.NoError(t, err)
	res, err = v.(*Object).Apply(map[string]any{"base": 9})
	require.NoError(t, err)
	assert.EqualValues(t, 10, res)

	v, err = c.Eval("(function Box(v) { this.v = v })")
	require.NoError(t, err)
	res, err = v.(*Object).Construct("content")
	require.NoError(t, err)
	box := res.(*Object)
	got, err := box.Get("v")
	require.NoError(t, err)
	assert.Equal(t, "content", got)

	obj, err := c.Eval("({})")
	require.NoError(t, err)
	_, err = obj.(*Object).Call()
	assert.ErrorIs(t, err, ErrNotFunction)
}

func TestScriptExceptionFromCallback(t *testing.T) {
	c := newTestContext(t)

	v, err := c.Eval("(function() { throw new TypeError('bad input') })")
	require.NoError(t, err)

	_, err = v.(*Object).Call()
	var jsErr *jserror.Error
	require.ErrorAs(t, err, &jsErr)
	assert.Equal(t, "TypeError", jsErr.Name)
	assert.Equal(t, "bad input", jsErr.Message)
	assert.ErrorIs(t, err, jserror.ErrTypeMismatch)
	assert.False(t, errors.Is(err, jserror.ErrOutOfRange))
}

func TestObjectHandle(t *testing.T) {
	c := newTestContext(t)

	v, err := c.Eval("({a: 1, list: [1, 2, 3]})")
	require.NoError(t, err)
	obj := v.(*Object)
	assert.Equal(t, "Object", obj.ClassName())
	assert.False(t, obj.IsArray())

	keys, err := obj.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "list"}, keys)

	require.NoError(t, obj.Set("b", "two"))
	ok, err := obj.Has("b")
	require.NoError(t, err)
	assert.True(t, ok)

	deleted, err := obj.Delete("b")
	require.NoError(t, err)
	assert.True(t, deleted)
	got, err := obj.Get("b")
	require.NoError(t, err)
	assert.Equal(t, Undefined, got)

	lv, err := obj.Get("list")
	require.NoError(t, err)
	list := lv.(*Object)
	assert.True(t, list.IsArray())
	assert.Equal(t, 3, list.Len())
	require.NoError(t, list.SetIndex(1, 20))
	item, err := list.Index(1)
	require.NoError(t, err)
	assert.EqualValues(t, 20, item)

	again, err := obj.Get("list")
	require.NoError(t, err)
	assert.True(t, list.Equal(again.(*Object)))
	assert.Equal(t, "1,20,3", list.String())
}
