package engine

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"time"
	"unsafe"

	"github.com/dop251/goja"
)

// UndefinedValue is the host representation of script undefined.
type UndefinedValue struct{}

func (UndefinedValue) String() string { return "undefined" }

// Undefined is returned for script undefined and may be returned by host
// attribute lookups to mean "absent" rather than null.
var Undefined = UndefinedValue{}

// Func is a host function callable from script.
type Func func(args []any) (any, error)

// toValue converts a host value into a value of c's runtime.
func (c *Context) toValue(v any) goja.Value {
	rt := c.rt
	switch v := v.(type) {
	case nil:
		return goja.Null()
	case UndefinedValue:
		return goja.Undefined()
	case goja.Value:
		return v
	case bool, string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return rt.ToValue(v)
	case []byte:
		return rt.ToValue(string(v))
	case time.Time:
		return c.newDate(v)
	case *Object:
		return c.importObject(v)
	case error:
		return c.translatedError(v)
	case Func:
		return c.wrapFunc(v, v)
	case func(args []any) (any, error):
		return c.wrapFunc(Func(v), v)
	case HostObject:
		return c.wrapHost(v)
	case Callable:
		return c.wrapCallable(v)
	case Constructible:
		return c.wrapCallable(v)
	case *[]any:
		return c.handles.wrap(v, func() *goja.Object {
			return rt.NewDynamicArray(&listArray{ctx: c, items: v, growable: true})
		})
	case []any:
		items := v
		return rt.NewDynamicArray(&listArray{ctx: c, items: &items})
	case map[string]any:
		return c.handles.wrap(reflect.ValueOf(v).UnsafePointer(), func() *goja.Object {
			return c.wrapHostObject(mapObject(v), v)
		})
	}
	return c.reflectValue(reflect.ValueOf(v), v)
}

func (c *Context) reflectValue(rv reflect.Value, v any) goja.Value {
	switch rv.Kind() {
	case reflect.Map:
		return c.snapshotMap(rv)
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = c.toValue(rv.Index(i).Interface())
		}
		return c.rt.NewArray(items...)
	case reflect.Pointer:
		if rv.IsNil() {
			return goja.Null()
		}
	}
	return c.handles.wrap(v, func() *goja.Object {
		return c.wrapHostObject(opaque{}, v)
	})
}

// snapshotMap copies a map with arbitrary keys into a plain object.
// Keys are stringified and emitted in ascending key order.
func (c *Context) snapshotMap(rv reflect.Value) *goja.Object {
	keys := rv.MapKeys()
	slices.SortFunc(keys, compareKeys)
	obj := c.rt.NewObject()
	for _, k := range keys {
		_ = obj.Set(fmt.Sprint(k.Interface()), c.toValue(rv.MapIndex(k).Interface()))
	}
	return obj
}

func compareKeys(a, b reflect.Value) int {
	switch {
	case a.CanInt() && b.CanInt():
		return cmp.Compare(a.Int(), b.Int())
	case a.CanUint() && b.CanUint():
		return cmp.Compare(a.Uint(), b.Uint())
	case a.CanFloat() && b.CanFloat():
		return cmp.Compare(a.Float(), b.Float())
	}
	return cmp.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
}

// newDate builds a script Date. Sub-millisecond precision is truncated.
func (c *Context) newDate(t time.Time) goja.Value {
	date, err := c.rt.New(c.rt.Get("Date"), c.rt.ToValue(t.UnixMilli()))
	if err != nil {
		return goja.Null()
	}
	return date
}

func (c *Context) translatedError(err error) goja.Value {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Value()
	}
	return c.errorObject(err)
}

// fromValue converts a value of c's runtime into a host value.
func (c *Context) fromValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) {
		return Undefined
	}
	if goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		switch e := v.Export().(type) {
		case int64, float64, string, bool:
			return e
		}
		return v.String()
	}

	if host, ok := c.handles.native(obj); ok {
		return host
	}
	switch d := obj.Export().(type) {
	case *hostWrapper:
		return d.value
	case *crossProxy:
		return d.target
	case *listArray:
		if d.growable {
			return d.items
		}
		return *d.items
	}
	if obj.ClassName() == "Date" {
		if t, ok := obj.Export().(time.Time); ok {
			return t
		}
	}
	return &Object{ctx: c, obj: obj}
}

func (c *Context) fromValues(vals []goja.Value) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = c.fromValue(v)
	}
	return out
}

func (c *Context) toValues(vals []any) []goja.Value {
	out := make([]goja.Value, len(vals))
	for i, v := range vals {
		out[i] = c.toValue(v)
	}
	return out
}

// Convert deep-converts v into host-native values: script objects become
// map[string]any, arrays become []any, dates become time.Time. Functions
// stay as *Object handles. Host maps and slices in v are copied, never
// modified, so converting a converted value yields an equal one. Cycles are
// preserved.
func Convert(v any) any {
	return convert(v, make(map[any]any))
}

// hostRef identifies a host map or slice while converting.
type hostRef struct {
	ptr unsafe.Pointer
	n   int
}

func convert(v any, seen map[any]any) any {
	switch v := v.(type) {
	case *Object:
		if done, ok := seen[v.obj]; ok {
			return done
		}
		return v.convert(seen)
	case map[string]any:
		ref := hostRef{ptr: reflect.ValueOf(v).UnsafePointer()}
		if done, ok := seen[ref]; ok {
			return done
		}
		out := make(map[string]any, len(v))
		seen[ref] = out
		for k, item := range v {
			out[k] = convert(item, seen)
		}
		return out
	case []any:
		if len(v) == 0 {
			return v
		}
		ref := hostRef{ptr: reflect.ValueOf(v).UnsafePointer(), n: len(v)}
		if done, ok := seen[ref]; ok {
			return done
		}
		out := make([]any, len(v))
		seen[ref] = out
		for i, item := range v {
			out[i] = convert(item, seen)
		}
		return out
	}
	return v
}

func (o *Object) convert(seen map[any]any) any {
	var out any
	err := o.ctx.access(func(*goja.Runtime) error {
		out = o.convertLocked(seen)
		return nil
	})
	if err != nil {
		return o
	}
	return out
}

func (o *Object) convertLocked(seen map[any]any) any {
	c := o.ctx
	if _, isFunc := goja.AssertFunction(o.obj); isFunc {
		seen[o.obj] = o
		return o
	}
	if o.obj.ClassName() == "Array" {
		n := int(toInt(o.obj.Get("length")))
		list := make([]any, n)
		seen[o.obj] = list
		for i := range list {
			list[i] = c.convertValue(o.obj.Get(strconv.Itoa(i)), seen)
		}
		return list
	}
	m := make(map[string]any)
	seen[o.obj] = m
	for _, k := range o.obj.Keys() {
		m[k] = c.convertValue(o.obj.Get(k), seen)
	}
	return m
}

func (c *Context) convertValue(v goja.Value, seen map[any]any) any {
	if obj, ok := v.(*goja.Object); ok {
		if done, ok := seen[obj]; ok {
			return done
		}
	}
	host := c.fromValue(v)
	if o, ok := host.(*Object); ok && o.ctx == c {
		return o.convertLocked(seen)
	}
	return convert(host, seen)
}

func toInt(v goja.Value) int64 {
	if v == nil {
		return 0
	}
	f := v.ToFloat()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(f)
}
