package engine

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/jsbridge/internal/jserror"
)

// Object is a host-side handle to a script object. It keeps the object
// alive while the handle is reachable. All operations take the isolate
// lock and enforce the owning context's security token.
type Object struct {
	ctx *Context
	obj *goja.Object
}

// WatchFunc transforms a value assigned to a watched property. Its result
// is what gets stored.
type WatchFunc func(name string, oldVal, newVal any) any

func (o *Object) Context() *Context { return o.ctx }

// Wrap returns a handle to the script object that represents the host value
// v in c. Host objects keep one script identity while it is referenced.
func (c *Context) Wrap(v any) (*Object, error) {
	var out *Object
	err := c.access(func(*goja.Runtime) error {
		obj, ok := c.toValue(v).(*goja.Object)
		if !ok {
			return fmt.Errorf("%w: %T has no object representation", jserror.ErrTypeMismatch, v)
		}
		out = &Object{ctx: c, obj: obj}
		return nil
	})
	return out, err
}

// Get reads a property. Absent properties yield Undefined.
func (o *Object) Get(name string) (any, error) {
	var out any
	err := o.ctx.access(func(*goja.Runtime) error {
		out = o.ctx.fromValue(o.obj.Get(name))
		return nil
	})
	return out, err
}

func (o *Object) Set(name string, value any) error {
	return o.ctx.access(func(*goja.Runtime) error {
		return o.obj.Set(name, o.ctx.toValue(value))
	})
}

// Delete removes a property and reports whether it was deleted.
func (o *Object) Delete(name string) (bool, error) {
	var ok bool
	err := o.ctx.access(func(*goja.Runtime) error {
		ok = o.obj.Delete(name) == nil && o.obj.Get(name) == nil
		return nil
	})
	return ok, err
}

// Has reports whether the property exists on the object or its prototypes.
func (o *Object) Has(name string) (bool, error) {
	var ok bool
	err := o.ctx.access(func(*goja.Runtime) error {
		ok = o.obj.Get(name) != nil
		return nil
	})
	return ok, err
}

// Keys returns the object's own enumerable property names.
func (o *Object) Keys() ([]string, error) {
	var keys []string
	err := o.ctx.access(func(*goja.Runtime) error {
		keys = o.obj.Keys()
		return nil
	})
	return keys, err
}

// Len returns the length property, or zero if there is none.
func (o *Object) Len() int {
	var n int64
	_ = o.ctx.access(func(*goja.Runtime) error {
		n = toInt(o.obj.Get("length"))
		return nil
	})
	return int(n)
}

func (o *Object) Index(i int) (any, error) {
	return o.Get(strconv.Itoa(i))
}

func (o *Object) SetIndex(i int, value any) error {
	return o.Set(strconv.Itoa(i), value)
}

func (o *Object) ClassName() string {
	var name string
	_ = o.ctx.access(func(*goja.Runtime) error {
		name = o.obj.ClassName()
		return nil
	})
	return name
}

func (o *Object) IsArray() bool { return o.ClassName() == "Array" }

func (o *Object) IsFunction() bool {
	_, ok := goja.AssertFunction(o.obj)
	return ok
}

// Call invokes the object as a function with an undefined receiver.
func (o *Object) Call(args ...any) (any, error) {
	return o.Apply(Undefined, args...)
}

// Apply invokes the object as a function with the given receiver.
func (o *Object) Apply(this any, args ...any) (any, error) {
	fn, ok := goja.AssertFunction(o.obj)
	if !ok {
		return nil, ErrNotFunction
	}
	return o.ctx.exec(func(*goja.Runtime) (goja.Value, error) {
		return fn(o.ctx.toValue(this), o.ctx.toValues(args)...)
	})
}

// Construct invokes the object with new.
func (o *Object) Construct(args ...any) (any, error) {
	if !o.IsFunction() {
		return nil, ErrNotFunction
	}
	return o.ctx.exec(func(rt *goja.Runtime) (goja.Value, error) {
		obj, err := rt.New(o.obj, o.ctx.toValues(args)...)
		if err != nil {
			return nil, err
		}
		return obj, nil
	})
}

// Watch registers fn as the value transform for assignments to name. Only
// host objects exposed to script can be watched.
func (o *Object) Watch(name string, fn WatchFunc) error {
	return o.ctx.access(func(*goja.Runtime) error {
		w, ok := o.obj.Export().(*hostWrapper)
		if !ok {
			return ErrNotWatchable
		}
		c := o.ctx
		w.watch(name, func(name string, oldVal, newVal goja.Value) goja.Value {
			return c.toValue(fn(name, c.fromValue(oldVal), c.fromValue(newVal)))
		})
		return nil
	})
}

func (o *Object) Unwatch(name string) error {
	return o.ctx.access(func(*goja.Runtime) error {
		w, ok := o.obj.Export().(*hostWrapper)
		if !ok {
			return ErrNotWatchable
		}
		w.unwatch(name)
		return nil
	})
}

// Equal reports whether both handles refer to the same script object.
func (o *Object) Equal(other *Object) bool {
	return other != nil && o.obj == other.obj
}

// String renders the object with the script's toString.
func (o *Object) String() string {
	var s string
	err := o.ctx.access(func(*goja.Runtime) error {
		s = o.obj.String()
		return nil
	})
	if err != nil {
		return "[object " + o.obj.ClassName() + "]"
	}
	return s
}
