package engine

import (
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/jsbridge/internal/jserror"
)

// HostObject is implemented by host values that expose named attributes to
// script. GetProperty returns Undefined for an absent attribute; returning
// an error throws the translated error into the script.
type HostObject interface {
	GetProperty(name string) (any, error)
	SetProperty(name string, value any) error
	// PropertyNames is queried on every enumeration.
	PropertyNames() []string
}

// PropertyDeleter is implemented by host objects that support delete.
type PropertyDeleter interface {
	DeleteProperty(name string) error
}

// Callable is implemented by host values that can be called from script.
type Callable interface {
	Call(this any, args []any) (any, error)
}

// Constructible is implemented by host values usable with new.
type Constructible interface {
	Construct(args []any) (any, error)
}

// Released is implemented by host values that want to know when script no
// longer references them.
type Released interface {
	Released()
}

// Property is an accessor attribute of an Attrs object. A nil Set makes the
// attribute read-only.
type Property struct {
	Get    func() (any, error)
	Set    func(value any) error
	Delete func() error
}

// Attrs is a ready-made HostObject holding plain attributes, accessor
// properties and methods.
type Attrs struct {
	mu     sync.RWMutex
	values map[string]any
	props  map[string]Property
	order  []string
}

func NewAttrs() *Attrs {
	return &Attrs{
		values: make(map[string]any),
		props:  make(map[string]Property),
	}
}

// Put sets a plain attribute.
func (a *Attrs) Put(name string, value any) *Attrs {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remember(name)
	a.values[name] = value
	return a
}

// Define adds an accessor attribute.
func (a *Attrs) Define(name string, p Property) *Attrs {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remember(name)
	delete(a.values, name)
	a.props[name] = p
	return a
}

// Method adds a callable attribute.
func (a *Attrs) Method(name string, fn Func) *Attrs {
	return a.Put(name, fn)
}

func (a *Attrs) remember(name string) {
	if !slices.Contains(a.order, name) {
		a.order = append(a.order, name)
	}
}

// Lookup reads an attribute from the host side without invoking accessors.
func (a *Attrs) Lookup(name string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[name]
	return v, ok
}

func (a *Attrs) GetProperty(name string) (any, error) {
	a.mu.RLock()
	p, isProp := a.props[name]
	v, isValue := a.values[name]
	a.mu.RUnlock()

	switch {
	case isProp && p.Get != nil:
		return p.Get()
	case isProp:
		return Undefined, nil
	case isValue:
		return v, nil
	}
	return Undefined, nil
}

func (a *Attrs) SetProperty(name string, value any) error {
	a.mu.RLock()
	p, isProp := a.props[name]
	a.mu.RUnlock()

	if isProp {
		if p.Set == nil {
			return jserror.Type("attribute " + name + " is read-only")
		}
		return p.Set(value)
	}
	a.Put(name, value)
	return nil
}

func (a *Attrs) DeleteProperty(name string) error {
	a.mu.Lock()
	p, isProp := a.props[name]
	a.mu.Unlock()

	if isProp && p.Delete != nil {
		if err := p.Delete(); err != nil {
			return err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.props, name)
	delete(a.values, name)
	a.order = slices.DeleteFunc(a.order, func(n string) bool { return n == name })
	return nil
}

func (a *Attrs) PropertyNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.order)
}

// mapObject exposes a live map[string]any. Keys enumerate in sorted order.
type mapObject map[string]any

func (m mapObject) GetProperty(name string) (any, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return Undefined, nil
}

func (m mapObject) SetProperty(name string, value any) error {
	m[name] = value
	return nil
}

func (m mapObject) DeleteProperty(name string) error {
	delete(m, name)
	return nil
}

func (m mapObject) PropertyNames() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// opaque stands in for host values with no script representation.
type opaque struct{}

func (opaque) GetProperty(string) (any, error) { return Undefined, nil }

func (opaque) SetProperty(name string, _ any) error {
	return jserror.Type("cannot set " + name + " on an opaque host value")
}

func (opaque) PropertyNames() []string { return nil }

// watchFunc transforms a value assigned to a watched property.
type watchFunc func(name string, oldVal, newVal goja.Value) goja.Value

// hostWrapper is the script-side face of a HostObject. Property access runs
// through an interceptor chain: registered watches first, then the host.
type hostWrapper struct {
	ctx     *Context
	host    HostObject
	value   any
	watches map[string]watchFunc
}

func (c *Context) wrapHost(h HostObject) goja.Value {
	return c.handles.wrap(h, func() *goja.Object {
		return c.wrapHostObject(h, h)
	})
}

// wrapHostObject builds the script object for h. value is what the object
// converts back to on the host side.
func (c *Context) wrapHostObject(h HostObject, value any) *goja.Object {
	if isCallable(h) {
		w := &hostWrapper{ctx: c, host: h, value: value}
		obj := c.rt.ToValue(c.rt.NewProxy(c.newCallable(h), w.callableTraps())).(*goja.Object)
		c.handles.setNative(obj, value)
		return obj
	}

	w := &hostWrapper{ctx: c, host: h, value: value}
	obj := c.rt.NewDynamicObject(w)
	_ = obj.SetPrototype(c.wrapperBase)
	return obj
}

func (w *hostWrapper) Get(key string) goja.Value {
	w.ctx.iso.debug.checkpoint(w.ctx)
	return w.lookup(key)
}

func (w *hostWrapper) lookup(key string) goja.Value {
	v, err := w.host.GetProperty(key)
	if err != nil {
		w.ctx.throw(err)
	}
	if _, absent := v.(UndefinedValue); absent {
		return nil
	}
	return w.ctx.toValue(v)
}

func (w *hostWrapper) Set(key string, val goja.Value) bool {
	w.ctx.iso.debug.checkpoint(w.ctx, val)
	if watch := w.watches[key]; watch != nil {
		val = watch(key, orUndefined(w.lookup(key)), val)
	}
	if err := w.host.SetProperty(key, w.ctx.fromValue(val)); err != nil {
		w.ctx.throw(err)
	}
	return true
}

func (w *hostWrapper) Has(key string) bool {
	if slices.Contains(w.host.PropertyNames(), key) {
		return true
	}
	v, err := w.host.GetProperty(key)
	if err != nil {
		return false
	}
	_, absent := v.(UndefinedValue)
	return !absent
}

func (w *hostWrapper) Delete(key string) bool {
	delete(w.watches, key)
	d, ok := w.host.(PropertyDeleter)
	if !ok {
		return false
	}
	if err := d.DeleteProperty(key); err != nil {
		w.ctx.throw(err)
	}
	return true
}

func (w *hostWrapper) Keys() []string {
	return w.host.PropertyNames()
}

// callableTraps routes property access on a callable host object to the
// host. Own properties of the underlying function are used for names the
// host does not have.
func (w *hostWrapper) callableTraps() *goja.ProxyTrapConfig {
	return &goja.ProxyTrapConfig{
		Get: func(target *goja.Object, key string, _ goja.Value) goja.Value {
			if w.Has(key) {
				return orUndefined(w.Get(key))
			}
			return target.Get(key)
		},
		Set: func(target *goja.Object, key string, val goja.Value, _ goja.Value) bool {
			if !w.Has(key) && slices.Contains(target.GetOwnPropertyNames(), key) {
				return target.Set(key, val) == nil
			}
			return w.Set(key, val)
		},
		Has: func(target *goja.Object, key string) bool {
			return w.Has(key) || target.Get(key) != nil
		},
		DeleteProperty: func(target *goja.Object, key string) bool {
			if w.Has(key) {
				return w.Delete(key)
			}
			return target.Delete(key) == nil
		},
		OwnKeys: func(target *goja.Object) *goja.Object {
			keys := slices.Clone(w.Keys())
			for _, k := range target.GetOwnPropertyNames() {
				if !slices.Contains(keys, k) {
					keys = append(keys, k)
				}
			}
			items := make([]any, len(keys))
			for i, k := range keys {
				items[i] = k
			}
			return w.ctx.rt.NewArray(items...)
		},
		GetOwnPropertyDescriptor: func(target *goja.Object, key string) goja.PropertyDescriptor {
			if !slices.Contains(target.GetOwnPropertyNames(), key) && w.Has(key) {
				return goja.PropertyDescriptor{
					Value:        orUndefined(w.Get(key)),
					Writable:     goja.FLAG_TRUE,
					Enumerable:   goja.FLAG_TRUE,
					Configurable: goja.FLAG_TRUE,
				}
			}
			return w.ctx.ownDescriptor(target, key)
		},
	}
}

// ownDescriptor reads an own property descriptor of obj.
func (c *Context) ownDescriptor(obj *goja.Object, key string) goja.PropertyDescriptor {
	var desc goja.PropertyDescriptor
	getDesc, ok := goja.AssertFunction(c.rt.Get("Object").ToObject(c.rt).Get("getOwnPropertyDescriptor"))
	if !ok {
		return desc
	}
	res, err := getDesc(goja.Undefined(), obj, c.rt.ToValue(key))
	if err != nil || goja.IsUndefined(res) {
		return desc
	}
	d := res.ToObject(c.rt)
	desc.Enumerable = flagOf(d.Get("enumerable"))
	desc.Configurable = flagOf(d.Get("configurable"))
	getter, setter := d.Get("get"), d.Get("set")
	if getter != nil || setter != nil {
		desc.Getter, desc.Setter = getter, setter
		return desc
	}
	desc.Value = d.Get("value")
	desc.Writable = flagOf(d.Get("writable"))
	return desc
}

func flagOf(v goja.Value) goja.Flag {
	if v != nil && v.ToBoolean() {
		return goja.FLAG_TRUE
	}
	return goja.FLAG_FALSE
}

func (w *hostWrapper) watch(name string, fn watchFunc) {
	if w.watches == nil {
		w.watches = make(map[string]watchFunc)
	}
	w.watches[name] = fn
}

func (w *hostWrapper) unwatch(name string) {
	delete(w.watches, name)
}

// installWatchMethods adds watch and unwatch to the prototype shared by all
// host wrappers of the context.
func (c *Context) installWatchMethods(base *goja.Object) {
	watch := c.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		w := c.wrapperOf(call.This)
		name := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(c.rt.NewTypeError("watch handler must be a function"))
		}
		this := call.This
		w.watch(name, func(name string, oldVal, newVal goja.Value) goja.Value {
			res, err := fn(this, c.rt.ToValue(name), oldVal, newVal)
			if err != nil {
				c.throw(err)
			}
			return res
		})
		return goja.Undefined()
	})
	unwatch := c.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		c.wrapperOf(call.This).unwatch(call.Argument(0).String())
		return goja.Undefined()
	})
	_ = base.DefineDataProperty("watch", watch, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	_ = base.DefineDataProperty("unwatch", unwatch, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

func (c *Context) wrapperOf(v goja.Value) *hostWrapper {
	if obj, ok := v.(*goja.Object); ok {
		if w, ok := obj.Export().(*hostWrapper); ok {
			return w
		}
	}
	panic(c.rt.NewTypeError("watch requires a host object"))
}

func isCallable(v any) bool {
	switch v.(type) {
	case Callable, Constructible:
		return true
	}
	return false
}

// wrapFunc exposes a host function to script.
func (c *Context) wrapFunc(fn Func, original any) goja.Value {
	return c.handles.wrapNative(nil, original, func() *goja.Object {
		return c.rt.ToValue(func(call goja.FunctionCall) goja.Value {
			c.iso.debug.checkpoint(c, call.Arguments...)
			res, err := fn(c.fromValues(call.Arguments))
			if err != nil {
				c.throw(err)
			}
			return c.toValue(res)
		}).(*goja.Object)
	})
}

func (c *Context) wrapCallable(v any) goja.Value {
	return c.handles.wrapNative(v, v, func() *goja.Object {
		return c.newCallable(v)
	})
}

// newCallable builds a script function for a Callable or Constructible host
// value. A value that is both dispatches on whether new was used; results of
// plain calls on such values must be objects.
func (c *Context) newCallable(v any) *goja.Object {
	call := func(this goja.Value, args []goja.Value) goja.Value {
		c.iso.debug.checkpoint(c, args...)
		callable, ok := v.(Callable)
		if !ok {
			c.throw(jserror.Type("host value is not callable"))
		}
		res, err := callable.Call(c.fromValue(this), c.fromValues(args))
		if err != nil {
			c.throw(err)
		}
		return c.toValue(res)
	}

	cons, ok := v.(Constructible)
	if !ok {
		return c.rt.ToValue(func(fc goja.FunctionCall) goja.Value {
			return call(fc.This, fc.Arguments)
		}).(*goja.Object)
	}
	return c.rt.ToValue(func(cc goja.ConstructorCall) *goja.Object {
		if cc.NewTarget == nil {
			if res, ok := call(cc.This, cc.Arguments).(*goja.Object); ok {
				return res
			}
			return nil
		}
		c.iso.debug.checkpoint(c, cc.Arguments...)
		res, err := cons.Construct(c.fromValues(cc.Arguments))
		if err != nil {
			c.throw(err)
		}
		if obj, ok := c.toValue(res).(*goja.Object); ok {
			return obj
		}
		return nil
	}).(*goja.Object)
}

// listArray exposes a host slice as a live script array.
type listArray struct {
	ctx      *Context
	items    *[]any
	growable bool
}

func (a *listArray) Len() int { return len(*a.items) }

func (a *listArray) Get(idx int) goja.Value {
	if idx < 0 || idx >= len(*a.items) {
		return goja.Undefined()
	}
	return a.ctx.toValue((*a.items)[idx])
}

func (a *listArray) Set(idx int, val goja.Value) bool {
	if idx < 0 {
		return false
	}
	if idx >= len(*a.items) {
		if !a.growable || !a.SetLen(idx+1) {
			return false
		}
	}
	(*a.items)[idx] = a.ctx.fromValue(val)
	return true
}

func (a *listArray) SetLen(n int) bool {
	if n < 0 {
		return false
	}
	if !a.growable {
		return n == len(*a.items)
	}
	items := *a.items
	switch {
	case n < len(items):
		*a.items = items[:n]
	case n > len(items):
		*a.items = append(items, make([]any, n-len(items))...)
	}
	return true
}

// crossProxy exposes an object of another context. Every access goes
// through the owning context and its security token check.
type crossProxy struct {
	ctx    *Context
	target *Object
}

func (c *Context) importObject(o *Object) goja.Value {
	if o.ctx == c {
		return o.obj
	}
	if o.IsFunction() {
		return c.handles.wrapNative(o.obj, o, func() *goja.Object {
			return c.rt.ToValue(func(call goja.FunctionCall) goja.Value {
				res, err := o.Apply(c.fromValue(call.This), c.fromValues(call.Arguments)...)
				if err != nil {
					c.throw(err)
				}
				return c.toValue(res)
			}).(*goja.Object)
		})
	}
	return c.handles.wrap(o.obj, func() *goja.Object {
		return c.rt.NewDynamicObject(&crossProxy{ctx: c, target: o})
	})
}

func (p *crossProxy) Get(key string) goja.Value {
	v, err := p.target.Get(key)
	if err != nil {
		p.ctx.throw(err)
	}
	if _, absent := v.(UndefinedValue); absent {
		return nil
	}
	return p.ctx.toValue(v)
}

func (p *crossProxy) Set(key string, val goja.Value) bool {
	if err := p.target.Set(key, p.ctx.fromValue(val)); err != nil {
		p.ctx.throw(err)
	}
	return true
}

func (p *crossProxy) Has(key string) bool {
	ok, err := p.target.Has(key)
	if err != nil && errors.Is(err, ErrAccessDenied) {
		p.ctx.throw(err)
	}
	return ok
}

func (p *crossProxy) Delete(key string) bool {
	ok, err := p.target.Delete(key)
	if err != nil {
		p.ctx.throw(err)
	}
	return ok
}

func (p *crossProxy) Keys() []string {
	keys, err := p.target.Keys()
	if err != nil {
		p.ctx.throw(err)
	}
	return keys
}

func orUndefined(v goja.Value) goja.Value {
	if v == nil {
		return goja.Undefined()
	}
	return v
}
