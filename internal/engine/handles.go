package engine

import (
	"reflect"
	"runtime"
	"sync"
	"weak"

	"github.com/dop251/goja"
)

// handleTable keeps host values alive while script objects wrap them and
// gives host values a stable script identity. Entries are dropped when the
// collector reclaims the wrapping script object.
type handleTable struct {
	mu      sync.Mutex
	byKey   map[any]weak.Pointer[goja.Object]
	natives map[weak.Pointer[goja.Object]]any
	live    int
}

type handleRef struct {
	key       any
	wp        weak.Pointer[goja.Object]
	cacheable bool
}

func newHandleTable() *handleTable {
	return &handleTable{
		byKey:   make(map[any]weak.Pointer[goja.Object]),
		natives: make(map[weak.Pointer[goja.Object]]any),
	}
}

// wrap returns the script object cached for key, creating it if needed.
// Keys that are nil or not comparable are never cached.
func (t *handleTable) wrap(key any, create func() *goja.Object) *goja.Object {
	cacheable := key != nil && reflect.ValueOf(key).Comparable()
	if cacheable {
		t.mu.Lock()
		if wp, ok := t.byKey[key]; ok {
			if obj := wp.Value(); obj != nil {
				t.mu.Unlock()
				return obj
			}
		}
		t.mu.Unlock()
	}

	obj := create()
	wp := weak.Make(obj)

	t.mu.Lock()
	if cacheable {
		t.byKey[key] = wp
	}
	t.live++
	t.mu.Unlock()

	runtime.AddCleanup(obj, t.release, handleRef{key: key, wp: wp, cacheable: cacheable})
	return obj
}

// wrapNative is wrap for script functions backed by host code. The host
// value is returned again when the function comes back from script.
func (t *handleTable) wrapNative(key, host any, create func() *goja.Object) *goja.Object {
	return t.wrap(key, func() *goja.Object {
		obj := create()
		t.setNative(obj, host)
		return obj
	})
}

func (t *handleTable) setNative(obj *goja.Object, host any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.natives[weak.Make(obj)] = host
}

func (t *handleTable) native(obj *goja.Object) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	host, ok := t.natives[weak.Make(obj)]
	return host, ok
}

func (t *handleTable) release(ref handleRef) {
	t.mu.Lock()
	if ref.cacheable && t.byKey[ref.key] == ref.wp {
		delete(t.byKey, ref.key)
	}
	delete(t.natives, ref.wp)
	t.live--
	t.mu.Unlock()

	if r, ok := ref.key.(Released); ok {
		r.Released()
	}
}

func (t *handleTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}
