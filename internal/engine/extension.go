package engine

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Extension is a named bundle of script source and host functions that
// contexts can enable at creation.
type Extension struct {
	Name   string
	Source string
	Funcs  map[string]Func
	// AutoEnable installs the extension into every new context.
	AutoEnable bool
	// Deps are installed before this extension.
	Deps []string
}

var extensions = struct {
	sync.RWMutex
	byName map[string]*Extension
	order  []string
}{byName: make(map[string]*Extension)}

// RegisterExtension makes ext available to new contexts.
func RegisterExtension(ext *Extension) error {
	extensions.Lock()
	defer extensions.Unlock()

	if _, ok := extensions.byName[ext.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateExtension, ext.Name)
	}
	extensions.byName[ext.Name] = ext
	extensions.order = append(extensions.order, ext.Name)
	return nil
}

// LookupExtension returns a registered extension.
func LookupExtension(name string) (*Extension, bool) {
	extensions.RLock()
	defer extensions.RUnlock()
	ext, ok := extensions.byName[name]
	return ext, ok
}

// SetAutoEnable toggles whether name is installed into every new context.
func SetAutoEnable(name string, enabled bool) error {
	extensions.Lock()
	defer extensions.Unlock()

	ext, ok := extensions.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExtension, name)
	}
	ext.AutoEnable = enabled
	return nil
}

// Extensions lists registered extension names in registration order.
func Extensions() []string {
	extensions.RLock()
	defer extensions.RUnlock()
	return append([]string(nil), extensions.order...)
}

// resolveExtensions expands auto-enabled extensions, the requested names and
// their dependencies into install order.
func resolveExtensions(requested []string) ([]string, error) {
	extensions.RLock()
	defer extensions.RUnlock()

	var (
		out     []string
		visited = make(map[string]bool)
		visit   func(name string) error
	)
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		ext, ok := extensions.byName[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownExtension, name)
		}
		visited[name] = true
		for _, dep := range ext.Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		out = append(out, name)
		return nil
	}

	for _, name := range extensions.order {
		if extensions.byName[name].AutoEnable {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}
	for _, name := range requested {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// installExtensions installs the context's extensions into a fresh runtime.
func (c *Context) installExtensions() error {
	for _, name := range c.extensions {
		ext, ok := LookupExtension(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownExtension, name)
		}
		for fname, fn := range ext.Funcs {
			if err := c.rt.GlobalObject().Set(fname, c.wrapFunc(fn, fn)); err != nil {
				return err
			}
		}
		if ext.Source == "" {
			continue
		}
		prg, err := goja.Compile("extension:"+ext.Name, ext.Source, false)
		if err != nil {
			return c.iso.compileError(err, "extension:"+ext.Name, ext.Source, 0, 0)
		}
		if _, err := c.rt.RunProgram(prg); err != nil {
			return fmt.Errorf("extension %s: %w", ext.Name, c.runError(err))
		}
		c.logger.Debug("extension installed", zap.String("extension", ext.Name))
	}
	return nil
}
