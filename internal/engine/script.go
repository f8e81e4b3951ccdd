package engine

import (
	"reflect"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
	"go.uber.org/zap"
)

// DefaultScriptName names scripts compiled without a name.
const DefaultScriptName = "<input>"

// FunctionInfo describes a function literal found in a script.
type FunctionInfo struct {
	Name   string
	Line   int
	Column int
}

// Script is a compiled, immutable script bound to an isolate. It can be run
// any number of times in any context of that isolate.
type Script struct {
	iso        *Isolate
	name       string
	src        string
	lineOffset int
	colOffset  int
	prg        *goja.Program
	functions  []FunctionInfo
}

type compileOptions struct {
	name        string
	lineOffset  int
	colOffset   int
	precompiled []byte
}

// CompileOption configures Compile
type CompileOption func(*compileOptions)

func WithScriptName(name string) CompileOption {
	return func(o *compileOptions) { o.name = name }
}

// WithOffset shifts every position reported for the script.
func WithOffset(line, column int) CompileOption {
	return func(o *compileOptions) { o.lineOffset, o.colOffset = line, column }
}

// WithPrecompiled supplies data produced by Precompile for the same source,
// letting Compile skip its syntax pre-pass.
func WithPrecompiled(data []byte) CompileOption {
	return func(o *compileOptions) { o.precompiled = data }
}

// Compile compiles src. Syntax errors are reported here, never at run time.
func (iso *Isolate) Compile(src string, opts ...CompileOption) (*Script, error) {
	if err := iso.checkAlive(); err != nil {
		return nil, err
	}
	o := compileOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = DefaultScriptName
	}

	s := &Script{iso: iso, name: o.name, src: src, lineOffset: o.lineOffset, colOffset: o.colOffset}
	iso.registerSource(s.name, src, s.lineOffset, s.colOffset)
	iso.debug.beforeCompile(s)

	var err error
	if o.precompiled != nil {
		err = s.compilePrecompiled(o.precompiled)
	} else {
		err = s.compileSource()
	}
	iso.metrics.RecordCompile(err == nil)
	if err != nil {
		iso.logger.Debug("compile failed", zap.String("script", s.name), zap.Error(err))
		return nil, err
	}

	for _, fn := range s.functions {
		iso.debug.newFunction(s, fn)
	}
	iso.debug.afterCompile(s)
	return s, nil
}

func (s *Script) cacheKey() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(s.name)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(s.src)
	return d.Sum64()
}

func (s *Script) compileSource() error {
	prog, err := parser.ParseFile(nil, s.name, s.src, 0)
	if err != nil {
		return s.iso.compileError(err, s.name, s.src, s.lineOffset, s.colOffset)
	}
	s.functions = functionLiterals(prog)

	key := s.cacheKey()
	if prg := s.iso.cachedProgram(key); prg != nil {
		s.prg = prg
		return nil
	}
	prg, err := goja.CompileAST(prog, false)
	if err != nil {
		return s.iso.compileError(err, s.name, s.src, s.lineOffset, s.colOffset)
	}
	s.iso.storeProgram(key, prg)
	s.prg = prg
	return nil
}

func (s *Script) compilePrecompiled(data []byte) error {
	art, err := decodeArtifact(data, s.src)
	if err != nil {
		return err
	}
	s.functions = art.functions

	key := s.cacheKey()
	if prg := s.iso.cachedProgram(key); prg != nil {
		s.prg = prg
		return nil
	}
	prg, err := goja.Compile(s.name, s.src, false)
	if err != nil {
		return s.iso.compileError(err, s.name, s.src, s.lineOffset, s.colOffset)
	}
	s.iso.storeProgram(key, prg)
	s.prg = prg
	return nil
}

// Precompile runs the syntax pre-pass over src and returns an artifact that
// Compile accepts through WithPrecompiled.
func (iso *Isolate) Precompile(src string) ([]byte, error) {
	prog, err := parser.ParseFile(nil, DefaultScriptName, src, 0)
	if err != nil {
		return nil, iso.compileError(err, DefaultScriptName, src, 0, 0)
	}
	data := encodeArtifact(src, functionLiterals(prog))
	iso.metrics.ObservePrecompile(len(data))
	return data, nil
}

// Run runs the script in the calling thread's current context.
func (s *Script) Run() (any, error) {
	c := Current()
	if c == nil {
		return nil, ErrNoContext
	}
	return s.RunIn(c)
}

// RunIn runs the script in c, which must belong to the script's isolate.
func (s *Script) RunIn(c *Context) (any, error) {
	if c.iso != s.iso {
		return nil, ErrAccessDenied
	}
	return c.exec(func(rt *goja.Runtime) (goja.Value, error) {
		return rt.RunProgram(s.prg)
	})
}

func (s *Script) Name() string { return s.name }

func (s *Script) Source() string { return s.src }

func (s *Script) LineOffset() int { return s.lineOffset }

func (s *Script) ColumnOffset() int { return s.colOffset }

// Functions lists the function literals declared by the script.
func (s *Script) Functions() []FunctionInfo { return s.functions }

var (
	funcLiteralType  = reflect.TypeOf((*ast.FunctionLiteral)(nil))
	arrowLiteralType = reflect.TypeOf((*ast.ArrowFunctionLiteral)(nil))
	fileType         = reflect.TypeOf((*file.File)(nil))

	literalFields sync.Map
)

// functionLiterals walks the syntax tree and collects every function
// literal in source order.
func functionLiterals(prog *ast.Program) []FunctionInfo {
	var out []FunctionInfo
	seen := make(map[uintptr]bool)

	var walk func(v reflect.Value)
	walk = func(v reflect.Value) {
		switch v.Kind() {
		case reflect.Pointer:
			if v.IsNil() || v.Type() == fileType || seen[v.Pointer()] {
				return
			}
			seen[v.Pointer()] = true
			switch v.Type() {
			case funcLiteralType:
				out = append(out, describeFunction(prog, v.Interface().(*ast.FunctionLiteral)))
			case arrowLiteralType:
				fn := v.Interface().(*ast.ArrowFunctionLiteral)
				out = append(out, positionInfo(prog, "", fn.Start))
			}
			walk(v.Elem())
		case reflect.Interface:
			if !v.IsNil() {
				walk(v.Elem())
			}
		case reflect.Struct:
			for _, i := range exportedFields(v.Type()) {
				walk(v.Field(i))
			}
		case reflect.Slice:
			for i := 0; i < v.Len(); i++ {
				walk(v.Index(i))
			}
		}
	}
	walk(reflect.ValueOf(prog))
	return out
}

func exportedFields(t reflect.Type) []int {
	if cached, ok := literalFields.Load(t); ok {
		return cached.([]int)
	}
	var idx []int
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).IsExported() {
			idx = append(idx, i)
		}
	}
	literalFields.Store(t, idx)
	return idx
}

func describeFunction(prog *ast.Program, fn *ast.FunctionLiteral) FunctionInfo {
	name := ""
	if fn.Name != nil {
		name = string(fn.Name.Name)
	}
	return positionInfo(prog, name, fn.Function)
}

func positionInfo(prog *ast.Program, name string, idx file.Idx) FunctionInfo {
	info := FunctionInfo{Name: name}
	if prog.File != nil {
		pos := prog.File.Position(int(idx) - prog.File.Base())
		info.Line, info.Column = pos.Line, pos.Column
	}
	return info
}
