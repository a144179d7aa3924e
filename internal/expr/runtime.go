// Package expr evaluates the derivation expressions embedded in annotation
// documents (column transforms and document preprocessing/postprocessing) in a
// Starlark sandbox with step, time and size limits.
//
// Derivations are trusted input: the sandbox bounds runaway scripts but does
// not make a hostile schema safe to run.
package expr

import (
	"fmt"
	"sort"
	"sync"
	"time"

	startime "go.starlark.net/lib/time"
	starmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

const (
	defaultMaxSteps = uint64(10_000_000)
	defaultTimeout  = 30 * time.Second
	maxSourceBytes  = 512 * 1024
)

// Func is a registered Go function callable from derivations. Arguments and
// the result are plain cell values: nil, bool, float64, string, time.Time,
// []any or map[string]any.
type Func func(args []any) (any, error)

// Options bounds a single evaluation. Zero values mean the defaults.
type Options struct {
	MaxSteps uint64
	Timeout  time.Duration
}

// Runtime evaluates derivations. It is safe for concurrent use; every
// evaluation runs on its own thread.
type Runtime struct {
	maxSteps uint64
	timeout  time.Duration

	mu    sync.RWMutex
	funcs map[string]Func
}

// New creates a runtime with the given limits.
func New(opts Options) *Runtime {
	r := &Runtime{
		maxSteps: opts.MaxSteps,
		timeout:  opts.Timeout,
		funcs:    map[string]Func{},
	}
	if r.maxSteps == 0 {
		r.maxSteps = defaultMaxSteps
	}
	if r.timeout == 0 {
		r.timeout = defaultTimeout
	}
	return r
}

// Register exposes fn to derivations under name. Names must be valid
// identifiers and must not shadow the built-in bindings.
func (r *Runtime) Register(name string, fn Func) error {
	if !isValidIdent(name) {
		return fmt.Errorf("invalid function name %q", name)
	}
	if _, reserved := reservedNames[name]; reserved {
		return fmt.Errorf("function name %q is reserved", name)
	}
	if _, universal := starlark.Universe[name]; universal {
		return fmt.Errorf("function name %q shadows a builtin", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
	return nil
}

// Functions lists the registered function names, sorted.
func (r *Runtime) Functions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var reservedNames = map[string]struct{}{
	"s": {}, "df": {}, "ndf": {}, "isna": {}, "to_num": {}, "to_str": {},
	"struct": {}, "time": {}, "math": {},
}

// globals builds the predeclared environment: constants first, then the
// library bindings and registered functions, then the call-specific values.
func (r *Runtime) globals(constants map[string]any, bindings starlark.StringDict) (starlark.StringDict, error) {
	env := starlark.StringDict{}
	for name, v := range constants {
		if !isValidIdent(name) {
			continue
		}
		sv, err := FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("constant %q: %w", name, err)
		}
		sv.Freeze()
		env[name] = sv
	}
	env["struct"] = starlark.NewBuiltin("struct", starlarkstruct.Make)
	env["time"] = startime.Module
	env["math"] = starmath.Module
	for name, b := range builtins {
		env[name] = b
	}
	r.mu.RLock()
	for name, fn := range r.funcs {
		env[name] = wrapFunc(name, fn)
	}
	r.mu.RUnlock()
	for name, v := range bindings {
		env[name] = v
	}
	return env, nil
}

func (r *Runtime) newThread(name string) *starlark.Thread {
	thread := &starlark.Thread{Name: name}
	thread.SetMaxExecutionSteps(r.maxSteps)
	return thread
}

// eval evaluates a single expression.
func (r *Runtime) eval(name, src string, env starlark.StringDict) (starlark.Value, error) {
	if len(src) > maxSourceBytes {
		return nil, fmt.Errorf("expression exceeds %d bytes", maxSourceBytes)
	}
	thread := r.newThread(name)
	var result starlark.Value
	err := runWithTimeout(thread, r.timeout, func() error {
		v, err := starlark.EvalOptions(fileOptions, thread, name, src, env)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// exec runs a program for its side effects on env and returns its globals.
func (r *Runtime) exec(name, src string, env starlark.StringDict) (starlark.StringDict, error) {
	if len(src) > maxSourceBytes {
		return nil, fmt.Errorf("program exceeds %d bytes", maxSourceBytes)
	}
	thread := r.newThread(name)
	var globals starlark.StringDict
	err := runWithTimeout(thread, r.timeout, func() error {
		g, err := starlark.ExecFileOptions(fileOptions, thread, name, src, env)
		globals = g
		return err
	})
	return globals, err
}

// fileOptions allows top-level control flow and reassignment so that
// preprocessing scripts read like ordinary scripts.
var fileOptions = &syntax.FileOptions{
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Set:             true,
}

func runWithTimeout(thread *starlark.Thread, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		return fn()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		thread.Cancel("execution timed out")
		err := <-done
		if err != nil {
			return fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return fmt.Errorf("timed out after %s", timeout)
	}
}

func isValidIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}
