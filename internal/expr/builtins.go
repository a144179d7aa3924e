package expr

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/rrebane/salk-toolkit/internal/table"
)

// builtins are available to every derivation.
var builtins = map[string]*starlark.Builtin{
	"isna":   starlark.NewBuiltin("isna", isna),
	"to_num": starlark.NewBuiltin("to_num", toNum),
	"to_str": starlark.NewBuiltin("to_str", toStr),
}

// isna(x) reports whether x is missing. Applied to a list it returns a list.
func isna(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	return mapCells(x, func(v starlark.Value) (starlark.Value, error) {
		return starlark.Bool(v == starlark.None), nil
	})
}

// to_num(x) parses x as a number, returning None when it cannot be parsed.
func toNum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	return mapCells(x, func(v starlark.Value) (starlark.Value, error) {
		cell, err := ToGo(v)
		if err != nil {
			return nil, err
		}
		if f, ok := table.ToFloat(cell); ok {
			return starlark.Float(f), nil
		}
		return starlark.None, nil
	})
}

// to_str(x) formats x the way category labels are matched; None stays None.
func toStr(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	return mapCells(x, func(v starlark.Value) (starlark.Value, error) {
		if v == starlark.None {
			return starlark.None, nil
		}
		cell, err := ToGo(v)
		if err != nil {
			return nil, err
		}
		return starlark.String(table.FormatValue(cell)), nil
	})
}

// mapCells applies fn to a scalar, or element-wise to a list or tuple.
func mapCells(x starlark.Value, fn func(starlark.Value) (starlark.Value, error)) (starlark.Value, error) {
	var seq starlark.Indexable
	switch v := x.(type) {
	case *starlark.List:
		seq = v
	case starlark.Tuple:
		seq = v
	default:
		return fn(x)
	}
	out := make([]starlark.Value, seq.Len())
	for i := range out {
		r, err := fn(seq.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return starlark.NewList(out), nil
}

// wrapFunc adapts a registered Go function into a Starlark builtin.
func wrapFunc(name string, fn Func) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: keyword arguments are not supported", b.Name())
		}
		goArgs := make([]any, len(args))
		for i, a := range args {
			v, err := ToGo(a)
			if err != nil {
				return nil, fmt.Errorf("%s: argument %d: %w", b.Name(), i+1, err)
			}
			goArgs[i] = v
		}
		result, err := fn(goArgs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return FromGo(result)
	})
}
