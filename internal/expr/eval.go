package expr

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/rrebane/salk-toolkit/internal/table"
)

// Scope carries the bindings shared by every transform of one annotation run:
// constants, the raw table as `df` and the typed table built so far as `ndf`.
type Scope struct {
	constants map[string]any
	raw       *tableValue
	typed     *tableValue
}

// NewScope binds the raw table and the growing typed table. typed may be a
// builder view; columns committed later become visible to later transforms.
func NewScope(constants map[string]any, raw, typed table.View) *Scope {
	return &Scope{
		constants: constants,
		raw:       newTableValue("df", raw),
		typed:     newTableValue("ndf", typed),
	}
}

// Transform evaluates a column transform expression with `s` bound to the
// column's current cells and returns the derived column. The result may be a
// list with one value per row or a single value broadcast to every row.
func (r *Runtime) Transform(scope *Scope, column, src string, s *table.Column) (*table.Column, error) {
	sl, err := columnList(s)
	if err != nil {
		return nil, err
	}
	env, err := r.globals(scope.constants, starlark.StringDict{
		"s":   sl,
		"df":  scope.raw,
		"ndf": scope.typed,
	})
	if err != nil {
		return nil, err
	}
	v, err := r.eval(column, src, env)
	if err != nil {
		return nil, err
	}
	cells, err := columnCells(v, s.Len())
	if err != nil {
		return nil, err
	}
	return withDomain(column, cells, s), nil
}

// Exec runs a document-level script with `df` bound to a mutable dict of the
// table's columns and returns the table as the script left it. Scripts may
// modify, add or delete columns, or rebind `df` to a new dict.
func (r *Runtime) Exec(stage, src string, constants map[string]any, t *table.Table) (*table.Table, error) {
	df, err := tableDict(t)
	if err != nil {
		return nil, err
	}
	env, err := r.globals(constants, starlark.StringDict{"df": df})
	if err != nil {
		return nil, err
	}
	globals, err := r.exec(stage, src, env)
	if err != nil {
		return nil, err
	}
	if v, ok := globals["df"]; ok {
		d, isDict := v.(*starlark.Dict)
		if !isDict {
			return nil, fmt.Errorf("df must remain a dict, got %s", v.Type())
		}
		df = d
	}
	return dictTable(df, t)
}
