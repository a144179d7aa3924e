package migrate

import "github.com/rrebane/salk-toolkit/internal/domain"

// Operation is the kind of change applied to one column.
type Operation int

const (
	OpRename Operation = iota
	OpRemap
	OpRecategorize
	OpSkip
	OpDrop
)

func (o Operation) String() string {
	switch o {
	case OpRename:
		return "rename"
	case OpRemap:
		return "remap"
	case OpRecategorize:
		return "recategorize"
	case OpSkip:
		return "skip"
	case OpDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// FieldDiff describes a single field change within an action.
type FieldDiff struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// Action is one applied change.
type Action struct {
	Operation Operation
	Column    string
	Changes   []FieldDiff
}

// Plan records what Reconcile did, in the order it did it.
type Plan struct {
	Actions     []Action
	Diagnostics []domain.Diagnostic
	// Columns is the final column order.
	Columns []string
}

// Summary returns counts per operation.
func (p *Plan) Summary() PlanSummary {
	var s PlanSummary
	for _, a := range p.Actions {
		switch a.Operation {
		case OpRename:
			s.Renames++
		case OpRemap:
			s.Remaps++
		case OpRecategorize:
			s.Recategorizes++
		case OpSkip:
			s.Skips++
		case OpDrop:
			s.Drops++
		}
	}
	return s
}

// HasChanges returns true if the plan changed anything or skipped a column.
func (p *Plan) HasChanges() bool {
	return len(p.Actions) > 0
}

// PlanSummary holds counts of applied operations.
type PlanSummary struct {
	Renames       int `json:"renames"`
	Remaps        int `json:"remaps"`
	Recategorizes int `json:"recategorizes"`
	Skips         int `json:"skips"`
	Drops         int `json:"drops"`
}

func (p *Plan) add(op Operation, column string, changes ...FieldDiff) {
	p.Actions = append(p.Actions, Action{Operation: op, Column: column, Changes: changes})
}
