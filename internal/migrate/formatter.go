package migrate

import (
	"encoding/json"
	"fmt"
	"io"
)

// ANSI color codes.
const (
	colorReset  = "\033[0m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[2m"
)

// FormatText writes a human-readable plan to w.
// If noColor is true, ANSI codes are suppressed.
func FormatText(w io.Writer, plan *Plan, noColor bool) {
	c := func(code string) string {
		if noColor {
			return ""
		}
		return code
	}

	if !plan.HasChanges() {
		fmt.Fprintln(w, "No changes. The table already matches the annotation.")
		return
	}

	for _, a := range plan.Actions {
		switch a.Operation {
		case OpRename:
			fmt.Fprintf(w, "  %s~%s column %q renamed\n", c(colorCyan), c(colorReset), a.Column)
		case OpRemap:
			fmt.Fprintf(w, "  %s~%s column %q values remapped\n", c(colorYellow), c(colorReset), a.Column)
		case OpRecategorize:
			fmt.Fprintf(w, "  %s~%s column %q categories rebuilt\n", c(colorYellow), c(colorReset), a.Column)
		case OpSkip:
			fmt.Fprintf(w, "  %s!%s column %q left unchanged\n", c(colorRed), c(colorReset), a.Column)
		case OpDrop:
			fmt.Fprintf(w, "  %s-%s column %q dropped\n", c(colorRed), c(colorReset), a.Column)
		}
		for _, d := range a.Changes {
			fmt.Fprintf(w, "      %s: %q → %q\n", d.Field, d.OldValue, d.NewValue)
		}
	}

	for _, d := range plan.Diagnostics {
		fmt.Fprintf(w, "  %s%s%s\n", c(colorDim), d.String(), c(colorReset))
	}

	s := plan.Summary()
	fmt.Fprintf(w, "\n%sMigration:%s %d renamed, %d remapped, %d recategorized, %d skipped, %d dropped.\n",
		c(colorDim), c(colorReset), s.Renames, s.Remaps, s.Recategorizes, s.Skips, s.Drops)
}

// FormatJSON writes the plan as JSON to w.
func FormatJSON(w io.Writer, plan *Plan) error {
	type jsonAction struct {
		Operation string      `json:"operation"`
		Column    string      `json:"column"`
		Changes   []FieldDiff `json:"changes,omitempty"`
	}
	type jsonPlan struct {
		Actions     []jsonAction `json:"actions"`
		Diagnostics any          `json:"diagnostics,omitempty"`
		Columns     []string     `json:"columns"`
		Summary     PlanSummary  `json:"summary"`
	}

	jp := jsonPlan{
		Actions: make([]jsonAction, 0, len(plan.Actions)),
		Columns: plan.Columns,
		Summary: plan.Summary(),
	}
	if len(plan.Diagnostics) > 0 {
		jp.Diagnostics = plan.Diagnostics
	}
	for _, a := range plan.Actions {
		jp.Actions = append(jp.Actions, jsonAction{
			Operation: a.Operation.String(),
			Column:    a.Column,
			Changes:   a.Changes,
		})
	}

	data, err := json.MarshalIndent(jp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	_, err = fmt.Fprintln(w)
	return err
}
