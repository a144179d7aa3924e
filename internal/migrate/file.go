package migrate

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rrebane/salk-toolkit/internal/persist"
	"github.com/rrebane/salk-toolkit/internal/schema"
)

// MigrateFile reconciles the artifact at in with the document at metaPath and
// writes the result to out. The artifact's document moves to old_data and
// its model entry is carried over. in is never rewritten.
func MigrateFile(ctx context.Context, in, metaPath, out string, opts Options) (*Plan, error) {
	absIn, err := filepath.Abs(in)
	if err != nil {
		return nil, err
	}
	absOut, err := filepath.Abs(out)
	if err != nil {
		return nil, err
	}
	if absIn == absOut {
		return nil, fmt.Errorf("migrate %s: output must differ from input", in)
	}

	tbl, md, err := persist.Load(ctx, in, persist.Options{})
	if err != nil {
		return nil, err
	}
	if md == nil || md.Data == nil {
		return nil, fmt.Errorf("migrate %s: artifact carries no annotation", in)
	}
	next, err := schema.Load(metaPath)
	if err != nil {
		return nil, err
	}

	migrated, plan, err := Reconcile(tbl, md.Data, next, opts)
	if err != nil {
		return nil, err
	}

	nmd := persist.NewMetadata(next, migrated)
	nmd.OldData = md.Data
	nmd.Model = md.Model
	if err := persist.Save(out, migrated, nmd, persist.Options{}); err != nil {
		return nil, fmt.Errorf("write %s: %w", out, err)
	}
	return plan, nil
}
