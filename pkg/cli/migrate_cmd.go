package cli

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/rrebane/salk-toolkit/internal/migrate"
	"github.com/rrebane/salk-toolkit/internal/persist"
	"github.com/rrebane/salk-toolkit/internal/schema"
	"github.com/rrebane/salk-toolkit/internal/storage"
)

func newMigrateCmd(sess *session) *cobra.Command {
	var (
		passthrough []string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "migrate <in.parquet> <meta> <out.parquet>",
		Short: "Migrate an artifact to a newer annotation document",
		Long: "Renames, remaps and recategorizes the columns of a stored artifact so they match the new document.\n" +
			"The previous document is kept in the output's old_data entry. The input is never rewritten.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in, metaPath, out := args[0], args[1], args[2]
			if in == out {
				return fmt.Errorf("migrate %s: output must differ from input", in)
			}
			opts := migrate.Options{Passthrough: passthrough, Logger: sess.logger}

			r := storage.NewResolver(sess.cfg, sess.logger)
			localIn, cleanIn, err := r.Localize(ctx, in)
			if err != nil {
				return err
			}
			defer cleanIn()
			localMeta, cleanMeta, err := r.Localize(ctx, metaPath)
			if err != nil {
				return err
			}
			defer cleanMeta()

			var plan *migrate.Plan
			switch {
			case dryRun:
				plan, err = planMigration(cmd, localIn, localMeta, opts)
			case storage.IsRemote(out):
				tmp, terr := os.CreateTemp(sess.cfg.TempDir, "salk-out-*"+path.Ext(out))
				if terr != nil {
					return fmt.Errorf("create temp file: %w", terr)
				}
				_ = tmp.Close()
				defer os.Remove(tmp.Name()) //nolint:errcheck
				if plan, err = migrate.MigrateFile(ctx, localIn, localMeta, tmp.Name(), opts); err == nil {
					err = r.Publish(ctx, tmp.Name(), out)
				}
			default:
				plan, err = migrate.MigrateFile(ctx, localIn, localMeta, out, opts)
			}
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				return migrate.FormatJSON(os.Stdout, plan)
			}
			migrate.FormatText(os.Stdout, plan, !useColor())
			if !dryRun {
				_, _ = fmt.Fprintf(os.Stdout, "Wrote %s\n", out)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&passthrough, "passthrough", migrate.DefaultPassthrough, "Columns kept first even when the document does not declare them")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the migration plan without writing the output")

	return cmd
}

// planMigration reconciles in memory and discards the table.
func planMigration(cmd *cobra.Command, in, metaPath string, opts migrate.Options) (*migrate.Plan, error) {
	tbl, md, err := persist.Load(cmd.Context(), in, persist.Options{})
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
	_, plan, err := migrate.Reconcile(tbl, md.Data, next, opts)
	return plan, err
}
