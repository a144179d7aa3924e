package cli

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rrebane/salk-toolkit/internal/annotate"
	"github.com/rrebane/salk-toolkit/internal/persist"
	"github.com/rrebane/salk-toolkit/internal/storage"
)

func newAnnotateCmd(sess *session) *cobra.Command {
	var (
		out      string
		dataFile string
	)

	cmd := &cobra.Command{
		Use:   "annotate <meta>",
		Short: "Read data through an annotation document",
		Long: "Loads the annotation document, reads and merges every data file it declares and builds the typed table.\n" +
			"With --out the table is written as a Parquet artifact carrying the document.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p := annotate.NewPipeline(sess.cfg, sess.logger)
			defer p.Close() //nolint:errcheck

			var (
				res *annotate.Output
				err error
			)
			if dataFile != "" {
				doc, lerr := p.LoadDocument(ctx, args[0])
				if lerr != nil {
					return lerr
				}
				res, err = p.ReadAnnotatedWith(ctx, doc, dataFile)
			} else {
				res, err = p.ReadAnnotated(ctx, args[0])
			}
			if err != nil {
				return err
			}

			if out != "" {
				if err := saveArtifact(cmd, p.Resolver, sess, out, res); err != nil {
					return err
				}
			}

			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, map[string]any{
					"rows":        res.Report.Rows,
					"columns":     res.Report.Columns,
					"skipped":     res.Report.Skipped,
					"diagnostics": res.Report.Diagnostics,
					"output":      out,
				})
			}
			printColumnReports(res.Report.Columns)
			_, _ = fmt.Fprintf(os.Stdout, "\n%d rows, %d columns, %d diagnostics.\n",
				res.Report.Rows, len(res.Report.Columns), len(res.Report.Diagnostics))
			if out != "" {
				_, _ = fmt.Fprintf(os.Stdout, "Wrote %s\n", out)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the annotated table to this Parquet file or URI")
	cmd.Flags().StringVar(&dataFile, "data", "", "Read this data file instead of the files the document declares")

	return cmd
}

// saveArtifact writes res to location. Remote locations are written to a
// temporary file first and uploaded.
func saveArtifact(cmd *cobra.Command, r *storage.Resolver, sess *session, location string, res *annotate.Output) error {
	md := persist.NewMetadata(res.Document, res.Table)
	opts := persist.Options{BatchSize: sess.cfg.BatchSize}
	if !storage.IsRemote(location) {
		return persist.Save(location, res.Table, md, opts)
	}
	tmp, err := os.CreateTemp(sess.cfg.TempDir, "salk-out-*"+path.Ext(location))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	_ = tmp.Close()
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if err := persist.Save(tmp.Name(), res.Table, md, opts); err != nil {
		return err
	}
	return r.Publish(cmd.Context(), tmp.Name(), location)
}

func printColumnReports(cols []annotate.ColumnReport) {
	rows := make([][]string, len(cols))
	for i, c := range cols {
		rows[i] = []string{
			c.Name,
			c.Group,
			c.Source,
			string(c.Kind),
			strings.Join(c.Categories, ", "),
			string(c.Resolved),
			strconv.Itoa(c.Missing),
		}
	}
	PrintTable(os.Stdout, []string{"name", "group", "source", "kind", "categories", "resolved", "missing"}, rows)
}
