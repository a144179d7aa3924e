package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rrebane/salk-toolkit/internal/infer"
	"github.com/rrebane/salk-toolkit/internal/source"
	"github.com/rrebane/salk-toolkit/internal/storage"
)

func newInferCmd(sess *session) *cobra.Command {
	var (
		out           string
		threshold     float64
		maxCategories int
		maxText       int
	)

	cmd := &cobra.Command{
		Use:   "infer <data>",
		Short: "Infer an annotation document for a data file",
		Long: "Types every column of the data file and groups categorical columns that share a value set.\n" +
			"The document is written next to the data file unless one already exists there.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := args[0]
			if out == "" {
				if storage.IsRemote(data) {
					return fmt.Errorf("--out is required for remote data files")
				}
				out = defaultMetaPath(data)
			}

			reader := source.NewReader(storage.NewResolver(sess.cfg, sess.logger), sess.logger)
			reader.BatchSize = sess.cfg.BatchSize
			defer reader.Close() //nolint:errcheck
			res, err := reader.Read(cmd.Context(), data, nil)
			if err != nil {
				return err
			}

			opts := infer.Options{
				Threshold:          sess.cfg.ClusterThreshold,
				MaxCategories:      sess.cfg.MaxCategories,
				MaxTextCardinality: maxText,
				Labels:             res.Labels,
				File:               relativeTo(out, data),
				Logger:             sess.logger,
			}
			if cmd.Flags().Changed("threshold") {
				opts.Threshold = threshold
			}
			if cmd.Flags().Changed("max-categories") {
				opts.MaxCategories = maxCategories
			}
			doc := infer.Infer(res.Table, opts)

			written, path, err := infer.WriteIfAbsent(out, doc)
			if err != nil {
				return err
			}
			if !written {
				sess.logger.Warn("annotation document already exists, not overwriting", "path", path)
			}

			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, map[string]any{
					"written":  written,
					"path":     path,
					"document": doc,
				})
			}
			groups := doc.GroupColumns()
			rows := make([][]string, 0, len(doc.Structure))
			for _, g := range doc.GroupNames() {
				rows = append(rows, []string{g, strings.Join(groups[g], ", ")})
			}
			PrintTable(os.Stdout, []string{"group", "columns"}, rows)
			if written {
				_, _ = fmt.Fprintf(os.Stdout, "\nWrote %s\n", path)
			} else {
				_, _ = fmt.Fprintf(os.Stdout, "\n%s already exists, left unchanged.\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Where to write the document (default <data>_meta.json)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Value-set containment needed to join a group (default from SALK_CLUSTER_THRESHOLD)")
	cmd.Flags().IntVar(&maxCategories, "max-categories", 0, "Scales with more values are written as \"infer\"")
	cmd.Flags().IntVar(&maxText, "max-text-cardinality", infer.DefaultMaxTextCardinality, "Text columns with more distinct values are free text")

	return cmd
}

// defaultMetaPath is data.csv -> data_meta.json.
func defaultMetaPath(data string) string {
	return strings.TrimSuffix(data, filepath.Ext(data)) + "_meta.json"
}

// relativeTo expresses data relative to the directory of meta when both are
// local, since documents resolve their files that way.
func relativeTo(meta, data string) string {
	if storage.IsRemote(data) || storage.IsRemote(meta) {
		return data
	}
	absMeta, err1 := filepath.Abs(meta)
	absData, err2 := filepath.Abs(data)
	if err1 != nil || err2 != nil {
		return data
	}
	rel, err := filepath.Rel(filepath.Dir(absMeta), absData)
	if err != nil {
		return data
	}
	return filepath.ToSlash(rel)
}
