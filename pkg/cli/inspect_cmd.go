package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rrebane/salk-toolkit/internal/persist"
	"github.com/rrebane/salk-toolkit/internal/storage"
)

func newInspectCmd(sess *session) *cobra.Command {
	var showSchema bool

	cmd := &cobra.Command{
		Use:   "inspect <artifact>",
		Short: "Show the annotation stored in a Parquet artifact",
		Long:  "Reads only the file footer: the embedded document and column domains are shown without decoding rows.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := storage.NewResolver(sess.cfg, sess.logger)
			local, cleanup, err := r.Localize(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer cleanup()

			md, err := persist.ReadMetadata(local)
			if err != nil {
				return err
			}
			if md == nil {
				return fmt.Errorf("%s has no %s entry", args[0], persist.MetaKey)
			}

			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, md)
			}
			if showSchema {
				return PrintJSON(os.Stdout, md.Data)
			}

			detail := map[string]any{
				"artifact_id": md.ArtifactID,
				"created_at":  md.CreatedAt.Format(time.RFC3339),
				"columns":     len(md.Columns),
				"migrated":    md.OldData != nil,
				"model":       len(md.Model) > 0,
			}
			if md.Data != nil {
				detail["groups"] = md.Data.GroupNames()
				if f := md.Data.File; f != "" {
					detail["file"] = f
				}
			}
			PrintDetail(os.Stdout, detail)
			_, _ = fmt.Fprintln(os.Stdout)

			rows := make([][]string, len(md.Columns))
			for i, c := range md.Columns {
				ordered := ""
				if c.Ordered {
					ordered = "yes"
				}
				rows[i] = []string{c.Name, string(c.Kind), strings.Join(c.Categories, ", "), ordered}
			}
			PrintTable(os.Stdout, []string{"name", "kind", "categories", "ordered"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSchema, "schema", false, "Print the embedded annotation document as JSON")

	return cmd
}
