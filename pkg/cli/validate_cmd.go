package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rrebane/salk-toolkit/internal/annotate"
)

func newValidateCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <meta>",
		Short: "Check an annotation document without reading data",
		Long:  "Parses the document, substitutes constants and checks its structure. Data files are not opened.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := annotate.NewPipeline(sess.cfg, sess.logger)
			defer p.Close() //nolint:errcheck

			doc, err := p.LoadDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			cols := doc.ColumnNames()
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, map[string]interface{}{
					"valid":   true,
					"groups":  len(doc.Structure),
					"columns": len(cols),
					"files":   len(doc.Sources()),
				})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Document is valid: %d groups, %d columns, %d data files.\n",
				len(doc.Structure), len(cols), len(doc.Sources()))
			return nil
		},
	}
}
