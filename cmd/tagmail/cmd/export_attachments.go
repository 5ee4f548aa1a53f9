package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/tagmail/internal/export"
)

var exportAttachmentsOutput string

var exportAttachmentsCmd = &cobra.Command{
	Use:   "export-attachments <id>",
	Short: "Export a message's attachments to a zip file",
	Long: `Export every attachment of a message into a zip file.

The output defaults to <id>-attachments.zip in the current directory.

Examples:
  tagmail export-attachments 1234@example.com
  tagmail export-attachments 1234@example.com -o ~/Downloads/invoice.zip`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := MustBeLocal("export-attachments"); err != nil {
			return err
		}
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		msg, err := s.engine.View(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("export %s: %w", args[0], err)
		}
		if len(msg.Attachments) == 0 {
			return fmt.Errorf("message %s has no attachments", msg.ID)
		}

		out := exportAttachmentsOutput
		if out == "" {
			out = export.SanitizeFilename(msg.ID) + "-attachments.zip"
		}
		stats := export.Attachments(out, s.blobs, msg.Attachments)
		fmt.Fprintln(cmd.OutOrStdout(), export.FormatResult(stats))
		if stats.Count == 0 || stats.WriteError {
			return errors.New("export failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportAttachmentsCmd)
	exportAttachmentsCmd.Flags().StringVarP(&exportAttachmentsOutput, "output", "o", "", "Zip file to write")
}
