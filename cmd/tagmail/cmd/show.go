package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wesm/tagmail/internal/store"
	"github.com/wesm/tagmail/internal/textutil"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a full message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openMailEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		msg, err := eng.View(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("show %s: %w", args[0], err)
		}
		if showJSON {
			return writeJSON(cmd.OutOrStdout(), msg)
		}
		writeMessage(cmd.OutOrStdout(), msg)
		return nil
	},
}

var shownHeaders = []string{
	store.HeaderFrom,
	store.HeaderTo,
	store.HeaderCc,
	store.HeaderSubject,
	store.HeaderDate,
	store.HeaderMessageID,
}

func writeMessage(w io.Writer, msg *store.Message) {
	fmt.Fprintf(w, "ID: %s\n", msg.ID)
	for _, name := range shownHeaders {
		if v := msg.Header(name); v != "" {
			fmt.Fprintf(w, "%s: %s\n", name, v)
		}
	}
	fmt.Fprintf(w, "Tags: %s\n", strings.Join(msg.Tags.Sorted(), " "))
	for _, a := range msg.Attachments {
		fmt.Fprintf(w, "Attachment: %s (%s, %s) %s\n", a.Filename, a.ContentType, formatSize(a.Size), a.Handle)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, textutil.BodyText(msg.Body.Text, msg.Body.HTML))
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")
}
