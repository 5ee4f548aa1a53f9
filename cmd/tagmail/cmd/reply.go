package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/tagmail/internal/compose"
	"github.com/wesm/tagmail/internal/store"
)

var replyRaw bool

var replyCmd = &cobra.Command{
	Use:   "reply <id>",
	Short: "Print a reply draft for a message",
	Long: `Print a reply draft for a message as JSON.

The draft is addressed to the sender, carries a Re: subject and threading
headers, and quotes the original body. Edit it and pass it to
'tagmail send' (or 'tagmail preview' to check the result first).

When the original was not addressed to you directly, the From header may
need adjusting; [smtp] from in config.toml fills it when it is empty.

Examples:
  tagmail reply 1234@example.com > draft.json
  tagmail reply 1234@example.com --raw`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openMailEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		draft, err := eng.ReplyTemplate(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("reply %s: %w", args[0], err)
		}
		applyDefaultFrom(draft)

		if replyRaw {
			raw, err := eng.Preview(cmd.Context(), draft)
			if err != nil {
				return fmt.Errorf("render reply: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		}
		return writeJSON(cmd.OutOrStdout(), draft)
	},
}

// applyDefaultFrom fills an empty From header from [smtp] from.
func applyDefaultFrom(d *compose.Draft) {
	if d.Header(store.HeaderFrom) != "" || cfg.SMTP.From == "" {
		return
	}
	if d.Headers == nil {
		d.Headers = make(map[string]string)
	}
	d.Headers[store.HeaderFrom] = cfg.SMTP.From
}

func init() {
	rootCmd.AddCommand(replyCmd)
	replyCmd.Flags().BoolVar(&replyRaw, "raw", false, "Print the rendered message instead of the JSON draft")
}
