package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/wesm/tagmail/internal/compose"
	"github.com/wesm/tagmail/internal/engine"
)

var previewCmd = &cobra.Command{
	Use:   "preview [draft.json]",
	Short: "Render a draft as it would be sent",
	Long: `Render a JSON draft (as printed by 'tagmail reply') into the exact
message 'tagmail send' would deliver. Bcc recipients are not shown. Reads
standard input when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		draft, err := readDraft(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		eng, err := openMailEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		raw, err := eng.Preview(cmd.Context(), draft)
		if err != nil {
			return fmt.Errorf("preview: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(raw)
		return err
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [draft.json]",
	Short: "Send a draft through the SMTP relay",
	Long: `Send a JSON draft (as printed by 'tagmail reply') through the relay
configured under [smtp] in config.toml. The sent copy is stored and tagged
'sent'. Reads standard input when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !IsRemoteMode() && !cfg.SMTP.Enabled() {
			return errors.New("no SMTP relay configured\n\nAdd to config.toml:\n\n  [smtp]\n  host = \"smtp.example.com\"\n  username = \"you@example.com\"")
		}
		draft, err := readDraft(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		eng, err := openMailEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		msg, err := eng.Send(cmd.Context(), draft)
		if err != nil {
			if errors.Is(err, engine.ErrNoDeliverer) {
				return errors.New("no SMTP relay configured")
			}
			return fmt.Errorf("send: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %s\n", msg.ID)
		return nil
	},
}

// readDraft decodes a JSON draft from the named file, or from stdin.
func readDraft(stdin io.Reader, args []string) (*compose.Draft, error) {
	r := stdin
	name := "stdin"
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("open draft: %w", err)
		}
		defer f.Close()
		r, name = f, args[0]
	}

	var draft compose.Draft
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&draft); err != nil {
		return nil, fmt.Errorf("decode draft from %s: %w", name, err)
	}
	applyDefaultFrom(&draft)
	return &draft, nil
}

func init() {
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(sendCmd)
}
