package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openMailEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		return printStats(cmd, eng)
	},
}

func printStats(cmd *cobra.Command, eng MailEngine) error {
	stats, err := eng.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	out := cmd.OutOrStdout()
	if IsRemoteMode() {
		fmt.Fprintf(out, "Remote: %s\n", cfg.Remote.URL)
	} else {
		fmt.Fprintf(out, "Database: %s\n", cfg.DatabasePath())
	}
	fmt.Fprintf(out, "  Messages:    %d\n", stats.MessageCount)
	fmt.Fprintf(out, "  Tags:        %d\n", stats.TagCount)
	fmt.Fprintf(out, "  Attachments: %d\n", stats.AttachmentCount)
	fmt.Fprintf(out, "  Size:        %s\n", formatSize(stats.DatabaseSize))
	return nil
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
