package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var countCmd = &cobra.Command{
	Use:   "count [query]",
	Short: "Count messages matching a query",
	Long:  "Count messages matching a query.\n\n" + queryHelp,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openMailEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		n, err := eng.Count(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("count: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(countCmd)
}
