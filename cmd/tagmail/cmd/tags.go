package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tagsJSON bool

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List every tag in use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openMailEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		tags := eng.ListTags(cmd.Context())
		out := cmd.OutOrStdout()
		if tagsJSON {
			if tags == nil {
				tags = []string{}
			}
			return writeJSON(out, tags)
		}
		for _, tag := range tags {
			fmt.Fprintln(out, tag)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tagsCmd)
	tagsCmd.Flags().BoolVar(&tagsJSON, "json", false, "Output as JSON")
}
