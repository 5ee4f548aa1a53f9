package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wesm/tagmail/internal/engine"
	"github.com/wesm/tagmail/internal/store"
)

var (
	searchLimit  int
	searchOffset int
	searchJSON   bool
)

const queryHelp = `Query syntax:
  tag:NAME   is:NAME   Messages carrying a tag
  from:      Sender address or name
  to:        To or Cc recipient
  cc:        Cc recipient
  subject:   Subject text
  id:        Message ID
  date:      2024, 2024-03, 2024-03-15, or a range like 2024-01..2024-06

Bare words and "quoted phrases" match the subject and body. Terms are
combined with and (the default), or, not (or a leading -), and parentheses.
An empty query matches every message.`

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "List messages matching a query, newest first",
	Long: "List messages matching a query, newest first.\n\n" + queryHelp + `

Examples:
  tagmail search tag:inbox and not tag:read
  tagmail search from:alice subject:report date:2024
  tagmail search '"exact phrase"' or tag:todo`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := strings.Join(args, " ")

		eng, err := openMailEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		opts := engine.PageOptions(searchOffset, searchLimit, cfg.List.DefaultLimit)
		results, err := eng.List(cmd.Context(), q, opts)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		out := cmd.OutOrStdout()
		if searchJSON {
			if results == nil {
				results = []store.Summary{}
			}
			return writeJSON(out, results)
		}
		if len(results) == 0 {
			fmt.Fprintln(out, "No messages found.")
			return nil
		}
		writeSummaries(out, results, isTerminal(out))
		return nil
	},
}

// writeSummaries prints one line per message. Terminal output is aligned and
// truncated to fit; anything else gets one tab-separated record per line.
func writeSummaries(w io.Writer, msgs []store.Summary, tty bool) {
	if !tty {
		for _, m := range msgs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				m.ID, m.Date.Format("2006-01-02"), m.From, m.Subject, strings.Join(m.Tags, " "))
		}
		return
	}

	const (
		idWidth      = 24
		fromWidth    = 28
		subjectWidth = 44
	)
	fmt.Fprintf(w, "%s  %s  %s  %s  %s\n",
		pad("ID", idWidth), pad("DATE", 10), pad("FROM", fromWidth), pad("SUBJECT", subjectWidth), "TAGS")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s  %s  %s  %s  %s\n",
			pad(truncate(m.ID, idWidth), idWidth),
			m.Date.Format("2006-01-02"),
			pad(truncate(m.From, fromWidth), fromWidth),
			pad(truncate(m.Subject, subjectWidth), subjectWidth),
			strings.Join(m.Tags, " "))
	}
	fmt.Fprintf(w, "\nShowing %d results\n", len(msgs))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Maximum number of results (default from [list] default_limit)")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "Skip first N results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output as JSON")
}
