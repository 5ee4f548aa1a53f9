package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/tagmail/internal/engine"
	"github.com/wesm/tagmail/internal/importer"
)

var (
	importTags    []string
	importNoTags  bool
	importWorkers int
	importSource  string
	importJSON    bool
)

var importCmd = &cobra.Command{
	Use:   "import [path...]",
	Short: "Import mail from mbox files, maildirs and .eml/.emlx folders",
	Long: `Import mail into the store.

Each path may be an mbox file, a .zip of mbox files, a single .eml or .emlx
file, or a directory. Directories are walked for .eml and .emlx files;
maildir cur/ and new/ entries are read too, with their flags mapped to tags
(seen messages lose the unread tag, flagged and replied messages gain the
flagged and replied tags). Apple Mail .emlx flags map the same way.

New messages get the tags from [import] initial_tags in config.toml
(default: inbox unread) unless --tag or --no-tags is given. Messages already
in the store are skipped, so re-running an import is harmless.

Examples:
  tagmail import ~/Mail/archive.mbox
  tagmail import ~/Maildir --tag inbox
  tagmail import --source work`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := MustBeLocal("import"); err != nil {
			return err
		}

		paths := args
		if importSource != "" {
			src := cfg.GetSource(importSource)
			if src == nil {
				return fmt.Errorf("source %q not found in config", importSource)
			}
			paths = append(paths, src.Path)
		}
		if len(paths) == 0 {
			return errors.New("nothing to import: give a path or --source")
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		im, err := newImporter(s.engine)
		if err != nil {
			return err
		}

		total := &importer.Summary{}
		start := time.Now()
		for _, p := range paths {
			sum, err := im.ImportPath(cmd.Context(), p)
			if sum != nil {
				total.Added += sum.Added
				total.Duplicates += sum.Duplicates
				total.Failed += sum.Failed
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					fmt.Fprintf(cmd.ErrOrStderr(), "\nInterrupted. %d messages imported.\n", total.Added)
				}
				return fmt.Errorf("import %s: %w", p, err)
			}
		}
		total.Duration = time.Since(start)

		out := cmd.OutOrStdout()
		if importJSON {
			return writeJSON(out, total)
		}
		fmt.Fprintf(out, "Imported %d messages (%d already present, %d failed) in %s\n",
			total.Added, total.Duplicates, total.Failed, total.Duration.Round(time.Millisecond))
		return nil
	},
}

// newImporter builds an importer over eng using the configured initial tags
// unless the command line overrides them.
func newImporter(eng *engine.Engine) (*importer.Importer, error) {
	tags := cfg.Import.InitialTags
	switch {
	case importNoTags:
		tags = []string{}
	case len(importTags) > 0:
		tags = importTags
	}
	return importer.New(eng, eng.Parser(), importer.Options{
		InitialTags: tags,
		Workers:     importWorkers,
		Logger:      logger,
	})
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringSliceVarP(&importTags, "tag", "t", nil, "Tags for new messages (overrides [import] initial_tags)")
	importCmd.Flags().BoolVar(&importNoTags, "no-tags", false, "Apply no initial tags")
	importCmd.Flags().IntVar(&importWorkers, "workers", 0, "Concurrent parsers (default: number of CPUs)")
	importCmd.Flags().StringVar(&importSource, "source", "", "Import the path of a [[sources]] entry from config.toml")
	importCmd.Flags().BoolVar(&importJSON, "json", false, "Output the summary as JSON")
	importCmd.MarkFlagsMutuallyExclusive("tag", "no-tags")
}
