package cmd

import (
	"github.com/spf13/cobra"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the tagmail database with the required schema.

Tables are only created if they don't already exist, so it is safe to run
this command more than once.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("initializing database", "path", cfg.DatabasePath())

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		logger.Info("database initialized successfully")
		return printStats(cmd, localEngine{Engine: s.engine, s: s})
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
