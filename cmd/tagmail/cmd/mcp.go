package cmd

import (
	"github.com/spf13/cobra"
	mcpserver "github.com/wesm/tagmail/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run MCP server over stdio",
	Long: `Start an MCP (Model Context Protocol) server over stdio.

MCP clients can then search, tag, read and reply to mail with the tools
list_eml, count_matches, apply_tag, rm_tag, list_tags, view_eml,
get_reply_template, preview_eml, send_eml and get_attachment.

Example client configuration:
  {
    "mcpServers": {
      "tagmail": {
        "command": "tagmail",
        "args": ["mcp"]
      }
    }
  }

With [remote] url set, the tools run against that server and
get_attachment is not offered; --local forces the local database.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if IsRemoteMode() {
			c, err := openRemoteClient()
			if err != nil {
				return err
			}
			defer c.Close()
			logger.Info("serving MCP tools from remote server", "url", cfg.Remote.URL)
			return mcpserver.Serve(cmd.Context(), c, mcpserver.Options{
				DefaultLimit: cfg.List.DefaultLimit,
			})
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		return mcpserver.Serve(cmd.Context(), s.engine, mcpserver.Options{
			Blobs:        s.blobs,
			DefaultLimit: cfg.List.DefaultLimit,
		})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
