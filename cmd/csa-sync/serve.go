package main

import (
	"github.com/spf13/cobra"

	"github.com/bull/csa-content-sync/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service and background sync loops",
	Long: `Starts the HTTP server (health, drive webhook, gallery listing, image
proxy, MCP at /mcp) together with:
  - the content refresh loop (initial load, then every refresh.interval)
  - gallery polling (every gallery.poll_interval) and webhook-triggered passes
  - drive push channel registration and renewal, when gallery.webhook_url is set
  - hot reload of the sources file

Stops gracefully on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	Long:  "Runs the MCP server on stdin/stdout for local MCP clients. No background loops run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), app.Options{NoGallery: true})
		if err != nil {
			return err
		}
		defer a.Close()

		return a.MCP.Run(cmd.Context())
	},
}
