package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/geminiglobal/zinc/internal/hub"
	"github.com/geminiglobal/zinc/internal/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Run a contacts hub for a team",
	Long: `Run a self-hosted remote table: a REST endpoint for the contacts table and
a websocket that pushes row changes to subscribers of the same
organization.

Point other installs at it with remote.url = "http://<host><hub.addr>" and
remote.api_key = hub.api_key. List each user's token in hub.tokens as
"user_id=token" and give that user session.user_id and
session.access_token to match. Without hub.tokens the bearer token is taken
as the user id, so clients must set access_token = user_id; run it that way
only on a network you control.`,
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.Hub.APIKey == "" {
			fmt.Fprintf(os.Stderr, "Error: hub.api_key must be set (or ZINC_HUB_API_KEY)\n")
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := os.MkdirAll(filepath.Dir(cfg.HubPath()), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create data directory: %v\n", err)
			os.Exit(1)
		}
		store, err := hub.OpenStore(cfg.HubPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		tokens, err := cfg.Hub.TokenMap()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		srv, err := hub.NewServer(&hub.Config{
			Addr:           cfg.Hub.Addr,
			APIKey:         cfg.Hub.APIKey,
			AllowedOrigins: cfg.Hub.AllowedOrigins,
			Tokens:         tokens,
			Logger:         logger.Named("hub"),
		}, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Hub listening on %s (%s)\n", ui.RenderAccent("→"), srv.Addr(), cfg.HubPath())
		fmt.Println(ui.RenderMuted("Press Ctrl+C to stop"))

		<-ctx.Done()
		fmt.Println("\nShutting down...")
		if err := srv.Stop(); err != nil {
			logger.Warn("hub shutdown", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
