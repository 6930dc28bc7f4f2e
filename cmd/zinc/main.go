// Command zinc tracks plant contacts and keeps them in sync with a shared
// remote table.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/geminiglobal/zinc/internal/config"
	"github.com/geminiglobal/zinc/internal/logging"
	"github.com/geminiglobal/zinc/internal/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	localOnly  bool
	noColor    bool
	logLevel   string

	cfg       *config.Config
	logger    = zap.NewNop()
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "zinc",
	Short: "Lead tracking for plant contacts",
	Long: `zinc keeps a list of plant contacts: who to call, when you last spoke and
when to follow up.

Without a session the list lives in a local store. With remote.url,
remote.api_key and the session.* keys configured, the list is kept in a
shared table for the whole organization and the local store holds a safety
snapshot.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			ui.DisableColor()
		}
		// config init must work without a readable config.
		if cmd.Annotations["skipConfig"] == "true" {
			return nil
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded

		lc := logging.DefaultConfig()
		lc.Level, lc.Format = cfg.Log.Level, cfg.Log.Format
		if cfg.Log.File != "" {
			lc.Output = cfg.Log.File
		}
		l, closer, err := logging.New(lc)
		if err != nil {
			return err
		}
		logger, logCloser = l, closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "contacts", Title: "Contacts:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/zinc/zinc.toml)")
	rootCmd.PersistentFlags().BoolVar(&localOnly, "local", false, "ignore the configured session and use only the local store")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
