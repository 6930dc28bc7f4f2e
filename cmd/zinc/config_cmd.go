package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/geminiglobal/zinc/internal/config"
	"github.com/geminiglobal/zinc/internal/ui"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write a default zinc.toml",
	Annotations: map[string]string{"skipConfig": "true"},
	Run: func(cmd *cobra.Command, args []string) {
		path := configPath
		if path == "" {
			path = filepath.Join(config.Dir(), "zinc.toml")
		}
		written, err := config.Init(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), written.File)
		fmt.Println(ui.RenderMuted("Set remote.url, remote.api_key and session.* to sync with a team."))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		shown := *cfg
		if shown.Remote.APIKey != "" {
			shown.Remote.APIKey = "********"
		}
		if shown.Session.AccessToken != "" {
			shown.Session.AccessToken = "********"
		}
		if shown.Hub.APIKey != "" {
			shown.Hub.APIKey = "********"
		}
		if len(shown.Hub.Tokens) > 0 {
			masked := make([]string, len(shown.Hub.Tokens))
			for i, pair := range shown.Hub.Tokens {
				user, _, _ := strings.Cut(pair, "=")
				masked[i] = user + "=********"
			}
			shown.Hub.Tokens = masked
		}

		if cfg.File != "" {
			fmt.Println(ui.RenderMuted("# loaded from " + cfg.File))
		} else {
			fmt.Println(ui.RenderMuted("# no config file; defaults and environment"))
		}
		if err := config.WriteTemplate(os.Stdout, &shown); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
