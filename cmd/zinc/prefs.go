package main

import (
	"fmt"
	"os"

	"github.com/geminiglobal/zinc/internal/localstore"
	"github.com/geminiglobal/zinc/internal/ui"
	"github.com/spf13/cobra"
)

var prefsCmd = &cobra.Command{
	Use:     "prefs",
	GroupID: "advanced",
	Short:   "Show or change display preferences",
	Long: `Show the saved display preferences, or change them with flags:

  zinc prefs --view list --density compact`,
	Run: func(cmd *cobra.Command, args []string) {
		store, err := localstore.Open(cfg.LocalPath(), localstore.WithLogger(logger.Named("localstore")))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		prefs, err := store.LoadPreferences()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		view, _ := cmd.Flags().GetString("view")
		density, _ := cmd.Flags().GetString("density")
		if view == "" && density == "" {
			fmt.Printf("%s %s\n", ui.RenderBold("view:"), prefs.View)
			fmt.Printf("%s %s\n", ui.RenderBold("density:"), prefs.Density)
			return
		}

		if view != "" {
			prefs.View = localstore.View(view)
		}
		if density != "" {
			prefs.Density = localstore.Density(density)
		}
		if err := store.SavePreferences(prefs); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Saved: view %s, density %s\n", ui.RenderPass("✓"), prefs.View, prefs.Density)
	},
}

func init() {
	prefsCmd.Flags().String("view", "", "card or list")
	prefsCmd.Flags().String("density", "", "comfortable or compact")

	rootCmd.AddCommand(prefsCmd)
}
