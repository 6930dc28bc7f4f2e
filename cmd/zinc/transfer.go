package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geminiglobal/zinc/internal/contact"
	"github.com/geminiglobal/zinc/internal/transfer"
	"github.com/geminiglobal/zinc/internal/ui"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:     "export [id...]",
	GroupID: "contacts",
	Short:   "Export contacts to CSV or JSON",
	Long: `Export the whole list, or only the given ids, to a file.

The default file name is gemini-contacts-YYYY-MM-DD.<format>, with
"selected-" inserted when ids are given. Use -o - for stdout.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		formatFlag, _ := cmd.Flags().GetString("format")
		format, err := transfer.ParseFormat(formatFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a, _, err := openLoaded(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		list := a.eng.Contacts()
		if len(args) > 0 {
			list = list[:0:0]
			for _, arg := range args {
				id, err := a.resolveID(arg)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				c, _ := a.eng.Get(id)
				list = append(list, c)
			}
		}

		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = transfer.Filename(format, time.Now(), len(args) > 0)
		}

		var w io.Writer = os.Stdout
		if out != "-" {
			f, err := os.Create(out)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to create %s: %v\n", out, err)
				os.Exit(1)
			}
			defer f.Close()
			w = f
		}

		if err := transfer.Write(w, format, list); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if out != "-" {
			fmt.Printf("%s Exported %d contacts to %s\n", ui.RenderPass("✓"), len(list), out)
		}
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file.json>",
	GroupID: "contacts",
	Short:   "Add contacts from a JSON export",
	Long: `Read a JSON export and add every record as a new contact. Records that
fail validation are reported and skipped.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		f, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		drafts, err := transfer.ReadJSON(f)
		_ = f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a, _, err := openLoaded(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		added, failed := importDrafts(ctx, a, drafts)
		fmt.Printf("%s Imported %d of %d contacts\n", ui.RenderPass("✓"), added, len(drafts))
		if failed > 0 {
			os.Exit(1)
		}
	},
}

func importDrafts(ctx context.Context, a *app, drafts []contact.Draft) (added, failed int) {
	for i, d := range drafts {
		if ctx.Err() != nil {
			break
		}
		if err := d.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "  %s record %d: %v\n", ui.RenderFail("✗"), i+1, err)
			failed++
			continue
		}
		if _, err := a.eng.Save(ctx, d, ""); err != nil {
			fmt.Fprintf(os.Stderr, "  %s %s: %v\n", ui.RenderFail("✗"), d.PlantName, err)
			failed++
			continue
		}
		added++
	}
	return added, failed
}

func init() {
	exportCmd.Flags().StringP("format", "f", "csv", "csv or json")
	exportCmd.Flags().StringP("output", "o", "", "output file (default: dated file name, - for stdout)")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
