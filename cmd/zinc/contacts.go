package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/geminiglobal/zinc/internal/contact"
	"github.com/geminiglobal/zinc/internal/localstore"
	"github.com/geminiglobal/zinc/internal/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ===== list =====

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: "contacts",
	Short:   "List contacts",
	Long: `List contacts, optionally narrowed by a search term, location, status or
how recently they were reached.

The layout follows the saved view preference (see 'zinc prefs'); --view
overrides it for one run.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, _, err := openLoaded(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		search, _ := cmd.Flags().GetString("search")
		location, _ := cmd.Flags().GetString("location")
		statusFlag, _ := cmd.Flags().GetString("status")
		recent, _ := cmd.Flags().GetInt("recent")
		view, _ := cmd.Flags().GetString("view")
		jsonOut, _ := cmd.Flags().GetBool("json")

		criteria := contact.Criteria{Search: search, Location: location, RecentWithin: recent}
		if statusFlag != "" {
			st, err := contact.ParseStatus(statusFlag)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			criteria.Status = st
		}

		now := time.Now()
		list := a.eng.Filter(criteria)

		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if list == nil {
				list = []contact.Contact{}
			}
			if err := enc.Encode(list); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		if view == "" {
			prefs, err := a.local.LoadPreferences()
			if err != nil {
				logger.Debug("using default preferences", zap.Error(err))
			}
			view = string(prefs.View)
		}
		if localstore.View(view) == localstore.ViewList {
			ui.ContactTable(os.Stdout, list, now)
		} else {
			ui.ContactList(os.Stdout, list, now)
		}

		stats := a.eng.Stats(now)
		fmt.Printf("\n%s  %s  %s\n",
			ui.RenderMuted(fmt.Sprintf("%d shown of %d", len(list), stats.Total)),
			ui.RenderPass(fmt.Sprintf("%d active leads", stats.ActiveLeads)),
			ui.RenderAccent(fmt.Sprintf("%d follow-ups this week", stats.UpcomingFollowUps)))
	},
}

// ===== add / edit =====

// draftFlags binds the editable fields to flags. Dates are kept as text
// until submit so natural language input can be parsed against now.
type draftFlags struct {
	plant, location, contactName, phone, email string
	first, recent, next                        string
	frequency, callTime, notes, status         string
}

func (f *draftFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.plant, "plant", "", "plant name")
	fs.StringVar(&f.location, "location", "", "location")
	fs.StringVar(&f.contactName, "contact", "", "contact person")
	fs.StringVar(&f.phone, "phone", "", "phone number")
	fs.StringVar(&f.email, "email", "", "email address")
	fs.StringVar(&f.first, "first", "", "first contact date (YYYY-MM-DD or e.g. 'last monday')")
	fs.StringVar(&f.recent, "recent", "", "most recent contact date")
	fs.StringVar(&f.next, "next", "", "next contact date (e.g. 'next friday')")
	fs.StringVar(&f.frequency, "frequency", "", "how often to reach out")
	fs.StringVar(&f.callTime, "call-time", "", "preferred call time")
	fs.StringVar(&f.notes, "notes", "", "free-form notes")
	fs.StringVar(&f.status, "status", "", "status (active, pending, follow-up, inactive); derived from dates when empty")
}

func (f *draftFlags) load(d contact.Draft) {
	f.plant, f.location, f.contactName = d.PlantName, d.Location, d.ContactName
	f.phone, f.email = d.PhoneNumber, d.EmailAddress
	f.first, f.recent, f.next = d.FirstContact.String(), d.RecentContact.String(), d.NextContact.String()
	f.frequency, f.callTime, f.notes = d.Frequency, d.CallTime, d.Notes
	f.status = string(d.Status)
}

// overlay copies the flags the user actually set onto dst and reports how
// many there were.
func (f *draftFlags) overlay(cmd *cobra.Command, dst *draftFlags) int {
	n := 0
	set := func(name string, from string, to *string) {
		if cmd.Flags().Changed(name) {
			*to = from
			n++
		}
	}
	set("plant", f.plant, &dst.plant)
	set("location", f.location, &dst.location)
	set("contact", f.contactName, &dst.contactName)
	set("phone", f.phone, &dst.phone)
	set("email", f.email, &dst.email)
	set("first", f.first, &dst.first)
	set("recent", f.recent, &dst.recent)
	set("next", f.next, &dst.next)
	set("frequency", f.frequency, &dst.frequency)
	set("call-time", f.callTime, &dst.callTime)
	set("notes", f.notes, &dst.notes)
	set("status", f.status, &dst.status)
	return n
}

func (f *draftFlags) draft(now time.Time) (contact.Draft, error) {
	d := contact.Draft{
		PlantName:    f.plant,
		Location:     f.location,
		ContactName:  f.contactName,
		PhoneNumber:  f.phone,
		EmailAddress: f.email,
		Frequency:    f.frequency,
		CallTime:     f.callTime,
		Notes:        f.notes,
		Status:       contact.Status(strings.TrimSpace(f.status)),
	}
	var err error
	if d.FirstContact, err = contact.ParseDate(f.first, now); err != nil {
		return d, fmt.Errorf("first contact: %w", err)
	}
	if d.RecentContact, err = contact.ParseDate(f.recent, now); err != nil {
		return d, fmt.Errorf("recent contact: %w", err)
	}
	if d.NextContact, err = contact.ParseDate(f.next, now); err != nil {
		return d, fmt.Errorf("next contact: %w", err)
	}
	return d, nil
}

// form builds the interactive editor over f.
func (f *draftFlags) form(title string) *huh.Form {
	dateCheck := func(s string) error {
		_, err := contact.ParseDate(s, time.Now())
		return err
	}
	statusOpts := []huh.Option[string]{huh.NewOption("Derive from dates", "")}
	for _, st := range contact.Statuses {
		statusOpts = append(statusOpts, huh.NewOption(st.Label(), string(st)))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title(title).Description("Plant name").Value(&f.plant).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("plant name is required")
					}
					return nil
				}),
			huh.NewInput().Title("Location").Value(&f.location),
			huh.NewInput().Title("Contact").Value(&f.contactName),
			huh.NewInput().Title("Phone").Value(&f.phone),
			huh.NewInput().Title("Email").Value(&f.email),
		),
		huh.NewGroup(
			huh.NewInput().Title("First contact").Placeholder("YYYY-MM-DD").Value(&f.first).Validate(dateCheck),
			huh.NewInput().Title("Recent contact").Placeholder("yesterday").Value(&f.recent).Validate(dateCheck),
			huh.NewInput().Title("Next contact").Placeholder("next friday").Value(&f.next).Validate(dateCheck),
			huh.NewInput().Title("Frequency").Value(&f.frequency),
			huh.NewInput().Title("Call time").Value(&f.callTime),
			huh.NewSelect[string]().Title("Status").Options(statusOpts...).Value(&f.status),
			huh.NewText().Title("Notes").Value(&f.notes),
		),
	)
}

var addFlags draftFlags

var addCmd = &cobra.Command{
	Use:     "add",
	GroupID: "contacts",
	Short:   "Add a contact",
	Long: `Add a contact from flags, or with an interactive form when --plant is not
given and stdin is a terminal.

Form input is kept as a draft until the contact is saved, so an interrupted
entry is offered again next time.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, _, err := openLoaded(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		fields := addFlags
		interactive := !cmd.Flags().Changed("plant") && ui.IsTerminal(os.Stdin)
		if interactive {
			if saved, ok, err := a.local.LoadDraft(); err == nil && ok {
				fmt.Println(ui.RenderMuted("Restored unsaved draft."))
				fields = draftFlags{}
				fields.load(saved)
				addFlags.overlay(cmd, &fields)
			}
			if err := fields.form("New contact").Run(); err != nil {
				keepDraft(a, fields)
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Println(ui.RenderMuted("Cancelled. Draft kept."))
					return
				}
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			keepDraft(a, fields)
		}

		c, err := submit(ctx, a, fields, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if interactive {
			if err := a.local.ClearDraft(); err != nil {
				logger.Warn("failed to clear draft", zap.Error(err))
			}
		}
		fmt.Printf("%s Added %s %s\n", ui.RenderPass("✓"), ui.RenderBold(c.PlantName), ui.RenderMuted("("+c.ID+")"))
	},
}

var editFlags draftFlags

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "contacts",
	Short:   "Edit a contact",
	Long: `Edit a contact by id (or a unique prefix of at least four characters).

Flags replace individual fields. Without flags on a terminal, the current
values are opened in a form.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, _, err := openLoaded(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		id, err := a.resolveID(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		current, _ := a.eng.Get(id)

		var fields draftFlags
		fields.load(current.Draft())
		changed := editFlags.overlay(cmd, &fields)

		if changed == 0 && ui.IsTerminal(os.Stdin) {
			if err := fields.form("Edit contact").Run(); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Println(ui.RenderMuted("Cancelled."))
					return
				}
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		c, err := submit(ctx, a, fields, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), ui.RenderBold(c.PlantName))
	},
}

func submit(ctx context.Context, a *app, fields draftFlags, existingID string) (contact.Contact, error) {
	d, err := fields.draft(time.Now())
	if err != nil {
		return contact.Contact{}, err
	}
	if err := d.Validate(); err != nil {
		return contact.Contact{}, err
	}
	return a.eng.Save(ctx, d, existingID)
}

func keepDraft(a *app, fields draftFlags) {
	// Dates that do not parse yet are dropped from the saved draft.
	d, _ := fields.draft(time.Now())
	if err := a.local.SaveDraft(d); err != nil {
		logger.Warn("failed to save draft", zap.Error(err))
	}
}

// ===== delete =====

var deleteCmd = &cobra.Command{
	Use:     "delete <id>...",
	Aliases: []string{"rm", "bulk-delete"},
	GroupID: "contacts",
	Short:   "Delete one or more contacts",
	Long: `Delete contacts by id. A single id is removed directly; several ids are
removed as a bulk operation that reports any that failed.

Asks for confirmation on a terminal unless --yes is given.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, _, err := openLoaded(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		ids := make([]string, 0, len(args))
		for _, arg := range args {
			id, err := a.resolveID(arg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			ids = append(ids, id)
		}

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && ui.IsTerminal(os.Stdin) {
			title := fmt.Sprintf("Delete %d contacts?", len(ids))
			if len(ids) == 1 {
				c, _ := a.eng.Get(ids[0])
				title = fmt.Sprintf("Delete %s?", c.PlantName)
			}
			confirmed := false
			err := huh.NewConfirm().
				Title(title).
				Description("This cannot be undone.").
				Affirmative("Delete").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil && !errors.Is(err, huh.ErrUserAborted) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !confirmed {
				fmt.Println(ui.RenderMuted("Cancelled."))
				return
			}
		}

		if len(ids) == 1 {
			if err := a.eng.Remove(ctx, ids[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Deleted 1 contact\n", ui.RenderPass("✓"))
			return
		}

		res := a.eng.BulkRemove(ctx, ids)
		for id, err := range res.Failed {
			fmt.Fprintf(os.Stderr, "  %s %s: %v\n", ui.RenderFail("✗"), id, err)
		}
		fmt.Printf("%s Deleted %d of %d contacts\n", ui.RenderPass("✓"), res.Removed, res.Requested)
		if len(res.Failed) > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	listCmd.Flags().StringP("search", "s", "", "case-insensitive search over plant, contact, location and notes")
	listCmd.Flags().String("location", "", "only this location")
	listCmd.Flags().String("status", "", "only this status")
	listCmd.Flags().Int("recent", 0, "only contacts reached within the last N days")
	listCmd.Flags().String("view", "", "card or list (default: saved preference)")
	listCmd.Flags().Bool("json", false, "print the filtered list as JSON")

	addFlags.register(addCmd)
	editFlags.register(editCmd)

	deleteCmd.Flags().BoolP("yes", "y", false, "skip confirmation")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
}
