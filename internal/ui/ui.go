// Package ui renders CLI output with lipgloss. Colour is chosen from the
// environment (NO_COLOR, CLICOLOR_FORCE, TERM) via termenv.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/geminiglobal/zinc/internal/contact"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

	statusStyles = map[contact.Status]lipgloss.Style{
		contact.StatusActive:   passStyle,
		contact.StatusPending:  warnStyle,
		contact.StatusFollowUp: accentStyle.Bold(true),
		contact.StatusInactive: mutedStyle,
	}
)

func init() {
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
}

// DisableColor turns off styling, e.g. for --no-color.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderBold(s string) string   { return boldStyle.Render(s) }

// RenderStatus renders the status label in its colour.
func RenderStatus(s contact.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return s.Label()
	}
	return style.Render(s.Label())
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of stdout, or fallback.
func Width(fallback int) int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return fallback
}

// ContactList writes one block per contact in the compact list view.
func ContactList(w io.Writer, list []contact.Contact, now time.Time) {
	if len(list) == 0 {
		fmt.Fprintln(w, RenderMuted("No contacts."))
		return
	}
	for _, c := range list {
		fmt.Fprintf(w, "%s  %s\n", RenderBold(c.PlantName), RenderStatus(c.Status))
		var parts []string
		if c.Location != "" {
			parts = append(parts, c.Location)
		}
		if c.ContactName != "" {
			parts = append(parts, c.ContactName)
		}
		if c.PhoneNumber != "" {
			parts = append(parts, c.PhoneNumber)
		}
		if len(parts) > 0 {
			fmt.Fprintf(w, "  %s\n", strings.Join(parts, " · "))
		}
		if !c.NextContact.IsZero() {
			fmt.Fprintf(w, "  Next: %s\n", contact.Relative(c.NextContact, now))
		}
		if !c.RecentContact.IsZero() {
			fmt.Fprintf(w, "  Last: %s\n", contact.Relative(c.RecentContact, now))
		}
		fmt.Fprintf(w, "  %s\n", RenderMuted("id "+c.ID))
	}
}

// ContactTable writes the list as aligned columns.
func ContactTable(w io.Writer, list []contact.Contact, now time.Time) {
	if len(list) == 0 {
		fmt.Fprintln(w, RenderMuted("No contacts."))
		return
	}

	headers := []string{"ID", "PLANT", "LOCATION", "CONTACT", "STATUS", "NEXT"}
	rows := make([][]string, 0, len(list))
	for _, c := range list {
		next := ""
		if !c.NextContact.IsZero() {
			next = contact.Relative(c.NextContact, now)
		}
		rows = append(rows, []string{shortID(c.ID), c.PlantName, c.Location, c.ContactName, c.Status.Label(), next})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, cell := range r {
			if n := lipgloss.Width(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	for i, h := range headers {
		fmt.Fprint(w, headerStyle.Render(pad(h, widths[i])))
		if i < len(headers)-1 {
			fmt.Fprint(w, "  ")
		}
	}
	fmt.Fprintln(w)
	for ri, r := range rows {
		for i, cell := range r {
			text := pad(cell, widths[i])
			if i == 4 {
				if style, ok := statusStyles[list[ri].Status]; ok {
					text = style.Render(text)
				}
			}
			fmt.Fprint(w, text)
			if i < len(r)-1 {
				fmt.Fprint(w, "  ")
			}
		}
		fmt.Fprintln(w)
	}
}

func pad(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
