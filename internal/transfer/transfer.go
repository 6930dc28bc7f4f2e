// Package transfer writes contact lists to CSV and JSON files and reads
// JSON exports back for restore.
package transfer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/geminiglobal/zinc/internal/contact"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json" in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv or json)", s)
	}
}

// CSVHeader is the header row of a CSV export.
var CSVHeader = []string{"Plant Name", "Location", "Contact", "Phone", "Status", "Next Contact", "Notes"}

// WriteCSV writes the list with every field quoted and embedded quotes
// doubled. Rows are separated by "\n" with no trailing newline, and status
// is written as its display label.
func WriteCSV(w io.Writer, list []contact.Contact) error {
	bw := bufio.NewWriter(w)
	writeRow(bw, CSVHeader)
	for _, c := range list {
		bw.WriteByte('\n')
		writeRow(bw, []string{
			c.PlantName,
			c.Location,
			c.ContactName,
			c.PhoneNumber,
			c.Status.Label(),
			c.NextContact.String(),
			c.Notes,
		})
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

func writeRow(w *bufio.Writer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteByte('"')
		w.WriteString(strings.ReplaceAll(f, `"`, `""`))
		w.WriteByte('"')
	}
}

// WriteJSON writes the full contact records as a JSON array indented by two
// spaces.
func WriteJSON(w io.Writer, list []contact.Contact) error {
	if list == nil {
		list = []contact.Contact{}
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode contacts: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

// Write dispatches on format.
func Write(w io.Writer, format Format, list []contact.Contact) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, list)
	case FormatJSON:
		return WriteJSON(w, list)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// ReadJSON reads a JSON export and returns the editable part of each
// record. Identifiers and bookkeeping are dropped; restored contacts are
// saved as new.
func ReadJSON(r io.Reader) ([]contact.Draft, error) {
	var list []contact.Contact
	dec := json.NewDecoder(r)
	if err := dec.Decode(&list); err != nil {
		return nil, fmt.Errorf("invalid contacts JSON: %w", err)
	}

	drafts := make([]contact.Draft, 0, len(list))
	for _, c := range list {
		drafts = append(drafts, c.Draft())
	}
	return drafts, nil
}

// Filename returns the download name for an export made at now, e.g.
// "gemini-contacts-2025-08-20.csv" or "gemini-contacts-selected-2025-08-20.csv".
func Filename(format Format, now time.Time, selected bool) string {
	name := "gemini-contacts-"
	if selected {
		name += "selected-"
	}
	return name + now.UTC().Format(contact.DateLayout) + "." + string(format)
}
