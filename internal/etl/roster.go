package etl

import (
	"context"
	"fmt"
	"strings"

	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/sheets"
)

// RosterEntry is one student row from the roster sheet.
type RosterEntry struct {
	Phone         string
	Name          string
	CurrentLesson string
	Teacher       string
}

// Roster maps student identities (normalized phone or lowercased name) to
// roster metadata. Senders appear in chat as either, so both indexes are kept.
type Roster struct {
	byPhone map[string]RosterEntry
	byName  map[string]RosterEntry
}

// LoadRoster pulls the current roster from the students sheet.
func LoadRoster(ctx context.Context, client sheets.Client, sheetID string) (*Roster, error) {
	rows, err := client.ReadRange(ctx, sheetID, RosterRange)
	if err != nil {
		return nil, fmt.Errorf("pull roster: %w", err)
	}

	r := &Roster{
		byPhone: make(map[string]RosterEntry),
		byName:  make(map[string]RosterEntry),
	}
	for _, row := range rows {
		entry := RosterEntry{
			Phone:         CleanPhone(cell(row, 0)),
			Name:          cell(row, 1),
			CurrentLesson: cell(row, 2),
			Teacher:       cell(row, 4),
		}
		if entry.Phone == "" && entry.Name == "" {
			continue
		}
		if entry.Phone != "" {
			r.byPhone[entry.Phone] = entry
		}
		if entry.Name != "" {
			r.byName[strings.ToLower(entry.Name)] = entry
		}
	}
	return r, nil
}

// Len returns the number of distinct phone entries.
func (r *Roster) Len() int {
	return len(r.byPhone)
}

// Resolve maps a chat sender (phone number or display name) to a roster
// entry. Unknown senders still resolve — with known=false — so their activity
// is tracked and flagged rather than dropped.
func (r *Roster) Resolve(sender string) (entry RosterEntry, known bool) {
	if phone := CleanPhone(sender); phone != "" {
		if e, ok := r.byPhone[phone]; ok {
			return e, true
		}
		return RosterEntry{Phone: phone, Name: "Unknown"}, false
	}

	if e, ok := r.byName[strings.ToLower(strings.TrimSpace(sender))]; ok {
		return e, true
	}
	return RosterEntry{Phone: sender, Name: sender}, false
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
