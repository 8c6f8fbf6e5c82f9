package gallery

import (
	"sort"
	"strings"
	"unicode"

	"github.com/bull/csa-content-sync/internal/catalog"
)

// MatchEvent links a folder name to an event title. Candidates are tried
// in ID order within each tier and the first hit wins:
//
//  1. exact, case-insensitive title match;
//  2. equal after normalization (or equal once spaces are removed);
//  3. one normalized name contains the other.
func MatchEvent(folder string, events []catalog.Event) (catalog.Event, bool) {
	candidates := make([]catalog.Event, len(events))
	copy(candidates, events)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	key := strings.ToLower(strings.TrimSpace(folder))
	if key == "" {
		return catalog.Event{}, false
	}
	for _, e := range candidates {
		if strings.ToLower(strings.TrimSpace(e.Title)) == key {
			return e, true
		}
	}

	norm := Normalize(folder)
	if norm == "" {
		return catalog.Event{}, false
	}
	compact := strings.ReplaceAll(norm, " ", "")
	for _, e := range candidates {
		title := Normalize(e.Title)
		if title == norm || (title != "" && strings.ReplaceAll(title, " ", "") == compact) {
			return e, true
		}
	}

	for _, e := range candidates {
		title := Normalize(e.Title)
		if title == "" {
			continue
		}
		if strings.Contains(title, norm) || strings.Contains(norm, title) {
			return e, true
		}
	}
	return catalog.Event{}, false
}

// Normalize drops everything but letters, digits and whitespace, collapses
// whitespace and lowercases.
func Normalize(s string) string {
	kept := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
	return strings.Join(strings.Fields(kept), " ")
}
