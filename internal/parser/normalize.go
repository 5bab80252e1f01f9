package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/campuseats/menud/internal/hash"
	"github.com/campuseats/menud/internal/menu"
)

// priceSuffix matches a trailing won price like "제육볶음 5,500원" or
// "Bibimbap (4,000원)".
var priceSuffix = regexp.MustCompile(`\(?([0-9][0-9,]*)\s*원\)?\s*$`)

// tagPrefix matches leading bracketed dietary tags like "[vegan][halal]".
var tagPrefix = regexp.MustCompile(`^(\[[^\[\]]+\]\s*)+`)

var singleTag = regexp.MustCompile(`\[([^\[\]]+)\]`)

// defaultDateFormats are tried when a target configures none.
var defaultDateFormats = []string{
	menu.DateLayout,
	"2006.01.02",
	"01/02/2006",
	"1월 2일",
}

// cleanItems trims, filters and splits raw dish strings into MenuItems.
// Blank entries and configured placeholder markers are dropped, matching
// the markers cafeteria boards pad their columns with.
func cleanItems(raw []string, placeholders []string) []menu.MenuItem {
	items := make([]menu.MenuItem, 0, len(raw))
	for _, line := range raw {
		name := collapseSpace(line)
		if name == "" || isPlaceholder(name, placeholders) {
			continue
		}
		item := menu.MenuItem{}
		if m := priceSuffix.FindStringSubmatch(name); m != nil {
			if p, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
				item.Price = &p
				name = collapseSpace(strings.TrimSuffix(name, m[0]))
			}
		}
		if m := tagPrefix.FindString(name); m != "" {
			for _, tm := range singleTag.FindAllStringSubmatch(m, -1) {
				tag := strings.ToLower(collapseSpace(tm[1]))
				if tag != "" {
					item.Tags = append(item.Tags, tag)
				}
			}
			name = collapseSpace(strings.TrimPrefix(name, m))
		}
		if name == "" {
			continue
		}
		item.Name = name
		items = append(items, item)
	}
	return items
}

func isPlaceholder(name string, placeholders []string) bool {
	for _, p := range placeholders {
		if strings.EqualFold(name, strings.TrimSpace(p)) {
			return true
		}
	}
	return false
}

// collapseSpace trims and collapses runs of whitespace to single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolveDate parses a raw date string against the target's formats,
// falling back to the defaults. Year-less formats (the Korean "M월 D일"
// style) are anchored to the fetch time's year.
func resolveDate(raw string, formats []string, fetchedAt time.Time) (time.Time, bool) {
	raw = collapseSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if len(formats) == 0 {
		formats = defaultDateFormats
	}
	for _, layout := range formats {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			t = time.Date(fetchedAt.UTC().Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		return menu.Date(t), true
	}
	return time.Time{}, false
}

// resolveSlot maps a raw slot label through the target's configured
// labels, then tries the canonical slot names directly.
func resolveSlot(raw string, labels map[string]string) (menu.MealSlot, bool) {
	label := strings.ToLower(collapseSpace(raw))
	if label == "" {
		return "", false
	}
	for k, v := range labels {
		if strings.ToLower(collapseSpace(k)) == label {
			slot, err := menu.ParseSlot(v)
			if err != nil {
				return "", false
			}
			return slot, true
		}
	}
	if slot, err := menu.ParseSlot(label); err == nil {
		return slot, true
	}
	return "", false
}

// buildDraft assembles a normalized draft and stamps its content hash.
func buildDraft(providerID string, date time.Time, slot menu.MealSlot, items []menu.MenuItem) menu.Draft {
	return menu.Draft{
		ProviderID:  providerID,
		ServingDate: date,
		Slot:        slot,
		Items:       items,
		ContentHash: hash.Content(providerID, date, slot, items),
	}
}
