// Package hash computes the content digest used for change detection.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/campuseats/menud/internal/menu"
)

// Content digests the semantic content of a draft: provider, date, slot
// and items. Items are sorted into a canonical order first, so two crawls
// that differ only in item ordering produce identical hashes.
func Content(providerID string, date time.Time, slot menu.MealSlot, items []menu.MenuItem) string {
	var b strings.Builder
	b.WriteString(providerID)
	b.WriteByte('\n')
	b.WriteString(date.Format(menu.DateLayout))
	b.WriteByte('\n')
	b.WriteString(string(slot))
	b.WriteByte('\n')
	for _, it := range canonical(items) {
		b.WriteString(it.Name)
		b.WriteByte('\x1f')
		if it.Price != nil {
			b.WriteString(strconv.Itoa(*it.Price))
		}
		b.WriteByte('\x1f')
		b.WriteString(strings.Join(it.Tags, ","))
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// canonical returns a case-folded, sorted copy with tags sorted per item.
// The input is never mutated; hashing must not change what gets stored.
func canonical(items []menu.MenuItem) []menu.MenuItem {
	out := make([]menu.MenuItem, len(items))
	for i, it := range items {
		cp := it
		cp.Name = strings.ToLower(it.Name)
		if len(it.Tags) > 0 {
			cp.Tags = append([]string(nil), it.Tags...)
			sort.Strings(cp.Tags)
		}
		out[i] = cp
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return priceOf(out[i]) < priceOf(out[j])
	})
	return out
}

func priceOf(it menu.MenuItem) int {
	if it.Price == nil {
		return -1
	}
	return *it.Price
}
