package parser

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/campuseats/menud/internal/menu"
)

// feedDay is one entry of the JSON feed format used by vendor-side bulk
// exports: an array of day/slot/item objects.
type feedDay struct {
	ServingDate string     `json:"serving_date"`
	MealSlot    string     `json:"meal_slot"`
	Items       []feedItem `json:"items"`
}

type feedItem struct {
	Name  string   `json:"name"`
	Price *int     `json:"price"`
	Tags  []string `json:"tags"`
}

// FeedParser parses the JSON feed format.
type FeedParser struct{}

// Parse implements menu.Parser.
func (p *FeedParser) Parse(res menu.FetchResult, target menu.Target) (menu.ParseOutput, error) {
	body := bytes.TrimSpace(res.Body)
	if len(body) == 0 {
		return menu.ParseOutput{}, nil
	}

	var days []feedDay
	if err := json.Unmarshal(body, &days); err != nil {
		return menu.ParseOutput{}, &ParseError{
			Target: target.Name,
			Reason: fmt.Sprintf("decode feed: %v", err),
		}
	}

	var out menu.ParseOutput
	for i, day := range days {
		section := fmt.Sprintf("entry[%d]", i)

		date, ok := resolveDate(day.ServingDate, target.Rules.DateFormats, res.FetchedAt)
		if !ok {
			out.Dropped = append(out.Dropped, menu.DroppedDraft{
				Section: section,
				Reason:  fmt.Sprintf("unresolvable serving date %q", day.ServingDate),
			})
			continue
		}
		slot, ok := resolveSlot(day.MealSlot, target.Rules.SlotLabels)
		if !ok {
			out.Dropped = append(out.Dropped, menu.DroppedDraft{
				Section: section,
				Reason:  fmt.Sprintf("unrecognized meal slot %q", day.MealSlot),
			})
			continue
		}

		items := make([]menu.MenuItem, 0, len(day.Items))
		for _, src := range day.Items {
			cleaned := cleanItems([]string{src.Name}, target.Rules.Placeholders)
			if len(cleaned) == 0 {
				continue
			}
			item := cleaned[0]
			// Feed-native price and tags win over anything scraped from the name.
			if src.Price != nil {
				price := *src.Price
				item.Price = &price
			}
			if len(src.Tags) > 0 {
				tags := make([]string, 0, len(src.Tags))
				for _, tag := range src.Tags {
					if t := collapseSpace(tag); t != "" {
						tags = append(tags, t)
					}
				}
				item.Tags = tags
			}
			items = append(items, item)
		}
		if len(items) == 0 {
			continue
		}
		out.Drafts = append(out.Drafts, buildDraft(target.ProviderID, date, slot, items))
	}
	return out, nil
}
