package parser

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/campuseats/menud/internal/menu"
)

// HTMLParser extracts menu drafts from a cafeteria board page. The page
// shape is configured per target: a selector for each day section, one
// for the date within it, one for each slot section, and one for the
// dish entries inside a slot.
type HTMLParser struct{}

// Parse implements menu.Parser.
func (p *HTMLParser) Parse(res menu.FetchResult, target menu.Target) (menu.ParseOutput, error) {
	if len(bytes.TrimSpace(res.Body)) == 0 {
		// Empty-but-valid response: no menu published for the period.
		return menu.ParseOutput{}, nil
	}
	rules := target.Rules
	if rules.DaySelector == "" || rules.SlotSelector == "" || rules.ItemSelector == "" {
		return menu.ParseOutput{}, &ParseError{
			Target: target.Name,
			Reason: "html target requires day_selector, slot_selector and item_selector",
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return menu.ParseOutput{}, &ParseError{Target: target.Name, Reason: fmt.Sprintf("parse html: %v", err)}
	}

	days := doc.Find(rules.DaySelector)
	if days.Length() == 0 {
		return menu.ParseOutput{}, &ParseError{
			Target:  target.Name,
			Section: rules.DaySelector,
			Reason:  "no day sections matched; expected at least one",
		}
	}

	var out menu.ParseOutput
	days.Each(func(dayIdx int, day *goquery.Selection) {
		section := fmt.Sprintf("day[%d]", dayIdx)

		rawDate := day.Find(rules.DateSelector).First().Text()
		date, ok := resolveDate(rawDate, rules.DateFormats, res.FetchedAt)
		if !ok {
			out.Dropped = append(out.Dropped, menu.DroppedDraft{
				Section: section,
				Reason:  fmt.Sprintf("unresolvable serving date %q", collapseSpace(rawDate)),
			})
			return
		}

		day.Find(rules.SlotSelector).Each(func(slotIdx int, slotSel *goquery.Selection) {
			label := slotSel.AttrOr("data-slot", "")
			if label == "" {
				label = slotSel.Find("h1,h2,h3,h4,th,legend,.slot-label").First().Text()
			}
			slot, ok := resolveSlot(label, rules.SlotLabels)
			if !ok {
				out.Dropped = append(out.Dropped, menu.DroppedDraft{
					Section: fmt.Sprintf("%s.slot[%d]", section, slotIdx),
					Reason:  fmt.Sprintf("unrecognized slot label %q", collapseSpace(label)),
				})
				return
			}

			var raw []string
			slotSel.Find(rules.ItemSelector).Each(func(_ int, item *goquery.Selection) {
				raw = append(raw, item.Text())
			})
			items := cleanItems(raw, rules.Placeholders)
			if len(items) == 0 {
				// A slot with nothing served is valid; it just produces no draft.
				return
			}
			out.Drafts = append(out.Drafts, buildDraft(target.ProviderID, date, slot, items))
		})
	})
	return out, nil
}
