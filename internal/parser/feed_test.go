package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campuseats/menud/internal/menu"
)

func feedTarget() menu.Target {
	return menu.Target{
		Name:       "edong-feed",
		Kind:       menu.TargetFeed,
		URL:        "https://example.edu/menu.json",
		ProviderID: "edong",
		Rules: menu.ParseRules{
			Placeholders: []string{"tbd"},
		},
	}
}

func feedFetch(body string) menu.FetchResult {
	return menu.FetchResult{
		Target:    "edong-feed",
		Body:      []byte(body),
		FetchedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFeedParserDecodesEntries(t *testing.T) {
	t.Parallel()

	body := `[
		{
			"serving_date": "2024-05-02",
			"meal_slot": "lunch",
			"items": [
				{"name": "bulgogi bowl", "price": 6000, "tags": ["spicy"]},
				{"name": "tbd"},
				{"name": "salad"}
			]
		},
		{
			"serving_date": "2024-05-02",
			"meal_slot": "dinner",
			"items": [{"name": "curry 4,500원"}]
		}
	]`
	out, err := (&FeedParser{}).Parse(feedFetch(body), feedTarget())
	require.NoError(t, err)
	require.Empty(t, out.Dropped)
	require.Len(t, out.Drafts, 2)

	lunch := out.Drafts[0]
	require.Equal(t, "edong", lunch.ProviderID)
	require.Equal(t, menu.SlotLunch, lunch.Slot)
	require.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), lunch.ServingDate)
	require.Len(t, lunch.Items, 2)
	require.Equal(t, "bulgogi bowl", lunch.Items[0].Name)
	require.NotNil(t, lunch.Items[0].Price)
	require.Equal(t, 6000, *lunch.Items[0].Price)
	require.Equal(t, []string{"spicy"}, lunch.Items[0].Tags)

	// Name-embedded prices still work for feeds that carry them that way.
	dinner := out.Drafts[1]
	require.Len(t, dinner.Items, 1)
	require.Equal(t, "curry", dinner.Items[0].Name)
	require.NotNil(t, dinner.Items[0].Price)
	require.Equal(t, 4500, *dinner.Items[0].Price)
}

func TestFeedParserNativePriceWinsOverName(t *testing.T) {
	t.Parallel()

	body := `[{"serving_date": "2024-05-02", "meal_slot": "lunch",
		"items": [{"name": "ramen 3,000원", "price": 3500}]}]`
	out, err := (&FeedParser{}).Parse(feedFetch(body), feedTarget())
	require.NoError(t, err)
	require.Len(t, out.Drafts, 1)
	require.Len(t, out.Drafts[0].Items, 1)
	require.Equal(t, "ramen", out.Drafts[0].Items[0].Name)
	require.Equal(t, 3500, *out.Drafts[0].Items[0].Price)
}

func TestFeedParserDropsBadEntries(t *testing.T) {
	t.Parallel()

	body := `[
		{"serving_date": "not a date", "meal_slot": "lunch", "items": [{"name": "a"}]},
		{"serving_date": "2024-05-02", "meal_slot": "brunch", "items": [{"name": "a"}]},
		{"serving_date": "2024-05-02", "meal_slot": "lunch", "items": [{"name": "a"}]}
	]`
	out, err := (&FeedParser{}).Parse(feedFetch(body), feedTarget())
	require.NoError(t, err)
	require.Len(t, out.Drafts, 1)
	require.Len(t, out.Dropped, 2)
	require.Contains(t, out.Dropped[0].Reason, "unresolvable serving date")
	require.Contains(t, out.Dropped[1].Reason, "unrecognized meal slot")
}

func TestFeedParserInvalidJSON(t *testing.T) {
	t.Parallel()

	_, err := (&FeedParser{}).Parse(feedFetch("{not json"), feedTarget())
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "edong-feed", parseErr.Target)
}

func TestFeedParserEmptyBody(t *testing.T) {
	t.Parallel()

	out, err := (&FeedParser{}).Parse(feedFetch(""), feedTarget())
	require.NoError(t, err)
	require.Empty(t, out.Drafts)
}
