// Package parser converts raw source documents into normalized menu drafts.
// It isolates all source-format fragility: selectors, slot labels and date
// formats come from target configuration, and a layout change shows up as
// a ParseError with enough context to diagnose without re-fetching.
package parser

import (
	"fmt"

	"github.com/campuseats/menud/internal/menu"
)

// ParseError reports a structurally unrecognized document.
type ParseError struct {
	Target  string
	Section string
	Reason  string
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("parse %s: %s: %s", e.Target, e.Section, e.Reason)
	}
	return fmt.Sprintf("parse %s: %s", e.Target, e.Reason)
}

// Registry selects a parser by target kind.
type Registry struct {
	parsers map[menu.TargetKind]menu.Parser
}

// NewRegistry builds a Registry with the built-in formats registered.
func NewRegistry() *Registry {
	return &Registry{
		parsers: map[menu.TargetKind]menu.Parser{
			menu.TargetHTML: &HTMLParser{},
			menu.TargetFeed: &FeedParser{},
		},
	}
}

// Parse dispatches to the parser for the target's kind.
func (r *Registry) Parse(res menu.FetchResult, target menu.Target) (menu.ParseOutput, error) {
	p, ok := r.parsers[target.Kind]
	if !ok {
		return menu.ParseOutput{}, &ParseError{
			Target: target.Name,
			Reason: fmt.Sprintf("no parser registered for kind %q", target.Kind),
		}
	}
	return p.Parse(res, target)
}
