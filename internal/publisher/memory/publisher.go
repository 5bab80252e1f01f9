// Package memory contains an in-memory publisher for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/campuseats/menud/internal/menu"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []menu.ChangeEvent
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, event menu.ChangeEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns the recorded publishes.
func (p *Publisher) Events() []menu.ChangeEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]menu.ChangeEvent, len(p.events))
	copy(out, p.events)
	return out
}
