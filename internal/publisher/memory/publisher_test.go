package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campuseats/menud/internal/menu"
)

func TestPublishRecordsEvents(t *testing.T) {
	t.Parallel()

	p := New()
	require.Empty(t, p.Events())

	id, err := p.Publish(context.Background(), menu.ChangeEvent{
		ProviderID:  "tip",
		ServingDate: "2024-05-01",
		Slot:        menu.SlotLunch,
		Version:     1,
		ContentHash: "h1",
		ChangedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	events := p.Events()
	require.Len(t, events, 1)
	require.Equal(t, "tip", events[0].ProviderID)

	// The accessor hands out a copy.
	events[0].ProviderID = "mutated"
	require.Equal(t, "tip", p.Events()[0].ProviderID)
}
