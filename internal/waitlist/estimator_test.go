package waitlist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-orders/internal/config"
)

type booking struct {
	at     time.Time
	tables []string
}

type fakeCounter struct {
	bookings []booking
}

func (f *fakeCounter) CountContending(_ context.Context, at time.Time, tables []string) (int, error) {
	n := 0
	for _, b := range f.bookings {
		if !b.at.Equal(at) {
			continue
		}
		if overlaps(b.tables, tables) {
			n++
		}
	}
	return n, nil
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func TestEstimator_Count(t *testing.T) {
	slot := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	counter := &fakeCounter{bookings: []booking{
		{at: slot, tables: []string{"T"}},
		{at: slot, tables: []string{"T", "U"}},
		{at: slot, tables: []string{"V"}},
		{at: slot.Add(time.Hour), tables: []string{"T"}},
	}}
	e := NewEstimator(config.WaitlistConfig{ServiceMinutes: 30})

	tests := []struct {
		name   string
		at     time.Time
		tables []string
		want   int
	}{
		{name: "two contending on T", at: slot, tables: []string{"T"}, want: 2},
		{name: "shared table U", at: slot, tables: []string{"U"}, want: 1},
		{name: "different slot", at: slot.Add(30 * time.Minute), tables: []string{"T"}, want: 0},
		{name: "no tables", at: slot, tables: nil, want: 0},
		{name: "duplicates collapse", at: slot, tables: []string{"T", "T", ""}, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := e.Count(context.Background(), counter, tt.at, tt.tables)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestEstimator_EstimatedWait(t *testing.T) {
	e := NewEstimator(config.WaitlistConfig{})
	assert.Equal(t, 60, e.EstimatedWait(2))
	assert.Equal(t, 0, e.EstimatedWait(0))

	e = NewEstimator(config.WaitlistConfig{ServiceMinutes: 15})
	assert.Equal(t, 45, e.EstimatedWait(3))
}

func TestSlotKeys_Sorted(t *testing.T) {
	at := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	keys := SlotKeys(at, []string{"b", "a", "b"})
	assert.Equal(t, []string{
		"waitlist:a:2026-03-01T19:00:00Z",
		"waitlist:b:2026-03-01T19:00:00Z",
	}, keys)
}

func TestSlot_TruncatesToStoredPrecision(t *testing.T) {
	at := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	local := at.Add(999 * time.Nanosecond).In(time.FixedZone("CET", 3600))

	assert.True(t, at.Equal(Slot(local)))
	assert.Equal(t, time.UTC, Slot(local).Location())
	assert.Equal(t, SlotKeys(at, []string{"a"}), SlotKeys(local, []string{"a"}))
}
