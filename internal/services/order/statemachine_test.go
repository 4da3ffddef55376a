package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/models"
)

func TestTransition(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		from     models.OrderStatus
		to       models.OrderStatus
		changed  bool
		enqueue  bool
		wantKind apperr.Kind
	}{
		{name: "pending to accepted", from: models.StatusPending, to: models.StatusAccepted, changed: true},
		{name: "accepted to preparing", from: models.StatusAccepted, to: models.StatusPreparing, changed: true},
		{name: "preparing to completed", from: models.StatusPreparing, to: models.StatusCompleted, changed: true, enqueue: true},
		{name: "cancel pending", from: models.StatusPending, to: models.StatusCancelled, changed: true},
		{name: "cancel preparing", from: models.StatusPreparing, to: models.StatusCancelled, changed: true},
		{name: "same status is a no-op", from: models.StatusAccepted, to: models.StatusAccepted},
		{name: "completed again is a no-op", from: models.StatusCompleted, to: models.StatusCompleted},
		{name: "skip ahead", from: models.StatusPending, to: models.StatusCompleted, wantKind: apperr.KindConflict},
		{name: "backwards", from: models.StatusPreparing, to: models.StatusAccepted, wantKind: apperr.KindConflict},
		{name: "leave completed", from: models.StatusCompleted, to: models.StatusCancelled, wantKind: apperr.KindConflict},
		{name: "leave cancelled", from: models.StatusCancelled, to: models.StatusPending, wantKind: apperr.KindConflict},
		{name: "unknown status", from: models.StatusPending, to: "ready", wantKind: apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &models.Order{OrderStatus: tt.from}
			change, err := Transition(o, tt.to, "staff-1", "", now)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				assert.Equal(t, tt.from, o.OrderStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.changed, change.Changed)
			assert.Equal(t, tt.enqueue, change.EnqueueCompletion)
			assert.Equal(t, tt.to, o.OrderStatus)
		})
	}
}

func TestTransition_StampsTimes(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	o := &models.Order{OrderStatus: models.StatusAccepted}

	_, err := Transition(o, models.StatusPreparing, "chef", "", start)
	require.NoError(t, err)
	require.NotNil(t, o.PreparationTime.Start)
	assert.Equal(t, start, *o.PreparationTime.Start)
	assert.Nil(t, o.PreparationTime.End)
	assert.False(t, o.Status)

	end := start.Add(20 * time.Minute)
	_, err = Transition(o, models.StatusCompleted, "chef", "", end)
	require.NoError(t, err)
	require.NotNil(t, o.PreparationTime.End)
	assert.Equal(t, end, *o.PreparationTime.End)
	assert.True(t, o.Status)
}
