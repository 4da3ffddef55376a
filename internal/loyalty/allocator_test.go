package loyalty

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/models"
)

func sum(awards []models.LoyaltyAward) int64 {
	var total int64
	for _, a := range awards {
		total += a.Points
	}
	return total
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name   string
		points int64
		guests []string
		want   []int64
	}{
		{name: "remainder to first sorted", points: 100, guests: []string{"c", "a", "b"}, want: []int64{34, 33, 33}},
		{name: "even", points: 90, guests: []string{"a", "b", "c"}, want: []int64{30, 30, 30}},
		{name: "fewer points than guests", points: 2, guests: []string{"a", "b", "c"}, want: []int64{1, 1, 0}},
		{name: "duplicates collapse", points: 10, guests: []string{"a", "a", "b"}, want: []int64{5, 5}},
		{name: "no guests", points: 10, guests: nil, want: nil},
		{name: "no points", points: 0, guests: []string{"a"}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			awards := Split(tt.points, tt.guests)
			require.Len(t, awards, len(tt.want))
			for i, w := range tt.want {
				assert.Equal(t, w, awards[i].Points)
			}
			if len(tt.want) > 0 {
				assert.Equal(t, tt.points, sum(awards))
			}
		})
	}

	awards := Split(100, []string{"c", "a", "b"})
	assert.Equal(t, "a", awards[0].UserID)
}

func TestSplit_Conserves(t *testing.T) {
	guests := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	for points := int64(1); points < 500; points += 13 {
		for n := 1; n <= len(guests); n++ {
			assert.Equal(t, points, sum(Split(points, guests[:n])))
		}
	}
}

type mockCreditor struct {
	mock.Mock
}

func (m *mockCreditor) Credit(ctx context.Context, orderID string, awards []models.LoyaltyAward) error {
	return m.Called(ctx, orderID, awards).Error(0)
}

func TestAllocator_Allocate(t *testing.T) {
	ctx := context.Background()

	t.Run("single payment is skipped", func(t *testing.T) {
		c := new(mockCreditor)
		awards, err := NewAllocator(c).Allocate(ctx, &models.Order{ID: "o1", PaymentType: models.PaymentSingle, Guests: []string{"a"}, Price: models.Price{Points: 10}})
		require.NoError(t, err)
		assert.Nil(t, awards)
		c.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("split credits every guest", func(t *testing.T) {
		c := new(mockCreditor)
		c.On("Credit", ctx, "o2", mock.MatchedBy(func(a []models.LoyaltyAward) bool { return sum(a) == 100 && len(a) == 3 })).Return(nil)

		o := &models.Order{ID: "o2", PaymentType: models.PaymentSplit, Guests: []string{"a", "b", "c"}, Price: models.Price{Points: 100}}
		awards, err := NewAllocator(c).Allocate(ctx, o)
		require.NoError(t, err)
		assert.Len(t, awards, 3)
		c.AssertExpectations(t)
	})

	t.Run("repeat is a no-op", func(t *testing.T) {
		c := new(mockCreditor)
		c.On("Credit", ctx, "o3", mock.Anything).Return(apperr.ErrAlreadyApplied)

		o := &models.Order{ID: "o3", PaymentType: models.PaymentSplit, Guests: []string{"a"}, Price: models.Price{Points: 5}}
		awards, err := NewAllocator(c).Allocate(ctx, o)
		require.NoError(t, err)
		assert.Nil(t, awards)
	})
}
