package order

import (
	"time"

	"github.com/google/uuid"
)

const numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewOrderNumber returns a human-shareable number such as
// ORD_20260501_K7QX2M. Uniqueness is enforced by storage; callers retry on
// collision.
func NewOrderNumber(now time.Time) string {
	id := uuid.New()
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = numberAlphabet[int(id[i])%len(numberAlphabet)]
	}
	return "ORD_" + now.UTC().Format("20060102") + "_" + string(suffix)
}
