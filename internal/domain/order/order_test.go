package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFulfillmentStatusValid(t *testing.T) {
	for _, s := range []FulfillmentStatus{
		FulfillmentPending, FulfillmentOrdered, FulfillmentShipped,
		FulfillmentOutForDelivery, FulfillmentDelivered, FulfillmentCancelled,
	} {
		assert.True(t, s.Valid(), "%s", s)
	}
	assert.False(t, FulfillmentStatus("Returned").Valid())
	assert.False(t, FulfillmentStatus("").Valid())
}

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from, to FulfillmentStatus
		want     bool
	}{
		{FulfillmentPending, FulfillmentOrdered, true},
		{FulfillmentPending, FulfillmentDelivered, true},
		{FulfillmentOrdered, FulfillmentShipped, true},
		{FulfillmentShipped, FulfillmentOutForDelivery, true},
		{FulfillmentOutForDelivery, FulfillmentDelivered, true},

		// No moving backwards.
		{FulfillmentShipped, FulfillmentOrdered, false},
		{FulfillmentDelivered, FulfillmentOutForDelivery, false},
		{FulfillmentOrdered, FulfillmentOrdered, false},

		// Cancellation from any non-terminal state.
		{FulfillmentPending, FulfillmentCancelled, true},
		{FulfillmentOutForDelivery, FulfillmentCancelled, true},

		// Terminal states admit nothing.
		{FulfillmentDelivered, FulfillmentCancelled, false},
		{FulfillmentCancelled, FulfillmentCancelled, false},
		{FulfillmentCancelled, FulfillmentOrdered, false},

		// Unknown statuses never advance.
		{FulfillmentStatus("Returned"), FulfillmentDelivered, false},
		{FulfillmentPending, FulfillmentStatus("Returned"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanAdvance(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, FulfillmentDelivered.Terminal())
	assert.True(t, FulfillmentCancelled.Terminal())
	assert.False(t, FulfillmentPending.Terminal())
	assert.False(t, FulfillmentOutForDelivery.Terminal())
}

func TestConflictError(t *testing.T) {
	err := &ConflictError{OrderID: "o1", From: FulfillmentDelivered, To: FulfillmentCancelled}
	assert.Contains(t, err.Error(), "o1")
	assert.Contains(t, err.Error(), "Delivered")
}
