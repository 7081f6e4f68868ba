package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPending:        {StatusAccepted, StatusCancelled},
		StatusAccepted:       {StatusPreparing, StatusOutForDelivery, StatusCancelled},
		StatusPreparing:      {StatusReadyForPickup, StatusCancelled},
		StatusReadyForPickup: {StatusOutForDelivery, StatusCancelled},
		StatusOutForDelivery: {StatusDelivered, StatusCancelled},
	}

	for _, from := range Statuses {
		for _, to := range Statuses {
			want := false
			for _, st := range allowed[from] {
				if st == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, st := range Statuses {
		terminal := st == StatusDelivered || st == StatusCancelled
		assert.Equal(t, terminal, st.Terminal(), st)
		if !terminal {
			assert.True(t, st.CanTransitionTo(StatusCancelled), "%s must be cancellable", st)
		}
	}
}

func TestParse(t *testing.T) {
	st, ok := ParseStatus("ready_for_pickup")
	assert.True(t, ok)
	assert.Equal(t, StatusReadyForPickup, st)
	_, ok = ParseStatus("shipped")
	assert.False(t, ok)

	pm, ok := ParsePaymentMethod("upi")
	assert.True(t, ok)
	assert.Equal(t, PaymentElectronic, pm)
	_, ok = ParsePaymentMethod("card")
	assert.False(t, ok)
}
