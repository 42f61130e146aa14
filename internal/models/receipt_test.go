package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReceiptStatusIsValid(t *testing.T) {
	assert.True(t, ReceiptStatusSent.IsValid())
	assert.True(t, ReceiptStatusDelivered.IsValid())
	assert.True(t, ReceiptStatusRead.IsValid())
	assert.False(t, ReceiptStatus("").IsValid())
	assert.False(t, ReceiptStatus("seen").IsValid())
}

func TestReceiptStatusCanAdvance(t *testing.T) {
	tests := []struct {
		from ReceiptStatus
		to   ReceiptStatus
		want bool
	}{
		{ReceiptStatusSent, ReceiptStatusDelivered, true},
		{ReceiptStatusSent, ReceiptStatusRead, true},
		{ReceiptStatusDelivered, ReceiptStatusRead, true},

		// Same status is not an advance.
		{ReceiptStatusSent, ReceiptStatusSent, false},
		{ReceiptStatusDelivered, ReceiptStatusDelivered, false},
		{ReceiptStatusRead, ReceiptStatusRead, false},

		// Status never regresses.
		{ReceiptStatusDelivered, ReceiptStatusSent, false},
		{ReceiptStatusRead, ReceiptStatusDelivered, false},
		{ReceiptStatusRead, ReceiptStatusSent, false},

		// Unknown statuses never advance.
		{ReceiptStatus("seen"), ReceiptStatusRead, false},
		{ReceiptStatusSent, ReceiptStatus("seen"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanAdvance(tt.to))
		})
	}
}
