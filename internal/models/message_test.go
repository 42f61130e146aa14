package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{
			name: "valid room message",
			msg:  Message{RoomID: "room-1", SenderID: "user-1", Body: "hello"},
		},
		{
			name: "valid direct message",
			msg:  Message{ReceiverID: "user-2", SenderID: "user-1", Body: "hello"},
		},
		{
			name:    "no target",
			msg:     Message{SenderID: "user-1", Body: "hello"},
			wantErr: true,
		},
		{
			name:    "both targets",
			msg:     Message{RoomID: "room-1", ReceiverID: "user-2", SenderID: "user-1", Body: "hello"},
			wantErr: true,
		},
		{
			name:    "missing sender",
			msg:     Message{RoomID: "room-1", Body: "hello"},
			wantErr: true,
		},
		{
			name:    "empty body",
			msg:     Message{RoomID: "room-1", SenderID: "user-1"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestMessageTargetErrorIsSentinel(t *testing.T) {
	msg := Message{SenderID: "user-1", Body: "hello"}
	assert.ErrorIs(t, msg.Validate(), ErrInvalidTarget)

	msg = Message{RoomID: "room-1", ReceiverID: "user-2", SenderID: "user-1", Body: "hello"}
	assert.ErrorIs(t, msg.Validate(), ErrInvalidTarget)
}

func TestMessageIsDirect(t *testing.T) {
	assert.True(t, (&Message{ReceiverID: "user-2"}).IsDirect())
	assert.False(t, (&Message{RoomID: "room-1"}).IsDirect())
}
