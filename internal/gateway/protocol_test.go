package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/domain/entity"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "valid online intent",
			payload: `{"type":"online","vendorId":"v1","token":"t","lat":40.75,"lon":-73.98}`,
		},
		{
			name:    "valid subscribe",
			payload: `{"type":"subscribe","lat":40.75,"lon":-73.98,"radiusKm":2}`,
		},
		{
			name:    "ping needs nothing else",
			payload: `{"type":"ping"}`,
		},
		{
			name:    "online without vendorId",
			payload: `{"type":"online","lat":40.75,"lon":-73.98}`,
			wantErr: true,
		},
		{
			name:    "offline without vendorId",
			payload: `{"type":"offline"}`,
			wantErr: true,
		},
		{
			name:    "latitude out of range",
			payload: `{"type":"subscribe","lat":91,"lon":0}`,
			wantErr: true,
		},
		{
			name:    "longitude out of range",
			payload: `{"type":"subscribe","lat":0,"lon":-181}`,
			wantErr: true,
		},
		{
			name:    "negative radius",
			payload: `{"type":"subscribe","lat":0,"lon":0,"radiusKm":-1}`,
			wantErr: true,
		},
		{
			name:    "unknown type",
			payload: `{"type":"teleport","vendorId":"v1"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `online v1`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeClientMessage([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, msg.Type)
		})
	}
}

func TestEventMessageRoundTrip(t *testing.T) {
	event := entity.PresenceEvent{
		Kind:      entity.EventMoved,
		VendorID:  "v1",
		Latitude:  40.75,
		Longitude: -73.98,
		Sequence:  7,
	}

	msg := EventToMessage(event)
	assert.Equal(t, TypeTruckMoved, msg.Type)

	back, ok := MessageToEvent(msg)
	require.True(t, ok)
	assert.Equal(t, event, back)
}

func TestEventToMessageOfflineOmitsCoordinates(t *testing.T) {
	msg := EventToMessage(entity.PresenceEvent{
		Kind:     entity.EventOffline,
		VendorID: "v1",
		Sequence: 9,
	})

	assert.Equal(t, TypeTruckOffline, msg.Type)
	assert.Zero(t, msg.Latitude)
	assert.Zero(t, msg.Longitude)
	assert.Equal(t, uint64(9), msg.Sequence)
}

func TestMessageToEventRejectsControlFrames(t *testing.T) {
	for _, typ := range []MessageType{TypeSubscribed, TypePong, TypeError} {
		_, ok := MessageToEvent(ServerMessage{Type: typ})
		assert.False(t, ok, string(typ))
	}
}
