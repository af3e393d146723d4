package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Payload
	}{
		{
			name: "connect carries client name",
			data: `{"type":"CONNECT","clientId":-1,"clientName":"alice","connect":true}`,
			want: Connect{
				Base:       Base{Type: KindConnect, ClientID: -1},
				ClientName: "alice",
				IsConnect:  true,
			},
		},
		{
			name: "message is a base payload",
			data: `{"type":"MESSAGE","clientId":4,"message":"hello"}`,
			want: Base{Type: KindMessage, ClientID: 4, Message: "hello"},
		},
		{
			name: "missing clientId defaults",
			data: `{"type":"MESSAGE","message":"hello"}`,
			want: Base{Type: KindMessage, ClientID: DefaultClientID, Message: "hello"},
		},
		{
			name: "room results keep the room list",
			data: `{"type":"ROOM_RESULTS","clientId":-1,"rooms":["dev","lobby"]}`,
			want: RoomResults{
				Base:  Base{Type: KindRoomResults, ClientID: -1},
				Rooms: []string{"dev", "lobby"},
			},
		},
		{
			name: "roll keeps the structured result",
			data: `{"type":"ROLL","clientId":2,"count":2,"sides":6,"results":[3,5],"total":8}`,
			want: Roll{
				Base:    Base{Type: KindRoll, ClientID: 2},
				Count:   2,
				Sides:   6,
				Results: []int{3, 5},
				Total:   8,
			},
		},
		{
			name: "flip keeps the outcome",
			data: `{"type":"FLIP","clientId":2,"result":"heads"}`,
			want: Flip{
				Base:   Base{Type: KindFlip, ClientID: 2},
				Result: "heads",
			},
		},
		{
			name: "sync client decodes as connect variant",
			data: `{"type":"SYNC_CLIENT","clientId":7,"clientName":"bob","connect":true}`,
			want: Connect{
				Base:       Base{Type: KindSyncClient, ClientID: 7},
				ClientName: "bob",
				IsConnect:  true,
			},
		},
		{
			name: "unknown tag still decodes",
			data: `{"type":"SOMETHING_NEW","clientId":3,"message":"?"}`,
			want: Base{Type: Kind("SOMETHING_NEW"), ClientID: 3, Message: "?"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `{"type":`},
		{name: "missing type tag", data: `{"clientId":1,"message":"hi"}`},
		{name: "empty object", data: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := Connect{
		Base:       Base{Type: KindRoomJoin, ClientID: 12, Message: "dev"},
		ClientName: "carol",
		IsConnect:  true,
	}

	data, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}
