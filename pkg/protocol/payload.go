// Package protocol defines the tagged payload format exchanged between
// client and server. Every message on the wire is one JSON object carrying a
// `type` tag; the tag determines which of the optional fields are meaningful,
// everything else is ignored.
package protocol

import (
	"encoding/json"
	"fmt"
)

// DefaultClientID marks a payload whose subject has no assigned id yet,
// or a server-generated message with no originating client.
const DefaultClientID int64 = -1

// Kind is the payload tag.
type Kind string

const (
	KindConnect        Kind = "CONNECT"
	KindMessage        Kind = "MESSAGE"
	KindRoomCreate     Kind = "ROOM_CREATE"
	KindRoomJoin       Kind = "ROOM_JOIN"
	KindRoomList       Kind = "ROOM_LIST"
	KindDisconnect     Kind = "DISCONNECT"
	KindRoll           Kind = "ROLL"
	KindFlip           Kind = "FLIP"
	KindMute           Kind = "MUTE"
	KindUnmute         Kind = "UNMUTE"
	KindMuteStatus     Kind = "MUTE_STATUS"
	KindPrivateMessage Kind = "PRIVATE_MESSAGE"
	KindSyncClient     Kind = "SYNC_CLIENT"
	KindClientID       Kind = "CLIENT_ID"
	KindRoomResults    Kind = "ROOM_RESULTS"
)

// Payload is one discrete protocol message. Decode returns the concrete
// variant for the wire tag; tags without extension fields decode to Base.
type Payload interface {
	Kind() Kind
	// Sender is the client id the payload is about: the author of a chat
	// message, the target of a mute, the syncing client, and so on.
	Sender() int64
	// Text is the free-form message field; its meaning depends on the tag
	// (chat text, room name, mute target name, roll spec).
	Text() string
}

// Base carries the fields shared by every payload.
type Base struct {
	Type     Kind   `json:"type"`
	ClientID int64  `json:"clientId"`
	Message  string `json:"message,omitempty"`
}

func (b Base) Kind() Kind    { return b.Type }
func (b Base) Sender() int64 { return b.ClientID }
func (b Base) Text() string  { return b.Message }

func (b Base) String() string {
	return fmt.Sprintf("Payload[%s] client[%d] message[%s]", b.Type, b.ClientID, b.Message)
}

// Connect extends Base for identity and room-membership events: CONNECT,
// ROOM_JOIN, DISCONNECT, SYNC_CLIENT and CLIENT_ID.
type Connect struct {
	Base
	ClientName string `json:"clientName,omitempty"`
	IsConnect  bool   `json:"connect,omitempty"`
}

// RoomResults extends Base with the result list of a ROOM_LIST request.
type RoomResults struct {
	Base
	Rooms []string `json:"rooms,omitempty"`
}

// Roll extends Base with a structured dice result.
type Roll struct {
	Base
	Count   int   `json:"count,omitempty"`
	Sides   int   `json:"sides,omitempty"`
	Results []int `json:"results,omitempty"`
	Total   int   `json:"total,omitempty"`
}

// Flip extends Base with the outcome of a coin flip.
type Flip struct {
	Base
	Result string `json:"result,omitempty"`
}

// envelope is the superset of all wire fields, used only for decoding.
type envelope struct {
	Type       Kind     `json:"type"`
	ClientID   *int64   `json:"clientId"`
	Message    string   `json:"message"`
	ClientName string   `json:"clientName"`
	IsConnect  bool     `json:"connect"`
	Rooms      []string `json:"rooms"`
	Count      int      `json:"count"`
	Sides      int      `json:"sides"`
	Results    []int    `json:"results"`
	Total      int      `json:"total"`
	Result     string   `json:"result"`
}

// Decode parses one wire message into the payload variant selected by its
// tag. A missing clientId defaults to DefaultClientID. Unknown tags are not
// an error; they decode to Base and the dispatcher ignores them.
func Decode(data []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode payload: missing type tag")
	}

	base := Base{Type: env.Type, ClientID: DefaultClientID, Message: env.Message}
	if env.ClientID != nil {
		base.ClientID = *env.ClientID
	}

	switch env.Type {
	case KindConnect, KindRoomJoin, KindDisconnect, KindSyncClient, KindClientID:
		return Connect{Base: base, ClientName: env.ClientName, IsConnect: env.IsConnect}, nil
	case KindRoomResults:
		return RoomResults{Base: base, Rooms: env.Rooms}, nil
	case KindRoll:
		return Roll{Base: base, Count: env.Count, Sides: env.Sides, Results: env.Results, Total: env.Total}, nil
	case KindFlip:
		return Flip{Base: base, Result: env.Result}, nil
	default:
		return base, nil
	}
}

// Encode serializes a payload for the wire.
func Encode(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
