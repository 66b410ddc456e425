package link

import (
	"encoding/json"
	"fmt"

	"github.com/AirmashQ/airmash-ground-control/game"
)

// Frame types sent by the client
const (
	MsgTypeLogin   = "login"
	MsgTypeKey     = "key"
	MsgTypePoint   = "point"
	MsgTypeChat    = "chat"
	MsgTypeCommand = "command"
	MsgTypePong    = "pong"
)

// Frame types sent by the server
const (
	MsgTypeError        = "error"
	MsgTypePlayerNew    = "player_new"
	MsgTypePlayerLeave  = "player_leave"
	MsgTypePlayerUpdate = "player_update"
	MsgTypeChatPublic   = "chat_public"
	MsgTypePing         = "ping"
	MsgTypePingResult   = "ping_result"
)

// Frame is the envelope of every message on the wire
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a frame of the given type
func NewFrame(msgType string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", msgType, err)
	}
	return Frame{Type: msgType, Data: raw}, nil
}

// Decode unmarshals the frame payload into v
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("decode %s: empty payload", f.Type)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", f.Type, err)
	}
	return nil
}

// Key identifies a control input
type Key string

const (
	KeyUp      Key = "up"
	KeyDown    Key = "down"
	KeyLeft    Key = "left"
	KeyRight   Key = "right"
	KeyFire    Key = "fire"
	KeySpecial Key = "special"
)

// Identity is what a client announces itself as when logging in
type Identity struct {
	Name     string `json:"name"`
	Flag     string `json:"flag"`
	Session  string `json:"session"`
	HorizonX int    `json:"horizonX"`
	HorizonY int    `json:"horizonY"`
	Protocol int    `json:"protocol"`
}

// DefaultIdentity returns the login parameters every ground control client uses
func DefaultIdentity(name string) Identity {
	return Identity{
		Name:     name,
		Flag:     game.DefaultLoginFlag,
		Session:  "none",
		HorizonX: game.LoginHorizon,
		HorizonY: game.LoginHorizon,
		Protocol: game.ProtocolVersion,
	}
}

// KeyData presses or releases a key
type KeyData struct {
	Key   Key  `json:"key"`
	State bool `json:"state"`
}

// PointData turns the aircraft towards a world position
type PointData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ChatData is a public chat line
type ChatData struct {
	Text string `json:"text"`
}

// CommandData is a server-side command such as "spectate"
type CommandData struct {
	Com  string `json:"com"`
	Data string `json:"data"`
}

// LoginResult answers a login request
type LoginResult struct {
	Success bool          `json:"success"`
	ID      uint16        `json:"id"`
	Players []game.Player `json:"players"`
}

// ErrorData is an error reported by the server
type ErrorData struct {
	Text string `json:"text"`
}

// PlayerData announces a player or its new position
type PlayerData struct {
	ID   uint16  `json:"id"`
	Name string  `json:"name,omitempty"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// PlayerLeaveData announces a player leaving the arena
type PlayerLeaveData struct {
	ID uint16 `json:"id"`
}

// ChatPublicData is a chat line relayed by the server
type ChatPublicData struct {
	ID   uint16 `json:"id"`
	Text string `json:"text"`
}

// PingData carries the server clock, echoed back in a pong
type PingData struct {
	Clock int64 `json:"clock"`
}

// PingResultData reports the round trip measured by the server, in milliseconds
type PingResultData struct {
	Ping int `json:"ping"`
}
