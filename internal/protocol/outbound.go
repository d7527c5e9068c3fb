package protocol

import "encoding/json"

// Outbound event names.
const (
	EventRoomHistory     = "room_history"
	EventRoomUsers       = "room_users"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventNewMessage      = "new_message"
	EventVoicePeers      = "voice_peers"
	EventVoiceUserJoined = "voice_user_joined"
	EventVoiceUserLeft   = "voice_user_left"
	EventErrorMessage    = "error_message"
)

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode renders an outbound frame. Payloads are plain data types, so the only
// failure mode is a programming error in the payload itself.
func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}

// ErrorFrame renders an error_message frame for msg.
func ErrorFrame(msg string) []byte {
	b, err := Encode(EventErrorMessage, msg)
	if err != nil {
		return []byte(`{"event":"error_message","data":"internal error"}`)
	}
	return b
}

// MustEncode is Encode for the relay's own payload types, which always
// marshal. It panics otherwise.
func MustEncode(event string, data any) []byte {
	b, err := Encode(event, data)
	if err != nil {
		panic("protocol: encode " + event + ": " + err.Error())
	}
	return b
}
