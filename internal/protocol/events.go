package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Inbound event names.
const (
	EventJoinRoom          = "join_room"
	EventLeaveRoom         = "leave_room"
	EventTyping            = "typing"
	EventSendMessage       = "send_message"
	EventVoiceJoin         = "voice_join"
	EventVoiceLeave        = "voice_leave"
	EventVoiceOffer        = "voice_offer"
	EventVoiceAnswer       = "voice_answer"
	EventVoiceICECandidate = "voice_ice_candidate"
)

var (
	// ErrUnknownEvent is returned by Decode for event names the relay does not handle.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrInvalidPayload is returned by Decode for malformed or invalid event data.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Envelope is the frame layout used in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a decoded inbound event. The concrete type identifies the operation.
type Event interface {
	EventName() string
}

// RoomRef addresses a chat or voice room as sent by the client.
type RoomRef struct {
	RoomType RoomType `json:"roomType" validate:"required,oneof=game group"`
	RoomKey  string   `json:"roomKey" validate:"required,max=256"`
}

// JoinRoom asks to join a chat room.
type JoinRoom struct {
	RoomRef
}

// LeaveRoom asks to leave a chat room.
type LeaveRoom struct {
	RoomRef
}

// Typing reports the sender's typing state in a chat room.
type Typing struct {
	RoomRef
	IsTyping bool `json:"isTyping"`
}

// SendMessage posts a chat line. Content rules are applied by the chat manager
// since violations are dropped rather than reported.
type SendMessage struct {
	RoomRef
	Content string `json:"content"`
}

// VoiceJoin asks to join a voice room.
type VoiceJoin struct {
	RoomRef
}

// VoiceLeave asks to leave a voice room.
type VoiceLeave struct {
	RoomRef
}

// VoiceOffer is an SDP offer addressed to one user.
type VoiceOffer struct {
	ToUserID string          `json:"toUserId" validate:"required"`
	SDP      json.RawMessage `json:"sdp"`
}

// VoiceAnswer is an SDP answer addressed to one user.
type VoiceAnswer struct {
	ToUserID string          `json:"toUserId" validate:"required"`
	SDP      json.RawMessage `json:"sdp"`
}

// VoiceICECandidate is an ICE candidate addressed to one user.
type VoiceICECandidate struct {
	ToUserID  string          `json:"toUserId" validate:"required"`
	Candidate json.RawMessage `json:"candidate"`
}

func (*JoinRoom) EventName() string          { return EventJoinRoom }
func (*LeaveRoom) EventName() string         { return EventLeaveRoom }
func (*Typing) EventName() string            { return EventTyping }
func (*SendMessage) EventName() string       { return EventSendMessage }
func (*VoiceJoin) EventName() string         { return EventVoiceJoin }
func (*VoiceLeave) EventName() string        { return EventVoiceLeave }
func (*VoiceOffer) EventName() string        { return EventVoiceOffer }
func (*VoiceAnswer) EventName() string       { return EventVoiceAnswer }
func (*VoiceICECandidate) EventName() string { return EventVoiceICECandidate }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func newEvent(name string) (Event, bool) {
	switch name {
	case EventJoinRoom:
		return &JoinRoom{}, true
	case EventLeaveRoom:
		return &LeaveRoom{}, true
	case EventTyping:
		return &Typing{}, true
	case EventSendMessage:
		return &SendMessage{}, true
	case EventVoiceJoin:
		return &VoiceJoin{}, true
	case EventVoiceLeave:
		return &VoiceLeave{}, true
	case EventVoiceOffer:
		return &VoiceOffer{}, true
	case EventVoiceAnswer:
		return &VoiceAnswer{}, true
	case EventVoiceICECandidate:
		return &VoiceICECandidate{}, true
	}
	return nil, false
}

// Decode parses one inbound frame into its concrete Event and validates it.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	ev, ok := newEvent(env.Event)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
		}
	}

	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidPayload, env.Event, describe(err))
	}
	return ev, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "oneof":
			parts = append(parts, fe.Field()+" must be one of ["+fe.Param()+"]")
		case "max":
			parts = append(parts, fe.Field()+" is too long")
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return strings.Join(parts, ", ")
}
