package server

import (
	"context"
	"errors"
	"runtime/debug"

	"github.com/Tyrowin/lfgrelay/internal/chat"
	"github.com/Tyrowin/lfgrelay/internal/protocol"
	"github.com/Tyrowin/lfgrelay/internal/voice"
)

// dispatch decodes one inbound frame and routes it to the chat manager or the
// voice relay. Failures are reported to c alone and never end the session.
func (h *Hub) dispatch(c *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic in event handler")
			c.Send(protocol.ErrorFrame("internal error"))
		}
	}()

	ev, err := protocol.Decode(raw)
	if err != nil {
		c.log.Debug().Err(err).Msg("rejected inbound frame")
		c.Send(protocol.ErrorFrame(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.StoreTimeout)
	defer cancel()

	switch e := ev.(type) {
	case *protocol.JoinRoom:
		err = h.chat.Join(ctx, c, e.RoomType, e.RoomKey)
	case *protocol.LeaveRoom:
		h.chat.Leave(c, e.RoomType, e.RoomKey)
	case *protocol.Typing:
		h.chat.Typing(c, e.RoomType, e.RoomKey, e.IsTyping)
	case *protocol.SendMessage:
		err = h.chat.Send(ctx, c, e.RoomType, e.RoomKey, e.Content)
	case *protocol.VoiceJoin:
		err = h.voice.Join(c, e.RoomType, e.RoomKey)
	case *protocol.VoiceLeave:
		h.voice.Leave(c, e.RoomType, e.RoomKey)
	case *protocol.VoiceOffer:
		h.voice.Offer(c, e.ToUserID, e.SDP)
	case *protocol.VoiceAnswer:
		h.voice.Answer(c, e.ToUserID, e.SDP)
	case *protocol.VoiceICECandidate:
		h.voice.Candidate(c, e.ToUserID, e.Candidate)
	}

	if err != nil {
		h.report(c, ev, err)
	}
}

func (h *Hub) report(c *Client, ev protocol.Event, err error) {
	switch {
	case errors.Is(err, chat.ErrPersistence):
		c.log.Error().Err(err).Str("event", ev.EventName()).Msg("storage failure")
		c.Send(protocol.ErrorFrame(failureText(ev)))
	case errors.Is(err, chat.ErrValidation), errors.Is(err, voice.ErrValidation):
		c.Send(protocol.ErrorFrame(ev.EventName() + ": " + err.Error()))
	default:
		c.log.Error().Err(err).Str("event", ev.EventName()).Msg("event failed")
		c.Send(protocol.ErrorFrame("internal error"))
	}
}

func failureText(ev protocol.Event) string {
	switch ev.(type) {
	case *protocol.JoinRoom:
		return "failed to join room"
	case *protocol.SendMessage:
		return "failed to send message"
	default:
		return "failed to handle " + ev.EventName()
	}
}
