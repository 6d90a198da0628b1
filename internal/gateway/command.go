package gateway

import (
	"fmt"

	"familychat/pkg/types"
)

// Command is a decoded inbound client event.
type Command interface {
	Event() string
}

type DeclareIdentity struct {
	Username string
	Group    string
}

type SendMessage struct {
	Body           string
	Kind           string
	Group          string
	VoiceNote      *types.VoiceNote
	FileAttachment *types.FileAttachment
}

type TypingStart struct{}

type TypingStop struct{}

func (DeclareIdentity) Event() string { return types.EventDeclareIdentity }
func (SendMessage) Event() string     { return types.EventSendMessage }
func (TypingStart) Event() string     { return types.EventTypingStart }
func (TypingStop) Event() string      { return types.EventTypingStop }

// ParseCommand decodes one client frame into a command.
func ParseCommand(raw []byte) (Command, error) {
	env, err := types.DecodeEnvelope(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Event {
	case types.EventDeclareIdentity:
		var payload types.DeclareIdentityPayload
		if err := env.DecodeData(&payload); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Event, err)
		}
		return DeclareIdentity{Username: payload.Username, Group: payload.Group}, nil

	case types.EventSendMessage:
		var payload types.SendMessagePayload
		if err := env.DecodeData(&payload); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Event, err)
		}
		return SendMessage{
			Body:           payload.Body,
			Kind:           payload.Kind,
			Group:          payload.Group,
			VoiceNote:      payload.VoiceNote,
			FileAttachment: payload.FileAttachment,
		}, nil

	case types.EventTypingStart:
		return TypingStart{}, nil

	case types.EventTypingStop:
		return TypingStop{}, nil

	case "":
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedEvent)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}
