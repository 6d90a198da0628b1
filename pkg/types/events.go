package types

import (
	jsoniter "github.com/json-iterator/go"
)

// json is the wire codec used for all client-facing envelopes.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Inbound event names.
const (
	EventDeclareIdentity = "declare-identity"
	EventSendMessage     = "send-message"
	EventTypingStart     = "typing-start"
	EventTypingStop      = "typing-stop"
)

// Outbound event names.
const (
	EventPresenceSnapshot = "presence-snapshot"
	EventMessageDelivered = "message-delivered"
	EventMessageError     = "message-error"
	EventPeerJoined       = "peer-joined"
	EventPeerLeft         = "peer-left"
	EventTypingIndicator  = "typing-indicator"
	EventDomainError      = "domain-error"
	EventIdentityBound    = "identity-bound"
	EventMessageHistory   = "message-history"
)

// Envelope is the frame exchanged with clients in both directions.
type Envelope struct {
	Event string              `json:"event"`
	Data  jsoniter.RawMessage `json:"data,omitempty"`
}

// OutboundEvent is an envelope whose payload has not been encoded yet.
type OutboundEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// NewEvent builds an outbound event.
func NewEvent(name string, data interface{}) OutboundEvent {
	return OutboundEvent{Event: name, Data: data}
}

// DecodeEnvelope parses a raw client frame.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}

// DecodeData parses an envelope payload into v. An absent payload leaves v untouched.
func (e Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Encode marshals any outbound value with the wire codec.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Payloads.

type DeclareIdentityPayload struct {
	Username string `json:"username"`
	Group    string `json:"group"`
}

type SendMessagePayload struct {
	Body           string          `json:"body,omitempty"`
	Kind           string          `json:"kind"`
	Group          string          `json:"group,omitempty"`
	VoiceNote      *VoiceNote      `json:"voiceNote,omitempty"`
	FileAttachment *FileAttachment `json:"fileAttachment,omitempty"`
}

type ReasonPayload struct {
	Reason string `json:"reason"`
}

type PeerPayload struct {
	User string `json:"user"`
}

type TypingPayload struct {
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

type IdentityBoundPayload struct {
	User      string  `json:"user"`
	Group     GroupID `json:"group"`
	SessionID string  `json:"sessionId"`
}

type HistoryPayload struct {
	Group    GroupID        `json:"group"`
	Messages []*ChatMessage `json:"messages"`
}
