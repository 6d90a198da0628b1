package types

import (
	"time"
)

// Message kinds understood by clients. Kind is free-form on the wire; these
// are the values the server itself assigns when a client omits it.
const (
	MessageKindText  = "text"
	MessageKindVoice = "voice"
	MessageKindFile  = "file"
)

// VoiceNote references a recorded audio clip uploaded out of band.
type VoiceNote struct {
	URL             string  `json:"url" validate:"required,url"`
	MimeType        string  `json:"mimeType,omitempty" validate:"omitempty,max=100"`
	DurationSeconds float64 `json:"durationSeconds,omitempty" validate:"gte=0"`
}

// FileAttachment references a file uploaded out of band.
type FileAttachment struct {
	URL      string `json:"url" validate:"required,url"`
	Name     string `json:"name" validate:"required,max=255"`
	MimeType string `json:"mimeType,omitempty" validate:"omitempty,max=100"`
	Size     int64  `json:"size,omitempty" validate:"gte=0"`
}

// ChatMessage is the only durable entity of the chat subsystem.
// It is created once by the gateway, appended to the store, then broadcast;
// it is never mutated afterwards.
type ChatMessage struct {
	ID             string          `json:"id"`
	Sender         string          `json:"sender"`
	Body           string          `json:"body,omitempty"`
	Kind           string          `json:"kind"`
	Group          GroupID         `json:"group"`
	Timestamp      time.Time       `json:"timestamp"`
	VoiceNote      *VoiceNote      `json:"voiceNote,omitempty"`
	FileAttachment *FileAttachment `json:"fileAttachment,omitempty"`
}

// HasAttachment reports whether the message carries structured content
// besides its body.
func (m *ChatMessage) HasAttachment() bool {
	return m.VoiceNote != nil || m.FileAttachment != nil
}

// PresenceEntry records that a username is connected and bound to a group.
// Entries are keyed by username: a later registration supersedes an earlier one.
type PresenceEntry struct {
	Username    string    `json:"username"`
	Group       GroupID   `json:"group"`
	SessionID   string    `json:"sessionId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Profile is the display information the identity directory holds for a user.
type Profile struct {
	Username    string  `json:"username"`
	DisplayName string  `json:"displayName"`
	AvatarRef   *string `json:"avatar"`
}

// PresenceUser is one row of a presence snapshot as delivered to clients.
type PresenceUser struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"displayName,omitempty"`
	IsOnline    bool    `json:"isOnline"`
	Avatar      *string `json:"avatar"`
}
