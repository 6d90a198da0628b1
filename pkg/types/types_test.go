package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroupCatalog(t *testing.T) {
	req := require.New(t)

	req.Len(Groups(), 10)
	for _, g := range Groups() {
		req.True(IsValidGroup(g), "catalog group %s must validate", g)
	}

	req.True(IsValidGroup("choir"))
	req.True(IsValidGroup("admins"))
	req.False(IsValidGroup(""))
	req.False(IsValidGroup("Choir"))
	req.False(IsValidGroup("choir "))
	req.False(IsValidGroup("lobby"))
}

func TestGroups_SortedAndStable(t *testing.T) {
	req := require.New(t)
	first := Groups()
	second := Groups()
	req.Equal(first, second)
	for i := 1; i < len(first); i++ {
		req.Less(string(first[i-1]), string(first[i]))
	}
}

func TestParseGroup(t *testing.T) {
	req := require.New(t)

	g, err := ParseGroup("anointed")
	req.NoError(err)
	req.Equal(GroupAnointed, g)

	_, err = ParseGroup("unknown")
	req.ErrorIs(err, ErrUnknownGroup)

	req.True(GroupAdmins.IsReserved())
	req.False(GroupChoir.IsReserved())
}

func TestIsValidUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantOk   bool
	}{
		{"alphanumeric", "alice123", true},
		{"underscore", "alice_b", true},
		{"hyphen", "alice-b", true},
		{"dot", "alice.b", true},
		{"50 chars", strings.Repeat("a", 50), true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 51), false},
		{"space", "alice b", false},
		{"at sign", "alice@home", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.wantOk, IsValidUsername(tt.username))
		})
	}
}

func TestChatMessage_Validate(t *testing.T) {
	base := func() ChatMessage {
		return ChatMessage{
			ID:        "m1",
			Sender:    "alice",
			Body:      "hello",
			Group:     GroupChoir,
			Timestamp: time.Now(),
		}
	}

	tests := []struct {
		name     string
		mutate   func(m *ChatMessage)
		wantErr  error
		wantKind string
	}{
		{"plain text defaults kind", func(m *ChatMessage) {}, nil, MessageKindText},
		{"explicit kind kept", func(m *ChatMessage) { m.Kind = "announcement" }, nil, "announcement"},
		{"voice note defaults kind", func(m *ChatMessage) {
			m.Body = ""
			m.VoiceNote = &VoiceNote{URL: "https://cdn.example.org/v/1.ogg", DurationSeconds: 3}
		}, nil, MessageKindVoice},
		{"file defaults kind", func(m *ChatMessage) {
			m.Body = ""
			m.FileAttachment = &FileAttachment{URL: "https://cdn.example.org/f/1.pdf", Name: "order.pdf"}
		}, nil, MessageKindFile},
		{"unknown group", func(m *ChatMessage) { m.Group = "lobby" }, ErrUnknownGroup, ""},
		{"bad sender", func(m *ChatMessage) { m.Sender = "a b" }, ErrInvalidUsername, ""},
		{"kind too long", func(m *ChatMessage) { m.Kind = strings.Repeat("k", 33) }, ErrInvalidKind, ""},
		{"body too long", func(m *ChatMessage) { m.Body = strings.Repeat("x", 101) }, ErrBodyTooLong, ""},
		{"voice note without url", func(m *ChatMessage) { m.VoiceNote = &VoiceNote{} }, ErrInvalidAttachment, ""},
		{"file without name", func(m *ChatMessage) {
			m.FileAttachment = &FileAttachment{URL: "https://cdn.example.org/f/1.pdf"}
		}, ErrInvalidAttachment, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			m := base()
			tt.mutate(&m)
			err := m.Validate(100)
			if tt.wantErr != nil {
				req.ErrorIs(err, tt.wantErr)
				return
			}
			req.NoError(err)
			req.Equal(tt.wantKind, m.Kind)
		})
	}
}

func TestChatMessage_IsEmpty(t *testing.T) {
	req := require.New(t)
	req.True((&ChatMessage{Body: "   "}).IsEmpty())
	req.False((&ChatMessage{Body: "hi"}).IsEmpty())
	req.False((&ChatMessage{FileAttachment: &FileAttachment{URL: "https://x.org/a", Name: "a"}}).IsEmpty())
}

func TestEnvelope_Decode(t *testing.T) {
	req := require.New(t)

	env, err := DecodeEnvelope([]byte(`{"event":"declare-identity","data":{"username":"alice","group":"choir"}}`))
	req.NoError(err)
	req.Equal(EventDeclareIdentity, env.Event)

	var p DeclareIdentityPayload
	req.NoError(env.DecodeData(&p))
	req.Equal("alice", p.Username)
	req.Equal("choir", p.Group)

	env, err = DecodeEnvelope([]byte(`{"event":"typing-start"}`))
	req.NoError(err)
	req.NoError(env.DecodeData(&struct{}{}))

	_, err = DecodeEnvelope([]byte(`not json`))
	req.Error(err)
}

func TestEncode_OutboundEvent(t *testing.T) {
	req := require.New(t)
	raw, err := Encode(NewEvent(EventPresenceSnapshot, []PresenceUser{{Name: "alice", IsOnline: true}}))
	req.NoError(err)
	req.JSONEq(`{"event":"presence-snapshot","data":[{"name":"alice","isOnline":true,"avatar":null}]}`, string(raw))
}
