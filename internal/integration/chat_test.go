package integration

import (
	"net/http"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"familychat/internal/api"
	"familychat/internal/gateway"
	"familychat/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func TestDeclareIdentityShowsPresence(t *testing.T) {
	req := require.New(t)
	h := NewHarness(t, gateway.DefaultOptions())

	alice := h.Dial(t)
	bound := alice.Declare("alice", types.GroupChoir)
	req.Equal("alice", bound.User)
	req.Equal(types.GroupChoir, bound.Group)

	alice.ExpectPresence("alice")
}

func TestMessagesStayInsideTheirGroup(t *testing.T) {
	req := require.New(t)
	h := NewHarness(t, gateway.DefaultOptions())

	alice := h.Dial(t)
	alice.Declare("alice", types.GroupChoir)
	bob := h.Dial(t)
	bob.Declare("bob", types.GroupAnointed)
	bob.ExpectPresence("bob")

	alice.Send(types.EventSendMessage, types.SendMessagePayload{Body: "rehearsal at 7", Kind: "text"})

	var msg types.ChatMessage
	req.NoError(alice.Expect(types.EventMessageDelivered).DecodeData(&msg))
	req.Equal("rehearsal at 7", msg.Body)
	req.Equal(types.GroupChoir, msg.Group)

	bob.ExpectNone(types.EventMessageDelivered, 300*time.Millisecond)
}

func TestDisconnectEmptiesPresence(t *testing.T) {
	req := require.New(t)
	h := NewHarness(t, gateway.DefaultOptions())

	bob := h.Dial(t)
	bob.Declare("bob", types.GroupChoir)
	alice := h.Dial(t)
	alice.Declare("alice", types.GroupChoir)
	bob.ExpectPresence("alice", "bob")

	alice.Close()

	var left types.PeerPayload
	req.NoError(bob.Expect(types.EventPeerLeft).DecodeData(&left))
	req.Equal("alice", left.User)
	bob.ExpectPresence("bob")

	bob.Close()
	req.Eventually(func() bool {
		resp, err := http.Get(h.Server.URL + "/api/groups/choir/presence")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body api.PresenceResponse
		if json.NewDecoder(resp.Body).Decode(&body) != nil {
			return false
		}
		return len(body.Users) == 0
	}, waitTimeout, 20*time.Millisecond)
}

func TestStoreFailureOnlyReachesSender(t *testing.T) {
	req := require.New(t)
	h := NewHarness(t, gateway.DefaultOptions())

	alice := h.Dial(t)
	alice.Declare("alice", types.GroupChoir)
	carol := h.Dial(t)
	carol.Declare("carol", types.GroupChoir)
	carol.ExpectPresence("alice", "carol")

	h.Store.SetFailing(true)
	alice.Send(types.EventSendMessage, types.SendMessagePayload{Body: "lost", Kind: "text"})

	var reason types.ReasonPayload
	req.NoError(alice.Expect(types.EventMessageError).DecodeData(&reason))
	req.NotEmpty(reason.Reason)
	carol.ExpectNone(types.EventMessageDelivered, 300*time.Millisecond)

	// The session survives and the next message goes through.
	h.Store.SetFailing(false)
	alice.Send(types.EventSendMessage, types.SendMessagePayload{Body: "found", Kind: "text"})
	var msg types.ChatMessage
	req.NoError(carol.Expect(types.EventMessageDelivered).DecodeData(&msg))
	req.Equal("found", msg.Body)
}

func TestReconnectKeepsOneEntry(t *testing.T) {
	req := require.New(t)
	h := NewHarness(t, gateway.DefaultOptions())

	first := h.Dial(t)
	first.Declare("alice", types.GroupChoir)
	second := h.Dial(t)
	second.Declare("alice", types.GroupYouth)

	req.Equal(1, h.Presence.Count())
	entry, ok := h.Presence.Lookup("alice")
	req.True(ok)
	req.Equal(types.GroupYouth, entry.Group)

	// The first socket coexists; closing it must not remove the live binding.
	first.Close()
	time.Sleep(100 * time.Millisecond)
	entry, ok = h.Presence.Lookup("alice")
	req.True(ok)
	req.Equal(types.GroupYouth, entry.Group)
}

func TestReconnectEvictsWhenConfigured(t *testing.T) {
	req := require.New(t)
	opts := gateway.DefaultOptions()
	opts.EvictSuperseded = true
	h := NewHarness(t, opts)

	first := h.Dial(t)
	first.Declare("alice", types.GroupChoir)
	second := h.Dial(t)
	second.Declare("alice", types.GroupChoir)

	var reason types.ReasonPayload
	req.NoError(first.Expect(types.EventDomainError).DecodeData(&reason))

	select {
	case <-first.done:
	case <-time.After(waitTimeout):
		t.Fatal("superseded connection was not closed")
	}
	req.Equal(1, h.Presence.Count())
}

func TestHistoryReplayAfterBind(t *testing.T) {
	req := require.New(t)
	h := NewHarness(t, gateway.DefaultOptions())

	alice := h.Dial(t)
	alice.Declare("alice", types.GroupPrayer)
	for _, body := range []string{"one", "two", "three"} {
		alice.Send(types.EventSendMessage, types.SendMessagePayload{Body: body, Kind: "text"})
		alice.Expect(types.EventMessageDelivered)
	}

	bob := h.Dial(t)
	bob.Declare("bob", types.GroupPrayer)

	var history types.HistoryPayload
	req.NoError(bob.Expect(types.EventMessageHistory).DecodeData(&history))
	req.Equal(types.GroupPrayer, history.Group)
	req.Len(history.Messages, 3)
	req.Equal("one", history.Messages[0].Body)
	req.Equal("three", history.Messages[2].Body)
}

func TestAvatarsComeFromDirectory(t *testing.T) {
	req := require.New(t)
	h := NewHarness(t, gateway.DefaultOptions())

	avatar := "avatars/alice.png"
	req.NoError(h.DB.UpsertProfile(t.Context(), types.GroupMedia, &types.Profile{
		Username: "alice", DisplayName: "Alice", AvatarRef: &avatar,
	}))

	alice := h.Dial(t)
	alice.Declare("alice", types.GroupMedia)

	deadline := time.After(waitTimeout)
	for {
		var users []types.PresenceUser
		req.NoError(alice.Expect(types.EventPresenceSnapshot).DecodeData(&users))
		if len(users) == 1 && users[0].Avatar != nil {
			req.Equal(avatar, *users[0].Avatar)
			req.Equal("Alice", users[0].DisplayName)
			return
		}
		select {
		case <-deadline:
			t.Fatal("no snapshot with avatar")
		default:
		}
	}
}

func TestTypingIndicatorSkipsSender(t *testing.T) {
	req := require.New(t)
	h := NewHarness(t, gateway.DefaultOptions())

	alice := h.Dial(t)
	alice.Declare("alice", types.GroupUshers)
	bob := h.Dial(t)
	bob.Declare("bob", types.GroupUshers)
	alice.ExpectPresence("alice", "bob")

	alice.Send(types.EventTypingStart, struct{}{})

	var typing types.TypingPayload
	req.NoError(bob.Expect(types.EventTypingIndicator).DecodeData(&typing))
	req.Equal("alice", typing.User)
	req.True(typing.IsTyping)
	alice.ExpectNone(types.EventTypingIndicator, 200*time.Millisecond)
}
