package gateway

import (
	"errors"
	"testing"
	"time"

	"chatgateway/internal/models"
	"chatgateway/internal/session"
	"chatgateway/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouterFixture() (*Router, *session.Registry, *store.MessageStore, *fakeEmitter) {
	reg := session.NewRegistry()
	ms := store.NewMessageStore()
	out := &fakeEmitter{}
	return NewRouter(reg, ms, out), reg, ms, out
}

func TestSendDirect_DeliversToExactlyTwoConnections(t *testing.T) {
	r, reg, ms, out := newRouterFixture()
	reg.Bind("c-alice", "alice")
	reg.Bind("c-bob", "bob")
	reg.Bind("c-carol", "carol")

	require.NoError(t, r.SendDirect("c-alice", "c-bob", "Hello Bob!"))

	delivered := out.to("c-bob", EvMsgToClient)
	require.Len(t, delivered, 1)
	d := delivered[0].(DirectMessage)
	assert.Equal(t, "alice", d.Sender)
	assert.Equal(t, "Hello Bob!", d.Message)
	assert.True(t, d.IsPrivate)
	assert.Equal(t, "c-alice", d.FromID)
	assert.Empty(t, d.ToID)
	assert.Empty(t, d.Recipient)

	echoed := out.to("c-alice", EvMsgToClient)
	require.Len(t, echoed, 1)
	e := echoed[0].(DirectMessage)
	assert.Equal(t, "bob", e.Recipient)
	assert.Equal(t, "c-bob", e.ToID)
	assert.Equal(t, d.MessageID, e.MessageID)

	assert.Empty(t, out.to("c-carol", EvMsgToClient))
	assert.Len(t, out.sent, 2)

	alice, bob := ms.GetForUser("alice"), ms.GetForUser("bob")
	require.Len(t, alice, 1)
	require.Len(t, bob, 1)
	assert.Equal(t, d.MessageID, alice[0].ID)
	assert.Equal(t, alice[0], bob[0])
}

func TestSendDirect_Failures(t *testing.T) {
	r, reg, ms, out := newRouterFixture()
	reg.Bind("c-alice", "alice")
	reg.Bind("c-bob", "bob")

	err := r.SendDirect("c-alice", "ghost-id", "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRecipientUnavailable))
	assert.Contains(t, err.Error(), "not found")
	assert.Contains(t, err.Error(), "ghost-id")

	err = r.SendDirect("c-nobody", "c-bob", "hi")
	assert.ErrorIs(t, err, ErrNotRegistered)

	var input *InputError
	err = r.SendDirect("c-alice", "c-bob", "   ")
	assert.ErrorAs(t, err, &input)
	err = r.SendDirect("c-alice", "c-alice", "me")
	assert.ErrorAs(t, err, &input)

	assert.Equal(t, 0, ms.Stats().TotalMessages)
	assert.Empty(t, out.sent)
}

func TestSendDirect_RecipientDisconnected(t *testing.T) {
	r, reg, ms, _ := newRouterFixture()
	reg.Bind("c-alice", "alice")
	reg.Bind("c-bob", "bob")
	reg.Unbind("c-bob")

	err := r.SendDirect("c-alice", "c-bob", "still there?")
	assert.ErrorIs(t, err, ErrRecipientUnavailable)
	assert.Empty(t, ms.GetForUser("alice"))
}

func TestSendBroadcast(t *testing.T) {
	r, reg, ms, out := newRouterFixture()
	reg.Bind("c-alice", "alice")
	reg.Bind("c-bob", "bob")

	require.NoError(t, r.SendBroadcast("c-alice", "hi all"))
	for _, conn := range []string{"c-alice", "c-bob"} {
		got := out.to(conn, EvMsgToClient)
		require.Len(t, got, 1, conn)
		assert.Equal(t, BroadcastMessage{Sender: "alice", Message: "hi all"}, got[0])
	}
	assert.Equal(t, 0, ms.Stats().TotalMessages, "broadcasts are not persisted")

	assert.ErrorIs(t, r.SendBroadcast("c-unbound", "hi"), ErrNotRegistered)
}

func TestReplayBacklog(t *testing.T) {
	r, _, ms, out := newRouterFixture()

	assert.False(t, r.ReplayBacklog("c-x", "alice"))
	assert.Empty(t, out.sent, "empty log emits nothing")

	ms.Save("alice", "bob", "one", true)
	ms.Save("bob", "alice", "two", true)
	ms.Save("carol", "alice", "three", true)
	ms.Save("bob", "carol", "not mine", true)

	require.True(t, r.ReplayBacklog("c-x", "alice"))
	got := out.to("c-x", EvPersistedMessages)
	require.Len(t, got, 1)
	b := got[0].(Backlog)
	assert.Equal(t, 3, b.TotalMessages)
	require.Len(t, b.Conversations["bob"], 2)
	assert.Equal(t, "one", b.Conversations["bob"][0].Body)
	assert.Equal(t, "two", b.Conversations["bob"][1].Body)
	assert.Len(t, b.Conversations["carol"], 1)
}

func TestGroupByPartner_SortsByCreatedAt(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	msgs := []models.StoredMessage{
		{ID: "3", Sender: "alice", Recipient: "bob", CreatedAt: base.Add(2 * time.Second)},
		{ID: "1", Sender: "bob", Recipient: "alice", CreatedAt: base},
		{ID: "2a", Sender: "alice", Recipient: "bob", CreatedAt: base.Add(time.Second)},
		{ID: "2b", Sender: "bob", Recipient: "alice", CreatedAt: base.Add(time.Second)},
		{ID: "9", Sender: "dave", Recipient: "alice", CreatedAt: base},
	}
	got := GroupByPartner("ALICE", msgs)
	require.Len(t, got, 2)
	var ids []string
	for _, m := range got["bob"] {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"1", "2a", "2b", "3"}, ids)
	assert.Len(t, got["dave"], 1)
}

func TestGroupByPartner_CaseInsensitivePartner(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	msgs := []models.StoredMessage{
		{ID: "1", Sender: "Bob", Recipient: "alice", CreatedAt: base},
		{ID: "2", Sender: "alice", Recipient: "bob", CreatedAt: base.Add(time.Second)},
		{ID: "3", Sender: "BOB", Recipient: "Alice", CreatedAt: base.Add(2 * time.Second)},
	}
	got := GroupByPartner("alice", msgs)
	require.Len(t, got, 1)
	require.Len(t, got["Bob"], 3)
	assert.Equal(t, "3", got["Bob"][2].ID)
}

func TestReplayBacklog_MixedCasePartnerIsOneConversation(t *testing.T) {
	r, reg, ms, out := newRouterFixture()
	reg.Bind("c-alice", "alice")
	ms.Save("Bob", "alice", "first", true)
	ms.Save("bob", "alice", "second", true)

	require.True(t, r.ReplayBacklog("c-alice", "alice"))
	got := out.to("c-alice", EvPersistedMessages)
	require.Len(t, got, 1)
	b := got[0].(Backlog)
	assert.Equal(t, 2, b.TotalMessages)
	require.Len(t, b.Conversations, 1)
	assert.Len(t, b.Conversations["Bob"], 2)
	assert.Len(t, ms.GetConversation("alice", "BOB"), 2)
}

func TestConversationAndMarkAsRead(t *testing.T) {
	r, reg, ms, _ := newRouterFixture()
	reg.Bind("c-alice", "alice")
	m1 := ms.Save("alice", "bob", "one", true)
	ms.Save("bob", "alice", "two", true)
	ms.Save("alice", "carol", "other", true)

	conv, err := r.Conversation("c-alice", "BOB")
	require.NoError(t, err)
	assert.Len(t, conv, 2)

	_, err = r.Conversation("c-alice", " ")
	var input *InputError
	assert.ErrorAs(t, err, &input)
	_, err = r.Conversation("c-nobody", "bob")
	assert.ErrorIs(t, err, ErrNotRegistered)

	n, err := r.MarkAsRead("c-alice", []string{m1.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = r.MarkAsRead("c-nobody", []string{m1.ID})
	assert.ErrorIs(t, err, ErrNotRegistered)
}
