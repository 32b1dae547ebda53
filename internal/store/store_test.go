package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3O98/pgp-based-communication-app/internal/apperr"
	"github.com/3O98/pgp-based-communication-app/internal/models"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.db")
	s := Open(path)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestAppendUserIfAbsentRejectsDuplicate(t *testing.T) {
	s, _ := newTestStore(t)

	first, err := s.AppendUserIfAbsent("alice", []byte("keyA"))
	require.NoError(t, err)
	assert.Equal(t, "alice", first.Identity)

	_, err = s.AppendUserIfAbsent("alice", []byte("keyB"))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeAlreadyExists, apperr.CodeOf(err))

	// The stored key must be unchanged after the losing registration.
	stored, ok := s.GetUser("alice")
	require.True(t, ok)
	assert.Equal(t, []byte("keyA"), []byte(stored.PublicKey))
}

func TestIdentitiesAreCaseSensitive(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.AppendUserIfAbsent("Alice", []byte("keyA"))
	require.NoError(t, err)
	_, err = s.AppendUserIfAbsent("alice", []byte("keyB"))
	require.NoError(t, err)

	assert.Len(t, s.ListUsers(), 2)
}

func TestAppendMessageAssignsIDAndDefaults(t *testing.T) {
	s, _ := newTestStore(t)

	msg := s.AppendMessage(models.Message{
		Sender:     "alice",
		Recipient:  "bob",
		Ciphertext: []byte("ctxt"),
	})

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Equal(t, models.KindText, msg.Kind)

	other := s.AppendMessage(models.Message{Sender: "alice", Recipient: "bob", Ciphertext: []byte("ctxt2")})
	assert.NotEqual(t, msg.ID, other.ID)
	assert.Greater(t, other.Seq, msg.Seq)
}

func TestRangeMessagesOrderingAndSymmetry(t *testing.T) {
	s, _ := newTestStore(t)

	m1 := s.AppendMessage(models.Message{Sender: "alice", Recipient: "bob", Ciphertext: []byte("m1")})
	m2 := s.AppendMessage(models.Message{Sender: "bob", Recipient: "alice", Ciphertext: []byte("m2")})
	m3 := s.AppendMessage(models.Message{Sender: "alice", Recipient: "bob", Ciphertext: []byte("m3")})
	// Unrelated pair must never leak into the conversation.
	s.AppendMessage(models.Message{Sender: "alice", Recipient: "carol", Ciphertext: []byte("other")})

	forward := s.RangeMessages("alice", "bob")
	require.Len(t, forward, 3)
	assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, ids(forward))
	for i := 1; i < len(forward); i++ {
		assert.False(t, forward[i].CreatedAt.Before(forward[i-1].CreatedAt))
	}

	backward := s.RangeMessages("bob", "alice")
	assert.Equal(t, ids(forward), ids(backward))
}

func TestRangeMessagesBreaksTimestampTiesByAppendOrder(t *testing.T) {
	s, _ := newTestStore(t)

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m1 := s.AppendMessage(models.Message{Sender: "a", Recipient: "b", Ciphertext: []byte("1"), CreatedAt: at})
	m2 := s.AppendMessage(models.Message{Sender: "b", Recipient: "a", Ciphertext: []byte("2"), CreatedAt: at})
	m3 := s.AppendMessage(models.Message{Sender: "a", Recipient: "b", Ciphertext: []byte("3"), CreatedAt: at})

	got := s.RangeMessages("a", "b")
	assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, ids(got))
}

func TestReloadReconstructsIdenticalResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")

	s := Open(path)
	_, err := s.AppendUserIfAbsent("alice", []byte("keyA"))
	require.NoError(t, err)
	_, err = s.AppendUserIfAbsent("bob", []byte("keyB"))
	require.NoError(t, err)

	sent := s.AppendMessage(models.Message{
		Sender:         "alice",
		Recipient:      "bob",
		Ciphertext:     []byte("ctxt1"),
		Kind:           "image",
		AttachmentName: "cat.png",
	})
	before := s.RangeMessages("alice", "bob")
	require.NoError(t, s.Close())

	reloaded := Open(path)
	defer reloaded.Close()
	require.NoError(t, reloaded.Ping())

	user, ok := reloaded.GetUser("alice")
	require.True(t, ok)
	assert.Equal(t, []byte("keyA"), []byte(user.PublicKey))
	assert.Len(t, reloaded.ListUsers(), 2)

	after := reloaded.RangeMessages("alice", "bob")
	require.Len(t, after, len(before))
	assert.Equal(t, sent.ID, after[0].ID)
	assert.Equal(t, []byte("ctxt1"), []byte(after[0].Ciphertext))
	assert.Equal(t, "image", after[0].Kind)
	assert.Equal(t, "cat.png", after[0].AttachmentName)

	// New appends continue the sequence instead of reusing it.
	next := reloaded.AppendMessage(models.Message{Sender: "bob", Recipient: "alice", Ciphertext: []byte("ctxt2")})
	assert.Greater(t, next.Seq, sent.Seq)
}

func TestUnopenableMediumDegradesToMemoryOnly(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "missing", "nested", "relay.db"))
	defer s.Close()

	require.Error(t, s.Ping())

	// Accepting writes must keep working; durability is degraded, not the call.
	_, err := s.AppendUserIfAbsent("alice", []byte("keyA"))
	require.NoError(t, err)
	msg := s.AppendMessage(models.Message{Sender: "alice", Recipient: "bob", Ciphertext: []byte("ctxt")})
	assert.NotEmpty(t, msg.ID)

	got := s.RangeMessages("alice", "bob")
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].ID)
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
