package directory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3O98/pgp-based-communication-app/internal/apperr"
	"github.com/3O98/pgp-based-communication-app/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	t.Cleanup(func() { st.Close() })
	return NewService(st)
}

func TestRegisterAndLookup(t *testing.T) {
	s := newTestService(t)

	user, err := s.Register("alice", []byte("-----BEGIN PGP PUBLIC KEY BLOCK-----"))
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Identity)
	assert.False(t, user.CreatedAt.IsZero())

	got, err := s.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, user.PublicKey, got.PublicKey)
}

func TestRegisterValidatesInput(t *testing.T) {
	s := newTestService(t)

	_, err := s.Register("", []byte("key"))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, err = s.Register("alice", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestRegisterDuplicateFails(t *testing.T) {
	s := newTestService(t)

	_, err := s.Register("alice", []byte("keyA"))
	require.NoError(t, err)

	_, err = s.Register("alice", []byte("keyB"))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeAlreadyExists, apperr.CodeOf(err))
}

func TestLookupMissReturnsNotFound(t *testing.T) {
	s := newTestService(t)

	_, err := s.Lookup("nobody")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestListReturnsRegistrationOrder(t *testing.T) {
	s := newTestService(t)

	for _, identity := range []string{"carol", "alice", "bob"} {
		_, err := s.Register(identity, []byte("key-"+identity))
		require.NoError(t, err)
	}

	users := s.List()
	require.Len(t, users, 3)
	assert.Equal(t, "carol", users[0].Identity)
	assert.Equal(t, "alice", users[1].Identity)
	assert.Equal(t, "bob", users[2].Identity)
}
