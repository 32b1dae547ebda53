// Package directory is the key directory: it maps identities to the public
// key material clients use to encrypt for each other. Keys are opaque blobs
// (PGP armor in practice) and are never parsed server-side.
package directory

import (
	"github.com/3O98/pgp-based-communication-app/internal/apperr"
	"github.com/3O98/pgp-based-communication-app/internal/models"
	"github.com/3O98/pgp-based-communication-app/internal/store"
)

type Service struct {
	store *store.Store
}

func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// Register stores identity with its public key. Identities are
// case-sensitive and immutable once registered; there is no update or
// delete path.
func (s *Service) Register(identity string, publicKey []byte) (models.User, error) {
	if identity == "" {
		return models.User{}, apperr.InvalidArg("identity is required")
	}
	if len(publicKey) == 0 {
		return models.User{}, apperr.InvalidArg("public key is required")
	}
	return s.store.AppendUserIfAbsent(identity, publicKey)
}

func (s *Service) Lookup(identity string) (models.User, error) {
	if identity == "" {
		return models.User{}, apperr.InvalidArg("identity is required")
	}
	user, ok := s.store.GetUser(identity)
	if !ok {
		return models.User{}, apperr.NotFound("identity not registered")
	}
	return user, nil
}

func (s *Service) List() []models.User {
	return s.store.ListUsers()
}
