// Package store owns message and user persistence. The in-memory working
// set is authoritative for the running process; SQLite is the durable
// medium behind it. Writes land in memory first and are flushed to disk
// best-effort, so readers always observe the latest accepted state even
// while a flush is pending or the medium is unavailable.
package store

import (
	"database/sql"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/3O98/pgp-based-communication-app/internal/apperr"
	"github.com/3O98/pgp-based-communication-app/internal/models"

	_ "modernc.org/sqlite"
)

const currentSchemaVersion = 1

type Store struct {
	mu sync.RWMutex

	// db is nil when the store runs memory-only (degraded mode).
	db *sql.DB

	users     map[string]models.User
	userOrder []string
	messages  []models.Message
	nextSeq   int64

	flushMu      sync.Mutex
	lastFlushErr error
}

// Open opens the durable medium at path and loads the full working set
// before the store accepts any request. A medium that cannot be opened or
// loaded degrades the store to memory-only instead of aborting startup:
// availability wins over durability for this relay.
func Open(path string) *Store {
	s := &Store{
		users:   make(map[string]models.User),
		nextSeq: 1,
	}

	db, err := openDatabase(path)
	if err != nil {
		slog.Error("Durable medium unavailable, running memory-only", "path", path, "error", err)
		return s
	}

	if err := s.loadLocked(db); err != nil {
		slog.Error("Failed to load persisted state, running memory-only", "path", path, "error", err)
		db.Close()
		return s
	}

	s.db = db
	return s
}

func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(4) // SQLite is single-writer; more connections waste FDs and increase lock contention
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return errors.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if version < 1 {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := createTablesInTx(tx); err != nil {
			return err
		}
		if _, err := tx.Exec("PRAGMA user_version = 1"); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

func createTablesInTx(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			identity TEXT PRIMARY KEY,
			public_key BLOB NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL UNIQUE,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			ciphertext BLOB NOT NULL,
			kind TEXT NOT NULL DEFAULT 'text',
			attachment_name TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_sender_recipient ON messages(sender, recipient);
	`)
	return err
}

// loadLocked reads every persisted row into the working set. A row that
// fails to scan is reported and skipped; query results after a restart must
// otherwise match pre-restart results exactly, so messages reload in seq
// order and users in registration order.
func (s *Store) loadLocked(db *sql.DB) error {
	userRows, err := db.Query("SELECT identity, public_key, created_at FROM users ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return errors.Wrap(err, "store.load.users")
	}
	defer userRows.Close()

	for userRows.Next() {
		var u models.User
		var key []byte
		if err := userRows.Scan(&u.Identity, &key, &u.CreatedAt); err != nil {
			slog.Warn("Skipping malformed user row", "error", err)
			continue
		}
		u.PublicKey = key
		s.users[u.Identity] = u
		s.userOrder = append(s.userOrder, u.Identity)
	}
	if err := userRows.Err(); err != nil {
		return errors.Wrap(err, "store.load.users")
	}

	msgRows, err := db.Query(
		"SELECT id, seq, sender, recipient, ciphertext, kind, attachment_name, created_at FROM messages ORDER BY seq ASC",
	)
	if err != nil {
		return errors.Wrap(err, "store.load.messages")
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var m models.Message
		var ciphertext []byte
		if err := msgRows.Scan(&m.ID, &m.Seq, &m.Sender, &m.Recipient, &ciphertext, &m.Kind, &m.AttachmentName, &m.CreatedAt); err != nil {
			slog.Warn("Skipping malformed message row", "error", err)
			continue
		}
		m.Ciphertext = ciphertext
		s.messages = append(s.messages, m)
		if m.Seq >= s.nextSeq {
			s.nextSeq = m.Seq + 1
		}
	}
	if err := msgRows.Err(); err != nil {
		return errors.Wrap(err, "store.load.messages")
	}

	return nil
}

// AppendMessage commits msg to the working set, assigning id, created_at
// and sequence when absent, then flushes it best-effort. The in-memory
// commit defines acceptance: a failed flush degrades durability, never the
// call itself.
func (s *Store) AppendMessage(msg models.Message) models.Message {
	s.mu.Lock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Kind == "" {
		msg.Kind = models.KindText
	}
	msg.Seq = s.nextSeq
	s.nextSeq++
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.flushMessage(msg)
	return msg
}

func (s *Store) flushMessage(msg models.Message) {
	if s.db == nil {
		s.recordFlushErr(errors.New("durable medium unavailable"))
		return
	}

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO messages (id, seq, sender, recipient, ciphertext, kind, attachment_name, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		msg.ID, msg.Seq, msg.Sender, msg.Recipient, []byte(msg.Ciphertext), msg.Kind, msg.AttachmentName, msg.CreatedAt,
	)
	if err != nil {
		s.recordFlushErr(errors.Wrap(err, "store.flushMessage"))
		slog.Warn("Message not flushed to durable medium, serving from memory", "message_id", msg.ID, "error", err)
		return
	}
	s.recordFlushErr(nil)
}

// AppendUserIfAbsent atomically registers identity with publicKey. Two
// concurrent registrations for the same identity cannot both succeed; the
// loser gets ALREADY_EXISTS and the stored key is unchanged.
func (s *Store) AppendUserIfAbsent(identity string, publicKey []byte) (models.User, error) {
	s.mu.Lock()
	if _, exists := s.users[identity]; exists {
		s.mu.Unlock()
		return models.User{}, apperr.AlreadyExists("identity already registered")
	}
	user := models.User{
		Identity:  identity,
		PublicKey: publicKey,
		CreatedAt: time.Now().UTC(),
	}
	s.users[identity] = user
	s.userOrder = append(s.userOrder, identity)
	s.mu.Unlock()

	s.flushUser(user)
	return user, nil
}

func (s *Store) flushUser(user models.User) {
	if s.db == nil {
		s.recordFlushErr(errors.New("durable medium unavailable"))
		return
	}

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO users (identity, public_key, created_at) VALUES (?, ?, ?)",
		user.Identity, []byte(user.PublicKey), user.CreatedAt,
	)
	if err != nil {
		s.recordFlushErr(errors.Wrap(err, "store.flushUser"))
		slog.Warn("User not flushed to durable medium, serving from memory", "identity", user.Identity, "error", err)
		return
	}
	s.recordFlushErr(nil)
}

func (s *Store) recordFlushErr(err error) {
	s.flushMu.Lock()
	s.lastFlushErr = err
	s.flushMu.Unlock()
}

func (s *Store) GetUser(identity string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[identity]
	return user, ok
}

// ListUsers returns all registered users in registration order.
func (s *Store) ListUsers() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.userOrder))
	for _, identity := range s.userOrder {
		users = append(users, s.users[identity])
	}
	return users
}

// RangeMessages returns the full conversation between a and b in either
// direction, sorted by created_at ascending with ties broken by append
// order. Served from memory only, so a query racing a just-accepted
// message always observes it.
func (s *Store) RangeMessages(a, b string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, m := range s.messages {
		if (m.Sender == a && m.Recipient == b) || (m.Sender == b && m.Recipient == a) {
			out = append(out, m)
		}
	}

	// The slice is already in seq order; a stable sort on created_at keeps
	// that order for equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Ping reports the health of the durable medium. The store keeps serving
// from memory when this fails; operators should still know durability is
// degraded.
func (s *Store) Ping() error {
	if s.db == nil {
		return errors.New("durable medium unavailable, store is memory-only")
	}
	if err := s.db.Ping(); err != nil {
		return err
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if s.lastFlushErr != nil {
		return errors.Wrap(s.lastFlushErr, "last flush failed")
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
