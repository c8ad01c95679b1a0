// Package pairing persists the paired-peer identity and runs the one-time
// PIN-authenticated key establishment.
package pairing

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/dmitrijs2005/yank/internal/common"
	"github.com/dmitrijs2005/yank/internal/cryptox"
	"github.com/dmitrijs2005/yank/internal/filex"
)

const pairingFileName = "pairing.json"

// Record is the single persisted pairing. Its absence means "unpaired".
type Record struct {
	DeviceID        string    `json:"device_id"`
	PeerDeviceID    string    `json:"peer_device_id"`
	PeerName        string    `json:"peer_name"`
	SharedSecretB64 string    `json:"shared_secret_b64"`
	CreatedAt       time.Time `json:"created_at"`
	LastSeen        time.Time `json:"last_seen,omitempty"`
}

// SharedSecret decodes the 32-byte secret established during pairing.
func (r *Record) SharedSecret() ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(r.SharedSecretB64)
	if err != nil {
		return nil, fmt.Errorf("decode shared secret: %w", err)
	}
	if len(secret) != cryptox.KeySize {
		return nil, fmt.Errorf("shared secret is %d bytes, want %d", len(secret), cryptox.KeySize)
	}
	return secret, nil
}

// SetSharedSecret stores the secret base64-encoded.
func (r *Record) SetSharedSecret(secret []byte) {
	r.SharedSecretB64 = base64.StdEncoding.EncodeToString(secret)
}

// Store reads and writes the pairing file. Writes are serialized through an
// advisory file lock so the CLI and a running agent never race.
type Store struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewStore opens the store at ~/.yank/pairing.json.
func NewStore() (*Store, error) {
	dir, err := filex.ConfigDir()
	if err != nil {
		return nil, err
	}
	return NewStoreAt(filepath.Join(dir, pairingFileName)), nil
}

// NewStoreAt opens a store at an explicit path. Used by tests.
func NewStoreAt(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Load returns the current pairing record, or common.ErrNotPaired when none
// exists.
func (s *Store) Load() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, common.ErrNotPaired
	}
	if err != nil {
		return nil, fmt.Errorf("read pairing file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse pairing file: %w", err)
	}
	return &rec, nil
}

// Save writes the record with 0600 permissions under the file lock.
func (s *Store) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock pairing file: %w", err)
	}
	defer s.lock.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pairing record: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write pairing file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace pairing file: %w", err)
	}
	return nil
}

// Delete erases the pairing. Deleting an absent record is not an error.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock pairing file: %w", err)
	}
	defer s.lock.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pairing file: %w", err)
	}
	return nil
}

// TouchLastSeen records a successful handshake with the peer.
func (s *Store) TouchLastSeen() error {
	rec, err := s.Load()
	if err != nil {
		return err
	}
	rec.LastSeen = time.Now().UTC()
	return s.Save(rec)
}
