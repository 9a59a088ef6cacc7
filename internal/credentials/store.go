// Package credentials implements the check-or-create credential store:
// a flat YAML-backed username-to-password-hash mapping guarded by
// Argon2id, the same hash construction the teacher's user service used
// against a SQL table, adapted here to spec's flat-file persistence.
package credentials

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

// StoreUnavailable wraps a failure to read or write the backing file.
type StoreUnavailable struct {
	Op  string
	Err error
}

func (e *StoreUnavailable) Error() string {
	return fmt.Sprintf("credentials: store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailable) Unwrap() error { return e.Err }

type record struct {
	Hash string `yaml:"hash"`
	Salt string `yaml:"salt"`
}

// fileFormat is the on-disk YAML shape: a flat map from username to its
// password hash and salt.
type fileFormat struct {
	Users map[string]record `yaml:"users"`
}

// Store is the in-memory credential map, flushed to its backing file on
// every new-user insert.
type Store struct {
	mu   sync.RWMutex
	path string
	data map[string]record
}

// Open loads the store from path, creating an empty one if the file does
// not yet exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: make(map[string]record)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, &StoreUnavailable{Op: "open", Err: err}
	}

	var ff fileFormat
	if err := yaml.Unmarshal(raw, &ff); err != nil {
		return nil, &StoreUnavailable{Op: "parse", Err: err}
	}
	if ff.Users != nil {
		s.data = ff.Users
	}
	return s, nil
}

// CheckOrCreate verifies password against a known username, or — if the
// username is unknown — registers it with the supplied password and
// reports true. A durable write happens before a new-user success is
// reported (spec.md §3, "Credential store").
func (s *Store) CheckOrCreate(username, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, known := s.data[username]; known {
		return verify(password, rec), nil
	}

	hash, salt, err := hashPassword(password)
	if err != nil {
		return false, &StoreUnavailable{Op: "hash", Err: err}
	}

	s.data[username] = record{Hash: hash, Salt: salt}
	if err := s.flushLocked(); err != nil {
		delete(s.data, username)
		return false, err
	}
	return true, nil
}

func (s *Store) flushLocked() error {
	ff := fileFormat{Users: s.data}
	out, err := yaml.Marshal(ff)
	if err != nil {
		return &StoreUnavailable{Op: "marshal", Err: err}
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &StoreUnavailable{Op: "mkdir", Err: err}
		}
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return &StoreUnavailable{Op: "create temp", Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return &StoreUnavailable{Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StoreUnavailable{Op: "close", Err: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return &StoreUnavailable{Op: "rename", Err: err}
	}
	return nil
}

func hashPassword(password string) (hashHex, saltHex string, err error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", "", err
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return hex.EncodeToString(hash), hex.EncodeToString(salt), nil
}

func verify(password string, rec record) bool {
	salt, err := hex.DecodeString(rec.Salt)
	if err != nil {
		return false
	}
	hash, err := hex.DecodeString(rec.Hash)
	if err != nil {
		return false
	}

	provided := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return subtle.ConstantTimeCompare(hash, provided) == 1
}
