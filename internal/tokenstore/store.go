// Package tokenstore keeps client credentials by name.
package tokenstore

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Well-known keys.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// Store reads and writes named credentials. Get returns "" for a missing key.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(keys ...string) error
}

// Memory is an in-process Store.
type Memory struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{m: make(map[string]string)}
}

func (s *Memory) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key], nil
}

func (s *Memory) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *Memory) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.m, k)
	}
	return nil
}

var credentialsBucket = []byte("credentials")

// Bolt is a Store backed by a bbolt file. The file is opened per operation
// so several CLI processes can share it.
type Bolt struct {
	path    string
	timeout time.Duration
}

// NewBolt creates a Bolt store at path.
func NewBolt(path string) *Bolt {
	return &Bolt{path: path, timeout: time.Second}
}

// DefaultPath returns the credentials file under the user config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "chat-relay", "credentials.bolt")
}

func (s *Bolt) open() (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, err
	}
	return bolt.Open(s.path, 0o600, &bolt.Options{Timeout: s.timeout})
}

func (s *Bolt) Get(key string) (string, error) {
	db, err := s.open()
	if err != nil {
		return "", err
	}
	defer func() { _ = db.Close() }()

	var out string
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		if b == nil {
			return nil
		}
		out = string(b.Get([]byte(key)))
		return nil
	})
	return out, err
}

func (s *Bolt) Set(key, value string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(credentialsBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *Bolt) Delete(keys ...string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		if b == nil {
			return nil
		}
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}
