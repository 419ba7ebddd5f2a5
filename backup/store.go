// Package backup holds entries the front-end saves while a submission cannot reach the site,
// e.g. the "add-post-backup" draft. It is separate from the response cache.
package backup

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

var ErrNotFound = errors.New("backup: not found")

type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	// Delete removes the entry; deleting a missing key is not an error.
	Delete(key string) error
	Close() error
}

type MemStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{m: map[string][]byte{}}
}

func (s *MemStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *MemStore) Close() error { return nil }

const keyPrefix = "b:"

type LevelDBStore struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Get(key string) ([]byte, error) {
	v, err := s.db.Get([]byte(keyPrefix+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *LevelDBStore) Put(key string, value []byte) error {
	return s.db.Put([]byte(keyPrefix+key), value, nil)
}

func (s *LevelDBStore) Delete(key string) error {
	return s.db.Delete([]byte(keyPrefix+key), nil)
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
