package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"relayd/internal/domain"
)

const exemplarsBucketName = "exemplars"

var ErrStoreClosed = errors.New("exemplar store is closed")

// Store persists accepted workflows as exemplars so later runs can learn
// from them across restarts.
type Store struct {
	mu     sync.RWMutex
	db     *bolt.DB
	path   string
	closed bool
}

type storedExemplar struct {
	ID       string          `json:"id"`
	Tags     []string        `json:"tags"`
	Workflow domain.Workflow `json:"workflow"`
	AddedAt  string          `json:"addedAt"`
}

func OpenStore(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}
	options := &bolt.Options{Timeout: time.Second}
	db, err := bolt.Open(trimmed, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("open exemplar db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(exemplarsBucketName))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure exemplars bucket: %w", err)
	}
	return &Store{db: db, path: trimmed}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Put writes or replaces an exemplar keyed by its id.
func (s *Store) Put(exemplar domain.ExemplarTemplate) error {
	record := storedExemplar{
		ID:       exemplar.ID,
		Tags:     exemplar.Tags,
		Workflow: exemplar.Workflow,
		AddedAt:  exemplar.AddedAt.UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal exemplar %s: %w", exemplar.ID, err)
	}
	return s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(exemplarsBucketName))
		if bucket == nil {
			return fmt.Errorf("missing exemplars bucket")
		}
		return bucket.Put([]byte(exemplar.ID), payload)
	})
}

// List returns every persisted exemplar.
func (s *Store) List() ([]domain.ExemplarTemplate, error) {
	var exemplars []domain.ExemplarTemplate
	err := s.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(exemplarsBucketName))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(key, value []byte) error {
			var record storedExemplar
			if err := json.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("decode exemplar %s: %w", string(key), err)
			}
			addedAt, err := time.Parse(time.RFC3339Nano, record.AddedAt)
			if err != nil {
				addedAt = time.Time{}
			}
			exemplars = append(exemplars, domain.ExemplarTemplate{
				ID:       record.ID,
				Tags:     record.Tags,
				Workflow: record.Workflow,
				AddedAt:  addedAt,
			})
			return nil
		})
	})
	return exemplars, err
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(fn)
}
