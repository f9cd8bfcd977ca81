// Package store persists the bearer token and recordings waiting to be
// uploaded in a local badger database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thakursameershetty/music-tutor-app/internal/capture"
	"github.com/thakursameershetty/music-tutor-app/internal/playback"
)

// ErrNotFound is returned for unknown pending recordings.
var ErrNotFound = errors.New("store: not found")

var tokenKey = []byte("token")

const pendingPrefix = "pending/"

// Store wraps the database.
type Store struct {
	db *badger.DB
	lg *zap.SugaredLogger
}

// badgerLogger adapts zap to badger's logger interface.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

// Open opens the database in dir. An empty dir keeps everything in memory.
func Open(dir string, lg *zap.SugaredLogger) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{lg.Named("badger")}).
		WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", dir, err)
	}
	return &Store{db: db, lg: lg}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Token returns the saved bearer token, or "" if there is none.
func (s *Store) Token() string {
	var tok []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tokenKey)
		if err != nil {
			return err
		}
		tok, err = item.ValueCopy(nil)
		return err
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		s.lg.Errorw("read token", "error", err)
	}
	return string(tok)
}

// SetToken saves the bearer token.
func (s *Store) SetToken(tok string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tokenKey, []byte(tok))
	})
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Invalidate forgets the bearer token.
func (s *Store) Invalidate() {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(tokenKey)
	})
	if err != nil {
		s.lg.Errorw("clear token", "error", err)
		return
	}
	s.lg.Infow("token cleared")
}

// Pending describes a finalized recording kept for a later upload.
type Pending struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Name      string    `json:"name,omitempty"`
	MimeType  string    `json:"mime_type"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	LastError string    `json:"last_error,omitempty"`
}

func metaKey(id uuid.UUID) []byte { return []byte(pendingPrefix + id.String() + "/meta") }
func dataKey(id uuid.UUID) []byte { return []byte(pendingPrefix + id.String() + "/data") }

// SavePending stores b under a new id. cause, if set, is recorded as the
// reason the upload did not go through.
func (s *Store) SavePending(r playback.Role, b *capture.Blob, cause error) (Pending, error) {
	p := Pending{
		ID:        uuid.New(),
		Role:      r.String(),
		Name:      b.Name(),
		MimeType:  b.MimeType(),
		Size:      b.Size(),
		CreatedAt: b.CreatedAt(),
	}
	if cause != nil {
		p.LastError = cause.Error()
	}
	meta, err := json.Marshal(p)
	if err != nil {
		return Pending{}, fmt.Errorf("encode pending: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(p.ID), b.Bytes()); err != nil {
			return err
		}
		return txn.Set(metaKey(p.ID), meta)
	})
	if err != nil {
		return Pending{}, fmt.Errorf("save pending: %w", err)
	}
	s.lg.Infow("recording kept for retry", "id", p.ID, "role", p.Role, "bytes", p.Size)
	return p, nil
}

// LoadPending returns the metadata and blob for id.
func (s *Store) LoadPending(id uuid.UUID) (Pending, *capture.Blob, error) {
	var (
		p    Pending
		data []byte
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if err != nil {
			return err
		}
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &p) }); err != nil {
			return err
		}
		item, err = txn.Get(dataKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Pending{}, nil, fmt.Errorf("pending %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Pending{}, nil, fmt.Errorf("load pending %s: %w", id, err)
	}
	return p, capture.RestoreBlob(p.Name, p.MimeType, data, p.CreatedAt), nil
}

// ListPending returns every pending recording, oldest first.
func (s *Store) ListPending() ([]Pending, error) {
	var out []Pending
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(pendingPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if !strings.HasSuffix(string(item.Key()), "/meta") {
				continue
			}
			var p Pending
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &p) }); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	slices.SortStableFunc(out, func(a, b Pending) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// DeletePending removes id. Deleting an unknown id is not an error.
func (s *Store) DeletePending(id uuid.UUID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(metaKey(id)); err != nil {
			return err
		}
		return txn.Delete(dataKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete pending %s: %w", id, err)
	}
	return nil
}
