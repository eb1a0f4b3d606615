// Package blob stores attachment bytes in an embedded Pebble key-value
// store, keyed by attachment id. Values are opaque; metadata lives in
// the data store.
package blob

import (
	"errors"
	"io"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

// ErrNotFound is returned when no blob exists for the given id.
var ErrNotFound = errors.New("blob: not found")

// Store is an attachment byte store backed by Pebble.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the blob store at the given path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "./data/blobs"
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func blobKey(id uuid.UUID) []byte {
	return append([]byte("att/"), id[:]...)
}

// WriteFrom streams up to maxBytes+1 bytes from r into the store under
// the given id and returns the byte count actually written. Reading one
// byte past the cap lets the caller detect truncated-by-transport parts:
// a returned count greater than maxBytes means the part exceeded the cap.
func (s *Store) WriteFrom(id uuid.UUID, r io.Reader, maxBytes int64) (int64, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return 0, err
	}
	if err := s.db.Set(blobKey(id), data, pebble.Sync); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Get returns the stored bytes for the given id.
func (s *Store) Get(id uuid.UUID) ([]byte, error) {
	data, closer, err := s.db.Get(blobKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Delete removes the blob for the given id. Deleting a missing blob is
// not an error.
func (s *Store) Delete(id uuid.UUID) error {
	return s.db.Delete(blobKey(id), pebble.Sync)
}
