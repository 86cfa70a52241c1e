package offset

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const (
	bucketName = "cursors"

	// offset (8 bytes) + generation (8 bytes), big endian
	cursorValueLen = 16
	// values written before generations existed carry the offset only
	legacyValueLen = 8
)

// BoltDBStore implements Store using BoltDB
type BoltDBStore struct {
	db *bbolt.DB
}

// NewBoltDBStore creates a new BoltDB cursor store
func NewBoltDBStore(dbPath string) (*BoltDBStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// A lock timeout means another task instance holds the file;
		// one instance per watched resource is the deployment rule.
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Info().
		Str("db_path", dbPath).
		Msg("BoltDB cursor store initialized")

	return &BoltDBStore{db: db}, nil
}

// Get retrieves the committed cursor for a resource
func (s *BoltDBStore) Get(ctx context.Context, resource string) (domain.Cursor, bool, error) {
	cursor := domain.Cursor{Resource: resource}
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := b.Get([]byte(resource))
		if val == nil {
			return nil
		}

		decoded, err := decodeCursor(resource, val)
		if err != nil {
			return err
		}
		cursor = decoded
		found = true
		return nil
	})
	if err != nil {
		return domain.Cursor{}, false, fmt.Errorf("failed to get cursor: %w", err)
	}

	return cursor, found, nil
}

// Commit stores the cursor unless the stored one is already ahead
func (s *BoltDBStore) Commit(ctx context.Context, cursor domain.Cursor) error {
	if cursor.Offset < 0 {
		return fmt.Errorf("refusing to commit negative offset %d for %s", cursor.Offset, cursor.Resource)
	}

	written := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		key := []byte(cursor.Resource)
		if val := b.Get(key); val != nil {
			prev, err := decodeCursor(cursor.Resource, val)
			if err != nil {
				return err
			}
			if !supersedes(prev, cursor) {
				return nil
			}
		}

		written = true
		return b.Put(key, encodeCursor(cursor))
	})
	if err != nil {
		return fmt.Errorf("failed to commit cursor: %w", err)
	}

	if !written {
		log.Debug().
			Str("resource", cursor.Resource).
			Int64("offset", cursor.Offset).
			Uint64("generation", cursor.Generation).
			Msg("Stale cursor commit ignored")
		return nil
	}

	log.Debug().
		Str("resource", cursor.Resource).
		Int64("offset", cursor.Offset).
		Uint64("generation", cursor.Generation).
		Msg("Cursor committed")

	return nil
}

// Delete removes the cursor for a resource
func (s *BoltDBStore) Delete(ctx context.Context, resource string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete([]byte(resource))
	})
	if err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}

	return nil
}

// List returns all stored cursors
func (s *BoltDBStore) List(ctx context.Context) (map[string]domain.Cursor, error) {
	result := make(map[string]domain.Cursor)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		return b.ForEach(func(k, v []byte) error {
			cursor, err := decodeCursor(string(k), v)
			if err != nil {
				log.Warn().Err(err).Str("resource", string(k)).Msg("Skipping undecodable cursor")
				return nil
			}
			result[string(k)] = cursor
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}

	return result, nil
}

// Close closes the BoltDB database
func (s *BoltDBStore) Close() error {
	log.Info().Msg("Closing BoltDB cursor store")
	return s.db.Close()
}

func encodeCursor(cursor domain.Cursor) []byte {
	val := make([]byte, cursorValueLen)
	binary.BigEndian.PutUint64(val[:8], uint64(cursor.Offset))
	binary.BigEndian.PutUint64(val[8:], cursor.Generation)
	return val
}

func decodeCursor(resource string, val []byte) (domain.Cursor, error) {
	cursor := domain.Cursor{Resource: resource}
	switch {
	case len(val) >= cursorValueLen:
		cursor.Offset = int64(binary.BigEndian.Uint64(val[:8]))
		cursor.Generation = binary.BigEndian.Uint64(val[8:16])
	case len(val) >= legacyValueLen:
		cursor.Offset = int64(binary.BigEndian.Uint64(val[:8]))
	default:
		return cursor, fmt.Errorf("invalid cursor value (%d bytes)", len(val))
	}
	if cursor.Offset < 0 {
		return cursor, fmt.Errorf("invalid cursor offset %d", cursor.Offset)
	}
	return cursor, nil
}
