package tangguh

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketOperations = []byte("operations")
	bucketPriority   = []byte("priority_index")
)

// BoltStore is a bbolt-backed QueueStore: the operations bucket holds the
// records keyed by id, and a secondary index bucket keeps them in replay
// order (priority descending, then age) so All never sorts in memory.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if needed) the database file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketOperations); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketPriority)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init queue store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// indexKey builds the replay-order key. Priority is inverted so a forward
// cursor scan yields highest priority first; within a priority, older
// operations sort first. Priority, createdAt and id never change after
// enqueue, so updates overwrite the same key.
func indexKey(op QueuedOperation) []byte {
	return []byte(fmt.Sprintf("%03d/%020d/%s", 999-op.Priority, op.CreatedAt.UnixNano(), op.ID))
}

// Put implements QueueStore.
func (s *BoltStore) Put(_ context.Context, op QueuedOperation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation %s: %w", op.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketOperations).Put([]byte(op.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketPriority).Put(indexKey(op), []byte(op.ID))
	})
}

// Get implements QueueStore.
func (s *BoltStore) Get(_ context.Context, id string) (QueuedOperation, bool, error) {
	var op QueuedOperation
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOperations).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &op)
	})
	return op, found, err
}

// All implements QueueStore.
func (s *BoltStore) All(_ context.Context) ([]QueuedOperation, error) {
	var ops []QueuedOperation
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketOperations)
		c := tx.Bucket(bucketPriority).Cursor()
		for k, id := c.First(); k != nil; k, id = c.Next() {
			data := records.Get(id)
			if data == nil {
				// Dangling index entry; skip rather than fail the scan.
				continue
			}
			var op QueuedOperation
			if err := json.Unmarshal(data, &op); err != nil {
				return fmt.Errorf("decode operation %s: %w", id, err)
			}
			ops = append(ops, op)
		}
		return nil
	})
	return ops, err
}

// Delete implements QueueStore.
func (s *BoltStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketOperations)
		data := records.Get([]byte(id))
		if data == nil {
			return nil
		}
		var op QueuedOperation
		if err := json.Unmarshal(data, &op); err != nil {
			return fmt.Errorf("decode operation %s: %w", id, err)
		}
		if err := tx.Bucket(bucketPriority).Delete(indexKey(op)); err != nil {
			return err
		}
		return records.Delete([]byte(id))
	})
}

// Len implements QueueStore.
func (s *BoltStore) Len(_ context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketOperations).Stats().KeyN
		return nil
	})
	return n, err
}

// Clear implements QueueStore.
func (s *BoltStore) Clear(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketOperations, bucketPriority} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}
