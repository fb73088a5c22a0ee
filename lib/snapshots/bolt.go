package snapshots

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var snapshotBucket = []byte("snapshots")

// boltStore implements IStore on a bbolt file, giving snapshots durability
// across process restarts without an external service.
type boltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the snapshot database under dataDir.
func NewBoltStore(dataDir string) (IStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, "snapshots.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening snapshot database %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating snapshot bucket: %w", err)
	}
	return &boltStore{db: db}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see snapshots.IStore)
// --------------------------------------------------------------------------

func (s *boltStore) Save(projectID string, blob []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(projectID), blob)
	})
}

func (s *boltStore) Load(projectID string) ([]byte, bool, error) {
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(snapshotBucket).Get([]byte(projectID)); v != nil {
			blob = make([]byte, len(v))
			copy(blob, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return blob, blob != nil, nil
}

func (s *boltStore) Delete(projectID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Delete([]byte(projectID))
	})
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
