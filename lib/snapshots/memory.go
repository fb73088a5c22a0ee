package snapshots

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// memoryStore implements IStore in process memory. Snapshots survive room
// eviction but not a process restart.
type memoryStore struct {
	blobs *xsync.MapOf[string, []byte]
}

// NewMemoryStore creates a new in-memory snapshot store.
func NewMemoryStore() IStore {
	return &memoryStore{
		blobs: xsync.NewMapOf[string, []byte](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see snapshots.IStore)
// --------------------------------------------------------------------------

func (s *memoryStore) Save(projectID string, blob []byte) error {
	cp := make([]byte, len(blob))
	copy(cp, blob)
	s.blobs.Store(projectID, cp)
	return nil
}

func (s *memoryStore) Load(projectID string) ([]byte, bool, error) {
	blob, ok := s.blobs.Load(projectID)
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, true, nil
}

func (s *memoryStore) Delete(projectID string) error {
	s.blobs.Delete(projectID)
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}
