package projects

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// memoryStore implements IStore in process memory. Records live as long as
// the process; suitable for development and tests.
type memoryStore struct {
	records *xsync.MapOf[string, Project]
}

// NewMemoryStore creates a new in-memory project store.
func NewMemoryStore() IStore {
	return &memoryStore{
		records: xsync.NewMapOf[string, Project](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see projects.IStore)
// --------------------------------------------------------------------------

func (s *memoryStore) Create(_ context.Context, title, owner string) (Project, error) {
	p := Project{
		ID:        uuid.NewString(),
		Title:     title,
		Owner:     owner,
		CreatedAt: time.Now().UTC(),
	}
	s.records.Store(p.ID, p)
	return p, nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Project, bool, error) {
	p, ok := s.records.Load(id)
	return p, ok, nil
}

func (s *memoryStore) Close() error {
	return nil
}
