// Package projects implements the project metadata store: a simple keyed
// record store for project id, title, owner and creation time. It does not
// participate in document synchronization; the sync engine only ever sees
// the opaque project id.
package projects

import (
	"context"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Project is one project metadata record.
type Project struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

// IStore is the generic interface for project metadata storage.
type IStore interface {
	// Create inserts a new project record and returns it with a freshly
	// assigned id.
	Create(ctx context.Context, title, owner string) (Project, error)
	// Get returns the record for a project id. The boolean return value
	// indicates whether the project was found.
	Get(ctx context.Context, id string) (Project, bool, error)
	// Close releases any underlying resources.
	Close() error
}
