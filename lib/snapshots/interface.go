// Package snapshots implements the durable snapshot collaborator: a blob
// store keyed by project id, written when a room is evicted and read when
// a room is recreated. The engine treats blobs as opaque; availability is
// best effort and a failed store never blocks room creation.
package snapshots

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the generic interface for snapshot persistence.
type IStore interface {
	// Save writes the blob for a project id, replacing any previous one.
	Save(projectID string, blob []byte) error
	// Load returns the blob for a project id. The boolean return value
	// indicates whether a blob was found.
	Load(projectID string) ([]byte, bool, error)
	// Delete removes the blob for a project id. Deleting an absent blob
	// is not an error.
	Delete(projectID string) error
	// Close releases any underlying resources.
	Close() error
}
