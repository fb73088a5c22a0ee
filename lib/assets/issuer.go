// Package assets issues upload targets for project assets: an opaque asset
// id plus the URL pair a client needs to upload the file and reference it
// afterwards. The issuer is stateless; it follows the S3 signed-URL shape
// without depending on any particular storage backend.
package assets

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Target is an issued upload destination.
type Target struct {
	AssetID   string `json:"assetId"`
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
}

// Issuer creates upload targets under a fixed bucket base URL.
type Issuer struct {
	bucketURL string
}

// NewIssuer creates an issuer. bucketURL is the base under which objects
// are addressed, e.g. "https://s3.amazonaws.com/harmony-bucket".
func NewIssuer(bucketURL string) *Issuer {
	return &Issuer{bucketURL: strings.TrimRight(bucketURL, "/")}
}

// Issue returns a fresh upload target for the given filename. The asset id
// prefixes the object key so concurrent uploads of equally named files
// never collide.
func (i *Issuer) Issue(filename, filetype string) Target {
	assetID := uuid.NewString()
	url := fmt.Sprintf("%s/%s_%s", i.bucketURL, assetID, sanitize(filename))
	_ = filetype // recorded by the storage backend, not part of the key
	return Target{
		AssetID:   assetID,
		UploadURL: url,
		PublicURL: url,
	}
}

// sanitize keeps object keys to a safe character set.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}
