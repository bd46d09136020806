// Package content catalogs the downloadable resources and tracks their
// delivery counters.
package content

import (
	"context"
	"errors"
	"mime"
	"path/filepath"
)

var ErrNotFound = errors.New("content: resource not found")

// Resource is one downloadable item. Exactly one of Path and URL is set:
// Path points at a file the service streams itself, URL at an external
// object store the client is redirected to.
type Resource struct {
	ID        string
	Title     string
	Kind      string
	Path      string
	URL       string
	MIMEType  string
	SizeBytes int64
	Downloads int64
}

// External reports whether delivery happens by redirect instead of a
// proxied stream.
func (r *Resource) External() bool { return r.URL != "" }

// ContentType returns the stored MIME type, falling back to the file
// extension and then to a generic octet stream.
func (r *Resource) ContentType() string {
	if r.MIMEType != "" {
		return r.MIMEType
	}
	if ct := mime.TypeByExtension(filepath.Ext(r.Path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Store persists the catalog.
type Store interface {
	Find(ctx context.Context, id string) (*Resource, error)

	// IncrementDownloads bumps the delivery counter by one. It must be
	// atomic with respect to concurrent deliveries of the same resource.
	IncrementDownloads(ctx context.Context, id string) error
}
