package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Namespace is a logical prefix inside the bucket.
type Namespace string

const (
	Uploads   Namespace = "uploads"
	Converted Namespace = "converted"
)

// Namespaces lists every namespace the lifecycle manager sweeps.
var Namespaces = []Namespace{Uploads, Converted}

// Key returns the full object key for name inside the namespace.
func (n Namespace) Key(name string) string {
	return string(n) + "/" + name
}

// Prefix is the listing prefix of the namespace.
func (n Namespace) Prefix() string {
	return string(n) + "/"
}

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored artifact.
type ObjectInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// ObjectStore is the object storage capability set the pipeline needs.
// Implementations must treat deleting a missing object as a no-op.
type ObjectStore interface {
	Put(ctx context.Context, ns Namespace, name string, r io.Reader, size int64, contentType string) error
	Download(ctx context.Context, ns Namespace, name, localPath string) error
	List(ctx context.Context, ns Namespace) ([]ObjectInfo, error)
	Delete(ctx context.Context, ns Namespace, name string) error
	PresignedGetURL(ctx context.Context, ns Namespace, name string, ttl time.Duration) (string, error)
}

// ContentType returns the MIME type used when storing a video of the given extension.
func ContentType(ext string) string {
	switch ext {
	case "mp4":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mov":
		return "video/quicktime"
	case "avi":
		return "video/x-msvideo"
	case "mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}
