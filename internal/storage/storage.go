package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Buckets used by loan applications.
const (
	BucketAssets    = "assets"
	BucketDocuments = "documents"
)

var (
	// ErrNotFound is returned for unknown objects.
	ErrNotFound = errors.New("object not found")
	// ErrUpload wraps a rejected upload.
	ErrUpload = errors.New("upload failed")
	// ErrDelete wraps a rejected delete.
	ErrDelete = errors.New("delete failed")
)

// Object is one blob to upload.
type Object struct {
	Bucket      string
	Path        string
	ContentType string
	Data        []byte
}

// Store persists uploaded application files.
type Store interface {
	Upload(ctx context.Context, obj Object) error
	// Delete removes objects from one bucket. Missing paths are not an error.
	Delete(ctx context.Context, bucket string, paths []string) error
	PublicURL(bucket, objectPath string) string
}

// ObjectPath builds "<loanID>/<prefix>_<index>_<name>" with the name reduced
// to characters that are safe in a storage key.
func ObjectPath(loanID, prefix string, index int, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	clean := b.String()
	if clean == "" || clean == "." || clean == ".." {
		clean = "file"
	}
	return fmt.Sprintf("%s/%s_%d_%s", loanID, prefix, index, clean)
}
