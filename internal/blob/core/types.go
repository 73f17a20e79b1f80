// Package core defines the abstractions shared by the blob storage
// backends that hold medical record attachments (lab sheets, necropsy
// photos, scanned forms).
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete attachment storage backend.
type Driver string

const (
	// DriverFilesystem stores attachments under a local directory (default, dev).
	DriverFilesystem Driver = "fs"
	// DriverS3 stores attachments in an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps attachments in process memory (tests).
	DriverMemory Driver = "memory"
)

// PutOptions carries optional parameters for Put.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // small flat key-value user metadata
}

// SignedURLOptions holds options for generating a pre-signed URL.
type SignedURLOptions struct {
	Method  string        // GET|PUT (only GET is used internally)
	Expiry  time.Duration // default 15m
	Headers map[string]string
}

// Info describes a stored attachment.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is the thin S3-like surface the record service depends on.
// Put is create-only; attachments are immutable once written.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

// ErrUnsupported is returned when an optional capability is not available
// on the selected backend.
var ErrUnsupported = errors.New("blobstore: unsupported operation")

// CloneMetadata copies a metadata map so callers cannot mutate stored state.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
