// Package blob selects and re-exports the attachment storage backend
// used by the record service.
package blob

import (
	"context"
	"fmt"
	"os"

	"vetcore/internal/blob/core"
	fsblob "vetcore/internal/infra/blob/fs"
	memblob "vetcore/internal/infra/blob/memory"
	s3blob "vetcore/internal/infra/blob/s3"
)

// Re-exported so callers outside the infra layer need only this package.
type (
	Store            = core.Store
	Driver           = core.Driver
	Info             = core.Info
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// ErrUnsupported mirrors core.ErrUnsupported.
var ErrUnsupported = core.ErrUnsupported

// Open selects a Store implementation using environment variables.
//
//	VETCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	VETCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./attachments)
//	(S3 specific variables documented in the s3 package)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("VETCORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return fsblob.New(os.Getenv("VETCORE_BLOB_FS_ROOT"))
	case DriverS3:
		return s3blob.OpenFromEnv(ctx)
	case DriverMemory:
		return memblob.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
