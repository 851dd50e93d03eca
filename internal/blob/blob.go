// Package blob selects and constructs blob stores. Orbital snapshots are
// archived through the Store interface re-exported here.
package blob

import (
	"context"
	"fmt"
	"os"

	"scfcore/internal/blob/core"
	"scfcore/internal/infra/blob/fs"
	memorystore "scfcore/internal/infra/blob/memory"
	infraS3 "scfcore/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config configures the S3 driver.
	S3Config = infraS3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)

// Environment variables read by Open.
const (
	EnvDriver = "SCFCORE_BLOB_DRIVER"
	EnvFSRoot = "SCFCORE_BLOB_FS_ROOT"
)

// Open selects a Store using environment variables.
//
//	SCFCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	SCFCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./scfcore-states)
//	(S3 specific variables are documented in the s3 driver)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv(EnvDriver)
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv(EnvFSRoot))
	case DriverS3:
		s, err := infraS3.OpenFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem returns a filesystem store rooted at root.
func NewFilesystem(root string) (Store, error) {
	s, err := fs.New(root)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memorystore.New() }

// NewS3 returns an S3 store for cfg.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	s, err := infraS3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
