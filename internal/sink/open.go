package sink

import (
	"context"

	"github.com/cockroachdb/errors"
)

const (
	BackendS3     = "s3"
	BackendGCS    = "gcs"
	BackendFTP    = "ftp"
	BackendMemory = "memory"
)

type Options struct {
	Backend string

	S3Region string

	GCSProjectID string
	GCSLocation  string

	FTPAddr     string
	FTPUser     string
	FTPPassword string
	FTPRoot     string
}

// Open builds the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (ObjectStore, error) {
	switch opts.Backend {
	case BackendS3, "":
		return NewS3Store(ctx, opts.S3Region)
	case BackendGCS:
		return NewGCSStore(ctx, opts.GCSProjectID, opts.GCSLocation)
	case BackendFTP:
		if opts.FTPAddr == "" {
			return nil, errors.New("ftp: address is required")
		}
		return NewFTPStore(opts.FTPAddr, opts.FTPUser, opts.FTPPassword, opts.FTPRoot), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, errors.Newf("unknown sink backend %q", opts.Backend)
	}
}
