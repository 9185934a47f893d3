package backup

import (
	"context"

	"github.com/tinytelemetry/mongoslow/internal/model"
)

// Config controls snapshots of the analysis database taken after ingestion.
type Config struct {
	LocalDir  string
	KeepLast  int
	Compress  bool
	BucketURL string // s3://bucket/prefix; empty disables upload

	S3Endpoint string
	S3Region   string
	S3UseSSL   bool
}

// Enabled reports whether any snapshot destination is configured.
func (c Config) Enabled() bool {
	return c.LocalDir != "" || c.BucketURL != ""
}

// Snapshotter is the minimal DB snapshot contract used by Manager.
type Snapshotter interface {
	DBPath() string
	LatestRunID() (string, error)
	WriteSnapshot(dstPath string) (model.Snapshot, error)
}

// Uploader uploads one backup artifact.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}
