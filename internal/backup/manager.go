package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/mongoslow/internal/model"
)

const (
	defaultKeepLast = 24
	filePrefix      = "mongoslow-"
	runIDPrefixLen  = 8
)

// Manager takes a local snapshot, optionally compresses and uploads it,
// and prunes old local copies.
type Manager struct {
	store    Snapshotter
	cfg      Config
	uploader Uploader
	now      func() time.Time
}

// NewManager initializes the backup manager. It returns nil when no
// destination is configured.
func NewManager(ctx context.Context, store Snapshotter, cfg Config) (*Manager, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if store == nil {
		return nil, fmt.Errorf("backup: nil snapshotter")
	}
	if strings.TrimSpace(store.DBPath()) == "" {
		return nil, fmt.Errorf("backup: db path is empty (in-memory store)")
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		cfg.LocalDir = filepath.Join(os.TempDir(), "mongoslow-snapshots")
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create local dir: %w", err)
	}

	var uploader Uploader
	if strings.TrimSpace(cfg.BucketURL) != "" {
		s3u, err := NewS3Uploader(ctx, S3Config{
			BucketURL: cfg.BucketURL,
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("backup: init s3 uploader: %w", err)
		}
		uploader = s3u
	}

	return &Manager{
		store:    store,
		cfg:      cfg,
		uploader: uploader,
		now:      time.Now,
	}, nil
}

// RunOnce creates one local snapshot, uploads it when configured, and
// prunes old local copies. The returned snapshot describes the final
// artifact.
func (m *Manager) RunOnce(ctx context.Context) (model.Snapshot, error) {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	runID, err := m.store.LatestRunID()
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("latest run: %w", err)
	}
	localPath := filepath.Join(m.cfg.LocalDir, snapshotName(now(), runID))

	snap, err := m.store.WriteSnapshot(localPath)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	log.Info().
		Str("path", snap.Path).
		Str("run_id", snap.RunID).
		Int64("records", snap.Records).
		Msg("backup: created snapshot")

	if m.cfg.Compress {
		gzPath, err := compressFile(snap.Path)
		if err != nil {
			return model.Snapshot{}, fmt.Errorf("compress: %w", err)
		}
		snap.Path = gzPath
		if fi, err := os.Stat(gzPath); err == nil {
			snap.Bytes = fi.Size()
		}
	}

	if m.uploader != nil {
		if err := m.uploader.UploadFile(ctx, snap.Path); err != nil {
			return model.Snapshot{}, fmt.Errorf("upload: %w", err)
		}
		log.Info().Str("file", filepath.Base(snap.Path)).Msg("backup: uploaded snapshot")
	}

	if err := pruneLocalBackups(m.cfg.LocalDir, m.cfg.KeepLast); err != nil {
		return model.Snapshot{}, fmt.Errorf("prune local backups: %w", err)
	}
	return snap, nil
}

// snapshotName builds mongoslow-<utc timestamp>[-<run id prefix>].duckdb.
// The timestamp leads so that lexical order is chronological.
func snapshotName(t time.Time, runID string) string {
	name := filePrefix + t.UTC().Format("20060102-150405.000")
	if runID != "" {
		if len(runID) > runIDPrefixLen {
			runID = runID[:runIDPrefixLen]
		}
		name += "-" + runID
	}
	return name + ".duckdb"
}

// compressFile gzips path into path+".gz" and removes the original.
func compressFile(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	gzPath := path + ".gz"
	tmp := gzPath + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return "", err
	}

	zw, err := gzip.NewWriterLevel(dst, gzip.BestSpeed)
	if err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, gzPath); err != nil {
		return "", err
	}
	src.Close()
	_ = os.Remove(path)
	return gzPath, nil
}

func pruneLocalBackups(localDir string, keepLast int) error {
	if keepLast <= 0 {
		return nil
	}

	var matches []string
	for _, pattern := range []string{filePrefix + "*.duckdb", filePrefix + "*.duckdb.gz"} {
		found, err := filepath.Glob(filepath.Join(localDir, pattern))
		if err != nil {
			return err
		}
		matches = append(matches, found...)
	}
	if len(matches) <= keepLast {
		return nil
	}

	sort.Slice(matches, func(i, j int) bool {
		// timestamp is embedded in filename and lexical sort matches chronology
		return filepath.Base(matches[i]) > filepath.Base(matches[j])
	})

	for _, oldPath := range matches[keepLast:] {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
