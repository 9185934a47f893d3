package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/tinytelemetry/mongoslow/internal/model"
)

type fakeSnapshotter struct {
	dbPath  string
	data    []byte
	runID   string
	records int64
}

func (f *fakeSnapshotter) DBPath() string { return f.dbPath }

func (f *fakeSnapshotter) LatestRunID() (string, error) { return f.runID, nil }

func (f *fakeSnapshotter) WriteSnapshot(dstPath string) (model.Snapshot, error) {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return model.Snapshot{}, err
	}
	if err := os.WriteFile(dstPath, f.data, 0644); err != nil {
		return model.Snapshot{}, err
	}
	return model.Snapshot{Path: dstPath, RunID: f.runID, Records: f.records, Bytes: int64(len(f.data))}, nil
}

type recordingUploader struct {
	paths []string
	err   error
}

func (u *recordingUploader) UploadFile(_ context.Context, localPath string) error {
	u.paths = append(u.paths, localPath)
	return u.err
}

func clock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestNewManager_Disabled(t *testing.T) {
	t.Parallel()

	m, err := NewManager(context.Background(), &fakeSnapshotter{dbPath: "/tmp/mongoslow.duckdb", data: []byte("x")}, Config{})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if m != nil {
		t.Fatal("expected nil manager when disabled")
	}
}

func TestNewManager_RequiresDBPath(t *testing.T) {
	t.Parallel()

	_, err := NewManager(context.Background(), &fakeSnapshotter{dbPath: "", data: []byte("x")}, Config{
		LocalDir: t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected error for empty db path")
	}
}

func TestNewManager_BadBucketURL(t *testing.T) {
	t.Parallel()

	_, err := NewManager(context.Background(), &fakeSnapshotter{dbPath: "/tmp/x.duckdb"}, Config{
		LocalDir:  t.TempDir(),
		BucketURL: "https://not-s3/bucket",
	})
	if err == nil || !strings.Contains(err.Error(), "s3:// scheme") {
		t.Fatalf("err = %v, want scheme error", err)
	}
}

func TestRunOnce_CreatesAndPrunesLocalBackups(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	m := &Manager{
		store: &fakeSnapshotter{dbPath: "/tmp/mongoslow.duckdb", data: []byte("snapshot")},
		cfg:   Config{LocalDir: localDir, KeepLast: 2},
		now:   clock(),
	}

	var last string
	for i := 0; i < 3; i++ {
		snap, err := m.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce #%d: %v", i+1, err)
		}
		last = snap.Path
	}

	files, err := filepath.Glob(filepath.Join(localDir, "mongoslow-*.duckdb"))
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("backup files = %d, want 2", len(files))
	}
	if _, err := os.Stat(last); err != nil {
		t.Errorf("newest snapshot pruned: %v", err)
	}
}

func TestRunOnce_CompressAndUpload(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	up := &recordingUploader{}
	m := &Manager{
		store:    &fakeSnapshotter{dbPath: "/tmp/mongoslow.duckdb", data: []byte("duckdb bytes")},
		cfg:      Config{LocalDir: localDir, KeepLast: 5, Compress: true},
		uploader: up,
		now:      clock(),
	}

	snap, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	p := snap.Path
	if !strings.HasSuffix(p, ".duckdb.gz") {
		t.Fatalf("artifact = %q, want .duckdb.gz", p)
	}
	if len(up.paths) != 1 || up.paths[0] != p {
		t.Errorf("uploaded = %v, want [%s]", up.paths, p)
	}
	if _, err := os.Stat(strings.TrimSuffix(p, ".gz")); !os.IsNotExist(err) {
		t.Errorf("uncompressed snapshot left behind: %v", err)
	}

	f, err := os.Open(p)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "duckdb bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestRunOnce_UploadFailure(t *testing.T) {
	t.Parallel()

	m := &Manager{
		store:    &fakeSnapshotter{dbPath: "/tmp/mongoslow.duckdb", data: []byte("x")},
		cfg:      Config{LocalDir: t.TempDir(), KeepLast: 2},
		uploader: &recordingUploader{err: errors.New("access denied")},
		now:      clock(),
	}

	if _, err := m.RunOnce(context.Background()); err == nil || !strings.Contains(err.Error(), "upload") {
		t.Fatalf("err = %v, want upload error", err)
	}
}

func TestSnapshotName(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 8, 15, 30, 123e6, time.UTC)
	tests := []struct {
		name  string
		runID string
		want  string
	}{
		{"no runs", "", "mongoslow-20240301-081530.123.duckdb"},
		{"uuid run", "3f2a9c1e-7b4d-4e0a-9f1c-2d3e4f5a6b7c", "mongoslow-20240301-081530.123-3f2a9c1e.duckdb"},
		{"short run id", "run1", "mongoslow-20240301-081530.123-run1.duckdb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := snapshotName(at, tt.runID); got != tt.want {
				t.Errorf("snapshotName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunOnce_NamesSnapshotAfterLatestRun(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	m := &Manager{
		store: &fakeSnapshotter{
			dbPath:  "/tmp/mongoslow.duckdb",
			data:    []byte("snapshot"),
			runID:   "3f2a9c1e-7b4d-4e0a-9f1c-2d3e4f5a6b7c",
			records: 42,
		},
		cfg: Config{LocalDir: localDir, KeepLast: 5},
		now: clock(),
	}

	snap, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := filepath.Base(snap.Path); got != "mongoslow-20240101-000001.000-3f2a9c1e.duckdb" {
		t.Errorf("artifact = %q", got)
	}
	if snap.RunID != "3f2a9c1e-7b4d-4e0a-9f1c-2d3e4f5a6b7c" || snap.Records != 42 || snap.Bytes != 8 {
		t.Errorf("snapshot = %+v", snap)
	}
}
