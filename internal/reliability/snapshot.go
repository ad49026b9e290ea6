// Package reliability archives the two SQLite databases to S3-compatible
// object storage on a schedule, and skips a backup run when the filesystem
// is critically low on space. The liquidation-retention delete has its own
// disk guard in internal/scheduler.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantapoint/liqengine/internal/database"
)

const engineVersion = "1.0.0"

// Metadata describes one backup archive.
type Metadata struct {
	Timestamp time.Time      `json:"timestamp"`
	Version   string         `json:"version"`
	Databases []DatabaseFile `json:"databases"`
}

// DatabaseFile describes one database's entry inside a backup archive.
type DatabaseFile struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// Snapshotter produces a consistent, compressed archive of the state and
// ledger databases. Each database is snapshotted via SQLite's own
// `VACUUM INTO`, which takes a point-in-time copy without blocking writers
// for the archive's full duration the way a raw file copy under WAL would.
type Snapshotter struct {
	databases  map[string]*database.DB
	stagingDir string
	log        zerolog.Logger
}

// NewSnapshotter builds a Snapshotter over the given named databases
// (expected keys: "state", "ledger").
func NewSnapshotter(databases map[string]*database.DB, stagingDir string, log zerolog.Logger) *Snapshotter {
	return &Snapshotter{databases: databases, stagingDir: stagingDir, log: log.With().Str("component", "snapshotter").Logger()}
}

// CreateArchive snapshots every database into a fresh staging directory and
// returns the path to the resulting tar.gz archive plus its metadata. The
// caller is responsible for removing the returned archive once uploaded.
func (s *Snapshotter) CreateArchive(ctx context.Context) (archivePath string, meta Metadata, err error) {
	stageDir, err := os.MkdirTemp(s.stagingDir, "backup-staging-*")
	if err != nil {
		return "", Metadata{}, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stageDir)

	meta = Metadata{Timestamp: time.Now().UTC(), Version: engineVersion}

	for name, db := range s.databases {
		dest := filepath.Join(stageDir, name+".db")
		if _, err := db.Conn().ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
			return "", Metadata{}, fmt.Errorf("failed to snapshot database %s: %w", name, err)
		}

		info, err := os.Stat(dest)
		if err != nil {
			return "", Metadata{}, fmt.Errorf("failed to stat snapshot of %s: %w", name, err)
		}
		checksum, err := checksumFile(dest)
		if err != nil {
			return "", Metadata{}, fmt.Errorf("failed to checksum snapshot of %s: %w", name, err)
		}

		meta.Databases = append(meta.Databases, DatabaseFile{
			Name: name, Filename: name + ".db", SizeBytes: info.Size(), Checksum: checksum,
		})
	}

	metaPath := filepath.Join(stageDir, "backup-metadata.json")
	if err := writeJSON(metaPath, meta); err != nil {
		return "", Metadata{}, fmt.Errorf("failed to write backup metadata: %w", err)
	}

	archiveName := fmt.Sprintf("liqengine-backup-%s.tar.gz", meta.Timestamp.Format("2006-01-02-150405"))
	archivePath = filepath.Join(s.stagingDir, archiveName)
	names := make([]string, 0, len(meta.Databases)+1)
	for _, d := range meta.Databases {
		names = append(names, d.Filename)
	}
	names = append(names, "backup-metadata.json")

	if err := createArchive(archivePath, stageDir, names); err != nil {
		return "", Metadata{}, fmt.Errorf("failed to create archive: %w", err)
	}

	return archivePath, meta, nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer archiveFile.Close()

	gw := gzip.NewWriter(archiveFile)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	for _, name := range filenames {
		if err := addFileToArchive(tw, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, filePath, nameInArchive string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{Name: nameInArchive, Size: info.Size(), Mode: int64(info.Mode()), ModTime: info.ModTime()}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
