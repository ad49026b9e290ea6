package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vantapoint/liqengine/internal/database"
)

func newTestDB(t *testing.T, name string) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    "file:" + t.Name() + "_" + name + "?mode=memory&cache=shared",
		Profile: database.ProfileStandard,
		Name:    name,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCreateArchive_SnapshotsEveryDatabaseWithChecksums(t *testing.T) {
	stateDB := newTestDB(t, "state")
	ledgerDB := newTestDB(t, "ledger")
	stagingDir := t.TempDir()

	snap := NewSnapshotter(map[string]*database.DB{"state": stateDB, "ledger": ledgerDB}, stagingDir, zerolog.New(nil).Level(zerolog.Disabled))

	archivePath, meta, err := snap.CreateArchive(context.Background())
	require.NoError(t, err)
	defer os.Remove(archivePath)

	require.FileExists(t, archivePath)
	require.Len(t, meta.Databases, 2)
	for _, d := range meta.Databases {
		require.NotEmpty(t, d.Checksum)
		require.Greater(t, d.SizeBytes, int64(0))
	}
}

func TestCreateArchive_ArchiveContainsMetadataAndDatabaseFiles(t *testing.T) {
	stateDB := newTestDB(t, "state")
	stagingDir := t.TempDir()

	snap := NewSnapshotter(map[string]*database.DB{"state": stateDB}, stagingDir, zerolog.New(nil).Level(zerolog.Disabled))

	archivePath, _, err := snap.CreateArchive(context.Background())
	require.NoError(t, err)
	defer os.Remove(archivePath)

	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()

	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gr.Close()

	names := map[string]bool{}
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names[hdr.Name] = true
	}

	require.True(t, names["state.db"])
	require.True(t, names["backup-metadata.json"])
}

func TestTimestampFromKey_RejectsNonBackupKeys(t *testing.T) {
	_, ok := timestampFromKey("some-other-file.txt")
	require.False(t, ok)
}

func TestTimestampFromKey_ParsesBackupKey(t *testing.T) {
	ts, ok := timestampFromKey(backupKeyPrefix + "2026-03-05-143022.tar.gz")
	require.True(t, ok)
	require.Equal(t, 2026, ts.Year())
	require.Equal(t, 14, ts.Hour())
}

func TestChecksumFile_IsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	first, err := checksumFile(path)
	require.NoError(t, err)
	second, err := checksumFile(path)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Contains(t, first, "sha256:")
}
