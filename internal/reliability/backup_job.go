package reliability

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	minBackupsToKeep  = 3
	backupDiskGuardGB = 1.0
)

// BackupJob snapshots both databases, uploads the archive to object
// storage, and rotates archives past the retention window. It satisfies
// internal/scheduler.Job.
type BackupJob struct {
	snapshotter   *Snapshotter
	s3            *S3Client
	dataDir       string
	retentionDays int
	clock         func() time.Time
	log           zerolog.Logger
}

// NewBackupJob builds a BackupJob. retentionDays of 0 means keep every
// archive (subject to minBackupsToKeep still applying as a floor).
func NewBackupJob(snapshotter *Snapshotter, s3 *S3Client, dataDir string, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		snapshotter: snapshotter, s3: s3, dataDir: dataDir, retentionDays: retentionDays,
		clock: time.Now, log: log.With().Str("job", "ledger_backup").Logger(),
	}
}

func (j *BackupJob) Name() string { return "ledger_backup" }

func (j *BackupJob) Run(ctx context.Context) error {
	if usage, err := disk.UsageWithContext(ctx, j.dataDir); err == nil {
		if availableGB := float64(usage.Free) / 1e9; availableGB < backupDiskGuardGB {
			j.log.Error().Float64("available_gb", availableGB).Msg("critical disk space, skipping backup")
			return nil
		}
	} else {
		j.log.Warn().Err(err).Msg("disk usage check failed, proceeding without it")
	}

	archivePath, meta, err := j.snapshotter.CreateArchive(ctx)
	if err != nil {
		return err
	}
	defer os.Remove(archivePath)

	key := backupKeyPrefix + meta.Timestamp.Format("2006-01-02-150405") + ".tar.gz"
	if err := j.s3.Upload(ctx, key, archivePath); err != nil {
		return err
	}
	j.log.Info().Str("key", key).Int("databases", len(meta.Databases)).Msg("backup uploaded")

	return j.rotate(ctx)
}

// rotate deletes archives past the retention window, always keeping at
// least minBackupsToKeep regardless of age.
func (j *BackupJob) rotate(ctx context.Context) error {
	objects, err := j.s3.List(ctx)
	if err != nil {
		return err
	}
	if len(objects) <= minBackupsToKeep || j.retentionDays <= 0 {
		return nil
	}

	cutoff := j.clock().AddDate(0, 0, -j.retentionDays)
	deleted := 0
	for i, obj := range objects {
		if i < minBackupsToKeep || !obj.Timestamp.Before(cutoff) {
			continue
		}
		if err := j.s3.Delete(ctx, obj.Key); err != nil {
			j.log.Error().Err(err).Str("key", obj.Key).Msg("failed to delete expired backup")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		j.log.Info().Int("deleted", deleted).Msg("backup rotation complete")
	}
	return nil
}
