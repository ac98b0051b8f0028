// Package backup copies domain state off the hypervisor: descriptor
// XML plus disks, optionally compressed and encrypted, with each run
// recorded in a local catalog.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jbweber/homelab/standctl/internal/virsh"
)

// Hypervisor is the facade slice the backup pipeline needs
type Hypervisor interface {
	ListDomains(ctx context.Context, state virsh.DomainState) ([]string, error)
	DumpXML(ctx context.Context, name string) (string, error)
	IsActiveDomain(ctx context.Context, name string) (bool, error)
	SuspendDomain(ctx context.Context, name string) error
	ResumeDomain(ctx context.Context, name string) error
	DomainDisks(ctx context.Context, name string) ([]string, error)
	CopyFile(ctx context.Context, src, dst string) error
}

// DefaultMinFreeGiB aborts the run when free space drops below it
const DefaultMinFreeGiB = 50

// Options configures one backup run
type Options struct {
	// Compress packs the run directory into a tar.gz
	Compress bool
	// Creds enables AES-CTR encryption of the archive; requires Compress
	Creds *Creds
	// MinFreeGiB overrides DefaultMinFreeGiB when > 0
	MinFreeGiB int
}

// Backuper runs domain backups through the hypervisor facade
type Backuper struct {
	hv      Hypervisor
	catalog *Catalog
	log     *zap.Logger

	// freeGiB is replaceable in tests
	freeGiB func(path string) (int64, error)
}

// NewBackuper creates a backuper. catalog and log may be nil.
func NewBackuper(hv Hypervisor, catalog *Catalog, log *zap.Logger) *Backuper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backuper{hv: hv, catalog: catalog, log: log, freeGiB: freeDiskGiB}
}

// Run backs up the given domains into a timestamp-named directory under
// backupsDir and returns the final artifact path. Individual domain
// failures are recorded and do not stop the batch; running out of disk
// space does.
func (b *Backuper) Run(ctx context.Context, backupsDir string, domains []string, opts Options) (string, error) {
	minFree := opts.MinFreeGiB
	if minFree <= 0 {
		minFree = DefaultMinFreeGiB
	}
	if opts.Creds != nil && !opts.Compress {
		return "", fmt.Errorf("encryption requires compression")
	}

	if err := os.MkdirAll(backupsDir, 0755); err != nil {
		return "", err
	}
	if err := b.checkSpace(backupsDir, minFree); err != nil {
		return "", err
	}

	runPath := filepath.Join(backupsDir, time.Now().Format(TimestampFormat))
	if err := os.MkdirAll(runPath, 0755); err != nil {
		return "", err
	}

	for _, name := range domains {
		if err := b.checkSpace(backupsDir, minFree); err != nil {
			// Free up what this run already wrote and make sure
			// nothing stays suspended.
			os.RemoveAll(runPath)
			b.resumePaused(ctx, domains)
			return "", err
		}

		run := Run{
			Domain:     name,
			BackupPath: filepath.Join(runPath, name),
			StartedAt:  time.Now(),
			Status:     StatusFailed,
		}

		err := b.backupDomain(ctx, name, run.BackupPath)
		run.FinishedAt = time.Now()
		run.Duration = run.FinishedAt.Sub(run.StartedAt).Seconds()
		if err != nil {
			b.log.Error("domain backup failed", zap.String("domain", name), zap.Error(err))
		} else {
			run.Status = StatusSuccess
			if size, sizeErr := dirSize(run.BackupPath); sizeErr == nil {
				run.SizeBytes = size
			}
			b.log.Info("domain backup done",
				zap.String("domain", name),
				zap.Float64("duration_sec", run.Duration),
				zap.Int64("size_bytes", run.SizeBytes))
		}

		if b.catalog != nil {
			if _, recErr := b.catalog.Record(ctx, run); recErr != nil {
				b.log.Warn("failed to record backup run", zap.Error(recErr))
			}
		}
	}

	if !opts.Compress {
		return runPath, nil
	}

	archivePath, err := CompressDir(runPath)
	if err != nil {
		os.Remove(runPath + ".tar.gz")
		return "", err
	}
	if err := os.RemoveAll(runPath); err != nil {
		return "", err
	}
	b.log.Info("compressed backup", zap.String("archive", archivePath))

	if opts.Creds == nil {
		return archivePath, nil
	}

	encPath, err := EncryptFile(archivePath, opts.Creds)
	if err != nil {
		return "", err
	}
	b.log.Info("encrypted backup", zap.String("archive", encPath))
	return encPath, nil
}

// backupDomain saves the descriptor and copies the disks. Active
// domains are suspended for a consistent copy and always resumed.
func (b *Backuper) backupDomain(ctx context.Context, name, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	xml, err := b.hv.DumpXML(ctx, name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dest, "domain.xml"), []byte(xml), 0644); err != nil {
		return err
	}

	disks, err := b.hv.DomainDisks(ctx, name)
	if err != nil {
		return err
	}

	active, err := b.hv.IsActiveDomain(ctx, name)
	if err != nil {
		return err
	}

	if !active {
		return b.copyDisks(ctx, disks, dest)
	}

	if err := b.hv.SuspendDomain(ctx, name); err != nil {
		return err
	}
	copyErr := b.copyDisks(ctx, disks, dest)
	if err := b.hv.ResumeDomain(ctx, name); err != nil {
		if copyErr == nil {
			return err
		}
		b.log.Error("failed to resume domain after backup", zap.String("domain", name), zap.Error(err))
	}
	return copyErr
}

func (b *Backuper) copyDisks(ctx context.Context, disks []string, dest string) error {
	for _, disk := range disks {
		dst := filepath.Join(dest, filepath.Base(disk))
		if err := b.hv.CopyFile(ctx, disk, dst); err != nil {
			return err
		}
	}
	return nil
}

// resumePaused resumes any of the given domains left in paused state
func (b *Backuper) resumePaused(ctx context.Context, domains []string) {
	paused, err := b.hv.ListDomains(ctx, virsh.StatePaused)
	if err != nil {
		b.log.Error("failed to list paused domains", zap.Error(err))
		return
	}

	pausedSet := map[string]bool{}
	for _, p := range paused {
		pausedSet[p] = true
	}
	for _, name := range domains {
		if !pausedSet[name] {
			continue
		}
		if err := b.hv.ResumeDomain(ctx, name); err != nil {
			b.log.Error("failed to resume domain", zap.String("domain", name), zap.Error(err))
		}
	}
}

func (b *Backuper) checkSpace(path string, minFreeGiB int) error {
	free, err := b.freeGiB(path)
	if err != nil {
		return err
	}
	if free < int64(minFreeGiB) {
		return fmt.Errorf("low disk space: %d GiB free, %d GiB required", free, minFreeGiB)
	}
	return nil
}

func freeDiskGiB(path string) (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem %s: %w", path, err)
	}
	return int64(st.Bavail) * st.Bsize >> 30, nil
}
