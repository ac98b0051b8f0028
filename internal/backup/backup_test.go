package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/standctl/internal/virsh"
)

type fakeHypervisor struct {
	calls  []string
	active map[string]bool
	disks  map[string][]string
	paused []string

	copyErr error
}

func newFakeHypervisor() *fakeHypervisor {
	return &fakeHypervisor{
		active: map[string]bool{},
		disks:  map[string][]string{},
	}
}

func (f *fakeHypervisor) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeHypervisor) ListDomains(ctx context.Context, state virsh.DomainState) ([]string, error) {
	f.record("list-domains %s", state)
	if state == virsh.StatePaused {
		return f.paused, nil
	}
	return nil, nil
}

func (f *fakeHypervisor) DumpXML(ctx context.Context, name string) (string, error) {
	f.record("dumpxml %s", name)
	return "<domain><name>" + name + "</name></domain>", nil
}

func (f *fakeHypervisor) IsActiveDomain(ctx context.Context, name string) (bool, error) {
	f.record("is-active %s", name)
	return f.active[name], nil
}

func (f *fakeHypervisor) SuspendDomain(ctx context.Context, name string) error {
	f.record("suspend %s", name)
	return nil
}

func (f *fakeHypervisor) ResumeDomain(ctx context.Context, name string) error {
	f.record("resume %s", name)
	return nil
}

func (f *fakeHypervisor) DomainDisks(ctx context.Context, name string) ([]string, error) {
	f.record("disks %s", name)
	return f.disks[name], nil
}

func (f *fakeHypervisor) CopyFile(ctx context.Context, src, dst string) error {
	f.record("copy %s %s", src, dst)
	if f.copyErr != nil {
		return f.copyErr
	}
	return os.WriteFile(dst, []byte("disk-data"), 0644)
}

func plentyOfSpace(string) (int64, error) { return 1 << 20, nil }

func newTestBackuper(hv *fakeHypervisor) *Backuper {
	b := NewBackuper(hv, nil, nil)
	b.freeGiB = plentyOfSpace
	return b
}

func TestRun_InactiveDomain(t *testing.T) {
	hv := newFakeHypervisor()
	hv.disks["vm-a"] = []string{"/var/lib/libvirt/images/vm-a.qcow2"}
	b := newTestBackuper(hv)

	dir := t.TempDir()
	path, err := b.Run(context.Background(), dir, []string{"vm-a"}, Options{})
	require.NoError(t, err)

	// Descriptor and disk landed in the run directory
	xml, err := os.ReadFile(filepath.Join(path, "vm-a", "domain.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(xml), "<name>vm-a</name>")
	_, err = os.Stat(filepath.Join(path, "vm-a", "vm-a.qcow2"))
	require.NoError(t, err)

	// Inactive domain is never suspended
	for _, c := range hv.calls {
		assert.NotContains(t, c, "suspend")
	}
}

func TestRun_ActiveDomainSuspendResume(t *testing.T) {
	hv := newFakeHypervisor()
	hv.active["vm-a"] = true
	hv.disks["vm-a"] = []string{"/var/lib/libvirt/images/vm-a.qcow2"}
	b := newTestBackuper(hv)

	_, err := b.Run(context.Background(), t.TempDir(), []string{"vm-a"}, Options{})
	require.NoError(t, err)

	var suspendIdx, copyIdx, resumeIdx int
	for i, c := range hv.calls {
		switch {
		case c == "suspend vm-a":
			suspendIdx = i
		case len(c) > 4 && c[:4] == "copy":
			copyIdx = i
		case c == "resume vm-a":
			resumeIdx = i
		}
	}
	assert.Less(t, suspendIdx, copyIdx)
	assert.Less(t, copyIdx, resumeIdx)
}

func TestRun_ActiveDomainResumedAfterCopyFailure(t *testing.T) {
	hv := newFakeHypervisor()
	hv.active["vm-a"] = true
	hv.disks["vm-a"] = []string{"/var/lib/libvirt/images/vm-a.qcow2"}
	hv.copyErr = errors.New("cp: I/O error")
	b := newTestBackuper(hv)

	// The batch does not fail for one bad domain
	_, err := b.Run(context.Background(), t.TempDir(), []string{"vm-a"}, Options{})
	require.NoError(t, err)
	assert.Contains(t, hv.calls, "resume vm-a")
}

func TestRun_FailureDoesNotStopBatch(t *testing.T) {
	hv := newFakeHypervisor()
	hv.disks["vm-a"] = []string{"/var/lib/libvirt/images/vm-a.qcow2"}
	hv.disks["vm-b"] = []string{"/var/lib/libvirt/images/vm-b.qcow2"}
	hv.copyErr = errors.New("cp: I/O error")
	b := newTestBackuper(hv)

	_, err := b.Run(context.Background(), t.TempDir(), []string{"vm-a", "vm-b"}, Options{})
	require.NoError(t, err)

	// Both domains were attempted
	assert.Contains(t, hv.calls, "disks vm-a")
	assert.Contains(t, hv.calls, "disks vm-b")
}

func TestRun_LowDiskSpaceAborts(t *testing.T) {
	hv := newFakeHypervisor()
	hv.paused = []string{"vm-a"}
	b := NewBackuper(hv, nil, nil)

	checks := 0
	b.freeGiB = func(string) (int64, error) {
		checks++
		if checks > 1 {
			return 1, nil
		}
		return 1 << 20, nil
	}

	dir := t.TempDir()
	_, err := b.Run(context.Background(), dir, []string{"vm-a"}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "low disk space")

	// Suspended domains are resumed and the partial run is removed
	assert.Contains(t, hv.calls, "resume vm-a")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_Compress(t *testing.T) {
	hv := newFakeHypervisor()
	hv.disks["vm-a"] = []string{"/var/lib/libvirt/images/vm-a.qcow2"}
	b := newTestBackuper(hv)

	dir := t.TempDir()
	path, err := b.Run(context.Background(), dir, []string{"vm-a"}, Options{Compress: true})
	require.NoError(t, err)
	assert.Contains(t, path, ".tar.gz")

	// Archive contains the domain descriptor; the directory is gone
	names := tarEntries(t, path)
	assert.Contains(t, names, filepath.Join(filepath.Base(path[:len(path)-len(".tar.gz")]), "vm-a", "domain.xml"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRun_EncryptionRequiresCompression(t *testing.T) {
	b := newTestBackuper(newFakeHypervisor())
	creds := &Creds{Key: pad([]byte("secret")), IV: pad([]byte("vector"))}

	_, err := b.Run(context.Background(), t.TempDir(), []string{"vm-a"}, Options{Creds: creds})
	require.Error(t, err)
}

func TestRun_CompressAndEncrypt(t *testing.T) {
	hv := newFakeHypervisor()
	hv.disks["vm-a"] = []string{"/var/lib/libvirt/images/vm-a.qcow2"}
	b := newTestBackuper(hv)
	creds := &Creds{Key: pad([]byte("secret")), IV: pad([]byte("vector"))}

	dir := t.TempDir()
	path, err := b.Run(context.Background(), dir, []string{"vm-a"}, Options{Compress: true, Creds: creds})
	require.NoError(t, err)
	assert.Contains(t, path, ".tar.gz.enc")

	// Only the encrypted artifact remains
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Decrypting restores a readable archive
	restored := filepath.Join(t.TempDir(), "restored.tar.gz")
	require.NoError(t, DecryptFile(path, restored, creds))
	names := tarEntries(t, restored)
	assert.NotEmpty(t, names)
}

func tarEntries(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, filepath.Clean(hdr.Name))
	}
	return names
}
