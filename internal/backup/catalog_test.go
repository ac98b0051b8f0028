package backup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/standctl/internal/testutil"
)

func newTestCatalog(t *testing.T, testName string) *Catalog {
	t.Helper()
	db, cleanup := testutil.SetupTestDB(t, testName)
	t.Cleanup(cleanup)

	catalog, err := NewCatalog(db)
	require.NoError(t, err)
	return catalog
}

func TestCatalog_RecordAndHistory(t *testing.T) {
	catalog := newTestCatalog(t, "TestCatalog_RecordAndHistory")
	ctx := context.Background()

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	first := Run{
		Domain:     "lab-bootstrap",
		BackupPath: "/backups/2026-08-29-12-00-00/lab-bootstrap",
		StartedAt:  base,
		FinishedAt: base.Add(42 * time.Second),
		Duration:   42,
		SizeBytes:  1 << 30,
		Status:     StatusSuccess,
	}
	saved, err := catalog.Record(ctx, first)
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)

	second := first
	second.Domain = "lab-bm-0"
	second.StartedAt = base.Add(time.Minute)
	second.Status = StatusFailed
	_, err = catalog.Record(ctx, second)
	require.NoError(t, err)

	runs, err := catalog.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first
	assert.Equal(t, "lab-bm-0", runs[0].Domain)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, "lab-bootstrap", runs[1].Domain)
	assert.Equal(t, int64(1<<30), runs[1].SizeBytes)
}

func TestCatalog_HistoryLimit(t *testing.T) {
	catalog := newTestCatalog(t, "TestCatalog_HistoryLimit")
	ctx := context.Background()

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := catalog.Record(ctx, Run{
			Domain:    "lab-bootstrap",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Status:    StatusSuccess,
		})
		require.NoError(t, err)
	}

	runs, err := catalog.History(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestCatalog_HistoryForDomain(t *testing.T) {
	catalog := newTestCatalog(t, "TestCatalog_HistoryForDomain")
	ctx := context.Background()

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	for _, d := range []string{"lab-bootstrap", "lab-bm-0", "lab-bootstrap"} {
		_, err := catalog.Record(ctx, Run{Domain: d, StartedAt: base, Status: StatusSuccess})
		require.NoError(t, err)
	}

	runs, err := catalog.HistoryForDomain(ctx, "lab-bootstrap")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestCatalog_HistoryEmpty(t *testing.T) {
	catalog := newTestCatalog(t, "TestCatalog_HistoryEmpty")

	runs, err := catalog.History(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
