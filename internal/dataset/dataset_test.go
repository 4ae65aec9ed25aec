package dataset

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, rows [][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.WriteAll(rows))
	w.Flush()
	require.NoError(t, w.Error())
	require.NoError(t, f.Close())
	return path
}

func testConfig() Config {
	return Config{URLColumn: "advisory_urls", MarkerColumn: "resolved_at", Delimiter: ";"}
}

func sampleRows() [][]string {
	return [][]string{
		{"cve", "advisory_urls"},
		{"CVE-2024-0001", "https://a.example/1;https://b.example/2"},
		{"CVE-2024-0002", "https://a.example/1"},
		{"CVE-2024-0003", ""},
	}
}

func TestLoadAndURLs(t *testing.T) {
	t.Parallel()

	ds, err := Load(writeCSV(t, sampleRows()), testConfig())
	require.NoError(t, err)

	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, []string{"https://a.example/1", "https://b.example/2"}, ds.URLs(0))
	assert.Equal(t, []string{"https://a.example/1"}, ds.URLs(1))
	assert.Nil(t, ds.URLs(2))
	assert.False(t, ds.Processed())
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.csv"), testConfig())
	require.ErrorIs(t, err, ErrDataset)

	_, err = Load(writeCSV(t, [][]string{{"cve", "other"}}), testConfig())
	require.ErrorIs(t, err, ErrDataset, "missing url column is fatal")

	_, err = Load(writeCSV(t, [][]string{{"cve", "advisory_urls"}}), testConfig())
	require.ErrorIs(t, err, ErrDataset, "a header with no records is fatal")
}

func TestLoadPadsRaggedRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ragged.csv")
	require.NoError(t, os.WriteFile(path,
		[]byte("cve,advisory_urls,notes\nCVE-2024-0001,https://a.example/1\n"), 0o600))

	ds, err := Load(path, testConfig())
	require.NoError(t, err)
	ds.SetCell(0, "notes", "padded")
	assert.Equal(t, 1, ds.Len())
}

func TestStampMarkerAndProcessed(t *testing.T) {
	t.Parallel()

	ds, err := Load(writeCSV(t, sampleRows()), testConfig())
	require.NoError(t, err)

	ds.StampMarker(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
	assert.True(t, ds.Processed())
}

func TestPersistRoundTripPreservesRecordCount(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, sampleRows())
	ds, err := Load(path, testConfig())
	require.NoError(t, err)

	ds.SetCell(0, ColumnLinks, "https://a.example/downloads/p.rpm")
	ds.SetCell(0, ColumnStatus, "success")
	ds.StampMarker(time.Now())
	require.NoError(t, ds.Persist(false))

	reloaded, err := Load(path, testConfig())
	require.NoError(t, err)
	assert.Equal(t, ds.Len(), reloaded.Len(), "persist must keep every record")
	assert.True(t, reloaded.Processed())
	assert.Equal(t, []string{"https://a.example/1", "https://b.example/2"}, reloaded.URLs(0),
		"input columns survive the round trip")
}

func TestPersistPreservesFileMode(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, sampleRows())
	require.NoError(t, os.Chmod(path, 0o664))

	ds, err := Load(path, testConfig())
	require.NoError(t, err)
	require.NoError(t, ds.Persist(false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o664), info.Mode().Perm(),
		"rewrite must not tighten the dataset's permissions")
}

func TestPersistWritesBackup(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, sampleRows())
	ds, err := Load(path, testConfig())
	require.NoError(t, err)
	require.NoError(t, ds.Persist(true))

	matches, err := filepath.Glob(path + ".bak-*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestPersistLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, sampleRows())
	ds, err := Load(path, testConfig())
	require.NoError(t, err)
	require.NoError(t, ds.Persist(false))

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".patchtrace-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCheckWritable(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, sampleRows())
	ds, err := Load(path, testConfig())
	require.NoError(t, err)
	require.NoError(t, ds.CheckWritable())

	if os.Geteuid() == 0 {
		t.Skip("file permissions do not bind root")
	}
	require.NoError(t, os.Chmod(path, 0o400))
	t.Cleanup(func() { _ = os.Chmod(path, 0o600) })
	err = ds.CheckWritable()
	require.ErrorIs(t, err, ErrDataset, "a read-only output must fail before any fetch")
}

func TestEnsureColumnIsIdempotent(t *testing.T) {
	t.Parallel()

	ds, err := Load(writeCSV(t, sampleRows()), testConfig())
	require.NoError(t, err)

	first := ds.EnsureColumn(ColumnSummary)
	second := ds.EnsureColumn(ColumnSummary)
	assert.Equal(t, first, second)
}
