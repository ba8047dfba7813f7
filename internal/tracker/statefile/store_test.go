package statefile_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gandalf-gdac/erddap_sync/internal/tracker"
	"github.com/gandalf-gdac/erddap_sync/internal/tracker/statefile"
)

func TestLoad_MissingFileIsEmptyState(t *testing.T) {
	store := statefile.New(filepath.Join(t.TempDir(), "state.json"))

	state, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := statefile.New(path)

	when := time.Date(2025, 6, 20, 15, 30, 0, 0, time.UTC)
	state := tracker.State{
		"ru38-20250414T1500": {
			DownloadedFiles: []string{"f1.nc"},
			LastCheck:       &when,
			FileDetails: map[string]tracker.ItemDetail{
				"f1.nc": {DownloadTime: when, Size: 694952, LocalPath: "/data/f1.nc"},
			},
		},
	}

	require.NoError(t, store.Save(state))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Contains(t, loaded, "ru38-20250414T1500")

	rec := loaded["ru38-20250414T1500"]
	assert.Equal(t, []string{"f1.nc"}, rec.DownloadedFiles)
	require.NotNil(t, rec.LastCheck)
	assert.True(t, rec.LastCheck.Equal(when))
	assert.Equal(t, int64(694952), rec.FileDetails["f1.nc"].Size)
}

func TestSave_WireFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := statefile.New(path)

	when := time.Date(2025, 6, 20, 15, 30, 0, 0, time.UTC)
	state := tracker.State{
		"ds1": {
			DownloadedFiles: []string{"f1.nc"},
			FileDetails: map[string]tracker.ItemDetail{
				"f1.nc": {DownloadTime: when, Size: 10, LocalPath: "/data/f1.nc"},
			},
		},
	}

	require.NoError(t, store.Save(state))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))

	rec, ok := doc["ds1"]
	require.True(t, ok)
	assert.Contains(t, rec, "downloaded_files")
	assert.Contains(t, rec, "file_details")
	assert.Contains(t, rec, "last_check")
	assert.Equal(t, "null", string(rec["last_check"]))
}

func TestSave_LeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	store := statefile.New(filepath.Join(dir, "state.json"))

	require.NoError(t, store.Save(tracker.State{}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestLoad_CorruptContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{truncated"},
		{"wrong shape", `[1, 2, 3]`},
		{"orphaned detail entry", `{"ds1": {"downloaded_files": [], "last_check": null, "file_details": {"f1.nc": {"download_time": "2025-06-20T15:30:00Z", "size": 1, "local_path": "/x"}}}}`},
		{"missing detail entry", `{"ds1": {"downloaded_files": ["f1.nc", "f2.nc"], "last_check": null, "file_details": {"f1.nc": {"download_time": "2025-06-20T15:30:00Z", "size": 1, "local_path": "/x"}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := statefile.New(path).Load()

			var corrupt *tracker.CorruptStateError
			assert.ErrorAs(t, err, &corrupt)
		})
	}
}
