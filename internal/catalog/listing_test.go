package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const filesPage = `<!DOCTYPE html>
<html>
<head><title>ERDDAP - files</title></head>
<body>
<table class="compact nowrap">
<tr><th>&nbsp;</th><th>Name</th><th>Last modified</th><th>Size</th><th>Description</th></tr>
<tr>
  <td><img src="/icons/back.gif" alt="[DIR]"></td>
  <td><a href="/erddap/files/">Parent Directory</a></td>
  <td>&nbsp;</td><td>-</td><td>&nbsp;</td>
</tr>
<tr>
  <td><img src="/icons/generic.gif" alt="[BIN]"></td>
  <td><a href="ru33_2020_0001.nc">ru33_2020_0001.nc</a></td>
  <td>2020-02-26T17:30:00Z</td>
  <td>1234567</td>
  <td>&nbsp;</td>
</tr>
<tr>
  <td><img src="/icons/generic.gif" alt="[BIN]"></td>
  <td><a href="ru33_2020_0002.nc">ru33_2020_0002.nc</a></td>
  <td>2020-02-27T09:10:00Z</td>
  <td>2.5 MB</td>
  <td>&nbsp;</td>
</tr>
<tr>
  <td><img src="/icons/folder.gif" alt="[DIR]"></td>
  <td><a href="subdir/">subdir/</a></td>
  <td>&nbsp;</td><td>-</td><td>&nbsp;</td>
</tr>
</table>
</body>
</html>`

func TestParseFileListing(t *testing.T) {
	entries, err := parseFileListing(strings.NewReader(filesPage), "https://example.org/erddap/files/ru33/")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "ru33_2020_0001.nc", entries[0].Name)
	assert.Equal(t, "https://example.org/erddap/files/ru33/ru33_2020_0001.nc", entries[0].URL)
	assert.Equal(t, int64(1234567), entries[0].Size)
	assert.Equal(t, time.Date(2020, 2, 26, 17, 30, 0, 0, time.UTC), entries[0].Modified)

	assert.Equal(t, "ru33_2020_0002.nc", entries[1].Name)
	assert.Equal(t, int64(2500000), entries[1].Size)
}

func TestParseFileListingOrderPreserved(t *testing.T) {
	entries, err := parseFileListing(strings.NewReader(filesPage), "https://example.org/erddap/files/ru33/")
	require.NoError(t, err)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}

	assert.Equal(t, []string{"ru33_2020_0001.nc", "ru33_2020_0002.nc"}, names)
}

func TestParseFileListingEmptyPage(t *testing.T) {
	entries, err := parseFileListing(strings.NewReader("<html><body><p>no files</p></body></html>"), "https://example.org/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1234567", 1234567},
		{"2.5 MB", 2500000},
		{"512 B", 512},
		{"-", 0},
		{"", 0},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, parseSize(tc.in), "input %q", tc.in)
	}
}

func TestParseModifiedFallsBackToRaw(t *testing.T) {
	got := parseModified("sometime last week")
	assert.True(t, got.IsZero())
}
