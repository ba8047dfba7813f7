package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchCSV = `Dataset ID,Title,Summary,Institution,griddap,tabledap
ru33-20200226T1615,ru33 Glider Deployment,Slocum glider deployment off New Jersey.,Rutgers University,,https://example.org/erddap/tabledap/ru33
ce_311-20200708T1723,ce_311 Glider Deployment,Coastal Endurance glider.,OOI,,https://example.org/erddap/tabledap/ce_311
`

const infoCSV = `Row Type,Variable Name,Attribute Name,Data Type,Value
attribute,NC_GLOBAL,title,String,ru33 Glider Deployment
attribute,NC_GLOBAL,institution,String,Rutgers University
variable,time,,double,
attribute,time,units,String,seconds since 1970-01-01T00:00:00Z
attribute,time,standard_name,String,time
variable,temperature,,float,
attribute,temperature,units,String,degree_C
`

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/erddap/search/index.csv", r.URL.Path)
		assert.Equal(t, "glider", r.URL.Query().Get("searchFor"))
		assert.Equal(t, "5", r.URL.Query().Get("itemsPerPage"))

		w.Write([]byte(searchCSV))
	}))
	defer srv.Close()

	client := NewClient(srv.URL + "/erddap")

	results, err := client.Search(context.Background(), "glider", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "ru33-20200226T1615", results[0].DatasetID)
	assert.Equal(t, "ru33 Glider Deployment", results[0].Title)
	assert.Equal(t, "Rutgers University", results[0].Institution)
	assert.Equal(t, "ce_311-20200708T1723", results[1].DatasetID)
}

func TestSearchNoMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// ERDDAP answers an empty search with 404, not an empty table.
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	_, err := client.Search(context.Background(), "nosuchthing", 5)
	require.Error(t, err)

	var notFound *NotFoundError

	require.ErrorAs(t, err, &notFound)
}

func TestInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info/ru33-20200226T1615/index.csv", r.URL.Path)

		w.Write([]byte(infoCSV))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	info, err := client.Info(context.Background(), "ru33-20200226T1615")
	require.NoError(t, err)

	assert.Equal(t, "ru33 Glider Deployment", info.Global["title"])
	assert.Equal(t, "Rutgers University", info.Global["institution"])

	require.Len(t, info.Variables, 2)
	assert.Equal(t, "time", info.Variables[0].Name)
	assert.Equal(t, "double", info.Variables[0].DataType)
	assert.Equal(t, "seconds since 1970-01-01T00:00:00Z", info.Variables[0].Attributes["units"])
	assert.Equal(t, "temperature", info.Variables[1].Name)
	assert.Equal(t, "degree_C", info.Variables[1].Attributes["units"])
}

func TestInfoEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// 200 with nothing in it, as a broken server might answer.
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	_, err := client.Info(context.Background(), "ru33")
	require.Error(t, err)

	var permanent *PermanentError

	require.ErrorAs(t, err, &permanent)
}

func TestFetchFile(t *testing.T) {
	payload := []byte("netcdf bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "data", "profile_0001.nc")
	client := NewClient(srv.URL)

	written, err := client.FetchFile(context.Background(), srv.URL+"/files/x/profile_0001.nc", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), written)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// No temp files may survive a successful fetch.
	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFetchFileServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "profile_0001.nc")
	client := NewClient(srv.URL)

	_, err := client.FetchFile(context.Background(), srv.URL+"/files/x/profile_0001.nc", dest)
	require.Error(t, err)

	var transient *TransientError

	require.ErrorAs(t, err, &transient)
	assert.Equal(t, http.StatusBadGateway, transient.StatusCode)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTabledapURL(t *testing.T) {
	client := NewClient("https://example.org/erddap/")

	got := client.TabledapURL("ru33",
		[]string{"time", "temperature"},
		map[string]string{"time>=": "2020-01-01T00:00:00Z", "latitude>": "30"},
		"csv")

	want := "https://example.org/erddap/tabledap/ru33.csv?" +
		"time,temperature&latitude>30&time>=2020-01-01T00%3A00%3A00Z"
	assert.Equal(t, want, got)
}

func TestTabledapURLNoSelection(t *testing.T) {
	client := NewClient("https://example.org/erddap")

	got := client.TabledapURL("ru33", nil, nil, "nc")
	assert.Equal(t, "https://example.org/erddap/tabledap/ru33.nc", got)
}

func TestURLBuilders(t *testing.T) {
	client := NewClient("https://example.org/erddap")

	assert.Equal(t,
		"https://example.org/erddap/info/ru33/index.html",
		client.InfoURL("ru33", "html"))
	assert.Equal(t,
		"https://example.org/erddap/files/ru33/",
		client.FilesURL("ru33"))
	assert.Contains(t,
		client.SearchURL("sea surface temperature", "html", 10),
		"searchFor=sea+surface+temperature")
}

func TestReadTable(t *testing.T) {
	const tableCSV = `time,temperature
UTC,degree_C
2020-01-01T00:00:00Z,12.5
2020-01-01T01:00:00Z,12.7
2020-01-01T02:00:00Z,12.9
`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(tableCSV))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	table, err := client.ReadTable(context.Background(), "ru33", []string{"time", "temperature"}, nil, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"time", "temperature"}, table.Columns)
	assert.Equal(t, []string{"UTC", "degree_C"}, table.Units)
	require.Len(t, table.Rows, 2)
	assert.True(t, table.Truncated)
	assert.Equal(t, "12.7", table.Rows[1][1])
}

func TestReadTableMalformedRow(t *testing.T) {
	const tableCSV = `time,temperature
UTC,degree_C
2020-01-01T00:00:00Z,12.5
2020-01-01T01:00:00Z,12"7
`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(tableCSV))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	_, err := client.ReadTable(context.Background(), "ru33", nil, nil, 0)
	require.Error(t, err)

	var permanent *PermanentError

	require.ErrorAs(t, err, &permanent)
}

func TestRegistrySharesClients(t *testing.T) {
	registry := NewRegistry()

	a := registry.Client("https://example.org/erddap")
	b := registry.Client("https://example.org/erddap/")
	c := registry.Client("https://other.org/erddap")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.ElementsMatch(t,
		[]string{"https://example.org/erddap", "https://other.org/erddap"},
		registry.Servers())
}
