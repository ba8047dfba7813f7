// Package catalog is a narrow adapter over one ERDDAP server's HTTP API:
// dataset search, metadata lookup, the files listing, and tabledap data
// access. It is the only place that knows the server's URL layout and the
// shape of its responses, so breakage of the upstream surface stays
// contained here.
package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/gandalf-gdac/erddap_sync/internal/catalog/progress"
	"github.com/gandalf-gdac/erddap_sync/internal/logctx"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "erddap-sync/1.0"

	dirPerm  = 0o755
	filePerm = 0o644
)

// DatasetSummary is one row of a dataset search result.
type DatasetSummary struct {
	DatasetID   string
	Title       string
	Summary     string
	Institution string
}

// Variable is one data variable of a dataset with its metadata attributes.
type Variable struct {
	Name       string
	DataType   string
	Attributes map[string]string
}

// DatasetInfo is the parsed metadata of one dataset.
type DatasetInfo struct {
	DatasetID string
	Global    map[string]string
	Variables []Variable
}

// Client talks to a single ERDDAP server.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithToken authenticates every request with a static bearer token, for
// ERDDAP servers that sit behind an authenticating proxy.
func WithToken(token string) Option {
	return func(c *Client) {
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		c.httpClient = oauth2.NewClient(context.Background(), source)
		c.httpClient.Timeout = defaultTimeout
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client for the ERDDAP server at serverURL, e.g.
// "https://gliders.ioos.us/erddap".
func NewClient(serverURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(serverURL, "/"),
		userAgent: defaultUserAgent,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SearchURL builds the dataset search URL for the given response format.
func (c *Client) SearchURL(query, format string, limit int) string {
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{}
	params.Set("page", "1")
	params.Set("itemsPerPage", fmt.Sprintf("%d", limit))
	params.Set("searchFor", query)

	return fmt.Sprintf("%s/search/index.%s?%s", c.baseURL, format, params.Encode())
}

// InfoURL builds the dataset metadata URL for the given response format.
func (c *Client) InfoURL(datasetID, format string) string {
	return fmt.Sprintf("%s/info/%s/index.%s", c.baseURL, url.PathEscape(datasetID), format)
}

// FilesURL builds the file listing URL for a dataset.
func (c *Client) FilesURL(datasetID string) string {
	return fmt.Sprintf("%s/files/%s/", c.baseURL, url.PathEscape(datasetID))
}

// TabledapURL builds a tabledap download URL. Variables select columns;
// constraints are ERDDAP expressions keyed by "<variable><operator>", e.g.
// {"time>=": "2020-01-01", "latitude>": "30"}. Constraint keys are emitted
// in sorted order so generated URLs are stable.
func (c *Client) TabledapURL(datasetID string, variables []string, constraints map[string]string, format string) string {
	var query strings.Builder

	query.WriteString(strings.Join(variables, ","))

	keys := make([]string, 0, len(constraints))
	for k := range constraints {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		if query.Len() > 0 {
			query.WriteString("&")
		}

		query.WriteString(k + url.QueryEscape(constraints[k]))
	}

	u := fmt.Sprintf("%s/tabledap/%s.%s", c.baseURL, url.PathEscape(datasetID), format)
	if query.Len() > 0 {
		u += "?" + query.String()
	}

	return u
}

// Search queries the server's full-text dataset search and returns up to
// limit matches.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]DatasetSummary, error) {
	body, err := c.get(ctx, "search_datasets", query, c.SearchURL(query, "csv", limit))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	records, err := csv.NewReader(body).ReadAll()
	if err != nil {
		return nil, &PermanentError{Operation: "search_datasets", Err: fmt.Errorf("failed to parse search csv: %w", err)}
	}

	if len(records) < 2 {
		return nil, nil
	}

	col := columnIndex(records[0])
	idCol, ok := col["Dataset ID"]
	if !ok {
		return nil, &PermanentError{Operation: "search_datasets", Err: fmt.Errorf("search csv has no Dataset ID column")}
	}

	summaries := make([]DatasetSummary, 0, len(records)-1)

	for _, row := range records[1:] {
		if idCol >= len(row) || row[idCol] == "" {
			continue
		}

		summaries = append(summaries, DatasetSummary{
			DatasetID:   row[idCol],
			Title:       field(row, col, "Title"),
			Summary:     field(row, col, "Summary"),
			Institution: field(row, col, "Institution"),
		})
	}

	return summaries, nil
}

// Info fetches and parses the metadata table of one dataset. The info CSV
// has the columns Row Type, Variable Name, Attribute Name, Data Type, Value.
func (c *Client) Info(ctx context.Context, datasetID string) (*DatasetInfo, error) {
	body, err := c.get(ctx, "get_dataset_info", datasetID, c.InfoURL(datasetID, "csv"))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &PermanentError{Operation: "get_dataset_info", Err: fmt.Errorf("failed to parse info csv: %w", err)}
	}

	if len(records) == 0 {
		return nil, &PermanentError{Operation: "get_dataset_info", Err: fmt.Errorf("info csv is empty")}
	}

	info := &DatasetInfo{
		DatasetID: datasetID,
		Global:    map[string]string{},
	}

	byName := map[string]int{}

	for _, row := range records[1:] {
		if len(row) < 5 {
			continue
		}

		rowType, varName, attrName, dataType, value := row[0], row[1], row[2], row[3], row[4]

		switch {
		case rowType == "attribute" && varName == "NC_GLOBAL":
			info.Global[attrName] = value
		case rowType == "variable" && varName != "":
			if _, ok := byName[varName]; !ok {
				byName[varName] = len(info.Variables)
				info.Variables = append(info.Variables, Variable{
					Name:       varName,
					DataType:   dataType,
					Attributes: map[string]string{},
				})
			}
		case rowType == "attribute" && varName != "":
			idx, ok := byName[varName]
			if !ok {
				byName[varName] = len(info.Variables)
				info.Variables = append(info.Variables, Variable{
					Name:       varName,
					Attributes: map[string]string{},
				})
				idx = byName[varName]
			}

			info.Variables[idx].Attributes[attrName] = value
		}
	}

	return info, nil
}

// ListFiles fetches the dataset's files listing page and returns the file
// entries in the order the server lists them.
func (c *Client) ListFiles(ctx context.Context, datasetID string) ([]FileEntry, error) {
	filesURL := c.FilesURL(datasetID)

	body, err := c.get(ctx, "list_files", datasetID, filesURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	entries, err := parseFileListing(body, filesURL)
	if err != nil {
		return nil, &PermanentError{Operation: "list_files", Err: fmt.Errorf("failed to parse files listing: %w", err)}
	}

	return entries, nil
}

// FetchFile streams fileURL to dest. The bytes go to a temporary file next
// to dest which is renamed into place only after the full body has been
// written and synced, so a crash mid-fetch never leaves a corrupt file at
// dest. Returns the number of bytes written.
func (c *Client) FetchFile(ctx context.Context, fileURL, dest string) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	body, err := c.get(ctx, "fetch_file", filepath.Base(dest), fileURL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		return 0, &PermanentError{Operation: "fetch_file", Err: fmt.Errorf("failed to create target directory: %w", err)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return 0, &PermanentError{Operation: "fetch_file", Err: fmt.Errorf("failed to create temp file: %w", err)}
	}

	tmpName := tmp.Name()

	discard := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	progressInterval := int64(10 * 1024 * 1024)
	pr := progress.NewReader(body, 0, progressInterval, func(written, _ int64) {
		logger.Debug("download progress", "dest", dest, "downloaded", humanize.Bytes(uint64(written)))
	})

	written, err := io.Copy(tmp, pr)
	if err != nil {
		discard()

		return 0, &TransientError{Operation: "fetch_file", Err: fmt.Errorf("failed to stream file body: %w", err)}
	}

	if err := tmp.Sync(); err != nil {
		discard()

		return 0, &TransientError{Operation: "fetch_file", Err: fmt.Errorf("failed to sync temp file: %w", err)}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return 0, &TransientError{Operation: "fetch_file", Err: fmt.Errorf("failed to close temp file: %w", err)}
	}

	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)

		return 0, &PermanentError{Operation: "fetch_file", Err: fmt.Errorf("failed to chmod temp file: %w", err)}
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)

		return 0, &PermanentError{Operation: "fetch_file", Err: fmt.Errorf("failed to move file into place: %w", err)}
	}

	logger.Debug("fetched file", "url", fileURL, "dest", dest, "bytes", written)

	return written, nil
}

// get performs one GET request and maps failures onto the typed error
// taxonomy. The caller owns the returned body.
func (c *Client) get(ctx context.Context, operation, resource, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &PermanentError{Operation: operation, Err: fmt.Errorf("failed to build request: %w", err)}
	}

	// Transparent gzip is left to the transport; setting Accept-Encoding
	// by hand would disable Go's automatic decompression.
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Operation: operation, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()

		return nil, statusError(operation, resource, rawURL, resp.StatusCode)
	}

	return resp.Body, nil
}

func columnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}

	return col
}

func field(row []string, col map[string]int, name string) string {
	idx, ok := col[name]
	if !ok || idx >= len(row) {
		return ""
	}

	return row[idx]
}
