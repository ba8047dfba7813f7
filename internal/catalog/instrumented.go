package catalog

import (
	"context"
	"time"

	"github.com/gandalf-gdac/erddap_sync/internal/telemetry"
)

// InstrumentedClient wraps a Client with telemetry. It satisfies the same
// call surface, so consumers that define interfaces over the client accept
// either form.
type InstrumentedClient struct {
	client    *Client
	telemetry *telemetry.Telemetry
}

// NewInstrumentedClient creates a new instrumented catalog client.
func NewInstrumentedClient(client *Client, tel *telemetry.Telemetry) *InstrumentedClient {
	return &InstrumentedClient{
		client:    client,
		telemetry: tel,
	}
}

// BaseURL returns the wrapped client's server URL.
func (c *InstrumentedClient) BaseURL() string {
	return c.client.BaseURL()
}

// Search queries the dataset search with telemetry.
func (c *InstrumentedClient) Search(ctx context.Context, query string, limit int) ([]DatasetSummary, error) {
	var result []DatasetSummary

	var err error

	instrumentedErr := c.telemetry.InstrumentCatalogOperation(ctx, "search_datasets", func(ctx context.Context) error {
		result, err = c.client.Search(ctx, query, limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// Info fetches dataset metadata with telemetry.
func (c *InstrumentedClient) Info(ctx context.Context, datasetID string) (*DatasetInfo, error) {
	var result *DatasetInfo

	var err error

	instrumentedErr := c.telemetry.InstrumentCatalogOperation(ctx, "get_dataset_info", func(ctx context.Context) error {
		result, err = c.client.Info(ctx, datasetID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// ListFiles fetches the files listing with telemetry.
func (c *InstrumentedClient) ListFiles(ctx context.Context, datasetID string) ([]FileEntry, error) {
	var result []FileEntry

	var err error

	instrumentedErr := c.telemetry.InstrumentCatalogOperation(ctx, "list_files", func(ctx context.Context) error {
		result, err = c.client.ListFiles(ctx, datasetID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// FetchFile downloads one file with telemetry, recording bytes and duration.
func (c *InstrumentedClient) FetchFile(ctx context.Context, fileURL, dest string) (int64, error) {
	var written int64

	var err error

	start := time.Now()

	instrumentedErr := c.telemetry.InstrumentDownload(ctx, func(ctx context.Context) error {
		written, err = c.client.FetchFile(ctx, fileURL, dest)

		return err
	})

	status := "success"
	if instrumentedErr != nil {
		status = "error"
	}

	c.telemetry.RecordFileDownload(status, written, time.Since(start))

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	return written, nil
}

// ReadTable reads tabledap rows with telemetry.
func (c *InstrumentedClient) ReadTable(ctx context.Context, datasetID string, variables []string, constraints map[string]string, maxRows int) (*Table, error) {
	var result *Table

	var err error

	instrumentedErr := c.telemetry.InstrumentCatalogOperation(ctx, "read_table", func(ctx context.Context) error {
		result, err = c.client.ReadTable(ctx, datasetID, variables, constraints, maxRows)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// TabledapURL delegates URL building to the wrapped client.
func (c *InstrumentedClient) TabledapURL(datasetID string, variables []string, constraints map[string]string, format string) string {
	return c.client.TabledapURL(datasetID, variables, constraints, format)
}

// SearchURL delegates URL building to the wrapped client.
func (c *InstrumentedClient) SearchURL(query, format string, limit int) string {
	return c.client.SearchURL(query, format, limit)
}

// InfoURL delegates URL building to the wrapped client.
func (c *InstrumentedClient) InfoURL(datasetID, format string) string {
	return c.client.InfoURL(datasetID, format)
}

// FilesURL delegates URL building to the wrapped client.
func (c *InstrumentedClient) FilesURL(datasetID string) string {
	return c.client.FilesURL(datasetID)
}
