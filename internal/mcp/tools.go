package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gandalf-gdac/erddap_sync/internal/catalog"
)

// wellKnownServers are public ERDDAP installations worth suggesting when the
// caller has no server in mind.
var wellKnownServers = []ServerEntry{
	{Name: "NOAA CoastWatch", URL: "https://coastwatch.pfeg.noaa.gov/erddap"},
	{Name: "IOOS ERDDAP", URL: "https://erddap.ioos.us/erddap"},
	{Name: "Marine Institute Ireland", URL: "https://erddap.marine.ie/erddap"},
	{Name: "ONC ERDDAP", URL: "https://data.oceannetworks.ca/erddap"},
	{Name: "GCOOS ERDDAP", URL: "https://gcoos5.geos.tamu.edu/erddap"},
	{Name: "EMODnet Physics", URL: "https://erddap.emodnet-physics.eu/erddap"},
	{Name: "IOOS GDAC", URL: "https://gliders.ioos.us/erddap"},
}

// SearchInput is the input schema for the search_datasets tool.
type SearchInput struct {
	ServerURL string `json:"server_url,omitempty" jsonschema:"ERDDAP server URL (default NOAA CoastWatch)"`
	Query     string `json:"query" jsonschema:"the search query to find datasets"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of results to return (default 10)"`
}

// SearchOutput is the output schema for the search_datasets tool.
type SearchOutput struct {
	Results []DatasetResult `json:"results"`
	Count   int             `json:"count"`
}

// DatasetResult represents a single dataset search result.
type DatasetResult struct {
	DatasetID   string `json:"dataset_id"`
	Title       string `json:"title"`
	Summary     string `json:"summary,omitempty"`
	Institution string `json:"institution,omitempty"`
}

// InfoInput selects one dataset on one server.
type InfoInput struct {
	ServerURL string `json:"server_url,omitempty" jsonschema:"ERDDAP server URL (default NOAA CoastWatch)"`
	DatasetID string `json:"dataset_id" jsonschema:"the dataset identifier"`
}

// InfoOutput is the output schema for the get_dataset_info tool.
type InfoOutput struct {
	DatasetID     string            `json:"dataset_id"`
	Global        map[string]string `json:"global_attributes"`
	VariableCount int               `json:"variable_count"`
}

// VariablesOutput is the output schema for the get_dataset_variables tool.
type VariablesOutput struct {
	DatasetID string           `json:"dataset_id"`
	Variables []VariableResult `json:"variables"`
}

// VariableResult is one data variable with its metadata.
type VariableResult struct {
	Name       string            `json:"name"`
	DataType   string            `json:"data_type,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// VarByAttrInput is the input schema for the get_var_by_attr tool.
type VarByAttrInput struct {
	ServerURL string `json:"server_url,omitempty" jsonschema:"ERDDAP server URL (default NOAA CoastWatch)"`
	DatasetID string `json:"dataset_id" jsonschema:"the dataset identifier"`
	AttrName  string `json:"attr_name" jsonschema:"attribute name to match, e.g. standard_name"`
	AttrValue string `json:"attr_value" jsonschema:"attribute value to match"`
}

// VarByAttrOutput lists the variables whose attribute matched.
type VarByAttrOutput struct {
	Variables []string `json:"variables"`
}

// SearchURLInput is the input schema for the get_search_url tool.
type SearchURLInput struct {
	ServerURL string `json:"server_url,omitempty" jsonschema:"ERDDAP server URL (default NOAA CoastWatch)"`
	Query     string `json:"query" jsonschema:"the search query"`
	Format    string `json:"response_format,omitempty" jsonschema:"response format such as csv or html (default csv)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of results (default 10)"`
}

// InfoURLInput is the input schema for the get_info_url tool.
type InfoURLInput struct {
	ServerURL string `json:"server_url,omitempty" jsonschema:"ERDDAP server URL (default NOAA CoastWatch)"`
	DatasetID string `json:"dataset_id" jsonschema:"the dataset identifier"`
	Format    string `json:"response_format,omitempty" jsonschema:"response format such as csv or html (default csv)"`
}

// DownloadURLInput is the input schema for the get_download_url tool.
type DownloadURLInput struct {
	ServerURL   string            `json:"server_url,omitempty" jsonschema:"ERDDAP server URL (default NOAA CoastWatch)"`
	DatasetID   string            `json:"dataset_id" jsonschema:"the dataset identifier"`
	Variables   []string          `json:"variables,omitempty" jsonschema:"variables to include, all when empty"`
	Constraints map[string]string `json:"constraints,omitempty" jsonschema:"constraint expressions keyed by variable and operator, e.g. {\"time>=\": \"2020-01-01\"}"`
	Format      string            `json:"response_format,omitempty" jsonschema:"download format such as csv, nc, or json (default csv)"`
}

// URLOutput carries a single generated URL.
type URLOutput struct {
	URL string `json:"url"`
}

// ReadTableInput is the input schema for the read_table tool.
type ReadTableInput struct {
	ServerURL   string            `json:"server_url,omitempty" jsonschema:"ERDDAP server URL (default NOAA CoastWatch)"`
	DatasetID   string            `json:"dataset_id" jsonschema:"the dataset identifier"`
	Variables   []string          `json:"variables,omitempty" jsonschema:"variables to include, all when empty"`
	Constraints map[string]string `json:"constraints,omitempty" jsonschema:"constraint expressions keyed by variable and operator"`
	MaxRows     int               `json:"max_rows,omitempty" jsonschema:"maximum data rows to return (default 100)"`
}

// ReadTableOutput is the output schema for the read_table tool.
type ReadTableOutput struct {
	Columns   []string   `json:"columns"`
	Units     []string   `json:"units"`
	Rows      [][]string `json:"rows"`
	RowCount  int        `json:"row_count"`
	Truncated bool       `json:"truncated"`
	Rendered  string     `json:"rendered"`
}

// DownloadFileInput is the input schema for the download_file tool.
type DownloadFileInput struct {
	ServerURL   string            `json:"server_url,omitempty" jsonschema:"ERDDAP server URL (default NOAA CoastWatch)"`
	DatasetID   string            `json:"dataset_id" jsonschema:"the dataset identifier"`
	Variables   []string          `json:"variables,omitempty" jsonschema:"variables to include, all when empty"`
	Constraints map[string]string `json:"constraints,omitempty" jsonschema:"constraint expressions keyed by variable and operator"`
	Format      string            `json:"file_format,omitempty" jsonschema:"download format such as csv or nc (default csv)"`
}

// DownloadFileOutput reports where the downloaded file landed.
type DownloadFileOutput struct {
	URL       string `json:"url"`
	LocalPath string `json:"local_path"`
	Bytes     int64  `json:"bytes"`
}

// ListServersOutput is the output schema for the list_servers tool.
type ListServersOutput struct {
	Servers []ServerEntry `json:"servers"`
}

// ServerEntry is one known ERDDAP server.
type ServerEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_datasets",
		Description: "Search an ERDDAP server for datasets matching a query",
	}, instrumented(s, "search_datasets", s.handleSearchDatasets))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_dataset_info",
		Description: "Get the global metadata attributes of a dataset",
	}, instrumented(s, "get_dataset_info", s.handleDatasetInfo))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_dataset_variables",
		Description: "List the variables of a dataset with their metadata",
	}, instrumented(s, "get_dataset_variables", s.handleDatasetVariables))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_var_by_attr",
		Description: "Find variables whose metadata attribute has a given value",
	}, instrumented(s, "get_var_by_attr", s.handleVarByAttr))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_search_url",
		Description: "Build a dataset search URL without fetching it",
	}, instrumented(s, "get_search_url", s.handleSearchURL))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_info_url",
		Description: "Build a dataset metadata URL without fetching it",
	}, instrumented(s, "get_info_url", s.handleInfoURL))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_download_url",
		Description: "Build a tabledap download URL without fetching it",
	}, instrumented(s, "get_download_url", s.handleDownloadURL))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "read_table",
		Description: "Read dataset rows via tabledap and return them as a table",
	}, instrumented(s, "read_table", s.handleReadTable))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "download_file",
		Description: "Download a tabledap result to a local file",
	}, instrumented(s, "download_file", s.handleDownloadFile))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_servers",
		Description: "List well-known public ERDDAP servers",
	}, instrumented(s, "list_servers", s.handleListServers))
}

// instrumented wraps a tool handler with telemetry.
func instrumented[In, Out any](
	s *Server,
	tool string,
	h func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error),
) func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, Out, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input In) (*mcp.CallToolResult, Out, error) {
		var (
			result *mcp.CallToolResult
			out    Out
			err    error
		)

		instrumentedErr := s.ports.Telemetry.InstrumentToolCall(ctx, tool, func(ctx context.Context) error {
			result, out, err = h(ctx, req, input)

			return err
		})
		if instrumentedErr != nil {
			var zero Out

			return nil, zero, instrumentedErr
		}

		return result, out, nil
	}
}

func (s *Server) client(serverURL string) *catalog.Client {
	if serverURL == "" {
		serverURL = DefaultServer
	}

	return s.ports.Catalogs.Client(serverURL)
}

func (s *Server) handleSearchDatasets(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}

	results, err := s.client(input.ServerURL).Search(ctx, input.Query, limit)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Results: make([]DatasetResult, len(results)),
		Count:   len(results),
	}

	for i := range results {
		output.Results[i] = DatasetResult{
			DatasetID:   results[i].DatasetID,
			Title:       results[i].Title,
			Summary:     results[i].Summary,
			Institution: results[i].Institution,
		}
	}

	return nil, output, nil
}

func (s *Server) handleDatasetInfo(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input InfoInput,
) (*mcp.CallToolResult, InfoOutput, error) {
	info, err := s.client(input.ServerURL).Info(ctx, input.DatasetID)
	if err != nil {
		return nil, InfoOutput{}, err
	}

	return nil, InfoOutput{
		DatasetID:     info.DatasetID,
		Global:        info.Global,
		VariableCount: len(info.Variables),
	}, nil
}

func (s *Server) handleDatasetVariables(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input InfoInput,
) (*mcp.CallToolResult, VariablesOutput, error) {
	info, err := s.client(input.ServerURL).Info(ctx, input.DatasetID)
	if err != nil {
		return nil, VariablesOutput{}, err
	}

	output := VariablesOutput{
		DatasetID: info.DatasetID,
		Variables: make([]VariableResult, len(info.Variables)),
	}

	for i := range info.Variables {
		output.Variables[i] = VariableResult{
			Name:       info.Variables[i].Name,
			DataType:   info.Variables[i].DataType,
			Attributes: info.Variables[i].Attributes,
		}
	}

	return nil, output, nil
}

func (s *Server) handleVarByAttr(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input VarByAttrInput,
) (*mcp.CallToolResult, VarByAttrOutput, error) {
	info, err := s.client(input.ServerURL).Info(ctx, input.DatasetID)
	if err != nil {
		return nil, VarByAttrOutput{}, err
	}

	var output VarByAttrOutput

	for _, v := range info.Variables {
		if v.Attributes[input.AttrName] == input.AttrValue {
			output.Variables = append(output.Variables, v.Name)
		}
	}

	return nil, output, nil
}

func (s *Server) handleSearchURL(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input SearchURLInput,
) (*mcp.CallToolResult, URLOutput, error) {
	format := input.Format
	if format == "" {
		format = "csv"
	}

	return nil, URLOutput{URL: s.client(input.ServerURL).SearchURL(input.Query, format, input.Limit)}, nil
}

func (s *Server) handleInfoURL(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input InfoURLInput,
) (*mcp.CallToolResult, URLOutput, error) {
	format := input.Format
	if format == "" {
		format = "csv"
	}

	return nil, URLOutput{URL: s.client(input.ServerURL).InfoURL(input.DatasetID, format)}, nil
}

func (s *Server) handleDownloadURL(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input DownloadURLInput,
) (*mcp.CallToolResult, URLOutput, error) {
	format := input.Format
	if format == "" {
		format = "csv"
	}

	url := s.client(input.ServerURL).TabledapURL(input.DatasetID, input.Variables, input.Constraints, format)

	return nil, URLOutput{URL: url}, nil
}

func (s *Server) handleReadTable(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ReadTableInput,
) (*mcp.CallToolResult, ReadTableOutput, error) {
	maxRows := input.MaxRows
	if maxRows <= 0 {
		maxRows = 100
	}

	table, err := s.client(input.ServerURL).ReadTable(ctx, input.DatasetID, input.Variables, input.Constraints, maxRows)
	if err != nil {
		return nil, ReadTableOutput{}, err
	}

	return nil, ReadTableOutput{
		Columns:   table.Columns,
		Units:     table.Units,
		Rows:      table.Rows,
		RowCount:  len(table.Rows),
		Truncated: table.Truncated,
		Rendered:  table.Render(),
	}, nil
}

func (s *Server) handleDownloadFile(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DownloadFileInput,
) (*mcp.CallToolResult, DownloadFileOutput, error) {
	format := input.Format
	if format == "" {
		format = "csv"
	}

	client := s.client(input.ServerURL)
	url := client.TabledapURL(input.DatasetID, input.Variables, input.Constraints, format)

	name := fmt.Sprintf("%s_%s.%s", input.DatasetID, time.Now().UTC().Format("20060102T150405Z"), format)
	dest := filepath.Join(s.ports.DownloadDir, name)

	written, err := client.FetchFile(ctx, url, dest)
	if err != nil {
		return nil, DownloadFileOutput{}, err
	}

	return nil, DownloadFileOutput{
		URL:       url,
		LocalPath: dest,
		Bytes:     written,
	}, nil
}

func (s *Server) handleListServers(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ struct{},
) (*mcp.CallToolResult, ListServersOutput, error) {
	return nil, ListServersOutput{Servers: wellKnownServers}, nil
}
