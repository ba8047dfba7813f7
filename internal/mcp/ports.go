package mcp

import (
	"github.com/gandalf-gdac/erddap_sync/internal/catalog"
	"github.com/gandalf-gdac/erddap_sync/internal/telemetry"
)

// DefaultServer is used when a tool call does not name an ERDDAP server.
const DefaultServer = "https://coastwatch.pfeg.noaa.gov/erddap"

// Ports aggregates the dependencies the MCP server needs. This provides a
// single injection point for dependency injection.
type Ports struct {
	// Catalogs hands out one catalog client per ERDDAP server.
	Catalogs *catalog.Registry

	// Telemetry records tool call metrics. Optional.
	Telemetry *telemetry.Telemetry

	// DownloadDir is where the download_file tool writes files.
	DownloadDir string
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Catalogs == nil {
		return ErrMissingCatalogs
	}

	return nil
}
