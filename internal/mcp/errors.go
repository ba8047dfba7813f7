// Package mcp exposes the ERDDAP catalog over the Model Context Protocol so
// AI assistants can search datasets, inspect metadata, and read data.
package mcp

import "errors"

// ErrMissingCatalogs is returned when no catalog registry is provided.
var ErrMissingCatalogs = errors.New("mcp: catalog registry is required")
