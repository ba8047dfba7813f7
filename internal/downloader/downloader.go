// Package downloader orchestrates incremental dataset synchronization: list
// what the server has, diff it against the tracked state, fetch only the new
// files, and record every success so the next pass skips it.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/gandalf-gdac/erddap_sync/internal/catalog"
	"github.com/gandalf-gdac/erddap_sync/internal/logctx"
	"github.com/gandalf-gdac/erddap_sync/internal/telemetry"
	"github.com/gandalf-gdac/erddap_sync/internal/tracker"
)

// DefaultPattern selects NetCDF files, which is what ERDDAP file listings
// mostly serve.
const DefaultPattern = "*.nc"

const eventBuffer = 64

// Catalog is the slice of the catalog client the downloader needs.
type Catalog interface {
	ListFiles(ctx context.Context, datasetID string) ([]catalog.FileEntry, error)
	FetchFile(ctx context.Context, fileURL, dest string) (int64, error)
}

// Tracker is the slice of the sync tracker the downloader needs.
type Tracker interface {
	Diff(collectionID string, available []string, force bool) ([]string, error)
	Record(collectionID, itemID string, detail tracker.ItemDetail, overwrite bool) error
	Touch(collectionID string) error
}

// FileEvent describes one finished or failed file download.
type FileEvent struct {
	DatasetID string
	FileName  string
	LocalPath string
	Bytes     int64
	Err       error
}

// PassResult summarizes one synchronization pass over a dataset.
type PassResult struct {
	DatasetID  string
	Listed     int
	New        int
	Downloaded int
	Failed     int
	Bytes      int64
}

// Options tune a Downloader.
type Options struct {
	// Pattern filters listed file names, path.Match syntax. Empty means
	// DefaultPattern.
	Pattern string
	// Delay is the pause between file downloads within one dataset, a
	// courtesy to public ERDDAP servers.
	Delay time.Duration
	// Force re-downloads files the tracker already knows about.
	Force bool
	// MaxParallel bounds how many datasets sync at once. Files within a
	// dataset always download sequentially.
	MaxParallel int
	// Telemetry records sync pass metrics. Optional.
	Telemetry *telemetry.Telemetry
}

// Downloader drives synchronization passes.
type Downloader struct {
	outputDir string
	cat       Catalog
	trk       Tracker
	opts      Options

	OnFileDownloaded    chan FileEvent
	OnFileDownloadError chan FileEvent
	OnDatasetSynced     chan PassResult
}

// New creates a downloader that writes files under outputDir/<datasetID>/.
func New(outputDir string, cat Catalog, trk Tracker, opts Options) *Downloader {
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}

	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}

	return &Downloader{
		outputDir:           outputDir,
		cat:                 cat,
		trk:                 trk,
		opts:                opts,
		OnFileDownloaded:    make(chan FileEvent, eventBuffer),
		OnFileDownloadError: make(chan FileEvent, eventBuffer),
		OnDatasetSynced:     make(chan PassResult, eventBuffer),
	}
}

// Close closes the event channels. Call only after every sync pass has
// returned.
func (d *Downloader) Close() {
	close(d.OnFileDownloaded)
	close(d.OnFileDownloadError)
	close(d.OnDatasetSynced)
}

// SyncAll runs one pass over every dataset, at most MaxParallel of them
// concurrently. The first failing dataset cancels the rest.
func (d *Downloader) SyncAll(ctx context.Context, datasetIDs []string) ([]PassResult, error) {
	results := make([]PassResult, len(datasetIDs))

	wg, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, d.opts.MaxParallel)

	for i, datasetID := range datasetIDs {
		sem <- struct{}{}

		wg.Go(func() error {
			defer func() { <-sem }()

			result, err := d.SyncDataset(ctx, datasetID)
			if err != nil {
				return fmt.Errorf("failed to sync dataset %s: %w", datasetID, err)
			}

			results[i] = *result

			return nil
		})
	}

	if err := wg.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// SyncDataset runs one pass over a single dataset: list, filter, diff,
// fetch, record. Individual file failures are counted and reported on the
// error channel but do not abort the pass; the file stays untracked so the
// next pass retries it. A dataset with no files listing on the server yields
// an empty pass, not an error.
func (d *Downloader) SyncDataset(ctx context.Context, datasetID string) (*PassResult, error) {
	var result *PassResult

	err := d.opts.Telemetry.InstrumentSyncPass(ctx, func(ctx context.Context) error {
		var err error
		result, err = d.syncDataset(ctx, datasetID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (d *Downloader) syncDataset(ctx context.Context, datasetID string) (*PassResult, error) {
	logger := logctx.LoggerFromContext(ctx).With("dataset_id", datasetID)

	result := &PassResult{DatasetID: datasetID}

	entries, err := d.cat.ListFiles(ctx, datasetID)
	if err != nil {
		var notFound *catalog.NotFoundError
		if errors.As(err, &notFound) {
			// Absent listing means nothing available, but the pass still
			// counts as a check.
			logger.Warn("dataset has no files listing", "err", err)

			if err := d.trk.Touch(datasetID); err != nil {
				return nil, fmt.Errorf("failed to record check time: %w", err)
			}

			return result, nil
		}

		var transient *catalog.TransientError
		if errors.As(err, &transient) {
			// A flaky server yields zero new items this pass; last_check
			// stays put so operators can see the collection went unchecked.
			logger.Warn("listing unavailable this pass", "err", err)

			return result, nil
		}

		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	entries, err = d.filter(entries)
	if err != nil {
		return nil, err
	}

	result.Listed = len(entries)

	byName := make(map[string]catalog.FileEntry, len(entries))
	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if _, ok := byName[entry.Name]; !ok {
			names = append(names, entry.Name)
		}

		byName[entry.Name] = entry
	}

	pending, err := d.trk.Diff(datasetID, names, d.opts.Force)
	if err != nil {
		return nil, fmt.Errorf("failed to diff against tracked state: %w", err)
	}

	result.New = len(pending)

	logger.Info("sync pass started",
		"listed", result.Listed,
		"new", result.New,
		"force", d.opts.Force)

	for i, name := range pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if i > 0 && d.opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.opts.Delay):
			}
		}

		entry := byName[name]
		dest := filepath.Join(d.outputDir, datasetID, name)

		written, err := d.cat.FetchFile(ctx, entry.URL, dest)
		if err != nil {
			logger.Error("failed to download file", "file_name", name, "err", err)

			result.Failed++

			emit(d.OnFileDownloadError, FileEvent{
				DatasetID: datasetID,
				FileName:  name,
				LocalPath: dest,
				Err:       err,
			})

			continue
		}

		detail := tracker.ItemDetail{
			DownloadTime: time.Now().UTC(),
			Size:         written,
			LocalPath:    dest,
		}

		if err := d.trk.Record(datasetID, name, detail, d.opts.Force); err != nil {
			return nil, fmt.Errorf("failed to record downloaded file %s: %w", name, err)
		}

		result.Downloaded++
		result.Bytes += written

		logger.Info("downloaded file",
			"file_name", name,
			"size", humanize.Bytes(uint64(written)))

		emit(d.OnFileDownloaded, FileEvent{
			DatasetID: datasetID,
			FileName:  name,
			LocalPath: dest,
			Bytes:     written,
		})
	}

	if err := d.trk.Touch(datasetID); err != nil {
		return nil, fmt.Errorf("failed to record check time: %w", err)
	}

	logger.Info("sync pass finished",
		"downloaded", result.Downloaded,
		"failed", result.Failed,
		"bytes", humanize.Bytes(uint64(result.Bytes)))

	emit(d.OnDatasetSynced, *result)

	return result, nil
}

func (d *Downloader) filter(entries []catalog.FileEntry) ([]catalog.FileEntry, error) {
	filtered := entries[:0]

	for _, entry := range entries {
		ok, err := path.Match(d.opts.Pattern, entry.Name)
		if err != nil {
			return nil, fmt.Errorf("invalid file pattern %q: %w", d.opts.Pattern, err)
		}

		if ok {
			filtered = append(filtered, entry)
		}
	}

	return filtered, nil
}

// emit delivers an event without ever blocking a sync pass. Consumers that
// fall behind lose events, never progress.
func emit[T any](ch chan T, ev T) {
	select {
	case ch <- ev:
	default:
	}
}
