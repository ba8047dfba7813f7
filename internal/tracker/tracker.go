// Package tracker decides which items of a remote collection still need to
// be retrieved and durably remembers what has already been fetched, so that
// repeated synchronization passes skip finished work and survive restarts.
package tracker

import (
	"sync"
	"time"
)

// ItemDetail describes one successfully retrieved item.
type ItemDetail struct {
	DownloadTime time.Time `json:"download_time"`
	Size         int64     `json:"size"`
	LocalPath    string    `json:"local_path"`
}

// CollectionRecord is the per-collection portion of the state document.
// DownloadedFiles and the key set of FileDetails are kept in lockstep:
// an item appears in both or in neither.
type CollectionRecord struct {
	DownloadedFiles []string              `json:"downloaded_files"`
	LastCheck       *time.Time            `json:"last_check"`
	FileDetails     map[string]ItemDetail `json:"file_details"`
}

// State is the full persisted document: collection id to record.
type State map[string]*CollectionRecord

// StateStore persists the state document. Load returns an empty State when
// no document exists yet; a present-but-undecodable document surfaces as
// *CorruptStateError. Save must replace the document atomically.
type StateStore interface {
	Load() (State, error)
	Save(State) error
}

// Tracker is the in-memory view of the state document. All operations
// serialize on an internal mutex; mutating operations are all-or-nothing
// with respect to the persisted document.
type Tracker struct {
	mu    sync.Mutex
	store StateStore
	state State

	now func() time.Time
}

// New loads the persisted state and returns a ready tracker.
func New(store StateStore) (*Tracker, error) {
	state, err := store.Load()
	if err != nil {
		return nil, err
	}

	if state == nil {
		state = State{}
	}

	return &Tracker{
		store: store,
		state: state,
		now:   time.Now,
	}, nil
}

// Diff returns the items of available that have not been retrieved yet for
// the given collection, preserving input order. Duplicates in available
// collapse to their first occurrence. With force set, every available item
// is treated as new. Diff never mutates state.
func (t *Tracker) Diff(collectionID string, available []string, force bool) ([]string, error) {
	if collectionID == "" {
		return nil, &InvalidArgumentError{Reason: "empty collection id"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.state[collectionID]

	seen := make(map[string]struct{}, len(available))
	missing := make([]string, 0, len(available))

	for _, item := range available {
		if item == "" {
			return nil, &InvalidArgumentError{Reason: "empty item id in available list"}
		}

		if _, dup := seen[item]; dup {
			continue
		}

		seen[item] = struct{}{}

		if !force && rec != nil {
			if _, ok := rec.FileDetails[item]; ok {
				continue
			}
		}

		missing = append(missing, item)
	}

	return missing, nil
}

// Record marks an item as fully retrieved and persists the state document.
// Recording an item already tracked under a different local path fails with
// *ConflictError unless overwrite is set. On persist failure the in-memory
// state is left exactly as before the call.
func (t *Tracker) Record(collectionID, itemID string, detail ItemDetail, overwrite bool) error {
	if collectionID == "" {
		return &InvalidArgumentError{Reason: "empty collection id"}
	}

	if itemID == "" {
		return &InvalidArgumentError{Reason: "empty item id"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if rec := t.state[collectionID]; rec != nil {
		if existing, ok := rec.FileDetails[itemID]; ok {
			if existing.LocalPath != detail.LocalPath && !overwrite {
				return &ConflictError{
					Collection:   collectionID,
					Item:         itemID,
					ExistingPath: existing.LocalPath,
					ProposedPath: detail.LocalPath,
				}
			}
		}
	}

	next := t.cloneWith(collectionID, func(rec *CollectionRecord) {
		if _, ok := rec.FileDetails[itemID]; !ok {
			rec.DownloadedFiles = append(rec.DownloadedFiles, itemID)
		}

		rec.FileDetails[itemID] = detail
		rec.LastCheck = t.stamp(rec.LastCheck)
	})

	if err := t.store.Save(next); err != nil {
		return &PersistError{Collection: collectionID, Err: err}
	}

	t.state = next

	return nil
}

// Touch updates the last synchronization timestamp without recording items,
// so operators can tell "never synced" from "synced, nothing new".
func (t *Tracker) Touch(collectionID string) error {
	if collectionID == "" {
		return &InvalidArgumentError{Reason: "empty collection id"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.cloneWith(collectionID, func(rec *CollectionRecord) {
		rec.LastCheck = t.stamp(rec.LastCheck)
	})

	if err := t.store.Save(next); err != nil {
		return &PersistError{Collection: collectionID, Err: err}
	}

	t.state = next

	return nil
}

// Retrieved returns the item ids recorded for a collection in record order.
func (t *Tracker) Retrieved(collectionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.state[collectionID]
	if rec == nil {
		return nil
	}

	out := make([]string, len(rec.DownloadedFiles))
	copy(out, rec.DownloadedFiles)

	return out
}

// LastCheck reports the most recent synchronization attempt for a
// collection. The second return is false when the collection has never been
// synced.
func (t *Tracker) LastCheck(collectionID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.state[collectionID]
	if rec == nil || rec.LastCheck == nil {
		return time.Time{}, false
	}

	return *rec.LastCheck, true
}

// Detail returns the stored detail for one item.
func (t *Tracker) Detail(collectionID, itemID string) (ItemDetail, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.state[collectionID]
	if rec == nil {
		return ItemDetail{}, false
	}

	detail, ok := rec.FileDetails[itemID]

	return detail, ok
}

// cloneWith builds a new state map with a deep copy of the target collection
// record, applies mutate to the copy, and leaves every other record shared.
// The caller swaps it in only after a successful Save, which gives Record
// and Touch their all-or-nothing behavior. Callers must hold t.mu.
func (t *Tracker) cloneWith(collectionID string, mutate func(*CollectionRecord)) State {
	next := make(State, len(t.state)+1)
	for id, rec := range t.state {
		next[id] = rec
	}

	var rec CollectionRecord
	if prev := t.state[collectionID]; prev != nil {
		rec.DownloadedFiles = append([]string(nil), prev.DownloadedFiles...)
		rec.FileDetails = make(map[string]ItemDetail, len(prev.FileDetails)+1)

		for item, detail := range prev.FileDetails {
			rec.FileDetails[item] = detail
		}

		if prev.LastCheck != nil {
			ts := *prev.LastCheck
			rec.LastCheck = &ts
		}
	} else {
		rec.DownloadedFiles = []string{}
		rec.FileDetails = map[string]ItemDetail{}
	}

	mutate(&rec)
	next[collectionID] = &rec

	return next
}

// stamp returns the current time, never going backwards relative to prev.
func (t *Tracker) stamp(prev *time.Time) *time.Time {
	now := t.now().UTC()
	if prev != nil && now.Before(*prev) {
		now = *prev
	}

	return &now
}
