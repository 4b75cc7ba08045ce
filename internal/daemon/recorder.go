package daemon

import (
	"github.com/highbeam/settingswatch/internal/settings"
	"github.com/highbeam/settingswatch/internal/store"
)

// storeRecorder persists reload records in the reloads table.
type storeRecorder struct {
	store *store.Store
	runID string
}

func (r *storeRecorder) RecordReload(rec settings.Record) error {
	_, err := r.store.InsertReload(toReloadRecord(r.runID, rec))
	return err
}

func toReloadRecord(runID string, rec settings.Record) store.ReloadRecord {
	return store.ReloadRecord{
		RunID:        runID,
		SettingsPath: rec.Path,
		Trigger:      string(rec.Trigger),
		Outcome:      string(rec.Outcome),
		Digest:       rec.Digest,
		SizeBytes:    rec.Size,
		Revision:     rec.Revision.Commit,
		Branch:       rec.Revision.Branch,
		Dirty:        rec.Revision.Dirty,
		Error:        rec.Err,
		Timestamp:    rec.Time,
	}
}
