package ledger

import "github.com/starford/grandlibs/internal/provision"

// RecordAttempt implements provision.Recorder.
func (db *DB) RecordAttempt(a provision.Attempt) error {
	e := Entry{
		Library:   a.Library,
		Revision:  a.Revision,
		Patchset:  a.Patchset,
		Status:    Status(a.Outcome),
		StartedAt: a.StartedAt,
		Duration:  a.Duration,
	}
	if a.Err != nil {
		e.Error = a.Err.Error()
	}
	_, err := db.Append(e)
	return err
}

var _ provision.Recorder = (*DB)(nil)
