// Package history keeps a local ledger of submitted conversion jobs so the
// CLI can list past work without asking the service. Ledger writes are best
// effort; callers log failures and carry on.
package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"
)

var ErrNotFound = errors.New("job not in history")

// Entry is one submitted job as recorded locally.
type Entry struct {
	JobID       string
	Filename    string
	FileSize    int64
	Status      string
	Error       string
	SubmittedAt time.Time
	CompletedAt *time.Time
}

// Store is the ledger interface.
type Store interface {
	RecordSubmission(ctx context.Context, jobID, filename string, fileSize int64) error
	UpdateOutcome(ctx context.Context, jobID, status, errMsg string) error
	Get(ctx context.Context, jobID string) (*Entry, error)
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// DefaultPath returns the standard ledger location under the user's home
// directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".docwatch", "history.db"), nil
}
