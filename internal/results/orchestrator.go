// Package results fetches and materializes conversion output once a job has
// completed. It caches the full result document per job id so that duplicate
// completion observations cost one transport call, and writes downloads to
// disk without ever reaching back into polling state.
package results

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nmalhotra/docwatch/internal/docling"
	"github.com/nmalhotra/docwatch/pkg/models"
)

// Orchestrator is safe for concurrent use. It holds at most one cached
// result document; observing a different job id evicts the previous one.
type Orchestrator struct {
	client docling.Client

	mu    sync.Mutex
	jobID string
	doc   *models.ResultDocument
}

func New(client docling.Client) *Orchestrator {
	return &Orchestrator{client: client}
}

// Fetch returns the full result for a completed job. The first call per job
// id hits the service; subsequent calls for the same id return the cached
// document. Errors are not cached, so a not-ready result can be retried.
func (o *Orchestrator) Fetch(ctx context.Context, jobID string) (*models.ResultDocument, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.doc != nil && o.jobID == jobID {
		return o.doc, nil
	}

	doc, err := o.client.Result(ctx, jobID)
	if err != nil {
		return nil, err
	}

	o.jobID = jobID
	o.doc = doc
	return doc, nil
}

// Invalidate drops the cached document for a job id. A mismatched id is a
// no-op.
func (o *Orchestrator) Invalidate(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.jobID == jobID {
		o.jobID = ""
		o.doc = nil
	}
}

// Download fetches the converted document in the given format and writes it
// into dir, returning the written path. Every call is a fresh transport
// request; nothing is cached.
func (o *Orchestrator) Download(ctx context.Context, jobID string, format models.Format, dir string) (string, error) {
	data, suggested, err := o.client.Download(ctx, jobID, format)
	if err != nil {
		return "", err
	}

	name := filepath.Base(suggested)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = o.fallbackName(jobID, format)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating download dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing download: %w", err)
	}
	return path, nil
}

// fallbackName derives a filename when the service suggests none: the
// original filename's base with the format's extension, or the job id.
func (o *Orchestrator) fallbackName(jobID string, format models.Format) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	base := jobID
	if o.doc != nil && o.jobID == jobID && o.doc.OriginalFilename != "" {
		orig := filepath.Base(o.doc.OriginalFilename)
		base = strings.TrimSuffix(orig, filepath.Ext(orig))
	}
	return base + format.Ext()
}
