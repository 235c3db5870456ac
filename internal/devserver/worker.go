package devserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nmalhotra/docwatch/pkg/models"
)

// stages the worker advances through before completion.
var stages = []struct {
	progress int
	message  string
}{
	{10, "parsing document"},
	{40, "analyzing layout"},
	{70, "converting content"},
	{90, "rendering output"},
}

// process runs the conversion for one job in its own goroutine. The job is
// passed by value; the worker owns the record from here on and persists each
// stage transition. Every write goes through PutIfActive so a cancellation
// that lands mid-conversion is never overwritten.
func (s *Server) process(job Job, data []byte) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in conversion worker", "job_id", job.ID, "error", r)
			s.markFailed(ctx, &job, "internal conversion error")
		}
	}()

	started := time.Now().UTC()
	job.Status = models.StatusProcessing
	job.StartedAt = &started

	for _, stage := range stages {
		job.Progress = stage.progress
		job.Message = stage.message
		if !s.advance(ctx, &job) {
			return
		}

		if s.stageDelay > 0 {
			time.Sleep(s.stageDelay)
		}
	}

	result, err := convert(&job, data, started)
	if err != nil {
		slog.Error("conversion failed", "job_id", job.ID, "error", err)
		s.markFailed(ctx, &job, "conversion failed")
		return
	}

	now := time.Now().UTC()
	job.Status = models.StatusCompleted
	job.Progress = 100
	job.Message = "conversion complete"
	job.CompletedAt = &now
	job.Result = result

	s.advance(ctx, &job)
}

// advance persists one transition. Returns false when the worker must stop,
// either because the record went terminal under it (cancellation) or because
// the store failed.
func (s *Server) advance(ctx context.Context, job *Job) bool {
	err := s.store.PutIfActive(ctx, job)
	if errors.Is(err, ErrSuperseded) {
		slog.Info("job cancelled, stopping worker", "job_id", job.ID)
		return false
	}
	if err != nil {
		slog.Error("persisting job transition failed", "job_id", job.ID, "error", err)
		return false
	}
	return true
}

func (s *Server) markFailed(ctx context.Context, job *Job, message string) {
	now := time.Now().UTC()
	job.Status = models.StatusFailed
	job.Error = message
	job.CompletedAt = &now
	if err := s.store.PutIfActive(ctx, job); err != nil && !errors.Is(err, ErrSuperseded) {
		slog.Error("persisting failed job failed", "job_id", job.ID, "error", err)
	}
}
