package jobs

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"logbook/internal/logger"
	"logbook/internal/storage"
)

// Worker drains the purge queue: it removes attachment files whose owning
// rows were deleted by the API path.
type Worker struct {
	ID    string
	Repo  *Repo
	Files storage.Store
	Log   *logger.Logger
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(800 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.Repo.Claim(w.ID)
			if err != nil {
				w.Log.Error().Err(err).Msg("worker claim error")
				continue
			}
			if job == nil {
				continue
			}
			w.handle(job)
		}
	}
}

func (w *Worker) handle(job *Job) {
	switch job.Type {
	case TypeFilePurge:
		w.handleFilePurge(job)
	default:
		_ = w.Repo.MarkFailed(job.ID, "unknown job type")
	}
}

func (w *Worker) handleFilePurge(job *Job) {
	var p FilePurgePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		_ = w.Repo.MarkFailed(job.ID, "bad payload")
		return
	}

	for _, path := range p.Paths {
		// Remove treats missing files as already purged
		if err := w.Files.Remove(path); err != nil {
			w.Log.Warn().Err(err).Str("path", path).Uint64("job_id", job.ID).Msg("purge failed")
			w.retry(job, "remove "+path+": "+err.Error())
			return
		}
	}

	w.Log.Info().Uint64("job_id", job.ID).Int("files", len(p.Paths)).Msg("attachments purged")
	_ = w.Repo.MarkDone(job.ID)
}

func (w *Worker) retry(job *Job, errMsg string) {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		_ = w.Repo.MarkFailed(job.ID, errMsg)
		return
	}

	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	next := time.Now().Add(time.Duration(sec) * time.Second)

	_ = w.Repo.RetryLater(job.ID, attempts, next, errMsg)
}
