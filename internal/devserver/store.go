package devserver

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nmalhotra/docwatch/pkg/models"
)

var (
	ErrNotFound = errors.New("job not found")

	// ErrSuperseded means a write was refused because the stored record is
	// already terminal. The caller's view of the job is stale.
	ErrSuperseded = errors.New("job already terminal")
)

// Job is the server-side record of one conversion, including its result once
// completed.
type Job struct {
	ID          string                 `json:"id"`
	Filename    string                 `json:"filename"`
	FileSize    int64                  `json:"file_size"`
	Status      string                 `json:"status"`
	Progress    int                    `json:"progress"`
	Message     string                 `json:"message,omitempty"`
	Error       string                 `json:"error,omitempty"`
	UploadTime  time.Time              `json:"upload_time"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Result      *models.ResultDocument `json:"result,omitempty"`
}

// Store is the job store interface. Implementations must be safe for
// concurrent use. Terminal jobs expire after the store's TTL.
type Store interface {
	Put(ctx context.Context, job *Job) error
	// PutIfActive persists the job unless the stored record has already
	// reached a terminal status, in which case it returns ErrSuperseded and
	// leaves the record untouched. The check and the write are atomic.
	PutIfActive(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context) ([]*Job, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	ttl time.Duration

	mu   sync.RWMutex
	jobs map[string]memoryEntry
}

type memoryEntry struct {
	job       Job
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, jobs: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Put(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(job)
	return nil
}

func (s *MemoryStore) PutIfActive(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.jobs[job.ID]; ok && !entry.expired() && models.IsTerminal(entry.job.Status) {
		return ErrSuperseded
	}
	s.putLocked(job)
	return nil
}

func (s *MemoryStore) putLocked(job *Job) {
	entry := memoryEntry{job: *job}
	if models.IsTerminal(job.Status) && s.ttl > 0 {
		entry.expiresAt = time.Now().Add(s.ttl)
	}
	s.jobs[job.ID] = entry
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	entry, ok := s.jobs[id]
	s.mu.RUnlock()

	if !ok || entry.expired() {
		return nil, ErrNotFound
	}
	job := entry.job
	return &job, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Job, error) {
	s.mu.RLock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, entry := range s.jobs {
		if entry.expired() {
			continue
		}
		job := entry.job
		jobs = append(jobs, &job)
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].UploadTime.After(jobs[j].UploadTime)
	})
	return jobs, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (e memoryEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

var _ Store = (*MemoryStore)(nil)
