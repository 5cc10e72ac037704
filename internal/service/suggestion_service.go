package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-rt-workflow/internal/errors"
	"github.com/pesio-ai/be-rt-workflow/internal/logger"
)

// JobState is the lifecycle of one suggestion job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobCancelled JobState = "cancelled"
	JobFailed    JobState = "failed"
)

// ItemSuggestion pairs an item with its advisory suggestion.
type ItemSuggestion struct {
	ItemID     string      `json:"item_id"`
	Suggestion *Suggestion `json:"suggestion"`
}

// SuggestionJob tracks one background suggestion run over a version's items.
// Results are advisory only; a job never touches the decision ledger, and
// cancelling one never rolls back decisions already recorded.
type SuggestionJob struct {
	ID        string           `json:"id"`
	VersionID string           `json:"version_id"`
	State     JobState         `json:"state"`
	Results   []ItemSuggestion `json:"results,omitempty"`
	Error     string           `json:"error,omitempty"`

	cancel context.CancelFunc
}

// SuggestionService runs suggestion jobs off the request path. Callers
// enqueue and poll; the engine never blocks on the suggestion gateway.
type SuggestionService struct {
	items      ItemStore
	versions   VersionStore
	suggestion SuggestionClientInterface
	log        *logger.Logger

	mu   sync.Mutex
	jobs map[string]*SuggestionJob
	work chan string
}

// NewSuggestionService creates a SuggestionService.
func NewSuggestionService(
	items ItemStore,
	versions VersionStore,
	suggestion SuggestionClientInterface,
	log *logger.Logger,
) *SuggestionService {
	return &SuggestionService{
		items:      items,
		versions:   versions,
		suggestion: suggestion,
		log:        log,
		jobs:       make(map[string]*SuggestionJob),
		work:       make(chan string, 64),
	}
}

// Enqueue registers a job for a version and returns immediately.
func (s *SuggestionService) Enqueue(ctx context.Context, versionID string) (*SuggestionJob, error) {
	if s.suggestion == nil {
		return nil, errors.New(errors.ErrCodeInternal, "suggestion gateway is not configured")
	}
	if _, err := s.versions.GetByID(ctx, versionID); err != nil {
		return nil, err
	}

	job := &SuggestionJob{
		ID:        uuid.NewString(),
		VersionID: versionID,
		State:     JobQueued,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	select {
	case s.work <- job.ID:
	default:
		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		return nil, errors.New(errors.ErrCodeConflict, "suggestion queue is full")
	}

	return job, nil
}

// Get returns a snapshot of a job's state for polling.
func (s *SuggestionService) Get(jobID string) (*SuggestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, errors.NotFound("suggestion_job", jobID)
	}
	snapshot := *job
	snapshot.cancel = nil
	return &snapshot, nil
}

// Cancel stops a queued or running job. Already-produced results stay.
func (s *SuggestionService) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return errors.NotFound("suggestion_job", jobID)
	}
	switch job.State {
	case JobQueued:
		job.State = JobCancelled
	case JobRunning:
		if job.cancel != nil {
			job.cancel()
		}
		job.State = JobCancelled
	default:
		return errors.Newf(errors.ErrCodeConflict, "job is already %s", job.State)
	}
	return nil
}

// Run consumes the work queue until ctx is done. Started once from
// cmd/server.
func (s *SuggestionService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case jobID := <-s.work:
			s.runJob(ctx, jobID)
		}
	}
}

func (s *SuggestionService) runJob(ctx context.Context, jobID string) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok || job.State != JobQueued {
		s.mu.Unlock()
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	job.State = JobRunning
	job.cancel = cancel
	versionID := job.VersionID
	s.mu.Unlock()
	defer cancel()

	items, err := s.items.ListByVersion(jobCtx, versionID)
	if err != nil {
		s.finish(jobID, JobFailed, nil, err.Error())
		return
	}

	var results []ItemSuggestion
	for _, item := range items {
		if jobCtx.Err() != nil {
			// Cancelled mid-run; keep what was produced so far.
			s.finish(jobID, JobCancelled, results, "")
			return
		}
		sug, err := s.suggestion.Suggest(jobCtx, item.Payload)
		if err != nil {
			s.log.Warn().Err(err).Str("item_id", item.ID).Msg("suggestion failed for item")
			continue
		}
		results = append(results, ItemSuggestion{ItemID: item.ID, Suggestion: sug})
	}

	s.finish(jobID, JobCompleted, results, "")
	s.log.Info().Str("job_id", jobID).Int("results", len(results)).Msg("suggestion job completed")
}

func (s *SuggestionService) finish(jobID string, state JobState, results []ItemSuggestion, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return
	}
	if job.State == JobCancelled && state != JobCancelled {
		// Cancel won the race; record results but keep the cancelled state.
		job.Results = results
		return
	}
	job.State = state
	job.Results = results
	job.Error = errMsg
}
