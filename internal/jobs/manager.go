// Package jobs manages the lifecycle of asynchronous scrape runs. At most
// one run is in flight at a time; submissions during a run are rejected.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cloudscout/archscraper/internal/metrics"
	"github.com/cloudscout/archscraper/internal/scraper"
)

// BatchRunner produces one aggregated batch from the configured sources.
type BatchRunner interface {
	Run(ctx context.Context, sources []scraper.Source) (scraper.Batch, error)
}

// Config controls job execution.
type Config struct {
	// CompletionTopic, when set, receives an event after each persisted
	// batch. Publish failures never change the job outcome.
	CompletionTopic string
}

// CompletionEvent is the payload published after a batch is persisted.
type CompletionEvent struct {
	EventType     string    `json:"event_type"`
	JobID         string    `json:"job_id"`
	BatchID       string    `json:"batch_id"`
	State         string    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	FinishedAt    time.Time `json:"finished_at"`
	TotalPatterns int       `json:"total_patterns"`
	FailedSources int       `json:"failed_sources"`
	Sources       []string  `json:"sources"`
}

// Manager owns job state and drives runs to a terminal state.
type Manager struct {
	runner    BatchRunner
	store     scraper.BatchStore
	publisher scraper.Publisher
	ids       scraper.IDGenerator
	clock     scraper.Clock
	sources   []scraper.Source
	cfg       Config
	logger    *zap.Logger

	baseCtx context.Context
	wg      sync.WaitGroup

	mu      sync.RWMutex
	jobs    map[string]scraper.ScrapeJob
	current string
}

// NewManager constructs a Manager. Runs execute under baseCtx, detached
// from the submitting request, so an HTTP disconnect cannot abort a run.
func NewManager(
	baseCtx context.Context,
	runner BatchRunner,
	store scraper.BatchStore,
	publisher scraper.Publisher,
	ids scraper.IDGenerator,
	clock scraper.Clock,
	sources []scraper.Source,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		runner:    runner,
		store:     store,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		sources:   sources,
		cfg:       cfg,
		logger:    logger,
		baseCtx:   baseCtx,
		jobs:      make(map[string]scraper.ScrapeJob),
	}
}

// Sources returns the configured source list.
func (m *Manager) Sources() []scraper.Source {
	return append([]scraper.Source(nil), m.sources...)
}

// Submit starts a new scrape run and returns its job id. While a run is
// in flight every further submit fails with ErrRunInProgress.
func (m *Manager) Submit(_ context.Context) (string, error) {
	if len(m.sources) == 0 {
		return "", fmt.Errorf("no sources configured")
	}

	jobID, err := m.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}

	m.mu.Lock()
	if m.current != "" && !m.jobs[m.current].State.Terminal() {
		m.mu.Unlock()
		return "", scraper.ErrRunInProgress
	}
	m.jobs[jobID] = scraper.ScrapeJob{
		JobID: jobID,
		State: scraper.JobStatePending,
	}
	m.current = jobID
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(jobID)

	m.logger.Info("scrape job submitted", zap.String("job_id", jobID))
	return jobID, nil
}

// Status returns a snapshot of the job with the given id.
func (m *Manager) Status(jobID string) (scraper.ScrapeJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return scraper.ScrapeJob{}, scraper.ErrNotFound
	}
	return job, nil
}

// Current returns the most recently submitted job, if any.
func (m *Manager) Current() (scraper.ScrapeJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == "" {
		return scraper.ScrapeJob{}, false
	}
	return m.jobs[m.current], true
}

// Wait blocks until all in-flight runs have reached a terminal state.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) run(jobID string) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("scrape run panicked", zap.String("job_id", jobID), zap.Any("panic", r))
			m.finish(jobID, scraper.JobStateFailed, "", fmt.Sprintf("internal error: %v", r))
		}
	}()

	m.setRunning(jobID)

	batch, err := m.runner.Run(m.baseCtx, m.sources)
	if err != nil {
		m.logger.Warn("scrape run failed", zap.String("job_id", jobID), zap.Error(err))
		m.finish(jobID, scraper.JobStateFailed, "", err.Error())
		return
	}

	batchID, err := m.store.Persist(m.baseCtx, batch)
	if err != nil {
		m.logger.Error("batch persist failed", zap.String("job_id", jobID), zap.Error(err))
		m.finish(jobID, scraper.JobStateFailed, "", err.Error())
		return
	}
	batch.BatchID = batchID
	metrics.ObserveBatchPersisted(batch.TotalPatterns)

	state := scraper.JobStateSucceeded
	if batch.FailedSources() > 0 {
		state = scraper.JobStatePartial
	}
	m.finish(jobID, state, batchID, "")

	m.logger.Info("scrape run finished",
		zap.String("job_id", jobID),
		zap.String("batch_id", batchID),
		zap.String("state", string(state)),
		zap.Int("total_patterns", batch.TotalPatterns),
		zap.Int("failed_sources", batch.FailedSources()),
	)

	m.publishCompletion(jobID, state, batch)
}

func (m *Manager) publishCompletion(jobID string, state scraper.JobState, batch scraper.Batch) {
	if m.publisher == nil || m.cfg.CompletionTopic == "" {
		return
	}
	event := CompletionEvent{
		EventType:     "batch.completed",
		JobID:         jobID,
		BatchID:       batch.BatchID,
		State:         string(state),
		CreatedAt:     batch.CreatedAt,
		FinishedAt:    m.clock.Now(),
		TotalPatterns: batch.TotalPatterns,
		FailedSources: batch.FailedSources(),
		Sources:       batch.Sources,
	}
	if _, err := m.publisher.Publish(m.baseCtx, m.cfg.CompletionTopic, event); err != nil {
		m.logger.Warn("completion event publish failed",
			zap.String("job_id", jobID),
			zap.String("topic", m.cfg.CompletionTopic),
			zap.Error(err),
		)
	}
}

func (m *Manager) setRunning(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[jobID]
	job.State = scraper.JobStateRunning
	job.StartedAt = m.clock.Now()
	m.jobs[jobID] = job
}

func (m *Manager) finish(jobID string, state scraper.JobState, batchID, errText string) {
	now := m.clock.Now()
	m.mu.Lock()
	job := m.jobs[jobID]
	if job.State.Terminal() {
		m.mu.Unlock()
		return
	}
	job.State = state
	job.FinishedAt = &now
	job.ResultBatchID = batchID
	job.Error = errText
	m.jobs[jobID] = job
	m.mu.Unlock()

	metrics.ObserveJob(string(state))
}
