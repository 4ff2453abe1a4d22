// Package scraper defines the core types and the scrape/aggregation engine
// shared across subsystems.
package scraper

import "time"

// SourceType selects the fetch capability used for a source.
type SourceType string

// Supported source types.
const (
	SourceTypeStatic   SourceType = "static"
	SourceTypeRendered SourceType = "rendered"
)

// Valid reports whether the type names a known capability.
func (t SourceType) Valid() bool {
	return t == SourceTypeStatic || t == SourceTypeRendered
}

// Source describes one configured external site. Immutable for the
// duration of a run; identity is the name.
type Source struct {
	Name string     `json:"name" mapstructure:"name"`
	URL  string     `json:"url" mapstructure:"url"`
	Type SourceType `json:"type" mapstructure:"type"`
}

// PatternType classifies an extracted record.
type PatternType string

// Pattern record classifications.
const (
	PatternTypePattern  PatternType = "pattern"
	PatternTypeSolution PatternType = "solution"
	PatternTypeGuide    PatternType = "guide"
	PatternTypeStrategy PatternType = "strategy"
)

// PatternRecord is one extracted architecture pattern item. Records are
// created by an extractor and never mutated afterwards.
type PatternRecord struct {
	Name        string      `json:"name"`
	Type        PatternType `json:"type"`
	Source      Source      `json:"source"`
	Description string      `json:"description,omitempty"`
	Link        string      `json:"link,omitempty"`
	Tags        []string    `json:"tags"`
	ScrapedAt   time.Time   `json:"scraped_at"`
}

// OutcomeStatus is the per-source result status inside a batch.
type OutcomeStatus string

// Per-source outcome statuses.
const (
	OutcomeOK     OutcomeStatus = "ok"
	OutcomeFailed OutcomeStatus = "failed"
)

// SourceOutcome is the result of scraping a single source. It is produced
// exactly once per scrape and is never an error: all failure is data.
type SourceOutcome struct {
	Source   Source          `json:"source"`
	Status   OutcomeStatus   `json:"status"`
	Records  []PatternRecord `json:"records,omitempty"`
	Err      *OutcomeError   `json:"error,omitempty"`
	Attempts int             `json:"attempts"`
}

// OutcomeError carries a classified failure reason in serializable form.
type OutcomeError struct {
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
}

// Batch is one immutable snapshot of a full collection run.
type Batch struct {
	BatchID         string                   `json:"batch_id"`
	CreatedAt       time.Time                `json:"created_at"`
	Sources         []string                 `json:"sources"`
	TotalPatterns   int                      `json:"total_patterns"`
	Architectures   []PatternRecord          `json:"architectures"`
	PerSourceStatus map[string]OutcomeStatus `json:"per_source_status"`
}

// FailedSources counts per-source failures recorded on the batch.
func (b Batch) FailedSources() int {
	n := 0
	for _, status := range b.PerSourceStatus {
		if status == OutcomeFailed {
			n++
		}
	}
	return n
}

// BatchSummary is the listing projection of a batch.
type BatchSummary struct {
	BatchID       string    `json:"batch_id"`
	CreatedAt     time.Time `json:"created_at"`
	Sources       []string  `json:"sources"`
	TotalPatterns int       `json:"total_patterns"`
	FailedSources int       `json:"failed_sources"`
}

// Summary derives the listing projection.
func (b Batch) Summary() BatchSummary {
	return BatchSummary{
		BatchID:       b.BatchID,
		CreatedAt:     b.CreatedAt,
		Sources:       append([]string(nil), b.Sources...),
		TotalPatterns: b.TotalPatterns,
		FailedSources: b.FailedSources(),
	}
}

// JobState is the lifecycle state of an asynchronous scrape job.
type JobState string

// Job states. The three terminal states are absorbing.
const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStatePartial   JobState = "partial"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStatePartial, JobStateFailed:
		return true
	default:
		return false
	}
}

// ScrapeJob is the observable snapshot of one orchestrator run.
type ScrapeJob struct {
	JobID         string     `json:"job_id"`
	State         JobState   `json:"state"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ResultBatchID string     `json:"result_batch_id,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Page is the raw content returned by a fetch capability.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}
