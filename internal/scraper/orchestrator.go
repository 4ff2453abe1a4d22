package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SourceRunner abstracts the per-source scrape for the orchestrator.
type SourceRunner interface {
	Scrape(ctx context.Context, src Source) SourceOutcome
}

// OrchestratorConfig controls fan-out behavior.
type OrchestratorConfig struct {
	// MaxConcurrent bounds simultaneous source scrapes. The bound exists
	// primarily to cap contention on the shared rendering engine, not
	// just network concurrency.
	MaxConcurrent int
	// RunDeadline, when positive, aborts still-pending scrapes; aborted
	// scrapes are recorded as failed with a timeout reason.
	RunDeadline time.Duration
}

// Orchestrator fans one scrape per source out under bounded concurrency
// and aggregates the outcomes into a Batch.
type Orchestrator struct {
	runner SourceRunner
	clock  Clock
	cfg    OrchestratorConfig
	logger *zap.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(runner SourceRunner, clock Clock, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	return &Orchestrator{
		runner: runner,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Run scrapes every source and aggregates the results. The returned batch
// has no id yet; the store assigns one at persist time. When every source
// fails, no batch is returned and the error wraps ErrAllSourcesFailed.
func (o *Orchestrator) Run(ctx context.Context, sources []Source) (Batch, error) {
	if len(sources) == 0 {
		return Batch{}, errors.New("no sources configured")
	}

	runCtx := ctx
	if o.cfg.RunDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.RunDeadline)
		defer cancel()
	}

	o.logger.Info("scrape run started",
		zap.Int("sources", len(sources)),
		zap.Int("max_concurrent", o.cfg.MaxConcurrent),
	)

	outcomes := make([]SourceOutcome, len(sources))
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(o.cfg.MaxConcurrent)
	for i, src := range sources {
		g.Go(func() error {
			outcomes[i] = o.runner.Scrape(gctx, src)
			return nil
		})
	}
	// Scrapes never return errors; Wait only synchronizes completion.
	_ = g.Wait()

	return o.aggregate(outcomes)
}

// aggregate concatenates records in source-list order so batches are
// deterministic even though scrapes complete out of order.
func (o *Orchestrator) aggregate(outcomes []SourceOutcome) (Batch, error) {
	batch := Batch{
		CreatedAt:       o.clock.Now().UTC(),
		Sources:         make([]string, 0, len(outcomes)),
		PerSourceStatus: make(map[string]OutcomeStatus, len(outcomes)),
	}

	succeeded := 0
	var firstErr *OutcomeError
	for _, out := range outcomes {
		batch.Sources = append(batch.Sources, out.Source.Name)
		batch.PerSourceStatus[out.Source.Name] = out.Status
		if out.Status == OutcomeOK {
			succeeded++
			batch.Architectures = append(batch.Architectures, out.Records...)
			continue
		}
		if firstErr == nil {
			firstErr = out.Err
		}
		o.logger.Warn("source failed",
			zap.String("source", out.Source.Name),
			zap.Int("attempts", out.Attempts),
			zap.String("reason", outcomeReason(out.Err)),
		)
	}
	batch.TotalPatterns = len(batch.Architectures)

	if succeeded == 0 {
		reason := outcomeReason(firstErr)
		return Batch{}, fmt.Errorf("%w: %d sources, first failure: %s", ErrAllSourcesFailed, len(outcomes), reason)
	}

	o.logger.Info("scrape run aggregated",
		zap.Int("sources_ok", succeeded),
		zap.Int("sources_failed", len(outcomes)-succeeded),
		zap.Int("total_patterns", batch.TotalPatterns),
	)
	return batch, nil
}

func outcomeReason(err *OutcomeError) string {
	if err == nil {
		return "unknown"
	}
	return fmt.Sprintf("%s (%s)", err.Message, err.Class)
}
