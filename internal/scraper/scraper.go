package scraper

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloudscout/archscraper/internal/metrics"
)

// ScraperConfig controls SourceScraper behavior.
type ScraperConfig struct {
	// FetchTimeout bounds each individual fetch attempt.
	FetchTimeout time.Duration
	// ArchivePrefix prefixes blob paths for archived raw pages.
	ArchivePrefix string
}

// SourceScraper drives one fetch/extract cycle per source with retry and
// backoff. It is stateless and safe for concurrent use; all failure is
// returned as data, never as an error.
type SourceScraper struct {
	caps    CapabilitySet
	retry   RetryPolicy
	clock   Clock
	archive BlobStore
	hasher  Hasher
	cfg     ScraperConfig
	logger  *zap.Logger
}

// NewSourceScraper constructs a SourceScraper. archive and hasher are
// optional; when nil, raw pages are not archived.
func NewSourceScraper(
	caps CapabilitySet,
	retry RetryPolicy,
	clock Clock,
	archive BlobStore,
	hasher Hasher,
	cfg ScraperConfig,
	logger *zap.Logger,
) *SourceScraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &SourceScraper{
		caps:    caps,
		retry:   retry,
		clock:   clock,
		archive: archive,
		hasher:  hasher,
		cfg:     cfg,
		logger:  logger,
	}
}

// Scrape fetches and extracts one source. The returned outcome carries the
// attempt count and, on failure, the classified reason.
func (s *SourceScraper) Scrape(ctx context.Context, src Source) SourceOutcome {
	fetcher, extractor, ok := s.caps.ForType(src.Type)
	if !ok {
		err := Permanent("capability lookup", fmt.Errorf("no fetcher configured for source type %q", src.Type))
		s.logger.Warn("source type unsupported", zap.String("source", src.Name), zap.String("type", string(src.Type)))
		return s.failed(src, err, 0)
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return s.failed(src, Transient("scrape canceled", fmt.Errorf("run deadline exceeded: %w", err)), attempt-1)
		}

		page, err := s.fetchOnce(ctx, fetcher, src)
		if err != nil {
			class := Classify(err)
			metrics.ObserveFetchAttempt(src.Name, string(class))
			if s.retry.ShouldRetry(class, attempt) && ctx.Err() == nil {
				s.logger.Warn("fetch failed, retrying",
					zap.String("source", src.Name),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				if waitErr := s.retry.Wait(ctx, attempt); waitErr != nil {
					return s.failed(src, Transient("scrape canceled", waitErr), attempt)
				}
				continue
			}
			s.logger.Error("fetch failed",
				zap.String("source", src.Name),
				zap.String("class", string(class)),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return s.failed(src, err, attempt)
		}

		metrics.ObserveFetchAttempt(src.Name, "ok")
		metrics.ObserveFetchDuration(string(src.Type), page.Duration)
		s.archivePage(ctx, src, page)

		records, err := extractor.Extract(page, src)
		if err != nil {
			// A parse bug does not heal by re-fetching identical content.
			extErr := err
			if Classify(err) != ClassExtraction {
				extErr = Extraction("extract", err)
			}
			s.logger.Error("extraction failed", zap.String("source", src.Name), zap.Error(extErr))
			return s.failed(src, extErr, attempt)
		}

		now := s.clock.Now().UTC()
		for i := range records {
			records[i].Source = src
			records[i].ScrapedAt = now
			if records[i].Tags == nil {
				records[i].Tags = []string{}
			}
		}
		metrics.ObservePatterns(src.Name, len(records))
		metrics.ObserveSourceScrape(src.Name, string(OutcomeOK))
		s.logger.Info("source scraped",
			zap.String("source", src.Name),
			zap.Int("patterns", len(records)),
			zap.Int("attempts", attempt),
		)
		return SourceOutcome{
			Source:   src,
			Status:   OutcomeOK,
			Records:  records,
			Attempts: attempt,
		}
	}
}

func (s *SourceScraper) fetchOnce(ctx context.Context, fetcher Fetcher, src Source) (Page, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	page, err := fetcher.Fetch(attemptCtx, src.URL)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	return page, nil
}

// archivePage stores the raw HTML keyed by content hash. Best effort: an
// archive failure never changes the source outcome.
func (s *SourceScraper) archivePage(ctx context.Context, src Source, page Page) {
	if s.archive == nil || s.hasher == nil {
		return
	}
	hash, err := s.hasher.Hash(page.Body)
	if err != nil {
		s.logger.Warn("hash page failed", zap.String("source", src.Name), zap.Error(err))
		return
	}
	path := s.archivePath(src, hash)
	uri, err := s.archive.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(page.Body))
	if err != nil {
		s.logger.Warn("archive page failed", zap.String("source", src.Name), zap.Error(err))
		return
	}
	s.logger.Debug("page archived", zap.String("source", src.Name), zap.String("uri", uri))
}

func (s *SourceScraper) archivePath(src Source, hash string) string {
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(src.Name), " ", "-"))
	prefix := strings.Trim(s.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", slug, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, slug, hash)
}

func (s *SourceScraper) failed(src Source, err error, attempts int) SourceOutcome {
	metrics.ObserveSourceScrape(src.Name, string(OutcomeFailed))
	return SourceOutcome{
		Source:   src,
		Status:   OutcomeFailed,
		Err:      &OutcomeError{Class: Classify(err), Message: err.Error()},
		Attempts: attempts,
	}
}
