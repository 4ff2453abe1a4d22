package scraper

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves the content of a single URL. Implementations classify
// failures via Transient/Permanent so the retry loop can decide.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Extractor turns fetched content into pattern records. It must not panic
// on malformed content; shape problems come back as an extraction error.
type Extractor interface {
	Extract(page Page, source Source) ([]PatternRecord, error)
}

// CapabilitySet binds one fetcher and one extractor per source type.
// Selection is an explicit match on the declared type, not sniffing.
type CapabilitySet struct {
	StaticFetcher     Fetcher
	RenderedFetcher   Fetcher
	StaticExtractor   Extractor
	RenderedExtractor Extractor
}

// ForType returns the capabilities for a source type, or false when the
// type has no configured fetcher.
func (c CapabilitySet) ForType(t SourceType) (Fetcher, Extractor, bool) {
	switch t {
	case SourceTypeStatic:
		return c.StaticFetcher, c.StaticExtractor, c.StaticFetcher != nil && c.StaticExtractor != nil
	case SourceTypeRendered:
		return c.RenderedFetcher, c.RenderedExtractor, c.RenderedFetcher != nil && c.RenderedExtractor != nil
	default:
		return nil, nil, false
	}
}

// BatchStore persists batches keyed by batch id.
type BatchStore interface {
	// Persist assigns a batch id (when empty), enforces uniqueness and
	// writes the full document atomically. Returns the assigned id.
	Persist(ctx context.Context, batch Batch) (string, error)
	Get(ctx context.Context, batchID string) (Batch, error)
	GetLatest(ctx context.Context) (Batch, error)
	List(ctx context.Context) ([]BatchSummary, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
