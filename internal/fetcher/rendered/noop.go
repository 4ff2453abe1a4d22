package rendered

import (
	"context"
	"errors"

	"github.com/cloudscout/archscraper/internal/scraper"
)

// Noop implements scraper.Fetcher but always fails, for builds where the
// headless engine is disabled. Sources of type rendered then surface a
// permanent capability failure instead of hanging.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns a permanent error since rendering is not available.
func (Noop) Fetch(_ context.Context, _ string) (scraper.Page, error) {
	return scraper.Page{}, scraper.Permanent("rendered fetch", errors.New("headless rendering not configured"))
}
