package scraper

import (
	"fmt"
	"strconv"
	"time"
)

// batchIDLayout orders lexicographically the same way as chronologically.
const batchIDLayout = "20060102_150405"

// BatchIDForTime derives the canonical batch id from a creation timestamp.
func BatchIDForTime(t time.Time) string {
	return t.UTC().Format(batchIDLayout)
}

// NextBatchID returns the first free id for the timestamp, probing the
// store through exists. Same-second collisions get a _2, _3, ... suffix.
func NextBatchID(t time.Time, exists func(id string) (bool, error)) (string, error) {
	base := BatchIDForTime(t)
	id := base
	for n := 2; ; n++ {
		taken, err := exists(id)
		if err != nil {
			return "", fmt.Errorf("probe batch id %s: %w", id, err)
		}
		if !taken {
			return id, nil
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}

// LaterBatchID reports whether a orders after b. Collision suffixes
// compare numerically, so _10 orders after _9 and any suffixed id
// orders after its bare base.
func LaterBatchID(a, b string) bool {
	abase, an := splitBatchID(a)
	bbase, bn := splitBatchID(b)
	if abase != bbase {
		return abase > bbase
	}
	return an > bn
}

func splitBatchID(id string) (string, int) {
	if len(id) <= len(batchIDLayout)+1 || id[len(batchIDLayout)] != '_' {
		return id, 1
	}
	n, err := strconv.Atoi(id[len(batchIDLayout)+1:])
	if err != nil {
		return id, 1
	}
	return id[:len(batchIDLayout)], n
}
