package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorClass is the failure taxonomy used across the pipeline. Only these
// classes ever cross the API boundary.
type ErrorClass string

// Failure classes.
const (
	// ClassTransient covers network errors, timeouts and 5xx-equivalent
	// responses; eligible for retry.
	ClassTransient ErrorClass = "transient"
	// ClassPermanent covers malformed URLs, 4xx-equivalent responses and
	// unsupported content; never retried.
	ClassPermanent ErrorClass = "permanent"
	// ClassExtraction covers parse failures on fetched content; never
	// retried, since re-fetching identical content cannot help.
	ClassExtraction ErrorClass = "extraction"
)

// ScrapeError is a classified per-source failure.
type ScrapeError struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *ScrapeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable fetch failure.
func Transient(op string, err error) *ScrapeError {
	return &ScrapeError{Class: ClassTransient, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable fetch failure.
func Permanent(op string, err error) *ScrapeError {
	return &ScrapeError{Class: ClassPermanent, Op: op, Err: err}
}

// Extraction wraps err as a content-shape failure.
func Extraction(op string, err error) *ScrapeError {
	return &ScrapeError{Class: ClassExtraction, Op: op, Err: err}
}

// Classify maps an arbitrary error to its class. Unclassified errors are
// treated as transient so unknown network conditions get retried; context
// errors count as transient timeouts but the scrape loop stops retrying
// once its context is done.
func Classify(err error) ErrorClass {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Class
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassTransient
}

// Sentinel errors surfaced to callers of the store and job manager.
var (
	// ErrNotFound signals a missing batch or job lookup.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateBatch signals a batch id uniqueness violation on persist.
	ErrDuplicateBatch = errors.New("batch id already exists")
	// ErrRunInProgress rejects a submit while another job is running.
	ErrRunInProgress = errors.New("a scrape run is already in progress")
	// ErrAllSourcesFailed is the batch-level failure: nothing to persist.
	ErrAllSourcesFailed = errors.New("all sources failed")
)

// StoreError marks an infrastructure failure of the batch store. It is not
// retried by the orchestrator; the job manager records it as the terminal
// job error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("batch store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }
