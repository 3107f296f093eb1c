package crawler

import (
	"context"
	"errors"

	"github.com/bryan-buckman/infovore/internal/enrich"
	"github.com/bryan-buckman/infovore/internal/rss"
)

var (
	// ErrRunInProgress is returned when a run is requested while one is active.
	ErrRunInProgress = errors.New("crawl already in progress")
	// ErrStorage marks failures of the storage collaborator.
	ErrStorage = errors.New("storage failure")
)

// FailureKind groups errors for logs and metrics.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureNetwork       FailureKind = "network"
	FailureParse         FailureKind = "parse"
	FailureStorage       FailureKind = "storage"
	FailureConfiguration FailureKind = "configuration"
	FailureCancelled     FailureKind = "cancelled"
	FailureUnknown       FailureKind = "unknown"
)

// Classify maps an error onto its failure kind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCancelled
	case errors.Is(err, rss.ErrNoContent):
		return FailureNetwork
	case errors.Is(err, rss.ErrUnparseable):
		return FailureParse
	case errors.Is(err, enrich.ErrNotConfigured):
		return FailureConfiguration
	case errors.Is(err, ErrStorage):
		return FailureStorage
	default:
		return FailureUnknown
	}
}
