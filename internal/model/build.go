package model

import (
	"fmt"
	"time"
)

// SourceType is the protocol a subscription was last observed to publish.
type SourceType string

const (
	SourceUnknown SourceType = "Unknown"
	SourceRSS     SourceType = "Rss"
	SourceAtom    SourceType = "Atom"
	SourceJSON    SourceType = "Json"
)

// BuildStatus is the outcome of one refresh attempt.
// The numeric values are persisted and must not change.
type BuildStatus int

const (
	StatusUnknown        BuildStatus = 0
	StatusFailed         BuildStatus = 1
	StatusPartialSuccess BuildStatus = 10
	StatusMostlySuccess  BuildStatus = 20
	StatusFullSuccess    BuildStatus = 99
)

func (s BuildStatus) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusFailed:
		return "failed"
	case StatusPartialSuccess:
		return "partial_success"
	case StatusMostlySuccess:
		return "mostly_success"
	case StatusFullSuccess:
		return "full_success"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// CountsTowardCadence reports whether a record with this status is evidence
// of the source's publish cadence.
func (s BuildStatus) CountsTowardCadence() bool {
	return s == StatusMostlySuccess || s == StatusFullSuccess
}

// QualifyingStatuses are the statuses used for frequency fitting.
var QualifyingStatuses = []BuildStatus{StatusMostlySuccess, StatusFullSuccess}

// BuildConfig is the per-subscription refresh cadence configuration.
// Frequencies are in minutes.
type BuildConfig struct {
	SubscriptionID   int64
	InitialFrequency float64
	FittedFrequency  *float64
	Adaptive         bool
	SourceType       SourceType
	LastBuildAt      *time.Time
}

// EffectiveFrequency is the cadence used for scheduling: the fitted value
// when it is trusted and present, otherwise the initial assumption.
func (c BuildConfig) EffectiveFrequency() float64 {
	if c.Adaptive && c.FittedFrequency != nil {
		return *c.FittedFrequency
	}
	return c.InitialFrequency
}

// Ceiling is the upper tolerance of the cadence: fitted * 1.1 when a fitted
// value exists, else the initial frequency.
func (c BuildConfig) Ceiling() float64 {
	if c.FittedFrequency != nil {
		return *c.FittedFrequency * 1.1
	}
	return c.InitialFrequency
}

// BuildRecord is an append-only log entry for one refresh attempt.
type BuildRecord struct {
	Identifier     string
	SubscriptionID int64
	Status         BuildStatus
	Remark         string
	CreatedAt      time.Time
}

// BuildRecordQuery filters build records. Zero values mean "no constraint".
// CreatedAfter and CreatedBefore are exclusive bounds.
type BuildRecordQuery struct {
	SubscriptionIDs []int64
	Statuses        []BuildStatus
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	Page            PageRequest
}
