// Package events defines the job lifecycle events emitted by the worker pool.
package events

import (
	"errors"
	"time"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported lifecycle stages.
const (
	StageCompleted Stage = "JOB_COMPLETED"
	StageFailed    Stage = "JOB_FAILED"
	StageDeferred  Stage = "JOB_DEFERRED"
	StagePoolError Stage = "POOL_ERROR"
)

// Event captures one job lifecycle milestone. Events are advisory: durable
// bookkeeping lives in the store, never here.
type Event struct {
	// JobID identifies the posting job; empty only for pool-level errors.
	JobID string
	// AccountID scopes the event to the account the job posts for.
	AccountID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Dur is the wall time for completed and failed jobs.
	Dur time.Duration
	// Note carries low-volume debug context, usually error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StagePoolError:
	case StageCompleted, StageFailed, StageDeferred:
		if e.JobID == "" {
			return errors.New("job id is required")
		}
	default:
		return errors.New("unknown stage")
	}
	return nil
}
