// Package job implements the JobRepository contract: the sole component
// allowed to transition job state, using Compare-and-Swap
// UPDATE ... WHERE status IN (...) statements so concurrent callers never
// stomp each other's transitions.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Task tags the kind of work a job performs.
type Task string

const (
	TaskCrawl                 Task = "CRAWL"
	TaskSyncSharePointDelta   Task = "SYNC_SHAREPOINT_DELTA"
	TaskPullSharePointContent Task = "PULL_SHAREPOINT_CONTENT"
)

// Status is the job lifecycle state. Transition graph:
// QUEUED -> IN_PROGRESS -> {COMPLETE, FAILED}; QUEUED -> FAILED directly
// (preemption). COMPLETE and FAILED are terminal.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusComplete   Status = "COMPLETE"
	StatusFailed     Status = "FAILED"
)

// Job is the persisted job row. CreatedAt must never be updated after
// creation — the watchdog relies on it to detect expiry.
type Job struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Task         Task
	Status       Status
	UserID       uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ErrorMessage *string
}

// Descriptor is the minimal payload the Feeder and Watchdog pass into the
// shared worker pool to dispatch or re-dispatch a job.
type Descriptor struct {
	JobID    uuid.UUID
	TenantID uuid.UUID
	Task     Task
}
