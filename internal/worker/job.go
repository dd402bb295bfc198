// SPDX-License-Identifier: MIT

// Package worker schedules background media-processing jobs on a priority
// queue with bounded concurrency, cooperative cancellation and rate-limited
// progress reporting.
package worker

import (
	"time"
)

// Type enumerates the job kinds the core accepts.
type Type string

const (
	GenerateProxy     Type = "GenerateProxy"
	GenerateThumbnail Type = "GenerateThumbnail"
	ExtractAudio      Type = "ExtractAudio"
	ProbeAsset        Type = "ProbeAsset"
	BuildShotIndex    Type = "BuildShotIndex"
	Transcribe        Type = "Transcribe"
	Render            Type = "Render"
)

// KnownTypes lists every accepted job type.
var KnownTypes = []Type{
	GenerateProxy, GenerateThumbnail, ExtractAudio,
	ProbeAsset, BuildShotIndex, Transcribe, Render,
}

func validType(t Type) bool {
	for _, k := range KnownTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Priority orders queued jobs. Higher runs first; ties run FIFO.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is the externally visible record of one submission.
type Job struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Priority    Priority  `json:"priority"`
	Status      Status    `json:"status"`
	Progress    float64   `json:"progress"`
	Stage       string    `json:"stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	FinishedAt  time.Time `json:"finishedAt,omitzero"`
}

// EventKind tags pool notifications.
type EventKind string

const (
	JobProgress  EventKind = "jobProgress"
	JobCompleted EventKind = "jobCompleted"
	JobFailed    EventKind = "jobFailed"
	JobCancelled EventKind = "jobCancelled"
)

// Event is one pool notification delivered to subscribers.
type Event struct {
	Kind     EventKind `json:"kind"`
	JobID    string    `json:"jobId"`
	Type     Type      `json:"type"`
	Progress float64   `json:"progress"`
	Stage    string    `json:"stage,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Submitted       uint64        `json:"submitted"`
	Completed       uint64        `json:"completed"`
	Failed          uint64        `json:"failed"`
	Cancelled       uint64        `json:"cancelled"`
	Running         int           `json:"running"`
	Queued          int           `json:"queued"`
	AvgDuration     time.Duration `json:"avgDuration"`
	PeakConcurrency int           `json:"peakConcurrency"`
}
