// Package entity defines the visualization domain model.
package entity

import "fmt"

// JobStatus is the lifecycle state of a visualization job.
type JobStatus string

const (
	JobStatusPending          JobStatus = "pending"
	JobStatusQueued           JobStatus = "queued"
	JobStatusGeneratingPrompt JobStatus = "generating_prompt"
	JobStatusProcessing       JobStatus = "processing"
	JobStatusUploading        JobStatus = "uploading"
	JobStatusCompleted        JobStatus = "completed"
	JobStatusFailed           JobStatus = "failed"
	JobStatusCancelled        JobStatus = "cancelled"
)

// jobStatusInfo is the behavior table for each status.
type jobStatusInfo struct {
	terminal bool
	// progress is the nominal percentage reported when the job enters the status.
	progress int
	next     []JobStatus
}

var jobStatuses = map[JobStatus]jobStatusInfo{
	JobStatusPending: {
		progress: 0,
		next:     []JobStatus{JobStatusQueued, JobStatusFailed, JobStatusCancelled},
	},
	JobStatusQueued: {
		progress: 0,
		next:     []JobStatus{JobStatusGeneratingPrompt, JobStatusFailed, JobStatusCancelled},
	},
	JobStatusGeneratingPrompt: {
		progress: 10,
		next:     []JobStatus{JobStatusProcessing, JobStatusFailed, JobStatusCancelled},
	},
	JobStatusProcessing: {
		progress: 30,
		next:     []JobStatus{JobStatusUploading, JobStatusFailed, JobStatusCancelled},
	},
	JobStatusUploading: {
		progress: 85,
		next:     []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	},
	JobStatusCompleted: {terminal: true, progress: 100},
	JobStatusFailed: {
		terminal: true,
		progress: 100,
		// Retry; additionally guarded by the retry ceiling.
		next: []JobStatus{JobStatusQueued},
	},
	JobStatusCancelled: {terminal: true, progress: 100},
}

// AllJobStatuses lists statuses in lifecycle order.
func AllJobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusPending, JobStatusQueued, JobStatusGeneratingPrompt, JobStatusProcessing,
		JobStatusUploading, JobStatusCompleted, JobStatusFailed, JobStatusCancelled,
	}
}

// ActiveJobStatuses are the states a worker holds a job in.
func ActiveJobStatuses() []JobStatus {
	return []JobStatus{JobStatusGeneratingPrompt, JobStatusProcessing, JobStatusUploading}
}

// ParseJobStatus validates s.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	if _, ok := jobStatuses[st]; !ok {
		return "", fmt.Errorf("unknown job status %q", s)
	}
	return st, nil
}

func (s JobStatus) IsValid() bool {
	_, ok := jobStatuses[s]
	return ok
}

// IsTerminal reports whether s is Completed, Failed or Cancelled.
func (s JobStatus) IsTerminal() bool {
	return jobStatuses[s].terminal
}

// Progress is the nominal progress percentage for s.
func (s JobStatus) Progress() int {
	return jobStatuses[s].progress
}

// CanTransitionTo reports whether the transition table allows s -> to.
func (s JobStatus) CanTransitionTo(to JobStatus) bool {
	for _, n := range jobStatuses[s].next {
		if n == to {
			return true
		}
	}
	return false
}

func (s JobStatus) String() string {
	return string(s)
}
