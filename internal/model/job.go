package model

import "time"

// JobStatus is the lifecycle state of a generation job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Re-applying the current status is always allowed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning || next == JobStatusCompleted || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Job represents one generation request tracked through its lifecycle
type Job struct {
	ID             string         `json:"id"`
	Engine         string         `json:"engine"`
	Status         JobStatus      `json:"status"`
	PromptID       *string        `json:"prompt_id"`
	Prompt         string         `json:"prompt"`
	NegativePrompt string         `json:"negative_prompt"`
	Params         map[string]any `json:"params"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ProgressValue  float64        `json:"progress_value"`
	ProgressMax    float64        `json:"progress_max"`
	Harvested      bool           `json:"harvested"`
	Error          *string        `json:"error,omitempty"`
	Outputs        []JobOutput    `json:"outputs,omitempty"`
}

// JobOutput summarises an asset produced by a job
type JobOutput struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// NewJob holds the caller-supplied fields of a job row
type NewJob struct {
	Engine         string
	Prompt         string
	NegativePrompt string
	Params         map[string]any
}

// JobPatch carries a partial job update. Nil fields are left untouched.
type JobPatch struct {
	Status        *JobStatus
	PromptID      *string
	ProgressValue *float64
	ProgressMax   *float64
	Error         *string
	Harvested     *bool
}

// IsEmpty reports whether the patch sets no field
func (p JobPatch) IsEmpty() bool {
	return p.Status == nil && p.PromptID == nil && p.ProgressValue == nil &&
		p.ProgressMax == nil && p.Error == nil && p.Harvested == nil
}

// Apply copies the set fields of p onto job
func (p JobPatch) Apply(job *Job) {
	if p.Status != nil {
		job.Status = *p.Status
	}
	if p.PromptID != nil {
		id := *p.PromptID
		job.PromptID = &id
	}
	if p.ProgressValue != nil {
		job.ProgressValue = *p.ProgressValue
	}
	if p.ProgressMax != nil {
		job.ProgressMax = *p.ProgressMax
	}
	if p.Error != nil {
		msg := *p.Error
		job.Error = &msg
	}
	if p.Harvested != nil {
		job.Harvested = *p.Harvested
	}
}

// Patch helpers

func StatusPatch(status JobStatus) JobPatch {
	return JobPatch{Status: &status}
}

func FailurePatch(errMsg string) JobPatch {
	status := JobStatusFailed
	return JobPatch{Status: &status, Error: &errMsg}
}

func PromptIDPatch(promptID string) JobPatch {
	return JobPatch{PromptID: &promptID}
}

func ProgressPatch(value, maxValue float64) JobPatch {
	return JobPatch{ProgressValue: &value, ProgressMax: &maxValue}
}

func HarvestedPatch() JobPatch {
	harvested := true
	return JobPatch{Harvested: &harvested}
}
