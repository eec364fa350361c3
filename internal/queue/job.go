package queue

import (
	"encoding/json"
	"time"

	"github.com/qbtrules/qbtrules/internal/types"
)

// Status is the lifecycle state of a queued job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// ValidStatus reports whether s is a known job status.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is one queued rule run. Result holds the serialized RunResult for
// completed jobs; Error the failure text for failed ones.
type Job struct {
	ID          types.JobID `db:"id"`
	Context     string      `db:"context"`
	Hash        string      `db:"hash"`
	Instance    string      `db:"instance"`
	DryRun      bool        `db:"dry_run"`
	Status      Status      `db:"status"`
	CreatedAt   time.Time   `db:"created_at"`
	StartedAt   *time.Time  `db:"started_at"`
	CompletedAt *time.Time  `db:"completed_at"`
	Result      *string     `db:"result"`
	Error       string      `db:"error"`
}

// ExecutionContext derives the run selector from the job's fields.
func (j *Job) ExecutionContext() types.ExecutionContext {
	return types.ExecutionContext{
		Context:  j.Context,
		Hash:     types.Hash(j.Hash),
		Instance: j.Instance,
	}
}

// RunResult decodes the stored result, nil when none is recorded.
func (j *Job) RunResult() (*types.RunResult, error) {
	if j.Result == nil || *j.Result == "" {
		return nil, nil
	}
	var result types.RunResult
	if err := json.Unmarshal([]byte(*j.Result), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MarshalJSON renders the job for API responses with the result inlined as
// a JSON object rather than a string column.
func (j *Job) MarshalJSON() ([]byte, error) {
	view := struct {
		ID          types.JobID      `json:"id"`
		Context     string           `json:"context,omitempty"`
		Hash        string           `json:"hash,omitempty"`
		Instance    string           `json:"instance,omitempty"`
		DryRun      bool             `json:"dry_run"`
		Status      Status           `json:"status"`
		CreatedAt   time.Time        `json:"created_at"`
		StartedAt   *time.Time       `json:"started_at,omitempty"`
		CompletedAt *time.Time       `json:"completed_at,omitempty"`
		Result      *types.RunResult `json:"result,omitempty"`
		Error       string           `json:"error,omitempty"`
	}{
		ID:          j.ID,
		Context:     j.Context,
		Hash:        j.Hash,
		Instance:    j.Instance,
		DryRun:      j.DryRun,
		Status:      j.Status,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Error:       j.Error,
	}

	if result, err := j.RunResult(); err == nil {
		view.Result = result
	}
	return json.Marshal(view)
}
