package state

import (
	"time"

	"trainjob/internal/api"
)

// Job is the service-side record of one training run. The name is
// immutable once assigned; everything else mutates only through the
// store so both backends observe the same transitions.
type Job struct {
	Name          string
	Spec          api.Spec
	Status        api.Status
	AttemptID     string // set when the executor picks the job up
	FailureReason string
	CreatedAt     time.Time
	StartedAt     time.Time
	CompletedAt   time.Time
}

// View copies the record into its wire representation.
func (j *Job) View() api.JobView {
	return api.JobView{
		Name:          j.Name,
		Status:        j.Status,
		Spec:          j.Spec,
		AttemptID:     j.AttemptID,
		FailureReason: j.FailureReason,
		CreatedAt:     j.CreatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
}
