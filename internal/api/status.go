package api

// Status is the lifecycle state of a job. Transitions are owned by the
// service; clients only observe them through describe calls.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusStopping   Status = "STOPPING"
	StatusStopped    Status = "STOPPED"
)

// Terminal reports whether no further transition is valid from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}
