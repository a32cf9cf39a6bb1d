package analysis

import "fmt"

// TaskStatus represents the lifecycle state of an analysis task.
type TaskStatus string

const (
	// TaskStatusCreated indicates the task exists but has not started.
	TaskStatusCreated TaskStatus = "created"

	// TaskStatusStarted indicates the service is executing.
	TaskStatusStarted TaskStatus = "started"

	// TaskStatusError indicates the run failed. It is terminal and sticky:
	// a later Finish never downgrades it to completed.
	TaskStatusError TaskStatus = "error"

	// TaskStatusCompleted indicates the run finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
)

// String returns the string representation of the TaskStatus.
func (s TaskStatus) String() string { return string(s) }

// IsValid reports whether s belongs to the task lifecycle.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusCreated, TaskStatusStarted, TaskStatusError, TaskStatusCompleted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s ends the lifecycle.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusError || s == TaskStatusCompleted
}

// ParseTaskStatus converts a string to a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrTaskStatusUnknown, s)
	}
	return status, nil
}
