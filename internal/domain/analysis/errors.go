package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceUnavailable is returned when a service is unknown to the registry,
	// failed discovery, or has been disabled.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTaskStatusUnknown is returned when a status outside the task lifecycle is assigned.
	ErrTaskStatusUnknown = errors.New("task status unknown")

	// ErrTaskInProgress is returned when an execution already holds an unfinished task.
	ErrTaskInProgress = errors.New("execution already holds an unfinished task")

	// ErrNoTask is returned when an execution is asked to run without a bound task.
	ErrNoTask = errors.New("execution has no task")

	// ErrInvalidResult is returned when a result is missing its subtype or value.
	ErrInvalidResult = errors.New("result requires a subtype and a value")

	// ErrNoPayload is returned when a target object carries no readable payload.
	ErrNoPayload = errors.New("object has no payload")

	// ErrTaskNotFound is returned by task stores for unknown task IDs.
	ErrTaskNotFound = errors.New("task not found")

	// ErrRecordNotFound is returned by record repositories for unknown services.
	ErrRecordNotFound = errors.New("service record not found")
)

// UnavailableError wraps ErrServiceUnavailable with the offending service name.
func UnavailableError(service string, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: %s", ErrServiceUnavailable, service)
	}
	return fmt.Errorf("%w: %s: %s", ErrServiceUnavailable, service, reason)
}

// ConfigError reports a configuration schema violation: missing or extra keys,
// a blank required value, an unknown option type or an option without choices.
type ConfigError struct {
	Service string
	Option  string
	Reason  string
}

// Error returns a string representation of the error.
func (e *ConfigError) Error() string {
	switch {
	case e.Service != "" && e.Option != "":
		return fmt.Sprintf("service %s: config option %q: %s", e.Service, e.Option, e.Reason)
	case e.Option != "":
		return fmt.Sprintf("config option %q: %s", e.Option, e.Reason)
	case e.Service != "":
		return fmt.Sprintf("service %s: config: %s", e.Service, e.Reason)
	default:
		return "config: " + e.Reason
	}
}

// AnalysisErrorReason identifies which precondition rejected a run.
type AnalysisErrorReason string

const (
	// ReasonUnsupportedType indicates the object type is not in the service's supported types.
	ReasonUnsupportedType AnalysisErrorReason = "UNSUPPORTED_TYPE"
	// ReasonMissingFields indicates the object lacks one or more required fields.
	ReasonMissingFields AnalysisErrorReason = "MISSING_REQUIRED_FIELDS"
	// ReasonDuplicate indicates results already exist for a non-rerunnable service.
	ReasonDuplicate AnalysisErrorReason = "DUPLICATE_RUN"
	// ReasonDeclined indicates the service's applicability hook declined the object.
	ReasonDeclined AnalysisErrorReason = "DECLINED"
)

// AnalysisError reports that an applicability or duplicate-run precondition failed.
// No task exists when this error is returned.
type AnalysisError struct {
	Service    string
	ObjectType string
	ObjectID   string
	Reason     AnalysisErrorReason
	Detail     string
}

// Error returns a string representation of the error.
func (e *AnalysisError) Error() string {
	msg := fmt.Sprintf("service %s cannot run on %s %s: %s", e.Service, e.ObjectType, e.ObjectID, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
