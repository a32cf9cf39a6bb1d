package analysis

import domain "github.com/ahrav/analysis-armada/internal/domain/analysis"

// Policy decides which registered services may run and which run on triage.
type Policy interface {
	Enabled(rec *domain.ServiceRecord) bool
	RunOnTriage(rec *domain.ServiceRecord) bool
}

// AllowAll enables every registered service and runs all of them on triage.
type AllowAll struct{}

func (AllowAll) Enabled(*domain.ServiceRecord) bool     { return true }
func (AllowAll) RunOnTriage(*domain.ServiceRecord) bool { return true }

// RecordPolicy honors the flags stored on each service record.
type RecordPolicy struct{}

func (RecordPolicy) Enabled(rec *domain.ServiceRecord) bool     { return rec.Enabled }
func (RecordPolicy) RunOnTriage(rec *domain.ServiceRecord) bool { return rec.RunOnTriage }

// PolicyByName returns the policy registered under name: "all" or "record".
func PolicyByName(name string) (Policy, bool) {
	switch name {
	case "", "all":
		return AllowAll{}, true
	case "record":
		return RecordPolicy{}, true
	default:
		return nil, false
	}
}
