// Package report defines the data model exchanged between safety sources and
// the aggregation engine: source reports, issues, remediation actions, and
// the events that accompany each submission.
package report

// Severity is the severity level attached to a source status or issue.
type Severity int

const (
	// SeverityUnspecified means the source has not assigned a severity yet.
	SeverityUnspecified Severity = iota

	// SeverityInformation is a purely informational status or finding.
	SeverityInformation

	// SeverityRecommendation is a finding the user should act on.
	SeverityRecommendation

	// SeverityCritical is a finding that requires immediate attention.
	SeverityCritical
)

// String returns the wire representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInformation:
		return "information"
	case SeverityRecommendation:
		return "recommendation"
	case SeverityCritical:
		return "critical"
	default:
		return "unspecified"
	}
}

// SourceStatus is the headline status a source reports about itself.
type SourceStatus struct {
	Title    string   `json:"title" yaml:"title"`
	Summary  string   `json:"summary,omitempty" yaml:"summary,omitempty"`
	Severity Severity `json:"severity" yaml:"severity"`
}

// IssueAction is a remediation operation attached to an issue. WillResolve
// indicates the source will report back once the action completed, which is
// what gates the in-flight tracking.
type IssueAction struct {
	ID          string `json:"id" yaml:"id"`
	Label       string `json:"label" yaml:"label"`
	WillResolve bool   `json:"willResolve,omitempty" yaml:"willResolve,omitempty"`

	// Endpoint is invoked to execute the action.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// Issue is a specific finding reported by a source. Identity within a source
// is the ID; two reports containing the same ID describe the same issue.
type Issue struct {
	ID       string        `json:"id" yaml:"id"`
	Title    string        `json:"title" yaml:"title"`
	Summary  string        `json:"summary,omitempty" yaml:"summary,omitempty"`
	Severity Severity      `json:"severity" yaml:"severity"`
	Actions  []IssueAction `json:"actions,omitempty" yaml:"actions,omitempty"`

	// OnDismissEndpoint, when set, is notified (best effort) after the user
	// dismisses the issue.
	OnDismissEndpoint string `json:"onDismissEndpoint,omitempty" yaml:"onDismissEndpoint,omitempty"`
}

// Action returns the action with the given id, or nil.
func (i *Issue) Action(actionID string) *IssueAction {
	for idx := range i.Actions {
		if i.Actions[idx].ID == actionID {
			return &i.Actions[idx]
		}
	}
	return nil
}

// SourceReport is the full status snapshot a source submits. Each submission
// replaces the previous one wholesale; reports are never merged.
type SourceReport struct {
	Status SourceStatus `json:"status" yaml:"status"`
	Issues []Issue      `json:"issues,omitempty" yaml:"issues,omitempty"`
}

// Issue returns the issue with the given id, or nil.
func (r *SourceReport) Issue(issueID string) *Issue {
	for idx := range r.Issues {
		if r.Issues[idx].ID == issueID {
			return &r.Issues[idx]
		}
	}
	return nil
}

// SourceError describes a failed refresh attempt reported by a source.
type SourceError struct {
	Message string `json:"message,omitempty"`

	// RefreshBroadcastID ties the error to a refresh episode so the episode
	// can complete even when a source fails to produce data.
	RefreshBroadcastID string `json:"refreshBroadcastId,omitempty"`
}

// ErrorNotice is the error payload delivered to listeners when an operation
// fails in a way the user is actively waiting on.
type ErrorNotice struct {
	Message string `json:"message"`
}
