package report

import "fmt"

// SourceKey identifies one source's data slot for one user.
type SourceKey struct {
	SourceID string `json:"sourceId"`
	UserID   string `json:"userId"`
}

// String is the canonical rendering used in logs.
func (k SourceKey) String() string {
	return fmt.Sprintf("%s@%s", k.SourceID, k.UserID)
}

// IssueKey identifies an issue; an issue belongs to exactly one source slot.
type IssueKey struct {
	SourceID string `json:"sourceId"`
	IssueID  string `json:"issueId"`
	UserID   string `json:"userId"`
}

// SourceKey returns the source slot the issue belongs to.
func (k IssueKey) SourceKey() SourceKey {
	return SourceKey{SourceID: k.SourceID, UserID: k.UserID}
}

func (k IssueKey) String() string {
	return fmt.Sprintf("%s/%s@%s", k.SourceID, k.IssueID, k.UserID)
}

// ActionKey identifies a remediation action on an issue.
type ActionKey struct {
	Issue    IssueKey `json:"issue"`
	ActionID string   `json:"actionId"`
}

func (k ActionKey) String() string {
	return fmt.Sprintf("%s#%s", k.Issue, k.ActionID)
}
