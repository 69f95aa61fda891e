package aggregator

import (
	"sort"

	"github.com/safetyhub/safetyhub-server/internal/report"
	"github.com/safetyhub/safetyhub-server/internal/usergroups"
)

// SourceEntry is one source slot in the aggregate view.
type SourceEntry struct {
	SourceID string `json:"sourceId"`
	UserID   string `json:"userId"`

	// HasData is false until the source's first accepted report.
	HasData bool                 `json:"hasData"`
	Status  *report.SourceStatus `json:"status,omitempty"`

	// Stale marks data that is still shown although the source's last
	// refresh attempt failed.
	Stale        bool   `json:"stale,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// ActionView is an issue action as exposed to callers.
type ActionView struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	WillResolve bool   `json:"willResolve,omitempty"`
	InFlight    bool   `json:"inFlight,omitempty"`
}

// IssueView is a visible issue as exposed to callers.
type IssueView struct {
	Key      report.IssueKey `json:"key"`
	Title    string          `json:"title"`
	Summary  string          `json:"summary,omitempty"`
	Severity report.Severity `json:"severity"`
	Actions  []ActionView    `json:"actions,omitempty"`
}

// AggregateView is the merged, deterministic snapshot of all visible source
// data for a user profile group. Repeated builds with no intervening
// mutation produce identical output.
type AggregateView struct {
	OverallSeverity   report.Severity `json:"overallSeverity"`
	RefreshInProgress bool            `json:"refreshInProgress"`
	Entries           []SourceEntry   `json:"entries"`
	Issues            []IssueView     `json:"issues"`
}

// BuildView computes the merged view for the group. Entries follow source
// registration order with the primary user ahead of managed profiles;
// issues follow their entry's position, then issue id.
func (a *Aggregator) BuildView(
	group usergroups.UserProfileGroup, refreshInProgress bool,
) *AggregateView {
	view := &AggregateView{
		RefreshInProgress: refreshInProgress,
		Entries:           []SourceEntry{},
		Issues:            []IssueView{},
	}

	for _, slot := range a.directory.ViewSlots(group) {
		rpt := a.reports[slot]
		srcErr := a.errors[slot]

		entry := SourceEntry{
			SourceID: slot.SourceID,
			UserID:   slot.UserID,
			HasData:  rpt != nil,
		}
		if rpt != nil {
			status := rpt.Status
			entry.Status = &status
			if status.Severity > view.OverallSeverity {
				view.OverallSeverity = status.Severity
			}
		}
		if srcErr != nil {
			entry.Stale = rpt != nil
			entry.ErrorMessage = srcErr.Message
		}
		view.Entries = append(view.Entries, entry)

		if rpt != nil {
			view.Issues = append(view.Issues, a.visibleIssues(slot, rpt)...)
		}
	}

	for _, issue := range view.Issues {
		if issue.Severity > view.OverallSeverity {
			view.OverallSeverity = issue.Severity
		}
	}
	return view
}

func (a *Aggregator) visibleIssues(slot report.SourceKey, rpt *report.SourceReport) []IssueView {
	var issues []IssueView
	for i := range rpt.Issues {
		issue := &rpt.Issues[i]
		key := report.IssueKey{SourceID: slot.SourceID, IssueID: issue.ID, UserID: slot.UserID}
		if _, gone := a.dismissed[key]; gone {
			continue
		}

		iv := IssueView{
			Key:      key,
			Title:    issue.Title,
			Summary:  issue.Summary,
			Severity: issue.Severity,
		}
		for _, action := range issue.Actions {
			actionKey := report.ActionKey{Issue: key, ActionID: action.ID}
			_, inFlight := a.inFlight[actionKey]
			iv.Actions = append(iv.Actions, ActionView{
				ID:          action.ID,
				Label:       action.Label,
				WillResolve: action.WillResolve,
				InFlight:    inFlight,
			})
		}
		issues = append(issues, iv)
	}

	sort.Slice(issues, func(i, j int) bool {
		return issues[i].Key.IssueID < issues[j].Key.IssueID
	})
	return issues
}
