// Package aggregator holds the current report for every (source, user) pair
// together with issue dismissal state and action in-flight state, and merges
// them into the aggregate view exposed to callers.
//
// The aggregator is not safe for concurrent use on its own; the
// coordinator's lock guards every call.
package aggregator

import (
	"reflect"

	"github.com/safetyhub/safetyhub-server/internal/logger"
	"github.com/safetyhub/safetyhub-server/internal/report"
	"github.com/safetyhub/safetyhub-server/internal/usergroups"
)

// SourceDirectory exposes the configured source layout the merged view is
// built from. Implemented by the configuration.
type SourceDirectory interface {
	ViewSlots(group usergroups.UserProfileGroup) []report.SourceKey
}

// Aggregator is the source data store.
type Aggregator struct {
	directory SourceDirectory

	reports   map[report.SourceKey]*report.SourceReport
	lastSeq   map[report.SourceKey]uint64
	errors    map[report.SourceKey]*report.SourceError
	dismissed map[report.IssueKey]struct{}
	inFlight  map[report.ActionKey]struct{}
}

// New creates an empty aggregator over the given source directory.
func New(directory SourceDirectory) *Aggregator {
	a := &Aggregator{directory: directory}
	a.reset()
	return a
}

func (a *Aggregator) reset() {
	a.reports = make(map[report.SourceKey]*report.SourceReport)
	a.lastSeq = make(map[report.SourceKey]uint64)
	a.errors = make(map[report.SourceKey]*report.SourceError)
	a.dismissed = make(map[report.IssueKey]struct{})
	a.inFlight = make(map[report.ActionKey]struct{})
}

// SetSourceData stores rpt as the source's current report, replacing (never
// merging with) the previous one. Submissions whose event sequence token is
// not strictly newer than the last accepted one are dropped. A nil rpt
// clears the slot. The return value reports whether the merged view changed.
func (a *Aggregator) SetSourceData(
	sourceID, userID string, rpt *report.SourceReport, event report.Event,
) bool {
	key := report.SourceKey{SourceID: sourceID, UserID: userID}

	if last, ok := a.lastSeq[key]; ok && event.Seq <= last {
		logger.Debugf("Dropping stale report from %s: seq %d <= %d", key, event.Seq, last)
		return false
	}
	a.lastSeq[key] = event.Seq

	previous := a.reports[key]
	if rpt == nil {
		delete(a.reports, key)
	} else {
		a.reports[key] = rpt
	}
	changed := !reflect.DeepEqual(previous, rpt)

	// A successful submission clears any recorded refresh error.
	if _, hadError := a.errors[key]; hadError {
		delete(a.errors, key)
		changed = true
	}

	a.pruneStaleState(key, rpt)
	return changed
}

// pruneStaleState drops dismissals and in-flight markers whose referenced
// issue (or action) no longer appears in the slot's current report.
// Dismissals are content addressed: an issue is "the same" only if its
// identity key reappears.
func (a *Aggregator) pruneStaleState(key report.SourceKey, rpt *report.SourceReport) {
	for issueKey := range a.dismissed {
		if issueKey.SourceKey() != key {
			continue
		}
		if rpt == nil || rpt.Issue(issueKey.IssueID) == nil {
			delete(a.dismissed, issueKey)
		}
	}
	for actionKey := range a.inFlight {
		if actionKey.Issue.SourceKey() != key {
			continue
		}
		if rpt == nil {
			delete(a.inFlight, actionKey)
			continue
		}
		issue := rpt.Issue(actionKey.Issue.IssueID)
		if issue == nil || issue.Action(actionKey.ActionID) == nil {
			delete(a.inFlight, actionKey)
		}
	}
}

// GetSourceData returns the source's current report, or nil when the source
// has not reported yet.
func (a *Aggregator) GetSourceData(sourceID, userID string) *report.SourceReport {
	return a.reports[report.SourceKey{SourceID: sourceID, UserID: userID}]
}

// ReportSourceError records that the source failed to refresh. Existing data
// is kept and flagged as potentially outdated rather than deleted. The
// return value reports whether the merged view changed.
func (a *Aggregator) ReportSourceError(sourceID, userID string, details report.SourceError) bool {
	key := report.SourceKey{SourceID: sourceID, UserID: userID}
	if prev, ok := a.errors[key]; ok && prev.Message == details.Message {
		return false
	}
	a.errors[key] = &details
	return true
}

// IssueByKey returns the issue if it is currently visible: present in the
// source's report and not dismissed.
func (a *Aggregator) IssueByKey(key report.IssueKey) *report.Issue {
	if _, gone := a.dismissed[key]; gone {
		return nil
	}
	rpt := a.reports[key.SourceKey()]
	if rpt == nil {
		return nil
	}
	return rpt.Issue(key.IssueID)
}

// ActionByKey returns the action if it is currently executable: its issue is
// visible and the action is not already in flight.
func (a *Aggregator) ActionByKey(key report.ActionKey) *report.IssueAction {
	if _, busy := a.inFlight[key]; busy {
		return nil
	}
	issue := a.IssueByKey(key.Issue)
	if issue == nil {
		return nil
	}
	return issue.Action(key.ActionID)
}

// DismissIssue marks the issue dismissed. Idempotent. A dismissed issue and
// its actions disappear from the merged view until the source stops
// reporting the issue and later reintroduces it.
func (a *Aggregator) DismissIssue(key report.IssueKey) {
	a.dismissed[key] = struct{}{}
}

// MarkActionInFlight marks an action as executing.
func (a *Aggregator) MarkActionInFlight(key report.ActionKey) {
	a.inFlight[key] = struct{}{}
}

// UnmarkActionInFlight clears the in-flight marker. This is also the timeout
// recovery path: unmarking an action that already resolved (or was never
// marked) is a safe no-op returning false.
func (a *Aggregator) UnmarkActionInFlight(key report.ActionKey) bool {
	if _, busy := a.inFlight[key]; !busy {
		return false
	}
	delete(a.inFlight, key)
	return true
}

// Clear resets all source data, dismissals, and in-flight markers.
func (a *Aggregator) Clear() {
	a.reset()
}
