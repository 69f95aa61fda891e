// Package refresh tracks refresh episodes: one fan-out/gather round per user
// profile group, identified by a generated broadcast id. Identity by
// broadcast id lets completions and timeouts from a superseded episode be
// recognized and dropped in O(1).
package refresh

import (
	"github.com/google/uuid"

	"github.com/safetyhub/safetyhub-server/internal/logger"
	"github.com/safetyhub/safetyhub-server/internal/report"
	"github.com/safetyhub/safetyhub-server/internal/usergroups"
)

// TargetResolver computes the set of (source, user) pairs a refresh fans
// out to. Implemented by the configuration.
type TargetResolver interface {
	RefreshTargets(reason report.RefreshReason, group usergroups.UserProfileGroup) []report.SourceKey
}

type episode struct {
	broadcastID string
	reason      report.RefreshReason
	group       usergroups.UserProfileGroup
	pending     map[report.SourceKey]struct{}
}

// Tracker tracks the currently open refresh episodes. It is not safe for
// concurrent use; the coordinator's lock guards it.
type Tracker struct {
	targets TargetResolver

	byID      map[string]*episode
	byPrimary map[string]*episode
}

// NewTracker creates a tracker resolving fan-out targets through targets.
func NewTracker(targets TargetResolver) *Tracker {
	return &Tracker{
		targets:   targets,
		byID:      make(map[string]*episode),
		byPrimary: make(map[string]*episode),
	}
}

// ReportRefreshInProgress opens a refresh episode for the group and returns
// its broadcast id. Any prior open episode for the same group is superseded:
// its bookkeeping is discarded and later callbacks naming its id become
// no-ops. An episode whose target set resolves empty has nothing to wait for
// and closes immediately; its id is already stale when returned.
func (t *Tracker) ReportRefreshInProgress(
	reason report.RefreshReason, group usergroups.UserProfileGroup,
) string {
	if prior, ok := t.byPrimary[group.PrimaryUserID]; ok {
		logger.Infof("Refresh with broadcast id %s superseded by a new refresh", prior.broadcastID)
		delete(t.byID, prior.broadcastID)
	}

	ep := &episode{
		broadcastID: uuid.NewString(),
		reason:      reason,
		group:       group,
		pending:     make(map[report.SourceKey]struct{}),
	}
	for _, key := range t.targets.RefreshTargets(reason, group) {
		ep.pending[key] = struct{}{}
	}

	t.byID[ep.broadcastID] = ep
	t.byPrimary[group.PrimaryUserID] = ep
	if len(ep.pending) == 0 {
		logger.Infof("Refresh with broadcast id %s targets no sources, closing immediately", ep.broadcastID)
		t.closeEpisode(ep)
	}
	return ep.broadcastID
}

// ReportSourceRefreshDone marks the (source, user) pair as answered for the
// episode with the given broadcast id. It returns true exactly when this
// call empties the pending set, closing the episode. Stale or unknown
// broadcast ids are silent no-ops.
func (t *Tracker) ReportSourceRefreshDone(broadcastID, sourceID, userID string) bool {
	ep, ok := t.byID[broadcastID]
	if !ok {
		logger.Debugf("Ignoring refresh completion for stale broadcast id %s", broadcastID)
		return false
	}

	key := report.SourceKey{SourceID: sourceID, UserID: userID}
	if _, pending := ep.pending[key]; !pending {
		return false
	}
	delete(ep.pending, key)
	if len(ep.pending) != 0 {
		return false
	}

	t.closeEpisode(ep)
	return true
}

// ClearRefresh force-closes the episode with the given broadcast id, used by
// the timeout path. It returns false if the episode is already gone.
func (t *Tracker) ClearRefresh(broadcastID string) bool {
	ep, ok := t.byID[broadcastID]
	if !ok {
		return false
	}
	t.closeEpisode(ep)
	return true
}

// ClearAll force-closes every open episode, used on full reset.
func (t *Tracker) ClearAll() {
	t.byID = make(map[string]*episode)
	t.byPrimary = make(map[string]*episode)
}

// InProgress reports whether the group has an open refresh episode.
func (t *Tracker) InProgress(group usergroups.UserProfileGroup) bool {
	_, ok := t.byPrimary[group.PrimaryUserID]
	return ok
}

func (t *Tracker) closeEpisode(ep *episode) {
	delete(t.byID, ep.broadcastID)
	// The group slot may already be held by a superseding episode.
	if current, ok := t.byPrimary[ep.group.PrimaryUserID]; ok && current == ep {
		delete(t.byPrimary, ep.group.PrimaryUserID)
	}
}
