package coordinator

import (
	"context"

	"github.com/safetyhub/safetyhub-server/internal/logger"
	"github.com/safetyhub/safetyhub-server/internal/report"
	"github.com/safetyhub/safetyhub-server/internal/usergroups"
)

// refreshTimeout closes a refresh episode that did not hear back from every
// source in time. The timeout is silent: partial data is acceptable, and
// sources that never answered are simply treated as having no new data.
type refreshTimeout struct {
	svc         *Service
	broadcastID string
	group       usergroups.UserProfileGroup
}

func (t *refreshTimeout) OnTimeout() {
	s := t.svc
	s.mu.Lock()
	s.timeouts.Remove(t)
	delete(s.pendingRefresh, t.broadcastID)
	cleared := s.tracker.ClearRefresh(t.broadcastID)
	if !cleared {
		// The episode completed or was superseded before the deadline.
		s.mu.Unlock()
		return
	}
	s.metrics.RecordRefreshTimeout(context.Background())
	s.deliverListenersUpdateLocked(t.group, true, nil)
	s.mu.Unlock()

	logger.Infof("Cleared refresh with broadcast id %s after a timeout", t.broadcastID)
}

// resolvingActionTimeout unmarks an issue action that stayed in flight past
// its deadline. Unlike a refresh timeout this surfaces an error notice: the
// user is actively waiting on this specific action.
type resolvingActionTimeout struct {
	svc       *Service
	actionKey report.ActionKey
	group     usergroups.UserProfileGroup
}

func (t *resolvingActionTimeout) OnTimeout() {
	s := t.svc
	s.mu.Lock()
	s.timeouts.Remove(t)
	delete(s.pendingActions, t.actionKey)
	changed := s.agg.UnmarkActionInFlight(t.actionKey)
	if !changed {
		// The action already resolved; the late timeout is a no-op.
		s.mu.Unlock()
		return
	}
	s.metrics.RecordActionTimeout(context.Background())
	s.deliverListenersUpdateLocked(t.group, true, &report.ErrorNotice{Message: "resolving action timeout"})
	s.mu.Unlock()

	logger.Warnf("Issue action %s timed out before the source resolved it", t.actionKey)
}
