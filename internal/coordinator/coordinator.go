// Package coordinator implements the safety hub service: it orchestrates
// refresh fan-out, source report aggregation, issue remediation tracking,
// and listener notification.
//
// One exclusive lock serializes every mutation; reads handed to callers are
// snapshots taken under the same lock. External dispatch is never issued
// while the lock is held, so a source calling straight back in cannot
// deadlock. Timeout callbacks re-acquire the lock and lose races against
// just-arrived completions through the no-op returns of the tracker and the
// aggregator.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/safetyhub/safetyhub-server/internal/aggregator"
	"github.com/safetyhub/safetyhub-server/internal/config"
	"github.com/safetyhub/safetyhub-server/internal/dispatch"
	"github.com/safetyhub/safetyhub-server/internal/listeners"
	"github.com/safetyhub/safetyhub-server/internal/logger"
	"github.com/safetyhub/safetyhub-server/internal/refresh"
	"github.com/safetyhub/safetyhub-server/internal/report"
	"github.com/safetyhub/safetyhub-server/internal/telemetry"
	"github.com/safetyhub/safetyhub-server/internal/timeouts"
	"github.com/safetyhub/safetyhub-server/internal/usergroups"
)

// Caller errors. These reject the request synchronously with no state
// change and no listener notification.
var (
	// ErrUnknownSource means the source id is not configured.
	ErrUnknownSource = errors.New("unknown source")

	// ErrPackageMismatch means the caller package does not own the source.
	ErrPackageMismatch = errors.New("caller package does not own source")

	// ErrInvalidReason means the refresh reason code is not recognized.
	ErrInvalidReason = errors.New("invalid refresh reason")

	// ErrCrossGroupTarget means the issue or action targets a user outside
	// the caller's profile group.
	ErrCrossGroupTarget = errors.New("target user outside caller profile group")

	// ErrKeyMismatch means the action key does not belong to the issue key.
	ErrKeyMismatch = errors.New("issue and action keys do not match")
)

// Option configures the service.
type Option func(*Service)

// WithMetrics attaches coordinator metrics. A nil metrics value is a no-op.
func WithMetrics(m *telemetry.CoordinatorMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service is the refresh coordination and status aggregation engine.
type Service struct {
	cfg        *config.Config
	groups     *usergroups.Resolver
	dispatcher dispatch.Dispatcher
	metrics    *telemetry.CoordinatorMetrics

	// mu guards everything below plus the aggregator, tracker, and
	// listener registry.
	mu             sync.Mutex
	agg            *aggregator.Aggregator
	tracker        *refresh.Tracker
	listeners      *listeners.Registry
	timeouts       *timeouts.Registry
	pendingRefresh map[string]*refreshTimeout
	pendingActions map[report.ActionKey]*resolvingActionTimeout
}

// New creates the service.
func New(
	cfg *config.Config,
	groups *usergroups.Resolver,
	dispatcher dispatch.Dispatcher,
	opts ...Option,
) *Service {
	s := &Service{
		cfg:            cfg,
		groups:         groups,
		dispatcher:     dispatcher,
		agg:            aggregator.New(cfg),
		tracker:        refresh.NewTracker(cfg),
		listeners:      listeners.NewRegistry(),
		timeouts:       timeouts.NewRegistry(cfg.MaxTrackedTimeouts()),
		pendingRefresh: make(map[string]*refreshTimeout),
		pendingActions: make(map[report.ActionKey]*resolvingActionTimeout),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestRefresh opens a refresh episode for the user's profile group and
// fans the refresh request out to the targeted sources. A refresh already in
// progress for the group is superseded.
func (s *Service) RequestRefresh(ctx context.Context, reason report.RefreshReason, userID string) error {
	if !reason.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	group, err := s.groups.GroupOf(userID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	broadcastID := s.tracker.ReportRefreshInProgress(reason, group)
	var targets []dispatch.RefreshTarget
	// An episode that resolved no targets is already closed; it gets no
	// deadline and no fan-out.
	if s.tracker.InProgress(group) {
		rt := &refreshTimeout{svc: s, broadcastID: broadcastID, group: group}
		s.pendingRefresh[broadcastID] = rt
		s.timeouts.Add(rt, s.cfg.RefreshTimeout())
		targets = s.dispatchTargets(s.cfg.RefreshTargets(reason, group))
	}
	s.metrics.RecordRefreshStarted(ctx, string(reason))
	s.deliverListenersUpdateLocked(group, true, nil)
	s.mu.Unlock()

	if len(targets) > 0 {
		s.dispatcher.SendRefreshRequests(ctx, targets, broadcastID, reason, group)
	}
	return nil
}

// SubmitSourceData stores a source's report and processes the accompanying
// event: refresh responses advance the open episode, resolving-action events
// settle in-flight actions. Stale sequence tokens are absorbed silently.
func (s *Service) SubmitSourceData(
	ctx context.Context,
	sourceID, callerPkg, userID string,
	rpt *report.SourceReport,
	event report.Event,
) error {
	group, err := s.validateSubmission(sourceID, callerPkg, userID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.agg.SetSourceData(sourceID, userID, rpt, event)
	if changed {
		s.metrics.RecordReport(ctx, "accepted")
	} else {
		s.metrics.RecordReport(ctx, "rejected")
	}

	var errNotice *report.ErrorNotice
	switch event.Type {
	case report.EventRefreshResponse:
		if s.completeRefreshForSourceLocked(ctx, event.RefreshBroadcastID, sourceID, userID) {
			changed = true
		}
	case report.EventResolvingActionSucceeded, report.EventResolvingActionFailed:
		key := report.ActionKey{
			Issue:    report.IssueKey{SourceID: sourceID, IssueID: event.IssueID, UserID: userID},
			ActionID: event.ActionID,
		}
		s.cancelActionTimeoutLocked(key)
		if s.agg.UnmarkActionInFlight(key) {
			changed = true
		}
		if event.Type == report.EventResolvingActionFailed {
			errNotice = &report.ErrorNotice{Message: "issue action failed"}
		}
	}

	s.deliverListenersUpdateLocked(group, changed, errNotice)
	return nil
}

// SubmitSourceError records that a source failed to refresh. Stale data from
// the source stays visible, flagged as potentially outdated. If the error
// names a refresh broadcast id, the episode stops waiting for that source.
func (s *Service) SubmitSourceError(
	ctx context.Context,
	sourceID, callerPkg, userID string,
	details report.SourceError,
) error {
	group, err := s.validateSubmission(sourceID, callerPkg, userID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.agg.ReportSourceError(sourceID, userID, details)
	if details.RefreshBroadcastID != "" {
		if s.completeRefreshForSourceLocked(ctx, details.RefreshBroadcastID, sourceID, userID) {
			changed = true
		}
	}

	errNotice := &report.ErrorNotice{
		Message: fmt.Sprintf("source %s failed to refresh", sourceID),
	}
	s.deliverListenersUpdateLocked(group, changed, errNotice)
	return nil
}

// GetAggregateView returns the merged snapshot for the user's profile group.
func (s *Service) GetAggregateView(userID string) (*aggregator.AggregateView, error) {
	group, err := s.groups.GroupOf(userID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.BuildView(group, s.tracker.InProgress(group)), nil
}

// DismissIssue marks the issue dismissed and notifies the source's dismissal
// endpoint, best effort. Dismissing an issue that is not currently visible
// is a silent no-op: it happens when the dismiss button is clicked twice in
// a row, racing a concurrent update.
func (s *Service) DismissIssue(ctx context.Context, key report.IssueKey, userID string) error {
	group, err := s.groups.GroupOf(userID)
	if err != nil {
		return err
	}
	if !group.Contains(key.UserID) {
		return fmt.Errorf("%w: issue %s", ErrCrossGroupTarget, key)
	}

	s.mu.Lock()
	issue := s.agg.IssueByKey(key)
	if issue == nil {
		s.mu.Unlock()
		logger.Warnf("Attempt to dismiss issue %s that is not provided by the source, or that was dismissed already", key)
		return nil
	}
	s.agg.DismissIssue(key)
	endpoint := issue.OnDismissEndpoint
	s.mu.Unlock()

	if endpoint != "" {
		if err := s.dispatcher.NotifyIssueDismissed(ctx, endpoint, key); err != nil {
			// The dismissal already took effect locally and the issue will
			// no longer surface, so a failed notice is still a success.
			logger.Warnf("Error dispatching dismissal for issue %s: %v", key, err)
		}
	}

	s.mu.Lock()
	s.deliverListenersUpdateLocked(group, true, nil)
	s.mu.Unlock()
	return nil
}

// ExecuteIssueAction triggers the action's endpoint. Actions flagged
// willResolve enter the in-flight state before the trigger is dispatched and
// are watched by a resolving action timeout; a failed dispatch rolls the
// in-flight state back. Executing an action that is not currently available
// is a silent no-op, defending against duplicate clicks.
func (s *Service) ExecuteIssueAction(
	ctx context.Context,
	issueKey report.IssueKey,
	actionKey report.ActionKey,
	userID string,
) error {
	if actionKey.Issue != issueKey {
		return fmt.Errorf("%w: issue %s, action %s", ErrKeyMismatch, issueKey, actionKey)
	}
	group, err := s.groups.GroupOf(userID)
	if err != nil {
		return err
	}
	if !group.Contains(issueKey.UserID) {
		return fmt.Errorf("%w: issue %s", ErrCrossGroupTarget, issueKey)
	}

	s.mu.Lock()
	action := s.agg.ActionByKey(actionKey)
	if action == nil {
		s.mu.Unlock()
		logger.Warnf("Attempt to execute action %s that is not provided by the source, was dismissed, or is already in flight", actionKey)
		return nil
	}
	endpoint := action.Endpoint
	willResolve := action.WillResolve
	// The action goes in flight before the lock is released for dispatch, so
	// a duplicate click arriving while the trigger is on the wire sees the
	// action as busy and dispatches nothing.
	if willResolve {
		s.agg.MarkActionInFlight(actionKey)
		at := &resolvingActionTimeout{svc: s, actionKey: actionKey, group: group}
		s.pendingActions[actionKey] = at
		s.timeouts.Add(at, s.cfg.ResolvingActionTimeout())
		s.deliverListenersUpdateLocked(group, true, nil)
	}
	s.mu.Unlock()

	dispatchErr := s.dispatcher.TriggerIssueAction(ctx, endpoint, actionKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	if dispatchErr != nil {
		logger.Warnf("Error dispatching action %s: %v", actionKey, dispatchErr)
		changed := false
		if willResolve {
			s.cancelActionTimeoutLocked(actionKey)
			changed = s.agg.UnmarkActionInFlight(actionKey)
		}
		s.deliverListenersUpdateLocked(group, changed, &report.ErrorNotice{Message: "error executing issue action"})
		return fmt.Errorf("failed to dispatch action %s: %w", actionKey, dispatchErr)
	}

	s.metrics.RecordActionExecuted(ctx)
	return nil
}

// AddListener registers a listener under the given user and immediately
// delivers the current view to it. Re-registering the same listener for the
// same user is a no-op.
func (s *Service) AddListener(l listeners.Listener, userID string) error {
	group, err := s.groups.GroupOf(userID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.listeners.AddListener(l, userID) {
		return nil
	}
	l.OnUpdate(s.agg.BuildView(group, s.tracker.InProgress(group)), nil)
	return nil
}

// RemoveListener deregisters a listener.
func (s *Service) RemoveListener(l listeners.Listener, userID string) error {
	if _, err := s.groups.GroupOf(userID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners.RemoveListener(l, userID)
	return nil
}

// ResetAll clears all source data, open refresh episodes, and pending
// timeouts, then asks every source to re-report. Registered listeners
// survive a reset.
func (s *Service) ResetAll(ctx context.Context) {
	s.mu.Lock()
	s.agg.Clear()
	s.timeouts.Clear()
	s.tracker.ClearAll()
	s.pendingRefresh = make(map[string]*refreshTimeout)
	s.pendingActions = make(map[report.ActionKey]*resolvingActionTimeout)
	targets := make([]dispatch.RefreshTarget, 0, len(s.cfg.Sources))
	for i := range s.cfg.Sources {
		src := &s.cfg.Sources[i]
		targets = append(targets, dispatch.RefreshTarget{SourceID: src.ID, Endpoint: src.Endpoint})
	}
	s.mu.Unlock()

	s.dispatcher.SendDataChangedNotice(ctx, targets)
}

// Close cancels every pending timeout. Listeners and data are left intact.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeouts.Clear()
	s.pendingRefresh = make(map[string]*refreshTimeout)
	s.pendingActions = make(map[report.ActionKey]*resolvingActionTimeout)
}

func (s *Service) validateSubmission(
	sourceID, callerPkg, userID string,
) (usergroups.UserProfileGroup, error) {
	src := s.cfg.SourceByID(sourceID)
	if src == nil {
		return usergroups.UserProfileGroup{}, fmt.Errorf("%w: %q", ErrUnknownSource, sourceID)
	}
	if src.Package != callerPkg {
		return usergroups.UserProfileGroup{}, fmt.Errorf(
			"%w: source %q is owned by %q, not %q", ErrPackageMismatch, sourceID, src.Package, callerPkg)
	}
	return s.groups.GroupOf(userID)
}

// completeRefreshForSourceLocked marks a source done for the named episode
// and closes the episode when it was the last one pending. Stale broadcast
// ids are silently ignored.
func (s *Service) completeRefreshForSourceLocked(
	ctx context.Context, broadcastID, sourceID, userID string,
) bool {
	if broadcastID == "" {
		return false
	}
	if !s.tracker.ReportSourceRefreshDone(broadcastID, sourceID, userID) {
		return false
	}
	s.cancelRefreshTimeoutLocked(broadcastID)
	s.metrics.RecordRefreshCompleted(ctx)
	logger.Infof("Refresh with broadcast id %s completed, all sources responded", broadcastID)
	return true
}

func (s *Service) cancelRefreshTimeoutLocked(broadcastID string) {
	if rt, ok := s.pendingRefresh[broadcastID]; ok {
		s.timeouts.Remove(rt)
		delete(s.pendingRefresh, broadcastID)
	}
}

func (s *Service) cancelActionTimeoutLocked(key report.ActionKey) {
	if at, ok := s.pendingActions[key]; ok {
		s.timeouts.Remove(at)
		delete(s.pendingActions, key)
	}
}

// deliverListenersUpdateLocked notifies the group's listeners when there is
// something to say: a changed view, an error notice, or both. Delivery is a
// synchronous callback; listeners must return quickly.
func (s *Service) deliverListenersUpdateLocked(
	group usergroups.UserProfileGroup, updated bool, errNotice *report.ErrorNotice,
) bool {
	if !updated && errNotice == nil {
		return false
	}
	if !s.listeners.HasListenersForUserProfileGroup(group) {
		return false
	}
	var view *aggregator.AggregateView
	if updated {
		view = s.agg.BuildView(group, s.tracker.InProgress(group))
	}
	s.listeners.DeliverUpdateForUserProfileGroup(group, view, errNotice)
	return true
}

func (s *Service) dispatchTargets(keys []report.SourceKey) []dispatch.RefreshTarget {
	targets := make([]dispatch.RefreshTarget, 0, len(keys))
	for _, key := range keys {
		src := s.cfg.SourceByID(key.SourceID)
		if src == nil {
			continue
		}
		targets = append(targets, dispatch.RefreshTarget{
			SourceID: key.SourceID,
			UserID:   key.UserID,
			Endpoint: src.Endpoint,
		})
	}
	return targets
}
