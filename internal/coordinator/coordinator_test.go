package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/safetyhub/safetyhub-server/internal/aggregator"
	"github.com/safetyhub/safetyhub-server/internal/config"
	"github.com/safetyhub/safetyhub-server/internal/dispatch"
	"github.com/safetyhub/safetyhub-server/internal/dispatch/mocks"
	"github.com/safetyhub/safetyhub-server/internal/report"
	"github.com/safetyhub/safetyhub-server/internal/usergroups"
)

func testConfig() *config.Config {
	return &config.Config{
		Sources: []config.SourceConfig{
			{
				ID:                "app-scanner",
				Package:           "com.example.scanner",
				Endpoint:          "http://scanner.local/refresh",
				RefreshOnPageOpen: true,
			},
			{
				ID:       "lock-screen",
				Package:  "com.example.lock",
				Endpoint: "http://lock.local/refresh",
			},
		},
		Users: []config.UserConfig{
			{ID: "alice", Profiles: []string{"alice-work"}},
			{ID: "bob"},
		},
		Timeouts: config.TimeoutsConfig{
			Refresh:         "40ms",
			ResolvingAction: "150ms",
		},
	}
}

func newTestService(t *testing.T) (*Service, *mocks.MockDispatcher) {
	t.Helper()

	cfg := testConfig()
	groups, err := usergroups.NewResolver(cfg.ProfileGroups())
	require.NoError(t, err)

	dispatcher := mocks.NewMockDispatcher(gomock.NewController(t))
	svc := New(cfg, groups, dispatcher)
	t.Cleanup(svc.Close)
	return svc, dispatcher
}

// updateListener records every delivery. Safe for concurrent use because
// timeout callbacks deliver from timer goroutines.
type updateListener struct {
	mu      sync.Mutex
	views   []*aggregator.AggregateView
	notices []*report.ErrorNotice
}

func (l *updateListener) OnUpdate(view *aggregator.AggregateView, errNotice *report.ErrorNotice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.views = append(l.views, view)
	l.notices = append(l.notices, errNotice)
}

func (l *updateListener) deliveries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.views)
}

func (l *updateListener) lastView() *aggregator.AggregateView {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.views) - 1; i >= 0; i-- {
		if l.views[i] != nil {
			return l.views[i]
		}
	}
	return nil
}

func (l *updateListener) errorNotices() []*report.ErrorNotice {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*report.ErrorNotice
	for _, n := range l.notices {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func scannerReport(severity report.Severity, issues ...report.Issue) *report.SourceReport {
	return &report.SourceReport{
		Status: report.SourceStatus{Title: "Scanner", Severity: severity},
		Issues: issues,
	}
}

func TestRequestRefreshFansOutAndCompletes(t *testing.T) {
	t.Parallel()

	svc, dispatcher := newTestService(t)
	ctx := context.Background()

	listener := &updateListener{}
	require.NoError(t, svc.AddListener(listener, "alice"))
	require.Equal(t, 1, listener.deliveries())

	var broadcastID string
	var sentTargets []dispatch.RefreshTarget
	dispatcher.EXPECT().
		SendRefreshRequests(gomock.Any(), gomock.Any(), gomock.Any(), report.ReasonRescanButtonClick, gomock.Any()).
		Do(func(_ context.Context, targets []dispatch.RefreshTarget, id string,
			_ report.RefreshReason, _ usergroups.UserProfileGroup) {
			broadcastID = id
			sentTargets = targets
		})

	require.NoError(t, svc.RequestRefresh(ctx, report.ReasonRescanButtonClick, "alice"))
	require.NotEmpty(t, broadcastID)
	require.Len(t, sentTargets, 2)

	// Listeners saw the refresh start.
	view := listener.lastView()
	require.NotNil(t, view)
	assert.True(t, view.RefreshInProgress)

	// First source answers; the refresh is still waiting on the second.
	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityInformation),
		report.Event{Seq: 1, Type: report.EventRefreshResponse, RefreshBroadcastID: broadcastID}))
	assert.True(t, listener.lastView().RefreshInProgress)

	// The last answer closes the episode.
	require.NoError(t, svc.SubmitSourceData(ctx, "lock-screen", "com.example.lock", "alice",
		scannerReport(report.SeverityInformation),
		report.Event{Seq: 1, Type: report.EventRefreshResponse, RefreshBroadcastID: broadcastID}))
	assert.False(t, listener.lastView().RefreshInProgress)
	assert.Empty(t, listener.errorNotices())
}

func TestRequestRefreshPageOpenTargetsOptedInSources(t *testing.T) {
	t.Parallel()

	svc, dispatcher := newTestService(t)

	var sentTargets []dispatch.RefreshTarget
	dispatcher.EXPECT().
		SendRefreshRequests(gomock.Any(), gomock.Any(), gomock.Any(), report.ReasonPageOpen, gomock.Any()).
		Do(func(_ context.Context, targets []dispatch.RefreshTarget, _ string,
			_ report.RefreshReason, _ usergroups.UserProfileGroup) {
			sentTargets = targets
		})

	require.NoError(t, svc.RequestRefresh(context.Background(), report.ReasonPageOpen, "alice"))
	require.Len(t, sentTargets, 1)
	assert.Equal(t, "app-scanner", sentTargets[0].SourceID)
}

func TestRequestRefreshWithNoTargetsFinishesImmediately(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Sources[0].RefreshOnPageOpen = false
	groups, err := usergroups.NewResolver(cfg.ProfileGroups())
	require.NoError(t, err)
	dispatcher := mocks.NewMockDispatcher(gomock.NewController(t))
	svc := New(cfg, groups, dispatcher)
	t.Cleanup(svc.Close)

	listener := &updateListener{}
	require.NoError(t, svc.AddListener(listener, "alice"))

	// No source opted into page-open refreshes. Nothing is dispatched (the
	// mock rejects any fan-out call) and the refresh never shows as in
	// progress.
	require.NoError(t, svc.RequestRefresh(context.Background(), report.ReasonPageOpen, "alice"))

	view, err := svc.GetAggregateView("alice")
	require.NoError(t, err)
	assert.False(t, view.RefreshInProgress)
	assert.False(t, listener.lastView().RefreshInProgress)
}

func TestRequestRefreshRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.RequestRefresh(ctx, "made-up-reason", "alice"), ErrInvalidReason)
	assert.ErrorIs(t, svc.RequestRefresh(ctx, report.ReasonOther, "mallory"), usergroups.ErrUnknownUser)
}

func TestRefreshTimeoutClosesEpisodeSilently(t *testing.T) {
	t.Parallel()

	svc, dispatcher := newTestService(t)
	ctx := context.Background()

	listener := &updateListener{}
	require.NoError(t, svc.AddListener(listener, "alice"))

	dispatcher.EXPECT().
		SendRefreshRequests(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any())
	require.NoError(t, svc.RequestRefresh(ctx, report.ReasonRescanButtonClick, "alice"))

	require.Eventually(t, func() bool {
		view, err := svc.GetAggregateView("alice")
		require.NoError(t, err)
		return !view.RefreshInProgress
	}, time.Second, 5*time.Millisecond)

	// The timeout surfaces as an updated view, never as an error.
	assert.False(t, listener.lastView().RefreshInProgress)
	assert.Empty(t, listener.errorNotices())
}

func TestRefreshResponseAfterTimeoutIsAbsorbed(t *testing.T) {
	t.Parallel()

	svc, dispatcher := newTestService(t)
	ctx := context.Background()

	var broadcastID string
	dispatcher.EXPECT().
		SendRefreshRequests(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, _ []dispatch.RefreshTarget, id string,
			_ report.RefreshReason, _ usergroups.UserProfileGroup) {
			broadcastID = id
		})
	require.NoError(t, svc.RequestRefresh(ctx, report.ReasonRescanButtonClick, "alice"))

	require.Eventually(t, func() bool {
		view, err := svc.GetAggregateView("alice")
		require.NoError(t, err)
		return !view.RefreshInProgress
	}, time.Second, 5*time.Millisecond)

	// The data still lands; the stale broadcast id is silently dropped.
	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityRecommendation),
		report.Event{Seq: 1, Type: report.EventRefreshResponse, RefreshBroadcastID: broadcastID}))

	view, err := svc.GetAggregateView("alice")
	require.NoError(t, err)
	assert.False(t, view.RefreshInProgress)
	assert.Equal(t, report.SeverityRecommendation, view.OverallSeverity)
}

func TestSupersedingRefreshInvalidatesPriorEpisode(t *testing.T) {
	t.Parallel()

	svc, dispatcher := newTestService(t)
	ctx := context.Background()

	var ids []string
	dispatcher.EXPECT().
		SendRefreshRequests(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, _ []dispatch.RefreshTarget, id string,
			_ report.RefreshReason, _ usergroups.UserProfileGroup) {
			ids = append(ids, id)
		}).
		Times(2)

	require.NoError(t, svc.RequestRefresh(ctx, report.ReasonRescanButtonClick, "alice"))
	require.NoError(t, svc.RequestRefresh(ctx, report.ReasonRescanButtonClick, "alice"))
	require.Len(t, ids, 2)

	// Answers naming the superseded episode do not finish the new one.
	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityInformation),
		report.Event{Seq: 1, Type: report.EventRefreshResponse, RefreshBroadcastID: ids[0]}))
	require.NoError(t, svc.SubmitSourceData(ctx, "lock-screen", "com.example.lock", "alice",
		scannerReport(report.SeverityInformation),
		report.Event{Seq: 1, Type: report.EventRefreshResponse, RefreshBroadcastID: ids[0]}))

	view, err := svc.GetAggregateView("alice")
	require.NoError(t, err)
	assert.True(t, view.RefreshInProgress)
}

func TestSubmitSourceDataValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	rpt := scannerReport(report.SeverityInformation)

	tests := []struct {
		name      string
		sourceID  string
		callerPkg string
		userID    string
		wantErr   error
	}{
		{
			name:      "unknown source",
			sourceID:  "no-such-source",
			callerPkg: "com.example.scanner",
			userID:    "alice",
			wantErr:   ErrUnknownSource,
		},
		{
			name:      "caller does not own source",
			sourceID:  "app-scanner",
			callerPkg: "com.example.imposter",
			userID:    "alice",
			wantErr:   ErrPackageMismatch,
		},
		{
			name:      "unknown user",
			sourceID:  "app-scanner",
			callerPkg: "com.example.scanner",
			userID:    "mallory",
			wantErr:   usergroups.ErrUnknownUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.SubmitSourceData(ctx, tt.sourceID, tt.callerPkg, tt.userID,
				rpt, report.Event{Seq: 1, Type: report.EventSourceStateChanged})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSubmitSourceErrorFlagsStaleDataAndNotifies(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityInformation),
		report.Event{Seq: 1, Type: report.EventSourceStateChanged}))

	listener := &updateListener{}
	require.NoError(t, svc.AddListener(listener, "alice"))

	require.NoError(t, svc.SubmitSourceError(ctx, "app-scanner", "com.example.scanner", "alice",
		report.SourceError{Message: "scan crashed"}))

	notices := listener.errorNotices()
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Message, "app-scanner")

	view, err := svc.GetAggregateView("alice")
	require.NoError(t, err)
	require.Len(t, view.Entries, 2)
	assert.True(t, view.Entries[0].Stale)
	assert.Equal(t, "scan crashed", view.Entries[0].ErrorMessage)
}

func TestSourceErrorWithBroadcastIDCompletesRefresh(t *testing.T) {
	t.Parallel()

	svc, dispatcher := newTestService(t)
	ctx := context.Background()

	var broadcastID string
	dispatcher.EXPECT().
		SendRefreshRequests(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, _ []dispatch.RefreshTarget, id string,
			_ report.RefreshReason, _ usergroups.UserProfileGroup) {
			broadcastID = id
		})
	require.NoError(t, svc.RequestRefresh(ctx, report.ReasonRescanButtonClick, "alice"))

	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityInformation),
		report.Event{Seq: 1, Type: report.EventRefreshResponse, RefreshBroadcastID: broadcastID}))

	view, err := svc.GetAggregateView("alice")
	require.NoError(t, err)
	require.True(t, view.RefreshInProgress)

	// The failing source still answered; the episode stops waiting for it.
	require.NoError(t, svc.SubmitSourceError(ctx, "lock-screen", "com.example.lock", "alice",
		report.SourceError{Message: "lock query failed", RefreshBroadcastID: broadcastID}))

	view, err = svc.GetAggregateView("alice")
	require.NoError(t, err)
	assert.False(t, view.RefreshInProgress)

	// The deadline was canceled along with the episode.
	svc.mu.Lock()
	pending := len(svc.pendingRefresh)
	svc.mu.Unlock()
	assert.Zero(t, pending)
}

func TestExecuteIssueActionResolvingFlow(t *testing.T) {
	t.Parallel()

	svc, dispatcher := newTestService(t)
	ctx := context.Background()

	issueKey := report.IssueKey{SourceID: "app-scanner", IssueID: "issue-1", UserID: "alice"}
	actionKey := report.ActionKey{Issue: issueKey, ActionID: "fix"}

	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityCritical, report.Issue{
			ID:       "issue-1",
			Title:    "Harmful app",
			Severity: report.SeverityCritical,
			Actions: []report.IssueAction{{
				ID: "fix", Label: "Uninstall", WillResolve: true,
				Endpoint: "http://scanner.local/fix",
			}},
		}),
		report.Event{Seq: 1, Type: report.EventSourceStateChanged}))

	dispatcher.EXPECT().
		TriggerIssueAction(gomock.Any(), "http://scanner.local/fix", actionKey).
		Return(nil)
	require.NoError(t, svc.ExecuteIssueAction(ctx, issueKey, actionKey, "alice"))

	view, err := svc.GetAggregateView("alice")
	require.NoError(t, err)
	require.Len(t, view.Issues, 1)
	require.Len(t, view.Issues[0].Actions, 1)
	assert.True(t, view.Issues[0].Actions[0].InFlight)

	// A second click while in flight is a silent no-op and dispatches
	// nothing.
	require.NoError(t, svc.ExecuteIssueAction(ctx, issueKey, actionKey, "alice"))

	// The source resolves the issue; the slot is updated and the in-flight
	// state settles.
	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityInformation),
		report.Event{
			Seq: 2, Type: report.EventResolvingActionSucceeded,
			IssueID: "issue-1", ActionID: "fix",
		}))

	view, err = svc.GetAggregateView("alice")
	require.NoError(t, err)
	assert.Empty(t, view.Issues)
	assert.Equal(t, report.SeverityInformation, view.OverallSeverity)
}

func TestExecuteIssueActionDuplicateClickDuringDispatch(t *testing.T) {
	t.Parallel()

	svc, dispatcher := newTestService(t)
	ctx := context.Background()

	issueKey := report.IssueKey{SourceID: "app-scanner", IssueID: "issue-1", UserID: "alice"}
	actionKey := report.ActionKey{Issue: issueKey, ActionID: "fix"}

	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityCritical, report.Issue{
			ID: "issue-1",
			Actions: []report.IssueAction{{
				ID: "fix", WillResolve: true, Endpoint: "http://scanner.local/fix",
			}},
		}),
		report.Event{Seq: 1, Type: report.EventSourceStateChanged}))

	started := make(chan struct{})
	release := make(chan struct{})
	dispatcher.EXPECT().
		TriggerIssueAction(gomock.Any(), "http://scanner.local/fix", actionKey).
		DoAndReturn(func(context.Context, string, report.ActionKey) error {
			close(started)
			<-release
			return nil
		})

	done := make(chan error, 1)
	go func() {
		done <- svc.ExecuteIssueAction(ctx, issueKey, actionKey, "alice")
	}()
	<-started

	// The first trigger is still on the wire. A second click sees the
	// action in flight and dispatches nothing; the mock rejects a second
	// trigger call.
	require.NoError(t, svc.ExecuteIssueAction(ctx, issueKey, actionKey, "alice"))

	close(release)
	require.NoError(t, <-done)

	view, err := svc.GetAggregateView("alice")
	require.NoError(t, err)
	require.Len(t, view.Issues, 1)
	assert.True(t, view.Issues[0].Actions[0].InFlight)
}

func TestExecuteIssueActionDispatchFailure(t *testing.T) {
	t.Parallel()

	svc, dispatcher := newTestService(t)
	ctx := context.Background()

	issueKey := report.IssueKey{SourceID: "app-scanner", IssueID: "issue-1", UserID: "alice"}
	actionKey := report.ActionKey{Issue: issueKey, ActionID: "fix"}

	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityCritical, report.Issue{
			ID: "issue-1",
			Actions: []report.IssueAction{{
				ID: "fix", WillResolve: true, Endpoint: "http://scanner.local/fix",
			}},
		}),
		report.Event{Seq: 1, Type: report.EventSourceStateChanged}))

	listener := &updateListener{}
	require.NoError(t, svc.AddListener(listener, "alice"))

	dispatchErr := errors.New("connection refused")
	dispatcher.EXPECT().
		TriggerIssueAction(gomock.Any(), "http://scanner.local/fix", actionKey).
		Return(dispatchErr)

	err := svc.ExecuteIssueAction(ctx, issueKey, actionKey, "alice")
	require.ErrorIs(t, err, dispatchErr)

	// The failure reaches listeners and the action never enters the
	// in-flight state, so it can be retried immediately.
	notices := listener.errorNotices()
	require.Len(t, notices, 1)
	assert.Equal(t, "error executing issue action", notices[0].Message)

	view, getErr := svc.GetAggregateView("alice")
	require.NoError(t, getErr)
	require.Len(t, view.Issues, 1)
	assert.False(t, view.Issues[0].Actions[0].InFlight)
}

func TestResolvingActionTimeoutSurfacesError(t *testing.T) {
	t.Parallel()

	svc, dispatcher := newTestService(t)
	ctx := context.Background()

	issueKey := report.IssueKey{SourceID: "app-scanner", IssueID: "issue-1", UserID: "alice"}
	actionKey := report.ActionKey{Issue: issueKey, ActionID: "fix"}

	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityCritical, report.Issue{
			ID: "issue-1",
			Actions: []report.IssueAction{{
				ID: "fix", WillResolve: true, Endpoint: "http://scanner.local/fix",
			}},
		}),
		report.Event{Seq: 1, Type: report.EventSourceStateChanged}))

	listener := &updateListener{}
	require.NoError(t, svc.AddListener(listener, "alice"))

	dispatcher.EXPECT().
		TriggerIssueAction(gomock.Any(), gomock.Any(), actionKey).
		Return(nil)
	require.NoError(t, svc.ExecuteIssueAction(ctx, issueKey, actionKey, "alice"))

	// The source never reports back; the timeout revives the action and
	// surfaces exactly one error.
	require.Eventually(t, func() bool {
		return len(listener.errorNotices()) > 0
	}, time.Second, 5*time.Millisecond)

	notices := listener.errorNotices()
	require.Len(t, notices, 1)
	assert.Equal(t, "resolving action timeout", notices[0].Message)

	view, err := svc.GetAggregateView("alice")
	require.NoError(t, err)
	require.Len(t, view.Issues, 1)
	assert.False(t, view.Issues[0].Actions[0].InFlight)

	// A late resolution from the source settles silently.
	before := len(listener.errorNotices())
	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityInformation),
		report.Event{
			Seq: 2, Type: report.EventResolvingActionSucceeded,
			IssueID: "issue-1", ActionID: "fix",
		}))
	assert.Len(t, listener.errorNotices(), before)
}

func TestResolvingActionFailureReportedBySource(t *testing.T) {
	t.Parallel()

	svc, dispatcher := newTestService(t)
	ctx := context.Background()

	issueKey := report.IssueKey{SourceID: "app-scanner", IssueID: "issue-1", UserID: "alice"}
	actionKey := report.ActionKey{Issue: issueKey, ActionID: "fix"}

	withIssue := scannerReport(report.SeverityCritical, report.Issue{
		ID: "issue-1",
		Actions: []report.IssueAction{{
			ID: "fix", WillResolve: true, Endpoint: "http://scanner.local/fix",
		}},
	})
	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		withIssue, report.Event{Seq: 1, Type: report.EventSourceStateChanged}))

	listener := &updateListener{}
	require.NoError(t, svc.AddListener(listener, "alice"))

	dispatcher.EXPECT().
		TriggerIssueAction(gomock.Any(), gomock.Any(), actionKey).
		Return(nil)
	require.NoError(t, svc.ExecuteIssueAction(ctx, issueKey, actionKey, "alice"))

	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		withIssue, report.Event{
			Seq: 2, Type: report.EventResolvingActionFailed,
			IssueID: "issue-1", ActionID: "fix",
		}))

	notices := listener.errorNotices()
	require.Len(t, notices, 1)
	assert.Equal(t, "issue action failed", notices[0].Message)

	// The action is executable again.
	view, err := svc.GetAggregateView("alice")
	require.NoError(t, err)
	require.Len(t, view.Issues, 1)
	assert.False(t, view.Issues[0].Actions[0].InFlight)
}

func TestExecuteIssueActionRejectsBadKeys(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	issueKey := report.IssueKey{SourceID: "app-scanner", IssueID: "issue-1", UserID: "alice"}
	otherIssue := report.IssueKey{SourceID: "app-scanner", IssueID: "issue-2", UserID: "alice"}
	crossGroup := report.IssueKey{SourceID: "app-scanner", IssueID: "issue-1", UserID: "bob"}

	err := svc.ExecuteIssueAction(ctx, issueKey,
		report.ActionKey{Issue: otherIssue, ActionID: "fix"}, "alice")
	assert.ErrorIs(t, err, ErrKeyMismatch)

	err = svc.ExecuteIssueAction(ctx, crossGroup,
		report.ActionKey{Issue: crossGroup, ActionID: "fix"}, "alice")
	assert.ErrorIs(t, err, ErrCrossGroupTarget)
}

func TestExecuteUnknownActionIsSilentNoOp(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	issueKey := report.IssueKey{SourceID: "app-scanner", IssueID: "nope", UserID: "alice"}
	actionKey := report.ActionKey{Issue: issueKey, ActionID: "fix"}

	// Nothing was ever reported; the execution attempt dispatches nothing
	// and succeeds.
	assert.NoError(t, svc.ExecuteIssueAction(context.Background(), issueKey, actionKey, "alice"))
}

func TestDismissIssueNotifiesSource(t *testing.T) {
	t.Parallel()

	svc, dispatcher := newTestService(t)
	ctx := context.Background()

	key := report.IssueKey{SourceID: "app-scanner", IssueID: "issue-1", UserID: "alice"}
	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityCritical, report.Issue{
			ID:                "issue-1",
			OnDismissEndpoint: "http://scanner.local/dismissed",
		}),
		report.Event{Seq: 1, Type: report.EventSourceStateChanged}))

	listener := &updateListener{}
	require.NoError(t, svc.AddListener(listener, "alice"))

	dispatcher.EXPECT().
		NotifyIssueDismissed(gomock.Any(), "http://scanner.local/dismissed", key).
		Return(nil)
	require.NoError(t, svc.DismissIssue(ctx, key, "alice"))

	view, err := svc.GetAggregateView("alice")
	require.NoError(t, err)
	assert.Empty(t, view.Issues)

	// Dismissing again races nothing and is a silent no-op.
	require.NoError(t, svc.DismissIssue(ctx, key, "alice"))
	assert.Empty(t, listener.errorNotices())
}

func TestDismissIssueSurvivesDispatchFailure(t *testing.T) {
	t.Parallel()

	svc, dispatcher := newTestService(t)
	ctx := context.Background()

	key := report.IssueKey{SourceID: "app-scanner", IssueID: "issue-1", UserID: "alice"}
	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityCritical, report.Issue{
			ID:                "issue-1",
			OnDismissEndpoint: "http://scanner.local/dismissed",
		}),
		report.Event{Seq: 1, Type: report.EventSourceStateChanged}))

	listener := &updateListener{}
	require.NoError(t, svc.AddListener(listener, "alice"))

	dispatcher.EXPECT().
		NotifyIssueDismissed(gomock.Any(), gomock.Any(), key).
		Return(errors.New("connection refused"))

	// The dismissal already took effect locally; the failed notice is not
	// surfaced as an error.
	require.NoError(t, svc.DismissIssue(ctx, key, "alice"))
	assert.Empty(t, listener.errorNotices())

	view, err := svc.GetAggregateView("alice")
	require.NoError(t, err)
	assert.Empty(t, view.Issues)
}

func TestDismissIssueRejectsCrossGroupTarget(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	key := report.IssueKey{SourceID: "app-scanner", IssueID: "issue-1", UserID: "bob"}
	err := svc.DismissIssue(context.Background(), key, "alice")
	assert.ErrorIs(t, err, ErrCrossGroupTarget)
}

func TestAddListenerDeliversInitialSnapshot(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityRecommendation),
		report.Event{Seq: 1, Type: report.EventSourceStateChanged}))

	listener := &updateListener{}
	require.NoError(t, svc.AddListener(listener, "alice"))

	require.Equal(t, 1, listener.deliveries())
	view := listener.lastView()
	require.NotNil(t, view)
	assert.Equal(t, report.SeverityRecommendation, view.OverallSeverity)

	// Re-registering does not deliver a second snapshot.
	require.NoError(t, svc.AddListener(listener, "alice"))
	assert.Equal(t, 1, listener.deliveries())

	assert.ErrorIs(t, svc.AddListener(&updateListener{}, "mallory"), usergroups.ErrUnknownUser)
}

func TestListenerScopedToProfileGroup(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	aliceListener := &updateListener{}
	bobListener := &updateListener{}
	require.NoError(t, svc.AddListener(aliceListener, "alice-work"))
	require.NoError(t, svc.AddListener(bobListener, "bob"))

	// A submission for alice reaches the listener registered under her
	// managed profile but not bob's.
	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityInformation),
		report.Event{Seq: 1, Type: report.EventSourceStateChanged}))

	assert.Equal(t, 2, aliceListener.deliveries())
	assert.Equal(t, 1, bobListener.deliveries())
}

func TestRemoveListenerStopsDelivery(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	listener := &updateListener{}
	require.NoError(t, svc.AddListener(listener, "alice"))
	require.NoError(t, svc.RemoveListener(listener, "alice"))

	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityInformation),
		report.Event{Seq: 1, Type: report.EventSourceStateChanged}))
	assert.Equal(t, 1, listener.deliveries())
}

func TestResetAllClearsStateAndKeepsListeners(t *testing.T) {
	t.Parallel()

	svc, dispatcher := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityCritical, report.Issue{ID: "issue-1"}),
		report.Event{Seq: 7, Type: report.EventSourceStateChanged}))

	listener := &updateListener{}
	require.NoError(t, svc.AddListener(listener, "alice"))

	var notified []dispatch.RefreshTarget
	dispatcher.EXPECT().
		SendDataChangedNotice(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, targets []dispatch.RefreshTarget) {
			notified = targets
		})
	svc.ResetAll(ctx)

	// Every configured source is asked to re-report.
	require.Len(t, notified, 2)

	view, err := svc.GetAggregateView("alice")
	require.NoError(t, err)
	assert.Empty(t, view.Issues)
	assert.False(t, view.Entries[0].HasData)

	// Listeners survive the reset and sequence tracking restarts.
	before := listener.deliveries()
	require.NoError(t, svc.SubmitSourceData(ctx, "app-scanner", "com.example.scanner", "alice",
		scannerReport(report.SeverityInformation),
		report.Event{Seq: 1, Type: report.EventSourceStateChanged}))
	assert.Equal(t, before+1, listener.deliveries())
}
