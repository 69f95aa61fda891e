// Package dispatch delivers outbound notifications to safety sources:
// refresh fan-out requests, data-changed notices, dismissal notices, and
// issue action triggers.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/safetyhub/safetyhub-server/internal/logger"
	"github.com/safetyhub/safetyhub-server/internal/report"
	"github.com/safetyhub/safetyhub-server/internal/usergroups"
)

// RefreshTarget is one destination of a refresh fan-out.
type RefreshTarget struct {
	SourceID string
	UserID   string
	Endpoint string
}

// Dispatcher sends notifications to sources. Refresh requests and
// data-changed notices are fire-and-forget: results arrive later through
// the coordinator's submission entry points. Dismissal notices and action
// triggers report their outcome synchronously because the coordinator's
// error handling differs between the two.
//
//go:generate mockgen -destination=mocks/mock_dispatcher.go -package=mocks github.com/safetyhub/safetyhub-server/internal/dispatch Dispatcher
type Dispatcher interface {
	// SendRefreshRequests fans the refresh request out to every target.
	SendRefreshRequests(
		ctx context.Context,
		targets []RefreshTarget,
		broadcastID string,
		reason report.RefreshReason,
		group usergroups.UserProfileGroup,
	)

	// SendDataChangedNotice tells sources their submitted data was cleared
	// and should be re-reported.
	SendDataChangedNotice(ctx context.Context, targets []RefreshTarget)

	// NotifyIssueDismissed notifies the issue's dismissal endpoint.
	NotifyIssueDismissed(ctx context.Context, endpoint string, key report.IssueKey) error

	// TriggerIssueAction invokes the action's endpoint.
	TriggerIssueAction(ctx context.Context, endpoint string, key report.ActionKey) error
}

const (
	dispatchRequestTimeout = 5 * time.Second
	refreshSendMaxTries    = 3
)

// refreshRequestBody is the payload posted to a source's refresh endpoint.
type refreshRequestBody struct {
	BroadcastID string               `json:"broadcastId"`
	Reason      report.RefreshReason `json:"reason"`
	UserID      string               `json:"userId"`
}

// dataChangedBody is the payload posted on data-changed notices.
type dataChangedBody struct {
	UserID string `json:"userId"`
}

// HTTPDispatcher delivers notifications over HTTP POST.
type HTTPDispatcher struct {
	client *http.Client
}

// NewHTTPDispatcher creates a dispatcher using the given client, or a
// default client when nil.
func NewHTTPDispatcher(client *http.Client) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{Timeout: dispatchRequestTimeout}
	}
	return &HTTPDispatcher{client: client}
}

// SendRefreshRequests posts the refresh request to every target in the
// background, retrying transient failures with exponential backoff. Sources
// that never receive the request simply time out on the coordinator side.
func (d *HTTPDispatcher) SendRefreshRequests(
	ctx context.Context,
	targets []RefreshTarget,
	broadcastID string,
	reason report.RefreshReason,
	group usergroups.UserProfileGroup,
) {
	logger.Infof("Sending refresh requests to %d targets for %s (broadcast id %s, reason %s)",
		len(targets), group, broadcastID, reason)
	// The posts outlive the originating request; the caller gets its reply
	// before the fan-out finishes.
	ctx = context.WithoutCancel(ctx)
	for _, target := range targets {
		go func(target RefreshTarget) {
			body := refreshRequestBody{
				BroadcastID: broadcastID,
				Reason:      reason,
				UserID:      target.UserID,
			}
			if err := d.postWithRetry(ctx, target.Endpoint, body); err != nil {
				logger.Warnf("Failed to send refresh request to source %s for user %s: %v",
					target.SourceID, target.UserID, err)
			}
		}(target)
	}
}

// SendDataChangedNotice posts a data-changed notice to every target in the
// background. Best effort.
func (d *HTTPDispatcher) SendDataChangedNotice(ctx context.Context, targets []RefreshTarget) {
	ctx = context.WithoutCancel(ctx)
	for _, target := range targets {
		go func(target RefreshTarget) {
			if err := d.postWithRetry(ctx, target.Endpoint, dataChangedBody{UserID: target.UserID}); err != nil {
				logger.Warnf("Failed to send data-changed notice to source %s: %v", target.SourceID, err)
			}
		}(target)
	}
}

// NotifyIssueDismissed posts the dismissal notice synchronously, without
// retries; the caller treats a failure as a soft success.
func (d *HTTPDispatcher) NotifyIssueDismissed(
	ctx context.Context, endpoint string, key report.IssueKey,
) error {
	return d.post(ctx, endpoint, key)
}

// TriggerIssueAction posts the action trigger synchronously, without
// retries; the caller surfaces a failure to listeners.
func (d *HTTPDispatcher) TriggerIssueAction(
	ctx context.Context, endpoint string, key report.ActionKey,
) error {
	return d.post(ctx, endpoint, key)
}

func (d *HTTPDispatcher) postWithRetry(ctx context.Context, endpoint string, payload any) error {
	operation := func() (struct{}, error) {
		return struct{}{}, d.post(ctx, endpoint, payload)
	}
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(refreshSendMaxTries),
	)
	return err
}

func (d *HTTPDispatcher) post(ctx context.Context, endpoint string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("endpoint %s returned status %d", endpoint, resp.StatusCode)
	}
	return nil
}
