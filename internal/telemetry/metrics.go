// Package telemetry provides OpenTelemetry instrumentation for the safety
// hub server.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CoordinatorMetricsMeterName is the name used for the coordinator metrics
// meter.
const CoordinatorMetricsMeterName = "github.com/safetyhub/safetyhub-server/internal/coordinator"

// CoordinatorMetrics holds the OpenTelemetry instruments for refresh and
// issue action coordination.
type CoordinatorMetrics struct {
	refreshesStarted   metric.Int64Counter
	refreshesCompleted metric.Int64Counter
	refreshTimeouts    metric.Int64Counter
	reportsTotal       metric.Int64Counter
	actionsExecuted    metric.Int64Counter
	actionTimeouts     metric.Int64Counter
}

// NewCoordinatorMetrics creates a new CoordinatorMetrics instance with the
// given meter provider. If provider is nil, it returns nil (no-op metrics).
func NewCoordinatorMetrics(provider metric.MeterProvider) (*CoordinatorMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CoordinatorMetricsMeterName)

	refreshesStarted, err := meter.Int64Counter(
		"safetyhub_refreshes_started_total",
		metric.WithDescription("Number of refresh episodes opened"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, err
	}

	refreshesCompleted, err := meter.Int64Counter(
		"safetyhub_refreshes_completed_total",
		metric.WithDescription("Number of refresh episodes that completed with all sources answering"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, err
	}

	refreshTimeouts, err := meter.Int64Counter(
		"safetyhub_refresh_timeouts_total",
		metric.WithDescription("Number of refresh episodes closed by timeout"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, err
	}

	reportsTotal, err := meter.Int64Counter(
		"safetyhub_source_reports_total",
		metric.WithDescription("Number of source report submissions, by outcome"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		return nil, err
	}

	actionsExecuted, err := meter.Int64Counter(
		"safetyhub_issue_actions_executed_total",
		metric.WithDescription("Number of issue actions dispatched"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	actionTimeouts, err := meter.Int64Counter(
		"safetyhub_issue_action_timeouts_total",
		metric.WithDescription("Number of resolving actions that timed out"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	return &CoordinatorMetrics{
		refreshesStarted:   refreshesStarted,
		refreshesCompleted: refreshesCompleted,
		refreshTimeouts:    refreshTimeouts,
		reportsTotal:       reportsTotal,
		actionsExecuted:    actionsExecuted,
		actionTimeouts:     actionTimeouts,
	}, nil
}

// RecordRefreshStarted records a refresh episode being opened.
func (m *CoordinatorMetrics) RecordRefreshStarted(ctx context.Context, reason string) {
	if m == nil || m.refreshesStarted == nil {
		return
	}
	m.refreshesStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRefreshCompleted records an episode closing with all sources done.
func (m *CoordinatorMetrics) RecordRefreshCompleted(ctx context.Context) {
	if m == nil || m.refreshesCompleted == nil {
		return
	}
	m.refreshesCompleted.Add(ctx, 1)
}

// RecordRefreshTimeout records an episode closed by the refresh deadline.
func (m *CoordinatorMetrics) RecordRefreshTimeout(ctx context.Context) {
	if m == nil || m.refreshTimeouts == nil {
		return
	}
	m.refreshTimeouts.Add(ctx, 1)
}

// RecordReport records a source report submission outcome ("accepted" or
// "rejected").
func (m *CoordinatorMetrics) RecordReport(ctx context.Context, outcome string) {
	if m == nil || m.reportsTotal == nil {
		return
	}
	m.reportsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordActionExecuted records an issue action being dispatched.
func (m *CoordinatorMetrics) RecordActionExecuted(ctx context.Context) {
	if m == nil || m.actionsExecuted == nil {
		return
	}
	m.actionsExecuted.Add(ctx, 1)
}

// RecordActionTimeout records a resolving action timing out.
func (m *CoordinatorMetrics) RecordActionTimeout(ctx context.Context) {
	if m == nil || m.actionTimeouts == nil {
		return
	}
	m.actionTimeouts.Add(ctx, 1)
}
