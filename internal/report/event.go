package report

// EventType describes why a source is submitting data.
type EventType string

const (
	// EventSourceStateChanged is an unsolicited update from the source.
	EventSourceStateChanged EventType = "source-state-changed"

	// EventRefreshResponse answers a refresh request; the event carries the
	// broadcast id of the episode it responds to.
	EventRefreshResponse EventType = "refresh-response"

	// EventResolvingActionSucceeded reports that an in-flight issue action
	// completed successfully.
	EventResolvingActionSucceeded EventType = "resolving-action-succeeded"

	// EventResolvingActionFailed reports that an in-flight issue action
	// failed.
	EventResolvingActionFailed EventType = "resolving-action-failed"
)

// Event accompanies every report submission. Seq is a per-source monotonic
// counter; submissions whose Seq is not strictly greater than the last
// accepted one are dropped as duplicates or out-of-order replays.
type Event struct {
	Seq  uint64    `json:"seq"`
	Type EventType `json:"type"`

	// RefreshBroadcastID is set for refresh-response events.
	RefreshBroadcastID string `json:"refreshBroadcastId,omitempty"`

	// IssueID and ActionID are set for resolving-action events.
	IssueID  string `json:"issueId,omitempty"`
	ActionID string `json:"actionId,omitempty"`
}

// RefreshReason encodes what triggered a refresh request.
type RefreshReason string

const (
	// ReasonPageOpen is a refresh triggered by opening the safety page;
	// only sources that opted into page-open refreshes are targeted.
	ReasonPageOpen RefreshReason = "page-open"

	// ReasonRescanButtonClick is an explicit user-requested rescan.
	ReasonRescanButtonClick RefreshReason = "rescan-button-click"

	// ReasonDeviceReboot is a refresh after the device restarted.
	ReasonDeviceReboot RefreshReason = "device-reboot"

	// ReasonOther covers programmatic refreshes with no specific trigger.
	ReasonOther RefreshReason = "other"
)

// Valid reports whether the reason is one of the known trigger codes.
func (r RefreshReason) Valid() bool {
	switch r {
	case ReasonPageOpen, ReasonRescanButtonClick, ReasonDeviceReboot, ReasonOther:
		return true
	}
	return false
}
