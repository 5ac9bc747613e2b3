package client

import (
	"github.com/selectcast/selectcast/go/internal/store"
)

// NotificationType tags a user-facing notification.
type NotificationType string

const (
	// NotificationStatus reports a state machine transition.
	NotificationStatus NotificationType = "status"
	// NotificationQuality reports a connection quality tier change.
	NotificationQuality NotificationType = "quality"
	// NotificationState reports a changed selection.
	NotificationState NotificationType = "state"
	// NotificationCorrection reports that an optimistic value was
	// replaced by a different authoritative one.
	NotificationCorrection NotificationType = "correction"
	// NotificationRejected reports that the server rejected this
	// session's own selection request.
	NotificationRejected NotificationType = "rejected"
	// NotificationSessionCount reports a changed connected-peer count.
	NotificationSessionCount NotificationType = "session_count"
	// NotificationPollCountdown reports seconds until the next poll
	// fetch, for the visible countdown.
	NotificationPollCountdown NotificationType = "poll_countdown"
	// NotificationFatal reports a non-retryable failure.
	NotificationFatal NotificationType = "fatal"
)

// Notification is a typed event for the embedding UI. Fields are populated
// per type.
type Notification struct {
	Type          NotificationType
	Status        Status
	Quality       Quality
	State         store.SelectionState
	DisplayedItem string
	SessionCount  int
	Countdown     int
	Err           error
}
