// Package notifystore defines the persistence contract for push tokens and notify
// preferences (spec §3, §4.F).
package notifystore

import (
	"context"
	"time"
)

// Preference is a recipient's include/exclude rule for one normalized venue name.
type Preference string

const (
	// PreferenceInclude adds a venue to the recipient's effective notify-set.
	PreferenceInclude Preference = "include"
	// PreferenceExclude removes a venue from the recipient's effective notify-set.
	PreferenceExclude Preference = "exclude"
)

// NotifyPreference is one (recipient_id, venue_name_normalized, preference) row.
type NotifyPreference struct {
	RecipientID          string
	VenueNameNormalized  string
	Preference           Preference
}

// PushToken is one registered device push token for a recipient.
type PushToken struct {
	RecipientID string
	DeviceToken string
}

// Recipient bundles one recipient's tokens, email, and preferences for the fan-out job.
type Recipient struct {
	RecipientID  string
	Email        string
	PushTokens   []string
	Preferences  []NotifyPreference
}

// Store is the persistence contract for notification recipients.
type Store interface {
	// ListRecipients returns every recipient row with its push tokens and
	// preferences (Email is "" when none is stored), for the notification
	// fan-out job to evaluate.
	ListRecipients(ctx context.Context) ([]Recipient, error)

	// RecordUserNotification appends an audit row once a drop event is delivered
	// to a recipient (the UserNotification entity of spec §3).
	RecordUserNotification(ctx context.Context, recipientID string, dropEventID int64) error

	// DeleteNotificationsOlderThan deletes UserNotification audit rows notified
	// before cutoff, returning the count removed (spec §4.E retention).
	DeleteNotificationsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
