package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/resy-watch/discovery-engine/internal/domain/notifystore"
)

const (
	sqlNotifyRecipients = `
SELECT r.recipient_id, COALESCE(r.email, '')
FROM recipients r`

	sqlNotifyPushTokens = `
SELECT recipient_id, device_token FROM push_tokens WHERE recipient_id = @recipient_id`

	sqlNotifyPreferences = `
SELECT recipient_id, venue_name_normalized, preference FROM notify_preferences WHERE recipient_id = @recipient_id`

	sqlNotifyRecordUserNotification = `
INSERT INTO user_notifications (recipient_id, drop_event_id, notified_at)
VALUES (@recipient_id, @drop_event_id, now())
ON CONFLICT DO NOTHING`

	sqlNotifyDeleteOlderThan = `
DELETE FROM user_notifications WHERE notified_at < @cutoff`
)

// NotifyStore implements notifystore.Store against PostgreSQL.
type NotifyStore struct {
	pool *pgxpool.Pool
}

// NewNotifyStore constructs a NotifyStore bound to pool.
func NewNotifyStore(pool *pgxpool.Pool) *NotifyStore { return &NotifyStore{pool: pool} }

var _ notifystore.Store = (*NotifyStore)(nil)

func (s *NotifyStore) ListRecipients(ctx context.Context) ([]notifystore.Recipient, error) {
	rows, err := s.pool.Query(ctx, sqlNotifyRecipients)
	if err != nil {
		return nil, fmt.Errorf("select recipients: %w", err)
	}
	var recipients []notifystore.Recipient
	for rows.Next() {
		var r notifystore.Recipient
		if err := rows.Scan(&r.RecipientID, &r.Email); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range recipients {
		tokenRows, err := s.pool.Query(ctx, sqlNotifyPushTokens, pgx.NamedArgs{"recipient_id": recipients[i].RecipientID})
		if err != nil {
			return nil, fmt.Errorf("select push tokens for %s: %w", recipients[i].RecipientID, err)
		}
		for tokenRows.Next() {
			var recipientID, token string
			if err := tokenRows.Scan(&recipientID, &token); err != nil {
				tokenRows.Close()
				return nil, fmt.Errorf("scan push token: %w", err)
			}
			recipients[i].PushTokens = append(recipients[i].PushTokens, token)
		}
		tokenRows.Close()
		if err := tokenRows.Err(); err != nil {
			return nil, err
		}

		prefRows, err := s.pool.Query(ctx, sqlNotifyPreferences, pgx.NamedArgs{"recipient_id": recipients[i].RecipientID})
		if err != nil {
			return nil, fmt.Errorf("select preferences for %s: %w", recipients[i].RecipientID, err)
		}
		for prefRows.Next() {
			var p notifystore.NotifyPreference
			var preference string
			if err := prefRows.Scan(&p.RecipientID, &p.VenueNameNormalized, &preference); err != nil {
				prefRows.Close()
				return nil, fmt.Errorf("scan preference: %w", err)
			}
			p.Preference = notifystore.Preference(preference)
			recipients[i].Preferences = append(recipients[i].Preferences, p)
		}
		prefRows.Close()
		if err := prefRows.Err(); err != nil {
			return nil, err
		}
	}
	return recipients, nil
}

func (s *NotifyStore) RecordUserNotification(ctx context.Context, recipientID string, dropEventID int64) error {
	_, err := s.pool.Exec(ctx, sqlNotifyRecordUserNotification, pgx.NamedArgs{
		"recipient_id":  recipientID,
		"drop_event_id": dropEventID,
	})
	if err != nil {
		return fmt.Errorf("record user notification %s/%d: %w", recipientID, dropEventID, err)
	}
	return nil
}

func (s *NotifyStore) DeleteNotificationsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, sqlNotifyDeleteOlderThan, pgx.NamedArgs{"cutoff": cutoff})
	if err != nil {
		return 0, fmt.Errorf("delete user notifications older than %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}
