package notify

import (
	"context"
	"testing"
	"time"

	"github.com/resy-watch/discovery-engine/internal/domain/dropeventstore"
	"github.com/resy-watch/discovery-engine/internal/domain/notifystore"
	"github.com/resy-watch/discovery-engine/internal/persistence/db"
)

func TestNormalizeVenueNameStripsAccentsAndCase(t *testing.T) {
	got := NormalizeVenueName("  Café   Bouléz  ")
	want := "cafe boulez"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNormalizeVenueNameEmpty(t *testing.T) {
	if got := NormalizeVenueName(""); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestMatchesExactAndSubstringBothDirections(t *testing.T) {
	venue := NormalizeVenueName("Tatiana by Kwame Onwuachi")
	pref := NormalizeVenueName("Tatiana")
	if !Matches(venue, pref) {
		t.Fatalf("expected preference substring of venue to match")
	}
	if !Matches(pref, venue) {
		t.Fatalf("expected match to hold in reverse too")
	}
	if Matches(venue, NormalizeVenueName("Carbone")) {
		t.Fatalf("expected unrelated names not to match")
	}
}

type fakeDropEvents struct {
	events   []dropeventstore.Event
	sentIDs  []int64
	sentAt   time.Time
}

func (f *fakeDropEvents) RecentlyNotifiedSlotIDs(ctx context.Context, q db.Querier, bucketID string, since time.Time) (map[string]struct{}, error) {
	return nil, nil
}
func (f *fakeDropEvents) InsertIgnoreDuplicates(ctx context.Context, q db.Querier, events []dropeventstore.Event) error {
	return nil
}
func (f *fakeDropEvents) DeletePushedForSlots(ctx context.Context, q db.Querier, bucketID string, slotIDs []string) error {
	return nil
}
func (f *fakeDropEvents) DeleteBucketPrefixBefore(ctx context.Context, q db.Querier, windowStart string) (int64, error) {
	return 0, nil
}
func (f *fakeDropEvents) DeleteOlderPushed(ctx context.Context, q db.Querier, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeDropEvents) SelectUnsentWithinWindow(ctx context.Context, q db.Querier, window time.Duration, limit int) ([]dropeventstore.Event, error) {
	return f.events, nil
}
func (f *fakeDropEvents) MarkPushSent(ctx context.Context, q db.Querier, ids []int64, sentAt time.Time) error {
	f.sentIDs = append(f.sentIDs, ids...)
	f.sentAt = sentAt
	return nil
}

var _ dropeventstore.Store = (*fakeDropEvents)(nil)

type fakeRecipients struct {
	recipients []notifystore.Recipient
	recorded   []string
}

func (f *fakeRecipients) ListRecipients(ctx context.Context) ([]notifystore.Recipient, error) {
	return f.recipients, nil
}
func (f *fakeRecipients) RecordUserNotification(ctx context.Context, recipientID string, dropEventID int64) error {
	f.recorded = append(f.recorded, recipientID)
	return nil
}
func (f *fakeRecipients) DeleteNotificationsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

var _ notifystore.Store = (*fakeRecipients)(nil)

type fakeTransport struct {
	sent []string
	fail map[string]bool
}

func (f *fakeTransport) Send(ctx context.Context, deviceToken, title, body string) error {
	if f.fail[deviceToken] {
		return errSendFailed
	}
	f.sent = append(f.sent, deviceToken)
	return nil
}

var errSendFailed = &sendError{}

type sendError struct{}

func (e *sendError) Error() string { return "send failed" }

func TestFanoutRunDeliversOnlyToIncludedRecipients(t *testing.T) {
	events := &fakeDropEvents{
		events: []dropeventstore.Event{
			{ID: 1, VenueName: "Joe's Diner", SlotDate: "2026-08-01", SlotTime: "19:00"},
		},
	}
	recipients := &fakeRecipients{
		recipients: []notifystore.Recipient{
			{
				RecipientID: "r1",
				PushTokens:  []string{"tok1"},
				Preferences: []notifystore.NotifyPreference{
					{RecipientID: "r1", VenueNameNormalized: NormalizeVenueName("Joe's Diner"), Preference: notifystore.PreferenceInclude},
				},
			},
			{
				RecipientID: "r2",
				PushTokens:  []string{"tok2"},
			},
		},
	}
	transport := &fakeTransport{}
	fanout := New(events, recipients, transport, 15*time.Minute, 200, nil)

	if err := fanout.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(transport.sent) != 1 || transport.sent[0] != "tok1" {
		t.Fatalf("expected only tok1 to receive a push, got %v", transport.sent)
	}
	if len(recipients.recorded) != 1 || recipients.recorded[0] != "r1" {
		t.Fatalf("expected only r1 to be recorded, got %v", recipients.recorded)
	}
	if len(events.sentIDs) != 1 || events.sentIDs[0] != 1 {
		t.Fatalf("expected event 1 to be marked sent, got %v", events.sentIDs)
	}
}

func TestFanoutRunHotlistMatchesEvenWithoutExplicitInclude(t *testing.T) {
	events := &fakeDropEvents{
		events: []dropeventstore.Event{
			{ID: 1, VenueName: "Tatiana by Kwame Onwuachi"},
		},
	}
	recipients := &fakeRecipients{
		recipients: []notifystore.Recipient{
			{RecipientID: "r1", PushTokens: []string{"tok1"}},
		},
	}
	transport := &fakeTransport{}
	fanout := New(events, recipients, transport, 15*time.Minute, 200, nil)

	if err := fanout.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(transport.sent) != 1 || transport.sent[0] != "tok1" {
		t.Fatalf("expected hotlist venue to notify a recipient with no explicit include, got %v", transport.sent)
	}
	if len(events.sentIDs) != 1 {
		t.Fatalf("expected hotlist-matched event to be marked sent, got %v", events.sentIDs)
	}
}

func TestFanoutRunStampsProcessedRowsEvenWithoutDelivery(t *testing.T) {
	events := &fakeDropEvents{
		events: []dropeventstore.Event{
			{ID: 1, VenueName: "Carbone"},
		},
	}
	recipients := &fakeRecipients{
		recipients: []notifystore.Recipient{
			{RecipientID: "r1"}, // matches via hotlist, but has no push tokens
		},
	}
	transport := &fakeTransport{}
	fanout := New(events, recipients, transport, 15*time.Minute, 200, nil)

	if err := fanout.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(transport.sent) != 0 {
		t.Fatalf("expected no sends with zero push tokens, got %v", transport.sent)
	}
	if len(events.sentIDs) != 1 || events.sentIDs[0] != 1 {
		t.Fatalf("expected matched event to be stamped even with no delivery, got %v", events.sentIDs)
	}
	if len(recipients.recorded) != 0 {
		t.Fatalf("expected no user-notification audit row without an actual delivery, got %v", recipients.recorded)
	}
}

func TestFanoutRunExcludeOverridesInclude(t *testing.T) {
	events := &fakeDropEvents{
		events: []dropeventstore.Event{
			{ID: 1, VenueName: "Carbone"},
		},
	}
	recipients := &fakeRecipients{
		recipients: []notifystore.Recipient{
			{
				RecipientID: "r1",
				PushTokens:  []string{"tok1"},
				Preferences: []notifystore.NotifyPreference{
					{RecipientID: "r1", VenueNameNormalized: NormalizeVenueName("Carbone"), Preference: notifystore.PreferenceInclude},
					{RecipientID: "r1", VenueNameNormalized: NormalizeVenueName("Carbone"), Preference: notifystore.PreferenceExclude},
				},
			},
		},
	}
	transport := &fakeTransport{}
	fanout := New(events, recipients, transport, 15*time.Minute, 200, nil)

	if err := fanout.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(transport.sent) != 0 {
		t.Fatalf("expected exclude rule to block delivery, got %v", transport.sent)
	}
	if len(events.sentIDs) != 0 {
		t.Fatalf("expected no event to be marked sent, got %v", events.sentIDs)
	}
}

func TestFanoutRunNoEventsIsNoop(t *testing.T) {
	events := &fakeDropEvents{}
	recipients := &fakeRecipients{}
	transport := &fakeTransport{}
	fanout := New(events, recipients, transport, 15*time.Minute, 200, nil)

	if err := fanout.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(transport.sent) != 0 {
		t.Fatalf("expected no sends with zero events")
	}
}
