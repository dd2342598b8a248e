// Package notify computes each recipient's notify-set for newly emitted
// drop events and fans them out through an injected transport (spec §4.F).
// No push/email transport library is wired here by design (spec Non-goals);
// Transport is the seam a real APNs/SMTP client would implement.
package notify

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/resy-watch/discovery-engine/errs"
	"github.com/resy-watch/discovery-engine/internal/domain/dropeventstore"
	"github.com/resy-watch/discovery-engine/internal/domain/notifystore"
	"github.com/resy-watch/discovery-engine/internal/persistence/db"
	"github.com/resy-watch/discovery-engine/internal/telemetry"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// hotspotNames is the builtin hard-to-get-reservation hotlist (Resy "toughest
// reservations" plus NYT/Eater/Infatuation picks), ported verbatim from the
// original's nyc_hotspots module. It forms the default half of the notify-set
// union: (hotlist ∪ includes) − excludes (spec §3, §4.F).
var hotspotNames = []string{
	"4 Charles Prime Rib", "ADDA", "Adda", "Al Badawi", "Atomix",
	"Bangkok Supper Club", "Bemelmans Bar", "Bistrot Ha", "Bong", "Borgo",
	"Bridges", "Bungalow", "COQODAQ", "COTE", "Café Carmellini", "Café Chelsea",
	"Carbone", "Cervo's", "Charles Pan-Fried Chicken", "Chef's Table",
	"Chef's Table at Brooklyn Fare", "Clemente Bar", "Cote Korean Steakhouse",
	"Crown Shy", "Dept of Culture", "Dhamaka", "Don Angie",
	"Eleven Madison Park", "Estela", "Francie", "Golden Diner",
	"Ha's Snack Bar", "Hawksmoor", "I Cavallini", "I Sodi", "Jean's", "Kabawa",
	"King", "Kisa", "Konban", "L'Artusi", "Le Bernardin",
	"Le Café Louis Vuitton", "Le Chêne", "Lei", "Lilia", "Lucali",
	"Mama's Too", "Masalawala & Sons", "Misi", "Monkey Bar", "Naks",
	"Oxomoco", "Penny", "Per Se", "Ramen by Ra", "Raoul's", "Rolo's",
	"Ruben's", "Sailor", "Semma", "Soothr", "Superiority Burger",
	"Sushi Sho", "Szechuan Mountain House", "Tatiana",
	"Tatiana by Kwame Onwuachi", "Thai Diner", "The Four Horsemen",
	"The NoMad", "The Snail", "Theodora", "Tigre", "Una Pizza Napoletana",
	"Van Da", "Via Carota", "Wildair", "Win Son", "Yamada", "schmuck.",
}

var normalizedHotspots = buildNormalizedHotspots()

func buildNormalizedHotspots() map[string]struct{} {
	out := make(map[string]struct{}, len(hotspotNames))
	for _, n := range hotspotNames {
		out[NormalizeVenueName(n)] = struct{}{}
	}
	return out
}

// isHotspot reports whether normalizedVenue matches the builtin hotlist,
// either exactly or as a bidirectional substring (so "Tatiana by Kwame
// Onwuachi" matches the "Tatiana" hotlist entry and vice versa).
func isHotspot(normalizedVenue string) bool {
	if normalizedVenue == "" {
		return false
	}
	if _, ok := normalizedHotspots[normalizedVenue]; ok {
		return true
	}
	for h := range normalizedHotspots {
		if strings.Contains(h, normalizedVenue) || strings.Contains(normalizedVenue, h) {
			return true
		}
	}
	return false
}

// NormalizeVenueName decomposes a venue name to NFKD, strips combining marks
// (accents), case-folds, trims, and collapses internal whitespace, matching
// the original's hotspot/notify-preference matching rule exactly.
func NormalizeVenueName(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = cases.Fold().String(strings.TrimSpace(folded))
	return whitespaceRun.ReplaceAllString(folded, " ")
}

// Matches reports whether normalizedVenue matches normalizedPreference,
// either exactly or as a substring in either direction (so "Tatiana by Kwame
// Onwuachi" matches a preference of "Tatiana").
func Matches(normalizedVenue, normalizedPreference string) bool {
	if normalizedVenue == "" || normalizedPreference == "" {
		return false
	}
	if normalizedVenue == normalizedPreference {
		return true
	}
	return strings.Contains(normalizedVenue, normalizedPreference) || strings.Contains(normalizedPreference, normalizedVenue)
}

// Transport delivers one rendered notification. Implementations wrap a real
// push/email provider; none is wired in this repo (spec Non-goals).
type Transport interface {
	Send(ctx context.Context, deviceToken, title, body string) error
}

// Fanout computes notify-sets and delivers unsent drop events.
type Fanout struct {
	DropEvents dropeventstore.Store
	Recipients notifystore.Store
	Transport  Transport
	Window     time.Duration
	BatchLimit int
	Logger     *log.Logger

	sendDuration metric.Float64Histogram
}

// New constructs a Fanout.
func New(dropEvents dropeventstore.Store, recipients notifystore.Store, transport Transport, window time.Duration, batchLimit int, logger *log.Logger) *Fanout {
	meter := telemetry.Meter("engine.notify")
	hist, _ := meter.Float64Histogram("discovery.notify.send.duration",
		metric.WithDescription("Wall-clock duration of one push send, in milliseconds"),
		metric.WithUnit("ms"))
	return &Fanout{
		DropEvents:   dropEvents,
		Recipients:   recipients,
		Transport:    transport,
		Window:       window,
		BatchLimit:   batchLimit,
		Logger:       logger,
		sendDuration: hist,
	}
}

// Run selects unsent drop events from the last Window, matches each against
// every recipient's effective notify-set ((hotlist ∪ includes) − excludes),
// delivers to every matching recipient's push tokens, and records the
// delivery for each recipient with at least one successful send. Every
// event that matched at least one recipient's notify-set is stamped
// push_sent_at, whether or not any send succeeded (spec §4.F steps 1-4).
func (f *Fanout) Run(ctx context.Context, q db.Querier) error {
	events, err := f.DropEvents.SelectUnsentWithinWindow(ctx, q, f.Window, f.BatchLimit)
	if err != nil {
		return fmt.Errorf("select unsent drop events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	recipients, err := f.Recipients.ListRecipients(ctx)
	if err != nil {
		return fmt.Errorf("list recipients: %w", err)
	}

	sentIDs := make([]int64, 0, len(events))
	for _, e := range events {
		normalizedVenue := NormalizeVenueName(e.VenueName)
		processed := false
		for _, r := range recipients {
			if !f.inNotifySet(normalizedVenue, r) {
				continue
			}
			// A watched-venue drop is processed (and its push_sent_at stamped
			// below) the moment it matches a recipient's notify set, whether
			// or not any send below actually succeeds (spec §4.F step 3).
			processed = true
			delivered := false
			for _, token := range r.PushTokens {
				body := e.VenueName
				if e.SlotDate != "" || e.SlotTime != "" {
					body = fmt.Sprintf("%s — %s %s", e.VenueName, e.SlotDate, e.SlotTime)
				}
				sendStarted := time.Now()
				err := f.Transport.Send(ctx, token, "New drop", body)
				if f.sendDuration != nil {
					f.sendDuration.Record(ctx, float64(time.Since(sendStarted).Milliseconds()))
				}
				if err != nil {
					// A misconfigured key or invalid device token is fatal for
					// this one token, not the drop: skip it and keep going
					// (spec §7.5); the drop is still stamped via `processed`.
					pushErr := errs.New("notify", errs.CodePushFatal,
						errs.WithCause(err),
						errs.WithField("recipient_id", r.RecipientID))
					if f.Logger != nil {
						f.Logger.Printf("%v", pushErr)
					}
					continue
				}
				delivered = true
			}
			if delivered {
				if err := f.Recipients.RecordUserNotification(ctx, r.RecipientID, e.ID); err != nil && f.Logger != nil {
					f.Logger.Printf("record notification %d/%s failed: %v", e.ID, r.RecipientID, err)
				}
			}
		}
		if processed {
			sentIDs = append(sentIDs, e.ID)
		}
	}

	if len(sentIDs) == 0 {
		return nil
	}
	return f.DropEvents.MarkPushSent(ctx, q, sentIDs, time.Now().UTC())
}

// inNotifySet computes (builtin hotlist ∪ includes) − excludes for one
// recipient (spec §3, §4.F step 1): a venue is notified if it's on the
// hotlist or explicitly included, unless an exclude rule matches it, which
// always wins regardless of hotlist/include membership.
func (f *Fanout) inNotifySet(normalizedVenue string, r notifystore.Recipient) bool {
	for _, p := range r.Preferences {
		if p.Preference == notifystore.PreferenceExclude && Matches(normalizedVenue, p.VenueNameNormalized) {
			return false
		}
	}
	if isHotspot(normalizedVenue) {
		return true
	}
	for _, p := range r.Preferences {
		if p.Preference == notifystore.PreferenceInclude && Matches(normalizedVenue, p.VenueNameNormalized) {
			return true
		}
	}
	return false
}
