// Package alerts matches saved user criteria against recently scraped
// listings and notifies on matches.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rickgao/auction-intel/internal/model"
	"github.com/rickgao/auction-intel/internal/store"
)

// DefaultUserID owns alerts created without a user.
const DefaultUserID int64 = 1

// DefaultLookback is how far back CheckAlerts looks for scraped listings.
const DefaultLookback = 24 * time.Hour

// ErrInvalidAlert is returned when an alert fails validation.
var ErrInvalidAlert = errors.New("invalid alert")

// Store is the persistence the engine needs.
type Store interface {
	store.AlertStore
	ListListings(ctx context.Context, f store.ListingFilter) ([]model.AuctionListing, error)
}

// Match is one listing that satisfied an alert.
type Match struct {
	AlertID int64                `json:"alertId"`
	Alert   model.UserAlert      `json:"-"`
	Auction model.AuctionListing `json:"auction"`
	Reasons []string             `json:"matchReasons"`
}

// Notifier delivers a match to the alert's owner.
type Notifier interface {
	Notify(ctx context.Context, m Match) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, m Match) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, m Match) error { return f(ctx, m) }

// LogNotifier writes matches to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the match.
func (n LogNotifier) Notify(_ context.Context, m Match) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := m.Auction
	logger.Info("alert triggered",
		"alert_id", m.AlertID,
		"user_id", m.Alert.UserID,
		"alert_type", m.Alert.AlertType,
		"firearm", strings.TrimSpace(deref(a.Manufacturer)+" "+deref(a.Model)),
		"caliber", deref(a.Caliber),
		"current_bid", a.CurrentBid,
		"reasons", m.Reasons,
		"url", a.URL,
	)
	return nil
}

// ProcessResult summarizes one ProcessAlerts call.
type ProcessResult struct {
	TotalMatches int `json:"totalMatches"`
	AlertsSent   int `json:"alertsSent"`
	Errors       int `json:"errors"`
}

// Engine is the alert service.
type Engine struct {
	store    Store
	notifier Notifier
	lookback time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier replaces the default LogNotifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithLookback sets the scraped-at window CheckAlerts considers.
func WithLookback(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lookback = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Engine over st.
func New(st Store, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		lookback: DefaultLookback,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = LogNotifier{Logger: e.logger}
	}
	return e
}

// CheckAlerts evaluates every active alert against the listings scraped
// within the lookback window.
func (e *Engine) CheckAlerts(ctx context.Context) ([]Match, error) {
	alerts, err := e.store.ListActiveAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	if len(alerts) == 0 {
		return nil, nil
	}

	since := e.now().Add(-e.lookback)
	listings, err := e.store.ListListings(ctx, store.ListingFilter{ScrapedSince: &since})
	if err != nil {
		return nil, fmt.Errorf("list recent listings: %w", err)
	}

	var matches []Match
	for _, a := range alerts {
		for _, l := range listings {
			if reasons, ok := Matches(l, a.Criteria); ok {
				matches = append(matches, Match{AlertID: a.ID, Alert: a, Auction: l, Reasons: reasons})
			}
		}
	}
	return matches, nil
}

// ProcessAlerts notifies every match and stamps the alert's last trigger
// time. Delivery failures are counted, not returned.
func (e *Engine) ProcessAlerts(ctx context.Context) (ProcessResult, error) {
	matches, err := e.CheckAlerts(ctx)
	if err != nil {
		return ProcessResult{}, err
	}

	res := ProcessResult{TotalMatches: len(matches)}
	for _, m := range matches {
		if err := e.notifier.Notify(ctx, m); err != nil {
			e.logger.Error("alert notification failed", "alert_id", m.AlertID, "auction_id", m.Auction.ID, "err", err)
			res.Errors++
			continue
		}
		if err := e.store.TouchAlert(ctx, m.AlertID, e.now()); err != nil {
			e.logger.Error("stamp alert", "alert_id", m.AlertID, "err", err)
			res.Errors++
			continue
		}
		res.AlertsSent++
	}

	if res.TotalMatches > 0 {
		e.logger.Info("alerts processed", "matches", res.TotalMatches, "sent", res.AlertsSent, "errors", res.Errors)
	}
	return res, nil
}

// CreateAlert stores an active alert. A zero userID means DefaultUserID.
func (e *Engine) CreateAlert(ctx context.Context, userID int64, alertType string, criteria model.AlertCriteria) (model.UserAlert, error) {
	alertType = strings.TrimSpace(alertType)
	if alertType == "" {
		return model.UserAlert{}, fmt.Errorf("%w: alert type is required", ErrInvalidAlert)
	}
	if err := validateCriteria(criteria); err != nil {
		return model.UserAlert{}, err
	}
	if userID == 0 {
		userID = DefaultUserID
	}

	a, err := e.store.CreateAlert(ctx, model.UserAlert{
		UserID:    userID,
		AlertType: alertType,
		Criteria:  criteria,
		Active:    true,
		CreatedAt: e.now(),
	})
	if err != nil {
		return model.UserAlert{}, fmt.Errorf("create alert: %w", err)
	}
	return a, nil
}

// UpdateAlert replaces an alert's criteria and, when active is non-nil, its
// active flag.
func (e *Engine) UpdateAlert(ctx context.Context, id int64, criteria model.AlertCriteria, active *bool) (model.UserAlert, error) {
	if err := validateCriteria(criteria); err != nil {
		return model.UserAlert{}, err
	}
	a, err := e.store.UpdateAlert(ctx, id, criteria, active)
	if err != nil {
		return model.UserAlert{}, fmt.Errorf("update alert %d: %w", id, err)
	}
	return a, nil
}

// DeleteAlert removes an alert.
func (e *Engine) DeleteAlert(ctx context.Context, id int64) error {
	if err := e.store.DeleteAlert(ctx, id); err != nil {
		return fmt.Errorf("delete alert %d: %w", id, err)
	}
	return nil
}

// UserAlerts lists the alerts owned by userID. A zero userID means DefaultUserID.
func (e *Engine) UserAlerts(ctx context.Context, userID int64) ([]model.UserAlert, error) {
	if userID == 0 {
		userID = DefaultUserID
	}
	alerts, err := e.store.ListAlertsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// RecentlyTriggered lists userID's alerts that fired within the last days.
func (e *Engine) RecentlyTriggered(ctx context.Context, userID int64, days int) ([]model.UserAlert, error) {
	if days <= 0 {
		days = 7
	}
	alerts, err := e.UserAlerts(ctx, userID)
	if err != nil {
		return nil, err
	}
	cutoff := e.now().AddDate(0, 0, -days)

	var out []model.UserAlert
	for _, a := range alerts {
		if a.LastTriggered != nil && !a.LastTriggered.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out, nil
}

func validateCriteria(c model.AlertCriteria) error {
	if c.MinRarity != "" && model.RarityRank(c.MinRarity) < 0 {
		return fmt.Errorf("%w: unknown rarity %q", ErrInvalidAlert, c.MinRarity)
	}
	if c.MaxPrice != nil && *c.MaxPrice < 0 {
		return fmt.Errorf("%w: maxPrice must not be negative", ErrInvalidAlert)
	}
	return nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
