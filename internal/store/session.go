// Package store owns a logged-in user's meal records and suggestion history.
// It reconciles the remote sync endpoint, the local cache and in-memory state
// into one bundle, and keeps the local cache as the durability floor: a save
// never reports success unless the local write landed, while remote push
// failures degrade to an explicit SyncResult instead of blocking anything.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mealtrack/internal/core"
	"mealtrack/internal/kv"
)

const (
	// SyncPushed means the remote endpoint accepted the bundle inline.
	SyncPushed SyncState = "pushed"

	// SyncQueued means the push was handed to the outbox for later delivery.
	SyncQueued SyncState = "queued"

	// SyncFailed means the push (or its enqueue) failed; local state is safe.
	SyncFailed SyncState = "failed"

	// SyncDisabled means no remote is configured for this session.
	SyncDisabled SyncState = "disabled"
)

type (
	SyncState string

	// SyncResult reports what happened to the remote push of a save. It is
	// informational: callers may surface it, but must not treat SyncFailed
	// as a failed save.
	SyncResult struct {
		State SyncState
		Err   error
	}

	// Remote is the sync-endpoint surface the session needs.
	Remote interface {
		Fetch(ctx context.Context, userID string) (core.Bundle, bool, error)
		Push(ctx context.Context, userID string, bundle core.Bundle) error
	}

	// DirtyMarker queues a user for a later remote push. Implemented by the
	// sqlite cache's outbox.
	DirtyMarker interface {
		MarkDirty(ctx context.Context, userID string) error
	}

	// Publisher announces a bundle change to interested workers.
	Publisher interface {
		PublishBundleSync(ctx context.Context, userID string) error
	}

	// Options configures the optional collaborators of a session. All fields
	// may be nil: a session with none of them is purely local.
	Options struct {
		Remote    Remote
		Marker    DirtyMarker
		Publisher Publisher
	}

	// Session is one user's data store. It is an explicit value, not ambient
	// state: tests and tools can hold several sessions side by side without
	// cross-contamination.
	Session struct {
		userID string
		cache  kv.Store
		remote Remote
		marker DirtyMarker
		pub    Publisher

		bundle core.Bundle
	}
)

// NewSession opens a session for userID backed by the given local cache and
// records the user id for session continuity. The bundle starts empty; call
// Load to pull persisted state.
func NewSession(ctx context.Context, userID string, cache kv.Store, opts Options) (*Session, error) {
	if userID == "" {
		return nil, core.ErrMissingUserID
	}
	if cache == nil {
		return nil, errors.New("local cache is required")
	}
	if err := cache.SetMeta(ctx, kv.MetaLastUserID, userID); err != nil {
		return nil, fmt.Errorf("record last user: %w", err)
	}
	return &Session{
		userID: userID,
		cache:  cache,
		remote: opts.Remote,
		marker: opts.Marker,
		pub:    opts.Publisher,
		bundle: core.NewBundle(),
	}, nil
}

// LastUserID returns the user id of the previous session, or "".
func LastUserID(ctx context.Context, cache kv.Store) (string, error) {
	return cache.GetMeta(ctx, kv.MetaLastUserID)
}

// UserID returns the session's user id.
func (s *Session) UserID() string { return s.userID }

// Bundle returns a copy of the current in-memory state.
func (s *Session) Bundle() core.Bundle { return s.bundle.Clone() }

// Record returns the meal record for key, if any.
func (s *Session) Record(key core.DateKey) (core.Record, bool) {
	rec, ok := s.bundle.MealData[key]
	return rec, ok
}

// Load pulls the user's bundle: the remote snapshot wins wholesale when it
// holds meal data, otherwise the local cache entry is adopted, otherwise
// state stays empty. No field-level merging happens between the two sources,
// with one exception: a remote snapshot carrying only history is kept when
// there is no local cache entry to fall back to, so suggestion history
// survives a device without local state. A history migration that recovers
// entries triggers a save.
func (s *Session) Load(ctx context.Context) error {
	adopted := false

	if s.remote != nil {
		bundle, ok, err := s.remote.Fetch(ctx, s.userID)
		switch {
		case err != nil:
			// Remote unavailability is never fatal; fall through to cache.
			slog.WarnContext(ctx, "Remote fetch failed, using local cache",
				"user_id", s.userID, "error", err)
		case ok:
			s.bundle = bundle
			adopted = true
		case !bundle.History.IsEmpty():
			// No meal data to adopt, but keep the remote history; a local
			// cache entry below still replaces it wholesale.
			s.bundle = bundle
		}
	}

	if !adopted {
		payload, err := s.cache.Get(ctx, s.userID)
		if err != nil {
			return fmt.Errorf("read local cache: %w", err)
		}
		if payload != nil {
			var bundle core.Bundle
			if err := json.Unmarshal(payload, &bundle); err != nil {
				return fmt.Errorf("decode cached bundle: %w", err)
			}
			s.bundle = bundle
		}
	}

	if s.bundle.MealData == nil {
		s.bundle.MealData = make(map[core.DateKey]core.Record)
	}

	if s.MigrateHistory() {
		if _, err := s.Save(ctx); err != nil {
			return err
		}
	}
	return nil
}

// MigrateHistory rebuilds empty history lists from the place and card fields
// scattered across meal records. Recovery is set-based, so order is
// unspecified. Lists that already hold entries are left alone, which makes
// repeated calls no-ops. Reports whether anything was recovered.
func (s *Session) MigrateHistory() bool {
	needPlaces := len(s.bundle.History.Places) == 0
	needCards := len(s.bundle.History.Cards) == 0
	if !needPlaces && !needCards {
		return false
	}

	places := make(map[string]struct{})
	cards := make(map[string]struct{})
	for _, rec := range s.bundle.MealData {
		if rec.Place != "" {
			places[rec.Place] = struct{}{}
		}
		if rec.Card != "" {
			cards[rec.Card] = struct{}{}
		}
	}

	recovered := false
	if needPlaces {
		for p := range places {
			s.bundle.History.Places = append(s.bundle.History.Places, p)
			recovered = true
		}
	}
	if needCards {
		for c := range cards {
			s.bundle.History.Cards = append(s.bundle.History.Cards, c)
			recovered = true
		}
	}
	return recovered
}

// EnsureMonthInitialized populates the month with default records when it has
// none yet. After this call every calendar day of the month has a record.
// Calling it again without intervening edits changes nothing. Reports whether
// initialization ran.
func (s *Session) EnsureMonthInitialized(ctx context.Context, year int, month time.Month) (bool, error) {
	prefix := core.MonthPrefix(year, month)
	for key := range s.bundle.MealData {
		if strings.HasPrefix(string(key), prefix) {
			return false, nil
		}
	}
	if _, err := s.InitializeMonth(ctx, year, month); err != nil {
		return false, err
	}
	return true, nil
}

// InitializeMonth overwrites every day of the month with its default record:
// weekday cafeteria at the fixed price, weekend holiday at zero. Destructive
// by design; it backs both lazy initialization and the explicit month reset.
func (s *Session) InitializeMonth(ctx context.Context, year int, month time.Month) (SyncResult, error) {
	days := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	for d := 1; d <= days; d++ {
		key := core.NewDateKey(year, month, d)
		s.bundle.MealData[key] = core.DefaultRecord(key)
	}
	return s.Save(ctx)
}

// SaveMeal upserts the record at key, folds any supplied place and card into
// the history with move-to-end semantics, and saves.
func (s *Session) SaveMeal(ctx context.Context, key core.DateKey, rec core.Record) (SyncResult, error) {
	if err := key.Validate(); err != nil {
		return SyncResult{}, err
	}
	if err := rec.Validate(); err != nil {
		return SyncResult{}, err
	}

	s.bundle.MealData[key] = rec
	s.bundle.History.Touch(core.Places, rec.Place)
	s.bundle.History.Touch(core.Cards, rec.Card)
	return s.Save(ctx)
}

// ResetDay restores the default record for key, the "delete" gesture of the
// calendar UI.
func (s *Session) ResetDay(ctx context.Context, key core.DateKey) (SyncResult, error) {
	if err := key.Validate(); err != nil {
		return SyncResult{}, err
	}
	s.bundle.MealData[key] = core.DefaultRecord(key)
	return s.Save(ctx)
}

// DeleteHistoryEntry removes one suggestion by value and saves.
func (s *Session) DeleteHistoryEntry(ctx context.Context, kind core.HistoryKind, value string) (SyncResult, error) {
	if !kind.Valid() {
		return SyncResult{}, fmt.Errorf("%w: %q", core.ErrUnknownHistoryKind, kind)
	}
	s.bundle.History.Remove(kind, value)
	return s.Save(ctx)
}

// LastCard returns the most recently used card, the UI prefill.
func (s *Session) LastCard() string {
	return s.bundle.History.Last(core.Cards)
}

// AggregateMonth sums the month's spending and its reimbursable subset.
func (s *Session) AggregateMonth(year int, month time.Month) core.MonthSummary {
	return core.Summarize(s.bundle, year, month)
}

// TopPlaces ranks outing places by visit count across all records.
func (s *Session) TopPlaces() []core.PlaceVisits {
	return core.TopPlaces(s.bundle)
}

// Save writes the bundle to the local cache synchronously, then reports how
// the remote push went. Cache failure is the only error; everything about
// the remote side lands in the SyncResult.
func (s *Session) Save(ctx context.Context) (SyncResult, error) {
	payload, err := json.Marshal(s.bundle)
	if err != nil {
		return SyncResult{}, fmt.Errorf("encode bundle: %w", err)
	}
	if err := s.cache.Put(ctx, s.userID, payload); err != nil {
		return SyncResult{}, fmt.Errorf("write local cache: %w", err)
	}

	if s.pub != nil {
		if err := s.pub.PublishBundleSync(ctx, s.userID); err != nil {
			slog.WarnContext(ctx, "Bundle sync publish failed",
				"user_id", s.userID, "error", err)
		}
	}

	switch {
	case s.marker != nil:
		if err := s.marker.MarkDirty(ctx, s.userID); err != nil {
			slog.WarnContext(ctx, "Outbox enqueue failed",
				"user_id", s.userID, "error", err)
			return SyncResult{State: SyncFailed, Err: err}, nil
		}
		return SyncResult{State: SyncQueued}, nil

	case s.remote != nil:
		if err := s.remote.Push(ctx, s.userID, s.bundle); err != nil {
			slog.WarnContext(ctx, "Remote push failed, local cache holds the data",
				"user_id", s.userID, "error", err)
			return SyncResult{State: SyncFailed, Err: err}, nil
		}
		return SyncResult{State: SyncPushed}, nil
	}

	return SyncResult{State: SyncDisabled}, nil
}
