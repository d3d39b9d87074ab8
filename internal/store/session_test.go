package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"mealtrack/internal/core"
	"mealtrack/internal/kv/memory"

	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	bundle   core.Bundle
	ok       bool
	fetchErr error
	pushErr  error
	pushes   []core.Bundle
}

func (f *fakeRemote) Fetch(_ context.Context, _ string) (core.Bundle, bool, error) {
	return f.bundle, f.ok, f.fetchErr
}

func (f *fakeRemote) Push(_ context.Context, _ string, b core.Bundle) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, b.Clone())
	return nil
}

func newSession(t *testing.T, opts Options) (*Session, *memory.Store) {
	t.Helper()
	cache := memory.New()
	s, err := NewSession(context.Background(), "alice", cache, opts)
	require.NoError(t, err)
	return s, cache
}

func TestNewSessionRequiresUserID(t *testing.T) {
	_, err := NewSession(context.Background(), "", memory.New(), Options{})
	require.ErrorIs(t, err, core.ErrMissingUserID)
}

func TestNewSessionRecordsLastUser(t *testing.T) {
	_, cache := newSession(t, Options{})
	last, err := LastUserID(context.Background(), cache)
	require.NoError(t, err)
	require.Equal(t, "alice", last)
}

func TestSaveMealRoundTrip(t *testing.T) {
	s, _ := newSession(t, Options{})
	ctx := context.Background()

	rec := core.Record{Type: core.Outing, Price: 12000, Place: "Cafe A", Card: "corp", Time: core.Dinner}
	res, err := s.SaveMeal(ctx, "2024-05-02", rec)
	require.NoError(t, err)
	require.Equal(t, SyncDisabled, res.State)

	got, ok := s.Record("2024-05-02")
	require.True(t, ok)
	require.Equal(t, rec, got)
}

func TestSaveMealRejectsInvalid(t *testing.T) {
	s, _ := newSession(t, Options{})
	ctx := context.Background()

	_, err := s.SaveMeal(ctx, "2024-13-40", core.Record{Type: core.Holiday})
	require.ErrorIs(t, err, core.ErrInvalidDateKey)

	_, err = s.SaveMeal(ctx, "2024-05-02", core.Record{Type: core.Outing, Price: -5})
	require.ErrorIs(t, err, core.ErrNegativePrice)

	_, ok := s.Record("2024-05-02")
	require.False(t, ok)
}

func TestSaveMealHistoryMoveToEnd(t *testing.T) {
	s, _ := newSession(t, Options{})
	ctx := context.Background()

	outing := func(key core.DateKey, place string) {
		_, err := s.SaveMeal(ctx, key, core.Record{Type: core.Outing, Price: 1000, Place: place})
		require.NoError(t, err)
	}
	outing("2024-05-02", "Cafe A")
	outing("2024-05-09", "Cafe B")
	outing("2024-05-16", "Cafe A")

	places := s.Bundle().History.Places
	require.Equal(t, []string{"Cafe B", "Cafe A"}, places)
}

func TestEnsureMonthInitializedIdempotent(t *testing.T) {
	s, _ := newSession(t, Options{})
	ctx := context.Background()

	ran, err := s.EnsureMonthInitialized(ctx, 2024, time.May)
	require.NoError(t, err)
	require.True(t, ran)
	first := s.Bundle()

	ran, err = s.EnsureMonthInitialized(ctx, 2024, time.May)
	require.NoError(t, err)
	require.False(t, ran)
	require.Equal(t, first.MealData, s.Bundle().MealData)

	// Every day of May is present with the default record.
	require.Len(t, first.MealData, 31)
	for d := 1; d <= 31; d++ {
		key := core.NewDateKey(2024, time.May, d)
		rec, ok := first.MealData[key]
		require.True(t, ok, "missing %s", key)
		require.Equal(t, core.DefaultRecord(key), rec)
	}
}

func TestEnsureMonthLeavesEditsAlone(t *testing.T) {
	s, _ := newSession(t, Options{})
	ctx := context.Background()

	_, err := s.SaveMeal(ctx, "2024-05-02", core.Record{Type: core.Outing, Price: 12000})
	require.NoError(t, err)

	// The month already has a record, so nothing is touched.
	ran, err := s.EnsureMonthInitialized(ctx, 2024, time.May)
	require.NoError(t, err)
	require.False(t, ran)
	require.Len(t, s.Bundle().MealData, 1)
}

func TestInitializeMonthIsDestructive(t *testing.T) {
	s, _ := newSession(t, Options{})
	ctx := context.Background()

	_, err := s.SaveMeal(ctx, "2024-05-02", core.Record{Type: core.Outing, Price: 12000})
	require.NoError(t, err)

	_, err = s.InitializeMonth(ctx, 2024, time.May)
	require.NoError(t, err)

	rec, _ := s.Record("2024-05-02")
	require.Equal(t, core.DefaultRecord("2024-05-02"), rec)
}

func TestResetDayRestoresDefault(t *testing.T) {
	s, _ := newSession(t, Options{})
	ctx := context.Background()

	_, err := s.SaveMeal(ctx, "2024-05-02", core.Record{Type: core.Outing, Price: 12000, Place: "Cafe A"})
	require.NoError(t, err)

	_, err = s.ResetDay(ctx, "2024-05-02")
	require.NoError(t, err)

	rec, _ := s.Record("2024-05-02")
	// 2024-05-02 is a Thursday.
	require.Equal(t, core.Record{Type: core.Cafeteria, Price: core.CafeteriaPrice}, rec)
}

func TestDeleteHistoryEntry(t *testing.T) {
	s, _ := newSession(t, Options{})
	ctx := context.Background()

	_, err := s.SaveMeal(ctx, "2024-05-02", core.Record{Type: core.Outing, Price: 1000, Place: "Cafe A", Card: "corp"})
	require.NoError(t, err)

	_, err = s.DeleteHistoryEntry(ctx, core.Cards, "corp")
	require.NoError(t, err)
	require.Empty(t, s.Bundle().History.Cards)

	_, err = s.DeleteHistoryEntry(ctx, "wallets", "x")
	require.ErrorIs(t, err, core.ErrUnknownHistoryKind)
}

func TestLoadPrefersRemote(t *testing.T) {
	remoteBundle := core.NewBundle()
	remoteBundle.MealData["2024-05-02"] = core.Record{Type: core.Outing, Price: 9000, Place: "Remote Cafe"}
	remoteBundle.History.Touch(core.Places, "Remote Cafe")
	rm := &fakeRemote{bundle: remoteBundle, ok: true}

	s, cache := newSession(t, Options{Remote: rm})
	ctx := context.Background()

	// Stale local entry that must lose wholesale.
	local := core.NewBundle()
	local.MealData["2024-04-01"] = core.Record{Type: core.Holiday}
	payload, _ := json.Marshal(local)
	require.NoError(t, cache.Put(ctx, "alice", payload))

	require.NoError(t, s.Load(ctx))
	require.Len(t, s.Bundle().MealData, 1)
	_, ok := s.Record("2024-05-02")
	require.True(t, ok)
}

func TestLoadFallsBackToCache(t *testing.T) {
	cases := []*fakeRemote{
		{ok: false},
		{fetchErr: errors.New("connect refused")},
	}
	for _, rm := range cases {
		s, cache := newSession(t, Options{Remote: rm})
		ctx := context.Background()

		local := core.NewBundle()
		local.MealData["2024-05-01"] = core.Record{Type: core.Cafeteria, Price: core.CafeteriaPrice}
		local.History.Touch(core.Cards, "corp")
		payload, _ := json.Marshal(local)
		require.NoError(t, cache.Put(ctx, "alice", payload))

		require.NoError(t, s.Load(ctx))
		_, ok := s.Record("2024-05-01")
		require.True(t, ok)
	}
}

func TestLoadKeepsRemoteHistoryWithoutCache(t *testing.T) {
	remoteBundle := core.NewBundle()
	remoteBundle.History.Touch(core.Places, "Remote Cafe")
	remoteBundle.History.Touch(core.Cards, "corp")
	rm := &fakeRemote{bundle: remoteBundle, ok: false}

	s, _ := newSession(t, Options{Remote: rm})
	require.NoError(t, s.Load(context.Background()))

	require.Empty(t, s.Bundle().MealData)
	require.Equal(t, []string{"Remote Cafe"}, s.Bundle().History.Places)
	require.Equal(t, []string{"corp"}, s.Bundle().History.Cards)
}

func TestLoadCacheOverridesRemoteHistory(t *testing.T) {
	remoteBundle := core.NewBundle()
	remoteBundle.History.Touch(core.Places, "Remote Cafe")
	rm := &fakeRemote{bundle: remoteBundle, ok: false}

	s, cache := newSession(t, Options{Remote: rm})
	ctx := context.Background()

	local := core.NewBundle()
	local.MealData["2024-05-01"] = core.Record{Type: core.Cafeteria, Price: core.CafeteriaPrice}
	local.History.Touch(core.Places, "Local Diner")
	payload, _ := json.Marshal(local)
	require.NoError(t, cache.Put(ctx, "alice", payload))

	require.NoError(t, s.Load(ctx))
	require.Equal(t, []string{"Local Diner"}, s.Bundle().History.Places)
}

func TestLoadBothEmpty(t *testing.T) {
	s, _ := newSession(t, Options{Remote: &fakeRemote{}})
	require.NoError(t, s.Load(context.Background()))
	require.Empty(t, s.Bundle().MealData)
}

func TestLoadMigratesHistoryAndSaves(t *testing.T) {
	s, cache := newSession(t, Options{})
	ctx := context.Background()

	local := core.NewBundle()
	local.MealData["2024-05-02"] = core.Record{Type: core.Outing, Price: 1, Place: "A", Card: "c1"}
	local.MealData["2024-05-09"] = core.Record{Type: core.Outing, Price: 1, Place: "B"}
	payload, _ := json.Marshal(local)
	require.NoError(t, cache.Put(ctx, "alice", payload))

	require.NoError(t, s.Load(ctx))

	places := s.Bundle().History.Places
	require.ElementsMatch(t, []string{"A", "B"}, places)
	require.ElementsMatch(t, []string{"c1"}, s.Bundle().History.Cards)

	// Migration persisted the recovered history.
	stored, err := cache.Get(ctx, "alice")
	require.NoError(t, err)
	var persisted core.Bundle
	require.NoError(t, json.Unmarshal(stored, &persisted))
	require.ElementsMatch(t, []string{"A", "B"}, persisted.History.Places)
}

func TestMigrateHistoryIdempotent(t *testing.T) {
	s, _ := newSession(t, Options{})
	ctx := context.Background()

	_, err := s.SaveMeal(ctx, "2024-05-02", core.Record{Type: core.Outing, Price: 1, Place: "A"})
	require.NoError(t, err)

	before := s.Bundle().History
	// Places already populated, cards still empty: only cards may change,
	// and there are none to recover.
	require.False(t, s.MigrateHistory())
	require.Equal(t, before, s.Bundle().History)
}

func TestSaveReportsRemoteFailureWithoutFailing(t *testing.T) {
	rm := &fakeRemote{pushErr: errors.New("boom")}
	s, cache := newSession(t, Options{Remote: rm})
	ctx := context.Background()

	res, err := s.SaveMeal(ctx, "2024-05-02", core.Record{Type: core.Outing, Price: 12000})
	require.NoError(t, err)
	require.Equal(t, SyncFailed, res.State)
	require.Error(t, res.Err)

	// The local write still landed.
	payload, err := cache.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, payload)
}

func TestSaveFailsWhenCacheFails(t *testing.T) {
	s, cache := newSession(t, Options{})
	cache.FailNext = true

	_, err := s.Save(context.Background())
	require.Error(t, err)
}

func TestSavePushesRemote(t *testing.T) {
	rm := &fakeRemote{}
	s, _ := newSession(t, Options{Remote: rm})

	res, err := s.SaveMeal(context.Background(), "2024-05-02", core.Record{Type: core.Outing, Price: 500})
	require.NoError(t, err)
	require.Equal(t, SyncPushed, res.State)
	require.Len(t, rm.pushes, 1)
}

func TestSaveQueuesWhenMarkerConfigured(t *testing.T) {
	marked := 0
	s, _ := newSession(t, Options{
		Remote: &fakeRemote{pushErr: errors.New("must not be called inline")},
		Marker: markerFunc(func(context.Context, string) error { marked++; return nil }),
	})

	res, err := s.Save(context.Background())
	require.NoError(t, err)
	require.Equal(t, SyncQueued, res.State)
	require.Equal(t, 1, marked)
}

type markerFunc func(ctx context.Context, userID string) error

func (f markerFunc) MarkDirty(ctx context.Context, userID string) error { return f(ctx, userID) }

func TestAggregateMonth(t *testing.T) {
	s, _ := newSession(t, Options{})
	ctx := context.Background()

	_, err := s.SaveMeal(ctx, "2024-05-01", core.Record{Type: core.Cafeteria, Price: core.CafeteriaPrice})
	require.NoError(t, err)
	_, err = s.SaveMeal(ctx, "2024-05-02", core.Record{Type: core.Outing, Price: 12000})
	require.NoError(t, err)
	_, err = s.SaveMeal(ctx, "2024-05-04", core.Record{Type: core.Holiday, Price: 0})
	require.NoError(t, err)

	sum := s.AggregateMonth(2024, time.May)
	require.Equal(t, int64(19770), sum.Spent)
	require.Equal(t, int64(12000), sum.Reimbursable)
}
