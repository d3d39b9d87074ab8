package store

import (
	"context"
	"encoding/json"
	"testing"

	"mealtrack/internal/core"
	"mealtrack/internal/kv/memory"

	"github.com/stretchr/testify/require"
)

func TestExportJSONShape(t *testing.T) {
	s, _ := newSession(t, Options{})
	ctx := context.Background()

	_, err := s.SaveMeal(ctx, "2024-05-02", core.Record{Type: core.Outing, Price: 12000, Place: "Cafe A"})
	require.NoError(t, err)

	raw, err := s.ExportJSON()
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Contains(t, doc, "userId")
	require.Contains(t, doc, "exportedAt")
	require.Contains(t, doc, "mealData")
	require.Contains(t, doc, "history")
}

func TestImportBundleReplacesState(t *testing.T) {
	s, _ := newSession(t, Options{})
	ctx := context.Background()

	_, err := s.SaveMeal(ctx, "2024-05-02", core.Record{Type: core.Outing, Price: 12000, Place: "Old"})
	require.NoError(t, err)

	incoming := core.NewBundle()
	incoming.MealData["2024-06-03"] = core.Record{Type: core.Cafeteria, Price: core.CafeteriaPrice}
	incoming.History.Touch(core.Places, "New Cafe")
	raw, err := json.Marshal(incoming)
	require.NoError(t, err)

	_, err = s.ImportBundle(ctx, raw)
	require.NoError(t, err)

	require.Len(t, s.Bundle().MealData, 1)
	_, ok := s.Record("2024-06-03")
	require.True(t, ok)
	require.Equal(t, []string{"New Cafe"}, s.Bundle().History.Places)
}

func TestImportBundleAcceptsOwnExport(t *testing.T) {
	s, _ := newSession(t, Options{})
	ctx := context.Background()

	_, err := s.SaveMeal(ctx, "2024-05-02", core.Record{Type: core.Outing, Price: 12000, Place: "Cafe A"})
	require.NoError(t, err)
	raw, err := s.ExportJSON()
	require.NoError(t, err)

	other, err := NewSession(ctx, "bob", memory.New(), Options{})
	require.NoError(t, err)
	_, err = other.ImportBundle(ctx, raw)
	require.NoError(t, err)

	rec, ok := other.Record("2024-05-02")
	require.True(t, ok)
	require.Equal(t, "Cafe A", rec.Place)
}

func TestImportBundleRejectsMalformed(t *testing.T) {
	s, _ := newSession(t, Options{})
	ctx := context.Background()

	_, err := s.SaveMeal(ctx, "2024-05-02", core.Record{Type: core.Outing, Price: 12000})
	require.NoError(t, err)
	before := s.Bundle()

	for _, raw := range []string{
		`{"history":{"places":[]}}`,
		`{`,
		`[]`,
	} {
		_, err := s.ImportBundle(ctx, []byte(raw))
		require.Error(t, err, "payload %q", raw)
	}
	_, err = s.ImportBundle(ctx, []byte(`{"history":{}}`))
	require.ErrorIs(t, err, core.ErrMalformedBundle)

	// Failed imports leave the session untouched.
	require.Equal(t, before, s.Bundle())
}
