package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mealtrack/internal/core"
)

// ExportPayload is the file-backup interchange format. The bundle fields are
// inlined so the document stays readable by the sync endpoint's consumers;
// userId and exportedAt are advisory and ignored on import.
type ExportPayload struct {
	UserID     string    `json:"userId"`
	ExportedAt time.Time `json:"exportedAt"`
	core.Bundle
}

// Export produces the full bundle as an interchange payload.
func (s *Session) Export() ExportPayload {
	return ExportPayload{
		UserID:     s.userID,
		ExportedAt: time.Now().UTC(),
		Bundle:     s.bundle.Clone(),
	}
}

// ExportJSON renders the export payload as an indented JSON document.
func (s *Session) ExportJSON() ([]byte, error) {
	data, err := json.MarshalIndent(s.Export(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export payload: %w", err)
	}
	return data, nil
}

// ImportBundle wholesale-replaces the session state with the payload and
// saves. A payload without a mealData mapping is rejected with
// core.ErrMalformedBundle and leaves prior state untouched.
func (s *Session) ImportBundle(ctx context.Context, raw []byte) (SyncResult, error) {
	var payload struct {
		MealData map[core.DateKey]core.Record `json:"mealData"`
		History  core.History                 `json:"history"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return SyncResult{}, fmt.Errorf("%w: %v", core.ErrMalformedBundle, err)
	}
	if payload.MealData == nil {
		return SyncResult{}, core.ErrMalformedBundle
	}

	s.bundle = core.Bundle{MealData: payload.MealData, History: payload.History}
	return s.Save(ctx)
}
