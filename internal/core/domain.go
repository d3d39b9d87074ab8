package core

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	Cafeteria MealType = "cafeteria"
	Outing    MealType = "outing"
	Holiday   MealType = "holiday"

	Breakfast MealTime = "breakfast"
	Lunch     MealTime = "lunch"
	Dinner    MealTime = "dinner"
)

const (
	// CafeteriaPrice is the fixed price of a cafeteria meal, in won.
	CafeteriaPrice = 7770

	// BudgetLimit is the monthly meal budget, in won.
	BudgetLimit = 200000

	// DefaultOutingPrice is the prefill used when no price has been entered yet.
	DefaultOutingPrice = 10000
)

type (
	MealType string

	MealTime string

	// DateKey is a calendar day in YYYY-MM-DD form. It is the map key of
	// Bundle.MealData and the only date representation on the wire.
	DateKey string

	// Record is one calendar day's meal entry. Place, card and time are
	// meaningful only for outing records.
	Record struct {
		Type  MealType `json:"type"`
		Price int64    `json:"price"`
		Place string   `json:"place,omitempty"`
		Card  string   `json:"card,omitempty"`
		Time  MealTime `json:"time,omitempty"`
	}

	// Bundle is the unit of persistence and sync: all meal records plus the
	// place/card suggestion history, stored and pushed as one JSON document.
	Bundle struct {
		MealData map[DateKey]Record `json:"mealData"`
		History  History            `json:"history"`
	}
)

var (
	ErrMissingUserID   = errors.New("userId is required")
	ErrInvalidDateKey  = errors.New("invalid date key")
	ErrNegativePrice   = errors.New("negative price")
	ErrUnknownType     = errors.New("unknown meal type")
	ErrUnknownTime     = errors.New("unknown meal time")
	ErrMalformedBundle = errors.New("malformed bundle: missing mealData")
)

var dateKeyRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// NewDateKey builds the key for a calendar day.
func NewDateKey(year int, month time.Month, day int) DateKey {
	return DateKey(fmt.Sprintf("%04d-%02d-%02d", year, int(month), day))
}

// DateKeyOf builds the key for t's calendar day in t's location.
func DateKeyOf(t time.Time) DateKey {
	return NewDateKey(t.Year(), t.Month(), t.Day())
}

// MonthPrefix returns the YYYY-MM prefix shared by all keys of a month.
func MonthPrefix(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

// Time parses the key into a UTC midnight timestamp.
func (k DateKey) Time() (time.Time, error) {
	if !dateKeyRe.MatchString(string(k)) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateKey, k)
	}
	t, err := time.Parse("2006-01-02", string(k))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateKey, k)
	}
	return t, nil
}

// Validate checks the key is a real calendar date.
func (k DateKey) Validate() error {
	_, err := k.Time()
	return err
}

// InMonth reports whether the key falls in the given month.
func (k DateKey) InMonth(year int, month time.Month) bool {
	t, err := k.Time()
	if err != nil {
		return false
	}
	return t.Year() == year && t.Month() == month
}

// Weekend reports whether the key falls on a Saturday or Sunday.
func (k DateKey) Weekend() bool {
	t, err := k.Time()
	if err != nil {
		return false
	}
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (mt MealType) Valid() bool {
	switch mt {
	case Cafeteria, Outing, Holiday:
		return true
	}
	return false
}

func (mt MealTime) Valid() bool {
	switch mt {
	case Breakfast, Lunch, Dinner:
		return true
	}
	return false
}

// DefaultRecord returns the record a freshly initialized day carries:
// weekends are holidays at zero, weekdays are cafeteria meals at the fixed
// price.
func DefaultRecord(key DateKey) Record {
	if key.Weekend() {
		return Record{Type: Holiday, Price: 0}
	}
	return Record{Type: Cafeteria, Price: CafeteriaPrice}
}

// Validate enforces the per-type invariants: cafeteria and holiday records
// carry no place or card, cafeteria is always the fixed price, holidays are
// free, and outing times must be one of the known tags.
func (r Record) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, r.Type)
	}
	if r.Price < 0 {
		return ErrNegativePrice
	}
	switch r.Type {
	case Cafeteria:
		if r.Price != CafeteriaPrice {
			return fmt.Errorf("cafeteria price must be %d, got %d", CafeteriaPrice, r.Price)
		}
		if r.Place != "" || r.Card != "" {
			return errors.New("cafeteria record cannot carry place or card")
		}
	case Holiday:
		if r.Price != 0 {
			return fmt.Errorf("holiday price must be 0, got %d", r.Price)
		}
		if r.Place != "" || r.Card != "" {
			return errors.New("holiday record cannot carry place or card")
		}
	case Outing:
		if r.Time != "" && !r.Time.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownTime, r.Time)
		}
	}
	return nil
}

// NewBundle returns an empty bundle with its map initialized.
func NewBundle() Bundle {
	return Bundle{MealData: make(map[DateKey]Record)}
}

// IsEmpty reports whether the bundle holds no meal records. A bundle with
// only history entries counts as empty for load-source selection, matching
// the sync payload acceptance rule.
func (b Bundle) IsEmpty() bool {
	return len(b.MealData) == 0
}

// Clone returns a deep copy, so callers can mutate freely.
func (b Bundle) Clone() Bundle {
	out := Bundle{
		MealData: make(map[DateKey]Record, len(b.MealData)),
		History:  b.History.Clone(),
	}
	for k, v := range b.MealData {
		out.MealData[k] = v
	}
	return out
}
