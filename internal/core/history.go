package core

import "errors"

const (
	Places HistoryKind = "places"
	Cards  HistoryKind = "cards"
)

type (
	HistoryKind string

	// History holds the place and card suggestion lists. Order is recency:
	// the most recently used value sits at the end.
	History struct {
		Places []string `json:"places"`
		Cards  []string `json:"cards"`
	}
)

var ErrUnknownHistoryKind = errors.New("unknown history kind")

func (k HistoryKind) Valid() bool {
	return k == Places || k == Cards
}

// Touch records a use of value in the given list: an existing entry moves to
// the end, a new entry is appended, empty values are ignored.
func (h *History) Touch(kind HistoryKind, value string) {
	if value == "" {
		return
	}
	list := h.list(kind)
	if list == nil {
		return
	}
	out := (*list)[:0]
	for _, v := range *list {
		if v != value {
			out = append(out, v)
		}
	}
	*list = append(out, value)
}

// Remove deletes value from the given list. Removing an absent value is a
// no-op.
func (h *History) Remove(kind HistoryKind, value string) {
	list := h.list(kind)
	if list == nil {
		return
	}
	out := (*list)[:0]
	for _, v := range *list {
		if v != value {
			out = append(out, v)
		}
	}
	*list = out
}

// Last returns the most recently used entry of the given list, or "".
func (h *History) Last(kind HistoryKind) string {
	list := h.list(kind)
	if list == nil || len(*list) == 0 {
		return ""
	}
	return (*list)[len(*list)-1]
}

// IsEmpty reports whether both lists are empty. Used as the history-migration
// trigger after load.
func (h History) IsEmpty() bool {
	return len(h.Places) == 0 && len(h.Cards) == 0
}

func (h History) Clone() History {
	return History{
		Places: append([]string(nil), h.Places...),
		Cards:  append([]string(nil), h.Cards...),
	}
}

func (h *History) list(kind HistoryKind) *[]string {
	switch kind {
	case Places:
		return &h.Places
	case Cards:
		return &h.Cards
	}
	return nil
}
