package amqp

import (
	"encoding/json"
	"time"
)

// BundleSyncMessage announces that a user's local bundle changed.
// It carries only the user ID; the worker fetches the current bundle
// from the cache, so stale messages collapse into one delivery of the
// latest state.
type BundleSyncMessage struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBundleSyncMessage creates a sync message for the given user.
func NewBundleSyncMessage(userID string) *BundleSyncMessage {
	return &BundleSyncMessage{
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *BundleSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BundleSyncMessageFromJSON creates a message from JSON bytes.
func BundleSyncMessageFromJSON(data []byte) (*BundleSyncMessage, error) {
	var msg BundleSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
