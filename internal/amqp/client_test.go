package amqp

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // capped at 30s
		{10, 30 * time.Second}, // capped at 30s
		{-1, 1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			result := exponentialBackoff(tt.attempt)
			if result != tt.expected {
				t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, result, tt.expected)
			}
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "connection refused",
			err:      errors.New("dial tcp 127.0.0.1:5672: connection refused"),
			expected: true,
		},
		{
			name:     "connection closed",
			err:      errors.New("connection closed"),
			expected: true,
		},
		{
			name:     "EOF",
			err:      errors.New("unexpected EOF"),
			expected: true,
		},
		{
			name:     "broken pipe",
			err:      errors.New("write: broken pipe"),
			expected: true,
		},
		{
			name:     "closed network connection",
			err:      errors.New("use of closed network connection"),
			expected: true,
		},
		{
			name:     "delivery channel closed",
			err:      errors.New("message channel closed"),
			expected: true,
		},
		{
			name:     "other error",
			err:      errors.New("some other error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.expected {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestBundleSyncMessageRoundTrip(t *testing.T) {
	msg := NewBundleSyncMessage("alice")
	if msg.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}

	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := BundleSyncMessageFromJSON(body)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.UserID != "alice" {
		t.Fatalf("expected user alice, got %q", decoded.UserID)
	}

	if _, err := BundleSyncMessageFromJSON([]byte("{nope")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
