// Package memory provides an in-process kv.Store, used as the default server
// backend and in tests.
package memory

import (
	"context"
	"sync"

	"mealtrack/internal/kv"
)

type Store struct {
	mu      sync.Mutex
	bundles map[string][]byte
	meta    map[string]string

	// FailNext makes the next call fail with kv.ErrUnavailable. Test hook.
	FailNext bool
}

var _ kv.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		bundles: make(map[string][]byte),
		meta:    make(map[string]string),
	}
}

func (s *Store) Get(_ context.Context, userID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failCheck(); err != nil {
		return nil, err
	}
	payload, ok := s.bundles[userID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), payload...), nil
}

func (s *Store) Put(_ context.Context, userID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failCheck(); err != nil {
		return err
	}
	s.bundles[userID] = append([]byte(nil), payload...)
	return nil
}

func (s *Store) GetMeta(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failCheck(); err != nil {
		return "", err
	}
	return s.meta[key], nil
}

func (s *Store) SetMeta(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failCheck(); err != nil {
		return err
	}
	s.meta[key] = value
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) failCheck() error {
	if s.FailNext {
		s.FailNext = false
		return kv.ErrUnavailable
	}
	return nil
}
