package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/arklim/credential-engine/internal/core/port"
)

// RateLimitStore implements port.RateLimitStore with in-process sliding windows.
type RateLimitStore struct {
	store *Store
}

// NewRateLimitStore constructs the store.
func NewRateLimitStore(store *Store) *RateLimitStore {
	return &RateLimitStore{store: store}
}

// RecordAttempt stores the attempt timestamp.
func (s *RateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	list := append(s.store.attempts[identifier], at.UnixNano())
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	s.store.attempts[identifier] = list
	return nil
}

// CountAttempts counts attempts in (reference-window, reference].
func (s *RateLimitStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	return len(s.inWindow(identifier, window, reference)), nil
}

// TrimWindow removes attempts older than the window.
func (s *RateLimitStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errors.New("window must be positive")
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	threshold := reference.Add(-window).UnixNano()
	kept := s.store.attempts[identifier][:0]
	for _, ts := range s.store.attempts[identifier] {
		if ts > threshold {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(s.store.attempts, identifier)
		return nil
	}
	s.store.attempts[identifier] = kept
	return nil
}

// OldestAttempt returns the earliest attempt inside the window.
func (s *RateLimitStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if window <= 0 {
		return time.Time{}, false, errors.New("window must be positive")
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	in := s.inWindow(identifier, window, reference)
	if len(in) == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(0, in[0]), true, nil
}

func (s *RateLimitStore) inWindow(identifier string, window time.Duration, reference time.Time) []int64 {
	min := reference.Add(-window).UnixNano()
	max := reference.UnixNano()
	var out []int64
	for _, ts := range s.store.attempts[identifier] {
		if ts >= min && ts <= max {
			out = append(out, ts)
		}
	}
	return out
}

var _ port.RateLimitStore = (*RateLimitStore)(nil)
