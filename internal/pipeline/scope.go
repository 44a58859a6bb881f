package pipeline

import (
	"context"

	"github.com/arklim/credential-engine/internal/core/domain"
)

// Scope collects the aggregates and follow-up work of one command.
type Scope struct {
	tracked    []*domain.Account
	afterwards []func(ctx context.Context) error
}

// Track registers aggregates to be persisted when the handler succeeds.
func (s *Scope) Track(accounts ...*domain.Account) {
	for _, a := range accounts {
		if a == nil || s.isTracked(a) {
			continue
		}
		s.tracked = append(s.tracked, a)
	}
}

// AfterCommit schedules work that must only run once the transaction committed.
func (s *Scope) AfterCommit(fn func(ctx context.Context) error) {
	if fn != nil {
		s.afterwards = append(s.afterwards, fn)
	}
}

func (s *Scope) isTracked(a *domain.Account) bool {
	for _, t := range s.tracked {
		if t == a {
			return true
		}
	}
	return false
}

func (s *Scope) pullEvents() []domain.Event {
	var events []domain.Event
	for _, a := range s.tracked {
		events = append(events, a.PullEvents()...)
	}
	return events
}
