package memory

import (
	"context"
	"sync"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/repository"
)

// Store is an in-process backend for every port. Create one per process or test.
type Store struct {
	mu sync.Mutex

	accounts    map[string]domain.AccountSnapshot
	emails      map[domain.Email]string
	tokens      map[string]domain.TokenRecord
	roles       map[string]domain.Role
	assignments map[string]map[string]domain.RoleAssignment
	codes       map[string]domain.VerificationCodeState
	attempts    map[string][]int64
	clock       domain.Clock

	// revisions holds the last write to each journaled key.
	revisions map[string]uint64
	seq       uint64
}

// NewStore constructs an empty Store.
func NewStore(clock domain.Clock) *Store {
	if clock == nil {
		clock = domain.SystemClock
	}
	return &Store{
		accounts:    make(map[string]domain.AccountSnapshot),
		emails:      make(map[domain.Email]string),
		tokens:      make(map[string]domain.TokenRecord),
		roles:       make(map[string]domain.Role),
		assignments: make(map[string]map[string]domain.RoleAssignment),
		codes:       make(map[string]domain.VerificationCodeState),
		attempts:    make(map[string][]int64),
		clock:       clock,
		revisions:   make(map[string]uint64),
	}
}

type txKey struct{}

// journal records how to undo the writes of one unit of work.
type journal struct {
	mu    sync.Mutex
	undo  []func()
	done  bool
	store *Store
}

func journalFrom(ctx context.Context) *journal {
	j, _ := ctx.Value(txKey{}).(*journal)
	return j
}

// remember records a write to key and registers its undo step. The undo only
// runs while key still holds this write, so a rollback never overwrites a
// later write from another unit of work. Callers hold s.mu.
func (s *Store) remember(ctx context.Context, key string, undo func()) {
	prev := s.revisions[key]
	s.seq++
	rev := s.seq
	s.revisions[key] = rev

	j := journalFrom(ctx)
	if j == nil || j.store != s {
		return
	}
	j.mu.Lock()
	j.undo = append(j.undo, func() {
		if s.revisions[key] != rev {
			return
		}
		undo()
		if prev == 0 {
			delete(s.revisions, key)
		} else {
			s.revisions[key] = prev
		}
	})
	j.mu.Unlock()
}

func accountKey(id string) string { return "account:" + id }

func tokenKey(hash string) string { return "token:" + hash }

// UnitOfWork implements port.UnitOfWork over the Store with an undo journal.
type UnitOfWork struct {
	store *Store
}

// NewUnitOfWork constructs a unit of work bound to the store.
func NewUnitOfWork(store *Store) *UnitOfWork {
	return &UnitOfWork{store: store}
}

// Begin opens a journal carried on the returned context.
func (u *UnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	return context.WithValue(ctx, txKey{}, &journal{store: u.store}), nil
}

// SaveChanges is a no-op; writes are applied eagerly and undone on rollback.
// Other units of work observe them before commit.
func (u *UnitOfWork) SaveChanges(ctx context.Context) error {
	if j := journalFrom(ctx); j == nil || j.done {
		return repository.ErrNoTransaction
	}
	return nil
}

// Commit discards the journal.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	j := journalFrom(ctx)
	if j == nil {
		return repository.ErrNoTransaction
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done {
		return repository.ErrNoTransaction
	}
	j.done = true
	j.undo = nil
	return nil
}

// Rollback replays the journal in reverse.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	j := journalFrom(ctx)
	if j == nil {
		return repository.ErrNoTransaction
	}
	j.mu.Lock()
	if j.done {
		j.mu.Unlock()
		return nil
	}
	j.done = true
	undo := j.undo
	j.undo = nil
	j.mu.Unlock()

	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	return nil
}
