package transfer

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/gitteri/confidential-balances-exploration/internal/balance"
)

// AccountLocks allows one mutating operation per account at a time.
type AccountLocks struct {
	mu   sync.Mutex
	sems map[balance.Address]*semaphore.Weighted
}

// NewAccountLocks returns an empty lock table.
func NewAccountLocks() *AccountLocks {
	return &AccountLocks{sems: map[balance.Address]*semaphore.Weighted{}}
}

func (l *AccountLocks) sem(id balance.Address) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[id]
	if !ok {
		s = semaphore.NewWeighted(1)
		l.sems[id] = s
	}
	return s
}

// Lock acquires every account in ids, in address order, and returns the
// release function. It blocks until all are held or ctx is done.
func (l *AccountLocks) Lock(ctx context.Context, ids ...balance.Address) (func(), error) {
	sorted := append([]balance.Address(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i][:], sorted[j][:]) < 0 })

	var held []*semaphore.Weighted
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		s := l.sem(id)
		if err := s.Acquire(ctx, 1); err != nil {
			release()
			return nil, err
		}
		held = append(held, s)
	}
	return release, nil
}
