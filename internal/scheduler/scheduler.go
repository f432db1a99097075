// Package scheduler selects and leases an upstream account from the
// shared pool (spec.md §4.8): eligibility query, exclusive selection,
// and usage bookkeeping on release.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/mineskin-go/generator/internal/apperr"
	"github.com/mineskin-go/generator/internal/catalog"
)

// FailureKind classifies a release-failure for bookkeeping purposes.
type FailureKind int

const (
	FailureOther FailureKind = iota
	FailureAuth
)

// Scheduler leases accounts from the catalog. Its minAccountDelay and a
// live usable-account count combine into the nextRequest cooldown hint,
// spec.md §4.8 "Delay".
type Scheduler struct {
	store           catalog.Store
	selfServer      string
	minAccountDelay time.Duration
	locked          *lockedSet
	usableCount     atomic.Int64

	sfGroup      singleflight.Group
	cacheMu      sync.Mutex
	cacheExpires time.Time
	cacheTTL     time.Duration
}

// New builds a Scheduler bound to a catalog and this node's identity.
func New(store catalog.Store, selfServer string, minAccountDelay time.Duration) *Scheduler {
	s := &Scheduler{
		store:           store,
		selfServer:      selfServer,
		minAccountDelay: minAccountDelay,
		locked:          newLockedSet(),
		cacheTTL:        10 * time.Second,
	}
	s.usableCount.Store(1)
	return s
}

// LeasedAccount is returned by Acquire; ReleaseSuccess or ReleaseFailure
// must be called on every code path including cancellation (spec.md §5).
// Only the first release call has an effect; later calls are no-ops.
type LeasedAccount struct {
	Account   *catalog.Account
	lockToken string
	sched     *Scheduler
	released  bool
}

// Acquire selects an eligible account, marks it selected, and excludes it
// from concurrent selection in this process until Release.
func (s *Scheduler) Acquire(ctx context.Context) (*LeasedAccount, error) {
	locked := s.locked.snapshot()
	account, err := s.store.FindEligibleAccount(ctx, s.selfServer, locked)
	if err != nil {
		if err == catalog.ErrNotFound {
			return nil, apperr.ErrNoAccountAvailable
		}
		return nil, apperr.Wrap(apperr.ErrNoAccountAvailable, err)
	}

	if !s.locked.tryLock(account.ID) {
		// Lost a race against another acquirer that grabbed this id
		// between the catalog read and the lock attempt. No retry is
		// made here; the caller receives NO_ACCOUNT_AVAILABLE.
		return nil, apperr.ErrNoAccountAvailable
	}

	account.LastSelectedSec = time.Now().Unix()
	if err := s.store.UpdateAccount(ctx, account); err != nil {
		s.locked.unlock(account.ID)
		return nil, apperr.Wrap(apperr.ErrNoAccountAvailable, err)
	}

	return &LeasedAccount{Account: account, lockToken: uuid.NewString(), sched: s}, nil
}

// ReleaseSuccess records a successful upstream call and frees the lock.
func (l *LeasedAccount) ReleaseSuccess(ctx context.Context) error {
	if l.released {
		return nil
	}
	l.released = true
	defer l.sched.locked.unlock(l.Account.ID)

	now := time.Now().Unix()
	l.Account.LastUsedSec = now
	l.Account.SuccessCounter++
	l.Account.TotalSuccessCounter++
	l.Account.ErrorCounter = 0
	return l.sched.store.UpdateAccount(ctx, l.Account)
}

// ReleaseFailure records a failed attempt. AUTH failures additionally
// park the account behind a forced timeout (spec.md §4.8).
func (l *LeasedAccount) ReleaseFailure(ctx context.Context, kind FailureKind) error {
	if l.released {
		return nil
	}
	l.released = true
	defer l.sched.locked.unlock(l.Account.ID)

	l.Account.SuccessCounter = 0
	l.Account.ErrorCounter++
	l.Account.TotalErrorCounter++
	if kind == FailureAuth {
		l.Account.ForcedTimeoutAtSec = time.Now().Unix()
		l.Account.RequestServer = ""
	}
	return l.sched.store.UpdateAccount(ctx, l.Account)
}

// NoteDuplicateTexture bumps the supplemented sameTextureCounter tie-break
// (SPEC_FULL.md §D.2) when this account's output is discovered to be a
// duplicate; it does not affect error/success bookkeeping.
func (l *LeasedAccount) NoteDuplicateTexture(ctx context.Context) error {
	l.Account.SameTextureCounter++
	return l.sched.store.UpdateAccount(ctx, l.Account)
}

// SetUsableCount updates the live count of eligible accounts used to
// compute the cooldown hint; exposed mainly for tests. Production
// callers should prefer RefreshUsableCount.
func (s *Scheduler) SetUsableCount(n int64) {
	if n < 1 {
		n = 1
	}
	s.usableCount.Store(n)
}

// RefreshUsableCount recomputes the usable-account count from the
// catalog, coalescing concurrent callers behind a single in-flight
// catalog scan the way the teacher's account-pool cache collapses
// concurrent refreshes into one (golang.org/x/sync/singleflight),
// rather than serializing every caller behind a mutex or hammering the
// catalog once per request.
func (s *Scheduler) RefreshUsableCount(ctx context.Context) error {
	s.cacheMu.Lock()
	fresh := time.Now().Before(s.cacheExpires)
	s.cacheMu.Unlock()
	if fresh {
		return nil
	}

	_, err, _ := s.sfGroup.Do("refreshUsableCount", func() (interface{}, error) {
		n, err := s.store.CountEnabledAccounts(ctx)
		if err != nil {
			return nil, err
		}
		s.SetUsableCount(n)
		s.cacheMu.Lock()
		s.cacheExpires = time.Now().Add(s.cacheTTL)
		s.cacheMu.Unlock()
		return n, nil
	})
	return err
}

// NextRequestHint returns the epoch-seconds a caller should wait until
// before retrying, per spec.md §4.8's MIN_ACCOUNT_DELAY / usable count.
func (s *Scheduler) NextRequestHint() int64 {
	usable := s.usableCount.Load()
	if usable < 1 {
		usable = 1
	}
	delay := s.minAccountDelay / time.Duration(usable)
	return time.Now().Add(delay).Unix()
}
