package sched

import (
	"context"
	"time"

	"happbot/internal/state"
	"happbot/pkg/logx"
)

// DefaultLeaseTTL bounds how long a crashed pass can block an owner.
const DefaultLeaseTTL = 30 * time.Second

// LockManager grants at most one concurrent execution pass per owner across
// overlapping ticks (and across processes sharing the store). It is a single
// round of optimistic concurrency, not a queue: a lost race skips the owner
// for this tick and the next tick retries one interval later.
type LockManager struct {
	store *state.Store
	ttl   time.Duration
	log   logx.Logger
	now   func() time.Time
}

func NewLockManager(store *state.Store, ttl time.Duration, log logx.Logger) *LockManager {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LockManager{store: store, ttl: ttl, log: log, now: time.Now}
}

// TryAcquire reads the current lease and, if absent or expired, writes
// now+TTL conditioned on the version observed at read time. Every failure
// path is a silent skip: no retries, no blocking, no double posting.
func (l *LockManager) TryAcquire(ctx context.Context, ownerID int64) bool {
	now := l.now().UnixMilli()
	expiry, ver, err := l.store.LeaseGet(ctx, ownerID)
	if err != nil {
		l.log.Warn("lease read failed", logx.Int64("owner", ownerID), logx.Err(err))
		return false
	}
	if ver != 0 && expiry > now {
		return false // another pass holds the owner
	}
	ok, err := l.store.LeaseAcquire(ctx, ownerID, ver, now+l.ttl.Milliseconds())
	if err != nil {
		l.log.Warn("lease write failed", logx.Int64("owner", ownerID), logx.Err(err))
		return false
	}
	return ok
}

// Release frees the owner immediately instead of letting the TTL run out.
// Called in a deferred block on both success and error paths.
func (l *LockManager) Release(ctx context.Context, ownerID int64) {
	if err := l.store.LeaseRelease(ctx, ownerID); err != nil {
		l.log.Warn("lease release failed", logx.Int64("owner", ownerID), logx.Err(err))
	}
}
