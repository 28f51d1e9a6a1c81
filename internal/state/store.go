package state

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"happbot/internal/storage"
)

// Key scheme (composite paths, one record per key):
//
//	owners/<ownerID>        -> Owner
//	leases/<ownerID>        -> unix ms lease expiry (versioned row, CAS'd)
//	channel_owners/<chatID> -> ownerID (ownership index for conflict detection)
//	pool_source             -> Panel (the shared pooled source)
const (
	ownerPrefix = "owners/"
	leasePrefix = "leases/"
	indexPrefix = "channel_owners/"
	poolKey     = "pool_source"
)

type Store struct {
	kv *storage.Store
}

func New(kv *storage.Store) *Store { return &Store{kv: kv} }

func ownerKey(id int64) string   { return ownerPrefix + strconv.FormatInt(id, 10) }
func leaseKey(id int64) string   { return leasePrefix + strconv.FormatInt(id, 10) }
func indexKey(chat int64) string { return indexPrefix + strconv.FormatInt(chat, 10) }

// Owner loads an account, materializing the default (lowest tier) on miss.
func (s *Store) Owner(ctx context.Context, id int64) (*Owner, error) {
	val, _, ok, err := s.kv.Get(ctx, ownerKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return DefaultOwner(id), nil
	}
	var o Owner
	if err := sonic.Unmarshal(val, &o); err != nil {
		return nil, fmt.Errorf("owner %d: decode: %w", id, err)
	}
	if o.Panels == nil {
		o.Panels = map[string]Panel{}
	}
	return &o, nil
}

// SaveOwner replaces the owner's record in a single write; channel-list
// mutations for one owner are never split across writes.
func (s *Store) SaveOwner(ctx context.Context, o *Owner) error {
	val, err := sonic.Marshal(o)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, ownerKey(o.ID), val)
}

// EachOwnerID streams all known owner IDs without preloading them.
func (s *Store) EachOwnerID(ctx context.Context, fn func(id int64) error) error {
	return s.kv.List(ctx, ownerPrefix, func(key string, _ []byte) error {
		raw := strings.TrimPrefix(key, ownerPrefix)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// Foreign row under the prefix; skip rather than abort the sweep.
			return nil
		}
		return fn(id)
	})
}

// LeaseGet returns the lease expiry (unix ms) and the row version used for
// the subsequent CompareAndSwap. expiry 0 / version 0 mean "no lease".
func (s *Store) LeaseGet(ctx context.Context, ownerID int64) (expiry int64, ver int64, err error) {
	val, ver, ok, err := s.kv.Get(ctx, leaseKey(ownerID))
	if err != nil || !ok {
		return 0, 0, err
	}
	if err := sonic.Unmarshal(val, &expiry); err != nil {
		return 0, ver, nil // unreadable lease value: treat as expired, version still fences
	}
	return expiry, ver, nil
}

// LeaseAcquire performs the single optimistic write: it succeeds only if the
// lease row is still at the version observed by LeaseGet.
func (s *Store) LeaseAcquire(ctx context.Context, ownerID int64, observedVer int64, expiry int64) (bool, error) {
	val, err := sonic.Marshal(expiry)
	if err != nil {
		return false, err
	}
	return s.kv.CompareAndSwap(ctx, leaseKey(ownerID), observedVer, val)
}

// LeaseRelease frees the owner immediately instead of waiting for TTL expiry.
func (s *Store) LeaseRelease(ctx context.Context, ownerID int64) error {
	return s.kv.Delete(ctx, leaseKey(ownerID))
}

func (s *Store) OwnerIndexGet(ctx context.Context, chatID int64) (int64, bool, error) {
	val, _, ok, err := s.kv.Get(ctx, indexKey(chatID))
	if err != nil || !ok {
		return 0, false, err
	}
	var id int64
	if err := sonic.Unmarshal(val, &id); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *Store) OwnerIndexSet(ctx context.Context, chatID, ownerID int64) error {
	val, err := sonic.Marshal(ownerID)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, indexKey(chatID), val)
}

func (s *Store) OwnerIndexDelete(ctx context.Context, chatID int64) error {
	return s.kv.Delete(ctx, indexKey(chatID))
}

// PoolSource returns the shared pooled provisioning source, or nil when it
// has never been seeded.
func (s *Store) PoolSource(ctx context.Context) (*Panel, error) {
	val, _, ok, err := s.kv.Get(ctx, poolKey)
	if err != nil || !ok {
		return nil, err
	}
	var p Panel
	if err := sonic.Unmarshal(val, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SavePoolSource(ctx context.Context, p Panel) error {
	val, err := sonic.Marshal(p)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, poolKey, val)
}

// SeedPoolSource writes the config defaults only when no record exists, so
// admin edits made through the console survive restarts.
func (s *Store) SeedPoolSource(ctx context.Context, p Panel) error {
	if strings.TrimSpace(p.URL) == "" {
		return nil
	}
	val, err := sonic.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.kv.CompareAndSwap(ctx, poolKey, 0, val)
	return err
}
