// Package sched drives the posting pipeline: a fixed-interval tick
// enumerates owners and, per owner, runs lock → match → publish under a
// store-backed lease.
package sched

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"happbot/internal/plan"
	"happbot/internal/publish"
	"happbot/internal/state"
	"happbot/pkg/logx"
)

type Config struct {
	Enabled        bool
	Tick           time.Duration
	LeaseTTL       time.Duration
	Window         time.Duration
	UTCOffsetHours int
}

// ChannelPublisher is implemented by publish.Publisher.
type ChannelPublisher interface {
	Publish(ctx context.Context, owner *state.Owner, ch *state.Channel, pl plan.Plan) (publish.Outcome, bool)
}

// Notifier delivers owner-facing notices (plan expiry).
type Notifier interface {
	Notify(ctx context.Context, ownerID int64, text string)
}

type Service struct {
	cfg   Config
	store *state.Store
	pub   ChannelPublisher
	tg    Notifier
	locks *LockManager
	match Matcher
	log   logx.Logger

	now func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
	ctx  context.Context
}

func New(cfg Config, store *state.Store, pub ChannelPublisher, tg Notifier, log logx.Logger) *Service {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		store: store,
		pub:   pub,
		tg:    tg,
		locks: NewLockManager(store, cfg.LeaseTTL, log),
		match: NewMatcher(cfg.UTCOffsetHours, cfg.Window),
		log:   log,
		now:   time.Now,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	if s.cron != nil {
		return
	}
	s.ctx = ctx

	// Each tick runs in its own goroutine, so a slow pass may overlap the
	// next tick; the per-owner lease is what keeps that safe.
	c := cron.New()
	c.Schedule(cron.Every(s.cfg.Tick), cron.FuncJob(func() { s.tick() }))
	c.Start()
	s.cron = c
	s.log.Info("scheduler started",
		logx.Duration("tick", s.cfg.Tick),
		logx.Duration("lease_ttl", s.locks.ttl),
		logx.Duration("window", s.match.window))
}

// Stop halts the tick source and waits for in-flight passes to finish;
// a running tick is never cancelled mid-owner.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// tick enumerates all known owners lazily; a failure on one owner never
// aborts the sweep.
func (s *Service) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	start := s.now()
	var seen int
	err := s.store.EachOwnerID(ctx, func(id int64) error {
		seen++
		s.processOwner(ctx, id)
		return nil
	})
	if err != nil {
		s.log.Warn("owner sweep failed", logx.Err(err))
	}
	s.log.Debug("tick done", logx.Int("owners", seen), logx.Duration("took", s.now().Sub(start)))
}

// processOwner runs one owner pass under the lease. All failures are scoped
// to this owner; the deferred release runs on every path.
func (s *Service) processOwner(ctx context.Context, id int64) {
	log := s.log.With(logx.Int64("owner", id))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in owner pass", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	if !s.locks.TryAcquire(ctx, id) {
		return
	}
	defer s.locks.Release(ctx, id)

	owner, err := s.store.Owner(ctx, id)
	if err != nil {
		log.Warn("owner load failed", logx.Err(err))
		return
	}

	mutated := s.applyPlanExpiry(ctx, owner)
	pl := plan.Lookup(owner.ActivePlan)

	for i := 0; i < len(owner.Channels); i++ {
		ch := &owner.Channels[i]
		if !ch.Selected || ch.Source == "" {
			continue
		}
		slot, due := s.match.NextDue(s.now(), ch.Times, ch.LastPostedAt)
		if !due {
			continue
		}

		outcome, chMutated := s.pub.Publish(ctx, owner, ch, pl)
		mutated = mutated || chMutated
		switch outcome {
		case publish.Sent:
			// Slot identity, not send time: idempotence on subsequent ticks
			// is computed against the scheduled instant.
			ch.LastPostedAt = slot
		case publish.Removed:
			// The channel list shrank; re-examine this index.
			i--
		}
	}

	// Mutations are durable before the deferred release, so the next tick
	// (here or on another instance) observes consistent state.
	if mutated {
		if err := s.store.SaveOwner(ctx, owner); err != nil {
			log.Warn("owner save failed", logx.Err(err))
		}
	}
}

// applyPlanExpiry downgrades a lapsed owner to the free tier and resets all
// feature-dependent channel settings.
func (s *Service) applyPlanExpiry(ctx context.Context, owner *state.Owner) bool {
	if owner.Expiry == 0 || s.now().UnixMilli() <= owner.Expiry {
		return false
	}
	owner.SubscribedPlan = plan.Free
	owner.ActivePlan = plan.Free
	owner.Expiry = 0
	state.ResetFeatureSettings(owner)
	s.log.Info("plan expired; reverted to free", logx.Int64("owner", owner.ID))
	s.tg.Notify(ctx, owner.ID,
		"Your plan has expired! Reverted to Free and all settings were reset to default. Please configure again. 📉")
	return true
}
