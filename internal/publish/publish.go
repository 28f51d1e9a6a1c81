// Package publish validates channel preconditions and pushes one provisioned
// post (text or file) to a channel.
package publish

import (
	"context"
	"fmt"
	"strings"

	"happbot/internal/plan"
	"happbot/internal/provision"
	"happbot/internal/render"
	"happbot/internal/state"
	"happbot/internal/transport/telegram"
	"happbot/pkg/logx"
)

// Messenger is the slice of the Telegram transport the publisher needs.
type Messenger interface {
	BotID() int64
	ChatInfo(ctx context.Context, chatID int64) *telegram.ChatInfo
	IsAdmin(ctx context.Context, chatID, accountID int64) bool
	SendText(ctx context.Context, chatID int64, text string, ents []render.Entity) *telegram.MessageRef
	SendDocument(ctx context.Context, chatID int64, content []byte, filename, caption string, ents []render.Entity) *telegram.MessageRef
	SetReaction(ctx context.Context, ref telegram.MessageRef, emoji string)
	Notify(ctx context.Context, ownerID int64, text string)
}

// Provisioner creates and removes credential artifacts.
type Provisioner interface {
	Provision(ctx context.Context, src provision.Source, quotaGB int) (*provision.Artifact, error)
	Deprovision(ctx context.Context, src provision.Source, id string) bool
}

// Outcome tells the scheduler what happened and what to persist.
type Outcome int

const (
	// Failed is a transient publish failure. LastPostedAt stays untouched so
	// the next tick retries the same slot.
	Failed Outcome = iota
	// Sent confirms delivery; the scheduler advances LastPostedAt to the slot.
	Sent
	// Removed means the channel was dropped from the owner (admin status
	// lost). Not retried.
	Removed
	// Skipped means a precondition was not met without mutating anything
	// (e.g. the channel's provisioning source is gone).
	Skipped
)

type Publisher struct {
	tg    Messenger
	prov  Provisioner
	store *state.Store
	log   logx.Logger
}

func New(tg Messenger, prov Provisioner, store *state.Store, log logx.Logger) *Publisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{tg: tg, prov: prov, store: store, log: log}
}

// Publish runs the full per-channel pipeline: precondition checks with
// self-healing side effects, source resolution, provisioning, rendering and
// the send. mutated reports whether the owner record changed and must be
// persisted even when the outcome is not Sent (channel removal, handle drift).
func (p *Publisher) Publish(ctx context.Context, owner *state.Owner, ch *state.Channel, pl plan.Plan) (outcome Outcome, mutated bool) {
	log := p.log.With(logx.Int64("owner", owner.ID), logx.Int64("chat", ch.ChatID))

	if !p.tg.IsAdmin(ctx, ch.ChatID, owner.ID) {
		return p.removeChannel(ctx, owner, ch,
			fmt.Sprintf("Channel %s removed: you are no longer an admin there. ❌", ch.Username)), true
	}
	if !p.tg.IsAdmin(ctx, ch.ChatID, p.tg.BotID()) {
		return p.removeChannel(ctx, owner, ch,
			fmt.Sprintf("Channel %s removed: the bot lost its admin rights there. ❌", ch.Username)), true
	}

	// Handle drift: refresh the stored handle and the ownership index before
	// publishing.
	if info := p.tg.ChatInfo(ctx, ch.ChatID); info != nil && info.Username != "" {
		if handle := "@" + info.Username; handle != ch.Username {
			log.Info("channel handle drift", logx.String("old", ch.Username), logx.String("new", handle))
			ch.Username = handle
			if err := p.store.OwnerIndexSet(ctx, ch.ChatID, owner.ID); err != nil {
				log.Warn("owner index refresh failed", logx.Err(err))
			}
			mutated = true
		}
	}

	src, ok := p.resolveSource(ctx, owner, ch, pl)
	if !ok {
		log.Debug("no usable provisioning source; skipping")
		return Skipped, mutated
	}

	if ch.DeleteBeforePost && ch.LastArtifact != "" {
		p.prov.Deprovision(ctx, src, ch.LastArtifact)
	}

	art, err := p.prov.Provision(ctx, src, ch.TrafficGB)
	if err != nil || art == nil {
		log.Warn("provisioning failed", logx.Err(err))
		return Failed, mutated
	}

	var ref *telegram.MessageRef
	switch ch.Mode {
	case state.ModeText:
		text, ents := render.Inline(ch.Template, ch.Entities, art.Content)
		ref = p.tg.SendText(ctx, ch.ChatID, footer(text, pl), ents)
	default: // ModeFile
		caption, ents := render.Caption(ch.Template, ch.Entities)
		name := art.ID + ".ovpn"
		ref = p.tg.SendDocument(ctx, ch.ChatID, []byte(art.Content), name, footer(caption, pl), ents)
	}
	if ref == nil {
		log.Warn("send failed")
		return Failed, mutated
	}

	if ch.Reaction != "" && pl.EditReaction {
		p.tg.SetReaction(ctx, *ref, ch.Reaction)
	}

	// The new artifact is recorded no matter what the reaction call did.
	ch.LastArtifact = art.ID
	log.Info("posted", logx.String("artifact", art.ID), logx.String("mode", string(ch.Mode)))
	return Sent, true
}

func (p *Publisher) removeChannel(ctx context.Context, owner *state.Owner, ch *state.Channel, notice string) Outcome {
	if !state.RemoveChannel(owner, ch.ChatID) {
		// Vanished between enumeration and mutation; nothing to do.
		return Skipped
	}
	if err := p.store.OwnerIndexDelete(ctx, ch.ChatID); err != nil {
		p.log.Warn("owner index delete failed", logx.Int64("chat", ch.ChatID), logx.Err(err))
	}
	p.tg.Notify(ctx, owner.ID, notice)
	return Removed
}

// resolveSource maps the channel's source reference to a concrete endpoint:
// the shared pooled record or one of the owner's named panels. Resolved once
// per channel, before any provisioning call.
func (p *Publisher) resolveSource(ctx context.Context, owner *state.Owner, ch *state.Channel, pl plan.Plan) (provision.Source, bool) {
	if strings.TrimSpace(ch.Source) == "" {
		return provision.Source{}, false
	}
	if ch.Source == state.SourcePool {
		if !pl.PoolAccess {
			return provision.Source{}, false
		}
		pool, err := p.store.PoolSource(ctx)
		if err != nil || pool == nil {
			return provision.Source{}, false
		}
		return toSource(*pool), true
	}
	panel, ok := owner.Panels[ch.Source]
	if !ok {
		return provision.Source{}, false
	}
	return toSource(panel), true
}

func toSource(p state.Panel) provision.Source {
	return provision.Source{URL: p.URL, Username: p.Username, Password: p.Password, Prefix: p.Prefix}
}

func footer(text string, pl plan.Plan) string {
	if !pl.NoWatermark {
		text += "\n\nPowered by Happ Bot 🚀"
	}
	if !pl.NoAds {
		text += "\nJoin @HappService for more! 📢"
	}
	return text
}
