// Package state holds the persisted owner/channel model and its typed
// accessors over the KV store.
package state

import (
	"happbot/internal/plan"
	"happbot/internal/render"
)

// PostMode selects how a provisioned artifact reaches the channel.
type PostMode string

const (
	ModeText PostMode = "text" // artifact content substituted into the message text
	ModeFile PostMode = "file" // artifact sent as a document, template as caption
)

// SourcePool marks a channel that posts through the shared pooled
// provisioning source instead of one of the owner's named panels.
const SourcePool = "pool"

// Owner is one account configuring automated distribution. Mutated by the
// configuration collaborators and by the scheduler (plan downgrade on expiry,
// idempotence markers).
type Owner struct {
	ID             int64            `json:"id"`
	FirstName      string           `json:"first_name,omitempty"`
	SubscribedPlan string           `json:"subscribed_plan"`
	ActivePlan     string           `json:"active_plan"`
	Balance        int64            `json:"balance"`
	Expiry         int64            `json:"expiry,omitempty"` // unix ms; 0 = never
	Panels         map[string]Panel `json:"panels,omitempty"`
	Channels       []Channel        `json:"channels,omitempty"`
}

// Panel is an owner-named provisioning source.
type Panel struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
	Prefix   string `json:"prefix"`
}

// Channel is one messaging destination under an owner's administration.
//
// LastPostedAt records the slot instant (unix ms) of the most recent
// fulfilled scheduled time, not the wall-clock send time. It only ever
// advances to a confirmed-served slot and is monotonic per channel.
type Channel struct {
	ChatID           int64           `json:"chat_id"`
	Username         string          `json:"username"`
	Selected         bool            `json:"selected"`
	Source           string          `json:"source,omitempty"` // "", SourcePool or a panel name
	Times            []string        `json:"times"`            // "HH:MM" civil times
	Template         string          `json:"template"`
	Entities         []render.Entity `json:"entities,omitempty"`
	LastPostedAt     int64           `json:"last_posted_at"`
	TrafficGB        int             `json:"traffic_gb"`
	DeleteBeforePost bool            `json:"delete_before_post"`
	LastArtifact     string          `json:"last_artifact,omitempty"`
	Reaction         string          `json:"reaction,omitempty"`
	Mode             PostMode        `json:"mode"`
}

// DefaultOwner materializes a fresh account on first reference.
func DefaultOwner(id int64) *Owner {
	return &Owner{
		ID:             id,
		SubscribedPlan: plan.Free,
		ActivePlan:     plan.Free,
		Panels:         map[string]Panel{},
	}
}

// ResetFeatureSettings reverts every channel to the defaults of the free
// tier. Called on plan expiry so feature-gated settings never outlive the
// plan that allowed them.
func ResetFeatureSettings(o *Owner) {
	for i := range o.Channels {
		ch := &o.Channels[i]
		ch.Selected = false
		ch.Source = ""
		ch.Times = []string{"10:00"}
		ch.LastPostedAt = 0
		ch.Template = render.Placeholder
		ch.Entities = []render.Entity{{Type: "pre", Offset: 0, Length: len(ch.Template)}}
		ch.Reaction = ""
		ch.TrafficGB = 0
		ch.DeleteBeforePost = false
		ch.LastArtifact = ""
		ch.Mode = ModeFile
	}
}

// RemoveChannel deletes the channel with chatID from the owner's list.
// Returns false when it was not present (vanished between enumeration and
// mutation; treated as a no-op by callers).
func RemoveChannel(o *Owner, chatID int64) bool {
	for i := range o.Channels {
		if o.Channels[i].ChatID == chatID {
			o.Channels = append(o.Channels[:i], o.Channels[i+1:]...)
			return true
		}
	}
	return false
}
