// Package plan is the static plan→capability matrix. Gating logic reads this
// table instead of branching on plan names.
package plan

// Unlimited marks a plan without a channel cap.
const Unlimited = -1

// Plan lists the capabilities of one subscription tier.
type Plan struct {
	MaxChannels  int
	EditTime     bool
	EditPost     bool
	NoWatermark  bool
	EditReaction bool
	NoAds        bool
	PoolAccess   bool // may post through the shared pooled provisioning source
}

const (
	Free    = "free"
	Starter = "starter"
	Pro     = "pro"
	Premium = "premium"
)

var matrix = map[string]Plan{
	Free:    {MaxChannels: 1},
	Starter: {MaxChannels: 3, EditTime: true},
	Pro:     {MaxChannels: 10, EditTime: true, EditPost: true, NoWatermark: true, EditReaction: true, NoAds: true},
	Premium: {MaxChannels: Unlimited, EditTime: true, EditPost: true, NoWatermark: true, EditReaction: true, NoAds: true, PoolAccess: true},
}

var rank = map[string]int{Free: 0, Starter: 1, Pro: 2, Premium: 3}

// Costs is the star price per tier; consumed by the billing collaborators.
var Costs = map[string]int{Starter: 100, Pro: 300, Premium: 500}

// Lookup resolves a plan name. Unknown names fall back to the free tier so a
// corrupted owner record degrades instead of failing.
func Lookup(name string) Plan {
	if p, ok := matrix[name]; ok {
		return p
	}
	return matrix[Free]
}

// Rank orders tiers for upgrade/downgrade decisions. Unknown names rank lowest.
func Rank(name string) int { return rank[name] }
