// Package validate decides whether a parsed surebet is worth publishing.
//
// Checks are composed into an ordered chain that stops at the first
// failure. The cheap arithmetic checks run first so that the single
// store round trip (duplicate and opposite-market lookup) only happens
// for surebets that survive everything else.
package validate

import (
	"context"
	"fmt"
	"time"

	"retador/pkg/types"
)

// Result is the outcome of one check or of the whole chain. Reason is
// empty on success and a short log-friendly phrase on rejection.
type Result struct {
	OK     bool
	Reason string
}

// Pass is the successful result.
func Pass() Result { return Result{OK: true} }

// Fail builds a rejection with the given reason.
func Fail(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// Link is a single validation rule.
type Link interface {
	Name() string
	Check(ctx context.Context, sb *types.Surebet) Result
}

// Chain runs links in insertion order and fails fast.
type Chain struct {
	links []Link
}

// NewChain creates an empty chain.
func NewChain() *Chain { return &Chain{} }

// Add appends a link. Returns the chain for fluent construction.
func (c *Chain) Add(l Link) *Chain {
	c.links = append(c.links, l)
	return c
}

// Run checks the surebet against every link. On rejection the reason is
// prefixed with the failing link's name so drop counters can be bucketed.
func (c *Chain) Run(ctx context.Context, sb *types.Surebet) Result {
	for _, l := range c.links {
		if res := l.Check(ctx, sb); !res.OK {
			return Fail("%s: %s", l.Name(), res.Reason)
		}
	}
	return Pass()
}

// ─── Links ───────────────────────────────────────────────────────────────────

// OddsRange rejects surebets whose soft odds fall outside the playable
// window. Only the soft side is bounded: subscribers bet that prong, while
// the sharp prong is just the price reference and may legitimately sit at
// long odds.
type OddsRange struct {
	Min, Max float64
}

func (OddsRange) Name() string { return "odds" }

func (l OddsRange) Check(_ context.Context, sb *types.Surebet) Result {
	if o := sb.SoftOdds(); !o.InRange(l.Min, l.Max) {
		return Fail("soft odds %s outside [%.2f, %.2f]", o, l.Min, l.Max)
	}
	return Pass()
}

// ProfitRange rejects surebets outside the publishable profit window.
type ProfitRange struct {
	Min, Max float64
}

func (ProfitRange) Name() string { return "profit" }

func (l ProfitRange) Check(_ context.Context, sb *types.Surebet) Result {
	if !sb.Profit.InRange(l.Min, l.Max) {
		return Fail("profit %s outside [%.1f%%, %.1f%%]", sb.Profit, l.Min, l.Max)
	}
	return Pass()
}

// FutureEvent rejects events that have already started. Now is
// overridable for tests; nil means time.Now.
type FutureEvent struct {
	Now func() time.Time
}

func (FutureEvent) Name() string { return "event-time" }

func (l FutureEvent) Check(_ context.Context, sb *types.Surebet) Result {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	if !sb.SoftProng.EventTime.After(now()) {
		return Fail("event %s not in the future", sb.SoftProng.EventTime.Format(time.RFC3339))
	}
	return Pass()
}

// Roles verifies the prongs land on the configured bookmaker sets: the
// sharp prong on a sharp book, the soft prong on a delivery target.
// Parsing should guarantee this; the link catches configuration drift.
type Roles struct {
	Sharp   map[string]bool
	Targets map[string]bool
}

func (Roles) Name() string { return "roles" }

func (l Roles) Check(_ context.Context, sb *types.Surebet) Result {
	if !l.Sharp[sb.SharpProng.Bookmaker] {
		return Fail("sharp prong held by non-sharp bookmaker %q", sb.SharpProng.Bookmaker)
	}
	if !l.Targets[sb.SoftProng.Bookmaker] {
		return Fail("soft prong %q is not a delivery target", sb.SoftProng.Bookmaker)
	}
	return Pass()
}

// SeenChecker is the slice of the duplicate store this package needs.
type SeenChecker interface {
	Seen(ctx context.Context, keys []string) (bool, error)
}

// Unseen rejects surebets whose soft pick, or any opposite market of it,
// has already been published. Both lookups go to the store as one batched
// membership query. A store failure rejects the surebet: publishing a
// possible duplicate is worse than missing one pick.
type Unseen struct {
	Store SeenChecker
}

func (Unseen) Name() string { return "duplicate" }

func (l Unseen) Check(ctx context.Context, sb *types.Surebet) Result {
	keys := append([]string{sb.SoftProng.DedupKey()}, sb.SoftProng.OppositeKeys()...)
	seen, err := l.Store.Seen(ctx, keys)
	if err != nil {
		return Fail("store unavailable: %v", err)
	}
	if seen {
		return Fail("already published (direct or opposite market)")
	}
	return Pass()
}

// Default assembles the standard chain in its mandated order.
func Default(minOdds, maxOdds, minProfit, maxProfit float64, sharp, targets map[string]bool, store SeenChecker) *Chain {
	return NewChain().
		Add(OddsRange{Min: minOdds, Max: maxOdds}).
		Add(ProfitRange{Min: minProfit, Max: maxProfit}).
		Add(FutureEvent{}).
		Add(Roles{Sharp: sharp, Targets: targets}).
		Add(Unseen{Store: store})
}
