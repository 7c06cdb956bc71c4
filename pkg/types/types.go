// Package types defines the shared domain vocabulary used across all packages.
//
// It holds the validated value types (Odds, Profit, MarketKind), the entities
// (Pick, Surebet, Bookmaker), and the dedup-key derivations the pipeline is
// built around. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"fmt"
	"strings"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Construction errors
// ————————————————————————————————————————————————————————————————————————

// ConstructionError reports which contract a value-type constructor violated.
// The pipeline counts these by Field and drops the originating record.
type ConstructionError struct {
	Field  string // "odds", "profit", "market", "event_time", "teams", "roles"
	Reason string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func constructionErr(field, format string, args ...any) error {
	return &ConstructionError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ————————————————————————————————————————————————————————————————————————
// Value types
// ————————————————————————————————————————————————————————————————————————

// Odds bounds. The feed delivers decimal (EU) odds; anything outside this
// range is a malformed record, not a business decision.
const (
	MinOddsValue = 1.01
	MaxOddsValue = 1000.0
)

// Odds is a validated decimal (EU format) betting price. Immutable.
type Odds struct {
	value float64
}

// NewOdds validates v against [1.01, 1000].
func NewOdds(v float64) (Odds, error) {
	if v < MinOddsValue || v > MaxOddsValue {
		return Odds{}, constructionErr("odds", "%.4g outside [%.2f, %.0f]", v, MinOddsValue, MaxOddsValue)
	}
	return Odds{value: v}, nil
}

// Value returns the raw decimal odds.
func (o Odds) Value() float64 { return o.value }

// ImpliedProb returns 1/odds, the probability the price implies.
func (o Odds) ImpliedProb() float64 { return 1 / o.value }

// InRange reports whether the odds fall inside [min, max], inclusive.
func (o Odds) InRange(min, max float64) bool {
	return o.value >= min && o.value <= max
}

func (o Odds) String() string { return fmt.Sprintf("%.2f", o.value) }

// Profit bounds: mathematical validity only. Business limits (e.g. -1%..25%)
// are configuration, enforced by the validation chain.
const (
	MinProfitValue = -100.0
	MaxProfitValue = 100.0
)

// Profit is a validated surebet edge in percent. Immutable.
type Profit struct {
	value float64
}

// NewProfit validates p against [-100, +100] percent.
func NewProfit(p float64) (Profit, error) {
	if p < MinProfitValue || p > MaxProfitValue {
		return Profit{}, constructionErr("profit", "%.4g%% outside [%.0f%%, %.0f%%]", p, MinProfitValue, MaxProfitValue)
	}
	return Profit{value: p}, nil
}

// Value returns the profit in percent (2.5 means 2.5%).
func (p Profit) Value() float64 { return p.value }

// InRange reports whether the profit falls inside [min, max], inclusive.
func (p Profit) InRange(min, max float64) bool {
	return p.value >= min && p.value <= max
}

func (p Profit) String() string { return fmt.Sprintf("%.2f%%", p.value) }

// ————————————————————————————————————————————————————————————————————————
// Market kinds and the opposite relation
// ————————————————————————————————————————————————————————————————————————

// MarketKind enumerates the bet kinds the feed produces. Unrecognized kinds
// parse to KindUnknown rather than failing the record: new kinds show up in
// the feed before anyone updates this table, and an unknown kind simply has
// no opposites to check.
type MarketKind string

const (
	KindWin1            MarketKind = "win1"
	KindWin2            MarketKind = "win2"
	KindDraw            MarketKind = "draw"
	Kind1X              MarketKind = "1x"
	KindX2              MarketKind = "x2"
	Kind12              MarketKind = "12"
	KindOver            MarketKind = "over"
	KindUnder           MarketKind = "under"
	KindEOver           MarketKind = "eover"
	KindEUnder          MarketKind = "eunder"
	KindAH1             MarketKind = "ah1"
	KindAH2             MarketKind = "ah2"
	KindOdd             MarketKind = "odd"
	KindEven            MarketKind = "even"
	KindYes             MarketKind = "yes"
	KindNo              MarketKind = "no"
	KindWin1RetX        MarketKind = "win1retx" // draw no bet
	KindWin2RetX        MarketKind = "win2retx"
	KindWinOnly1        MarketKind = "winonly1"
	KindWinOnly2        MarketKind = "winonly2"
	KindWin1ToNil       MarketKind = "win1tonil"
	KindWin2ToNil       MarketKind = "win2tonil"
	KindCleanSheet1     MarketKind = "clean_sheet_1"
	KindCleanSheet2     MarketKind = "clean_sheet_2"
	KindWin1Qualify     MarketKind = "win1 qualify"
	KindWin2Qualify     MarketKind = "win2 qualify"
	KindBetweenMarginH1 MarketKind = "betweenmarginh1"
	KindBetweenMarginH2 MarketKind = "betweenmarginh2"
	KindUnknown         MarketKind = "__unknown__"
)

// oppositeKinds is the closed opposite-market relation. A pick on any kind
// here suppresses subsequent picks on its opposites for the same event and
// bookmaker (rebound protection). Symmetric pairs map 1:1; double chance
// maps each member to the other two.
var oppositeKinds = map[MarketKind][]MarketKind{
	KindWin1:            {KindWin2},
	KindWin2:            {KindWin1},
	Kind1X:              {KindX2, Kind12},
	KindX2:              {Kind1X, Kind12},
	Kind12:              {Kind1X, KindX2},
	KindOver:            {KindUnder},
	KindUnder:           {KindOver},
	KindEOver:           {KindEUnder},
	KindEUnder:          {KindEOver},
	KindAH1:             {KindAH2},
	KindAH2:             {KindAH1},
	KindOdd:             {KindEven},
	KindEven:            {KindOdd},
	KindYes:             {KindNo},
	KindNo:              {KindYes},
	KindWin1RetX:        {KindWin2RetX},
	KindWin2RetX:        {KindWin1RetX},
	KindWinOnly1:        {KindWinOnly2},
	KindWinOnly2:        {KindWinOnly1},
	KindWin1ToNil:       {KindWin2ToNil},
	KindWin2ToNil:       {KindWin1ToNil},
	KindCleanSheet1:     {KindCleanSheet2},
	KindCleanSheet2:     {KindCleanSheet1},
	KindWin1Qualify:     {KindWin2Qualify},
	KindWin2Qualify:     {KindWin1Qualify},
	KindBetweenMarginH1: {KindBetweenMarginH2},
	KindBetweenMarginH2: {KindBetweenMarginH1},
}

// ParseMarketKind maps a feed kind string to a MarketKind. Matching is
// case-insensitive and tolerant of the feed's leading-underscore spelling
// for double chance ("_1x" → Kind1X) and its "e_over"/"e_under" variants.
// Unknown strings map to KindUnknown.
func ParseMarketKind(s string) MarketKind {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.TrimPrefix(norm, "_")
	norm = strings.ReplaceAll(norm, "e_under", "eunder")
	norm = strings.ReplaceAll(norm, "e_over", "eover")
	k := MarketKind(norm)
	if k == KindUnknown {
		return KindUnknown
	}
	if _, ok := oppositeKinds[k]; ok {
		return k
	}
	if k == KindDraw { // valid kind with no opposite
		return k
	}
	return KindUnknown
}

// Opposites returns a copy of the opposite kinds for k, or nil if it has none.
func (k MarketKind) Opposites() []MarketKind {
	opps := oppositeKinds[k]
	if len(opps) == 0 {
		return nil
	}
	out := make([]MarketKind, len(opps))
	copy(out, opps)
	return out
}

// IsOppositeOf reports whether other is in k's opposite set.
func (k MarketKind) IsOppositeOf(other MarketKind) bool {
	for _, o := range oppositeKinds[k] {
		if o == other {
			return true
		}
	}
	return false
}

// Market is the full market descriptor attached to a pick: the kind plus the
// qualifiers the feed carries.
type Market struct {
	Kind      MarketKind
	Condition string // e.g. "2.5" for totals, "-1.5" for handicaps
	Period    string // e.g. "match", "1st half"
	Base      string // base side qualifier
	Game      string // game-phase qualifier (sets, maps, quarters)
	Variety   string // feed variety discriminator, part of the dedup key
	Negated   bool   // the feed's "no" flag
}

// ————————————————————————————————————————————————————————————————————————
// Bookmakers
// ————————————————————————————————————————————————————————————————————————

// BookmakerRole classifies a bookmaker as the odds reference (sharp) or the
// delivery target (soft).
type BookmakerRole string

const (
	RoleSharp BookmakerRole = "sharp"
	RoleSoft  BookmakerRole = "soft"
)

// Bookmaker is one betting house. Only soft bookmakers carry a ChannelID:
// picks for that house are delivered to that chat channel.
type Bookmaker struct {
	Name      string
	Role      BookmakerRole
	ChannelID int64 // 0 for sharps
}

// DisplayName converts the feed identifier into a human-readable label
// ("retabet_apuestas" → "Retabet Apuestas").
func (b Bookmaker) DisplayName() string {
	words := strings.Split(strings.ReplaceAll(b.Name, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// IsSharp reports whether this bookmaker is an odds reference.
func (b Bookmaker) IsSharp() bool { return b.Role == RoleSharp }

// ————————————————————————————————————————————————————————————————————————
// Pick
// ————————————————————————————————————————————————————————————————————————

// Pick is one concrete bet at one bookmaker on one event. Immutable after
// construction; all derivations (dedup key, opposite keys) are pure.
type Pick struct {
	Teams      [2]string // home, away
	Tournament string
	Sport      string
	EventTime  time.Time // UTC
	Market     Market
	Odds       Odds
	Bookmaker  string // feed identifier
	Link       string // bookmaker deep link, may be empty
}

// NewPick validates the fields a pick cannot function without. Event-time
// futurity is deliberately NOT checked here — it belongs to the validation
// chain, where "now" is the moment of validation, not construction.
func NewPick(teams [2]string, tournament, sport string, eventTime time.Time, market Market, odds Odds, bookmaker, link string) (Pick, error) {
	if strings.TrimSpace(teams[0]) == "" || strings.TrimSpace(teams[1]) == "" {
		return Pick{}, constructionErr("teams", "both team names are required")
	}
	if strings.TrimSpace(bookmaker) == "" {
		return Pick{}, constructionErr("bookmaker", "bookmaker id is required")
	}
	if eventTime.IsZero() {
		return Pick{}, constructionErr("event_time", "event time is required")
	}
	return Pick{
		Teams:      teams,
		Tournament: tournament,
		Sport:      sport,
		EventTime:  eventTime.UTC(),
		Market:     market,
		Odds:       odds,
		Bookmaker:  bookmaker,
		Link:       link,
	}, nil
}

// normalizeTeam canonicalizes a team name for dedup keys: trimmed, inner
// whitespace collapsed, case-folded, so cosmetic differences between feed
// records don't defeat deduplication.
func normalizeTeam(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// normalizedTeams returns the canonical team pair for keying. Lexicographic
// ordering makes the key independent of home/away listing order.
func (p Pick) normalizedTeams() (string, string) {
	a, b := normalizeTeam(p.Teams[0]), normalizeTeam(p.Teams[1])
	if a > b {
		a, b = b, a
	}
	return a, b
}

// DedupKey is the canonical short-term-memory key for this pick:
// teams, event time, market kind, variety and bookmaker.
func (p Pick) DedupKey() string {
	return p.keyForKind(p.Market.Kind)
}

// OppositeKeys returns the dedup keys of this pick's opposite markets at the
// same bookmaker — a hit on any of them means the position would rebound.
func (p Pick) OppositeKeys() []string {
	opps := p.Market.Kind.Opposites()
	if len(opps) == 0 {
		return nil
	}
	keys := make([]string, len(opps))
	for i, k := range opps {
		keys[i] = p.keyForKind(k)
	}
	return keys
}

func (p Pick) keyForKind(kind MarketKind) string {
	t1, t2 := p.normalizedTeams()
	return fmt.Sprintf("%s:%s:%d:%s:%s:%s", t1, t2, p.EventTime.Unix(), kind, p.Market.Variety, p.Bookmaker)
}

// ————————————————————————————————————————————————————————————————————————
// Surebet
// ————————————————————————————————————————————————————————————————————————

// Surebet pairs the sharp-side and soft-side picks of one arbitrage record.
// The sharp prong supplies the reference odds; the soft prong is what gets
// delivered. Role assignment happens at parse time; NewSurebet re-checks the
// structural invariants.
type Surebet struct {
	SharpProng Pick
	SoftProng  Pick
	Profit     Profit
	RecordID   int64  // feed-side record id
	SortBy     string // feed cursor field for this record
	Created    time.Time
}

// eventTimeTolerance bounds how far apart the two prongs' event times may be
// and still count as the same event (feeds round to the minute).
const eventTimeTolerance = time.Minute

// NewSurebet validates the cross-prong invariants: distinct bookmakers and
// matching event times within tolerance.
func NewSurebet(sharp, soft Pick, profit Profit, recordID int64, sortBy string, created time.Time) (Surebet, error) {
	if sharp.Bookmaker == soft.Bookmaker {
		return Surebet{}, constructionErr("roles", "both prongs at %q", sharp.Bookmaker)
	}
	diff := sharp.EventTime.Sub(soft.EventTime)
	if diff < 0 {
		diff = -diff
	}
	if diff > eventTimeTolerance {
		return Surebet{}, constructionErr("event_time", "prong event times differ by %s", diff)
	}
	return Surebet{
		SharpProng: sharp,
		SoftProng:  soft,
		Profit:     profit,
		RecordID:   recordID,
		SortBy:     sortBy,
		Created:    created,
	}, nil
}

// SharpOdds returns the reference odds.
func (s Surebet) SharpOdds() Odds { return s.SharpProng.Odds }

// SoftOdds returns the delivery-side odds.
func (s Surebet) SoftOdds() Odds { return s.SoftProng.Odds }

// Cursor returns this record's pagination token, "{sort_by}:{id}".
func (s Surebet) Cursor() string {
	return fmt.Sprintf("%s:%d", s.SortBy, s.RecordID)
}

func (s Surebet) String() string {
	return fmt.Sprintf("Surebet(%s vs %s, %s/%s, profit=%s)",
		s.SoftProng.Teams[0], s.SoftProng.Teams[1],
		s.SharpProng.Bookmaker, s.SoftProng.Bookmaker, s.Profit)
}
