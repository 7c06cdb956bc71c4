package types

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewOddsBounds(t *testing.T) {
	t.Parallel()
	cases := []struct {
		value float64
		ok    bool
	}{
		{1.01, true},
		{2.05, true},
		{1000, true},
		{1.009, false},
		{1000.01, false},
		{0.99, false},
		{-1, false},
	}
	for _, tc := range cases {
		_, err := NewOdds(tc.value)
		if (err == nil) != tc.ok {
			t.Errorf("NewOdds(%v): err = %v, want ok=%v", tc.value, err, tc.ok)
		}
	}
}

func TestOddsImpliedProb(t *testing.T) {
	t.Parallel()
	o, err := NewOdds(2.0)
	if err != nil {
		t.Fatal(err)
	}
	if got := o.ImpliedProb(); got != 0.5 {
		t.Errorf("ImpliedProb() = %v, want 0.5", got)
	}
}

func TestNewProfitBounds(t *testing.T) {
	t.Parallel()
	if _, err := NewProfit(-100.1); err == nil {
		t.Error("NewProfit(-100.1) should fail")
	}
	if _, err := NewProfit(100.1); err == nil {
		t.Error("NewProfit(100.1) should fail")
	}
	p, err := NewProfit(2.38)
	if err != nil {
		t.Fatal(err)
	}
	if !p.InRange(-1, 25) {
		t.Error("2.38 should be in [-1, 25]")
	}
}

func TestConstructionErrorField(t *testing.T) {
	t.Parallel()
	_, err := NewOdds(0.5)
	var ce *ConstructionError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T, want *ConstructionError", err)
	}
	if ce.Field != "odds" {
		t.Errorf("Field = %q, want %q", ce.Field, "odds")
	}
}

func TestParseMarketKind(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want MarketKind
	}{
		{"over", KindOver},
		{"OVER", KindOver},
		{" under ", KindUnder},
		{"_1x", Kind1X},
		{"1x", Kind1X},
		{"e_under", KindEUnder},
		{"win1retx", KindWin1RetX},
		{"draw", KindDraw},
		{"corner_race_17", KindUnknown},
		{"__unknown__", KindUnknown},
	}
	for _, tc := range cases {
		if got := ParseMarketKind(tc.in); got != tc.want {
			t.Errorf("ParseMarketKind(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestOppositeRelationSymmetric(t *testing.T) {
	t.Parallel()
	for kind, opps := range oppositeKinds {
		for _, opp := range opps {
			if !opp.IsOppositeOf(kind) {
				t.Errorf("%s lists %s as opposite, but not vice versa", kind, opp)
			}
		}
	}
}

func TestDoubleChanceOpposites(t *testing.T) {
	t.Parallel()
	opps := Kind1X.Opposites()
	if len(opps) != 2 {
		t.Fatalf("1x opposites = %v, want 2 entries", opps)
	}
	if !Kind1X.IsOppositeOf(KindX2) || !Kind1X.IsOppositeOf(Kind12) {
		t.Error("1x should oppose both x2 and 12")
	}
}

func TestDrawHasNoOpposites(t *testing.T) {
	t.Parallel()
	if opps := KindDraw.Opposites(); opps != nil {
		t.Errorf("draw opposites = %v, want nil", opps)
	}
}

func testPick(t *testing.T, team1, team2 string, kind MarketKind, bookmaker string) Pick {
	t.Helper()
	odds, err := NewOdds(2.10)
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewPick(
		[2]string{team1, team2},
		"Test League", "football",
		time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC),
		Market{Kind: kind, Condition: "2.5", Variety: "v1"},
		odds, bookmaker, "",
	)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDedupKeyNormalization(t *testing.T) {
	t.Parallel()
	a := testPick(t, "Team A", "Team B", KindOver, "retabet_apuestas")
	b := testPick(t, "  team b ", "TEAM  A", KindOver, "retabet_apuestas")
	if a.DedupKey() != b.DedupKey() {
		t.Errorf("keys differ:\n%s\n%s", a.DedupKey(), b.DedupKey())
	}
	if !strings.Contains(a.DedupKey(), "retabet_apuestas") {
		t.Errorf("key %q should contain bookmaker id", a.DedupKey())
	}
}

func TestDedupKeyDistinguishesBookmaker(t *testing.T) {
	t.Parallel()
	a := testPick(t, "Team A", "Team B", KindOver, "retabet_apuestas")
	b := testPick(t, "Team A", "Team B", KindOver, "yaasscasino")
	if a.DedupKey() == b.DedupKey() {
		t.Error("different bookmakers should yield different keys")
	}
}

func TestOppositeKeys(t *testing.T) {
	t.Parallel()
	over := testPick(t, "Team A", "Team B", KindOver, "retabet_apuestas")
	under := testPick(t, "Team A", "Team B", KindUnder, "retabet_apuestas")

	keys := over.OppositeKeys()
	if len(keys) != 1 {
		t.Fatalf("opposite keys = %v, want 1 entry", keys)
	}
	if keys[0] != under.DedupKey() {
		t.Errorf("over's opposite key %q != under's dedup key %q", keys[0], under.DedupKey())
	}
}

func TestNewPickRequiresTeams(t *testing.T) {
	t.Parallel()
	odds, _ := NewOdds(2.0)
	_, err := NewPick([2]string{"", "B"}, "", "", time.Now(), Market{}, odds, "bk", "")
	if err == nil {
		t.Error("empty team name should fail construction")
	}
}

func TestNewSurebetRejectsSameBookmaker(t *testing.T) {
	t.Parallel()
	p1 := testPick(t, "A", "B", KindOver, "pinnaclesports")
	p2 := testPick(t, "A", "B", KindUnder, "pinnaclesports")
	profit, _ := NewProfit(2.0)
	if _, err := NewSurebet(p1, p2, profit, 1, "created_at", time.Now()); err == nil {
		t.Error("prongs at the same bookmaker should be rejected")
	}
}

func TestNewSurebetRejectsEventTimeMismatch(t *testing.T) {
	t.Parallel()
	sharp := testPick(t, "A", "B", KindOver, "pinnaclesports")
	soft := testPick(t, "A", "B", KindUnder, "retabet_apuestas")
	soft.EventTime = soft.EventTime.Add(5 * time.Minute)
	profit, _ := NewProfit(2.0)
	if _, err := NewSurebet(sharp, soft, profit, 1, "created_at", time.Now()); err == nil {
		t.Error("prong event times 5m apart should be rejected")
	}
}

func TestSurebetCursor(t *testing.T) {
	t.Parallel()
	sharp := testPick(t, "A", "B", KindOver, "pinnaclesports")
	soft := testPick(t, "A", "B", KindUnder, "retabet_apuestas")
	profit, _ := NewProfit(2.0)
	sb, err := NewSurebet(sharp, soft, profit, 785141488, "created_at", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got := sb.Cursor(); got != "created_at:785141488" {
		t.Errorf("Cursor() = %q, want %q", got, "created_at:785141488")
	}
}

func TestBookmakerDisplayName(t *testing.T) {
	t.Parallel()
	b := Bookmaker{Name: "retabet_apuestas", Role: RoleSoft, ChannelID: -100}
	if got := b.DisplayName(); got != "Retabet Apuestas" {
		t.Errorf("DisplayName() = %q, want %q", got, "Retabet Apuestas")
	}
}
