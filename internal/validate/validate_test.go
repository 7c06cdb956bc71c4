package validate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"retador/pkg/types"
)

func buildSurebet(t *testing.T, sharpOdds, softOdds, profit float64, eventTime time.Time) *types.Surebet {
	t.Helper()
	so, err := types.NewOdds(sharpOdds)
	if err != nil {
		t.Fatal(err)
	}
	fo, err := types.NewOdds(softOdds)
	if err != nil {
		t.Fatal(err)
	}
	sharp, err := types.NewPick([2]string{"Alpha", "Beta"}, "League", "football",
		eventTime, types.Market{Kind: types.KindOver, Condition: "2.5", Variety: "v1"},
		so, "pinnaclesports", "")
	if err != nil {
		t.Fatal(err)
	}
	soft, err := types.NewPick([2]string{"Alpha", "Beta"}, "League", "football",
		eventTime, types.Market{Kind: types.KindUnder, Condition: "2.5", Variety: "v1"},
		fo, "retabet_apuestas", "https://example.test/bet")
	if err != nil {
		t.Fatal(err)
	}
	p, err := types.NewProfit(profit)
	if err != nil {
		t.Fatal(err)
	}
	sb, err := types.NewSurebet(sharp, soft, p, 1, "created_at", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return &sb
}

type stubStore struct {
	seen bool
	err  error
	keys []string
}

func (s *stubStore) Seen(_ context.Context, keys []string) (bool, error) {
	s.keys = keys
	return s.seen, s.err
}

func defaultChain(store SeenChecker) *Chain {
	return Default(1.10, 9.99, -1, 25,
		map[string]bool{"pinnaclesports": true},
		map[string]bool{"retabet_apuestas": true},
		store)
}

func TestChainPasses(t *testing.T) {
	t.Parallel()
	sb := buildSurebet(t, 2.0, 2.1, 2.5, time.Now().Add(2*time.Hour))
	res := defaultChain(&stubStore{}).Run(context.Background(), sb)
	if !res.OK {
		t.Fatalf("chain rejected a good surebet: %s", res.Reason)
	}
}

func TestOddsRangeRejects(t *testing.T) {
	t.Parallel()
	sb := buildSurebet(t, 2.0, 11.0, 2.5, time.Now().Add(2*time.Hour))
	res := defaultChain(&stubStore{}).Run(context.Background(), sb)
	if res.OK || !strings.HasPrefix(res.Reason, "odds:") {
		t.Fatalf("result = %+v, want odds rejection", res)
	}
}

func TestOddsRangeIgnoresSharpProng(t *testing.T) {
	t.Parallel()
	// The soft side is what subscribers play; a long-odds sharp reference
	// (12.0) with a playable soft price (1.12) must pass.
	sb := buildSurebet(t, 12.0, 1.12, 2.5, time.Now().Add(2*time.Hour))
	res := defaultChain(&stubStore{}).Run(context.Background(), sb)
	if !res.OK {
		t.Fatalf("long-odds sharp prong rejected a playable pick: %s", res.Reason)
	}
}

func TestProfitRangeRejects(t *testing.T) {
	t.Parallel()
	sb := buildSurebet(t, 2.0, 2.1, 30.0, time.Now().Add(2*time.Hour))
	res := defaultChain(&stubStore{}).Run(context.Background(), sb)
	if res.OK || !strings.HasPrefix(res.Reason, "profit:") {
		t.Fatalf("result = %+v, want profit rejection", res)
	}
}

func TestFutureEventRejectsStarted(t *testing.T) {
	t.Parallel()
	now := time.Now()
	sb := buildSurebet(t, 2.0, 2.1, 2.5, now)
	link := FutureEvent{Now: func() time.Time { return now }}
	if res := link.Check(context.Background(), sb); res.OK {
		t.Error("event at exactly now should be rejected (strictly future)")
	}
	link = FutureEvent{Now: func() time.Time { return now.Add(-time.Second) }}
	if res := link.Check(context.Background(), sb); !res.OK {
		t.Errorf("future event rejected: %s", res.Reason)
	}
}

func TestRolesRejectsDrift(t *testing.T) {
	t.Parallel()
	sb := buildSurebet(t, 2.0, 2.1, 2.5, time.Now().Add(time.Hour))
	link := Roles{
		Sharp:   map[string]bool{"someoneelse": true},
		Targets: map[string]bool{"retabet_apuestas": true},
	}
	if res := link.Check(context.Background(), sb); res.OK {
		t.Error("sharp prong on unconfigured book should be rejected")
	}
}

func TestUnseenBatchesDirectAndOppositeKeys(t *testing.T) {
	t.Parallel()
	sb := buildSurebet(t, 2.0, 2.1, 2.5, time.Now().Add(time.Hour))
	store := &stubStore{}
	if res := (Unseen{Store: store}).Check(context.Background(), sb); !res.OK {
		t.Fatalf("unexpected rejection: %s", res.Reason)
	}
	// Soft pick is "under": one direct key plus one opposite ("over"),
	// delivered in a single query.
	if len(store.keys) != 2 {
		t.Fatalf("queried keys = %v, want direct + opposite in one batch", store.keys)
	}
}

func TestUnseenRejectsDuplicates(t *testing.T) {
	t.Parallel()
	sb := buildSurebet(t, 2.0, 2.1, 2.5, time.Now().Add(time.Hour))
	res := (Unseen{Store: &stubStore{seen: true}}).Check(context.Background(), sb)
	if res.OK {
		t.Error("seen key should reject")
	}
}

func TestUnseenRejectsOnStoreFailure(t *testing.T) {
	t.Parallel()
	sb := buildSurebet(t, 2.0, 2.1, 2.5, time.Now().Add(time.Hour))
	store := &stubStore{err: errors.New("redis down")}
	res := (Unseen{Store: store}).Check(context.Background(), sb)
	if res.OK {
		t.Error("store failure must reject, never pass")
	}
}

func TestChainStopsAtFirstFailure(t *testing.T) {
	t.Parallel()
	sb := buildSurebet(t, 2.0, 11.0, 2.5, time.Now().Add(time.Hour))
	store := &stubStore{}
	res := defaultChain(store).Run(context.Background(), sb)
	if res.OK {
		t.Fatal("expected rejection")
	}
	if store.keys != nil {
		t.Error("store should not be queried once an earlier link fails")
	}
}
