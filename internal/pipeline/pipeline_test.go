package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"retador/internal/calc"
	"retador/internal/config"
	"retador/internal/dispatch"
	"retador/internal/message"
	"retador/internal/validate"
	"retador/pkg/types"
)

type fakeSeen struct {
	seen bool
	err  error
}

func (f *fakeSeen) Seen(context.Context, []string) (bool, error) { return f.seen, f.err }

type fakeCommitter struct {
	mu   sync.Mutex
	keys []string
	ttl  time.Duration
	err  error
}

func (f *fakeCommitter) Record(_ context.Context, keys []string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, keys...)
	f.ttl = ttl
	return f.err
}

type nopSender struct{}

func (nopSender) Name() string                                  { return "bot-0" }
func (nopSender) SendMessage(context.Context, int64, string) error { return nil }

// testPipeline wires a Pipeline with real validation, calculators, builder
// and dispatcher but a fake duplicate store. The dispatcher is never run,
// so Len() observes what handle enqueued.
func testPipeline(t *testing.T, seen *fakeSeen, commits *fakeCommitter, capacity int) *Pipeline {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	builder, err := message.NewBuilder(16, logger)
	if err != nil {
		t.Fatal(err)
	}

	registry := calc.NewRegistry(calc.Pinnacle{})
	registry.Register("bet365", calc.Bet365{})

	sharp := map[string]bool{"pinnaclesports": true}
	targets := map[string]bool{"retabet_apuestas": true}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return &Pipeline{
		cfg: &config.Config{
			Bookmakers: config.BookmakerConfig{
				Channels: map[string]int64{"retabet_apuestas": -100123},
			},
		},
		store:      commits,
		chain:      validate.Default(1.10, 9.99, -1, 25, sharp, targets, seen),
		registry:   registry,
		builder:    builder,
		dispatcher: dispatch.New([]dispatch.Sender{nopSender{}}, capacity, logger),
		logger:     logger,
		rejects:    make(map[string]int64),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func testSurebet(t *testing.T, sharpOdds, softOdds, profit float64) types.Surebet {
	t.Helper()
	eventTime := time.Now().Add(6 * time.Hour)

	so, err := types.NewOdds(sharpOdds)
	if err != nil {
		t.Fatal(err)
	}
	to, err := types.NewOdds(softOdds)
	if err != nil {
		t.Fatal(err)
	}
	pr, err := types.NewProfit(profit)
	if err != nil {
		t.Fatal(err)
	}

	teams := [2]string{"Alpha FC", "Beta FC"}
	sharp, err := types.NewPick(teams, "Primera Division", "Football", eventTime,
		types.Market{Kind: types.KindOver, Condition: "2.5", Variety: "2.5"}, so,
		"pinnaclesports", "")
	if err != nil {
		t.Fatal(err)
	}
	soft, err := types.NewPick(teams, "Primera Division", "Football", eventTime,
		types.Market{Kind: types.KindUnder, Condition: "2.5", Variety: "2.5"}, to,
		"retabet_apuestas", "https://retabet.example/bet/1")
	if err != nil {
		t.Fatal(err)
	}

	sb, err := types.NewSurebet(sharp, soft, pr, 785141488, "created_at", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return sb
}

func TestHandleDeliversValidSurebet(t *testing.T) {
	t.Parallel()
	commits := &fakeCommitter{}
	p := testPipeline(t, &fakeSeen{}, commits, 10)

	sb := testSurebet(t, 2.10, 2.05, 2.38)
	p.handle(context.Background(), sb, "test")

	if got := p.dispatcher.Len(); got != 1 {
		t.Fatalf("queue len = %d, want 1", got)
	}
	if p.enqueued.Load() != 1 {
		t.Errorf("enqueued = %d, want 1", p.enqueued.Load())
	}

	wantKey := sb.SoftProng.DedupKey()
	found := false
	for _, k := range commits.keys {
		if k == wantKey {
			found = true
		}
	}
	if !found {
		t.Errorf("committed keys %v missing %q", commits.keys, wantKey)
	}
	if len(commits.keys) != 1+len(sb.SoftProng.OppositeKeys()) {
		t.Errorf("committed %d keys, want direct + opposites", len(commits.keys))
	}
	if commits.ttl < time.Second {
		t.Errorf("ttl = %s, want at least 1s", commits.ttl)
	}
}

func TestHandleRejectsSeenSurebet(t *testing.T) {
	t.Parallel()
	commits := &fakeCommitter{}
	p := testPipeline(t, &fakeSeen{seen: true}, commits, 10)

	p.handle(context.Background(), testSurebet(t, 2.10, 2.05, 2.38), "test")

	if got := p.dispatcher.Len(); got != 0 {
		t.Fatalf("queue len = %d, want 0", got)
	}
	if len(commits.keys) != 0 {
		t.Errorf("rejected surebet must not commit keys, got %v", commits.keys)
	}
	if p.rejectSnapshot()["duplicate"] != 1 {
		t.Errorf("rejects = %v, want duplicate:1", p.rejectSnapshot())
	}
}

func TestHandleRejectsSoftBelowMinimumOdds(t *testing.T) {
	t.Parallel()
	p := testPipeline(t, &fakeSeen{}, &fakeCommitter{}, 10)

	// Sharp 2.10 puts the floor near 1.87; soft 1.50 sits below it.
	p.handle(context.Background(), testSurebet(t, 2.10, 1.50, 2.38), "test")

	if got := p.dispatcher.Len(); got != 0 {
		t.Fatalf("queue len = %d, want 0", got)
	}
	if p.rejectSnapshot()["below-min-odds"] != 1 {
		t.Errorf("rejects = %v, want below-min-odds:1", p.rejectSnapshot())
	}
}

func TestHandleDedupFailureDoesNotUndoDelivery(t *testing.T) {
	t.Parallel()
	commits := &fakeCommitter{err: context.DeadlineExceeded}
	p := testPipeline(t, &fakeSeen{}, commits, 10)

	p.handle(context.Background(), testSurebet(t, 2.10, 2.05, 2.38), "test")

	if got := p.dispatcher.Len(); got != 1 {
		t.Fatalf("queue len = %d, want the message kept despite commit failure", got)
	}
	if p.enqueued.Load() != 1 {
		t.Errorf("enqueued = %d, want 1", p.enqueued.Load())
	}
}

func TestHandleCountsQueueRefusals(t *testing.T) {
	t.Parallel()
	p := testPipeline(t, &fakeSeen{}, &fakeCommitter{}, 1)

	p.handle(context.Background(), testSurebet(t, 2.10, 2.05, 5.0), "test")
	p.handle(context.Background(), testSurebet(t, 2.30, 2.25, 2.0), "test")

	if got := p.dispatcher.Len(); got != 1 {
		t.Fatalf("queue len = %d, want 1", got)
	}
	if p.fullDrop.Load() != 1 {
		t.Errorf("queue refusals = %d, want 1", p.fullDrop.Load())
	}
}

func TestCountRejectBucketsByPrefix(t *testing.T) {
	t.Parallel()
	p := testPipeline(t, &fakeSeen{}, &fakeCommitter{}, 10)

	p.countReject("odds: sharp 10.5 outside window")
	p.countReject("odds: soft 1.05 outside window")
	p.countReject("roles: no target prong")

	snap := p.rejectSnapshot()
	if snap["odds"] != 2 || snap["roles"] != 1 {
		t.Errorf("rejects = %v, want odds:2 roles:1", snap)
	}
	for bucket := range snap {
		if strings.Contains(bucket, ":") {
			t.Errorf("bucket %q not trimmed at first colon", bucket)
		}
	}
}
