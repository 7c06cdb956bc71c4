// Package pipeline is the central orchestrator of the pick delivery bot.
//
// It wires together all subsystems:
//
//  1. Poller fetches surebet batches from the upstream feed.
//  2. Each surebet runs the validation chain, then the calculators derive
//     the stake tier and minimum odds.
//  3. Builder renders the Telegram HTML body.
//  4. Dispatcher queues the message by profit and delivers it through the
//     bot pool to the soft bookmaker's channel.
//  5. Only after a successful enqueue are the dedup keys committed, so a
//     crash between the two can at worst re-send nothing, never suppress
//     an unsent pick.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"retador/internal/calc"
	"retador/internal/config"
	"retador/internal/dedup"
	"retador/internal/dispatch"
	"retador/internal/feed"
	"retador/internal/message"
	"retador/internal/telegram"
	"retador/internal/validate"
	"retador/pkg/types"
)

const statsInterval = 10 * time.Second

// dedupRecorder commits delivered keys to the duplicate store.
type dedupRecorder interface {
	Record(ctx context.Context, keys []string, ttl time.Duration) error
}

// Pipeline owns every stage and the goroutines that connect them.
type Pipeline struct {
	cfg        *config.Config
	rdb        *redis.Client
	store      dedupRecorder
	poller     *feed.Poller
	chain      *validate.Chain
	registry   *calc.Registry
	builder    *message.Builder
	dispatcher *dispatch.Dispatcher
	sem        *semaphore.Weighted
	logger     *slog.Logger

	received atomic.Int64 // surebets entering the stage
	enqueued atomic.Int64
	fullDrop atomic.Int64 // refused by dispatcher admission

	rejectMu sync.Mutex
	rejects  map[string]int64 // drop reason bucket → count

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all pipeline components. It verifies the Redis
// connection up front so a misconfigured store fails startup, not the
// first pick.
func New(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer pingCancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	store := dedup.NewStore(rdb, cfg.Pipeline.LocalCacheSize, logger)
	parser := feed.NewParser(cfg.Bookmakers.Sharp, logger)
	poller := feed.NewPoller(feed.Config{
		BaseURL:      cfg.Feed.APIBase,
		Token:        cfg.Feed.APIToken,
		Bookmakers:   cfg.Bookmakers.API,
		Sports:       cfg.Feed.Sports,
		MinProfit:    cfg.Validation.MinProfit,
		MaxProfit:    cfg.Validation.MaxProfit,
		MinOdds:      cfg.Validation.MinOdds,
		MaxOdds:      cfg.Validation.MaxOdds,
		Limit:        cfg.Feed.Limit,
		BaseInterval: cfg.Feed.BaseInterval,
		MaxInterval:  cfg.Feed.MaxInterval,
	}, parser, store, logger)

	chain := validate.Default(
		cfg.Validation.MinOdds, cfg.Validation.MaxOdds,
		cfg.Validation.MinProfit, cfg.Validation.MaxProfit,
		cfg.SharpSet(), cfg.TargetSet(),
		store,
	)

	registry := calc.NewRegistry(calc.Pinnacle{})
	registry.Register("bet365", calc.Bet365{})

	builder, err := message.NewBuilder(cfg.Pipeline.MessageCacheSize, logger)
	if err != nil {
		return nil, err
	}

	bots := make([]dispatch.Sender, len(cfg.Telegram.Tokens))
	for i, token := range cfg.Telegram.Tokens {
		bots[i] = telegram.NewBot(cfg.Telegram.APIBase, token, fmt.Sprintf("bot-%d", i), logger)
	}
	dispatcher := dispatch.New(bots, cfg.Pipeline.QueueCapacity, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Pipeline{
		cfg:        cfg,
		rdb:        rdb,
		store:      store,
		poller:     poller,
		chain:      chain,
		registry:   registry,
		builder:    builder,
		dispatcher: dispatcher,
		sem:        semaphore.NewWeighted(int64(cfg.Pipeline.MaxConcurrent)),
		logger:     logger.With("component", "pipeline"),
		rejects:    make(map[string]int64),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches the poller, the dispatcher, the batch consumer and the
// stats reporter.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.poller.Run(p.ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.dispatcher.Run(p.ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.consumeBatches()
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats()
	}()
}

// Stop cancels everything and waits. The dispatcher drains within its
// grace before Run returns.
func (p *Pipeline) Stop() {
	p.logger.Info("shutting down...")
	p.cancel()
	p.wg.Wait()
	if err := p.rdb.Close(); err != nil {
		p.logger.Error("redis close failed", "error", err)
	}
	p.logger.Info("shutdown complete")
}

// consumeBatches fans each batch's surebets out to bounded workers. The
// semaphore keeps a huge page from spawning an unbounded goroutine herd.
func (p *Pipeline) consumeBatches() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case batch := <-p.poller.Batches():
			for _, sb := range batch.Surebets {
				if err := p.sem.Acquire(p.ctx, 1); err != nil {
					return
				}
				p.received.Add(1)
				p.wg.Add(1)
				go func(sb types.Surebet, batchID string) {
					defer p.wg.Done()
					defer p.sem.Release(1)
					p.handle(p.ctx, sb, batchID)
				}(sb, batch.ID)
			}
		}
	}
}

// handle runs one surebet through validation, calculation, rendering and
// enqueue. Every exit path is counted.
func (p *Pipeline) handle(ctx context.Context, sb types.Surebet, batchID string) {
	if res := p.chain.Run(ctx, &sb); !res.OK {
		p.countReject(res.Reason)
		p.logger.Debug("surebet rejected", "batch", batchID, "surebet", sb.String(), "reason", res.Reason)
		return
	}

	calculator := p.registry.For(sb.SharpProng.Bookmaker)
	tier, err := calculator.StakeTier(sb.Profit)
	if err != nil {
		p.countReject("stake")
		p.logger.Debug("no stake tier", "batch", batchID, "surebet", sb.String(), "reason", err)
		return
	}
	minOdds, err := calculator.MinOdds(sb.SharpOdds())
	if err != nil {
		p.countReject("min-odds")
		p.logger.Debug("no minimum odds", "batch", batchID, "surebet", sb.String(), "reason", err)
		return
	}
	if sb.SoftOdds().Value() < minOdds.Raw {
		p.countReject("below-min-odds")
		p.logger.Debug("soft odds below minimum",
			"batch", batchID, "soft", sb.SoftOdds(), "min", minOdds.Display)
		return
	}

	text := p.builder.Render(sb.SoftProng, tier, minOdds)
	msg := dispatch.Message{
		ChatID:     p.cfg.Bookmakers.Channels[sb.SoftProng.Bookmaker],
		Text:       text,
		Profit:     sb.Profit.Value(),
		EnqueuedAt: time.Now(),
	}
	if !p.dispatcher.Enqueue(msg) {
		p.fullDrop.Add(1)
		p.logger.Debug("queue full, pick refused", "batch", batchID, "profit", sb.Profit)
		return
	}
	p.enqueued.Add(1)

	// Commit only after the message is queued: an uncommitted duplicate
	// re-sends at worst, a pre-committed failure would silence the pick.
	keys := append([]string{sb.SoftProng.DedupKey()}, sb.SoftProng.OppositeKeys()...)
	ttl := dedup.TTLUntil(sb.SoftProng.EventTime, time.Now())
	if err := p.store.Record(ctx, keys, ttl); err != nil {
		p.logger.Warn("dedup commit failed", "batch", batchID, "error", err)
	}
}

// countReject buckets a drop reason by its first segment ("odds: ..." →
// "odds") so the stats line stays bounded.
func (p *Pipeline) countReject(reason string) {
	bucket, _, _ := strings.Cut(reason, ":")
	p.rejectMu.Lock()
	p.rejects[bucket]++
	p.rejectMu.Unlock()
}

func (p *Pipeline) rejectSnapshot() map[string]int64 {
	p.rejectMu.Lock()
	defer p.rejectMu.Unlock()
	out := make(map[string]int64, len(p.rejects))
	for k, v := range p.rejects {
		out[k] = v
	}
	return out
}

// reportStats logs the running counters every statsInterval.
func (p *Pipeline) reportStats() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			d := p.dispatcher.Snapshot()
			p.logger.Info("pipeline stats",
				"received", p.received.Load(),
				"enqueued", p.enqueued.Load(),
				"sent", d.Sent,
				"queue_len", p.dispatcher.Len(),
				"queue_refused", p.fullDrop.Load()+d.RejectedFull,
				"dropped_retry", d.DroppedRetry,
				"dropped_rejected", d.DroppedReject,
				"rejects", p.rejectSnapshot(),
			)
		}
	}
}
