// Package feed polls the upstream surebet API and turns its records into
// domain surebets.
//
// The poller runs a single loop: wait for a rate-limit token, fetch one
// page with cursor pagination, parse it, and hand the batch to the
// pipeline. The polling interval adapts to upstream pressure — every
// consecutive 429 doubles it up to a ceiling, every success walks it back
// down — while a token bucket enforces the hard 2 req/s contract
// independently of the interval.
package feed

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"retador/pkg/types"
)

const sortByCreatedAt = "created_at"

// maxBackoffLevel caps the exponential interval growth: at base 0.5s the
// interval tops out well past the 5s ceiling anyway, so deeper levels
// would only delay recovery.
const maxBackoffLevel = 4

// Config holds the feed connection and query settings.
type Config struct {
	BaseURL string
	Token   string

	Bookmakers []string // sharp + target feed ids, pipe-joined into `source`
	Sports     []string

	MinProfit float64
	MaxProfit float64
	MinOdds   float64
	MaxOdds   float64
	Limit     int

	BaseInterval time.Duration // quiet-state polling interval
	MaxInterval  time.Duration // interval ceiling under 429 pressure
}

// CursorStore checkpoints the pagination cursor across restarts.
type CursorStore interface {
	SaveCursor(ctx context.Context, cursor string) error
	LoadCursor(ctx context.Context) (string, error)
}

// Batch is one polling cycle's parsed output.
type Batch struct {
	ID        string // short correlation id carried through log lines
	Surebets  []types.Surebet
	Discarded int // records dropped by the parser
	FetchedAt time.Time
}

// Poller drives the fetch loop.
type Poller struct {
	client  *resty.Client
	cfg     Config
	parser  *Parser
	cursors CursorStore
	bucket  *TokenBucket
	logger  *slog.Logger
	batchCh chan Batch

	cursor       string
	backoffLevel int // consecutive-429 count, saturated
}

// NewPoller creates a poller. The pipeline reads parsed batches from
// Batches().
func NewPoller(cfg Config, parser *Parser, cursors CursorStore, logger *slog.Logger) *Poller {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.Token).
		SetTimeout(3 * time.Second).
		SetRetryCount(2). // 3 attempts total per cycle
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second)

	return &Poller{
		client:  client,
		cfg:     cfg,
		parser:  parser,
		cursors: cursors,
		bucket:  NewTokenBucket(2, 2), // feed contract: 2 req/s hard
		logger:  logger.With("component", "poller"),
		batchCh: make(chan Batch, 1),
	}
}

// Batches returns the channel the pipeline reads from.
func (p *Poller) Batches() <-chan Batch {
	return p.batchCh
}

// Run starts the polling loop. Blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	cursor, err := p.cursors.LoadCursor(ctx)
	if err != nil {
		p.logger.Warn("cursor restore failed, starting fresh", "error", err)
	} else if cursor != "" {
		p.cursor = cursor
		p.logger.Info("cursor restored", "cursor", cursor)
	}

	for {
		if err := p.bucket.Wait(ctx); err != nil {
			return
		}
		p.cycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.interval()):
		}
	}
}

// interval returns the current polling delay: base·2^level, capped.
func (p *Poller) interval() time.Duration {
	iv := p.cfg.BaseInterval << p.backoffLevel
	if iv > p.cfg.MaxInterval {
		return p.cfg.MaxInterval
	}
	return iv
}

func (p *Poller) onRateLimit() {
	if p.backoffLevel < maxBackoffLevel {
		p.backoffLevel++
	}
}

func (p *Poller) onSuccess() {
	if p.backoffLevel > 0 {
		p.backoffLevel--
	}
}

// cycle performs one fetch-parse-publish round.
func (p *Poller) cycle(ctx context.Context) {
	batchID := uuid.NewString()[:8]

	var body wireResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(p.queryParams()).
		SetResult(&body).
		Get("/request")
	if err != nil {
		p.logger.Error("fetch failed", "batch", batchID, "error", err)
		return
	}

	switch {
	case resp.StatusCode() == 429:
		p.onRateLimit()
		p.logger.Warn("feed rate limited",
			"batch", batchID,
			"retry_after", resp.Header().Get("Retry-After"),
			"backoff_level", p.backoffLevel,
		)
		return
	case resp.StatusCode() != 200:
		p.logger.Error("feed error", "batch", batchID, "status", resp.StatusCode())
		return
	}

	p.onSuccess()

	if len(body.Records) == 0 {
		return
	}

	batch := Batch{ID: batchID, FetchedAt: time.Now()}
	for _, rec := range body.Records {
		sb, err := p.parser.Parse(rec)
		if err != nil {
			batch.Discarded++
			p.logger.Debug("record discarded", "batch", batchID, "record", rec.ID, "reason", err)
			continue
		}
		batch.Surebets = append(batch.Surebets, sb)
	}

	p.advanceCursor(ctx, body.Records[len(body.Records)-1])

	p.logger.Info("batch fetched",
		"batch", batchID,
		"records", len(body.Records),
		"parsed", len(batch.Surebets),
		"discarded", batch.Discarded,
	)

	if len(batch.Surebets) == 0 {
		return
	}
	select {
	case p.batchCh <- batch:
	case <-ctx.Done():
	}
}

// advanceCursor moves the in-memory cursor to the last record of the page
// and checkpoints it. Checkpoint failures are non-fatal: polling continues
// on the in-memory cursor.
func (p *Poller) advanceCursor(ctx context.Context, last wireRecord) {
	sortBy := last.SortBy
	if sortBy == "" {
		sortBy = sortByCreatedAt
	}
	p.cursor = sortBy + ":" + strconv.FormatInt(last.ID, 10)
	if err := p.cursors.SaveCursor(ctx, p.cursor); err != nil {
		p.logger.Warn("cursor checkpoint failed", "cursor", p.cursor, "error", err)
	}
}

// queryParams assembles the exact feed query. The window values mirror the
// validation chain so upstream pre-filters what would be rejected anyway.
func (p *Poller) queryParams() map[string]string {
	params := map[string]string{
		"product":              "surebets",
		"outcomes":             "2",
		"order":                "created_at_desc",
		"min-profit":           strconv.FormatFloat(p.cfg.MinProfit, 'f', -1, 64),
		"max-profit":           strconv.FormatFloat(p.cfg.MaxProfit, 'f', -1, 64),
		"min-odds":             strconv.FormatFloat(p.cfg.MinOdds, 'f', 2, 64),
		"max-odds":             strconv.FormatFloat(p.cfg.MaxOdds, 'f', 2, 64),
		"hide-different-rules": "true",
		"startAge":             "PT10M",
		"limit":                strconv.Itoa(p.cfg.Limit),
		"oddsFormat":           "eu",
		"source":               strings.Join(p.cfg.Bookmakers, "|"),
		"sport":                strings.Join(p.cfg.Sports, "|"),
	}
	if p.cursor != "" {
		params["cursor"] = p.cursor
	}
	return params
}
