package feed

import (
	"fmt"
	"log/slog"
	"time"

	"retador/pkg/types"
)

// Wire shapes returned by the surebet feed.

type wireResponse struct {
	Records []wireRecord `json:"records"`
}

type wireRecord struct {
	ID      int64       `json:"id"`
	SortBy  string      `json:"sort_by"`
	Time    int64       `json:"time"`    // event start, unix ms
	Created int64       `json:"created"` // unix ms
	Profit  float64     `json:"profit"`
	Sport   string      `json:"sport"`
	Prongs  []wireProng `json:"prongs"`
}

type wireProng struct {
	Bookmaker  string    `json:"bk"`
	Value      float64   `json:"value"` // decimal odds
	Time       int64     `json:"time"`  // event start, unix ms; 0 = use record time
	Teams      []string  `json:"teams"`
	Tournament string    `json:"tournament"`
	Type       wireType  `json:"type"`
	EventNav   *wireNav  `json:"event_nav,omitempty"`
}

type wireType struct {
	Kind      string `json:"kind"`
	Condition string `json:"condition"`
	Period    string `json:"period"`
	Base      string `json:"base"`
	Game      string `json:"game"`
	Variety   string `json:"variety"`
	No        bool   `json:"no"`
}

type wireNav struct {
	Link string `json:"link"`
}

// Parser converts feed records into domain surebets, assigning the
// sharp/soft roles from the configured sharp bookmaker set.
//
// Parsing is lenient toward the batch and strict toward the record: a
// malformed record is discarded with a reason and never aborts its batch.
type Parser struct {
	sharp  map[string]bool
	logger *slog.Logger
}

// NewParser creates a parser recognizing the given sharp bookmaker ids.
func NewParser(sharpBookmakers []string, logger *slog.Logger) *Parser {
	sharp := make(map[string]bool, len(sharpBookmakers))
	for _, b := range sharpBookmakers {
		sharp[b] = true
	}
	return &Parser{sharp: sharp, logger: logger.With("component", "parser")}
}

// Parse converts one record. The returned error carries the discard reason.
func (p *Parser) Parse(rec wireRecord) (types.Surebet, error) {
	if len(rec.Prongs) != 2 {
		return types.Surebet{}, fmt.Errorf("expected 2 prongs, got %d", len(rec.Prongs))
	}

	// Role assignment: exactly one prong must sit at a sharp book.
	var sharpProng, softProng *wireProng
	switch {
	case p.sharp[rec.Prongs[0].Bookmaker] && p.sharp[rec.Prongs[1].Bookmaker]:
		return types.Surebet{}, fmt.Errorf("both prongs sharp (%s, %s)", rec.Prongs[0].Bookmaker, rec.Prongs[1].Bookmaker)
	case p.sharp[rec.Prongs[0].Bookmaker]:
		sharpProng, softProng = &rec.Prongs[0], &rec.Prongs[1]
	case p.sharp[rec.Prongs[1].Bookmaker]:
		sharpProng, softProng = &rec.Prongs[1], &rec.Prongs[0]
	default:
		return types.Surebet{}, fmt.Errorf("no sharp prong (%s, %s)", rec.Prongs[0].Bookmaker, rec.Prongs[1].Bookmaker)
	}

	sharp, err := p.parseProng(rec, sharpProng)
	if err != nil {
		return types.Surebet{}, fmt.Errorf("sharp prong: %w", err)
	}
	soft, err := p.parseProng(rec, softProng)
	if err != nil {
		return types.Surebet{}, fmt.Errorf("soft prong: %w", err)
	}

	profit, err := types.NewProfit(rec.Profit)
	if err != nil {
		return types.Surebet{}, err
	}

	sortBy := rec.SortBy
	if sortBy == "" {
		sortBy = sortByCreatedAt
	}
	created := time.Now().UTC()
	if rec.Created > 0 {
		created = time.UnixMilli(rec.Created).UTC()
	}

	return types.NewSurebet(sharp, soft, profit, rec.ID, sortBy, created)
}

func (p *Parser) parseProng(rec wireRecord, prong *wireProng) (types.Pick, error) {
	if len(prong.Teams) != 2 {
		return types.Pick{}, fmt.Errorf("expected 2 teams, got %d", len(prong.Teams))
	}
	eventMillis := prong.Time
	if eventMillis <= 0 {
		eventMillis = rec.Time
	}
	if eventMillis <= 0 {
		return types.Pick{}, fmt.Errorf("missing event time")
	}

	odds, err := types.NewOdds(prong.Value)
	if err != nil {
		return types.Pick{}, err
	}
	market := types.Market{
		Kind:      types.ParseMarketKind(prong.Type.Kind),
		Condition: prong.Type.Condition,
		Period:    prong.Type.Period,
		Base:      prong.Type.Base,
		Game:      prong.Type.Game,
		Variety:   prong.Type.Variety,
		Negated:   prong.Type.No,
	}
	var link string
	if prong.EventNav != nil {
		link = prong.EventNav.Link
	}
	return types.NewPick(
		[2]string{prong.Teams[0], prong.Teams[1]},
		prong.Tournament, rec.Sport,
		time.UnixMilli(eventMillis).UTC(),
		market, odds, prong.Bookmaker, link,
	)
}
