// Package message renders picks into the Telegram HTML layout.
//
// A message has two kinds of content: static parts that depend only on the
// event (teams, tournament, date, deep link) and dynamic parts that change
// per pick (stake marker, odds, minimum odds). The static parts are
// expensive to build — text cleanup, title casing, timezone conversion —
// and the same event produces many picks in a burst, so they are cached
// for a short TTL. Dynamic parts are always computed fresh.
package message

import (
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"retador/internal/cache"
	"retador/internal/calc"
	"retador/pkg/types"
)

const staticTTL = 60 * time.Second

// sportEmojis maps feed sport ids to the marker shown before the teams.
var sportEmojis = map[string]string{
	"football":         "⚽️",
	"basketball":       "\U0001F3C0",
	"americanfootball": "\U0001F3C8",
	"rugby":            "\U0001F3C9",
	"hockey":           "\U0001F3D2",
	"tennis":           "\U0001F3BE",
	"tabletennis":      "\U0001F3D3",
	"handball":         "\U0001F93E\U0001F3FC‍♂️",
	"baseball":         "⚾️",
	"volleyball":       "\U0001F3D0",
	"e_football":       "\U0001F3AE",
	"darts":            "\U0001F3AF",
}

// marketReplacements rewrites feed market spellings into the labels users
// know. Order matters: longer spellings must run before their prefixes
// (win1retx before win1).
var marketReplacements = []struct{ old, new string }{
	{"win1retx", "dnb1"},
	{"win2retx", "dnb2"},
	{"winonly1", "win1"},
	{"winonly2", "win2"},
	{"_1x", "1x"},
	{"_x2", "x2"},
	{"_12", "12"},
	{"e_over", "e over"},
	{"e_under", "e under"},
}

// fillerWords are market-text noise the feed carries ("match total goals
// over 2.5" reads better as "over 2.5").
var fillerWords = regexp.MustCompile(`\b(point|points|overall|regular|overtime|goal|goals|regulartime|set|time|total|game|games|match|matches)\b`)

var spanishWeekdays = [7]string{
	"Domingo", "Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado",
}

// staticParts is the cached per-event fragment set.
type staticParts struct {
	teams      string
	tournament string
	date       string
	link       string
}

// Builder renders Telegram HTML messages with a static-part cache.
type Builder struct {
	static *cache.TTLCache
	titler cases.Caser
	madrid *time.Location
	logger *slog.Logger
}

// NewBuilder creates a builder whose static cache holds at most cacheSize
// events.
func NewBuilder(cacheSize int, logger *slog.Logger) (*Builder, error) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		return nil, fmt.Errorf("load Europe/Madrid: %w", err)
	}
	return &Builder{
		static: cache.NewTTLCache(cacheSize),
		titler: cases.Title(language.Spanish),
		madrid: madrid,
		logger: logger.With("component", "message"),
	}, nil
}

// Render builds the full HTML message for a soft pick. Rendering is pure
// with respect to the pick: the same inputs always produce the same
// message, cached or not.
func (b *Builder) Render(pick types.Pick, tier calc.Tier, minOdds calc.MinOdds) string {
	parts := b.staticFor(pick)

	header := fmt.Sprintf("<b>%s %s @%s (\U0001F53B%s)</b>",
		tier.Emoji(),
		html.EscapeString(b.typeInfo(pick.Market)),
		html.EscapeString(pick.Odds.String()),
		html.EscapeString(minOdds.Display),
	)

	lines := []string{header, "", parts.teams, parts.tournament, parts.date}
	if parts.link != "" {
		lines = append(lines, "", parts.link)
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) staticFor(pick types.Pick) staticParts {
	key := fmt.Sprintf("%s:%s:%d:%s", pick.Teams[0], pick.Teams[1], pick.EventTime.Unix(), pick.Bookmaker)
	if v, ok := b.static.Get(key); ok {
		return v.(staticParts)
	}

	parts := staticParts{
		teams:      b.teamsLine(pick),
		tournament: b.tournamentLine(pick),
		date:       b.dateLine(pick.EventTime),
		link:       linkLine(AdjustLink(pick.Link)),
	}
	b.static.Set(key, parts, staticTTL)
	return parts
}

func (b *Builder) teamsLine(pick types.Pick) string {
	emoji := sportEmojis[strings.ToLower(pick.Sport)]
	t1 := html.EscapeString(b.titler.String(cleanText(pick.Teams[0])))
	t2 := html.EscapeString(b.titler.String(cleanText(pick.Teams[1])))
	return fmt.Sprintf("%s <code>%s</code> vs <code>%s</code>", emoji, t1, t2)
}

func (b *Builder) tournamentLine(pick types.Pick) string {
	return fmt.Sprintf("\U0001F3C6 %s (%s)",
		html.EscapeString(b.titler.String(cleanText(pick.Tournament))),
		html.EscapeString(b.titler.String(cleanText(pick.Sport))),
	)
}

// dateLine renders the event start in Spanish conventions:
// "📅 14/03/2026 (Sábado 18:00)" in Europe/Madrid time.
func (b *Builder) dateLine(eventTime time.Time) string {
	local := eventTime.In(b.madrid)
	return fmt.Sprintf("\U0001F4C5 %s (%s %s)",
		local.Format("02/01/2006"),
		spanishWeekdays[local.Weekday()],
		local.Format("15:04"),
	)
}

// typeInfo assembles the header market description: cleaned kind plus
// every qualifier the market carries, uppercased.
func (b *Builder) typeInfo(m types.Market) string {
	var parts []string
	for _, field := range []string{string(m.Kind), m.Condition, m.Variety, m.Base, m.Game, m.Period} {
		if cleaned := cleanText(field); cleaned != "" {
			parts = append(parts, cleaned)
		}
	}
	return strings.ToUpper(strings.Join(parts, " "))
}

func linkLine(url string) string {
	if url == "" {
		return ""
	}
	return fmt.Sprintf("\U0001F517 <a href=\"%s\">%s</a>", html.EscapeString(url), html.EscapeString(url))
}

// cleanText normalizes feed text: lowercase, filler words removed, market
// spellings rewritten, whitespace collapsed. HTML escaping happens at
// render time, not here.
func cleanText(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "(second_yellow_is_yellow_and_red_card)", "")
	text = fillerWords.ReplaceAllString(text, "")
	for _, r := range marketReplacements {
		text = strings.ReplaceAll(text, r.old, r.new)
	}
	return strings.Join(strings.Fields(text), " ")
}

// AdjustLink rewrites bookmaker deep links to their Spanish storefronts.
// Unknown domains pass through untouched.
func AdjustLink(url string) string {
	switch {
	case url == "":
		return ""
	case strings.Contains(url, "bet365"):
		url = strings.ReplaceAll(url, "bet365.com", "bet365.es")
		// bet365 routes are case-sensitive and uppercase on the .es site.
		if domain, path, ok := strings.Cut(url, ".es"); ok {
			return domain + ".es" + strings.ToUpper(path)
		}
		return url
	case strings.Contains(url, "betway"):
		return strings.ReplaceAll(url, "sports.betway.com/en/sports", "sports.betway.es/es/sports")
	case strings.Contains(url, "bwin"):
		return strings.ReplaceAll(url, "sports.bwin.com/en/", "sports.bwin.es/es/")
	case strings.Contains(url, "sportswidget.versus.es"):
		return strings.ReplaceAll(url, "sportswidget.versus.es/sports", "www.versus.es/apuestas/sports")
	case strings.Contains(url, "versus.es/sports"):
		return strings.ReplaceAll(url, "versus.es/sports", "www.versus.es/apuestas/sports")
	case strings.Contains(url, "pokerstars"):
		return strings.ReplaceAll(url, "pokerstars.uk/", "pokerstars.es/")
	}
	return url
}
