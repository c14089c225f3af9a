package history

import (
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
)

// MatchMode selects how a search phrase is matched against message
// content.
type MatchMode int

const (
	MatchSubstring MatchMode = iota // case-insensitive substring
	MatchSubstringSensitive
	MatchWholeWord // case-insensitive, on word boundaries
	MatchWholeWordSensitive
	MatchRegexp // phrase is a regular expression
)

// Period selects which matching message FindMessageDate locates relative
// to the anchor date.
type Period int

const (
	PeriodBeforeDate Period = iota // nearest match strictly before the anchor
	PeriodAfterDate                // nearest match strictly after the anchor
	PeriodFirst                    // the very first match, anchor ignored
)

// searchPattern compiles a phrase and mode into the regexp pattern bound
// to the query. The phrase is always a statement parameter, never query
// text, so it cannot alter query structure.
func searchPattern(phrase string, mode MatchMode) (string, error) {
	switch mode {
	case MatchSubstring:
		return "(?i)" + regexp.QuoteMeta(phrase), nil
	case MatchSubstringSensitive:
		return regexp.QuoteMeta(phrase), nil
	case MatchWholeWord:
		return `(?i)\b` + regexp.QuoteMeta(phrase) + `\b`, nil
	case MatchWholeWordSensitive:
		return `\b` + regexp.QuoteMeta(phrase) + `\b`, nil
	case MatchRegexp:
		if _, err := regexp.Compile(phrase); err != nil {
			return "", eris.Wrap(ErrInvalidPattern, err.Error())
		}
		return phrase, nil
	}
	return "", eris.Errorf("unsupported match mode %d", mode)
}

// FindMessageDate locates the date of the message nearest to the anchor
// whose content matches the phrase. A zero anchor means now. The zero
// time is returned when nothing matches.
func (h *History) FindMessageDate(chatKey string, anchor time.Time, phrase string, mode MatchMode, period Period) (time.Time, error) {
	if h.offline != nil {
		return time.Time{}, h.offline
	}

	pattern, err := searchPattern(phrase, mode)
	if err != nil {
		return time.Time{}, err
	}

	if anchor.IsZero() {
		anchor = time.Now()
	}

	query := `
		SELECT timestamp FROM history
		JOIN peers chat ON chat_id = chat.id
		WHERE chat.public_key = ? AND message REGEXP ?`
	args := []any{chatKey, pattern}

	switch period {
	case PeriodFirst:
		query += " ORDER BY timestamp ASC LIMIT 1;"
	case PeriodAfterDate:
		query += " AND timestamp > ? ORDER BY timestamp ASC LIMIT 1;"
		args = append(args, anchor.UnixMilli())
	case PeriodBeforeDate:
		query += " AND timestamp < ? ORDER BY timestamp DESC LIMIT 1;"
		args = append(args, anchor.UnixMilli())
	default:
		return time.Time{}, eris.Errorf("unsupported search period %d", period)
	}

	h.db.Sync()

	var ms int64
	err = h.db.Handle().QueryRow(query, args...).Scan(&ms)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("search history: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// DayCount is the number of messages on one calendar day. OffsetDays
// counts days from the start of the queried range, with buckets aligned to
// whole days since the epoch.
type DayCount struct {
	OffsetDays int64
	Count      int64
}

const msPerDay = 1000 * 60 * 60 * 24

// CountPerDay returns one entry per calendar day in [from, to] with at
// least one message for the chat.
func (h *History) CountPerDay(chatKey string, from, to time.Time) ([]DayCount, error) {
	if h.offline != nil {
		return nil, h.offline
	}
	h.db.Sync()

	fromDays := from.UnixMilli() / msPerDay
	rows, err := h.db.Handle().Query(`
		SELECT COUNT(history.id), ((timestamp / 1000 / 60 / 60 / 24) - ?) AS day
		FROM history
		JOIN peers chat ON chat_id = chat.id
		WHERE timestamp BETWEEN ? AND ? AND chat.public_key = ?
		GROUP BY day;`,
		fromDays, from.UnixMilli(), to.UnixMilli(), chatKey)
	if err != nil {
		return nil, fmt.Errorf("count per day: %w", err)
	}
	defer rows.Close()

	var counts []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Count, &dc.OffsetDays); err != nil {
			return nil, fmt.Errorf("scan day count: %w", err)
		}
		counts = append(counts, dc)
	}
	return counts, rows.Err()
}
