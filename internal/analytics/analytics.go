// Package analytics answers read-only aggregation queries over one
// session store. Every operation implicitly excludes the reserved
// system sender (by name equality) unless noted otherwise, and treats
// an empty store as a normal state, not an error.
package analytics

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/gdy-git/ChatLab/internal/query"
	"github.com/gdy-git/ChatLab/internal/store"
)

type Engine struct {
	db           *sql.DB
	systemSender string
}

func NewEngine(db *sql.DB, systemSender string) *Engine {
	return &Engine{db: db, systemSender: systemSender}
}

// MemberActivity is one row of the per-member ranking.
type MemberActivity struct {
	MemberID int64   `json:"member_id"`
	Name     string  `json:"name"`
	Count    int     `json:"count"`
	Percent  float64 `json:"percent"`
}

// HourBucket is the message count for one local hour of day (0-23).
type HourBucket struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// DayCount is the message count for one local calendar date.
type DayCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int    `json:"count"`
}

// TypeCount is the message count for one message type code.
type TypeCount struct {
	Type  int `json:"type"`
	Count int `json:"count"`
}

// TimeRange is the absolute timestamp bounds of the stored messages.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (e *Engine) baseFilter(f query.TimeFilter) *query.Builder {
	b := &query.Builder{}
	return b.Where("mb.name != ?", e.systemSender).TimeRange("msg.ts", f)
}

// MemberActivity ranks members by message count within the filter,
// descending. Percent is count over the filtered total, rounded to two
// decimal places on the 0-100 scale. Members with no messages in range
// are omitted.
func (e *Engine) MemberActivity(f query.TimeFilter) ([]MemberActivity, error) {
	where, args := e.baseFilter(f).Clause()

	var total int
	err := e.db.QueryRow(`
		SELECT COUNT(*)
		FROM message msg
		JOIN member mb ON msg.sender_id = mb.id
	`+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	where, args = e.baseFilter(f).Clause()
	rows, err := e.db.Query(`
		SELECT mb.id, mb.name, COUNT(*) AS cnt
		FROM message msg
		JOIN member mb ON msg.sender_id = mb.id
	`+where+`
		GROUP BY mb.id, mb.name
		ORDER BY cnt DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query member activity: %w", err)
	}
	defer rows.Close()

	result := make([]MemberActivity, 0)
	for rows.Next() {
		var a MemberActivity
		if err := rows.Scan(&a.MemberID, &a.Name, &a.Count); err != nil {
			return nil, fmt.Errorf("failed to scan member activity: %w", err)
		}
		if total > 0 {
			a.Percent = math.Round(float64(a.Count)/float64(total)*10000) / 100
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// HourlyActivity counts messages per local hour of day. All 24 buckets
// are present in the output, zero counts included.
func (e *Engine) HourlyActivity(f query.TimeFilter) ([]HourBucket, error) {
	where, args := e.baseFilter(f).Clause()
	rows, err := e.db.Query(`
		SELECT CAST(strftime('%H', msg.ts, 'unixepoch', 'localtime') AS INTEGER) AS hour, COUNT(*)
		FROM message msg
		JOIN member mb ON msg.sender_id = mb.id
	`+where+`
		GROUP BY hour
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly activity: %w", err)
	}
	defer rows.Close()

	buckets := make([]HourBucket, 24)
	for i := range buckets {
		buckets[i].Hour = i
	}
	for rows.Next() {
		var hour, count int
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("failed to scan hourly activity: %w", err)
		}
		if hour >= 0 && hour < 24 {
			buckets[hour].Count = count
		}
	}
	return buckets, rows.Err()
}

// DailyActivity counts messages per local calendar date, ascending.
// Only dates with at least one message appear.
func (e *Engine) DailyActivity(f query.TimeFilter) ([]DayCount, error) {
	where, args := e.baseFilter(f).Clause()
	rows, err := e.db.Query(`
		SELECT DATE(msg.ts, 'unixepoch', 'localtime') AS day, COUNT(*)
		FROM message msg
		JOIN member mb ON msg.sender_id = mb.id
	`+where+`
		GROUP BY day
		ORDER BY day ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily activity: %w", err)
	}
	defer rows.Close()

	result := make([]DayCount, 0)
	for rows.Next() {
		var d DayCount
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, fmt.Errorf("failed to scan daily activity: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// TypeDistribution counts messages per type code, descending by count.
func (e *Engine) TypeDistribution(f query.TimeFilter) ([]TypeCount, error) {
	where, args := e.baseFilter(f).Clause()
	rows, err := e.db.Query(`
		SELECT msg.type, COUNT(*) AS cnt
		FROM message msg
		JOIN member mb ON msg.sender_id = mb.id
	`+where+`
		GROUP BY msg.type
		ORDER BY cnt DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query type distribution: %w", err)
	}
	defer rows.Close()

	result := make([]TypeCount, 0)
	for rows.Next() {
		var t TypeCount
		if err := rows.Scan(&t.Type, &t.Count); err != nil {
			return nil, fmt.Errorf("failed to scan type distribution: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// TimeRange returns the absolute min/max timestamp across all messages,
// system sender included: this is the bounds of the data, not a
// human-activity view. Returns nil when the store has no messages.
func (e *Engine) TimeRange() (*TimeRange, error) {
	var start, end sql.NullInt64
	err := e.db.QueryRow(`SELECT MIN(ts), MAX(ts) FROM message`).Scan(&start, &end)
	if err != nil {
		return nil, fmt.Errorf("failed to query time range: %w", err)
	}
	if !start.Valid || !end.Valid {
		return nil, nil
	}
	return &TimeRange{Start: start.Int64, End: end.Int64}, nil
}

// AvailableYears lists the distinct local-time years with at least one
// non-system message, newest first.
func (e *Engine) AvailableYears() ([]int, error) {
	rows, err := e.db.Query(`
		SELECT DISTINCT CAST(strftime('%Y', msg.ts, 'unixepoch', 'localtime') AS INTEGER) AS year
		FROM message msg
		JOIN member mb ON msg.sender_id = mb.id
		WHERE mb.name != ?
		ORDER BY year DESC
	`, e.systemSender)
	if err != nil {
		return nil, fmt.Errorf("failed to query years: %w", err)
	}
	defer rows.Close()

	years := make([]int, 0)
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("failed to scan year: %w", err)
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// MemberNameHistory returns all nickname intervals for one member,
// newest start_ts first. An unknown member id yields an empty list.
func (e *Engine) MemberNameHistory(memberID int64) ([]store.NameInterval, error) {
	rows, err := e.db.Query(`
		SELECT id, member_id, name, start_ts, end_ts
		FROM member_name_history
		WHERE member_id = ?
		ORDER BY start_ts DESC
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query name history: %w", err)
	}
	defer rows.Close()

	result := make([]store.NameInterval, 0)
	for rows.Next() {
		var iv store.NameInterval
		var end sql.NullInt64
		if err := rows.Scan(&iv.ID, &iv.MemberID, &iv.Name, &iv.StartTS, &end); err != nil {
			return nil, fmt.Errorf("failed to scan name history: %w", err)
		}
		if end.Valid {
			v := end.Int64
			iv.EndTS = &v
		}
		result = append(result, iv)
	}
	return result, rows.Err()
}
