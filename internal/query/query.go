// Package query holds the shared time-filter type and a small predicate
// builder used by the analytics and search engines to assemble WHERE
// clauses. Values only ever travel as placeholder arguments; clause text
// never contains user input.
package query

import "strings"

// TimeFilter bounds a query by timestamp. Both bounds are inclusive and
// independently optional; the zero value matches everything.
type TimeFilter struct {
	Start *int64 `json:"start_ts,omitempty"`
	End   *int64 `json:"end_ts,omitempty"`
}

// Builder accumulates AND-combined predicates with their arguments.
type Builder struct {
	conds []string
	args  []any
}

// Where appends one predicate. expr must use ? placeholders for every
// value in args.
func (b *Builder) Where(expr string, args ...any) *Builder {
	b.conds = append(b.conds, expr)
	b.args = append(b.args, args...)
	return b
}

// TimeRange applies an inclusive timestamp filter to column, skipping
// whichever bounds are unset.
func (b *Builder) TimeRange(column string, f TimeFilter) *Builder {
	if f.Start != nil {
		b.Where(column+" >= ?", *f.Start)
	}
	if f.End != nil {
		b.Where(column+" <= ?", *f.End)
	}
	return b
}

// AnyLike appends an OR-combined substring match over column, one LIKE
// per keyword. An empty keyword list adds nothing (matches everything).
func (b *Builder) AnyLike(column string, keywords []string) *Builder {
	if len(keywords) == 0 {
		return b
	}
	likes := make([]string, len(keywords))
	for i, kw := range keywords {
		likes[i] = column + " LIKE ?"
		b.args = append(b.args, "%"+kw+"%")
	}
	b.conds = append(b.conds, "("+strings.Join(likes, " OR ")+")")
	return b
}

// Clause renders the accumulated predicates as a WHERE clause (with a
// leading space) and its arguments. Returns "" when no predicate was
// added, so it can be appended to a query unconditionally.
func (b *Builder) Clause() (string, []any) {
	if len(b.conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(b.conds, " AND "), b.args
}
