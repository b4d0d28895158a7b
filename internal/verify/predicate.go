package verify

import (
	"fmt"
	"strconv"
	"strings"

	"telprobe/internal/match"
	"telprobe/internal/query"
)

// Predicate decides whether a set of query rows satisfies a verification.
// Params: Desc human-readable description; Fn evaluation function.
// Returns: caller-supplied condition.
type Predicate struct {
	Desc string
	Fn   func(rows []query.Row) bool
}

// Eval applies the predicate; a nil Fn is never satisfied.
func (p Predicate) Eval(rows []query.Row) bool {
	if p.Fn == nil {
		return false
	}
	return p.Fn(rows)
}

// String returns the description.
func (p Predicate) String() string {
	if p.Desc == "" {
		return "custom predicate"
	}
	return p.Desc
}

// MinRows is satisfied by at least n rows.
func MinRows(n int) Predicate {
	return Predicate{
		Desc: fmt.Sprintf("at least %d row(s)", n),
		Fn:   func(rows []query.Row) bool { return len(rows) >= n },
	}
}

// RowCount is satisfied by exactly n rows.
func RowCount(n int) Predicate {
	return Predicate{
		Desc: fmt.Sprintf("exactly %d row(s)", n),
		Fn:   func(rows []query.Row) bool { return len(rows) == n },
	}
}

// FieldPresent is satisfied when any row carries a non-null field.
func FieldPresent(field string) Predicate {
	return Predicate{
		Desc: fmt.Sprintf("field %q present", field),
		Fn: func(rows []query.Row) bool {
			for _, row := range rows {
				if value, ok := row[field]; ok && value != nil {
					return true
				}
			}
			return false
		},
	}
}

// FieldEquals is satisfied when any row's field equals want; numbers compare numerically.
// Params: field row key; want expected string, bool, or numeric value.
// Returns: predicate.
func FieldEquals(field string, want any) Predicate {
	return Predicate{
		Desc: fmt.Sprintf("field %q equals %v", field, want),
		Fn: func(rows []query.Row) bool {
			for _, row := range rows {
				if value, ok := row[field]; ok && valuesEqual(value, want) {
					return true
				}
			}
			return false
		},
	}
}

// FieldMatches is satisfied when any row's field matches a '*' wildcard pattern.
// Params: field row key; pattern wildcard text.
// Returns: predicate; an empty pattern never matches.
func FieldMatches(field string, pattern string) Predicate {
	compiled, ok := match.Compile(pattern, false)
	return Predicate{
		Desc: fmt.Sprintf("field %q matches %q", field, pattern),
		Fn: func(rows []query.Row) bool {
			if !ok {
				return false
			}
			for _, row := range rows {
				value, present := row[field]
				if present && value != nil && compiled.Match(fmt.Sprint(value)) {
					return true
				}
			}
			return false
		},
	}
}

// CountAtLeast reads a numeric aggregate column from the first row, as in `SELECT count(*)`.
// Params: column result key (empty uses "count"); n lower bound.
// Returns: predicate.
func CountAtLeast(column string, n float64) Predicate {
	if strings.TrimSpace(column) == "" {
		column = "count"
	}
	return Predicate{
		Desc: fmt.Sprintf("%s >= %v", column, n),
		Fn: func(rows []query.Row) bool {
			if len(rows) == 0 {
				return false
			}
			value, ok := toNumber(rows[0][column])
			return ok && value >= n
		},
	}
}

// All is satisfied when every predicate is; with none it is always satisfied.
func All(preds ...Predicate) Predicate {
	parts := make([]string, 0, len(preds))
	for _, pred := range preds {
		parts = append(parts, pred.String())
	}
	return Predicate{
		Desc: strings.Join(parts, " and "),
		Fn: func(rows []query.Row) bool {
			for _, pred := range preds {
				if !pred.Eval(rows) {
					return false
				}
			}
			return true
		},
	}
}

// ParseValue turns CLI text into a bool, number, or string for FieldEquals.
func ParseValue(text string) any {
	switch strings.ToLower(text) {
	case "true":
		return true
	case "false":
		return false
	}
	if parsed, err := strconv.ParseFloat(text, 64); err == nil {
		return parsed
	}
	return text
}

func valuesEqual(got any, want any) bool {
	if left, ok := toNumber(got); ok {
		right, rightOK := toNumber(want)
		return rightOK && left == right
	}
	switch typed := want.(type) {
	case string:
		value, ok := got.(string)
		return ok && value == typed
	case bool:
		value, ok := got.(bool)
		return ok && value == typed
	case nil:
		return got == nil
	default:
		return fmt.Sprint(got) == fmt.Sprint(want)
	}
}

func toNumber(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	default:
		return 0, false
	}
}
