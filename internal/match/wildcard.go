package match

import "strings"

// Pattern is a compiled '*' wildcard matcher for attribute values.
// Params: internal split segments, anchor flags, and case folding.
// Returns: reusable matcher for many Match calls.
type Pattern struct {
	raw           string
	segments      []string
	anchoredStart bool
	anchoredEnd   bool
	any           bool
	fold          bool
}

// Compile compiles pattern into a reusable wildcard matcher.
// Params: pattern may contain '*' wildcards; fold enables case-insensitive matching.
// Returns: compiled matcher and false when pattern is empty.
func Compile(pattern string, fold bool) (Pattern, bool) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return Pattern{}, false
	}
	if strings.Trim(p, "*") == "" {
		return Pattern{raw: p, any: true}, true
	}
	if fold {
		p = strings.ToLower(p)
	}

	return Pattern{
		raw:           p,
		segments:      strings.Split(p, "*"),
		anchoredStart: !strings.HasPrefix(p, "*"),
		anchoredEnd:   !strings.HasSuffix(p, "*"),
		fold:          fold,
	}, true
}

// String returns the normalized source pattern.
// Params: none.
// Returns: pattern text.
func (p Pattern) String() string {
	return p.raw
}

// Match evaluates the compiled pattern against value.
// Params: value is compared text.
// Returns: true on pattern match.
func (p Pattern) Match(value string) bool {
	if p.any {
		return true
	}
	if len(p.segments) == 0 {
		return false
	}
	if p.fold {
		value = strings.ToLower(value)
	}

	last := len(p.segments) - 1
	if last == 0 {
		return value == p.segments[0]
	}

	head := p.segments[0]
	tail := p.segments[last]
	if p.anchoredStart && !strings.HasPrefix(value, head) {
		return false
	}
	if p.anchoredEnd && !strings.HasSuffix(value, tail) {
		return false
	}

	cursor := len(head)
	limit := len(value) - len(tail)
	if limit < cursor {
		return false
	}
	for _, segment := range p.segments[1:last] {
		if segment == "" {
			continue
		}
		offset := strings.Index(value[cursor:limit], segment)
		if offset < 0 {
			return false
		}
		cursor += offset + len(segment)
	}

	return true
}

// Wildcard evaluates a case-sensitive '*' pattern against value.
// Params: pattern may contain '*' wildcards; value is compared text.
// Returns: true on pattern match.
func Wildcard(pattern, value string) bool {
	compiled, ok := Compile(pattern, false)
	if !ok {
		return false
	}
	return compiled.Match(value)
}
