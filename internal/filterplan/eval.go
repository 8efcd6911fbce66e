package filterplan

import (
	"strconv"
	"strings"
	"time"
)

// cmpPredicates maps comparison operators to their acceptance test over
// a three-way comparison result. Dispatch is by tag; no expression is
// ever constructed and evaluated.
var cmpPredicates = map[Op]func(int) bool{
	OpGT:      func(c int) bool { return c > 0 },
	OpGTE:     func(c int) bool { return c >= 0 },
	OpLT:      func(c int) bool { return c < 0 },
	OpLTE:     func(c int) bool { return c <= 0 },
	OpTimeGT:  func(c int) bool { return c > 0 },
	OpTimeGTE: func(c int) bool { return c >= 0 },
	OpTimeLT:  func(c int) bool { return c < 0 },
	OpTimeLTE: func(c int) bool { return c <= 0 },
}

// Matches evaluates the post-filter against hydrated metadata. A hit
// whose metadata lacks a filtered field is excluded — filters are never
// silently dropped.
func (p *PostFilter) Matches(meta map[string]any) bool {
	if p.Empty() {
		return true
	}
	for _, c := range p.Clauses {
		value, ok := meta[c.Field]
		if !ok {
			return false
		}
		if !evalSpec(c.Spec, value) {
			return false
		}
	}
	return true
}

func evalSpec(spec Spec, value any) bool {
	switch spec.Op {
	case OpEq:
		return stringify(value) == spec.Str
	case OpNotEq:
		return stringify(value) != spec.Str
	case OpGT, OpGTE, OpLT, OpLTE:
		n, ok := toFloat(value)
		if !ok {
			return false
		}
		return cmpPredicates[spec.Op](compareFloats(n, spec.Num))
	case OpTimeGT, OpTimeGTE, OpTimeLT, OpTimeLTE:
		ts, ok := toTime(value)
		if !ok {
			return false
		}
		return cmpPredicates[spec.Op](ts.Compare(spec.Time))
	case OpWildcard:
		return matchWildcard(spec.Str, stringify(value))
	case OpIn:
		for _, member := range spec.List {
			if evalSpec(member, value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// matchWildcard supports prefix ("foo*"), suffix ("*foo"), contains
// ("*foo*") and general fixed-segment patterns.
func matchWildcard(pattern, value string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return value == pattern
	}

	if !strings.HasPrefix(value, segments[0]) {
		return false
	}
	value = value[len(segments[0]):]

	last := segments[len(segments)-1]
	if !strings.HasSuffix(value, last) {
		return false
	}
	value = value[:len(value)-len(last)]

	for _, segment := range segments[1 : len(segments)-1] {
		if segment == "" {
			continue
		}
		idx := strings.Index(value, segment)
		if idx < 0 {
			return false
		}
		value = value[idx+len(segment):]
	}
	return true
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	default:
		return ""
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		ts, err := parseDatetime(v)
		return ts, err == nil
	default:
		return time.Time{}, false
	}
}
