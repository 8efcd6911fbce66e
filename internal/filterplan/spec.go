// Package filterplan parses filter expressions and splits them into a
// pre-filter (pushed into the vector backend) and a post-filter
// (evaluated in-process against hydrated metadata).
//
// The split contract: the pre-filter is a necessary condition for the
// post-filter, so the backend always returns a superset of the final
// result. No filter is ever silently dropped — a clause the backend
// cannot evaluate natively is routed to the post-filter, and a field
// the post-filter cannot find in metadata excludes the hit.
package filterplan

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowlexi/patchvec/internal/apperr"
)

// Op tags a comparison operator. Evaluation dispatches on the tag
// through an explicit lookup table — never by building expression
// strings.
type Op string

const (
	OpEq       Op = "=="
	OpNotEq    Op = "!="
	OpGT       Op = ">"
	OpGTE      Op = ">="
	OpLT       Op = "<"
	OpLTE      Op = "<="
	OpIn       Op = "in"
	OpWildcard Op = "matches-wildcard"
	OpTimeGT   Op = "time>"
	OpTimeGTE  Op = "time>="
	OpTimeLT   Op = "time<"
	OpTimeLTE  Op = "time<="
)

// Spec is one parsed value specifier.
type Spec struct {
	Op   Op
	Str  string    // literal for ==, !=, wildcard pattern
	Num  float64   // threshold for numeric comparisons
	Time time.Time // threshold for datetime comparisons
	List []Spec    // members for in
}

// Clause binds a field to a specifier.
type Clause struct {
	Field string
	Spec  Spec
}

// ParseFilters parses a raw filter mapping into clauses, validating
// field names against the sanitiser rules.
func ParseFilters(filters map[string]any) ([]Clause, error) {
	clauses := make([]Clause, 0, len(filters))
	for field, raw := range filters {
		if err := ValidateField(field); err != nil {
			return nil, err
		}
		spec, err := parseSpec(raw)
		if err != nil {
			return nil, apperr.InvalidFilter("field %s: %v", field, err)
		}
		clauses = append(clauses, Clause{Field: field, Spec: spec})
	}
	return clauses, nil
}

// parseSpec classifies a single raw specifier value.
func parseSpec(raw any) (Spec, error) {
	switch v := raw.(type) {
	case string:
		return parseStringSpec(v)
	case bool:
		return Spec{Op: OpEq, Str: strconv.FormatBool(v)}, nil
	case int:
		return Spec{Op: OpEq, Str: strconv.Itoa(v)}, nil
	case int64:
		return Spec{Op: OpEq, Str: strconv.FormatInt(v, 10)}, nil
	case float64:
		return Spec{Op: OpEq, Str: formatFloat(v)}, nil
	case []any:
		if len(v) == 0 {
			return Spec{}, fmt.Errorf("empty OR-list")
		}
		list := make([]Spec, 0, len(v))
		for _, member := range v {
			spec, err := parseSpec(member)
			if err != nil {
				return Spec{}, err
			}
			list = append(list, spec)
		}
		return Spec{Op: OpIn, List: list}, nil
	default:
		return Spec{}, fmt.Errorf("unsupported specifier type %T", raw)
	}
}

func parseStringSpec(s string) (Spec, error) {
	switch {
	case strings.HasPrefix(s, "!"):
		return Spec{Op: OpNotEq, Str: s[1:]}, nil
	case strings.HasPrefix(s, ">="):
		return parseComparison(OpGTE, OpTimeGTE, s[2:])
	case strings.HasPrefix(s, "<="):
		return parseComparison(OpLTE, OpTimeLTE, s[2:])
	case strings.HasPrefix(s, ">"):
		return parseComparison(OpGT, OpTimeGT, s[1:])
	case strings.HasPrefix(s, "<"):
		return parseComparison(OpLT, OpTimeLT, s[1:])
	case strings.Contains(s, "*"):
		return Spec{Op: OpWildcard, Str: s}, nil
	default:
		return Spec{Op: OpEq, Str: s}, nil
	}
}

// parseComparison resolves a numeric or ISO-8601 datetime threshold.
func parseComparison(numOp, timeOp Op, operand string) (Spec, error) {
	operand = strings.TrimSpace(operand)
	if operand == "" {
		return Spec{}, fmt.Errorf("missing comparison operand")
	}
	if n, err := strconv.ParseFloat(operand, 64); err == nil {
		return Spec{Op: numOp, Num: n}, nil
	}
	if ts, err := parseDatetime(operand); err == nil {
		return Spec{Op: timeOp, Time: ts}, nil
	}
	return Spec{}, fmt.Errorf("comparison operand %q is neither numeric nor ISO-8601", operand)
}

// datetimeLayouts accepted for comparison operands and metadata values.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDatetime(s string) (time.Time, error) {
	for _, layout := range datetimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("not a datetime: %q", s)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Describe renders a clause for match_reason strings, e.g. "lang=en".
func (c Clause) Describe() string {
	switch c.Spec.Op {
	case OpEq:
		return c.Field + "=" + c.Spec.Str
	case OpNotEq:
		return c.Field + "!=" + c.Spec.Str
	case OpGT, OpGTE, OpLT, OpLTE:
		return fmt.Sprintf("%s%s%s", c.Field, strings.TrimPrefix(string(c.Spec.Op), "time"), formatFloat(c.Spec.Num))
	case OpTimeGT, OpTimeGTE, OpTimeLT, OpTimeLTE:
		return fmt.Sprintf("%s%s%s", c.Field, strings.TrimPrefix(string(c.Spec.Op), "time"), c.Spec.Time.Format(time.RFC3339))
	case OpWildcard:
		return c.Field + "~" + c.Spec.Str
	case OpIn:
		parts := make([]string, len(c.Spec.List))
		for i, m := range c.Spec.List {
			parts[i] = m.Str
		}
		return c.Field + " in [" + strings.Join(parts, ",") + "]"
	default:
		return c.Field
	}
}
