package filterplan

import (
	"strings"
)

// Capabilities describes which operators a vector backend can evaluate
// natively against its indexed fields.
type Capabilities struct {
	Ops map[Op]bool
}

// Supports reports whether the backend evaluates op natively.
func (c Capabilities) Supports(op Op) bool {
	return c.Ops[op]
}

// PreFilter is the backend-evaluated half of a plan. Clauses are
// conjunctive and restricted to operators the backend supports on
// indexed fields.
type PreFilter struct {
	Clauses []Clause
}

// Empty reports whether no clause was routed to the backend.
func (p *PreFilter) Empty() bool {
	return p == nil || len(p.Clauses) == 0
}

// String renders the pre-filter in the backend query language, e.g.
// "[lang] = 'en' AND [source] <> 'web'". Field names are validated and
// literals quoted by the sanitiser; used for qdrant-style payload
// filters only through the structured clause list, and for logging.
func (p *PreFilter) String() string {
	if p.Empty() {
		return ""
	}
	parts := make([]string, 0, len(p.Clauses))
	for _, c := range p.Clauses {
		op := "="
		if c.Spec.Op == OpNotEq {
			op = "<>"
		}
		parts = append(parts, "["+c.Field+"] "+op+" "+QuoteLiteral(c.Spec.Str))
	}
	return strings.Join(parts, " AND ")
}

// PostFilter is the in-process half of a plan, evaluated against
// hydrated metadata.
type PostFilter struct {
	Clauses []Clause
}

// Empty reports whether no clause needs in-process evaluation.
func (p *PostFilter) Empty() bool {
	return p == nil || len(p.Clauses) == 0
}

// Plan is a split filter expression.
type Plan struct {
	Pre  *PreFilter
	Post *PostFilter
}

// Describe renders all clauses for match_reason strings.
func (p *Plan) Describe() []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, c := range p.Pre.Clauses {
		out = append(out, c.Describe())
	}
	for _, c := range p.Post.Clauses {
		out = append(out, c.Describe())
	}
	return out
}

// Split parses a raw filter mapping and routes each clause:
//
//   - equality / negated equality on an indexed field, when the backend
//     supports the operator -> pre
//   - wildcard, numeric comparison, datetime comparison, OR-list -> post
//   - unknown (non-indexed) field -> post (safe default)
//
// indexed reports whether a field is denormalised into the backend
// index; nil means no field is.
func Split(filters map[string]any, indexed func(string) bool, caps Capabilities) (*Plan, error) {
	clauses, err := ParseFilters(filters)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Pre: &PreFilter{}, Post: &PostFilter{}}
	for _, c := range clauses {
		if isPreRoutable(c, indexed, caps) {
			plan.Pre.Clauses = append(plan.Pre.Clauses, c)
		} else {
			plan.Post.Clauses = append(plan.Post.Clauses, c)
		}
	}
	return plan, nil
}

func isPreRoutable(c Clause, indexed func(string) bool, caps Capabilities) bool {
	if indexed == nil || !indexed(c.Field) {
		return false
	}
	switch c.Spec.Op {
	case OpEq, OpNotEq:
		return caps.Supports(c.Spec.Op)
	default:
		// Wildcards, comparisons and OR-lists always hydrate first.
		return false
	}
}
