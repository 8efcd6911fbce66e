package filterplan

import (
	"regexp"
	"strings"

	"github.com/flowlexi/patchvec/internal/apperr"
)

// fieldPattern is the only shape a filter field may take. Anything else
// is rejected before it can reach a backend query.
var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateField rejects field names that could not be rendered safely
// into a backend query.
func ValidateField(field string) error {
	if !fieldPattern.MatchString(field) {
		return apperr.InvalidFilter("invalid filter field %q (must match [A-Za-z0-9_]+)", field)
	}
	return nil
}

// QuoteLiteral renders a string literal for a backend query, doubling
// any embedded quote characters.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
