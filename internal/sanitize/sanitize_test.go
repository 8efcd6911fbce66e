package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "acme", "acme"},
		{"uppercase", "ACME", "acme"},
		{"dots and slashes", "github.com/user", "github_com_user"},
		{"spaces and punctuation", "My Project!", "my_project"},
		{"empty", "", "default"},
		{"only invalid", "!!!", "default"},
		{"collapses underscores", "a__b___c", "a_b_c"},
		{"trims underscores", "_abc_", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Identifier(tt.input))
		})
	}
}

func TestIdentifierTruncation(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := Identifier(long)

	assert.LessOrEqual(t, len(got), MaxIdentifierLength)
	// Distinct long inputs must stay distinct after truncation.
	other := Identifier(strings.Repeat("a", 99) + "b")
	assert.NotEqual(t, got, other)
}

func TestBackendCollection(t *testing.T) {
	assert.Equal(t, "acme_docs", BackendCollection("acme", "docs"))

	long := BackendCollection(strings.Repeat("t", 60), strings.Repeat("c", 60))
	assert.LessOrEqual(t, len(long), MaxIdentifierLength)
}

func TestRIDFilename(t *testing.T) {
	assert.Equal(t, "verne-20k__3.txt", RIDFilename("verne-20k::3"))
	assert.Equal(t, "a_b_c.txt", RIDFilename("a/b\\c"))

	// Deterministic.
	assert.Equal(t, RIDFilename("d::1"), RIDFilename("d::1"))
}
