package catalog

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSlug(t *testing.T) {
	valid := []string{"acme", "acme-corp", "a_b.c", "Tenant1"}
	for _, name := range valid {
		assert.NoError(t, ValidateSlug("tenant", name), name)
	}

	invalid := []string{"", ".", "..", "-leading", "a/b", "a b", "a\\b", "café"}
	for _, name := range invalid {
		assert.Error(t, ValidateSlug("tenant", name), "%q should be rejected", name)
	}
}

func TestListTenantsAndCollections(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(c.CollectionDir("beta", "books"), 0700))
	require.NoError(t, os.MkdirAll(c.CollectionDir("acme", "docs"), 0700))
	require.NoError(t, os.MkdirAll(c.CollectionDir("acme", "archive"), 0700))
	// Stray non-prefixed dirs are ignored.
	require.NoError(t, os.MkdirAll(dir+"/lost+found", 0700))

	tenants, err := c.ListTenants()
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "beta"}, tenants)

	collections, err := c.ListCollections("acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"archive", "docs"}, collections)

	collections, err = c.ListCollections("ghost")
	require.NoError(t, err)
	assert.Empty(t, collections)
}

func TestCollectionExists(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	assert.False(t, c.CollectionExists("acme", "docs"))
	require.NoError(t, os.MkdirAll(c.CollectionDir("acme", "docs"), 0700))
	assert.True(t, c.CollectionExists("acme", "docs"))
}
