// Package catalog enumerates tenants and collections from the data
// directory layout: {data_dir}/t_{tenant}/c_{collection}/.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/flowlexi/patchvec/internal/apperr"
)

const (
	tenantPrefix     = "t_"
	collectionPrefix = "c_"
)

// slugPattern validates tenant and collection names: URL-safe slugs
// that are also safe as directory names.
var slugPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateSlug checks that a tenant or collection name is a safe slug.
func ValidateSlug(kind, name string) error {
	if name == "" {
		return apperr.InvalidRequest("%s name is required", kind)
	}
	if len(name) > 255 {
		return apperr.InvalidRequest("%s name too long (max 255)", kind)
	}
	if !slugPattern.MatchString(name) {
		return apperr.InvalidRequest("invalid %s name %q: must be alphanumeric with dots, hyphens or underscores", kind, name)
	}
	if name == "." || name == ".." || filepath.Clean(name) != name {
		return apperr.InvalidRequest("invalid %s name %q", kind, name)
	}
	return nil
}

// Catalog resolves tenants and collections to directories.
type Catalog struct {
	dataDir string
}

// New creates a catalog rooted at the data directory.
func New(dataDir string) (*Catalog, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &Catalog{dataDir: dataDir}, nil
}

// DataDir returns the catalog root.
func (c *Catalog) DataDir() string { return c.dataDir }

// TenantDir returns the directory for a tenant.
func (c *Catalog) TenantDir(tenant string) string {
	return filepath.Join(c.dataDir, tenantPrefix+tenant)
}

// CollectionDir returns the directory for a collection.
func (c *Catalog) CollectionDir(tenant, collection string) string {
	return filepath.Join(c.TenantDir(tenant), collectionPrefix+collection)
}

// CollectionExists reports whether the collection directory is present.
func (c *Catalog) CollectionExists(tenant, collection string) bool {
	info, err := os.Stat(c.CollectionDir(tenant, collection))
	return err == nil && info.IsDir()
}

// ListTenants returns all tenants with at least one collection, sorted.
func (c *Catalog) ListTenants() ([]string, error) {
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading data directory: %w", err)
	}

	tenants := []string{}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), tenantPrefix) {
			continue
		}
		tenant := strings.TrimPrefix(entry.Name(), tenantPrefix)
		collections, err := c.ListCollections(tenant)
		if err != nil {
			return nil, err
		}
		if len(collections) > 0 {
			tenants = append(tenants, tenant)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

// ListCollections returns the tenant's collections, sorted. A tenant
// with no directory has no collections; that is not an error.
func (c *Catalog) ListCollections(tenant string) ([]string, error) {
	entries, err := os.ReadDir(c.TenantDir(tenant))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading tenant directory: %w", err)
	}

	collections := []string{}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), collectionPrefix) {
			continue
		}
		collections = append(collections, strings.TrimPrefix(entry.Name(), collectionPrefix))
	}
	sort.Strings(collections)
	return collections, nil
}
