// Package auth resolves bearer tokens to an AuthContext.
//
// Two modes: "none" (development only; every request is admin) and
// "static" (a global admin key plus per-tenant keys, inline or from a
// tenants YAML file). Credential lookup stays in this collaborator; the
// engine only ever sees the resolved context.
package auth

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/flowlexi/patchvec/internal/apperr"
	"github.com/flowlexi/patchvec/internal/config"
)

// Context is the resolved identity attached to a request.
type Context struct {
	// Tenant is the tenant this key is scoped to; empty for admin keys.
	Tenant string

	// Admin grants access to every tenant.
	Admin bool
}

// Authorized reports whether the context may act on the tenant.
func (c Context) Authorized(tenant string) bool {
	return c.Admin || c.Tenant == tenant
}

// Authenticator resolves bearer tokens.
type Authenticator struct {
	mode      string
	globalKey string
	apiKeys   map[string]string // tenant -> key
}

// New builds an authenticator from config, loading the tenants file if
// one is configured. Keys in the tenants file override inline keys.
func New(cfg config.AuthConfig) (*Authenticator, error) {
	a := &Authenticator{
		mode:      cfg.Mode,
		globalKey: cfg.GlobalKey,
		apiKeys:   make(map[string]string, len(cfg.APIKeys)),
	}
	for tenant, key := range cfg.APIKeys {
		a.apiKeys[tenant] = key
	}

	if cfg.TenantsFile != "" {
		if err := a.loadTenantsFile(cfg.TenantsFile); err != nil {
			return nil, err
		}
	}

	if a.mode == "static" && a.globalKey == "" && len(a.apiKeys) == 0 {
		return nil, fmt.Errorf("auth.mode=static requires global_key or api_keys")
	}
	return a, nil
}

// loadTenantsFile merges per-tenant keys from a YAML file of the shape:
//
//	api_keys:
//	  acme: secret-key
func (a *Authenticator) loadTenantsFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading tenants file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("parsing tenants file: %w", err)
	}

	for tenant, key := range k.StringMap("api_keys") {
		a.apiKeys[tenant] = key
	}
	if global := k.String("global_key"); global != "" {
		a.globalKey = global
	}
	return nil
}

// Resolve maps an Authorization header value to a Context.
func (a *Authenticator) Resolve(authorization string) (Context, error) {
	if a.mode == "none" {
		return Context{Admin: true}, nil
	}

	token, ok := bearerToken(authorization)
	if !ok {
		return Context{}, apperr.Unauthorized("missing or invalid authorization header")
	}

	if a.globalKey != "" && token == a.globalKey {
		return Context{Admin: true}, nil
	}
	for tenant, key := range a.apiKeys {
		if token == key {
			return Context{Tenant: tenant}, nil
		}
	}

	return Context{}, apperr.Forbidden("forbidden")
}

func bearerToken(authorization string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(authorization), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// EnforceStartupPolicy fails fast when the configuration would expose
// an unauthenticated server: auth.mode=none outside dev mode is
// rejected, and in dev mode the bind address is forced to loopback.
func EnforceStartupPolicy(cfg *config.Config) error {
	if cfg.Auth.Mode != "none" {
		return nil
	}
	if !cfg.Dev {
		return fmt.Errorf("auth.mode=none not allowed in production: set auth.mode=static with a key, or run with dev: true")
	}
	if cfg.Server.Host != "127.0.0.1" && cfg.Server.Host != "localhost" {
		cfg.Server.Host = "127.0.0.1"
	}
	return nil
}
