package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, "none", cfg.Auth.Mode)
	assert.Equal(t, "chromem", cfg.VectorStore.Backend)
	assert.Equal(t, "./data", cfg.VectorStore.DataDir)
	assert.Equal(t, 800, cfg.Chunk.TXT.Size)
	assert.Equal(t, 120, cfg.Chunk.TXT.Overlap)
	assert.Equal(t, 64, cfg.Limits.Search.MaxConcurrent)
	assert.Equal(t, 5000, cfg.Limits.Search.TimeoutMS)
	assert.Equal(t, 5, cfg.Limits.Search.Overfetch)
	assert.Equal(t, 4, cfg.Limits.Ingest.MaxConcurrent)
}

func TestYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patchvec.yml")
	content := `
server:
  port: 9999
vector_store:
  backend: qdrant
  data_dir: /var/lib/patchvec
chunk:
  txt:
    size: 1000
    overlap: 200
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "qdrant", cfg.VectorStore.Backend)
	assert.Equal(t, "/var/lib/patchvec", cfg.VectorStore.DataDir)
	assert.Equal(t, 1000, cfg.Chunk.TXT.Size)
	assert.Equal(t, 200, cfg.Chunk.TXT.Overlap)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patchvec.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0600))

	t.Setenv("PATCHVEC_SERVER__PORT", "7777")
	t.Setenv("PATCHVEC_CHUNK__TXT__SIZE", "500")
	t.Setenv("PATCHVEC_VECTOR_STORE__BACKEND", "qdrant")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Chunk.TXT.Size)
	assert.Equal(t, "qdrant", cfg.VectorStore.Backend)
}

func TestEnvKeyTransform(t *testing.T) {
	assert.Equal(t, "auth.mode", envKeyTransform("PATCHVEC_AUTH__MODE"))
	assert.Equal(t, "server.log_level", envKeyTransform("PATCHVEC_SERVER__LOG_LEVEL"))
	assert.Equal(t, "chunk.txt.size", envKeyTransform("PATCHVEC_CHUNK__TXT__SIZE"))
	// PATCHVEC_CONFIG is the file path, not a key.
	assert.Equal(t, "", envKeyTransform("PATCHVEC_CONFIG"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = -1 }},
		{"bad auth mode", func(c *Config) { c.Auth.Mode = "ldap" }},
		{"static without keys", func(c *Config) { c.Auth.Mode = "static" }},
		{"bad backend", func(c *Config) { c.VectorStore.Backend = "faiss" }},
		{"bad embedder", func(c *Config) { c.Embedder.Type = "magic" }},
		{"overlap >= size", func(c *Config) { c.Chunk.TXT.Size = 100; c.Chunk.TXT.Overlap = 100 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			applyDefaults(&cfg)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRuntimeSwap(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)
	rt := NewRuntime(&cfg)

	size, overlap := rt.TXTChunk()
	assert.Equal(t, 800, size)
	assert.Equal(t, 120, overlap)

	next := cfg
	next.Chunk.TXT.Size = 400
	next.Chunk.TXT.Overlap = 50
	rt.swap(&next)

	size, overlap = rt.TXTChunk()
	assert.Equal(t, 400, size)
	assert.Equal(t, 50, overlap)
}
