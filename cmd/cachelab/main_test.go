package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	base := []string{
		"--db", db,
		"--cache-provider", "memory",
		"--log-backend", "slog",
		"--log-level", "error",
	}
	cmd.SetArgs(append(base, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateSeedAndList(t *testing.T) {
	db := filepath.Join(t.TempDir(), "shop.db")

	out, err := run(t, db, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date")

	out, err = run(t, db, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 6 categories, 30 products, 20 events, 5 profiles")

	out, err = run(t, db, "profiles", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "featured")
	assert.Contains(t, out, "product-detail")
	assert.Contains(t, out, "public, s-maxage=120, stale-while-revalidate=180")
}

func TestProfilesSetPersists(t *testing.T) {
	db := filepath.Join(t.TempDir(), "shop.db")

	out, err := run(t, db, "profiles", "set", "featured", "--stale", "10", "--revalidate", "20", "--expire", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "featured: stale=10 revalidate=20 expire=30")

	out, err = run(t, db, "profiles", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "public, s-maxage=10, stale-while-revalidate=20")
}

func TestProfilesSetRejectsBadInput(t *testing.T) {
	db := filepath.Join(t.TempDir(), "shop.db")

	_, err := run(t, db, "profiles", "set", "featured", "--stale", "50", "--revalidate", "20", "--expire", "30")
	require.Error(t, err)

	_, err = run(t, db, "profiles", "set", "homepage", "--stale", "1", "--revalidate", "2", "--expire", "3")
	require.Error(t, err)
}

func TestInvalidConfigFails(t *testing.T) {
	db := filepath.Join(t.TempDir(), "shop.db")
	_, err := run(t, db, "--cache-provider", "memcached", "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.provider")
}
