package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "cachelab.db", cfg.Storage.Path)
	assert.Equal(t, 2*time.Second, cfg.Storage.BusyTimeout)
	assert.True(t, cfg.Storage.AutoMigrate)
	assert.Equal(t, "ristretto", cfg.Cache.Provider)
	assert.Equal(t, "local", cfg.Cache.TagStore)
	assert.Equal(t, "cbor", cfg.Cache.Codec)
	assert.Equal(t, "memory", cfg.Bus.Backend)
	assert.Equal(t, 150*time.Millisecond, cfg.Checkout.RetryDelay)
	assert.Equal(t, 5*time.Second, cfg.Checkout.TxTimeout)
	assert.Equal(t, "zap", cfg.Logging.Backend)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cachelab.yaml")
	doc := `
http:
  addr: ":9090"
storage:
  path: /tmp/shop.db
cache:
  provider: Redis
  codec: msgpack
checkout:
  retry_delay: 300ms
logging:
  backend: logrus
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	t.Setenv("CACHELAB_HTTP_ADDR", ":7070")
	t.Setenv("CACHELAB_CHECKOUT_TX_TIMEOUT", "2s")
	t.Setenv("CACHELAB_BUS_BACKEND", "redis")

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTP.Addr, "env wins over file")
	assert.Equal(t, "/tmp/shop.db", cfg.Storage.Path)
	assert.Equal(t, "redis", cfg.Cache.Provider, "normalized to lower case")
	assert.Equal(t, "msgpack", cfg.Cache.Codec)
	assert.Equal(t, 300*time.Millisecond, cfg.Checkout.RetryDelay)
	assert.Equal(t, 2*time.Second, cfg.Checkout.TxTimeout)
	assert.Equal(t, "redis", cfg.Bus.Backend)
	assert.Equal(t, "logrus", cfg.Logging.Backend)
	assert.True(t, cfg.NeedsRedis())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	cfg.Cache.Provider = "memcached"
	cfg.Cache.Codec = "xml"
	cfg.Logging.Level = "loud"
	cfg.Checkout.RetryDelay = -time.Second

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"cache.provider", "cache.codec", "logging.level", "checkout.retry_delay"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRedisAddr(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	cfg.Cache.TagStore = "redis"
	cfg.Redis.Addr = " "
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.addr")
}

func TestInvalidEnvRejected(t *testing.T) {
	t.Setenv("CACHELAB_CACHE_TAGSTORE", "etcd")
	_, err := Load(New(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.tagstore")
}
