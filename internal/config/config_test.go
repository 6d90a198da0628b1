package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	req := require.New(t)
	c := DefaultConfig()

	req.NoError(c.Validate())
	req.Equal(StoreDriverSQLite, c.Store.Driver)
	req.Equal(IdentityDriverSQLite, c.Identity.Driver)
	req.False(c.Presence.EvictSuperseded)
	req.Equal(50, c.Gateway.HistoryLimit)
	req.Equal("0.0.0.0:8080", c.HTTP.Address())
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	req := require.New(t)
	c := DefaultConfig()
	c.HTTP.Port = -1
	c.Level = "loud"
	c.WebSocket.ReadTimeout = c.WebSocket.PingInterval
	c.Database.Path = ""

	err := c.Validate()
	req.Error(err)
	req.Contains(err.Error(), "Config.HTTP.Port")
	req.Contains(err.Error(), "Config.Level")
	req.Contains(err.Error(), "Config.WebSocket.ReadTimeout")
	req.Contains(err.Error(), "database path cannot be empty")
}

func TestConfig_ValidateDrivers(t *testing.T) {
	req := require.New(t)

	c := DefaultConfig()
	c.Store.Driver = "postgres"
	req.ErrorContains(c.Validate(), "Config.Store.Driver")

	c = DefaultConfig()
	c.Store.Driver = StoreDriverBadger
	c.Store.Badger.Path = ""
	req.ErrorContains(c.Validate(), "store.badger.path")
	c.Store.Badger.InMemory = true
	req.NoError(c.Validate())

	// SQLite settings are ignored once nothing uses SQLite.
	c.Identity.Driver = IdentityDriverNone
	c.Database.Path = ""
	req.NoError(c.Validate())

	c.Identity.Driver = IdentityDriverMongo
	c.Identity.Mongo.URI = ""
	req.ErrorContains(c.Validate(), "identity.mongo")
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	req := require.New(t)
	c, err := Load("")
	req.NoError(err)
	req.Equal(DefaultConfig().HTTP, c.HTTP)
	req.Equal([]string{"*"}, c.WebSocket.AllowedOrigins)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "familychat.yaml")
	req.NoError(os.WriteFile(path, []byte(`
level: debug
http:
  port: 9090
websocket:
  ping_interval: 10s
  read_timeout: 25s
  allowed_origins:
    - family.example.org
store:
  driver: badger
  badger:
    path: /var/lib/familychat/badger
presence:
  evict_superseded: true
gateway:
  history_limit: 20
`), 0o600))

	t.Setenv("FAMILYCHAT_HTTP_PORT", "9191")
	t.Setenv("FAMILYCHAT_GATEWAY_MESSAGES_PER_MINUTE", "5")
	t.Setenv("FAMILYCHAT_DATABASE_WRITE_TIMEOUT", "750ms")

	c, err := Load(path)
	req.NoError(err)

	req.Equal("debug", c.Level)
	req.Equal(9191, c.HTTP.Port)
	req.Equal(10*time.Second, c.WebSocket.PingInterval)
	req.Equal(25*time.Second, c.WebSocket.ReadTimeout)
	req.Equal([]string{"family.example.org"}, c.WebSocket.AllowedOrigins)
	req.Equal(StoreDriverBadger, c.Store.Driver)
	req.Equal("/var/lib/familychat/badger", c.Store.Badger.Path)
	req.True(c.Presence.EvictSuperseded)
	req.Equal(20, c.Gateway.HistoryLimit)
	req.Equal(5, c.Gateway.MessagesPerMinute)
	req.Equal(750*time.Millisecond, c.Database.WriteTimeout)
	// Untouched keys keep their defaults.
	req.Equal(4000, c.Gateway.MaxBodyLength)
	req.Equal(path, c.ConfigFile)
}

func TestLoad_Errors(t *testing.T) {
	req := require.New(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	req.ErrorContains(err, "failed to read config file")

	t.Setenv("FAMILYCHAT_HTTP_PORT", "70000")
	_, err = Load("")
	req.ErrorContains(err, "invalid configuration")
}

func TestLoadWithFlags(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "familychat.json")
	req.NoError(os.WriteFile(path, []byte(`{"level": "warn", "gateway": {"history_limit": 7}}`), 0o600))

	flags := Flags()
	req.NoError(flags.Parse([]string{"--config", path, "--level", "error"}))

	c, err := LoadWithFlags("ignored.yaml", flags)
	req.NoError(err)
	req.Equal("error", c.Level)
	req.Equal(7, c.Gateway.HistoryLimit)
	req.Equal(path, c.ConfigFile)
}

func TestInitLogging(t *testing.T) {
	req := require.New(t)
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	logger, err := InitLogging("warn")
	req.NoError(err)
	req.Same(logger, zap.L())
	req.False(logger.Core().Enabled(zap.InfoLevel))
	req.True(logger.Core().Enabled(zap.WarnLevel))

	logger, err = InitLogging("nonsense")
	req.NoError(err)
	req.True(logger.Core().Enabled(zap.InfoLevel))
}
