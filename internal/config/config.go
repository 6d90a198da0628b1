// Package config loads familychat settings from defaults, an optional config
// file, the environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"familychat/internal/identity"
	"familychat/internal/storage"
	dbconfig "familychat/pkg/database"
)

// EnvPrefix prefixes every environment override, e.g. FAMILYCHAT_HTTP_PORT.
const EnvPrefix = "FAMILYCHAT"

const (
	StoreDriverSQLite = "sqlite"
	StoreDriverBadger = "badger"

	IdentityDriverSQLite = "sqlite"
	IdentityDriverMongo  = "mongo"
	IdentityDriverNone   = "none"
)

type Config struct {
	Level      string `mapstructure:"level" json:"level" validate:"oneof=debug info warn error"`
	ConfigFile string `mapstructure:"config" json:"config"`

	HTTP       HTTPConfig       `mapstructure:"http" json:"http"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket" json:"websocket"`
	Database   dbconfig.Config  `mapstructure:"database" json:"database"`
	Store      StoreConfig      `mapstructure:"store" json:"store"`
	Identity   IdentityConfig   `mapstructure:"identity" json:"identity"`
	Presence   PresenceConfig   `mapstructure:"presence" json:"presence"`
	Gateway    GatewayConfig    `mapstructure:"gateway" json:"gateway"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" json:"monitoring"`
}

type HTTPConfig struct {
	Host            string        `mapstructure:"host" json:"host" validate:"required"`
	Port            int           `mapstructure:"port" json:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
}

// Address is the listen address of the HTTP server.
func (c HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type WebSocketConfig struct {
	AllowedOrigins  []string      `mapstructure:"allowed_origins" json:"allowed_origins" validate:"min=1"`
	PingInterval    time.Duration `mapstructure:"ping_interval" json:"ping_interval" validate:"gt=0"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout" validate:"gtfield=PingInterval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout" validate:"gt=0"`
	SendBuffer      int           `mapstructure:"send_buffer" json:"send_buffer" validate:"min=1"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" json:"max_message_bytes" validate:"min=512"`
}

// StoreConfig selects the message store. SQLite uses the database section.
type StoreConfig struct {
	Driver string         `mapstructure:"driver" json:"driver" validate:"oneof=sqlite badger"`
	Badger storage.Config `mapstructure:"badger" json:"badger"`
}

// IdentityConfig selects the identity directory. A zero CacheTTL disables the
// profile cache.
type IdentityConfig struct {
	Driver          string               `mapstructure:"driver" json:"driver" validate:"oneof=sqlite mongo none"`
	Mongo           identity.MongoConfig `mapstructure:"mongo" json:"mongo"`
	CacheTTL        time.Duration        `mapstructure:"cache_ttl" json:"cache_ttl" validate:"gte=0"`
	ResolverTimeout time.Duration        `mapstructure:"resolver_timeout" json:"resolver_timeout" validate:"gt=0"`
}

type PresenceConfig struct {
	// EvictSuperseded closes the older connection when a username is
	// declared again in the same group.
	EvictSuperseded bool `mapstructure:"evict_superseded" json:"evict_superseded"`
}

type GatewayConfig struct {
	HistoryLimit      int `mapstructure:"history_limit" json:"history_limit" validate:"min=0,max=500"`
	MessagesPerMinute int `mapstructure:"messages_per_minute" json:"messages_per_minute" validate:"min=1"`
	MaxBodyLength     int `mapstructure:"max_body_length" json:"max_body_length" validate:"min=1"`
	QueueSize         int `mapstructure:"queue_size" json:"queue_size" validate:"min=1"`
}

// MonitoringConfig controls /metrics. An empty Bind serves it on the main
// HTTP listener.
type MonitoringConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Bind    string `mapstructure:"bind" json:"bind"`
}

func DefaultConfig() *Config {
	return &Config{
		Level: "info",
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins:  []string{"*"},
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			SendBuffer:      100,
			MaxMessageBytes: 64 * 1024,
		},
		Database: *dbconfig.DefaultConfig(),
		Store: StoreConfig{
			Driver: StoreDriverSQLite,
			Badger: storage.DefaultConfig(),
		},
		Identity: IdentityConfig{
			Driver:          IdentityDriverSQLite,
			Mongo:           identity.DefaultMongoConfig(),
			CacheTTL:        time.Minute,
			ResolverTimeout: 2 * time.Second,
		},
		Gateway: GatewayConfig{
			HistoryLimit:      50,
			MessagesPerMinute: 60,
			MaxBodyLength:     4000,
			QueueSize:         256,
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
		},
	}
}

var validate = validator.New()

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error

	if verr := validate.Struct(c); verr != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(verr, &fieldErrs) {
			return verr
		}
		for _, fe := range fieldErrs {
			err = multierr.Append(err, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}

	if dbErr := c.Database.Validate(); dbErr != nil && c.usesSQLite() {
		err = multierr.Append(err, fmt.Errorf("database: %w", dbErr))
	}
	if c.Store.Driver == StoreDriverBadger && !c.Store.Badger.InMemory && c.Store.Badger.Path == "" {
		err = multierr.Append(err, errors.New("store.badger.path is required unless in_memory is set"))
	}
	if c.Identity.Driver == IdentityDriverMongo {
		if mErr := c.Identity.Mongo.Validate(); mErr != nil {
			err = multierr.Append(err, fmt.Errorf("identity.mongo: %w", mErr))
		}
	}
	return err
}

func (c *Config) usesSQLite() bool {
	return c.Store.Driver == StoreDriverSQLite || c.Identity.Driver == IdentityDriverSQLite
}

// Flags returns the command-line flags Load understands.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("familychat", pflag.ContinueOnError)
	fs.String("config", "", "Config file location (yaml or json)")
	fs.String("level", "", "Log level: debug, info, warn or error")
	return fs
}

// Load reads the optional config file at path over the defaults, then
// applies FAMILYCHAT_* environment overrides.
func Load(path string) (*Config, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags is Load with parsed command-line flags layered on top. A
// --config flag takes precedence over path.
func LoadWithFlags(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, reflect.ValueOf(*DefaultConfig()))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			path = f.Value.String()
		}
		if f := flags.Lookup("level"); f != nil && f.Changed {
			if err := v.BindPFlag("level", f); err != nil {
				return nil, fmt.Errorf("failed to bind flag: %w", err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	c.ConfigFile = path

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// setDefaults registers every leaf of the default config under its
// mapstructure key, which also makes each key visible to AutomaticEnv.
func setDefaults(v *viper.Viper, value reflect.Value, parts ...string) {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, ok := field.Tag.Lookup("mapstructure")
		if !ok {
			continue
		}

		fv := value.Field(i)
		key := append(parts[:len(parts):len(parts)], tag)
		if fv.Kind() == reflect.Struct {
			setDefaults(v, fv, key...)
			continue
		}
		v.SetDefault(strings.Join(key, "."), fv.Interface())
	}
}
