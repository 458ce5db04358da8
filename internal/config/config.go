// Package config loads relay configuration from defaults, an optional YAML
// file, environment variables and command-line overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bhandras/relay/internal/policy"
	"github.com/bhandras/relay/internal/ratelimit"
	"github.com/bhandras/relay/internal/relay"
	"github.com/bhandras/relay/internal/store"
	"github.com/bhandras/relay/pkg/logger"
	"gopkg.in/yaml.v3"
)

// Policy drivers.
const (
	PolicyStatic = "static"
	PolicyRedis  = "redis"
)

// Config holds relay configuration.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr     string `yaml:"addr"`
	Debug    bool   `yaml:"debug"`
	LogLevel string `yaml:"log_level"`
	// AllowedOrigins configures CORS for the HTTP API.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// AdminSecret enables the admin API when set.
	AdminSecret string `yaml:"admin_secret"`

	Limits     Limits       `yaml:"limits"`
	Features   Features     `yaml:"features"`
	RateLimits RateLimits   `yaml:"rate_limits"`
	Sessions   Sessions     `yaml:"sessions"`
	Store      store.Config `yaml:"store"`
	Policy     Policy       `yaml:"policy"`
	Info       Info         `yaml:"info"`
}

// Limits are the protocol limits enforced per message.
//
// MaxMessageSize is the transport ceiling for one inbound frame; frames above
// it close the connection. Zero means four times MaxEventSize, so oversized
// events still reach validation and get an OK rejection.
type Limits struct {
	AuthRequired     bool  `yaml:"auth_required"`
	MaxEventSize     int   `yaml:"max_event_size"`
	MaxMessageSize   int   `yaml:"max_message_size"`
	MaxSubscriptions int   `yaml:"max_subscriptions"`
	MaxFilters       int   `yaml:"max_filters"`
	MaxLimit         int   `yaml:"max_limit"`
	DefaultLimit     int   `yaml:"default_limit"`
	CreatedAtLower   int64 `yaml:"created_at_lower"`
	CreatedAtUpper   int64 `yaml:"created_at_upper"`
}

// Features toggles optional protocol extensions.
type Features struct {
	Search    bool `yaml:"search"`
	Deletion  bool `yaml:"deletion"`
	Ephemeral bool `yaml:"ephemeral"`
}

// RateLimits configures the per-session buckets.
type RateLimits struct {
	Events ratelimit.Config `yaml:"events"`
	Reqs   ratelimit.Config `yaml:"reqs"`
}

// Sessions tunes connection bookkeeping.
type Sessions struct {
	QueueSize     int           `yaml:"queue_size"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Policy selects the access policy.
type Policy struct {
	// Driver is static or redis.
	Driver  string             `yaml:"driver"`
	Authors []string           `yaml:"authors"`
	Kinds   []int              `yaml:"kinds"`
	Redis   policy.RedisConfig `yaml:"redis"`
}

// Info is published in the relay information document.
type Info struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	PubKey      string `yaml:"pubkey"`
	Contact     string `yaml:"contact"`
	Icon        string `yaml:"icon"`
}

// Overrides optionally overrides values from the file and environment.
//
// A nil pointer means "use the file/environment/default value".
type Overrides struct {
	ConfigPath   *string
	Addr         *string
	StoreDriver  *string
	DatabasePath *string
	AuthRequired *bool
	Debug        *bool
}

// Default returns the stock configuration.
func Default() *Config {
	engine := relay.DefaultConfig()
	return &Config{
		Addr:           "0.0.0.0:8080",
		LogLevel:       "info",
		AllowedOrigins: []string{"*"},
		Limits: Limits{
			AuthRequired:     engine.AuthRequired,
			MaxEventSize:     engine.MaxEventSize,
			MaxSubscriptions: 20,
			MaxFilters:       engine.MaxFilters,
			MaxLimit:         engine.MaxLimit,
			DefaultLimit:     engine.DefaultLimit,
			CreatedAtLower:   engine.CreatedAtLower,
			CreatedAtUpper:   engine.CreatedAtUpper,
		},
		Features: Features{
			Search:    engine.EnableSearch,
			Deletion:  engine.EnableDeletion,
			Ephemeral: engine.EnableEphemeral,
		},
		RateLimits: RateLimits{
			Events: ratelimit.Config{Rate: 10, Capacity: 10},
			Reqs:   ratelimit.Config{Rate: 30, Capacity: 30},
		},
		Sessions: Sessions{
			QueueSize:     256,
			IdleTimeout:   30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Store: store.Config{
			Driver: store.DriverMemory,
		},
		Policy: Policy{
			Driver: PolicyStatic,
		},
		Info: Info{
			Name:        "Nostr Relay",
			Description: "A Nostr relay service",
		},
	}
}

// Load builds the configuration. The YAML file is read from
// overrides.ConfigPath or RELAY_CONFIG when either is set.
func Load(overrides Overrides) (*Config, error) {
	cfg := Default()

	path := os.Getenv("RELAY_CONFIG")
	if overrides.ConfigPath != nil {
		path = *overrides.ConfigPath
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyOverrides(overrides)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	defaultLimit := c.Limits.DefaultLimit
	c.Limits.DefaultLimit = 0
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if c.Limits.DefaultLimit == 0 {
		c.Limits.DefaultLimit = c.inheritedDefaultLimit(defaultLimit)
	}
	return nil
}

// inheritedDefaultLimit is the default limit to keep when only max_limit
// was configured: the previous value, lowered to the new maximum.
func (c *Config) inheritedDefaultLimit(prev int) int {
	if c.Limits.MaxLimit > 0 && prev > c.Limits.MaxLimit {
		return c.Limits.MaxLimit
	}
	return prev
}

// MessageLimit returns the transport read limit for one inbound frame.
func (c *Config) MessageLimit() int64 {
	if c.Limits.MaxMessageSize > 0 {
		return int64(c.Limits.MaxMessageSize)
	}
	return 4 * int64(c.Limits.MaxEventSize)
}

type lookupFunc func(key string) (string, bool)

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (r *envReader) integer64(key string, dst *int64) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

// bucket reads a single number used as both capacity and refill period.
func (r *envReader) bucket(key string, dst *ratelimit.Config) {
	n := -1
	r.integer(key, &n)
	if n >= 0 {
		*dst = ratelimit.Config{Rate: float64(n), Capacity: n}
	}
}

func (r *envReader) list(key string, dst *[]string) {
	v, ok := r.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (r *envReader) ints(key string, dst *[]int) {
	var raw []string
	r.list(key, &raw)
	if raw == nil {
		return
	}
	out := make([]int, 0, len(raw))
	for _, s := range raw {
		n, err := strconv.Atoi(s)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		out = append(out, n)
	}
	*dst = out
}

func (c *Config) applyEnv(lookup lookupFunc) error {
	r := &envReader{lookup: lookup}

	host, port := splitAddr(c.Addr)
	r.str("HOST", &host)
	r.str("PORT", &port)
	c.Addr = net.JoinHostPort(host, port)

	r.boolean("DEBUG", &c.Debug)
	r.str("LOG_LEVEL", &c.LogLevel)
	r.list("ALLOWED_ORIGINS", &c.AllowedOrigins)
	r.str("RELAY_ADMIN_SECRET", &c.AdminSecret)

	r.boolean("AUTH_REQUIRED", &c.Limits.AuthRequired)
	r.integer("MAX_EVENT_SIZE_BYTES", &c.Limits.MaxEventSize)
	r.integer("MAX_SUBSCRIPTIONS_PER_CLIENT", &c.Limits.MaxSubscriptions)
	r.integer("MAX_FILTERS_PER_SUBSCRIPTION", &c.Limits.MaxFilters)
	r.integer("MAX_MESSAGE_SIZE_BYTES", &c.Limits.MaxMessageSize)
	r.integer("MAX_LIMIT_PER_FILTER", &c.Limits.MaxLimit)
	if _, set := lookup("DEFAULT_LIMIT_PER_FILTER"); set {
		r.integer("DEFAULT_LIMIT_PER_FILTER", &c.Limits.DefaultLimit)
	} else {
		c.Limits.DefaultLimit = c.inheritedDefaultLimit(c.Limits.DefaultLimit)
	}
	r.integer64("CREATED_AT_LOWER_LIMIT", &c.Limits.CreatedAtLower)
	r.integer64("CREATED_AT_UPPER_LIMIT", &c.Limits.CreatedAtUpper)

	r.boolean("ENABLE_SEARCH", &c.Features.Search)
	r.boolean("ENABLE_DELETION", &c.Features.Deletion)
	r.boolean("ENABLE_EPHEMERAL", &c.Features.Ephemeral)

	r.bucket("RATE_LIMIT_EVENTS", &c.RateLimits.Events)
	r.bucket("RATE_LIMIT_REQ", &c.RateLimits.Reqs)

	r.duration("IDLE_TIMEOUT", &c.Sessions.IdleTimeout)
	r.duration("SWEEP_INTERVAL", &c.Sessions.SweepInterval)

	r.str("STORE_DRIVER", &c.Store.Driver)
	r.str("DATABASE_PATH", &c.Store.Path)
	r.str("DATABASE_URL", &c.Store.DSN)
	if _, set := lookup("STORE_DRIVER"); !set && c.Store.DSN != "" && c.Store.Driver == store.DriverMemory {
		c.Store.Driver = store.DriverPostgres
	}

	r.list("WHITELIST_PUBKEYS", &c.Policy.Authors)
	r.ints("ALLOWED_KINDS", &c.Policy.Kinds)
	r.str("REDIS_ADDR", &c.Policy.Redis.Addr)
	r.str("REDIS_PASSWORD", &c.Policy.Redis.Password)
	r.integer("REDIS_DB", &c.Policy.Redis.DB)
	if _, set := lookup("REDIS_ADDR"); set && c.Policy.Redis.Addr != "" {
		c.Policy.Driver = PolicyRedis
	}

	r.str("RELAY_NAME", &c.Info.Name)
	r.str("RELAY_DESCRIPTION", &c.Info.Description)
	r.str("RELAY_PUBKEY", &c.Info.PubKey)
	r.str("RELAY_CONTACT", &c.Info.Contact)
	r.str("RELAY_ICON", &c.Info.Icon)

	return errors.Join(r.errs...)
}

func splitAddr(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "0.0.0.0", "8080"
	}
	return host, port
}

func (c *Config) applyOverrides(o Overrides) {
	if o.Addr != nil {
		c.Addr = *o.Addr
	}
	if o.StoreDriver != nil {
		c.Store.Driver = *o.StoreDriver
	}
	if o.DatabasePath != nil {
		c.Store.Path = *o.DatabasePath
	}
	if o.AuthRequired != nil {
		c.Limits.AuthRequired = *o.AuthRequired
	}
	if o.Debug != nil {
		c.Debug = *o.Debug
	}
	if c.Debug {
		c.LogLevel = "debug"
	}
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch {
	case c.Limits.MaxEventSize <= 0:
		return errors.New("max_event_size must be positive")
	case c.Limits.MaxMessageSize != 0 && c.Limits.MaxMessageSize < c.Limits.MaxEventSize:
		return errors.New("max_message_size must not be below max_event_size")
	case c.Limits.MaxFilters <= 0:
		return errors.New("max_filters must be positive")
	case c.Limits.MaxLimit <= 0:
		return errors.New("max_limit must be positive")
	case c.Limits.DefaultLimit <= 0 || c.Limits.DefaultLimit > c.Limits.MaxLimit:
		return fmt.Errorf("default_limit must be within [1, %d]", c.Limits.MaxLimit)
	case c.Limits.CreatedAtUpper != 0 && c.Limits.CreatedAtUpper < c.Limits.CreatedAtLower:
		return errors.New("created_at_upper must not be below created_at_lower")
	case c.Sessions.IdleTimeout < 0 || c.Sessions.SweepInterval < 0:
		return errors.New("session timeouts must not be negative")
	}

	switch c.Store.Driver {
	case store.DriverMemory:
	case store.DriverSQLite, store.DriverBadger:
		if c.Store.Path == "" {
			return fmt.Errorf("store driver %s requires a path", c.Store.Driver)
		}
	case store.DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store driver postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("%w: %q", store.ErrUnknownDriver, c.Store.Driver)
	}

	switch c.Policy.Driver {
	case PolicyStatic:
	case PolicyRedis:
		if c.Policy.Redis.Addr == "" {
			return errors.New("policy driver redis requires an address")
		}
	default:
		return fmt.Errorf("unknown policy driver %q", c.Policy.Driver)
	}
	return nil
}

// Engine returns the protocol engine settings.
func (c *Config) Engine() relay.Config {
	return relay.Config{
		AuthRequired:    c.Limits.AuthRequired,
		MaxEventSize:    c.Limits.MaxEventSize,
		MaxFilters:      c.Limits.MaxFilters,
		MaxLimit:        c.Limits.MaxLimit,
		DefaultLimit:    c.Limits.DefaultLimit,
		CreatedAtLower:  c.Limits.CreatedAtLower,
		CreatedAtUpper:  c.Limits.CreatedAtUpper,
		EnableSearch:    c.Features.Search,
		EnableDeletion:  c.Features.Deletion,
		EnableEphemeral: c.Features.Ephemeral,
	}
}

// RateLimitConfigs returns the bucket settings keyed by action class.
func (c *Config) RateLimitConfigs() map[ratelimit.Class]ratelimit.Config {
	return map[ratelimit.Class]ratelimit.Config{
		ratelimit.ClassPublish:   c.RateLimits.Events,
		ratelimit.ClassSubscribe: c.RateLimits.Reqs,
	}
}
