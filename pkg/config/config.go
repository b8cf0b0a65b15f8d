package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"rillcall/pkg/circuitbreaker"
	"rillcall/pkg/retry"
	"rillcall/pkg/tracing"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	// Identity is the token issued to this node's user by the auth backend.
	Identity struct {
		JWTSecret string `yaml:"jwt_secret"`
		Token     string `yaml:"token"`
	} `yaml:"identity"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		GatherTimeout time.Duration `yaml:"gather_timeout"`
	} `yaml:"webrtc"`

	Media struct {
		Enabled      bool `yaml:"enabled"`
		VideoWidth   int  `yaml:"video_width"`
		VideoHeight  int  `yaml:"video_height"`
		FrameRate    int  `yaml:"frame_rate"`
		VideoBitrate int  `yaml:"video_bitrate"` // bps
	} `yaml:"media"`

	Presence struct {
		Backend           string        `yaml:"backend"` // memory | redis
		Channel           string        `yaml:"channel"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		MemberTTL         time.Duration `yaml:"member_ttl"`
		Resubscribe       retry.Config  `yaml:"resubscribe"`
	} `yaml:"presence"`

	Signaling struct {
		InviteRate  float64 `yaml:"invite_rate"` // invites per second
		InviteBurst int     `yaml:"invite_burst"`
	} `yaml:"signaling"`

	Mesh struct {
		InitiatorPolicy string `yaml:"initiator_policy"` // lowest_id | both
	} `yaml:"mesh"`

	History struct {
		Backend        string                `yaml:"backend"` // memory | redis | sqlite
		SQLitePath     string                `yaml:"sqlite_path"`
		WriteTimeout   time.Duration         `yaml:"write_timeout"`
		CircuitBreaker circuitbreaker.Config `yaml:"circuit_breaker"`
		Retry          retry.Config          `yaml:"retry"`
	} `yaml:"history"`

	Notify struct {
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		SendBuffer     int           `yaml:"send_buffer"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"notify"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing tracing.Config `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// UsesRedis reports whether any backend needs the shared redis client.
func (c *Config) UsesRedis() bool {
	return c.Presence.Backend == "redis" || c.History.Backend == "redis"
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Identity
	if c.Identity.JWTSecret == "" {
		return fmt.Errorf("identity.jwt_secret must not be empty")
	}

	// WebRTC
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
	}
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	if c.WebRTC.GatherTimeout <= 0 {
		return fmt.Errorf("webrtc.gather_timeout must be > 0")
	}

	// Media
	if c.Media.Enabled {
		if c.Media.VideoWidth <= 0 || c.Media.VideoHeight <= 0 {
			return fmt.Errorf("media.video_width and media.video_height must be > 0")
		}
		if c.Media.FrameRate <= 0 {
			return fmt.Errorf("media.frame_rate must be > 0")
		}
	}

	// Presence
	switch c.Presence.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("presence.backend must be memory or redis, got %q", c.Presence.Backend)
	}
	if c.Presence.Channel == "" {
		return fmt.Errorf("presence.channel must not be empty")
	}
	if c.Presence.HeartbeatInterval <= 0 {
		return fmt.Errorf("presence.heartbeat_interval must be > 0")
	}
	if c.Presence.MemberTTL <= c.Presence.HeartbeatInterval {
		return fmt.Errorf("presence.member_ttl must be > presence.heartbeat_interval")
	}
	if c.Presence.Resubscribe.Enabled && c.Presence.Resubscribe.InitialDelay <= 0 {
		return fmt.Errorf("presence.resubscribe.initial_delay must be > 0")
	}

	// Signaling
	if c.Signaling.InviteRate <= 0 {
		return fmt.Errorf("signaling.invite_rate must be > 0")
	}
	if c.Signaling.InviteBurst <= 0 {
		return fmt.Errorf("signaling.invite_burst must be > 0")
	}

	// Mesh
	switch c.Mesh.InitiatorPolicy {
	case "lowest_id", "both":
	default:
		return fmt.Errorf("mesh.initiator_policy must be lowest_id or both, got %q", c.Mesh.InitiatorPolicy)
	}

	// History
	switch c.History.Backend {
	case "memory", "redis":
	case "sqlite":
		if c.History.SQLitePath == "" {
			return fmt.Errorf("history.sqlite_path must not be empty when history.backend=sqlite")
		}
	default:
		return fmt.Errorf("history.backend must be memory, redis or sqlite, got %q", c.History.Backend)
	}
	if c.History.WriteTimeout <= 0 {
		return fmt.Errorf("history.write_timeout must be > 0")
	}
	if c.History.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("history.circuit_breaker.failure_threshold must be > 0")
	}

	// Notify
	if c.Notify.PingInterval <= 0 {
		return fmt.Errorf("notify.ping_interval must be > 0")
	}
	if c.Notify.PongTimeout <= c.Notify.PingInterval {
		return fmt.Errorf("notify.pong_timeout must be > notify.ping_interval")
	}
	if c.Notify.SendBuffer <= 0 {
		return fmt.Errorf("notify.send_buffer must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.UsesRedis() {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when a redis backend is selected")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when a redis backend is selected")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// fall back to defaults
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Identity.JWTSecret = "change-me-in-production"

	cfg.WebRTC.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}},
	}
	cfg.WebRTC.GatherTimeout = 10 * time.Second

	cfg.Media.Enabled = true
	cfg.Media.VideoWidth = 640
	cfg.Media.VideoHeight = 480
	cfg.Media.FrameRate = 30
	cfg.Media.VideoBitrate = 1_000_000

	cfg.Presence.Backend = "memory"
	cfg.Presence.Channel = "online-users"
	cfg.Presence.HeartbeatInterval = 15 * time.Second
	cfg.Presence.MemberTTL = 45 * time.Second
	cfg.Presence.Resubscribe = retry.Config{
		Enabled:      true,
		MaxAttempts:  0,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	cfg.Signaling.InviteRate = 1
	cfg.Signaling.InviteBurst = 3

	cfg.Mesh.InitiatorPolicy = "lowest_id"

	cfg.History.Backend = "memory"
	cfg.History.SQLitePath = "data/rillcall.db"
	cfg.History.WriteTimeout = 5 * time.Second
	cfg.History.CircuitBreaker = circuitbreaker.DefaultConfig()
	// Recorder writes are fire-and-forget; transport retries are opt-in.
	cfg.History.Retry = retry.DefaultConfig()
	cfg.History.Retry.Enabled = false

	cfg.Notify.PingInterval = 30 * time.Second
	cfg.Notify.PongTimeout = 60 * time.Second
	cfg.Notify.SendBuffer = 64
	cfg.Notify.AllowedOrigins = []string{"*"}

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing = tracing.DefaultConfig()

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("RILLCALL_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("RILLCALL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("RILLCALL_JWT_SECRET"); secret != "" {
		c.Identity.JWTSecret = secret
	}
	if token := os.Getenv("RILLCALL_IDENTITY_TOKEN"); token != "" {
		c.Identity.Token = token
	}
	if addr := os.Getenv("RILLCALL_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if backend := os.Getenv("RILLCALL_PRESENCE_BACKEND"); backend != "" {
		c.Presence.Backend = backend
	}
	if backend := os.Getenv("RILLCALL_HISTORY_BACKEND"); backend != "" {
		c.History.Backend = backend
	}
	if urls := os.Getenv("RILLCALL_STUN_URLS"); urls != "" {
		c.WebRTC.ICEServers = []ICEServer{{URLs: strings.Split(urls, ",")}}
	}
	if v := os.Getenv("RILLCALL_MEDIA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Media.Enabled = enabled
		}
	}
}
