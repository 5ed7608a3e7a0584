package config

import (
	"fmt"
	"net/url"
	"time"
)

// Database drivers
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Event bus drivers
const (
	BusMemory   = "memory"
	BusRedis    = "redis"
	BusKafka    = "kafka"
	BusRabbitMQ = "rabbitmq"
)

// Config represents the global configuration
type Config struct {
	Service      string             `mapstructure:"service"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Bus          BusConfig          `mapstructure:"bus"`
	Log          LogConfig          `mapstructure:"log"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	CircuitBreak CircuitBreakConfig `mapstructure:"circuit_break"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Security     SecurityConfig     `mapstructure:"security"`
	Startup      StartupConfig      `mapstructure:"startup"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderMB     int           `mapstructure:"max_header_mb"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // mysql, postgres, memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	Charset         string        `mapstructure:"charset"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// BusConfig represents event bus configuration
type BusConfig struct {
	Driver          string        `mapstructure:"driver"` // memory, redis, kafka, rabbitmq
	MaxDeliveries   int           `mapstructure:"max_deliveries"`
	RedeliveryDelay time.Duration `mapstructure:"redelivery_delay"`
	Memory          struct {
		BufferSize int `mapstructure:"buffer_size"`
	} `mapstructure:"memory"`
	Redis struct {
		Addr         string        `mapstructure:"addr"`
		Password     string        `mapstructure:"password"`
		DB           int           `mapstructure:"db"`
		PoolSize     int           `mapstructure:"pool_size"`
		MinIdleConns int           `mapstructure:"min_idle_conns"`
		DialTimeout  time.Duration `mapstructure:"dial_timeout"`
		StreamPrefix string        `mapstructure:"stream_prefix"`
		BatchSize    int64         `mapstructure:"batch_size"`
		Block        time.Duration `mapstructure:"block"`
		ClaimMinIdle time.Duration `mapstructure:"claim_min_idle"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string      `mapstructure:"brokers"`
		MaxWait time.Duration `mapstructure:"max_wait"`
	} `mapstructure:"kafka"`
	RabbitMQ struct {
		URL      string `mapstructure:"url"`
		Exchange string `mapstructure:"exchange"`
		Prefetch int    `mapstructure:"prefetch"`
	} `mapstructure:"rabbitmq"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// TracingConfig represents tracing configuration
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// CircuitBreakConfig represents circuit breaker configuration
type CircuitBreakConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxRequests     uint32        `mapstructure:"max_requests"`
	Interval        time.Duration `mapstructure:"interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	FailureRatio    float64       `mapstructure:"failure_ratio"`
	MinRequestCount uint32        `mapstructure:"min_request_count"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	Catalog struct {
		Enabled     bool          `mapstructure:"enabled"`
		TTL         time.Duration `mapstructure:"ttl"`
		Shards      int           `mapstructure:"shards"`
		MaxSizeMB   int           `mapstructure:"max_size_mb"`
		CleanWindow time.Duration `mapstructure:"clean_window"`
	} `mapstructure:"catalog"`
	Bloom struct {
		Enabled           bool    `mapstructure:"enabled"`
		ExpectedItems     uint    `mapstructure:"expected_items"`
		FalsePositiveRate float64 `mapstructure:"false_positive_rate"`
	} `mapstructure:"bloom"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	JWT struct {
		Secret string        `mapstructure:"secret"`
		Expire time.Duration `mapstructure:"expire"`
		Issuer string        `mapstructure:"issuer"`
	} `mapstructure:"jwt"`
	CORS struct {
		Enabled      bool     `mapstructure:"enabled"`
		AllowOrigins []string `mapstructure:"allow_origins"`
	} `mapstructure:"cors"`
	DemoUser struct {
		Username     string `mapstructure:"username"`
		Password     string `mapstructure:"password"`
		PasswordHash string `mapstructure:"password_hash"` // bcrypt, preferred over password when set
	} `mapstructure:"demo_user"`
}

// StartupConfig controls retries against infrastructure at boot
type StartupConfig struct {
	Retries int           `mapstructure:"retries"`
	Backoff time.Duration `mapstructure:"backoff"`
}

// CatalogConfig represents catalog service configuration
type CatalogConfig struct {
	Seed struct {
		Enabled  bool  `mapstructure:"enabled"`
		Count    int   `mapstructure:"count"`
		RandSeed int64 `mapstructure:"rand_seed"`
	} `mapstructure:"seed"`
}

// GatewayConfig represents API gateway configuration
type GatewayConfig struct {
	CatalogURL string        `mapstructure:"catalog_url"`
	OrderURL   string        `mapstructure:"order_url"`
	DesignURL  string        `mapstructure:"design_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// GetAddr returns the server address
func (s *ServerConfig) GetAddr() string {
	host := s.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := s.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// GetDSN returns the DSN for the configured SQL driver
func (d *DatabaseConfig) GetDSN() string {
	switch d.Driver {
	case DriverPostgres:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			d.Host, d.Port, d.Username, d.Password, d.DBName, d.SSLMode)
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true&loc=UTC&timeout=10s",
			d.Username, d.Password, d.Host, d.Port, d.DBName, d.Charset)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case DriverMemory:
	case DriverMySQL, DriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	switch c.Bus.Driver {
	case BusMemory:
	case BusRedis:
		if c.Bus.Redis.Addr == "" {
			return fmt.Errorf("bus.redis.addr is required")
		}
	case BusKafka:
		if len(c.Bus.Kafka.Brokers) == 0 {
			return fmt.Errorf("bus.kafka.brokers is required")
		}
	case BusRabbitMQ:
		if c.Bus.RabbitMQ.URL == "" {
			return fmt.Errorf("bus.rabbitmq.url is required")
		}
	default:
		return fmt.Errorf("unsupported bus driver: %q", c.Bus.Driver)
	}

	if c.Bus.MaxDeliveries < 1 {
		return fmt.Errorf("bus.max_deliveries must be at least 1")
	}

	if c.Security.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.Startup.Retries < 1 {
		return fmt.Errorf("startup.retries must be at least 1")
	}

	for name, raw := range map[string]string{
		"catalog_url": c.Gateway.CatalogURL,
		"order_url":   c.Gateway.OrderURL,
		"design_url":  c.Gateway.DesignURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid gateway.%s: %q", name, raw)
		}
	}

	return nil
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "debug"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.MaxHeaderMB == 0 {
		c.Server.MaxHeaderMB = 1
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverMemory
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case DriverPostgres:
			c.Database.Port = 5432
		default:
			c.Database.Port = 3306
		}
	}
	if c.Database.Charset == "" {
		c.Database.Charset = "utf8mb4"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 50
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}
	if c.Database.ConnMaxIdleTime == 0 {
		c.Database.ConnMaxIdleTime = 10 * time.Minute
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "warn"
	}

	if c.Bus.Driver == "" {
		c.Bus.Driver = BusMemory
	}
	if c.Bus.MaxDeliveries == 0 {
		c.Bus.MaxDeliveries = 5
	}
	if c.Bus.RedeliveryDelay == 0 {
		c.Bus.RedeliveryDelay = time.Second
	}
	if c.Bus.Memory.BufferSize == 0 {
		c.Bus.Memory.BufferSize = 1000
	}
	if c.Bus.Redis.PoolSize == 0 {
		c.Bus.Redis.PoolSize = 20
	}
	if c.Bus.Redis.DialTimeout == 0 {
		c.Bus.Redis.DialTimeout = 5 * time.Second
	}
	if c.Bus.Redis.StreamPrefix == "" {
		c.Bus.Redis.StreamPrefix = "storefront:"
	}
	if c.Bus.Redis.BatchSize == 0 {
		c.Bus.Redis.BatchSize = 10
	}
	if c.Bus.Redis.Block == 0 {
		c.Bus.Redis.Block = 2 * time.Second
	}
	if c.Bus.Redis.ClaimMinIdle == 0 {
		c.Bus.Redis.ClaimMinIdle = 30 * time.Second
	}
	if c.Bus.Kafka.MaxWait == 0 {
		c.Bus.Kafka.MaxWait = time.Second
	}
	if c.Bus.RabbitMQ.Exchange == "" {
		c.Bus.RabbitMQ.Exchange = "storefront.events"
	}
	if c.Bus.RabbitMQ.Prefetch == 0 {
		c.Bus.RabbitMQ.Prefetch = 10
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "storefront"
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = c.Service
	}
	if c.Tracing.Environment == "" {
		c.Tracing.Environment = "development"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "http://localhost:14268/api/traces"
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}

	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 100
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 200
	}

	if c.CircuitBreak.MaxRequests == 0 {
		c.CircuitBreak.MaxRequests = 5
	}
	if c.CircuitBreak.Interval == 0 {
		c.CircuitBreak.Interval = time.Minute
	}
	if c.CircuitBreak.Timeout == 0 {
		c.CircuitBreak.Timeout = 30 * time.Second
	}
	if c.CircuitBreak.FailureRatio == 0 {
		c.CircuitBreak.FailureRatio = 0.5
	}
	if c.CircuitBreak.MinRequestCount == 0 {
		c.CircuitBreak.MinRequestCount = 10
	}

	if c.Cache.Catalog.TTL == 0 {
		c.Cache.Catalog.TTL = 30 * time.Second
	}
	if c.Cache.Catalog.Shards == 0 {
		c.Cache.Catalog.Shards = 64
	}
	if c.Cache.Catalog.MaxSizeMB == 0 {
		c.Cache.Catalog.MaxSizeMB = 64
	}
	if c.Cache.Catalog.CleanWindow == 0 {
		c.Cache.Catalog.CleanWindow = time.Minute
	}
	if c.Cache.Bloom.ExpectedItems == 0 {
		c.Cache.Bloom.ExpectedItems = 10000
	}
	if c.Cache.Bloom.FalsePositiveRate == 0 {
		c.Cache.Bloom.FalsePositiveRate = 0.01
	}

	if c.Security.JWT.Expire == 0 {
		c.Security.JWT.Expire = time.Hour
	}
	if c.Security.JWT.Issuer == "" {
		c.Security.JWT.Issuer = "storefront"
	}
	if c.Security.DemoUser.Username == "" {
		c.Security.DemoUser.Username = "demo"
	}
	if c.Security.DemoUser.Password == "" && c.Security.DemoUser.PasswordHash == "" {
		c.Security.DemoUser.Password = "P@ssword123"
	}

	if c.Startup.Retries == 0 {
		c.Startup.Retries = 5
	}
	if c.Startup.Backoff == 0 {
		c.Startup.Backoff = 3 * time.Second
	}

	if c.Catalog.Seed.Count == 0 {
		c.Catalog.Seed.Count = 200
	}
	if c.Catalog.Seed.RandSeed == 0 {
		c.Catalog.Seed.RandSeed = 42
	}

	if c.Gateway.CatalogURL == "" {
		c.Gateway.CatalogURL = "http://localhost:8081"
	}
	if c.Gateway.OrderURL == "" {
		c.Gateway.OrderURL = "http://localhost:8082"
	}
	if c.Gateway.DesignURL == "" {
		c.Gateway.DesignURL = "http://localhost:8083"
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 10 * time.Second
	}
}
