// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Queue         QueueConfig             `mapstructure:"queue"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Scheduler     SchedulerConfig         `mapstructure:"scheduler"`
	Gateway       GatewayConfig           `mapstructure:"gateway"`
	Integrations  IntegrationConfig       `mapstructure:"integrations"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Server        ServerConfig            `mapstructure:"server"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	// Driver selects the persistence backend: "postgres" or "memory".
	Driver        string              `mapstructure:"driver"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	URL         string   `mapstructure:"url"`
	ReportIndex string   `mapstructure:"report_index"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

// Enabled reports whether any Elasticsearch endpoint is configured.
func (e ElasticsearchConfig) Enabled() bool {
	return e.GetURL() != ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// QueueConfig holds the dispatch queue layout and retry policies.
type QueueConfig struct {
	Name             string `mapstructure:"name"`
	KeyPrefix        string `mapstructure:"key_prefix"`
	DefaultAttempts  int    `mapstructure:"default_attempts"`
	DefaultBackoffMs int    `mapstructure:"default_backoff_ms"`
	ParkDelayHours   int    `mapstructure:"park_delay_hours"`
	ResumePriority   int    `mapstructure:"resume_priority"`
	ResumeAttempts   int    `mapstructure:"resume_attempts"`
	ResumeBackoffMs  int    `mapstructure:"resume_backoff_ms"`
	LockTTLMs        int    `mapstructure:"lock_ttl_ms"`
	StalledAfterMs   int    `mapstructure:"stalled_after_ms"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxJobsActive  int  `mapstructure:"max_jobs_active"`
	Timeout        int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries     int  `mapstructure:"max_retries"` // For error handling
	PollIntervalMs int  `mapstructure:"poll_interval_ms"`
}

// SchedulerConfig drives the scheduled-campaign activator.
type SchedulerConfig struct {
	Spec     string `mapstructure:"spec"`
	Timezone string `mapstructure:"timezone"`
}

// GatewayConfig selects and throttles the outbound message transport.
type GatewayConfig struct {
	Driver           string  `mapstructure:"driver"` // "sns" or "simulated"
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
	Burst            int     `mapstructure:"burst"`
	SimulateDelivery bool    `mapstructure:"simulate_delivery"`
	ReceiptDelayMs   int     `mapstructure:"receipt_delay_ms"`
}

// IntegrationConfig holds settings for AWS services.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled          bool     `mapstructure:"enabled"`
			FromEmail        string   `mapstructure:"from_email"`
			ReportRecipients []string `mapstructure:"report_recipients"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled            bool   `mapstructure:"enabled"`
			DefaultSMSSenderID string `mapstructure:"default_sms_sender_id"`
			SMSType            string `mapstructure:"sms_type"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

// NotificationConfig holds settings for broadcast status notifications.
type NotificationConfig struct {
	Webhook struct {
		URL       string `mapstructure:"url"`
		TimeoutMs int    `mapstructure:"timeout_ms"`
	} `mapstructure:"webhook"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
