package models

// Provider names accepted in SMS_PROVIDER
const (
	ProviderTwilio  = "twilio"
	ProviderPlivo   = "plivo"
	ProviderGateway = "gateway"
)

// Config holds the application configuration
type Config struct {
	Provider      string         `json:"provider" yaml:"provider" env:"SMS_PROVIDER" env-default:"twilio"`
	Twilio        TwilioConfig   `json:"twilio" yaml:"twilio"`
	Plivo         PlivoConfig    `json:"plivo" yaml:"plivo"`
	Gateway       GatewayConfig  `json:"gateway" yaml:"gateway"`
	Polling       PollingConfig  `json:"polling" yaml:"polling"`
	Server        ServerConfig   `json:"server" yaml:"server"`
	Database      DatabaseConfig `json:"database" yaml:"database"`
	Redis         RedisConfig    `json:"redis" yaml:"redis"`
	Log           LogConfig      `json:"log" yaml:"log"`
	Tracing       TracingConfig  `json:"tracing" yaml:"tracing"`
	RetentionDays int            `json:"retentionDays" yaml:"retention_days" env:"RETENTION_DAYS" env-default:"7"`
}

// TwilioConfig holds Twilio REST API credentials
type TwilioConfig struct {
	APIBaseURL  string `json:"apiBaseUrl" yaml:"api_base_url" env:"TWILIO_API_URL" env-default:"https://api.twilio.com"`
	AccountSID  string `json:"accountSid" yaml:"account_sid" env:"TWILIO_ACCOUNT_SID"`
	AuthToken   string `json:"authToken" yaml:"auth_token" env:"TWILIO_AUTH_TOKEN"`
	PhoneNumber string `json:"phoneNumber" yaml:"phone_number" env:"TWILIO_PHONE_NUMBER"`
}

// PlivoConfig holds Plivo REST API credentials
type PlivoConfig struct {
	APIBaseURL  string `json:"apiBaseUrl" yaml:"api_base_url" env:"PLIVO_API_URL" env-default:"https://api.plivo.com"`
	AuthID      string `json:"authId" yaml:"auth_id" env:"PLIVO_AUTH_ID"`
	AuthToken   string `json:"authToken" yaml:"auth_token" env:"PLIVO_AUTH_TOKEN"`
	PhoneNumber string `json:"phoneNumber" yaml:"phone_number" env:"PLIVO_PHONE_NUMBER"`
}

// GatewayConfig holds settings for a proxy/modem SMS gateway
type GatewayConfig struct {
	BaseURL     string `json:"baseUrl" yaml:"base_url" env:"GATEWAY_URL"`
	Token       string `json:"token" yaml:"token" env:"GATEWAY_TOKEN"`
	PhoneNumber string `json:"phoneNumber" yaml:"phone_number" env:"GATEWAY_PHONE_NUMBER"`
}

// PollingConfig controls the fetch loop. LookbackSec of 0 selects the provider default.
type PollingConfig struct {
	IntervalSec int `json:"intervalSec" yaml:"interval_sec" env:"POLL_INTERVAL_SEC" env-default:"30"`
	LookbackSec int `json:"lookbackSec" yaml:"lookback_sec" env:"POLL_LOOKBACK_SEC" env-default:"0"`
	TimeoutSec  int `json:"timeoutSec" yaml:"timeout_sec" env:"POLL_TIMEOUT_SEC" env-default:"10"`
	PageSize    int `json:"pageSize" yaml:"page_size" env:"POLL_PAGE_SIZE" env-default:"20"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port                 string `json:"port" yaml:"port" env:"PORT" env-default:"3002"`
	CleanupIntervalHours int    `json:"cleanupIntervalHours" yaml:"cleanup_interval_hours" env:"CLEANUP_INTERVAL_HOURS" env-default:"24"`
	TrustProxy           bool   `json:"trustProxy" yaml:"trust_proxy" env:"TRUST_PROXY" env-default:"false"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path" env:"DB_PATH" env-default:"data/smsrelay.db"`
}

// RedisConfig enables the seen-message pre-filter when Addr is set
type RedisConfig struct {
	Addr       string `json:"addr" yaml:"addr" env:"REDIS_ADDR"`
	Password   string `json:"password" yaml:"password" env:"REDIS_PASSWORD"`
	DB         int    `json:"db" yaml:"db" env:"REDIS_DB" env-default:"0"`
	TTLSeconds int    `json:"ttlSeconds" yaml:"ttl_seconds" env:"REDIS_TTL_SECONDS" env-default:"172800"`
}

// LogConfig holds logging output settings
type LogConfig struct {
	Level      string `json:"level" yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	File       string `json:"file" yaml:"file" env:"LOG_FILE"`
	MaxSizeMB  int    `json:"maxSizeMB" yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB" env-default:"50"`
	MaxBackups int    `json:"maxBackups" yaml:"max_backups" env:"LOG_MAX_BACKUPS" env-default:"3"`
	MaxAgeDays int    `json:"maxAgeDays" yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS" env-default:"28"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled" env:"TRACING_ENABLED" env-default:"false"`
	ServiceName  string  `json:"serviceName" yaml:"service_name" env:"TRACING_SERVICE_NAME" env-default:"smsrelay"`
	Environment  string  `json:"environment" yaml:"environment" env:"SMSRELAY_ENV" env-default:"development"`
	OTLPEndpoint string  `json:"otlpEndpoint" yaml:"otlp_endpoint" env:"TRACING_OTLP_ENDPOINT" env-default:"localhost:4318"`
	SampleRate   float64 `json:"sampleRate" yaml:"sample_rate" env:"TRACING_SAMPLE_RATE" env-default:"0.1"`
	UseStdout    bool    `json:"useStdout" yaml:"use_stdout" env:"TRACING_USE_STDOUT" env-default:"false"`
}

// PhoneNumber returns the monitored number of the selected provider
func (c *Config) PhoneNumber() string {
	switch c.Provider {
	case ProviderPlivo:
		return c.Plivo.PhoneNumber
	case ProviderGateway:
		return c.Gateway.PhoneNumber
	default:
		return c.Twilio.PhoneNumber
	}
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
