package models

// Config holds the server configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Push      PushConfig      `json:"push"`
	Tracing   TracingConfig   `json:"tracing"`
	Retry     RetryConfig     `json:"retry"`
	LogLevel  string          `json:"log_level"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port               int   `json:"port"`
	ReadTimeoutSec     int   `json:"readTimeoutSec"`
	WriteTimeoutSec    int   `json:"writeTimeoutSec"`
	IdleTimeoutSec     int   `json:"idleTimeoutSec"`
	MaxBodyBytes       int64 `json:"maxBodyBytes"`
	TrustProxyHeaders  bool  `json:"trustProxyHeaders"`
	PurgeIntervalHours int   `json:"purgeIntervalHours"`
}

// StorageConfig selects and configures the key-value backend.
// Backend is one of "sqlite", "redis", "postgres" or "memory".
type StorageConfig struct {
	Backend          string `json:"backend"`
	Path             string `json:"path"`
	RedisAddr        string `json:"redisAddr"`
	RedisPassword    string `json:"redisPassword"`
	RedisDB          int    `json:"redisDb"`
	DatabaseURL      string `json:"databaseUrl"`
	RetentionDays    int    `json:"retentionDays"`
	EncryptAtRest    bool   `json:"encryptAtRest"`
	EncryptionSecret string `json:"-"`
}

// RateLimitConfig bounds the enqueue path per client IP and per device
type RateLimitConfig struct {
	EnqueueLimit         int `json:"enqueueLimit"`
	EnqueueWindowSeconds int `json:"enqueueWindowSeconds"`
}

// PushConfig holds VAPID credentials and delivery tuning
type PushConfig struct {
	Enabled            bool   `json:"enabled"`
	VAPIDPublicKey     string `json:"vapidPublicKey"`
	VAPIDPrivateKey    string `json:"-"`
	VAPIDSubject       string `json:"vapidSubject"`
	TTLSeconds         int    `json:"ttlSeconds"`
	Urgency            string `json:"urgency"`
	HTTPTimeoutSec     int    `json:"httpTimeoutSec"`
	BreakerMaxFailures int    `json:"breakerMaxFailures"`
	BreakerTimeoutSec  int    `json:"breakerTimeoutSec"`
}

// TracingConfig mirrors tracing.TracingConfig for JSON loading
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

// RetryConfig holds startup retry settings for backend connections
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

// ReceiverConfig configures the headless receiver
type ReceiverConfig struct {
	APIBaseURL         string `json:"apiBaseUrl"`
	DeviceName         string `json:"deviceName"`
	AutoOpen           *bool  `json:"autoOpen,omitempty"`
	ListenAddr         string `json:"listenAddr"`
	PublicURL          string `json:"publicUrl"`
	StatePath          string `json:"statePath"`
	CatchUpIntervalSec int    `json:"catchUpIntervalSec"`
	HTTPTimeoutSec     int    `json:"httpTimeoutSec"`
	LogLevel           string `json:"log_level"`
}
