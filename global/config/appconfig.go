package config

import "time"

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

const (
	CredentialStatic = "static" // Token 字段 / TICKETCHAT_TOKEN
	CredentialFile   = "file"   // 本地持久化的 session 文件
	CredentialRedis  = "redis"  // redis 中的 session key
)

type AppConfig struct {
	Env        string `yaml:"env" env:"TICKETCHAT_ENV"`                 // dev / prod，决定连接的 origin
	DevOrigin  string `yaml:"dev_origin" env:"TICKETCHAT_DEV_ORIGIN"`   // 开发环境 origin
	ProdOrigin string `yaml:"prod_origin" env:"TICKETCHAT_PROD_ORIGIN"` // 生产环境 origin
	UserID     string `yaml:"user_id" env:"TICKETCHAT_USER_ID"`         // 为空时从 token 的 sub 推导

	Paths      PathConfig       `yaml:"paths"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Credential CredentialConfig `yaml:"credential"`
	Notify     NotifyConfig     `yaml:"notify"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type PathConfig struct {
	Ticket       string `yaml:"ticket" env:"TICKETCHAT_TICKET_PATH"`
	WorkflowTest string `yaml:"workflow_test" env:"TICKETCHAT_WORKFLOW_TEST_PATH"`
}

type DeliveryConfig struct {
	SendTimeout    time.Duration `yaml:"send_timeout" env:"TICKETCHAT_SEND_TIMEOUT"`
	SendQueueSize  int           `yaml:"send_queue_size" env:"TICKETCHAT_SEND_QUEUE_SIZE"`
	TypingInterval time.Duration `yaml:"typing_interval" env:"TICKETCHAT_TYPING_INTERVAL"`
	WriteWait      time.Duration `yaml:"write_wait" env:"TICKETCHAT_WRITE_WAIT"`
	// 收到这些 error 码时走重连
	ReconnectOnErrors []string `yaml:"reconnect_on_errors" env:"TICKETCHAT_RECONNECT_ON_ERRORS" envSeparator:","`
}

type HeartbeatConfig struct {
	PingInterval time.Duration `yaml:"ping_interval" env:"TICKETCHAT_PING_INTERVAL"`
	PongTimeout  time.Duration `yaml:"pong_timeout" env:"TICKETCHAT_PONG_TIMEOUT"`
}

type ReconnectConfig struct {
	MaxAttempts      int           `yaml:"max_attempts" env:"TICKETCHAT_RECONNECT_MAX_ATTEMPTS"`
	BaseDelay        time.Duration `yaml:"base_delay" env:"TICKETCHAT_RECONNECT_BASE_DELAY"`
	MaxDelay         time.Duration `yaml:"max_delay" env:"TICKETCHAT_RECONNECT_MAX_DELAY"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"TICKETCHAT_HANDSHAKE_TIMEOUT"`
}

type CredentialConfig struct {
	Source        string `yaml:"source" env:"TICKETCHAT_CREDENTIAL_SOURCE"`
	Token         string `yaml:"token" env:"TICKETCHAT_TOKEN"`
	File          string `yaml:"file" env:"TICKETCHAT_SESSION_FILE"`
	RedisAddr     string `yaml:"redis_addr" env:"TICKETCHAT_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"TICKETCHAT_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"TICKETCHAT_REDIS_DB"`
	RedisKey      string `yaml:"redis_key" env:"TICKETCHAT_REDIS_KEY"`
}

type NotifyConfig struct {
	NatsURL string `yaml:"nats_url" env:"TICKETCHAT_NATS_URL"` // 为空则只写日志
	Subject string `yaml:"subject" env:"TICKETCHAT_NATS_SUBJECT"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"TICKETCHAT_LOG_LEVEL"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" env:"TICKETCHAT_METRICS_ADDR"` // 为空不启动 /metrics
}

// Origin 按环境选择 origin。
func (c *AppConfig) Origin() string {
	if c.Env == EnvProd {
		return c.ProdOrigin
	}
	return c.DevOrigin
}
