package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"ticketchat/tools/errs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default 默认配置；文件、.env、环境变量依次覆盖。
func Default() AppConfig {
	return AppConfig{
		Env:        EnvDev,
		DevOrigin:  "ws://localhost:8000",
		ProdOrigin: "wss://support.example.com",
		Paths: PathConfig{
			Ticket:       "/ws/tickets",
			WorkflowTest: "/ws/workflow-tests",
		},
		Delivery: DeliveryConfig{
			SendTimeout:       5 * time.Second,
			SendQueueSize:     256,
			TypingInterval:    1500 * time.Millisecond,
			WriteWait:         10 * time.Second,
			ReconnectOnErrors: []string{"connection not alive"},
		},
		Heartbeat: HeartbeatConfig{
			PingInterval: 25 * time.Second,
			PongTimeout:  75 * time.Second,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts:      5,
			BaseDelay:        time.Second,
			MaxDelay:         30 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
		Credential: CredentialConfig{
			Source:   CredentialFile,
			File:     defaultSessionFile(),
			RedisKey: "ticketchat:session:token",
		},
		Notify: NotifyConfig{
			Subject: "ticketchat.notice",
		},
		Log: LogConfig{Level: "info"},
	}
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "session.yaml"
	}
	return dir + "/ticketchat/session.yaml"
}

// Load 读取配置：Default -> yaml 文件 -> .env -> 环境变量，最后校验。
// path / dotenv 为空时跳过对应层；文件不存在不算错误。
func Load(path, dotenv string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, errs.WrapMsg(err, "read config", "path", path)
		default:
			dec := yaml.NewDecoder(bytes.NewReader(raw))
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
				return nil, errs.WrapMsg(err, "parse config", "path", path)
			}
		}
	}

	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errs.WrapMsg(err, "load dotenv", "path", dotenv)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, errs.WrapMsg(err, "parse env")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验跨字段约束。
func (c *AppConfig) Validate() error {
	var problems []string
	if c.Env != EnvDev && c.Env != EnvProd {
		problems = append(problems, fmt.Sprintf("env %q must be %q or %q", c.Env, EnvDev, EnvProd))
	}
	origin := c.Origin()
	if !strings.HasPrefix(origin, "ws://") && !strings.HasPrefix(origin, "wss://") &&
		!strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		problems = append(problems, fmt.Sprintf("origin %q must be a ws(s) or http(s) url", origin))
	}
	if c.Paths.Ticket == "" || c.Paths.WorkflowTest == "" {
		problems = append(problems, "paths.ticket and paths.workflow_test are required")
	}
	if c.Delivery.SendTimeout <= 0 {
		problems = append(problems, "delivery.send_timeout must be positive")
	}
	if c.Delivery.SendQueueSize <= 0 {
		problems = append(problems, "delivery.send_queue_size must be positive")
	}
	if c.Delivery.WriteWait <= 0 {
		problems = append(problems, "delivery.write_wait must be positive")
	}
	if c.Delivery.TypingInterval < 0 {
		problems = append(problems, "delivery.typing_interval must not be negative")
	}
	if c.Heartbeat.PingInterval <= 0 {
		problems = append(problems, "heartbeat.ping_interval must be positive")
	}
	if c.Heartbeat.PongTimeout <= c.Heartbeat.PingInterval {
		problems = append(problems, "heartbeat.pong_timeout must be larger than ping_interval")
	}
	if c.Reconnect.MaxAttempts < 0 {
		problems = append(problems, "reconnect.max_attempts must not be negative")
	}
	if c.Reconnect.BaseDelay <= 0 {
		problems = append(problems, "reconnect.base_delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		problems = append(problems, "reconnect.max_delay must be >= base_delay")
	}
	switch c.Credential.Source {
	case CredentialStatic, CredentialFile, CredentialRedis:
	default:
		problems = append(problems, fmt.Sprintf("credential.source %q unknown", c.Credential.Source))
	}
	if len(problems) > 0 {
		return errs.ErrInvalidConfig.WrapMsg(strings.Join(problems, "; "))
	}
	return nil
}
