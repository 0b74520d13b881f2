package natsx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers       []string
	Name          string
	User          string
	Password      string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NatsxClient 只做 Core 发布：按 Biz 路由到 subject
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn

	mu     sync.RWMutex
	routes map[string]string // biz -> subject
}

// NewNatsxClient 连接 NATS
func NewNatsxClient(cfg NatsxConfig) (*NatsxClient, error) {
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	if len(servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(servers, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	c := newClient(cfg)
	c.nc = nc
	return c, nil
}

func newClient(cfg NatsxConfig) *NatsxClient {
	return &NatsxClient{cfg: cfg, routes: make(map[string]string)}
}

// RegisterRoute 注册 Biz 路由
func (c *NatsxClient) RegisterRoute(biz, subject string) error {
	if biz == "" || subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return fmt.Errorf("invalid route biz=%q subject=%q", biz, subject)
	}
	c.mu.Lock()
	c.routes[biz] = subject
	c.mu.Unlock()
	return nil
}

func (c *NatsxClient) route(biz string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.routes[biz]
	return s, ok
}

// Publish 按 Biz 路由发送；每条消息带 Nats-Msg-Id，下游可据此去重。
// Core 发布只进客户端缓冲区，不会等待服务端。
func (c *NatsxClient) Publish(_ context.Context, biz string, data []byte, hdr map[string]string) error {
	subject, ok := c.route(biz)
	if !ok {
		return fmt.Errorf("route not found: %s", biz)
	}
	if c.nc == nil {
		return errors.New("nats not connected")
	}
	if err := c.nc.PublishMsg(buildMsg(subject, data, hdr)); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

func buildMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Set(k, v)
	}
	if msg.Header.Get(nats.MsgIdHdr) == "" {
		msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	}
	return msg
}

// Close 优雅关闭
func (c *NatsxClient) Close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}
