package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"ticketchat/global/config"
	"ticketchat/logger"
	"ticketchat/service/chat"
	"ticketchat/service/metrics"
	"ticketchat/service/natsx"
	"ticketchat/service/notify"
	"ticketchat/service/storage"
	"ticketchat/tools/decode"
	"ticketchat/tools/safe"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const noticeBiz = "notice"

// client 一次会话及其外围依赖（凭证、通知、指标）
type client struct {
	cfg     *config.AppConfig
	log     *zap.Logger
	out     io.Writer
	session *chat.Session
	closers []func() error
}

func newClient(ctx context.Context, cfg *config.AppConfig, kind chat.TargetKind, conversationID string, out io.Writer) (_ *client, err error) {
	c := &client{
		cfg: cfg,
		log: logger.Named("cli").With(zap.String("target", kind.String()), zap.String("conversation", conversationID)),
		out: &syncWriter{w: out},
	}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	creds, closeCreds, err := storage.NewCredentialStore(ctx, cfg.Credential)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, closeCreds)

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}
	if addr := cfg.Metrics.Addr; addr != "" {
		safe.SafeGo("metrics", func() {
			if err := metrics.Serve(ctx, addr, reg); err != nil {
				c.log.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
			}
		})
	}

	sinks := []notify.Sink{notify.WriterSink(c.out), notify.LogSink(logger.Named("notice"))}
	if cfg.Notify.NatsURL != "" {
		nc, err := natsx.NewNatsxClient(natsx.NatsxConfig{
			Servers: strings.Split(cfg.Notify.NatsURL, ","),
			Name:    "ticketchat",
		})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, nc.Close)
		if err := nc.RegisterRoute(noticeBiz, cfg.Notify.Subject); err != nil {
			return nil, err
		}
		sinks = append(sinks, notify.PublishSink(nc, noticeBiz, c.log))
	}

	c.session, err = chat.NewSession(chat.Options{
		Config:         chat.ConfigFrom(cfg),
		Kind:           kind,
		ConversationID: conversationID,
		UserID:         cfg.UserID,
		Credentials:    creds,
		Notifier:       notify.New(notify.Fanout(sinks...)),
		Observer:       collector,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *client) close() {
	if c.session != nil {
		_ = c.session.Close()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.log.Warn("close", zap.Error(err))
		}
	}
	c.closers = nil
}

// ready 打开会话并等待服务端 connected。
func (c *client) ready(ctx context.Context) error {
	s := c.session
	if err := s.Open(ctx); err != nil {
		return err
	}
	select {
	case <-s.Ready():
		return nil
	case <-s.Lost():
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendText 把一行文本包成 {"text": ...} 发送，阻塞到回执或超时。
func (c *client) sendText(ctx context.Context, text string) (int64, error) {
	content, err := textContent(text)
	if err != nil {
		return 0, err
	}
	return c.session.Send(ctx, content)
}

// interactive 终端聊天：stdin 每行一条消息，/typing 发送输入提示，/quit 退出。
func (c *client) interactive(ctx context.Context, in io.Reader) error {
	s := c.session
	if err := s.Open(ctx); err != nil {
		return err
	}

	changed, unsubscribe := s.Store().Subscribe()
	defer unsubscribe()
	p := newPrinter(c.out)

	lines := make(chan string)
	safe.SafeGo("stdin", func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Lost():
			return s.Err()
		case <-changed:
			p.flush(s.Store().List())
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.handleLine(strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (c *client) handleLine(line string) (quit bool) {
	switch line {
	case "":
	case "/quit":
		return true
	case "/typing":
		if err := c.session.SendTyping(); err != nil {
			fmt.Fprintf(c.out, "! typing: %v\n", err)
		}
	default:
		content, err := textContent(line)
		if err != nil {
			fmt.Fprintf(c.out, "! %v\n", err)
			return false
		}
		d := c.session.SendAsync(content)
		safe.SafeGo("await-ack", func() {
			if _, err := d.Result(); err != nil {
				fmt.Fprintf(c.out, "! not delivered: %v\n", err)
			}
		})
	}
	return false
}

func textContent(text string) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"text": text})
}

// renderContent 优先显示 content.text，否则原样输出 JSON。
func renderContent(raw json.RawMessage) string {
	if m, err := decode.JSONObject(raw); err == nil {
		if s, err := decode.ReadString(m, "text"); err == nil {
			return s
		}
	}
	return string(raw)
}

// printer 只打印有服务端 id 且未打印过的消息
type printer struct {
	out  io.Writer
	seen map[chat.MessageID]bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, seen: make(map[chat.MessageID]bool)}
}

func (p *printer) flush(msgs []chat.Message) {
	for _, m := range msgs {
		if m.ID.Provisional || p.seen[m.ID] {
			continue
		}
		p.seen[m.ID] = true
		fmt.Fprintf(p.out, "[%s] #%s %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.ID, m.SenderID, renderContent(m.Content))
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}
