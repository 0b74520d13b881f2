package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"ticketchat/global/config"
	"ticketchat/service/chat"
	rediscred "ticketchat/service/storage/redis"
	"ticketchat/tools/errs"
	"ticketchat/tools/security"

	"gopkg.in/yaml.v3"
)

// StaticCredential is a token handed in directly (flag / env).
type StaticCredential string

func (c StaticCredential) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(string(c))
	if tok == "" {
		return "", errs.ErrCredentialMissing.WrapMsg("no token configured")
	}
	return tok, nil
}

// sessionFile 登录流程落盘的会话文件；json 也是合法 yaml
type sessionFile struct {
	Token       string `yaml:"token"`
	AccessToken string `yaml:"access_token"`
}

// FileCredentialStore reads the token persisted by the login flow. The file
// is read on every call so a fresh login is picked up on the next connect.
type FileCredentialStore struct {
	Path string
}

func (f FileCredentialStore) Token(context.Context) (string, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", errs.ErrCredentialMissing.WrapMsg("session file not found", "path", f.Path)
	}
	if err != nil {
		return "", errs.WrapMsg(err, "read session file", "path", f.Path)
	}
	var sf sessionFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return "", errs.WrapMsg(err, "parse session file", "path", f.Path)
	}
	tok := strings.TrimSpace(sf.Token)
	if tok == "" {
		tok = strings.TrimSpace(sf.AccessToken)
	}
	if tok == "" {
		return "", errs.ErrCredentialMissing.WrapMsg("session file has no token", "path", f.Path)
	}
	return tok, nil
}

// expiryGuard refuses credentials whose exp claim has passed, so the
// session does not burn its reconnect budget on a token the server rejects.
// Tokens that are not readable JWTs pass through.
type expiryGuard struct {
	inner chat.CredentialStore
	now   func() time.Time
}

func (g expiryGuard) Token(ctx context.Context) (string, error) {
	tok, err := g.inner.Token(ctx)
	if err != nil {
		return "", err
	}
	if claims, cerr := security.Inspect(tok); cerr == nil && claims.Expired(g.now()) {
		return "", errs.ErrCredentialMissing.WrapMsg("credential expired", "expires_at", claims.ExpiresAt.Format(time.RFC3339))
	}
	return tok, nil
}

// NewCredentialStore builds the store selected by cfg.Source. The returned
// close func releases any connection the store holds.
func NewCredentialStore(ctx context.Context, cfg config.CredentialConfig) (chat.CredentialStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Source {
	case config.CredentialStatic:
		return expiryGuard{inner: StaticCredential(cfg.Token), now: time.Now}, noop, nil
	case config.CredentialFile:
		if cfg.File == "" {
			return nil, nil, errs.ErrInvalidConfig.WrapMsg("credential.file is empty")
		}
		return expiryGuard{inner: FileCredentialStore{Path: cfg.File}, now: time.Now}, noop, nil
	case config.CredentialRedis:
		s, err := rediscred.Dial(ctx, rediscred.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.RedisKey)
		if err != nil {
			return nil, nil, err
		}
		return expiryGuard{inner: s, now: time.Now}, s.Close, nil
	default:
		return nil, nil, errs.ErrInvalidConfig.WrapMsg("unknown credential source", "source", cfg.Source)
	}
}
