package chat

import (
	"fmt"
	"net/url"
	"strings"

	"ticketchat/tools/errs"
)

// TargetKind selects which chat surface a session talks to.
type TargetKind int

const (
	TargetTicket TargetKind = iota
	TargetWorkflowTest
)

func (k TargetKind) String() string {
	switch k {
	case TargetTicket:
		return "ticket"
	case TargetWorkflowTest:
		return "workflow_test"
	default:
		return fmt.Sprintf("target(%d)", int(k))
	}
}

// Target is the socket endpoint of one conversation.
type Target struct {
	Origin         string // ws(s):// or http(s)://, dev vs production
	Path           string // e.g. /ws/tickets
	ConversationID string
}

// URL builds the socket URL; the credential travels as the token query
// parameter because browsers cannot set headers on a socket handshake.
func (t Target) URL(token string) (string, error) {
	if strings.TrimSpace(t.ConversationID) == "" {
		return "", errs.ErrInvalidConfig.WrapMsg("conversation id is empty")
	}
	u, err := url.Parse(strings.TrimRight(t.Origin, "/"))
	if err != nil {
		return "", errs.ErrInvalidConfig.WrapMsg("parse origin", "origin", t.Origin, "err", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errs.ErrInvalidConfig.WrapMsg("unsupported origin scheme", "origin", t.Origin, "scheme", u.Scheme)
	}
	if u.Host == "" {
		return "", errs.ErrInvalidConfig.WrapMsg("origin has no host", "origin", t.Origin)
	}

	prefix := strings.TrimRight(u.Path, "/")
	sub := strings.Trim(t.Path, "/")
	u.Path = joinPath(prefix, sub, t.ConversationID)
	u.RawPath = joinPath(prefix, escapeSegments(sub), url.PathEscape(t.ConversationID))

	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func escapeSegments(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

func joinPath(prefix, sub, id string) string {
	p := prefix
	if sub != "" {
		p += "/" + sub
	}
	return p + "/" + id
}
