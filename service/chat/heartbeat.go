package chat

import "time"

type beat int

const (
	beatIdle beat = iota // 上个周期有流量，不用 ping
	beatPing
	beatDead // 超过 PongTimeout 没有任何入站流量
)

// heartbeat tracks inbound liveness of the current connection. It is owned by
// the session loop; gen invalidates ticks scheduled for an older connection.
type heartbeat struct {
	interval time.Duration
	timeout  time.Duration

	gen           uint64
	timer         *time.Timer
	lastSeen      time.Time
	seenSinceTick bool
}

func (h *heartbeat) start(now time.Time) uint64 {
	h.stop()
	h.lastSeen = now
	h.seenSinceTick = false
	return h.gen
}

func (h *heartbeat) stop() {
	h.gen++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// touch records inbound traffic: any envelope, ping or pong.
func (h *heartbeat) touch(now time.Time) {
	h.lastSeen = now
	h.seenSinceTick = true
}

func (h *heartbeat) tick(now time.Time) beat {
	if now.Sub(h.lastSeen) >= h.timeout {
		return beatDead
	}
	seen := h.seenSinceTick
	h.seenSinceTick = false
	if seen {
		return beatIdle
	}
	return beatPing
}
