package ids

import (
	"sync"
	"time"
)

// MaxSafe is the largest integer a JSON peer that reads numbers as doubles
// can echo back unchanged (2^53-1).
const MaxSafe = 1<<53 - 1

const (
	seqBits = 12
	tsBits  = 53 - seqBits
	seqMask = 1<<seqBits - 1
	tsMask  = 1<<tsBits - 1
)

// Generator mints time-ordered ids: 41 bits of milliseconds since epoch and
// 12 bits of sequence, 53 bits in all, so every id is <= MaxSafe. Ids from one
// Generator strictly increase.
type Generator struct {
	mu       sync.Mutex
	epochMS  int64
	seq      int64 // 0~4095
	lastTSMS int64
	now      func() time.Time
}

func NewGenerator() *Generator {
	return &Generator{
		epochMS: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		now:     time.Now,
	}
}

// Next returns an id strictly greater than every id this generator has returned.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UnixMilli()
	if now < g.lastTSMS {
		// 时钟回拨：沿用上次时间戳继续递增序列，保证单调
		now = g.lastTSMS
	}
	if now == g.lastTSMS {
		g.seq = (g.seq + 1) & seqMask
		if g.seq == 0 {
			// 序列溢出，借用下一毫秒
			now = g.lastTSMS + 1
		}
	} else {
		g.seq = 0
	}
	g.lastTSMS = now

	ts := (now - g.epochMS) & tsMask
	return ts<<seqBits | g.seq
}
