package chat

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

// Status of a message as the renderer should show it.
type Status int

const (
	StatusPending        Status = iota // 乐观写入，等待回执
	StatusDelivered                    // 已有服务端 id
	StatusUnacknowledged               // 回执超时，草稿保留
	StatusFailed                       // 会话关闭时仍未确认
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDelivered:
		return "delivered"
	case StatusUnacknowledged:
		return "unacknowledged"
	case StatusFailed:
		return "failed"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// MessageID is either a client-minted provisional id or a server durable id.
// The two never compare equal even when Value matches.
type MessageID struct {
	Value       int64
	Provisional bool
}

func DurableID(v int64) MessageID     { return MessageID{Value: v} }
func ProvisionalID(v int64) MessageID { return MessageID{Value: v, Provisional: true} }

func (id MessageID) String() string {
	if id.Provisional {
		return "tmp-" + strconv.FormatInt(id.Value, 10)
	}
	return strconv.FormatInt(id.Value, 10)
}

type Message struct {
	ID             MessageID
	ConversationID string
	SenderID       string
	Content        json.RawMessage
	CreatedAt      time.Time
	Status         Status
}

// Store is the ordered, de-duplicated message log of one conversation.
// Order is insertion order; CreatedAt is display metadata only.
type Store struct {
	mu    sync.RWMutex
	items []Message
	index map[MessageID]int
	subs  map[chan struct{}]struct{}
}

func NewStore() *Store {
	return &Store{
		index: make(map[MessageID]int),
		subs:  make(map[chan struct{}]struct{}),
	}
}

// Append inserts msg unless its id is already present.
func (s *Store) Append(msg Message) bool {
	s.mu.Lock()
	if _, ok := s.index[msg.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.index[msg.ID] = len(s.items)
	s.items = append(s.items, msg)
	s.mu.Unlock()
	s.notify()
	return true
}

// Promote rewrites a provisional entry to its durable id in place and marks
// it delivered. If the durable id is already present the provisional entry is
// dropped so ids stay unique. No-op when the provisional id is absent.
func (s *Store) Promote(provisional, durable int64) bool {
	from, to := ProvisionalID(provisional), DurableID(durable)

	s.mu.Lock()
	pos, ok := s.index[from]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.index, from)
	if _, exists := s.index[to]; exists {
		s.items = append(s.items[:pos], s.items[pos+1:]...)
		s.reindexLocked(pos)
	} else {
		s.items[pos].ID = to
		s.items[pos].Status = StatusDelivered
		s.index[to] = pos
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// MarkStatus updates the status of id; false if id is absent.
func (s *Store) MarkStatus(id MessageID, status Status) bool {
	s.mu.Lock()
	pos, ok := s.index[id]
	if ok {
		s.items[pos].Status = status
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

func (s *Store) Get(id MessageID) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.items[pos], true
}

// List returns a snapshot in insertion order.
func (s *Store) List() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Subscribe returns a channel that receives a signal after changes. Signals
// coalesce; readers call List to see the new state.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) reindexLocked(from int) {
	for i := from; i < len(s.items); i++ {
		s.index[s.items[i].ID] = i
	}
}
