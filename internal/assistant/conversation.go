package assistant

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/metrics"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FailureMessage is shown in place of a reply that could not be produced.
const FailureMessage = "Sorry, I encountered an error. Please try again."

// Message is one entry of the conversation. Seq is the arrival order.
type Message struct {
	ID        string                `json:"id"`
	Seq       uint64                `json:"seq"`
	Role      Role                  `json:"role"`
	Content   string                `json:"content"`
	Timestamp time.Time             `json:"timestamp"`
	Title     string                `json:"title,omitempty"`
	Events    []domain.EventSummary `json:"events,omitempty"`
	Failed    bool                  `json:"failed,omitempty"`
}

// UpdateKind says which part of the conversation changed.
type UpdateKind int

const (
	UpdateMessage UpdateKind = iota
	UpdateTyping
	UpdateConnection
)

// Update is delivered to subscribers on every change.
type Update struct {
	Kind      UpdateKind
	Message   Message
	Typing    bool
	Connected bool
}

// Conversation is the append-only, in-memory message log plus the typing and
// connection indicators.
type Conversation struct {
	mu        sync.Mutex
	messages  []Message
	seq       uint64
	typing    bool
	connected bool
	subs      map[int]chan Update
	nextSub   int
	now       func() time.Time
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{subs: make(map[int]chan Update), now: time.Now}
}

// Messages returns a copy of the log.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Typing reports whether the assistant is composing a reply.
func (c *Conversation) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// Connected reports whether the inbound stream is acknowledged.
func (c *Conversation) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe returns a channel of updates. Updates are dropped for a
// subscriber whose buffer is full.
func (c *Conversation) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Update, buffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Conversation) append(m Message, kind string) Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	m.Seq = c.seq
	m.ID = uuid.NewString()
	if m.Timestamp.IsZero() {
		m.Timestamp = c.now().UTC()
	}
	c.messages = append(c.messages, m)
	metrics.RecordAssistantMessage(string(m.Role), kind)
	c.publishLocked(Update{Kind: UpdateMessage, Message: m, Typing: c.typing, Connected: c.connected})
	return m
}

func (c *Conversation) appendFailure() Message {
	return c.append(Message{Role: RoleAssistant, Content: FailureMessage, Failed: true}, "error")
}

func (c *Conversation) setTyping(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.typing == v {
		return
	}
	c.typing = v
	c.publishLocked(Update{Kind: UpdateTyping, Typing: v, Connected: c.connected})
}

func (c *Conversation) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected == v {
		return
	}
	c.connected = v
	metrics.SetConnected(streamName, v)
	c.publishLocked(Update{Kind: UpdateConnection, Typing: c.typing, Connected: v})
}

func (c *Conversation) publishLocked(u Update) {
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
			metrics.RecordSubscriberDrop(streamName)
		}
	}
}
