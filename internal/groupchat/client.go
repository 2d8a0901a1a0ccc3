// Package groupchat keeps a live WebSocket feed of one chat group.
package groupchat

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/KobaKhit/rebelzapp-sub001/internal/apiclient"
	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/metrics"
	"github.com/KobaKhit/rebelzapp-sub001/internal/telemetry"
)

const (
	streamName        = "groupchat"
	pingInterval      = 30 * time.Second
	pongWait          = 70 * time.Second
	writeTimeout      = 10 * time.Second
	initialReconnect  = time.Second
	maxReconnectDelay = time.Minute
)

// ErrNotMember is returned when the server closes the socket with a policy
// violation: the user is not in the group or the token was rejected.
var ErrNotMember = errors.New("not a member of this chat group")

// ErrNotConnected is returned by sends while no socket is open.
var ErrNotConnected = errors.New("chat socket not connected")

// EventKind is the type of an inbound frame.
type EventKind string

const (
	EventMessage    EventKind = "message"
	EventUserJoined EventKind = "user_joined"
	EventUserLeft   EventKind = "user_left"
	EventTyping     EventKind = "typing"
)

// Event is one decoded inbound frame.
type Event struct {
	Kind    EventKind            `json:"type"`
	GroupID int64                `json:"group_id,omitempty"`
	Message *domain.GroupMessage `json:"message,omitempty"`
	User    *domain.UserBasic    `json:"user,omitempty"`
	Typing  bool                 `json:"is_typing,omitempty"`
}

type outbound struct {
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
	MessageType string `json:"message_type,omitempty"`
	IsTyping    *bool  `json:"is_typing,omitempty"`
}

// Endpoint is the part of the API client the chat socket needs.
type Endpoint interface {
	Token() (string, bool)
	WebSocketURL(path string, query url.Values) string
	ExpireSession(ctx context.Context)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithReconnectDelay sets the first and the largest reconnect delay.
func WithReconnectDelay(initial, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.initialDelay = initial
		c.maxDelay = maxDelay
	}
}

// Client is a reconnecting WebSocket client for one group.
type Client struct {
	endpoint     Endpoint
	groupID      int64
	logger       *zap.Logger
	dialer       *websocket.Dialer
	initialDelay time.Duration
	maxDelay     time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	events    chan Event
}

// New returns a client for groupID.
func New(endpoint Endpoint, groupID int64, opts ...Option) *Client {
	c := &Client{
		endpoint:     endpoint,
		groupID:      groupID,
		logger:       zap.NewNop(),
		dialer:       websocket.DefaultDialer,
		initialDelay: initialReconnect,
		maxDelay:     maxReconnectDelay,
		events:       make(chan Event, 64),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Events returns inbound events. The channel is closed when Run returns.
func (c *Client) Events() <-chan Event { return c.events }

// Connected reports whether a socket is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Run connects and keeps the socket open until ctx is cancelled. It returns
// early with ErrNotMember, apiclient.ErrUnauthorized or
// apiclient.ErrNotSignedIn, which retrying cannot fix.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	delay := c.initialDelay
	for attempt := 1; ; attempt++ {
		wasConnected, err := c.connectAndServe(ctx, attempt)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrNotMember) || errors.Is(err, apiclient.ErrUnauthorized) || errors.Is(err, apiclient.ErrNotSignedIn) {
			return err
		}
		if wasConnected {
			delay = c.initialDelay
		}

		metrics.RecordReconnect(streamName)
		c.logger.Warn("chat socket lost, reconnecting",
			zap.Int64("group_id", c.groupID),
			zap.Error(err),
			zap.Duration("backoff", delay),
		)

		t := time.NewTimer(jitter(delay))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
}

// jitter adds up to 50% to d.
func jitter(d time.Duration) time.Duration {
	max := int64(d / 2)
	if max <= 0 {
		return d
	}
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return d
	}
	return d + time.Duration(n.Int64())
}

func (c *Client) connectAndServe(ctx context.Context, attempt int) (bool, error) {
	tok, ok := c.endpoint.Token()
	if !ok {
		return false, apiclient.ErrNotSignedIn
	}

	ctx, span := telemetry.StartStreamSpan(ctx, streamName, attempt)
	defer span.End()

	path := "/ws/chat/" + strconv.FormatInt(c.groupID, 10)
	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint.WebSocketURL(path, url.Values{"token": {tok}}), nil)
	if err != nil {
		span.RecordError(err)
		if resp != nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized {
				c.endpoint.ExpireSession(ctx)
				return false, apiclient.ErrUnauthorized
			}
		}
		return false, fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	metrics.SetConnected(streamName, true)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.connected = false
		c.mu.Unlock()
		metrics.SetConnected(streamName, false)
	}()

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx, conn)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.ClosePolicyViolation {
				return false, ErrNotMember
			}
			return true, fmt.Errorf("read: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Debug("dropping malformed chat frame", zap.Error(err))
			metrics.RecordDroppedFrame(streamName)
			continue
		}
		switch ev.Kind {
		case EventMessage, EventUserJoined, EventUserLeft, EventTyping:
		default:
			c.logger.Debug("ignoring chat frame", zap.String("type", string(ev.Kind)))
			continue
		}

		select {
		case c.events <- ev:
		default:
			metrics.RecordSubscriberDrop(streamName)
			c.logger.Warn("chat inbox full, dropping frame", zap.String("type", string(ev.Kind)))
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// SendMessage posts a text message to the group.
func (c *Client) SendMessage(content string) error {
	if content == "" {
		return errors.New("message is empty")
	}
	return c.send(outbound{Type: string(EventMessage), Content: content, MessageType: "text"})
}

// SetTyping broadcasts the typing indicator to the other members.
func (c *Client) SetTyping(typing bool) error {
	return c.send(outbound{Type: string(EventTyping), IsTyping: &typing})
}

func (c *Client) send(f outbound) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
