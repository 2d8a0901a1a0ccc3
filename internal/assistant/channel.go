// Package assistant implements the AI assistant channel: a server-sent event
// stream for pushed messages and a request/response send path, both feeding
// one append-only conversation.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/KobaKhit/rebelzapp-sub001/internal/apiclient"
	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/metrics"
	"github.com/KobaKhit/rebelzapp-sub001/internal/telemetry"
)

const streamName = "assistant"

// ErrNotConnected is returned by Send while the stream is down.
var ErrNotConnected = errors.New("Not connected to AG-UI endpoint")

// ErrSendInFlight is returned by Send while another send is outstanding.
var ErrSendInFlight = errors.New("a message is already being sent")

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("message is empty")

var errStreamEnded = errors.New("event stream ended")

// Frame kinds on the stream and in send replies.
const (
	kindConnection = "connection"
	kindHeartbeat  = "heartbeat"
	kindMessage    = "message"
	kindText       = "text"
	kindThinking   = "thinking"
	kindEvents     = "events"
	kindError      = "error"
)

// Transport is the part of the API client the channel uses.
type Transport interface {
	OpenEventStream(ctx context.Context) (io.ReadCloser, error)
	SendAssistantMessage(ctx context.Context, content string) (*domain.AssistantReply, error)
}

// ReconnectPolicy controls how the stream is re-opened after it drops.
type ReconnectPolicy struct {
	// Delay between attempts, or the first delay when Exponential is set.
	Delay time.Duration
	// MaxAttempts caps consecutive failed reconnects. Zero means unlimited.
	MaxAttempts int
	Exponential bool
	// MaxDelay caps exponential growth.
	MaxDelay time.Duration
}

// DefaultReconnectPolicy retries every five seconds forever.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Delay: 5 * time.Second, MaxDelay: time.Minute}
}

func (p ReconnectPolicy) backOff() backoff.BackOff {
	delay := p.Delay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	var b backoff.BackOff = backoff.NewConstantBackOff(delay)
	if p.Exponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = delay
		eb.MaxInterval = p.MaxDelay
		if eb.MaxInterval < delay {
			eb.MaxInterval = delay
		}
		eb.MaxElapsedTime = 0
		b = eb
	}
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
	}
	b.Reset()
	return b
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithReconnectPolicy replaces the default reconnect policy.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(c *Channel) { c.policy = p }
}

// Channel owns the stream connection and the send path.
type Channel struct {
	transport Transport
	conv      *Conversation
	policy    ReconnectPolicy
	logger    *zap.Logger

	sending atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// New returns a channel over transport.
func New(transport Transport, opts ...Option) *Channel {
	c := &Channel{
		transport: transport,
		conv:      NewConversation(),
		policy:    DefaultReconnectPolicy(),
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Conversation returns the message log the channel writes to.
func (c *Channel) Conversation() *Conversation { return c.conv }

// Connected reports whether the stream has been acknowledged.
func (c *Channel) Connected() bool { return c.conv.Connected() }

// Run keeps the stream open until ctx is cancelled, Close is called, the
// session is rejected, or the reconnect policy gives up.
func (c *Channel) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return context.Canceled
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	b := c.policy.backOff()
	for attempt := 1; ; attempt++ {
		acked, err := c.serve(ctx, attempt)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, apiclient.ErrUnauthorized) || errors.Is(err, apiclient.ErrNotSignedIn) {
			return err
		}
		if acked {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("assistant stream: giving up after %d attempts: %w", attempt, err)
		}
		metrics.RecordReconnect(streamName)
		c.logger.Warn("assistant stream closed, reconnecting",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Close stops Run. It is safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Channel) serve(ctx context.Context, attempt int) (bool, error) {
	ctx, span := telemetry.StartStreamSpan(ctx, streamName, attempt)
	defer span.End()

	body, err := c.transport.OpenEventStream(ctx)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	defer body.Close()
	defer c.conv.setConnected(false)

	var acked bool
	err = readFrames(body, func(data string) {
		if c.handleFrame(data) {
			acked = true
		}
	})
	if errors.Is(err, io.EOF) {
		err = errStreamEnded
	}
	return acked, err
}

// handleFrame applies one stream frame and reports whether it was the
// connection acknowledgement.
func (c *Channel) handleFrame(data string) bool {
	var f domain.AssistantReply
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		c.logger.Debug("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
		metrics.RecordDroppedFrame(streamName)
		return false
	}

	switch f.Type {
	case kindConnection:
		c.conv.setConnected(true)
		c.logger.Debug("assistant stream connected")
		return true
	case kindHeartbeat:
	case kindMessage:
		var m domain.AssistantMessage
		if err := json.Unmarshal(f.Data, &m); err != nil {
			c.logger.Debug("dropping malformed message frame", zap.Error(err))
			metrics.RecordDroppedFrame(streamName)
			return false
		}
		if m.Role == string(RoleAssistant) {
			c.conv.setTyping(false)
			c.conv.append(Message{Role: RoleAssistant, Content: m.Content}, kindMessage)
		}
	case kindThinking:
		c.conv.setTyping(true)
	case kindError:
		var e domain.AssistantError
		_ = json.Unmarshal(f.Data, &e)
		c.logger.Warn("assistant reported an error", zap.String("message", e.Message))
		c.conv.setTyping(false)
		c.conv.appendFailure()
	default:
		c.logger.Debug("ignoring frame", zap.String("type", f.Type))
	}
	return false
}

// Send appends text as a user message, posts it, and appends the reply.
// Transport failures append a failure message and are returned.
func (c *Channel) Send(ctx context.Context, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if !c.conv.Connected() {
		return nil, ErrNotConnected
	}
	if !c.sending.CompareAndSwap(false, true) {
		return nil, ErrSendInFlight
	}
	defer c.sending.Store(false)

	c.conv.append(Message{Role: RoleUser, Content: text}, kindMessage)

	reply, err := c.transport.SendAssistantMessage(ctx, text)
	if err != nil {
		c.logger.Warn("assistant send failed", zap.Error(err))
		m := c.conv.appendFailure()
		return &m, fmt.Errorf("send message: %w", err)
	}
	return c.applyReply(reply), nil
}

// Sending reports whether a send is outstanding.
func (c *Channel) Sending() bool { return c.sending.Load() }

func (c *Channel) applyReply(r *domain.AssistantReply) *Message {
	var m Message
	switch r.Type {
	case kindText, kindMessage:
		var d domain.AssistantMessage
		if err := json.Unmarshal(r.Data, &d); err != nil {
			c.logger.Debug("malformed reply", zap.Error(err))
			m = c.conv.appendFailure()
			return &m
		}
		c.conv.setTyping(false)
		m = c.conv.append(Message{Role: RoleAssistant, Content: d.Content}, r.Type)
	case kindEvents:
		var d domain.AssistantEvents
		if err := json.Unmarshal(r.Data, &d); err != nil {
			c.logger.Debug("malformed events reply", zap.Error(err))
			m = c.conv.appendFailure()
			return &m
		}
		c.conv.setTyping(false)
		m = c.conv.append(Message{
			Role:    RoleAssistant,
			Content: d.Message,
			Title:   d.Title,
			Events:  d.Events,
		}, kindEvents)
	case kindThinking:
		c.conv.setTyping(true)
		return nil
	case kindError:
		var d domain.AssistantError
		_ = json.Unmarshal(r.Data, &d)
		c.logger.Warn("assistant reply was an error", zap.String("message", d.Message))
		c.conv.setTyping(false)
		m = c.conv.appendFailure()
	default:
		c.logger.Debug("ignoring reply", zap.String("type", r.Type))
		return nil
	}
	return &m
}
