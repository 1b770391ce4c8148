package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"huddle/client/internal/domain"
)

const (
	defaultKeepAliveInterval = 30 * time.Second
	defaultMaxReconnects     = 5
	defaultReconnectBase     = time.Second
	defaultReconnectCap      = 30 * time.Second
)

// Config configures the signaling channel.
type Config struct {
	// BaseURL is the signaling endpoint base, e.g. "wss://example.com/signal".
	// The channel connects to {BaseURL}/{MeetingID}?token={Token}.
	BaseURL   string
	MeetingID string
	Token     string

	// KeepAliveInterval is the fixed keep-alive emission period.
	KeepAliveInterval time.Duration

	// MaxReconnectAttempts bounds consecutive reconnection attempts after a
	// non-normal closure. ReconnectBase doubles per attempt up to
	// ReconnectCap.
	MaxReconnectAttempts int
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration

	// LoggerFactory is the factory for creating loggers. If nil, a default
	// factory is used.
	LoggerFactory logging.LoggerFactory
}

// Channel maintains one live WebSocket connection to the meeting's signaling
// endpoint and delivers typed events, in arrival order, to its handler.
// It implements domain.Channel.
type Channel struct {
	cfg     Config
	log     logging.LeveledLogger
	handler domain.ChannelHandler

	mu         sync.Mutex
	conn       *websocket.Conn
	closed     bool
	attempt    int
	delays     *backoff.ExponentialBackOff
	retryTimer *time.Timer
	ctx        context.Context
}

// NewChannel creates a channel. Call SetHandler before Connect.
func NewChannel(cfg Config) *Channel {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnects
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.ReconnectCap <= 0 {
		cfg.ReconnectCap = defaultReconnectCap
	}
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Channel{
		cfg: cfg,
		log: lf.NewLogger("huddle-signal"),
	}
}

// SetHandler injects the event handler after construction to resolve the
// circular dependency between the channel and its consumer.
func (c *Channel) SetHandler(h domain.ChannelHandler) {
	c.handler = h
}

// Connect establishes the transport and starts the read and keep-alive
// loops. The context bounds this dial and any later reconnection dials.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.closed = false
	c.attempt = 0
	c.delays = newReconnectBackoff(c.cfg.ReconnectBase, c.cfg.ReconnectCap)
	c.ctx = ctx
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Channel) dial(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/%s?token=%s",
		c.cfg.BaseURL, c.cfg.MeetingID, url.QueryEscape(c.cfg.Token))

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: http %d", domain.ErrAuthRejected, resp.StatusCode)
		}
		return &domain.NetworkError{Op: "dial signaling endpoint", Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.attempt = 0
	c.delays.Reset()
	c.mu.Unlock()

	done := make(chan struct{})
	go c.readLoop(conn, done)
	go c.keepAliveLoop(done)

	c.log.Infof("connected to %s/%s", c.cfg.BaseURL, c.cfg.MeetingID)
	return nil
}

// SendSignal publishes an offer/answer/ICE payload addressed to one
// participant. Best-effort: dropped with a log line if the transport is down.
func (c *Channel) SendSignal(to string, payload domain.SignalPayload) {
	c.send(Envelope{Type: EventSignal, ToParticipant: to, Payload: &payload})
}

// SendMediaState broadcasts the local media enablement snapshot.
func (c *Channel) SendMediaState(state domain.MediaState) {
	c.send(Envelope{Type: EventMediaStateChanged, Media: &state})
}

// SendChat broadcasts a chat message.
func (c *Channel) SendChat(msg domain.ChatMessage) {
	c.send(Envelope{Type: EventChatMessage, Chat: &msg})
}

func (c *Channel) send(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		c.log.Warnf("dropping %s: channel not open", env.Type)
		return
	}
	if err := c.conn.WriteJSON(env); err != nil {
		c.log.Errorf("write %s: %v", env.Type, err)
	}
}

// Disconnect closes the transport with a normal-closure code, cancels the
// keep-alive and any pending reconnect, and resets reconnect counters.
// Idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.closed = true
	c.attempt = 0
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

func (c *Channel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			conn.Close()
			if c.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Infof("signaling closed by server")
				return
			}
			c.log.Warnf("read: %v", err)
			c.scheduleReconnect()
			return
		}
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env Envelope) {
	h := c.handler
	if h == nil {
		return
	}

	switch env.Type {
	case EventParticipantJoined:
		h.ParticipantJoined(env.ParticipantID)
	case EventParticipantLeft:
		h.ParticipantLeft(env.ParticipantID)
	case EventMeetingEnded:
		h.MeetingEnded()
	case EventSignal:
		if env.Payload != nil {
			h.Signal(env.FromParticipant, *env.Payload)
		}
	case EventMediaStateChanged:
		if env.Media != nil {
			h.MediaStateChanged(env.FromParticipant, *env.Media)
		}
	case EventChatMessage:
		if env.Chat != nil {
			h.ChatReceived(*env.Chat)
		}
	case EventKeepAliveAck:
		// consumed silently
	default:
		c.log.Debugf("unhandled event type: %s", env.Type)
	}
}

func (c *Channel) keepAliveLoop(done chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.send(Envelope{Type: EventKeepAlive})
		}
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// scheduleReconnect arms the next retry after a non-normal closure. The
// previous transport has already fully closed when this runs.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.attempt++
	if c.attempt > c.cfg.MaxReconnectAttempts {
		c.closed = true
		c.mu.Unlock()
		c.log.Errorf("giving up after %d reconnect attempts", c.cfg.MaxReconnectAttempts)
		if c.handler != nil {
			c.handler.ConnectionLost()
		}
		return
	}
	delay := c.delays.NextBackOff()
	attempt := c.attempt
	c.retryTimer = time.AfterFunc(delay, c.redial)
	c.mu.Unlock()

	c.log.Infof("reconnecting in %s (attempt %d/%d)", delay, attempt, c.cfg.MaxReconnectAttempts)
}

func (c *Channel) redial() {
	if c.isClosed() {
		return
	}
	err := c.dial(c.ctx)
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrAuthRejected) {
		c.log.Errorf("reconnect refused: %v", err)
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		if c.handler != nil {
			c.handler.ConnectionLost()
		}
		return
	}
	c.log.Warnf("reconnect failed: %v", err)
	c.scheduleReconnect()
}

// newReconnectBackoff builds the deterministic doubling schedule
// min(base*2^n, cap).
func newReconnectBackoff(base, ceiling time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = ceiling
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
