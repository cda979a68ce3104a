// Package feed streams DEX trades from a GraphQL-over-WebSocket (graphql-ws) endpoint.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"solana-refunder/internal/domain"
	"solana-refunder/internal/observability"
)

var (
	// ErrConnectionRejected is returned when the server answers connection_init with connection_error.
	ErrConnectionRejected = errors.New("feed: connection rejected")
	// ErrSubscriptionsComplete is returned when the server completed every subscription.
	ErrSubscriptionsComplete = errors.New("feed: all subscriptions completed")
)

// Config configures the feed client.
type Config struct {
	// URL is the websocket endpoint.
	URL string
	// Token authenticates the connection.
	Token string
	// Programs are the DEX program addresses to subscribe to, one subscription each.
	Programs []string
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout bounds the silence between two server frames (keep-alives included).
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// DefaultConfig returns default feed configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Client subscribes to trades and reconnects until its context ends.
type Client struct {
	cfg    Config
	logger *log.Logger
	dialer websocket.Dialer
}

// NewClient creates a feed client. Zero durations take their defaults.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Subprotocols:     []string{Subprotocol},
		},
	}
}

// Run streams trade events into out until ctx is done, reconnecting with
// exponential backoff on any connection failure. Events are delivered in the
// order the server sent them. Run does not close out.
func (c *Client) Run(ctx context.Context, out chan<- domain.TradeEvent) error {
	delay := c.cfg.ReconnectDelay

	for {
		acked, err := c.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Reset delay once a session got as far as the ack
		if acked {
			delay = c.cfg.ReconnectDelay
		}

		c.logger.Printf("[feed] connection lost: %v (reconnecting in %s)", err, delay)
		observability.SetFeedConnected(false)
		observability.RecordFeedReconnect()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// session runs one connection: handshake, subscribe, read until failure.
func (c *Client) session(ctx context.Context, out chan<- domain.TradeEvent) (acked bool, err error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	// Unblock ReadMessage on shutdown
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			conn.Close()
		case <-done:
		}
	}()

	go c.pingLoop(conn, done)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	hello := initPayload{}
	if c.cfg.Token != "" {
		hello.Headers = map[string]string{"Authorization": "Bearer " + c.cfg.Token}
	}
	if err := c.write(conn, KindConnectionInit, "", hello); err != nil {
		return false, err
	}

	active := make(map[string]string) // subscription id -> program

	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return acked, fmt.Errorf("read: %w", err)
		}
		observability.RecordFeedMessage(msg.Type)

		switch msg.Type {
		case KindConnectionAck:
			if acked {
				continue
			}
			acked = true
			observability.SetFeedConnected(true)
			for i, program := range c.cfg.Programs {
				id := strconv.Itoa(i + 1)
				if err := c.write(conn, KindStart, id, startPayload{Query: SubscriptionQuery(program)}); err != nil {
					return acked, err
				}
				active[id] = program
			}
			c.logger.Printf("[feed] connected: subscriptions=%d", len(active))

		case KindKeepAlive:
			// read deadline already refreshed

		case KindData:
			if err := c.deliver(ctx, msg, out); err != nil {
				return acked, err
			}

		case KindError:
			c.logger.Printf("[feed] subscription error: id=%s program=%s payload=%s", msg.ID, active[msg.ID], msg.Payload)

		case KindComplete:
			c.logger.Printf("[feed] subscription complete: id=%s program=%s", msg.ID, active[msg.ID])
			delete(active, msg.ID)
			if acked && len(active) == 0 {
				return acked, ErrSubscriptionsComplete
			}

		case KindConnectionError:
			return acked, fmt.Errorf("%w: %s", ErrConnectionRejected, msg.Payload)

		default:
			c.logger.Printf("[feed] ignoring message: type=%q id=%s", msg.Type, msg.ID)
		}
	}
}

// deliver decodes a data message and hands its trades to out in order.
func (c *Client) deliver(ctx context.Context, msg message, out chan<- domain.TradeEvent) error {
	events, skipped, err := DecodeTrades(msg.Payload)
	if err != nil {
		c.logger.Printf("[feed] dropping data message: id=%s err=%v", msg.ID, err)
		return nil
	}
	if skipped > 0 {
		c.logger.Printf("[feed] dropped %d undecodable trades: id=%s", skipped, msg.ID)
	}

	for _, ev := range events {
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Client) write(conn *websocket.Conn, kind, id string, payload interface{}) error {
	msg := message{Type: kind, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		msg.Payload = raw
	}

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	return nil
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// WriteControl is safe alongside the session's writes; a dead
			// connection surfaces as a read error.
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
		}
	}
}
