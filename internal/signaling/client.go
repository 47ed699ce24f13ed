package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/meshcall/internal/dns"
	"github.com/BioHazard786/meshcall/internal/errs"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Channel is a typed, ordered message channel to the relay.
type Channel interface {
	Send(msg *Message) error
	// OnMessage installs the handler every inbound message is delivered to,
	// one at a time and in arrival order.
	OnMessage(h func(*Message))
	// OnClose installs the handler called exactly once when the channel
	// ends. cause is nil when Close ended it.
	OnClose(h func(cause error))
	Close() error
}

type options struct {
	codec    Codec
	logger   *slog.Logger
	resolver *dns.Resolver
}

type Option func(*options)

func WithCodec(c Codec) Option { return func(o *options) { o.codec = c } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func WithResolver(r *dns.Resolver) Option { return func(o *options) { o.resolver = r } }

// Client manages the WebSocket connection to the relay.
type Client struct {
	conn     *websocket.Conn
	codec    Codec
	log      *slog.Logger
	incoming chan *Message
	outgoing chan []byte
	done     chan struct{}

	shutdownOnce sync.Once
	handlerOnce  sync.Once
	handlerSet   chan struct{}

	mu        sync.Mutex
	onMessage func(*Message)
	onClose   func(error)
	cause     error
	fired     bool
}

// Dial establishes the WebSocket connection to endpoint.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	o := options{codec: JSONCodec{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.resolver == nil {
		o.resolver = dns.NewResolver()
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errs.WrapError("dial", errors.Join(errs.ErrTransport, err), endpoint)
	}

	// Resolve through our own DNS fallback chain
	dialer := &websocket.Dialer{
		NetDialContext:   o.resolver.DialContext,
		HandshakeTimeout: writeWait,
		Proxy:            websocket.DefaultDialer.Proxy,
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errs.WrapError("dial", errors.Join(errs.ErrTransport, err), endpoint)
	}

	c := newClient(conn, o.codec, o.logger)
	go c.readPump()
	go c.writePump()
	go c.dispatch()
	return c, nil
}

func newClient(conn *websocket.Conn, codec Codec, logger *slog.Logger) *Client {
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return &Client{
		conn:       conn,
		codec:      codec,
		log:        logger.With("component", "signaling"),
		incoming:   make(chan *Message, 64),
		outgoing:   make(chan []byte, 64),
		done:       make(chan struct{}),
		handlerSet: make(chan struct{}),
	}
}

// readPump reads frames from the WebSocket connection.
func (c *Client) readPump() {
	defer close(c.incoming)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(errors.Join(errs.ErrTransport, err))
			return
		}

		msg, err := c.codec.Decode(data)
		if err != nil {
			c.log.Debug("dropping malformed message", "err", err)
			continue
		}
		if !Known(msg.Type) {
			c.log.Debug("dropping message of unknown type", "type", msg.Type)
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes frames to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				c.shutdown(errors.Join(errs.ErrTransport, err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(errors.Join(errs.ErrTransport, err))
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// dispatch delivers inbound messages to the handler on a single goroutine
// and fires the close handler once the read side has drained.
func (c *Client) dispatch() {
	select {
	case <-c.handlerSet:
	case <-c.done:
	}

	for msg := range c.incoming {
		c.mu.Lock()
		h := c.onMessage
		c.mu.Unlock()
		if h != nil {
			h(msg)
		}
	}

	<-c.done
	c.mu.Lock()
	c.fired = true
	h, cause := c.onClose, c.cause
	c.mu.Unlock()
	if h != nil {
		h(cause)
	}
}

func (c *Client) shutdown(cause error) {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.cause = cause
		c.mu.Unlock()
		close(c.done)
		if cause != nil {
			c.log.Debug("signaling channel closed", "err", cause)
		}
		// Unblock ReadMessage when the close handshake never completes.
		time.AfterFunc(writeWait, func() { c.conn.Close() })
	})
}

// Send queues msg for delivery.
func (c *Client) Send(msg *Message) error {
	select {
	case <-c.done:
		return errs.NewError("send "+msg.Type, errs.ErrChannelClosed)
	default:
	}

	data, err := c.codec.Encode(msg)
	if err != nil {
		return errs.WrapError("encode "+msg.Type, errs.ErrTransport, err.Error())
	}

	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return errs.NewError("send "+msg.Type, errs.ErrChannelClosed)
	}
}

func (c *Client) OnMessage(h func(*Message)) {
	c.mu.Lock()
	c.onMessage = h
	c.mu.Unlock()
	if h != nil {
		c.handlerOnce.Do(func() { close(c.handlerSet) })
	}
}

func (c *Client) OnClose(h func(error)) {
	c.mu.Lock()
	if c.fired {
		cause := c.cause
		c.mu.Unlock()
		h(cause)
		return
	}
	c.onClose = h
	c.mu.Unlock()
}

// Done is closed once the channel has shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the channel. It is safe to call more than once.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}
