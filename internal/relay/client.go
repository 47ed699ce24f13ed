package relay

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/meshcall/internal/signaling"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Buffered outbound frames per client.
	sendBuffer = 256
)

// Client is a single websocket connection to the relay.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	codec signaling.Codec

	// roomID comes from the URL; membership starts after authentication.
	roomID string

	// Owned by the hub goroutine.
	authed   bool
	userID   string
	username string
	audioOn  bool
	videoOn  bool

	// send carries encoded frames to writePump.
	send chan []byte

	readLimit  int64
	pingPeriod time.Duration
}

func (c *Client) pongWait() time.Duration {
	return c.pingPeriod * 10 / 9
}

// readPump pumps frames from the websocket connection to the hub.
//
// There is at most one reader per connection; all reads happen here.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Str("room", c.roomID).Msg("read failed")
			}
			return
		}

		msg, err := c.codec.Decode(data)
		if err != nil {
			c.hub.log.Debug().Err(err).Str("room", c.roomID).Msg("dropping malformed frame")
			continue
		}

		if !c.hub.dispatch(c, msg) {
			return
		}
	}
}

// writePump pumps frames from the hub to the websocket connection.
//
// There is at most one writer per connection; all writes happen here.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(c.codec.FrameType(), frame); err != nil {
				c.hub.log.Debug().Err(err).Str("room", c.roomID).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
