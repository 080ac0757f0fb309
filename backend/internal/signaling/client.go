package signaling

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/docease/telecare/backend/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP with many candidates

	// Outbound frames buffered per connection before new ones are dropped.
	sendBuffer = 256
)

// Client is a participant handle: one websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string

	// send is a buffered channel for all outbound frames. Only the hub
	// goroutine writes to it and only the hub closes it.
	send chan []byte
}

// NewClient wraps conn as a new handle owned by hub.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
	}
}

// ID implements Handle.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) remoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// deliver queues a frame without blocking the hub. Frames that do not fit
// are dropped; signaling is fire-and-forget.
func (c *Client) deliver(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		metrics.SignalsDropped.WithLabelValues("backpressure").Inc()
		return false
	}
}

// ReadPump pumps frames from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Str("handle", c.id).Msg("connection closed unexpectedly")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := decodeMessage(data)
		if err != nil {
			metrics.SignalsDropped.WithLabelValues("malformed").Inc()
			c.hub.log.Debug().Str("handle", c.id).Msg("dropping malformed frame")
			continue
		}
		msg.client = c
		c.hub.vet(msg)

		if !c.hub.dispatch(msg) {
			return
		}
	}
}

// WritePump pumps frames from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
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
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.hub.log.Debug().Err(err).Str("handle", c.id).Msg("write failed")
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
