package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/morbidsteve/agent-orchestra/internal/common/logger"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Outbound buffer; Enqueue drops the client once it fills.
	sendBuffer = 256
)

// Application close codes.
const (
	CloseOriginRejected = 4003
	CloseStreamFull     = 4004
)

// inboundMessage is everything a dashboard socket may send.
type inboundMessage struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// Client is one WebSocket connection subscribed to a single stream. It
// implements stream.Subscriber: frames arrive via Enqueue and drain through
// the write pump.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	onMessage func(msg inboundMessage)
	onClose   func()
	logger    *logger.Logger
}

func newClient(conn *websocket.Conn, log *logger.Logger, onMessage func(inboundMessage), onClose func()) *Client {
	return &Client{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		closed:    make(chan struct{}),
		onMessage: onMessage,
		onClose:   onClose,
		logger:    log,
	}
}

// Enqueue implements stream.Subscriber. It never blocks; a full buffer
// reports false, which removes the client from the stream.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("client send buffer full, dropping subscriber")
		return false
	}
}

// readPump consumes inbound messages until the connection drops.
func (c *Client) readPump() {
	defer func() {
		close(c.closed)
		c.onClose()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", zap.Error(err))
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("invalid inbound message", zap.Error(err))
			continue
		}
		c.onMessage(msg)
	}
}

// writePump drains the send buffer and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(frame)

			// Batch additional queued frames, newline-delimited.
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}
