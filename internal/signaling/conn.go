package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/relay"
)

// wsConn adapts one WebSocket to relay.Conn.
//
// The engine only ever enqueues; a dedicated write pump owns data frames.
// Control frames (ping, close) use WriteControl, which gorilla allows
// concurrently with the pump.
type wsConn struct {
	id      string
	srv     *Server
	ws      *websocket.Conn
	queue   *sendQueue
	limiter *ratelimit.TokenBucket
	log     *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (s *Server) newConn(ws *websocket.Conn) *wsConn {
	id := s.cfg.NewID()
	rate := int64(s.maxMessagesPerSecond())
	return &wsConn{
		id:      id,
		srv:     s,
		ws:      ws,
		queue:   newSendQueue(s.sendQueueBytes()),
		limiter: ratelimit.NewTokenBucket(s.cfg.Clock, rate, rate),
		log:     s.log.With("conn_id", id, "remote_addr", ws.RemoteAddr().String()),
		done:    make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(msg relay.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to encode outbound message", "event", msg.Type, "err", err)
		return false
	}
	return c.queue.Enqueue(data)
}

func (c *wsConn) run() {
	defer c.close()

	idle := c.srv.idleTimeout()
	c.ws.SetReadLimit(c.srv.maxMessageBytes())
	_ = c.ws.SetReadDeadline(time.Now().Add(idle))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(idle))
	})

	// Queued before Connect so it is the first frame the client sees.
	c.Send(relay.Message{Type: relay.EventConnected, Payload: relay.ConnectedPayload{SocketID: c.id}})

	engine := c.srv.cfg.Engine
	if err := engine.Connect(c); err != nil {
		c.log.Error("failed to register connection", "err", err)
		c.closeWith(websocket.CloseInternalServerErr, "internal error")
		return
	}
	defer engine.Disconnect(c.id)

	c.log.Debug("signaling websocket connected")
	go c.writePump()
	go c.pingLoop()

	c.readLoop(engine)
}

func (c *wsConn) readLoop(engine *relay.Engine) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		// Any inbound frame counts as activity, not only pongs.
		_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.idleTimeout()))
		if !c.limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.DropReasonRateLimited)
			c.log.Warn("signaling rate limit exceeded")
			c.fail(relay.ErrorCodeRateLimited, "too many messages", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.srv.metrics.Inc(metrics.DropReasonBadMessage)
			c.closeWith(websocket.CloseUnsupportedData, "text frames only")
			return
		}

		var ev relay.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
			c.srv.metrics.Inc(metrics.DropReasonBadMessage)
			c.fail(relay.ErrorCodeBadMessage, "invalid message envelope", websocket.ClosePolicyViolation, "invalid message")
			return
		}

		engine.Handle(c.id, ev)
		if ev.Type == relay.EventDisconnect {
			c.closeWith(websocket.CloseNormalClosure, "")
			return
		}
	}
}

func (c *wsConn) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		// gorilla has already sent close 1009.
		c.srv.metrics.Inc(metrics.DropReasonMessageTooLarge)
		c.log.Warn("signaling message too large", "limit_bytes", c.srv.maxMessageBytes())
	case isTimeout(err):
		c.log.Debug("signaling websocket idle timeout")
		c.closeWith(websocket.CloseNormalClosure, "idle timeout")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug("signaling websocket closed by peer")
	default:
		c.log.Debug("signaling websocket read failed", "err", err)
	}
}

func (c *wsConn) writePump() {
	for {
		frame, ok := c.queue.Dequeue()
		if !ok {
			return
		}
		if err := c.write(frame); err != nil {
			c.log.Debug("signaling websocket write failed", "err", err)
			c.close()
			return
		}
	}
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.srv.pingInterval())
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				// The read deadline will expire and tear the socket down.
				return
			}
		}
	}
}

func (c *wsConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// fail writes an error event directly (bypassing the queue) and then a close
// frame.
func (c *wsConn) fail(code, message string, closeCode int, reason string) {
	data, err := json.Marshal(relay.Message{
		Type:    relay.EventError,
		Payload: relay.ErrorPayload{Code: code, Message: message},
	})
	if err == nil {
		_ = c.write(data)
	}
	c.closeWith(closeCode, reason)
}

func (c *wsConn) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.queue.Close()
		_ = c.ws.Close()
	})
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
