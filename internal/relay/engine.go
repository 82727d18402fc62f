package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/registry"
)

// Conn is the engine's view of one live transport connection.
type Conn interface {
	ID() string
	// Send queues msg for delivery without blocking. It returns false when the
	// message was dropped (queue full or connection closing).
	Send(msg Message) bool
}

type Config struct {
	// Registry is the membership state the engine mutates. If nil, a fresh
	// registry is created.
	Registry *registry.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// Now is used for event timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Engine handles inbound connection events for all rooms.
//
// Every event runs to completion under a single mutex and outbound messages
// are queued before the mutex is released, so recipients in a room observe
// notifications in the order the engine processed the triggering events.
type Engine struct {
	reg     *registry.Registry
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	conns map[string]Conn
}

func NewEngine(cfg Config) *Engine {
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = &metrics.Metrics{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		reg:     reg,
		log:     logger,
		metrics: m,
		now:     now,
		conns:   make(map[string]Conn),
	}
}

// Registry exposes the membership state for read-only introspection.
func (e *Engine) Registry() *registry.Registry { return e.reg }

func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

func (e *Engine) ConnectionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// Connect makes c addressable by its id. It does not join any room.
func (e *Engine) Connect(c Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.conns[c.ID()]; ok {
		return ErrConnectionExists
	}
	e.conns[c.ID()] = c
	e.metrics.Inc(metrics.ConnectionOpened)
	return nil
}

// Disconnect handles the abrupt loss of a connection: its participant (if
// any) leaves its room and the connection is forgotten. Calling it more than
// once is harmless.
func (e *Engine) Disconnect(connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnectLocked(connID)
}

func (e *Engine) disconnectLocked(connID string) {
	if _, ok := e.conns[connID]; !ok {
		return
	}
	e.leaveLocked(connID, metrics.RoomDisconnect)
	delete(e.conns, connID)
	e.metrics.Inc(metrics.ConnectionClosed)
}

// Handle processes one inbound event from connID. Events from unknown
// connections are ignored.
func (e *Engine) Handle(connID string, ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	conn, ok := e.conns[connID]
	if !ok {
		e.log.Debug("event from unknown connection", "conn_id", connID, "event", ev.Type)
		return
	}

	switch ev.Type {
	case EventJoinRoom:
		e.handleJoinLocked(conn, ev)
	case EventOffer:
		var p offerPayload
		if e.decodeLocked(conn, ev, &p) {
			e.forwardLocked(conn, ev.Type, p.Target, OfferForward{
				Offer:    p.Offer,
				Sender:   senderOrSelf(p.Sender, connID),
				Username: p.Username,
			})
		}
	case EventAnswer:
		var p answerPayload
		if e.decodeLocked(conn, ev, &p) {
			e.forwardLocked(conn, ev.Type, p.Target, AnswerForward{
				Answer:   p.Answer,
				Sender:   senderOrSelf(p.Sender, connID),
				Username: p.Username,
			})
		}
	case EventICECandidate:
		var p iceCandidatePayload
		if e.decodeLocked(conn, ev, &p) {
			e.forwardLocked(conn, ev.Type, p.Target, ICECandidateForward{
				Candidate: p.Candidate,
				Sender:    senderOrSelf(p.Sender, connID),
			})
		}
	case EventSendMessage:
		e.handleSendMessageLocked(conn, ev)
	case EventToggleAudio:
		e.handleToggleLocked(conn, ev, registry.FlagAudio, EventUserAudioToggled)
	case EventToggleVideo:
		e.handleToggleLocked(conn, ev, registry.FlagVideo, EventUserVideoToggled)
	case EventStartScreenShare:
		p, ok := e.setFlagLocked(connID, ev.Type, registry.FlagScreenShare, true)
		if ok {
			e.broadcastLocked(p.RoomID, connID, Message{
				Type:    EventUserStartedScreenShare,
				Payload: UserStartedScreenSharePayload{UserID: p.UserID, Username: p.Username},
			})
		}
	case EventStopScreenShare:
		p, ok := e.setFlagLocked(connID, ev.Type, registry.FlagScreenShare, false)
		if ok {
			e.broadcastLocked(p.RoomID, connID, Message{
				Type:    EventUserStoppedScreenShare,
				Payload: UserIDPayload{UserID: p.UserID},
			})
		}
	case EventRaiseHand:
		p, ok := e.participantLocked(connID, ev.Type)
		if ok {
			e.broadcastLocked(p.RoomID, connID, Message{
				Type: EventUserRaisedHand,
				Payload: UserRaisedHandPayload{
					UserID:    p.UserID,
					Username:  p.Username,
					Timestamp: e.timestamp(),
				},
			})
		}
	case EventChangeQuality:
		e.handleChangeQualityLocked(conn, ev)
	case EventLeaveRoom:
		e.leaveLocked(connID, metrics.RoomLeave)
	case EventDisconnect:
		e.disconnectLocked(connID)
	default:
		e.metrics.Inc(metrics.DropReasonUnknownEvent)
		e.replyErrorLocked(conn, ErrorCodeUnknownEvent, fmt.Sprintf("unknown event type %q", ev.Type))
	}
}

func (e *Engine) handleJoinLocked(conn Conn, ev Event) {
	var p joinRoomPayload
	if !e.decodeLocked(conn, ev, &p) {
		return
	}
	if p.RoomID == "" || p.UserID.IsZero() {
		e.metrics.Inc(metrics.DropReasonBadMessage)
		e.replyErrorLocked(conn, ErrorCodeBadMessage, "join-room requires roomId and userId")
		return
	}

	connID := conn.ID()
	if _, err := e.reg.Get(connID); err == nil {
		// A second join moves the connection: leave the old room first so it
		// never keeps a participant whose connection has moved on.
		e.leaveLocked(connID, metrics.RoomRejoin)
	}

	username := ""
	if p.UserData != nil {
		username = p.UserData.Username
	}
	joined, err := e.reg.Join(connID, p.RoomID, p.UserID, username)
	if err != nil {
		e.log.Error("join failed", "conn_id", connID, "room_id", p.RoomID, "err", err)
		return
	}
	e.metrics.Inc(metrics.RoomJoin)

	users := e.reg.ListRoom(joined.RoomID)
	e.log.Debug("participant joined",
		"conn_id", connID,
		"room_id", joined.RoomID,
		"user_id", joined.UserID.String(),
		"room_size", len(users),
	)

	e.broadcastLocked(joined.RoomID, connID, Message{
		Type: EventUserConnected,
		Payload: UserConnectedPayload{
			UserID:   joined.UserID,
			Username: joined.Username,
			Users:    users,
		},
	})
	e.sendLocked(conn, Message{Type: EventRoomUsers, Payload: users})
	e.broadcastLocked(joined.RoomID, "", Message{Type: EventRoomUserCount, Payload: len(users)})
}

func (e *Engine) handleSendMessageLocked(conn Conn, ev Event) {
	var body sendMessagePayload
	if !e.decodeLocked(conn, ev, &body) {
		return
	}
	p, ok := e.participantLocked(conn.ID(), ev.Type)
	if !ok {
		return
	}
	e.metrics.Inc(metrics.ChatMessage)

	msg := ReceiveMessagePayload{
		UserID:    p.UserID,
		Username:  p.Username,
		Message:   body.Message,
		Timestamp: e.timestamp(),
		Type:      "text",
	}
	e.broadcastLocked(p.RoomID, conn.ID(), Message{Type: EventReceiveMessage, Payload: msg})

	own := msg
	own.IsOwn = true
	e.sendLocked(conn, Message{Type: EventReceiveMessage, Payload: own})
}

func (e *Engine) handleToggleLocked(conn Conn, ev Event, flag registry.Flag, outType string) {
	var body togglePayload
	if !e.decodeLocked(conn, ev, &body) {
		return
	}
	p, ok := e.setFlagLocked(conn.ID(), ev.Type, flag, body.Enabled)
	if !ok {
		return
	}
	e.broadcastLocked(p.RoomID, conn.ID(), Message{
		Type:    outType,
		Payload: UserToggledPayload{UserID: p.UserID, Enabled: body.Enabled},
	})
}

func (e *Engine) handleChangeQualityLocked(conn Conn, ev Event) {
	var body changeQualityPayload
	if !e.decodeLocked(conn, ev, &body) {
		return
	}
	p, ok := e.participantLocked(conn.ID(), ev.Type)
	if !ok {
		return
	}
	e.broadcastLocked(p.RoomID, conn.ID(), Message{
		Type:    EventUserChangedQuality,
		Payload: UserChangedQualityPayload{UserID: p.UserID, Quality: body.Quality},
	})
}

// leaveLocked removes connID's participant and notifies the rest of the room.
// It is a no-op when the connection has not joined a room.
func (e *Engine) leaveLocked(connID, reason string) {
	p, err := e.reg.Get(connID)
	if err != nil {
		return
	}

	e.broadcastLocked(p.RoomID, connID, Message{
		Type:    EventUserDisconnected,
		Payload: UserIDPayload{UserID: p.UserID},
	})
	if _, err := e.reg.Leave(connID); err != nil {
		return
	}
	e.metrics.Inc(reason)
	e.log.Debug("participant left", "conn_id", connID, "room_id", p.RoomID, "user_id", p.UserID.String(), "reason", reason)

	if n := e.reg.RoomUserCount(p.RoomID); n > 0 {
		e.broadcastLocked(p.RoomID, "", Message{Type: EventRoomUserCount, Payload: n})
	}
}

func (e *Engine) forwardLocked(from Conn, eventType, target string, payload any) {
	to, ok := e.conns[target]
	if !ok {
		e.metrics.Inc(metrics.DropReasonTargetMissing)
		e.log.Debug("negotiation target not connected", "conn_id", from.ID(), "event", eventType, "target", target)
		return
	}
	e.metrics.Inc(metrics.NegotiationForward)
	e.sendLocked(to, Message{Type: eventType, Payload: payload})
}

func (e *Engine) participantLocked(connID, eventType string) (registry.Participant, bool) {
	p, err := e.reg.Get(connID)
	if err != nil {
		e.dropNoParticipant(connID, eventType, err)
		return registry.Participant{}, false
	}
	return p, true
}

func (e *Engine) setFlagLocked(connID, eventType string, flag registry.Flag, value bool) (registry.Participant, bool) {
	p, err := e.reg.SetFlag(connID, flag, value)
	if err != nil {
		e.dropNoParticipant(connID, eventType, err)
		return registry.Participant{}, false
	}
	e.metrics.Inc(metrics.PresenceUpdate)
	return p, true
}

func (e *Engine) dropNoParticipant(connID, eventType string, err error) {
	if !errors.Is(err, registry.ErrNotFound) {
		e.log.Error("registry lookup failed", "conn_id", connID, "event", eventType, "err", err)
		return
	}
	e.metrics.Inc(metrics.DropReasonNoParticipant)
	e.log.Debug("event requires a joined room", "conn_id", connID, "event", eventType)
}

// broadcastLocked sends msg to every member of roomID except exclude.
func (e *Engine) broadcastLocked(roomID, exclude string, msg Message) {
	for _, p := range e.reg.ListRoom(roomID) {
		if p.SocketID == exclude {
			continue
		}
		conn, ok := e.conns[p.SocketID]
		if !ok {
			continue
		}
		e.sendLocked(conn, msg)
	}
}

func (e *Engine) sendLocked(conn Conn, msg Message) {
	if conn.Send(msg) {
		return
	}
	e.metrics.Inc(metrics.DropReasonSendQueueFull)
	e.log.Warn("dropping outbound message", "conn_id", conn.ID(), "event", msg.Type)
}

func (e *Engine) decodeLocked(conn Conn, ev Event, v any) bool {
	if err := decodePayload(ev.Payload, v); err != nil {
		e.metrics.Inc(metrics.DropReasonBadMessage)
		e.replyErrorLocked(conn, ErrorCodeBadMessage, ev.Type+": "+err.Error())
		return false
	}
	return true
}

func (e *Engine) replyErrorLocked(conn Conn, code, message string) {
	e.sendLocked(conn, Message{Type: EventError, Payload: ErrorPayload{Code: code, Message: message}})
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(TimestampLayout)
}

func senderOrSelf(sender, connID string) string {
	if sender == "" {
		return connID
	}
	return sender
}
