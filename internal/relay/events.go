package relay

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/registry"
)

// Inbound event names.
const (
	EventJoinRoom         = "join-room"
	EventOffer            = "offer"
	EventAnswer           = "answer"
	EventICECandidate     = "ice-candidate"
	EventSendMessage      = "send-message"
	EventToggleAudio      = "toggle-audio"
	EventToggleVideo      = "toggle-video"
	EventStartScreenShare = "start-screen-share"
	EventStopScreenShare  = "stop-screen-share"
	EventRaiseHand        = "raise-hand"
	EventChangeQuality    = "change-quality"
	EventLeaveRoom        = "leave-room"
	EventDisconnect       = "disconnect"
)

// Outbound event names. offer, answer and ice-candidate reuse the inbound
// names.
const (
	EventConnected              = "connected"
	EventError                  = "error"
	EventUserConnected          = "user-connected"
	EventRoomUsers              = "room-users"
	EventRoomUserCount          = "room-user-count"
	EventReceiveMessage         = "receive-message"
	EventUserAudioToggled       = "user-audio-toggled"
	EventUserVideoToggled       = "user-video-toggled"
	EventUserStartedScreenShare = "user-started-screen-share"
	EventUserStoppedScreenShare = "user-stopped-screen-share"
	EventUserRaisedHand         = "user-raised-hand"
	EventUserChangedQuality     = "user-changed-quality"
	EventUserDisconnected       = "user-disconnected"
)

// TimestampLayout formats event timestamps as UTC ISO-8601 with milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Event is one inbound message from a connection.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is one outbound message to a connection. Payload is encoded with
// encoding/json.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Inbound payloads.

type joinRoomPayload struct {
	RoomID   string          `json:"roomId"`
	UserID   registry.UserID `json:"userId"`
	UserData *userData       `json:"userData,omitempty"`
}

type userData struct {
	Username string `json:"username,omitempty"`
}

type offerPayload struct {
	Target   string          `json:"target"`
	Offer    json.RawMessage `json:"offer"`
	Sender   string          `json:"sender"`
	Username string          `json:"username"`
}

type answerPayload struct {
	Target   string          `json:"target"`
	Answer   json.RawMessage `json:"answer"`
	Sender   string          `json:"sender"`
	Username string          `json:"username"`
}

type iceCandidatePayload struct {
	Target    string          `json:"target"`
	Candidate json.RawMessage `json:"candidate"`
	Sender    string          `json:"sender"`
}

type sendMessagePayload struct {
	Message json.RawMessage `json:"message"`
}

type togglePayload struct {
	Enabled bool `json:"enabled"`
}

type changeQualityPayload struct {
	Quality json.RawMessage `json:"quality"`
}

// Outbound payloads.

// ConnectedPayload tells a client its own connection id.
type ConnectedPayload struct {
	SocketID string `json:"socketId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type UserConnectedPayload struct {
	UserID   registry.UserID        `json:"userId"`
	Username string                 `json:"username"`
	Users    []registry.Participant `json:"users"`
}

type OfferForward struct {
	Offer    json.RawMessage `json:"offer"`
	Sender   string          `json:"sender"`
	Username string          `json:"username"`
}

type AnswerForward struct {
	Answer   json.RawMessage `json:"answer"`
	Sender   string          `json:"sender"`
	Username string          `json:"username"`
}

type ICECandidateForward struct {
	Candidate json.RawMessage `json:"candidate"`
	Sender    string          `json:"sender"`
}

// ReceiveMessagePayload carries a chat message. Message is relayed exactly as
// the sender wrote it.
type ReceiveMessagePayload struct {
	UserID    registry.UserID `json:"userId"`
	Username  string          `json:"username"`
	Message   json.RawMessage `json:"message"`
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	IsOwn     bool            `json:"isOwn,omitempty"`
}

type UserToggledPayload struct {
	UserID  registry.UserID `json:"userId"`
	Enabled bool            `json:"enabled"`
}

type UserStartedScreenSharePayload struct {
	UserID   registry.UserID `json:"userId"`
	Username string          `json:"username"`
}

type UserIDPayload struct {
	UserID registry.UserID `json:"userId"`
}

type UserRaisedHandPayload struct {
	UserID    registry.UserID `json:"userId"`
	Username  string          `json:"username"`
	Timestamp string          `json:"timestamp"`
}

type UserChangedQualityPayload struct {
	UserID  registry.UserID `json:"userId"`
	Quality json.RawMessage `json:"quality"`
}

// decodePayload unmarshals an event payload into v. An absent or null
// payload leaves v at its zero value.
func decodePayload(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
