package metrics

import "sync"

// Event names counted by the signaling service.
const (
	ConnectionOpened = "connection_opened"
	ConnectionClosed = "connection_closed"

	RoomJoin           = "room_join"
	RoomRejoin         = "room_rejoin"
	RoomLeave          = "room_leave"
	RoomDisconnect     = "room_disconnect"
	NegotiationForward = "negotiation_forward"
	ChatMessage        = "chat_message"
	PresenceUpdate     = "presence_update"

	// Drop reasons.
	DropReasonNoParticipant   = "dropped_no_participant"
	DropReasonTargetMissing   = "dropped_target_missing"
	DropReasonSendQueueFull   = "dropped_send_queue_full"
	DropReasonRateLimited     = "rate_limited"
	DropReasonBadMessage      = "bad_message"
	DropReasonUnknownEvent    = "unknown_event"
	DropReasonConnectLimited  = "connect_rate_limited"
	DropReasonUploadLimited   = "upload_rate_limited"
	DropReasonUploadTooLarge  = "upload_too_large"
	DropReasonMessageTooLarge = "message_too_large"
	// A keyed limiter forgot its least recently seen client to stay under
	// its key cap.
	DropReasonLimiterEvicted = "rate_limiter_key_evicted"

	RecordingUploaded = "recording_uploaded"

	TURNLeaseParticipant = "turn_lease_participant"
	TURNLeaseAnonymous   = "turn_lease_anonymous"
)

// Metrics is a concurrency-safe counter registry.
//
// Counters are exported to Prometheus as a single metric with an `event`
// label (see PrometheusHandler). Gauges computed from live state are
// registered with GaugeFunc. A zero Metrics is usable for counting but only
// New wires runtime collectors.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64

	reg *promRegistry
}

func New() *Metrics {
	m := &Metrics{
		m: make(map[string]uint64),
	}
	m.reg = newPromRegistry(m, true)
	return m
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
