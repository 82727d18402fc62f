package httpserver

import (
	"errors"
	"net/http"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/turnrest"
)

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}

	servers := s.cfg.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}

	if s.cfg.TURNREST.Enabled() {
		if s.turn == nil {
			err := s.turnErr
			if err == nil {
				err = errors.New("turn rest unavailable")
			}
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
			return
		}
		lease, status, err := s.turnLease(r.URL.Query().Get("socketId"))
		if err != nil {
			WriteJSON(w, status, map[string]any{"error": err.Error()})
			return
		}
		servers = withTURNRESTCredentials(servers, lease.Username, lease.Password)
		// Credentials are per request and expire.
		w.Header().Set("Cache-Control", "no-store")
	}

	WriteJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}

// turnLease issues TURN credentials for the participant on socketID, or
// anonymous ones when socketID is empty.
func (s *Server) turnLease(socketID string) (turnrest.Lease, int, error) {
	if socketID == "" {
		s.metrics.Inc(metrics.TURNLeaseAnonymous)
		return s.turn.Anonymous(), http.StatusOK, nil
	}
	p, err := s.rooms.Get(socketID)
	if errors.Is(err, registry.ErrNotFound) {
		return turnrest.Lease{}, http.StatusNotFound, errors.New("socket has not joined a room")
	}
	var lease turnrest.Lease
	if err == nil {
		lease, err = s.turn.ForParticipant(p.RoomID, p.SocketID)
	}
	if err != nil {
		s.log.Error("failed to issue turn lease", "socket_id", socketID, "err", err)
		return turnrest.Lease{}, http.StatusInternalServerError, errors.New("internal error")
	}
	s.metrics.Inc(metrics.TURNLeaseParticipant)
	return lease, http.StatusOK, nil
}

func withTURNRESTCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	if len(servers) == 0 {
		// Preserve empty (non-nil) slices so JSON responses consistently encode as
		// `[]` rather than `null`.
		return servers
	}
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if iceServerHasTURNURL(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}

func iceServerHasTURNURL(server webrtc.ICEServer) bool {
	for _, url := range server.URLs {
		if config.IsTURNURL(url) {
			return true
		}
	}
	return false
}
