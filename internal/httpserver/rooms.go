package httpserver

import (
	"net/http"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/registry"
)

type roomSummary struct {
	UserCount int                    `json:"userCount"`
	Users     []registry.Participant `json:"users"`
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	all := s.rooms.AllRooms()
	out := make(map[string]roomSummary, len(all))
	for roomID, users := range all {
		out[roomID] = roomSummary{UserCount: len(users), Users: users}
	}
	WriteJSON(w, http.StatusOK, out)
}

// handleGetRoom reports an unknown room as empty rather than 404; rooms only
// exist while occupied.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	users := s.rooms.ListRoom(r.PathValue("roomId"))
	WriteJSON(w, http.StatusOK, roomSummary{UserCount: len(users), Users: users})
}
