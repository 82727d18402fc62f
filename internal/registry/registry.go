package registry

import (
	"sort"
	"sync"
)

// Participant is one user's presence in a room.
type Participant struct {
	SocketID        string `json:"socketId"`
	UserID          UserID `json:"userId"`
	Username        string `json:"username"`
	RoomID          string `json:"roomId"`
	IsAudioEnabled  bool   `json:"isAudioEnabled"`
	IsVideoEnabled  bool   `json:"isVideoEnabled"`
	IsScreenSharing bool   `json:"isScreenSharing"`
}

// Flag names a presence attribute that can be changed with SetFlag.
type Flag int

const (
	FlagAudio Flag = iota
	FlagVideo
	FlagScreenShare
)

func (f Flag) String() string {
	switch f {
	case FlagAudio:
		return "audio"
	case FlagVideo:
		return "video"
	case FlagScreenShare:
		return "screen_share"
	default:
		return "unknown"
	}
}

// DefaultUsername is used when a participant joins without a display name.
func DefaultUsername(userID UserID) string {
	return "User-" + userID.String()
}

type entry struct {
	p   Participant
	seq uint64
}

// Registry maps connections to participants and rooms to their members.
//
// Both maps are guarded by one mutex so every operation observes and leaves
// behind a consistent view. The zero value is not usable; use New.
type Registry struct {
	mu sync.Mutex

	seq   uint64
	conns map[string]*entry
	rooms map[string]map[string]*entry
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]*entry),
		rooms: make(map[string]map[string]*entry),
	}
}

// Join inserts a participant for connID into roomID with audio and video
// enabled and screen sharing off.
func (r *Registry) Join(connID, roomID string, userID UserID, username string) (Participant, error) {
	if username == "" {
		username = DefaultUsername(userID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; ok {
		return Participant{}, ErrAlreadyJoined
	}

	r.seq++
	e := &entry{
		p: Participant{
			SocketID:       connID,
			UserID:         userID,
			Username:       username,
			RoomID:         roomID,
			IsAudioEnabled: true,
			IsVideoEnabled: true,
		},
		seq: r.seq,
	}

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]*entry)
		r.rooms[roomID] = room
	}
	room[connID] = e
	r.conns[connID] = e
	return e.p, nil
}

// Leave removes the participant held by connID and returns it. The room is
// deleted when it becomes empty.
func (r *Registry) Leave(connID string) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return Participant{}, ErrNotFound
	}
	delete(r.conns, connID)

	if room, ok := r.rooms[e.p.RoomID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, e.p.RoomID)
		}
	}
	return e.p, nil
}

func (r *Registry) Get(connID string) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return Participant{}, ErrNotFound
	}
	return e.p, nil
}

// ListRoom returns the members of roomID in join order. The result is never
// nil so it encodes as an empty JSON array.
func (r *Registry) ListRoom(roomID string) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(roomID)
}

func (r *Registry) listLocked(roomID string) []Participant {
	room := r.rooms[roomID]
	entries := make([]*entry, 0, len(room))
	for _, e := range room {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]Participant, len(entries))
	for i, e := range entries {
		out[i] = e.p
	}
	return out
}

// SetFlag updates one presence attribute and returns the updated participant.
func (r *Registry) SetFlag(connID string, flag Flag, value bool) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return Participant{}, ErrNotFound
	}
	switch flag {
	case FlagAudio:
		e.p.IsAudioEnabled = value
	case FlagVideo:
		e.p.IsVideoEnabled = value
	case FlagScreenShare:
		e.p.IsScreenSharing = value
	}
	return e.p, nil
}

func (r *Registry) RoomUserCount(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}

// AllRooms returns a snapshot of every room and its members. Mutating the
// result does not affect the registry.
func (r *Registry) AllRooms() map[string][]Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string][]Participant, len(r.rooms))
	for roomID := range r.rooms {
		out[roomID] = r.listLocked(roomID)
	}
	return out
}

// Stats reports the number of live rooms and participants.
func (r *Registry) Stats() (rooms, participants int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms), len(r.conns)
}
