package signaling

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrRoomFull    = errors.New("room is full")
	ErrInvalidRoom = errors.New("appointment id is required")

	// ErrNotParticipant refuses a join by someone outside the appointment's
	// established participant pair.
	ErrNotParticipant = errors.New("participant does not belong to this appointment")
)

// FullRoomPolicy decides what happens when a third handle joins a room.
type FullRoomPolicy string

const (
	// PolicyReject refuses the join with ErrRoomFull.
	PolicyReject FullRoomPolicy = "reject"
	// PolicyEvict drops the oldest member to make room for the new one.
	PolicyEvict FullRoomPolicy = "evict"
)

// ParsePolicy maps a config value to a policy.
func ParsePolicy(s string) (FullRoomPolicy, error) {
	switch FullRoomPolicy(s) {
	case "", PolicyReject:
		return PolicyReject, nil
	case PolicyEvict:
		return PolicyEvict, nil
	}
	return "", fmt.Errorf("unknown room policy %q", s)
}

// JoinResult describes the side effects of a Join.
type JoinResult struct {
	// AlreadyMember is set when the handle was in the room before the call.
	AlreadyMember bool

	// Replaced is a stale handle of the same participant that was unbound.
	Replaced Handle

	// Evicted is the oldest member removed under PolicyEvict, and
	// EvictedParticipant the participant id it had joined with.
	Evicted            Handle
	EvictedParticipant string

	// Left is the room the handle was bound to before this join, if any.
	Left string

	// Peers are the other members after the join.
	Peers []Handle
}

// Registry maps appointment identifiers to the handles currently joined.
// It is safe for concurrent use; every operation holds a single lock so
// membership is never observed half-updated.
type Registry struct {
	policy FullRoomPolicy
	now    func() time.Time

	mu     sync.Mutex
	rooms  map[string]*Room
	byHand map[string]string // handle id -> room id
}

// NewRegistry creates an empty registry using policy for full rooms.
func NewRegistry(policy FullRoomPolicy) *Registry {
	if policy == "" {
		policy = PolicyReject
	}
	return &Registry{
		policy: policy,
		now:    time.Now,
		rooms:  make(map[string]*Room),
		byHand: make(map[string]string),
	}
}

// Policy returns the configured full-room policy.
func (r *Registry) Policy() FullRoomPolicy {
	return r.policy
}

// Join binds h to the room for appointmentID.
func (r *Registry) Join(appointmentID string, h Handle, participantID string) (JoinResult, error) {
	var res JoinResult
	if appointmentID == "" {
		return res, ErrInvalidRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[appointmentID]
	if ok {
		if i := room.indexOf(h); i >= 0 {
			if participantID != "" {
				room.members[i].participantID = participantID
			}
			res.AlreadyMember = true
			res.Peers = room.others(h)
			return res, nil
		}
	}

	// Capacity is checked before anything is unbound so a rejected join
	// leaves the handle where it was.
	if ok && len(room.members) >= MaxRoomSize &&
		room.indexOfParticipant(participantID) < 0 && r.policy == PolicyReject {
		return res, ErrRoomFull
	}

	if prev, bound := r.byHand[h.ID()]; bound {
		r.removeLocked(prev, h)
		res.Left = prev
	}

	room, ok = r.rooms[appointmentID]
	if !ok {
		room = newRoom(appointmentID, r.now())
		r.rooms[appointmentID] = room
	}

	if i := room.indexOfParticipant(participantID); i >= 0 {
		ghost := room.remove(i)
		delete(r.byHand, ghost.handle.ID())
		res.Replaced = ghost.handle
	} else if len(room.members) >= MaxRoomSize {
		oldest := room.remove(0)
		delete(r.byHand, oldest.handle.ID())
		res.Evicted = oldest.handle
		res.EvictedParticipant = oldest.participantID
	}

	room.members = append(room.members, &member{
		handle:        h,
		participantID: participantID,
		joinedAt:      r.now(),
	})
	r.byHand[h.ID()] = appointmentID
	res.Peers = room.others(h)
	return res, nil
}

// Leave unbinds h from the room. Empty rooms are deleted.
// It reports whether h was a member.
func (r *Registry) Leave(appointmentID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(appointmentID, h)
}

// LeaveAll unbinds h from every room it belongs to and returns those rooms.
func (r *Registry) LeaveAll(h Handle) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for id, room := range r.rooms {
		if room.indexOf(h) >= 0 {
			left = append(left, id)
		}
	}
	for _, id := range left {
		r.removeLocked(id, h)
	}
	sort.Strings(left)
	return left
}

func (r *Registry) removeLocked(appointmentID string, h Handle) bool {
	room, ok := r.rooms[appointmentID]
	if !ok {
		return false
	}
	i := room.indexOf(h)
	if i < 0 {
		return false
	}
	room.remove(i)
	if r.byHand[h.ID()] == appointmentID {
		delete(r.byHand, h.ID())
	}
	if len(room.members) == 0 {
		delete(r.rooms, appointmentID)
	}
	return true
}

// MembersExcept returns the members of the room other than h.
func (r *Registry) MembersExcept(appointmentID string, h Handle) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[appointmentID]
	if !ok {
		return nil
	}
	return room.others(h)
}

// RoomOf returns the room h is bound to.
func (r *Registry) RoomOf(h Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHand[h.ID()]
	return id, ok
}

// ParticipantOf returns the participant id h joined with.
func (r *Registry) ParticipantOf(h Handle) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[r.byHand[h.ID()]]
	if !ok {
		return ""
	}
	if i := room.indexOf(h); i >= 0 {
		return room.members[i].participantID
	}
	return ""
}

// Size returns the number of members in the room.
func (r *Registry) Size(appointmentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[appointmentID]; ok {
		return len(room.members)
	}
	return 0
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Snapshot lists every live room, ordered by appointment id.
func (r *Registry) Snapshot() []RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RoomInfo, 0, len(r.rooms))
	for _, room := range r.rooms {
		info := RoomInfo{
			AppointmentID: room.ID,
			Members:       len(room.members),
			CreatedAt:     room.CreatedAt,
		}
		for _, m := range room.members {
			info.Participants = append(info.Participants, m.participantID)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentID < out[j].AppointmentID })
	return out
}
