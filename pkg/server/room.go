package server

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tehcyx/gchat/pkg/protocol"
)

// Room is a named broadcast domain. It is the sole owner of its membership
// set; every mutation and every broadcast iteration goes through the room's
// own mutex, so a broadcast never observes membership mid-mutation.
type Room struct {
	name   string
	server *Server

	mu      sync.Mutex
	members map[int64]*Session
}

func newRoom(name string, srv *Server) *Room {
	return &Room{
		name:    name,
		server:  srv,
		members: make(map[int64]*Session),
	}
}

func (r *Room) Name() string { return r.name }

// snapshot copies the current membership in session-id order so broadcast
// delivery order is stable.
func (r *Room) snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]*Session, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID() < members[j].ID() })
	return members
}

// Join adds a session to the room. The joiner receives a roster sync of the
// current members; everyone else gets a join notification. Joining a room
// the session is already in is a no-op.
func (r *Room) Join(s *Session) error {
	r.mu.Lock()
	if _, ok := r.members[s.ID()]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s in %q", ErrAlreadyMember, s.Name(), r.name)
	}
	r.members[s.ID()] = s
	r.mu.Unlock()
	s.setRoom(r)

	for _, m := range r.snapshot() {
		if m == s {
			continue
		}
		if !m.SendRoomEvent(s.ID(), s.Name(), r.name, true) {
			r.server.evict(m)
		}
		if !s.SendSyncClient(m.ID(), m.Name()) {
			r.server.evict(s)
		}
	}

	log.Infof("%s(%d) joined room %q", s.Name(), s.ID(), r.name)
	return nil
}

// Remove takes a session out of the room and notifies the remaining members
// of the leave. Removing a non-member is a no-op.
func (r *Room) Remove(s *Session) {
	remaining, ok := r.removeMember(s)
	if !ok {
		return
	}
	for _, m := range remaining {
		if !m.SendRoomEvent(s.ID(), s.Name(), r.name, false) {
			r.server.evict(m)
		}
	}
	log.Infof("%s(%d) left room %q", s.Name(), s.ID(), r.name)
}

// Disconnect is Remove for a session that is going away entirely: remaining
// members get a disconnect notice instead of a room-leave event.
func (r *Room) Disconnect(s *Session) {
	remaining, ok := r.removeMember(s)
	if !ok {
		return
	}
	for _, m := range remaining {
		if !m.SendDisconnectNotice(s.ID(), s.Name()) {
			r.server.evict(m)
		}
	}
	log.Infof("%s(%d) disconnected from room %q", s.Name(), s.ID(), r.name)
}

func (r *Room) removeMember(s *Session) ([]*Session, bool) {
	r.mu.Lock()
	if _, ok := r.members[s.ID()]; !ok {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.members, s.ID())
	empty := len(r.members) == 0
	r.mu.Unlock()

	if empty {
		r.server.dropRoom(r)
	}
	return r.snapshot(), true
}

// Broadcast delivers a chat message to every member, the sender included, so
// the sender sees its own message echoed. Mute filtering happens in each
// recipient's send path, not here. A failed delivery evicts that member and
// never aborts delivery to the rest.
func (r *Room) Broadcast(sender *Session, text string) {
	for _, m := range r.snapshot() {
		if !m.SendChat(sender.ID(), text) {
			r.server.evict(m)
		}
	}
}

// SendPrivate delivers a message directly to the target session's
// connection, bypassing room broadcast. Private messages cross room
// boundaries: the target is looked up among all known sessions. An unknown
// target is reported back to the sender as an informational message.
func (r *Room) SendPrivate(sender *Session, targetID int64, text string) {
	target := r.server.SessionByID(targetID)
	if target == nil {
		sender.sendInfo(fmt.Sprintf("No connected user with id %d.", targetID))
		return
	}
	if !target.SendChat(sender.ID(), text) {
		r.server.evict(target)
	}
}

// HandleCreateRoom creates a new room and moves the requester into it. A
// duplicate name leaves the registry unchanged and notifies the requester
// only.
func (r *Room) HandleCreateRoom(requester *Session, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		requester.sendInfo("Room name must not be empty.")
		return
	}

	room, err := r.server.CreateRoom(name)
	if err != nil {
		if errors.Is(err, ErrDuplicateRoom) {
			requester.sendInfo(fmt.Sprintf("Room %q already exists.", name))
			return
		}
		log.Errorf("Creating room %q: %v", name, err)
		return
	}
	r.server.move(requester, room)
}

// HandleJoinRoom moves the requester to an existing room. A missing room is
// reported to the requester and leaves its membership untouched.
func (r *Room) HandleJoinRoom(requester *Session, name string) {
	name = strings.TrimSpace(name)
	room := r.server.FindRoom(name)
	if room == nil {
		requester.sendInfo(fmt.Sprintf("Room %q was not found.", name))
		return
	}
	r.server.move(requester, room)
}

// HandleListRooms reports all room names to the requester only.
func (r *Room) HandleListRooms(requester *Session) {
	if !requester.SendRoomList(r.server.AllRoomNames()) {
		r.server.evict(requester)
	}
}

// Roll parses a dice spec and broadcasts the result to the whole room. An
// unparseable spec is reported to the requester only.
func (r *Room) Roll(requester *Session, spec string) {
	count, sides, err := parseRollSpec(spec)
	if err != nil {
		requester.sendInfo(fmt.Sprintf("Invalid roll %q: use NdM or a single upper bound.", spec))
		return
	}

	results, total := rollDice(count, sides)
	parts := make([]string, len(results))
	for i, v := range results {
		parts[i] = fmt.Sprintf("%d", v)
	}
	p := protocol.Roll{
		Base: protocol.Base{
			Type:     protocol.KindRoll,
			ClientID: requester.ID(),
			Message:  fmt.Sprintf("%s rolled %dd%d: %s (total %d)", requester.Name(), count, sides, strings.Join(parts, " "), total),
		},
		Count:   count,
		Sides:   sides,
		Results: results,
		Total:   total,
	}
	r.push(requester.ID(), p)
}

// Flip broadcasts a uniformly random heads/tails outcome to the whole room.
func (r *Room) Flip(requester *Session) {
	result := "heads"
	if rand.Intn(2) == 1 {
		result = "tails"
	}
	p := protocol.Flip{
		Base: protocol.Base{
			Type:     protocol.KindFlip,
			ClientID: requester.ID(),
			Message:  fmt.Sprintf("%s flipped a coin: %s", requester.Name(), result),
		},
		Result: result,
	}
	r.push(requester.ID(), p)
}

// push fans a payload out to every member, with the sender's mute state
// evaluated per recipient like any chat message.
func (r *Room) push(senderID int64, p protocol.Payload) {
	for _, m := range r.snapshot() {
		if !m.sendEvent(senderID, p) {
			r.server.evict(m)
		}
	}
}
