// Package server implements the multi-room chat server: per-connection
// sessions, room-scoped broadcast and command routing, and per-session mute
// state with durable storage.
package server

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tehcyx/gchat/pkg/protocol"
)

// Connection abstracts the transport for one connected client. Send is
// fire-and-forget: a false return marks the connection as dead and the
// session gets cleaned up, there are no retries. Implementations must be
// safe for concurrent Send calls.
type Connection interface {
	Receive() (protocol.Payload, error)
	Send(p protocol.Payload) bool
	Close() error
}

// Session is the server-side representation of one connected client. It owns
// the client's identity, current room reference, and private mute list.
// All inbound dispatch runs on the session's own goroutine; send methods may
// be called concurrently by any room broadcasting to this session.
type Session struct {
	handle uuid.UUID // log handle, assigned at accept before the client has an id
	conn   Connection
	server *Server

	mu    sync.Mutex
	id    int64
	name  string
	room  *Room
	muted map[int64]string // muted sender id -> cached display name
}

func newSession(conn Connection, srv *Server) *Session {
	return &Session{
		handle: uuid.Must(uuid.NewRandom()),
		conn:   conn,
		server: srv,
		id:     protocol.DefaultClientID,
		muted:  make(map[int64]string),
	}
}

func (s *Session) ID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Room returns the session's current room, nil before initialization.
func (s *Session) Room() *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) setRoom(r *Room) {
	s.mu.Lock()
	s.room = r
	s.mu.Unlock()
}

func (s *Session) initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name != "" && s.id != protocol.DefaultClientID
}

// Run reads and dispatches payloads until the connection fails or closes,
// then tears the session down. Only connection-level failure ends the loop;
// a single bad payload never does.
func (s *Session) Run() {
	defer s.teardown()

	for {
		p, err := s.conn.Receive()
		if err != nil {
			log.Infof("Session %s disconnected: %v", s.logName(), err)
			return
		}
		s.dispatch(p)
	}
}

func (s *Session) teardown() {
	if room := s.Room(); room != nil {
		room.Disconnect(s)
	}
	s.server.dropSession(s)
	s.conn.Close()
	log.Infof("Session %s closed", s.logName())
}

// dispatch routes one payload by tag. Anything that goes wrong here is
// logged and swallowed so a malformed message cannot take down a live
// connection.
func (s *Session) dispatch(p protocol.Payload) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Session %s: could not process %v: %v", s.logName(), p, r)
		}
	}()

	if p.Kind() != protocol.KindConnect && !s.initialized() {
		log.Warnf("Session %s sent %s before connecting, ignoring", s.logName(), p.Kind())
		return
	}

	switch p.Kind() {
	case protocol.KindConnect:
		name := p.Text()
		if cp, ok := p.(protocol.Connect); ok && cp.ClientName != "" {
			name = cp.ClientName
		}
		if err := s.setDisplayName(name); err != nil {
			log.Warnf("Session %s connect rejected: %v", s.logName(), err)
			if strings.TrimSpace(name) == "" {
				s.sendInfo("A non-empty display name is required to connect.")
			}
		}
	case protocol.KindMessage:
		if s.IsMuted(p.Sender()) {
			log.Infof("Session %s: message from %d skipped due to being muted", s.logName(), p.Sender())
			return
		}
		s.Room().Broadcast(s, p.Text())
	case protocol.KindRoomCreate:
		s.Room().HandleCreateRoom(s, p.Text())
	case protocol.KindRoomJoin:
		s.Room().HandleJoinRoom(s, p.Text())
	case protocol.KindRoomList:
		s.Room().HandleListRooms(s)
	case protocol.KindDisconnect:
		s.Room().Disconnect(s)
		s.conn.Close()
	case protocol.KindRoll:
		spec := p.Text()
		if rp, ok := p.(protocol.Roll); ok && rp.Sides > 0 {
			count := rp.Count
			if count == 0 {
				count = 1
			}
			spec = fmt.Sprintf("%dd%d", count, rp.Sides)
		}
		s.Room().Roll(s, spec)
	case protocol.KindFlip:
		s.Room().Flip(s)
	case protocol.KindMute:
		s.handleMute(p, true)
	case protocol.KindUnmute:
		s.handleMute(p, false)
	case protocol.KindPrivateMessage:
		targetID := p.Sender()
		if targetID == protocol.DefaultClientID {
			s.sendInfo("A private message needs a target client id.")
			return
		}
		if s.IsMuted(targetID) {
			log.Infof("Session %s: private message to muted %d dropped", s.logName(), targetID)
			return
		}
		s.Room().SendPrivate(s, targetID, p.Text())
	default:
		// Unrecognized tags are a no-op, not an error.
		log.Debugf("Session %s: ignoring payload %v", s.logName(), p)
	}
}

// setDisplayName completes the second phase of session construction: the
// display name arrives, the mute list is loaded, and the registry assigns an
// id and places the session into the lobby.
func (s *Session) setDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty display name", ErrInvalidState)
	}

	s.mu.Lock()
	if s.name != "" {
		s.mu.Unlock()
		return fmt.Errorf("%w: display name already set", ErrInvalidState)
	}
	s.name = name
	s.mu.Unlock()

	s.loadMutes()
	s.server.sessionReady(s)
	return nil
}

// handleMute resolves the target of a MUTE/UNMUTE payload. The target is the
// clientId when set, otherwise the message field is treated as a display
// name.
func (s *Session) handleMute(p protocol.Payload, mute bool) {
	targetID := p.Sender()
	if targetID == protocol.DefaultClientID {
		target := s.server.SessionByName(p.Text())
		if target == nil {
			s.sendInfo(fmt.Sprintf("No connected user %q.", p.Text()))
			return
		}
		targetID = target.ID()
	}
	if mute {
		s.addMutedSender(targetID)
	} else {
		s.removeMutedSender(targetID)
	}
}

// addMutedSender mutes a sender for this session only. The target keeps
// seeing this session's messages and is merely told it has been muted.
func (s *Session) addMutedSender(targetID int64) {
	if s.IsMuted(targetID) {
		s.sendInfo(fmt.Sprintf("User %s is already muted.", s.mutedName(targetID)))
		log.Infof("Session %s: %d is already muted", s.logName(), targetID)
		return
	}

	target := s.server.SessionByID(targetID)
	if target == nil {
		s.sendInfo(fmt.Sprintf("No connected user with id %d.", targetID))
		return
	}

	s.mu.Lock()
	s.muted[targetID] = target.Name()
	s.mu.Unlock()
	s.saveMutes()

	target.sendInfo(fmt.Sprintf("%s muted you.", s.Name()))
	s.sendMuteStatus(targetID, true)
	log.Infof("Session %s muted %d", s.logName(), targetID)
}

func (s *Session) removeMutedSender(targetID int64) {
	if !s.IsMuted(targetID) {
		s.sendInfo(fmt.Sprintf("User %s is not muted.", s.mutedName(targetID)))
		log.Infof("Session %s: %d is not muted", s.logName(), targetID)
		return
	}

	s.mu.Lock()
	delete(s.muted, targetID)
	s.mu.Unlock()
	s.saveMutes()

	if target := s.server.SessionByID(targetID); target != nil {
		target.sendInfo(fmt.Sprintf("%s unmuted you.", s.Name()))
	}
	s.sendMuteStatus(targetID, false)
	log.Infof("Session %s unmuted %d", s.logName(), targetID)
}

// IsMuted reports whether this session has muted the given sender id.
func (s *Session) IsMuted(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.muted[id]
	return ok
}

// mutedName returns the cached display name for a muted id, falling back to
// the numeric id for ids we never had a name for.
func (s *Session) mutedName(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name, ok := s.muted[id]; ok {
		return name
	}
	return fmt.Sprintf("%d", id)
}

// loadMutes populates the mute set from durable storage. Unreadable storage
// degrades to an empty mute set, never a dead session.
func (s *Session) loadMutes() {
	muted, err := s.server.mutes.Load(s.Name())
	if err != nil {
		log.Errorf("Session %s: loading mute list: %v", s.logName(), err)
	}
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *Session) saveMutes() {
	s.mu.Lock()
	snapshot := make(map[int64]string, len(s.muted))
	for id, name := range s.muted {
		snapshot[id] = name
	}
	name := s.name
	s.mu.Unlock()

	if err := s.server.mutes.Save(name, snapshot); err != nil {
		log.Errorf("Session %s: saving mute list: %v", s.logName(), err)
	}
}

// SendChat pushes a MESSAGE payload. Messages from muted senders are
// suppressed but still count as delivered, callers never need to care.
func (s *Session) SendChat(senderID int64, text string) bool {
	if senderID != protocol.DefaultClientID && s.IsMuted(senderID) {
		log.Infof("Session %s: chat from %d suppressed (muted)", s.logName(), senderID)
		return true
	}
	return s.conn.Send(protocol.Base{Type: protocol.KindMessage, ClientID: senderID, Message: text})
}

// sendInfo pushes a server-generated informational chat message.
func (s *Session) sendInfo(text string) bool {
	return s.SendChat(protocol.DefaultClientID, text)
}

// sendEvent pushes any payload attributed to senderID, applying the same
// mute suppression as chat. Used for room-scoped results like rolls.
func (s *Session) sendEvent(senderID int64, p protocol.Payload) bool {
	if senderID != protocol.DefaultClientID && s.IsMuted(senderID) {
		return true
	}
	return s.conn.Send(p)
}

// SendRoomEvent tells the client that a session joined or left a room.
func (s *Session) SendRoomEvent(id int64, name, roomName string, joined bool) bool {
	return s.conn.Send(protocol.Connect{
		Base:       protocol.Base{Type: protocol.KindRoomJoin, ClientID: id, Message: roomName},
		ClientName: name,
		IsConnect:  joined,
	})
}

// SendDisconnectNotice tells the client that a session disconnected.
func (s *Session) SendDisconnectNotice(id int64, name string) bool {
	return s.conn.Send(protocol.Connect{
		Base:       protocol.Base{Type: protocol.KindDisconnect, ClientID: id},
		ClientName: name,
	})
}

// SendSyncClient tells the client about an existing member of its room.
func (s *Session) SendSyncClient(id int64, name string) bool {
	return s.conn.Send(protocol.Connect{
		Base:       protocol.Base{Type: protocol.KindSyncClient, ClientID: id},
		ClientName: name,
		IsConnect:  true,
	})
}

// sendClientID assigns and announces this session's server-issued id.
func (s *Session) sendClientID(id int64) bool {
	s.mu.Lock()
	s.id = id
	name := s.name
	s.mu.Unlock()
	return s.conn.Send(protocol.Connect{
		Base:       protocol.Base{Type: protocol.KindClientID, ClientID: id},
		ClientName: name,
		IsConnect:  true,
	})
}

// SendRoomList pushes the result of a room listing.
func (s *Session) SendRoomList(names []string) bool {
	return s.conn.Send(protocol.RoomResults{
		Base:  protocol.Base{Type: protocol.KindRoomResults, ClientID: protocol.DefaultClientID},
		Rooms: names,
	})
}

func (s *Session) sendMuteStatus(targetID int64, muted bool) bool {
	status := "UNMUTED"
	if muted {
		status = "MUTED"
	}
	return s.conn.Send(protocol.Base{Type: protocol.KindMuteStatus, ClientID: targetID, Message: status})
}

func (s *Session) logName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.name == "" {
		return s.handle.String()
	}
	return fmt.Sprintf("%s(%d)", s.name, s.id)
}
