package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tehcyx/gchat/internal/config"
	"github.com/tehcyx/gchat/pkg/presence"
	"github.com/tehcyx/gchat/pkg/protocol"
	"github.com/tehcyx/gchat/pkg/transport"
	"github.com/tehcyx/gchat/pkg/version"
)

// LobbyName is the default room every session lands in after connecting.
const LobbyName = "lobby"

// Server is the process-wide registry: it owns the room set, the session
// index and the client id counter. Sessions and rooms reach each other only
// through it.
type Server struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	rooms    map[string]*Room
	lobby    *Room
	nextID   int64

	mutes *MuteStore

	ClientTimeout time.Duration

	// Presence tracking in Redis, nil when disabled.
	presence       *presence.Client
	presenceCtx    context.Context
	presenceCancel context.CancelFunc
}

// New creates a server configured from config.Values.
func New() *Server {
	return newServer(config.Values.Storage.Dir)
}

func newServer(storageDir string) *Server {
	s := &Server{
		sessions:      make(map[int64]*Session),
		rooms:         make(map[string]*Room),
		mutes:         NewMuteStore(storageDir),
		ClientTimeout: 15 * time.Minute,
	}
	s.lobby = newRoom(LobbyName, s)
	s.rooms[LobbyName] = s.lobby
	return s
}

// ListenAndServe listens on the configured port and accepts client
// connections until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%s", config.Values.Server.Port))
	if err != nil {
		return fmt.Errorf("listen failed, port possibly in use already: %w", err)
	}
	defer ln.Close()
	log.Infof("Listening on :%s", config.Values.Server.Port)

	if config.Values.Redis.Enabled {
		s.initPresence()
	} else {
		log.Println("Redis disabled, running in single-server mode")
	}

	if config.Values.WebSocket.Enabled {
		go s.serveWebSocket(config.Values.WebSocket.Addr)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	stop := make(chan struct{})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-stop:
					return
				default:
					log.Errorf("Failed to accept connection: %v", err)
					continue
				}
			}
			go s.HandleConnection(transport.NewTCP(conn, s.ClientTimeout))
		}
	}()

	<-sigChan
	close(stop)
	s.shutdown()
	return nil
}

// HandleConnection runs the session loop for one accepted connection. It
// blocks until the connection is gone; callers start it on its own goroutine.
func (s *Server) HandleConnection(conn Connection) {
	sess := newSession(conn, s)
	log.Infof("Client connecting, handling connection (handle %s)", sess.handle)
	sess.Run()
}

func (s *Server) serveWebSocket(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.Upgrade(w, r)
		if err != nil {
			log.Errorf("WebSocket upgrade failed: %v", err)
			return
		}
		go s.HandleConnection(conn)
	})

	log.Infof("WebSocket listener on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("WebSocket listener failed: %v", err)
	}
}

// sessionReady completes initialization once a session has a display name:
// the registry assigns the next client id, announces it to the client and
// places the session into the lobby.
func (s *Server) sessionReady(sess *Session) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.sessions[id] = sess
	s.mu.Unlock()

	if !sess.sendClientID(id) {
		s.evict(sess)
		return
	}
	log.Infof("Session %s initialized as %s(%d)", sess.handle, sess.Name(), id)

	s.registerPresence(sess, LobbyName)
	if err := s.lobby.Join(sess); err != nil {
		log.Errorf("Placing %s into lobby: %v", sess.logName(), err)
	}
}

func (s *Server) dropSession(sess *Session) {
	id := sess.ID()
	if id == protocol.DefaultClientID {
		return
	}
	s.mu.Lock()
	if s.sessions[id] == sess {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	s.unregisterPresence(id)
}

// evict closes a session's connection after a failed send; its own read loop
// then unwinds and performs the actual cleanup. Never blocks the caller's
// delivery loop.
func (s *Server) evict(sess *Session) {
	log.Warnf("Evicting session %s after failed send", sess.logName())
	sess.conn.Close()
}

// CreateRoom registers a new room. The name must be unique process-wide.
func (s *Server) CreateRoom(name string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateRoom, name)
	}
	room := newRoom(name, s)
	s.rooms[name] = room
	log.Infof("Created room %q", name)
	return room, nil
}

// FindRoom returns the room with the given name, nil if absent.
func (s *Server) FindRoom(name string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[name]
}

// AllRoomNames returns every registered room name in sorted order.
func (s *Server) AllRoomNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.rooms))
	for name := range s.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SessionByID looks a session up across all rooms.
func (s *Server) SessionByID(id int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// SessionByName looks a session up by display name across all rooms.
func (s *Server) SessionByName(name string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.Name() == name {
			return sess
		}
	}
	return nil
}

// dropRoom removes a room that has just become empty. The lobby always stays.
func (s *Server) dropRoom(r *Room) {
	if r.name == LobbyName {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r.mu.Lock()
	empty := len(r.members) == 0
	r.mu.Unlock()
	if empty && s.rooms[r.name] == r {
		delete(s.rooms, r.name)
		log.Infof("Removed empty room %q", r.name)
	}
}

// move relocates a session from its current room to target. It runs on the
// session's own dispatch goroutine as leave-then-join, so the session never
// appears in two rooms at once and its own later commands see the new room.
func (s *Server) move(sess *Session, target *Room) {
	current := sess.Room()
	if current == target {
		sess.sendInfo(fmt.Sprintf("You are already in room %q.", target.Name()))
		return
	}

	if current != nil {
		current.Remove(sess)
	}
	if err := target.Join(sess); err != nil {
		log.Errorf("Moving %s to %q: %v", sess.logName(), target.Name(), err)
	}
	s.registerPresence(sess, target.Name())
}

func (s *Server) initPresence() {
	log.Println("Redis enabled, initializing presence tracking...")

	podID := config.Values.Redis.PodID
	if podID == "" {
		podID = uuid.Must(uuid.NewRandom()).String()
		log.Infof("Generated pod id: %s", podID)
	}

	client, err := presence.NewClient(config.Values.Redis.URL, podID)
	if err != nil {
		log.Errorf("Failed to initialize presence client: %v", err)
		log.Println("Continuing in single-server mode...")
		return
	}
	s.presence = client
	s.presenceCtx, s.presenceCancel = context.WithCancel(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := s.presence.RegisterPod(ctx, version.GetVersion()); err != nil {
		log.Errorf("Failed to register pod: %v", err)
	}
	cancel()

	go s.heartbeatLoop()
}

func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.presenceCtx.Done():
			log.Println("Heartbeat loop stopped")
			return
		case <-ticker.C:
			s.mu.Lock()
			count := len(s.sessions)
			s.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.presence.Heartbeat(ctx, count, version.GetVersion()); err != nil {
				log.Errorf("Failed to send heartbeat: %v", err)
			}
			cancel()
		}
	}
}

func (s *Server) registerPresence(sess *Session, room string) {
	if s.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data := presence.SessionData{ID: sess.ID(), Name: sess.Name(), Room: room}
	if err := s.presence.RegisterSession(ctx, data); err != nil {
		log.Errorf("Failed to register session in Redis: %v", err)
	}
}

func (s *Server) unregisterPresence(id int64) {
	if s.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.presence.UnregisterSession(ctx, id); err != nil {
		log.Errorf("Failed to unregister session from Redis: %v", err)
	}
}

func (s *Server) shutdown() {
	log.Println("Received shutdown signal, starting graceful shutdown...")

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	log.Infof("Disconnecting %d sessions gracefully...", len(sessions))
	for _, sess := range sessions {
		sess.sendInfo("Server shutting down.")
		sess.conn.Close()
	}

	if s.presence != nil {
		s.presenceCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		log.Println("Cleaning up Redis presence state...")
		if err := s.presence.GracefulShutdown(ctx); err != nil {
			log.Errorf("Failed to clean up presence state: %v", err)
		}
		if err := s.presence.Close(); err != nil {
			log.Errorf("Failed to close Redis connection: %v", err)
		}
	}

	log.Println("Graceful shutdown complete")
}
