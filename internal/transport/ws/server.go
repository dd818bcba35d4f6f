// Package ws serves the game session protocol over WebSocket. One client may hold the play
// seat and drive the climber; any number of clients may watch.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"evoclimb.io/internal/protocol"
	"evoclimb.io/internal/sim/world"
)

const (
	writeWait  = 5 * time.Second
	readWait   = 60 * time.Second
	pingPeriod = 20 * time.Second
	outQueue   = 8
)

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	seat string // session id holding the play role, "" when free
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	s := &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id, role := s.handshake(conn)
		if id == "" {
			return
		}
		if role == protocol.RolePlay {
			defer s.leaveSeat(id)
		}
		s.logf("session %s joined as %s", id, role)

		out := make(chan []byte, outQueue)
		s.world.Subscribe() <- world.Subscription{ID: id, Out: out}
		defer func() { s.world.Unsubscribe() <- id }()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			ping := time.NewTicker(pingPeriod)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						cancel()
						return
					}
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			if role != protocol.RolePlay {
				continue
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeInput {
				continue
			}
			var in protocol.InputMsg
			if err := json.Unmarshal(msg, &in); err != nil {
				continue
			}
			s.world.Inbox() <- world.InputEnvelope{SessionID: id, Input: in}
		}
		s.logf("session %s left", id)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (id, role string) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", ""
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return "", ""
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		reject(conn, protocol.ErrProtoBadRequest, "bad HELLO")
		return "", ""
	}
	if hello.ProtocolVersion != protocol.Version {
		reject(conn, protocol.ErrProtoVersion, "bad protocol_version")
		return "", ""
	}

	role = hello.Role
	if role == "" {
		role = protocol.RoleWatch
	}
	id = fmt.Sprintf("s%d", s.nextID.Add(1))
	switch role {
	case protocol.RolePlay:
		if !s.takeSeat(id) {
			reject(conn, protocol.ErrSeatTaken, "play seat is taken")
			return "", ""
		}
	case protocol.RoleWatch:
	default:
		reject(conn, protocol.ErrBadRole, "unknown role "+role)
		return "", ""
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       id,
		Role:            role,
		Params:          s.world.Params(),
		Digests:         s.world.Digests(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		if role == protocol.RolePlay {
			s.leaveSeat(id)
		}
		return "", ""
	}
	return id, role
}

func (s *Server) takeSeat(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seat != "" {
		return false
	}
	s.seat = id
	return true
}

func (s *Server) leaveSeat(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seat == id {
		s.seat = ""
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// reject sends an ERROR and then a policy-violation close frame.
func reject(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, protocol.NewError(code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
