package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"brickstream.ai/internal/protocol"
	"brickstream.ai/internal/stream/gpubuf"
)

// ErrSlowRenderer is returned by Upload when the renderer could not keep up
// and its session was dropped. The frame's uploads never reached it.
var ErrSlowRenderer = errors.New("ws: renderer fell behind, session dropped")

// SessionEvent records a renderer attaching or detaching.
type SessionEvent struct {
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id"`
	Event     string    `json:"event"`
	Remote    string    `json:"remote,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

type SessionRecorder interface {
	WriteSession(ev SessionEvent) error
}

type Config struct {
	Params       protocol.StreamParams
	TuningDigest string
	// WorldState is sent once to every renderer right after WELCOME.
	WorldState []byte
	// MaxQueue caps the outbound frames buffered per session; HELLO may
	// ask for less.
	MaxQueue int
}

// Server serves one renderer at a time. A new HELLO replaces the current
// session; the replaced renderer is closed.
type Server struct {
	cfg Config
	log *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sess     *session
	onAttach func()
	recorder SessionRecorder

	feedback  chan []byte
	lastFrame atomic.Uint64
}

type session struct {
	id     string
	remote string
	conn   *websocket.Conn
	out    chan []byte

	closeOnce sync.Once
	reason    atomic.Value
}

func NewServer(cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 64
	}
	return &Server{
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		feedback: make(chan []byte, 1),
	}
}

// OnAttach registers fn to run after every successful handshake. The stream
// runtime uses it to request a full resync.
func (s *Server) OnAttach(fn func()) {
	s.mu.Lock()
	s.onAttach = fn
	s.mu.Unlock()
}

func (s *Server) SetSessionRecorder(r SessionRecorder) {
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

// SessionID returns the attached renderer's session id, or "" if none.
func (s *Server) SessionID() string {
	if sess := s.current(); sess != nil {
		return sess.id
	}
	return ""
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn, r.RemoteAddr)
		if sess == nil {
			return
		}
		s.attach(sess)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
						sess.kick(websocket.CloseGoingAway, "write failed")
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				sess.setReason(err.Error())
				cancel()
				break
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			bin, err := protocol.DecodeBinary(msg)
			if err != nil || bin.Tag != protocol.TagFeedback {
				continue
			}
			if _, err := gpubuf.ReadHeader(bin.Payload); err != nil {
				continue
			}
			if s.current() != sess {
				continue
			}
			s.offerFeedback(append([]byte(nil), bin.Payload...))
		}

		s.detach(sess)
	}
}

func (s *Server) handshake(conn *websocket.Conn, remote string) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		reject(conn, protocol.ErrProtoBadRequest, "bad HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		reject(conn, protocol.ErrProtoVersion, "bad protocol_version")
		return nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 || maxQ > s.cfg.MaxQueue {
		maxQ = s.cfg.MaxQueue
	}
	sess := &session{
		id:     uuid.NewString(),
		remote: remote,
		conn:   conn,
		out:    make(chan []byte, maxQ),
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Stream:          s.cfg.Params,
		TuningDigest:    s.cfg.TuningDigest,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	if len(s.cfg.WorldState) > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeBinary(protocol.TagWorldState, 0, s.cfg.WorldState)); err != nil {
			return nil
		}
	}
	return sess
}

func (s *Server) attach(sess *session) {
	s.mu.Lock()
	prev := s.sess
	s.sess = sess
	onAttach := s.onAttach
	s.mu.Unlock()

	// Requests from the previous renderer refer to a grid it no longer owns.
	select {
	case <-s.feedback:
	default:
	}
	if prev != nil {
		prev.kick(websocket.ClosePolicyViolation, protocol.ErrSessionReplaced)
	}
	s.log.Printf("renderer attached session=%s remote=%s", sess.id, sess.remote)
	s.record(SessionEvent{SessionID: sess.id, Event: "attach", Remote: sess.remote})
	if onAttach != nil {
		onAttach()
	}
}

func (s *Server) detach(sess *session) {
	s.mu.Lock()
	if s.sess == sess {
		s.sess = nil
	}
	s.mu.Unlock()
	reason, _ := sess.reason.Load().(string)
	s.log.Printf("renderer detached session=%s reason=%s", sess.id, reason)
	s.record(SessionEvent{SessionID: sess.id, Event: "detach", Remote: sess.remote, Reason: reason})
}

func (s *Server) record(ev SessionEvent) {
	s.mu.Lock()
	rec := s.recorder
	s.mu.Unlock()
	if rec == nil {
		return
	}
	ev.Time = time.Now().UTC()
	if err := rec.WriteSession(ev); err != nil {
		s.log.Printf("session log: %v", err)
	}
}

func (s *Server) current() *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// offerFeedback keeps only the newest buffer; each one is a full snapshot of
// the renderer's request list.
func (s *Server) offerFeedback(b []byte) {
	for {
		select {
		case s.feedback <- b:
			return
		default:
		}
		select {
		case <-s.feedback:
		default:
		}
	}
}

// ReadFeedback blocks until the renderer sends a feedback buffer.
func (s *Server) ReadFeedback(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case b := <-s.feedback:
		return b, nil
	}
}

// ResetFeedback tells the renderer to zero its request count. Without a
// renderer there is nothing to reset.
func (s *Server) ResetFeedback(ctx context.Context) error {
	sess := s.current()
	if sess == nil {
		return nil
	}
	if !sess.enqueue(protocol.EncodeBinary(protocol.TagFeedbackReset, s.lastFrame.Load(), nil)) {
		sess.kick(websocket.ClosePolicyViolation, protocol.ErrSlowConsumer)
		return ErrSlowRenderer
	}
	return nil
}

// Upload sends both queue writes of f. With no renderer attached the frame
// is dropped; the next attach triggers a resync.
func (s *Server) Upload(ctx context.Context, f gpubuf.Frame) error {
	s.lastFrame.Store(f.Number)
	sess := s.current()
	if sess == nil {
		return nil
	}
	if !sess.enqueue(protocol.EncodeBinary(protocol.TagGridUpload, f.Number, f.GridQueue)) ||
		!sess.enqueue(protocol.EncodeBinary(protocol.TagBrickUpload, f.Number, f.BrickQueue)) {
		sess.kick(websocket.ClosePolicyViolation, protocol.ErrSlowConsumer)
		return ErrSlowRenderer
	}
	return nil
}

func (sess *session) enqueue(b []byte) bool {
	select {
	case sess.out <- b:
		return true
	default:
		return false
	}
}

func (sess *session) setReason(reason string) {
	sess.reason.CompareAndSwap(nil, reason)
}

func (sess *session) kick(code int, reason string) {
	sess.closeOnce.Do(func() {
		sess.setReason(reason)
		_ = sess.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		_ = sess.conn.Close()
	})
}

func reject(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, protocol.NewError(code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
