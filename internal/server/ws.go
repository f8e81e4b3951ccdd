package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/jsbridge/internal/debugger"
	"github.com/GriffinCanCode/jsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/jsbridge/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are enforced by the CORS middleware
	},
}

// hub fans debugger events out to every WebSocket session.
type hub struct {
	debugger *debugger.Debugger
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	timeout  time.Duration

	mu       sync.RWMutex
	sessions map[*session]struct{}
}

type session struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newHub(d *debugger.Debugger, metrics *monitoring.Metrics, logger *zap.Logger, timeout time.Duration) *hub {
	return &hub{
		debugger: d,
		metrics:  metrics,
		logger:   logger,
		timeout:  timeout,
		sessions: make(map[*session]struct{}),
	}
}

// publish is installed as the debugger's message handler. Responses are
// delivered by Request to their sender, so only events are broadcast.
func (h *hub) publish(p *protocol.Packet) {
	if p.Event == nil {
		return
	}
	data, err := protocol.Encode(p.Event)
	if err != nil {
		h.logger.Warn("failed to encode debug event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		s.enqueue(data)
	}
	h.metrics.RecordWSMessage("out", p.Event.Event)
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *hub) handleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s := &session{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	h.metrics.IncWSConnections()
	h.logger.Debug("debugger session opened", zap.String("remote", c.ClientIP()))

	defer func() {
		h.mu.Lock()
		delete(h.sessions, s)
		h.mu.Unlock()
		s.close()
		h.metrics.DecWSConnections()
		h.logger.Debug("debugger session closed", zap.String("remote", c.ClientIP()))
	}()

	go s.writeLoop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		go h.handleRequest(c.Request.Context(), s, data)
	}
}

// handleRequest forwards one client request and returns the response to
// the client under the client's own sequence number.
func (h *hub) handleRequest(ctx context.Context, s *session, data []byte) {
	req, err := protocol.ParseRequest(data)
	if err != nil {
		h.reply(s, &protocol.Response{Type: protocol.TypeResponse, Message: err.Error()})
		return
	}
	h.metrics.RecordWSMessage("in", req.Command)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resp, err := h.debugger.Request(ctx, req.Command, req.Arguments)
	if err != nil {
		resp = &protocol.Response{Type: protocol.TypeResponse, Command: req.Command, Message: err.Error()}
	}
	resp.RequestSeq = req.Seq
	h.reply(s, resp)
}

func (h *hub) reply(s *session, resp *protocol.Response) {
	data, err := protocol.Encode(resp)
	if err != nil {
		h.logger.Warn("failed to encode debug response", zap.Error(err))
		return
	}
	s.enqueue(data)
}

// enqueue drops the message when the client is not keeping up.
func (s *session) enqueue(data []byte) {
	select {
	case <-s.done:
	case s.send <- data:
	default:
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
