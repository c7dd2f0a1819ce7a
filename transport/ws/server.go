package ws

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Options struct {
	SendBufferSize    int
	InboundBufferSize int
	MaxInflightEvents int
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	MaxMessageSize    int64
	EventsPerSecond   float64
	EventBurst        int
	// AllowedOrigin restricts browser origins. Empty accepts any.
	AllowedOrigin string
}

// Server upgrades authenticated requests and drives the orchestrator from socket frames.
//
// Frames of one connection are dispatched in arrival order, but their handlers run
// concurrently up to MaxInflightEvents, so a slow send does not hold back a status query.
type Server struct {
	ctx          context.Context
	log          *slog.Logger
	orchestrator contract.IOrchestrator
	metrics      *observability.Metrics
	opts         Options
	upgrader     websocket.Upgrader
}

// NewServer binds handlers to ctx rather than to the upgrade request, which ends
// as soon as the socket is hijacked.
func NewServer(ctx context.Context, log *slog.Logger, orchestrator contract.IOrchestrator,
	metrics *observability.Metrics, opts Options) *Server {
	s := &Server{
		ctx:          ctx,
		log:          log,
		orchestrator: orchestrator,
		metrics:      metrics,
		opts:         opts,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return s.opts.AllowedOrigin == "" || origin == "" || origin == s.opts.AllowedOrigin
}

// HandleWebSocket must sit behind auth.Middleware.
func (s *Server) HandleWebSocket(c echo.Context) error {
	userID := auth.UserID(c)
	socket, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("Failed to upgrade WebSocket", "user_id", userID, "error", err)
		return nil
	}
	socket.SetReadLimit(s.opts.MaxMessageSize)

	var limiter *rate.Limiter
	if s.opts.EventsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.EventsPerSecond), s.opts.EventBurst)
	}
	conn := newConnection(socket, userID, s.opts.SendBufferSize, limiter)
	s.log.Debug("Connection opened", "user_id", userID, "handle", conn.Handle())

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// readPump owns the connection lifecycle: when it returns, in-flight handlers have
// finished and the disconnect pass has run.
func (s *Server) readPump(conn *Connection) {
	inbound := make(chan Envelope, s.opts.InboundBufferSize)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		s.dispatch(conn, inbound)
	}()

	defer func() {
		close(inbound)
		<-dispatched
		conn.Close()
		s.orchestrator.Disconnect(s.ctx, conn, conn.UserID())
		s.log.Debug("Connection closed", "user_id", conn.UserID(), "handle", conn.Handle())
	}()

	_ = conn.ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})

	for {
		_, frame, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("WebSocket read error", "handle", conn.Handle(), "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
			s.log.Debug("Dropping malformed frame", "handle", conn.Handle())
			continue
		}
		if !conn.allow() {
			s.rejectRateLimited(conn, env)
			continue
		}
		select {
		case inbound <- env:
		case <-s.ctx.Done():
			return
		}
	}
}

// rejectRateLimited drops an event over the rate budget. A dropped private message is
// answered with the generic send error so the sender knows it was not persisted.
func (s *Server) rejectRateLimited(conn *Connection, env Envelope) {
	s.metrics.RateLimited()
	s.log.Warn("Dropping inbound event", "user_id", conn.UserID(), "event", env.Event,
		"error", errors.ErrRateLimited)
	if env.Event != EventPrivateMessage {
		return
	}
	if err := conn.Consume(s.ctx, event.Error{Message: event.ErrorSendFailed}); err != nil {
		s.log.Debug("Rate limit error not delivered", "handle", conn.Handle(), "error", err)
	}
}

func (s *Server) dispatch(conn *Connection, inbound <-chan Envelope) {
	g := new(errgroup.Group)
	if s.opts.MaxInflightEvents > 0 {
		g.SetLimit(s.opts.MaxInflightEvents)
	}
	for env := range inbound {
		g.Go(func() error {
			s.handle(s.ctx, conn, env)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-conn.done:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			_ = conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("Failed to write frame", "handle", conn.Handle(), "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, conn *Connection, env Envelope) {
	userID := conn.UserID()
	switch env.Event {
	case EventJoin:
		var p JoinPayload
		if !s.decode(conn, env, &p) {
			return
		}
		if p.ID != userID {
			s.log.Warn("Ignoring join", "user_id", userID, "joined_id", p.ID, "error", errors.ErrIdentityMismatch)
			return
		}
		if err := s.orchestrator.Connect(ctx, conn, userID); err != nil {
			s.log.Error("Connect pass failed", "user_id", userID, "error", err)
		}
	case EventPrivateMessage:
		var p PrivateMessagePayload
		if !s.decode(conn, env, &p) {
			return
		}
		_ = s.orchestrator.Send(ctx, conn, userID, domain.SendCommand{
			ConversationID:  p.ConversationID,
			ClientMessageID: p.ClientMessageID,
			Text:            p.Text,
			Type:            p.Type,
		})
	case EventMarkRead:
		var p MarkReadPayload
		if !s.decode(conn, env, &p) {
			return
		}
		_ = s.orchestrator.MarkRead(ctx, userID, p.ConversationID)
	case EventStatusGet:
		var p StatusGetPayload
		if !s.decode(conn, env, &p) {
			return
		}
		s.orchestrator.QueryStatus(ctx, conn, userID, p.UserID)
	case EventStatusUpdate:
		var p StatusUpdatePayload
		if !s.decode(conn, env, &p) {
			return
		}
		state, err := domain.ParsePresenceState(p.State)
		if err != nil {
			s.log.Debug("Invalid presence state", "handle", conn.Handle(), "state", p.State, "error", err)
			return
		}
		if err := s.orchestrator.UpdateStatus(ctx, userID, state); err != nil {
			s.log.Error("Status update failed", "user_id", userID, "error", err)
		}
	default:
		s.log.Debug("Unknown event", "handle", conn.Handle(), "event", env.Event)
	}
}

// decode reports whether the payload was well-formed. Malformed payloads are logged
// and dropped without a reply.
func (s *Server) decode(conn *Connection, env Envelope, payload any) bool {
	if err := json.Unmarshal(env.Data, payload); err != nil {
		s.log.Debug("Malformed payload", "handle", conn.Handle(), "event", env.Event, "error", err)
		return false
	}
	if err := auth.ValidatePayload(payload); err != nil {
		s.log.Debug("Invalid payload", "handle", conn.Handle(), "event", env.Event, "error", err)
		return false
	}
	return true
}
