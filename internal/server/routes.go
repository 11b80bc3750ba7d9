package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"duel-server/internal/obslog"
	"duel-server/internal/room"
)

const (
	maxMessageSize    = 32 << 10
	disconnectTimeout = 5 * time.Second
)

// RegisterRoutes returns the HTTP handler for the REST endpoints and the
// websocket, wrapped in CORS.
func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /rooms", s.listRoomsHandler)
	mux.HandleFunc("GET /rooms/{id}", s.roomHandler)

	mux.HandleFunc("/websocket", s.websocketHandler)

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "false")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowOrigin returns the value for Access-Control-Allow-Origin, or "" when
// the origin is not allowed.
func (s *Server) allowOrigin(origin string) string {
	if slices.Contains(s.cfg.AllowedOrigins, "*") {
		return "*"
	}
	if origin != "" && slices.Contains(s.cfg.AllowedOrigins, origin) {
		return origin
	}
	return ""
}

// originPatterns turns configured origins into the host patterns the
// websocket handshake matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		out = append(out, o)
	}
	return out
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Rooms:       len(s.manager.Rooms()),
		Connections: s.registry.Count(),
		Store:       s.cfg.SnapshotStore,
	})
}

func (s *Server) listRoomsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Rooms())
}

func (s *Server) roomHandler(w http.ResponseWriter, r *http.Request) {
	id := room.NormalizeRoomID(r.PathValue("id"))
	if err := room.ValidateRoomID(id); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: ErrInvalidPayload.Code, Message: err.Error()})
		return
	}
	rm, err := s.manager.Lookup(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	snap, err := rm.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusNotFound, room.ErrRoomNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap.View())
}

func writeError(w http.ResponseWriter, status int, err error) {
	var e *room.Error
	if errors.As(err, &e) {
		writeJSON(w, status, ErrorResponse{Code: e.Code, Message: e.Message})
		return
	}
	writeJSON(w, status, ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Warn("write_response_failed", zap.Error(err))
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	})
	if err != nil {
		obslog.L().Warn("websocket_accept_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	ch := newChannel(conn)
	s.registry.Add(ch)
	s.health.UpdateActivity(ch.id)
	go ch.writeLoop()
	obslog.L().Info("connection_opened", zap.String("conn_id", ch.id), zap.String("remote", r.RemoteAddr))
	defer s.closeChannel(ch)

	ctx := r.Context()
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			obslog.L().Debug("connection_read_ended", zap.String("conn_id", ch.id), zap.Error(err))
			return
		}
		s.health.UpdateActivity(ch.id)

		if msgType != websocket.MessageText {
			ch.Send(errorMessage(invalidPayload("Only text messages are accepted")))
			continue
		}
		if !s.limiter.Allow(ch.id) {
			ch.Send(errorMessage(ErrRateLimited))
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ch.Send(errorMessage(invalidPayload("Invalid JSON")))
			continue
		}
		s.dispatch(ctx, ch, msg)
	}
}

// closeChannel runs once the read loop ends. A channel still bound to its
// seat reports the disconnect so the room starts the grace timer.
func (s *Server) closeChannel(ch *Channel) {
	ch.abort(websocket.StatusNormalClosure, "")
	s.limiter.RemoveConnection(ch.id)
	s.health.RemoveConnection(ch.id)

	b, bound := s.registry.Remove(ch)
	obslog.L().Info("connection_closed", zap.String("conn_id", ch.id), zap.Bool("bound", bound))
	if !bound {
		return
	}
	rm, err := s.manager.Lookup(b.RoomID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	err = rm.Disconnected(ctx, b.Seat, b.Epoch)
	if err != nil && !errors.Is(err, room.ErrSuperseded) && !errors.Is(err, room.ErrRoomClosed) {
		obslog.L().Warn("disconnect_report_failed",
			zap.String("room_id", b.RoomID),
			zap.Int("seat", b.Seat),
			zap.Error(err))
	}
}

func (s *Server) dispatch(ctx context.Context, ch *Channel, msg ClientMessage) {
	if err := ValidateMessageType(msg.Type); err != nil {
		obslog.L().Debug("unknown_message_type", zap.String("conn_id", ch.id), zap.String("type", msg.Type))
		ch.Send(errorMessage(err))
		return
	}

	switch msg.Type {
	case MsgPing:
		ch.Send(ServerMessage{Type: MsgPong, Payload: struct{}{}})
	case MsgJoin:
		s.handleJoin(ctx, ch, msg.Payload)
	case MsgReconnect:
		s.handleReconnect(ctx, ch, msg.Payload)
	case MsgMove:
		s.handleMove(ctx, ch, msg.Payload)
	case MsgLeave:
		s.handleLeave(ctx, ch)
	}
}

func (s *Server) handleJoin(ctx context.Context, ch *Channel, payload json.RawMessage) {
	var req JoinRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		ch.Send(errorMessage(invalidPayload("Invalid join payload")))
		return
	}
	if _, live := s.liveBinding(ch); live {
		ch.Send(errorMessage(room.ErrAlreadySeatedElsewhere))
		return
	}
	if err := ValidateHandle(req.Handle); err != nil {
		ch.Send(errorMessage(err))
		return
	}

	tok, err := s.manager.CreateOrJoin(ctx, req.PlayerToken, req.Handle, req.Game)
	if err != nil {
		ch.Send(errorMessage(err))
		return
	}
	seated := SeatedResponse{RoomID: tok.RoomID, Seat: tok.Seat, SessionToken: tok.Key}
	if rm, err := s.manager.Lookup(tok.RoomID); err == nil {
		seated.Game = rm.Game()
	}
	ch.Send(ServerMessage{Type: MsgSeated, Payload: seated})

	if err := s.bind(ctx, ch, tok.Key); err != nil {
		ch.Send(errorMessage(err))
	}
}

func (s *Server) handleReconnect(ctx context.Context, ch *Channel, payload json.RawMessage) {
	var req ReconnectRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionToken == "" {
		ch.Send(errorMessage(invalidPayload("Invalid reconnect payload")))
		return
	}
	if err := s.bind(ctx, ch, req.SessionToken); err != nil {
		ch.Send(errorMessage(err))
	}
}

// bind attaches ch to the seat behind key. The room hands over the resync
// from its actor, so nothing it publishes afterwards can overtake it. A
// channel displaced from the seat is told and closed.
func (s *Server) bind(ctx context.Context, ch *Channel, key string) error {
	tok, err := s.manager.Sessions().Get(key)
	if err != nil {
		return err
	}
	if b, ok := s.liveBinding(ch); ok && (b.RoomID != tok.RoomID || b.Seat != tok.Seat) {
		return room.ErrAlreadySeatedElsewhere
	}

	var displaced *Channel
	_, err = s.manager.Bind(ctx, key, func(epoch uint64, resync room.Event) {
		displaced = s.registry.Attach(ch, binding{
			RoomID:   tok.RoomID,
			PlayerID: tok.PlayerID,
			Seat:     tok.Seat,
			Epoch:    epoch,
		})
		ch.Send(eventMessage(resync))
	})
	if err != nil {
		return err
	}

	if displaced != nil {
		obslog.L().Info("channel_displaced",
			zap.String("room_id", tok.RoomID),
			zap.Int("seat", tok.Seat),
			zap.String("old_conn_id", displaced.id),
			zap.String("conn_id", ch.id))
		displaced.Send(ServerMessage{
			Type:    MsgDisconnectedElsewhere,
			Payload: DisconnectedElsewhereNotice{Message: "You connected on another device"},
		})
		displaced.CloseWith(websocket.StatusNormalClosure, "Connected from another device")
	}
	return nil
}

// liveBinding returns ch's binding while its room is still being played. A
// binding to a finished, abandoned or destroyed room is dropped so the
// player can queue again on the same channel.
func (s *Server) liveBinding(ch *Channel) (binding, bool) {
	b, ok := ch.Binding()
	if !ok {
		return binding{}, false
	}
	if rm, err := s.manager.Lookup(b.RoomID); err == nil && !rm.Status().Terminal() {
		return b, true
	}
	s.registry.Unbind(ch)
	obslog.L().Debug("closed_room_binding_dropped", zap.String("conn_id", ch.id), zap.String("room_id", b.RoomID))
	return binding{}, false
}

func (s *Server) handleMove(ctx context.Context, ch *Channel, payload json.RawMessage) {
	var req MoveRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		ch.Send(errorMessage(invalidPayload("Invalid move payload")))
		return
	}
	b, ok := ch.Binding()
	if !ok {
		ch.Send(errorMessage(room.ErrNotSeated))
		return
	}
	rm, err := s.manager.Lookup(b.RoomID)
	if err != nil {
		ch.Send(errorMessage(room.ErrRoomClosed))
		return
	}

	res, err := rm.SubmitMove(ctx, b.PlayerID, b.Seat, b.Epoch, req.ClientSeq, req.Payload)
	switch {
	case err == nil:
		// accepted moves reach both seats through Publish; replays only go back to the sender
		if res.Replayed {
			ch.Send(eventMessage(res.Event()))
		}
	case errors.Is(err, room.ErrIllegalMove):
		ch.Send(ServerMessage{Type: MsgMoveRejected, Payload: MoveRejectedResponse{
			ClientSeq: req.ClientSeq,
			Reason:    moveRejectReason(err),
		}})
	case errors.Is(err, room.ErrSuperseded):
		obslog.L().Debug("superseded_move_dropped", zap.String("conn_id", ch.id), zap.Uint64("epoch", b.Epoch))
	case errors.Is(err, room.ErrRulesUnavailable):
		// already published to both seats
	default:
		ch.Send(errorMessage(err))
	}
}

func moveRejectReason(err error) string {
	var e *room.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func (s *Server) handleLeave(ctx context.Context, ch *Channel) {
	b, ok := ch.Binding()
	if !ok {
		ch.Send(errorMessage(room.ErrNotSeated))
		return
	}
	if err := s.manager.Leave(ctx, b.PlayerID, b.RoomID); err != nil {
		ch.Send(errorMessage(err))
		return
	}
	s.registry.Unbind(ch)
	ch.Send(ServerMessage{Type: MsgLeft, Payload: LeftResponse{RoomID: b.RoomID}})
}
