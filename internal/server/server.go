package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/action"
	"github.com/memri/memri-go/internal/engine"
	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/session"
	"github.com/memri/memri-go/internal/view"
)

// Server exposes the engine to a UI client.
type Server struct {
	engine *engine.Engine
	logger *zap.Logger
}

func New(e *engine.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{engine: e, logger: logger}
}

// Handler returns the HTTP surface: health, debug history and the
// WebSocket channel.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/v1/debug", s.handleDebug)
	r.Get("/v1/ws", s.handleWS)
	return r
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("wire server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleDebug(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.engine.Debug().Entries())
}

// wsConn serializes writes; the update pump and the reply path run on
// different goroutines and the socket allows one writer at a time.
type wsConn struct {
	mu   stdsync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(ctx context.Context, msg ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, msg)
}

// handleWS upgrades to WebSocket and runs the message loop. The
// connection subscribes to engine updates; each update pushes a fresh
// rendered snapshot of the current view.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept", zap.Error(err))
		return
	}
	defer raw.CloseNow()

	ctx := r.Context()
	conn := &wsConn{conn: raw}

	connID := uuid.NewString()
	conn.send(ctx, ServerMessage{Type: "session", Data: SessionData{ConnectionID: connID}})

	s.engine.SetOnUpdate(func() { s.pushView(ctx, conn, "") })
	defer s.engine.SetOnUpdate(nil)
	s.pushView(ctx, conn, "")

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, raw, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.logger.Warn("websocket read", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "action":
			s.handleAction(ctx, conn, msg)
		case "filter":
			s.handleFilter(ctx, conn, msg)
		case "select":
			s.handleSelect(ctx, conn, msg)
		case "ping":
			conn.send(ctx, ServerMessage{Type: "pong", RequestID: msg.ID})
		default:
			s.sendError(ctx, conn, msg.ID, "unknown_type", "unknown message type: "+msg.Type)
		}
	}
}

func (s *Server) handleAction(ctx context.Context, conn *wsConn, msg ClientMessage) {
	var data struct {
		ActionData
		UID int64 `json:"uid,omitempty"`
	}
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		s.sendError(ctx, conn, msg.ID, "invalid_data", "invalid action data")
		return
	}
	if data.Action == nil {
		s.sendError(ctx, conn, msg.ID, "empty_action", "empty action")
		return
	}

	var contextItem *item.Item
	if data.UID != 0 {
		contextItem = s.engine.Cache().Get(data.UID)
		if contextItem == nil {
			s.sendError(ctx, conn, msg.ID, "unknown_item", "no item with that uid")
			return
		}
	}

	action.ExecuteAction(ctx, s.engine, item.FromJSON(data.Action), contextItem, currentArgs(s.engine))
	conn.send(ctx, ServerMessage{Type: "done", RequestID: msg.ID})
	s.pushView(ctx, conn, msg.ID)
}

func (s *Server) handleFilter(ctx context.Context, conn *wsConn, msg ClientMessage) {
	var data FilterData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		s.sendError(ctx, conn, msg.ID, "invalid_data", "invalid filter data")
		return
	}
	cv, err := s.engine.CurrentView(ctx)
	if err != nil || cv == nil {
		s.sendError(ctx, conn, msg.ID, "no_view", "no current view")
		return
	}
	cv.SessionView.UserState.Set("filterText", item.String(data.Text))
	cv.SessionView.UserState.Set("showStarred", item.Bool(data.StarredOnly))
	cv.ResultSet().SetFilterText(data.Text)
	cv.ResultSet().SetStarredOnly(data.StarredOnly)
	s.pushView(ctx, conn, msg.ID)
}

// handleSelect stores the client's multi-selection on the current
// view's user state, where delete and other batch actions pick it up.
func (s *Server) handleSelect(ctx context.Context, conn *wsConn, msg ClientMessage) {
	var data SelectData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		s.sendError(ctx, conn, msg.ID, "invalid_data", "invalid select data")
		return
	}
	cv, err := s.engine.CurrentView(ctx)
	if err != nil || cv == nil {
		s.sendError(ctx, conn, msg.ID, "no_view", "no current view")
		return
	}
	refs := make([]item.Value, 0, len(data.UIDs))
	for _, uid := range data.UIDs {
		it := s.engine.Cache().Get(uid)
		if it == nil {
			s.sendError(ctx, conn, msg.ID, "unknown_item", "no item with that uid")
			return
		}
		refs = append(refs, item.Ref(it.Ref()))
	}
	cv.SessionView.UserState.Set("selection", item.List(refs))
	conn.send(ctx, ServerMessage{Type: "done", RequestID: msg.ID})
}

func (s *Server) sendError(ctx context.Context, conn *wsConn, reqID, code, message string) {
	conn.send(ctx, ServerMessage{
		Type:      "error",
		RequestID: reqID,
		Data:      ErrorData{Code: code, Message: message},
	})
}

// pushView sends a rendered snapshot of the current view. A view that
// fails to load reports an error instead; a session with no views yet
// sends nothing.
func (s *Server) pushView(ctx context.Context, conn *wsConn, reqID string) {
	cv, err := s.engine.CurrentView(ctx)
	if err != nil {
		s.sendError(ctx, conn, reqID, "view_error", err.Error())
		return
	}
	if cv == nil {
		return
	}
	conn.send(ctx, ServerMessage{
		Type:      "view",
		RequestID: reqID,
		Data:      s.buildUpdate(cv),
	})
}

func (s *Server) buildUpdate(cv *view.CascadingView) ViewUpdate {
	upd := ViewUpdate{
		Title:    cv.Title(),
		Renderer: cv.ActiveRenderer(),
		ItemType: cv.ItemType(),
		EditMode: s.engine.Sessions().Current().EditMode,
	}

	// Renderers without a definition (detail editors, say) still list
	// their items, just without node trees.
	rc, err := cv.RenderConfig(upd.Renderer)
	if err != nil {
		s.logger.Debug("no render config",
			zap.String("renderer", upd.Renderer), zap.Error(err))
		rc = nil
	}

	for _, it := range cv.ResultSet().Items() {
		iu := ItemUpdate{UID: it.UID, Type: string(it.Family), Starred: it.Starred}
		if rc != nil {
			for _, n := range rc.MaterializeItem(it) {
				iu.Nodes = append(iu.Nodes, nodeData(n))
			}
		}
		upd.Items = append(upd.Items, iu)
	}
	return upd
}

func nodeData(n *view.Node) NodeData {
	nd := NodeData{Type: n.Type, Properties: make(map[string]any, len(n.Properties))}
	for k, v := range n.Properties {
		nd.Properties[k] = v.ToJSON()
	}
	for _, c := range n.Children {
		nd.Children = append(nd.Children, nodeData(c))
	}
	return nd
}

func currentArgs(e *engine.Engine) *session.ViewArguments {
	if sv := e.Sessions().Current().CurrentView(); sv != nil {
		return sv.Args
	}
	return nil
}
