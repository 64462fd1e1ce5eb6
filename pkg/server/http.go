package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rembraille/rembraille/pkg/transport"
)

// Routes returns a chi router exposing the server's HTTP surface:
//
//   - GET /ws     → WebSocket transport endpoint (binary frames)
//   - GET /status → link status as JSON
//
// Mount it in a larger router, or serve it directly:
//
//	r := chi.NewRouter()
//	r.Mount("/rembraille", srv.Routes())
//	http.ListenAndServe(":8080", r)
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	r.Get("/status", s.handleStatus)
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  s.cfg.Session.ReadBufferSize,
		WriteBufferSize: s.cfg.Session.ReadBufferSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	// Runs the session to completion on the handler goroutine; the
	// request context tears it down if the HTTP server shuts down.
	s.ServeConn(r.Context(), transport.NewWebSocketConn(ws))
}

type statusResponse struct {
	Connected bool   `json:"connected"`
	ClientID  string `json:"client_id,omitempty"`
	CellCount uint16 `json:"cell_count"`
	Name      string `json:"name"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	clientID, ok := s.ActiveClient()
	resp := statusResponse{
		Connected: ok,
		ClientID:  clientID,
		CellCount: s.cfg.CellCount,
		Name:      s.cfg.ServerName,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("status encode failed", "error", err)
	}
}
