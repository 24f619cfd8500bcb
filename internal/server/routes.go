package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/browserdeck/browserdeck/internal/domain"
	"github.com/browserdeck/browserdeck/internal/version"
)

// registerRoutes sets up the route table. Dedicated endpoints delegate to
// the same operation table as /invoke, so both surfaces validate and behave
// identically.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /sessions", s.invokeHandler("create_browser_session"))
	mux.HandleFunc("GET /sessions", s.invokeHandler("list_browser_sessions"))
	mux.HandleFunc("DELETE /sessions/{id}", s.handleCloseSession)

	mux.HandleFunc("POST /browser/navigate", s.invokeHandler("browser_navigate"))
	mux.HandleFunc("POST /browser/click", s.invokeHandler("browser_click"))
	mux.HandleFunc("POST /browser/type", s.invokeHandler("browser_type"))
	mux.HandleFunc("POST /browser/key", s.invokeHandler("browser_key"))
	mux.HandleFunc("POST /browser/scroll", s.invokeHandler("browser_scroll"))
	mux.HandleFunc("POST /browser/back", s.invokeHandler("browser_go_back"))
	mux.HandleFunc("POST /browser/state", s.invokeHandler("browser_get_state"))
	mux.HandleFunc("POST /browser/extract", s.invokeHandler("browser_extract_content"))
	mux.HandleFunc("GET /browser/tabs", s.handleListTabs)
	mux.HandleFunc("POST /browser/tabs/switch", s.invokeHandler("browser_switch_tab"))
	mux.HandleFunc("POST /browser/tabs/close", s.invokeHandler("browser_close_tab"))

	mux.HandleFunc("POST /agent/task", s.invokeHandler("run_agent_task"))
	mux.HandleFunc("GET /agent/task/{id}", s.handleGetTask)
	mux.HandleFunc("POST /agent/task/retry", s.invokeHandler("retry_agent_task"))

	mux.HandleFunc("POST /invoke", s.handleInvoke)
	mux.HandleFunc("GET /invoke", s.handleListOperations)

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("/", handleNotFound)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "browserdeck",
		"version": version.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.registry.Count(),
		"active_tasks":    s.tasks.ActiveCount(),
		"uptime_seconds":  int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	params, _ := json.Marshal(map[string]string{"session_id": r.PathValue("id")})
	result, err := s.dispatcher.Invoke(r.Context(), "close_browser_session", params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	params := json.RawMessage("{}")
	if id := r.URL.Query().Get("session_id"); id != "" {
		params, _ = json.Marshal(map[string]string{"session_id": id})
	}
	result, err := s.dispatcher.Invoke(r.Context(), "browser_list_tabs", params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	params, _ := json.Marshal(map[string]string{"task_id": r.PathValue("id")})
	result, err := s.dispatcher.Invoke(r.Context(), "get_agent_task", params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// invokeRequest is the generic entry point body.
type invokeRequest struct {
	Operation  string          `json:"operation"`
	Parameters json.RawMessage `json:"parameters"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	body, err := readParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req invokeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err))
		return
	}
	if req.Operation == "" {
		writeError(w, fmt.Errorf("%w: operation is required", domain.ErrInvalidParameters))
		return
	}

	result, err := s.dispatcher.Invoke(r.Context(), req.Operation, req.Parameters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"operations": s.dispatcher.Operations()})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.hub.Add(conn)
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Detail: "not found: " + r.URL.Path})
}
