// Package mcpserver is the thin external-interface adapter spec.md §1/§6
// treats as an out-of-scope collaborator: it decodes (persona, op, args)
// from an HTTP request, resolves the persona, and calls straight into
// engine.Engine. No tool schema, no JSON-RPC envelope — the MCP protocol
// itself is explicitly out of scope.
package mcpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kart-io/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kart-io/memory-mcp/internal/memory/engine"
	"github.com/kart-io/memory-mcp/internal/memory/persona"
	"github.com/kart-io/memory-mcp/internal/memory/search"
	"github.com/kart-io/memory-mcp/internal/metrics"
)

// Server is the minimal HTTP surface: one endpoint per operation, plus
// /metrics.
type Server struct {
	Engine  *engine.Engine
	Metrics *metrics.Registry
	mux     *http.ServeMux
}

// New builds a Server with every route registered.
func New(eng *engine.Engine, reg *metrics.Registry) *Server {
	s := &Server{Engine: eng, Metrics: reg, mux: http.NewServeMux()}
	s.mux.HandleFunc("/v1/create", s.handleCreate)
	s.mux.HandleFunc("/v1/read", s.handleRead)
	s.mux.HandleFunc("/v1/update", s.handleUpdate)
	s.mux.HandleFunc("/v1/delete", s.handleDelete)
	s.mux.HandleFunc("/v1/stats", s.handleStats)
	s.mux.HandleFunc("/v1/context", s.handleContext)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func resolvePersona(r *http.Request, explicit string) string {
	return persona.Resolve(explicit, r.Header.Get("Authorization"), r.Header.Get("X-Persona"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("mcpserver: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func errUnknownContextOp(op string) error {
	return fmt.Errorf("mcpserver: unknown context op %q", op)
}

type createRequest struct {
	Persona            string   `json:"persona"`
	Content            string   `json:"content"`
	Tags               []string `json:"tags"`
	Importance         *float64 `json:"importance"`
	Emotion            string   `json:"emotion"`
	PhysicalState      string   `json:"physical_state"`
	MentalState        string   `json:"mental_state"`
	Environment        string   `json:"environment"`
	RelationshipStatus string   `json:"relationship_status"`
	ActionTag          *string  `json:"action_tag"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p := resolvePersona(r, req.Persona)

	key, err := s.Engine.Create(r.Context(), p, engine.CreateInput{
		Content:            req.Content,
		Tags:               req.Tags,
		Importance:         req.Importance,
		Emotion:            req.Emotion,
		PhysicalState:      req.PhysicalState,
		MentalState:        req.MentalState,
		Environment:        req.Environment,
		RelationshipStatus: req.RelationshipStatus,
		ActionTag:          req.ActionTag,
	})
	if s.Metrics != nil {
		s.Metrics.ObserveOp("create", p, start, err)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

type readRequest struct {
	Persona  string `json:"persona"`
	Selector string `json:"selector"`
	K        int    `json:"k"`
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req readRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p := resolvePersona(r, req.Persona)

	results, warnings, err := s.Engine.Read(r.Context(), p, req.Selector, req.K, search.Query{})
	if s.Metrics != nil {
		s.Metrics.ObserveOp("read", p, start, err)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "warnings": warnings})
}

type updateRequest struct {
	Persona  string   `json:"persona"`
	Selector string   `json:"selector"`
	Content  *string  `json:"content"`
	Tags     []string `json:"tags"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p := resolvePersona(r, req.Persona)

	key, err := s.Engine.Update(r.Context(), p, req.Selector, engine.UpdateInput{Content: req.Content, Tags: req.Tags})
	if s.Metrics != nil {
		s.Metrics.ObserveOp("update", p, start, err)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

type deleteRequest struct {
	Persona  string `json:"persona"`
	Selector string `json:"selector"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p := resolvePersona(r, req.Persona)

	result, err := s.Engine.Delete(r.Context(), p, req.Selector)
	if s.Metrics != nil {
		s.Metrics.ObserveOp("delete", p, start, err)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	p := resolvePersona(r, r.URL.Query().Get("persona"))

	report, err := s.Engine.Stats(r.Context(), p)
	if s.Metrics != nil {
		s.Metrics.ObserveOp("stats", p, start, err)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type contextRequest struct {
	Persona string `json:"persona"`
	Op      string `json:"op"`
	Value   string `json:"value"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p := resolvePersona(r, req.Persona)

	var (
		pc  any
		err error
	)
	switch req.Op {
	case "add_favourite":
		pc, err = s.Engine.AddFavourite(r.Context(), p, req.Value)
	case "record_sensation":
		pc, err = s.Engine.RecordSensation(r.Context(), p, req.Value)
	case "record_emotion_flow":
		pc, err = s.Engine.RecordEmotionFlow(r.Context(), p, req.Value)
	case "get_session_context":
		pc, err = s.Engine.GetSessionContext(r.Context(), p)
	default:
		writeError(w, http.StatusBadRequest, errUnknownContextOp(req.Op))
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, pc)
}
