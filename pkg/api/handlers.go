package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Mindburn-Labs/tiller/pkg/contracts"
	"github.com/Mindburn-Labs/tiller/pkg/election"
	"github.com/Mindburn-Labs/tiller/pkg/ledger"
	"github.com/Mindburn-Labs/tiller/pkg/timelock"
)

// Server exposes the scheduler and electorate over HTTP. Targets are
// registered by address; callers reference them by address and the
// server resolves the executable entity.
type Server struct {
	scheduler *timelock.Scheduler
	elect     *election.Electorate
	events    *ledger.Ledger
	logger    *slog.Logger

	mu      sync.RWMutex
	targets map[contracts.Address]contracts.Target
}

// NewServer creates the API server.
func NewServer(scheduler *timelock.Scheduler, elect *election.Electorate, events *ledger.Ledger) *Server {
	return &Server{
		scheduler: scheduler,
		elect:     elect,
		events:    events,
		logger:    slog.Default().With("component", "api"),
		targets:   make(map[contracts.Address]contracts.Target),
	}
}

// RegisterTarget makes an executable entity addressable by API callers.
func (s *Server) RegisterTarget(t contracts.Target) {
	s.mu.Lock()
	s.targets[t.ID()] = t
	s.mu.Unlock()
}

func (s *Server) target(addr contracts.Address) (contracts.Target, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[addr]
	return t, ok
}

// Handler returns the routed handler with principal resolution and
// rate limiting applied.
func (s *Server) Handler(rateLimitRPS float64) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/actions/plan", s.handlePlan)
	mux.HandleFunc("POST /v1/actions/exec", s.handleExec)
	mux.HandleFunc("POST /v1/actions/drop", s.handleDrop)
	mux.HandleFunc("GET /v1/actions", s.handleLiveActions)
	mux.HandleFunc("POST /v1/election/lock", s.handleLock)
	mux.HandleFunc("POST /v1/election/free", s.handleFree)
	mux.HandleFunc("POST /v1/election/vote", s.handleVote)
	mux.HandleFunc("POST /v1/election/lift", s.handleLift)
	mux.HandleFunc("GET /v1/election/leader", s.handleLeader)
	mux.HandleFunc("GET /v1/ledger/head", s.handleLedgerHead)

	return PrincipalMiddleware(RateLimitMiddleware(rateLimitRPS)(mux))
}

type actionRequest struct {
	Target        contracts.Address `json:"target"`
	Payload       []byte            `json:"payload"`
	ScheduledTime time.Time         `json:"scheduled_time,omitzero"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !decode(w, r, &req) {
		return
	}
	target, ok := s.target(req.Target)
	if !ok {
		WriteError(w, r, http.StatusNotFound, "Unknown Target", "no target registered at "+string(req.Target))
		return
	}

	caller, _ := GetPrincipal(r.Context())
	plan, err := s.scheduler.Plan(r.Context(), caller, target, req.Payload)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !decode(w, r, &req) {
		return
	}
	target, ok := s.target(req.Target)
	if !ok {
		WriteError(w, r, http.StatusNotFound, "Unknown Target", "no target registered at "+string(req.Target))
		return
	}

	caller, _ := GetPrincipal(r.Context())
	resp, err := s.scheduler.Exec(r.Context(), caller, target, req.Payload, req.ScheduledTime)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"response": resp})
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !decode(w, r, &req) {
		return
	}
	target, ok := s.target(req.Target)
	if !ok {
		WriteError(w, r, http.StatusNotFound, "Unknown Target", "no target registered at "+string(req.Target))
		return
	}

	caller, _ := GetPrincipal(r.Context())
	if err := s.scheduler.Drop(r.Context(), caller, target, req.Payload, req.ScheduledTime); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLiveActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": s.scheduler.Live()})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	voter, _ := GetPrincipal(r.Context())
	if err := s.elect.Lock(r.Context(), voter, req.Amount); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFree(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	voter, _ := GetPrincipal(r.Context())
	if err := s.elect.Free(r.Context(), voter, req.Amount); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slate   []contracts.Address `json:"slate"`
		SlateID string              `json:"slate_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	voter, _ := GetPrincipal(r.Context())

	if req.SlateID != "" {
		if err := s.elect.VoteByID(r.Context(), voter, req.SlateID); err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"slate_id": req.SlateID})
		return
	}

	id, err := s.elect.Vote(r.Context(), voter, req.Slate)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"slate_id": id})
}

func (s *Server) handleLift(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidate contracts.Address `json:"candidate"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.elect.Lift(r.Context(), req.Candidate); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeader(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"leader": string(s.elect.Leader())})
}

func (s *Server) handleLedgerHead(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"head":   s.events.Head(),
		"length": s.events.Length(),
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, r, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
