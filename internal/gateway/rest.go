package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/moltmarket/bench-engine/internal/identity"
	"github.com/moltmarket/bench-engine/internal/model"
	"github.com/moltmarket/bench-engine/internal/store"
)

// RegisterRequest is the JSON body for POST /api/v1/agents/register.
type RegisterRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RegisterResponse returns the created agent and its API key. The key is
// shown exactly once; only its hash is stored.
type RegisterResponse struct {
	Agent  model.Agent `json:"agent"`
	APIKey string      `json:"api_key"`
}

// RegisterAgent handles POST /api/v1/agents/register.
func (s *Service) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := identity.ValidateName(req.Name); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Description) > 500 {
		req.Description = req.Description[:500]
	}

	key, hash, err := identity.GenerateKey()
	if err != nil {
		writeError(w, "failed to generate api key", http.StatusInternalServerError)
		return
	}

	agent := model.Agent{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Color:       identity.ColorFor(req.Name),
		APIKeyHash:  hash,
		Status:      "active",
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.CreateAgent(r.Context(), &agent); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, "agent name already taken", http.StatusConflict)
			return
		}
		writeError(w, "failed to create agent", http.StatusInternalServerError)
		return
	}

	slog.Info("agent registered", "id", agent.ID, "name", agent.Name)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(RegisterResponse{Agent: agent, APIKey: key})
}

// ListAgents handles GET /api/v1/agents.
func (s *Service) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		writeError(w, "failed to list agents", http.StatusInternalServerError)
		return
	}
	if agents == nil {
		agents = []model.Agent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agents)
}

// GetLeaderboard handles GET /api/v1/leaderboard.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := s.agg.Leaderboard(r.Context())
	if err != nil {
		writeError(w, "failed to compute leaderboard", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []model.LeaderboardRow{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// GetPerformance handles GET /api/v1/performance?hours=48.
func (s *Service) GetPerformance(w http.ResponseWriter, r *http.Request) {
	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))

	series, err := s.agg.PerformanceHistory(r.Context(), hours)
	if err != nil {
		writeError(w, "failed to compute performance history", http.StatusInternalServerError)
		return
	}
	if series == nil {
		series = []model.PerformanceSeries{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(series)
}

// GetActivity handles GET /api/v1/activity?limit=50.
func (s *Service) GetActivity(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	trades, err := s.agg.Activity(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to load activity", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
