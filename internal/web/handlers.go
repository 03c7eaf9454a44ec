package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/okx_mark_pilot/internal/infrastructure/logstore"
)

type statusResponse struct {
	Connection string             `json:"connection"`
	AIStage    string             `json:"ai_stage,omitempty"`
	AILast     *time.Time         `json:"ai_last_cycle,omitempty"`
	Prices     map[string]float64 `json:"prices"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Connection: s.stream.State().String(),
		Prices:     make(map[string]float64),
	}
	for _, inst := range s.store.Instruments() {
		if p, ok := s.store.Latest(inst); ok {
			resp.Prices[inst] = p.MarkPrice
		}
	}
	if s.aiLoop != nil {
		stage, last := s.aiLoop.Status()
		resp.AIStage = string(stage)
		if !last.IsZero() {
			resp.AILast = &last
		}
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	instID := r.PathValue("instId")
	points := s.store.Snapshot(instID)
	if len(points) == 0 {
		http.Error(w, "no history for instrument", http.StatusNotFound)
		return
	}
	s.writeJSON(w, points)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	entries, err := s.trades.Recent(limitParam(r, logstore.TradeTailCap))
	if err != nil {
		s.logger.Error("Failed to read trade log", zap.Error(err))
		http.Error(w, "Failed to read trade log", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, entries)
}

func (s *Server) handleAIRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.ai.Recent(limitParam(r, logstore.DecisionTailCap))
	if err != nil {
		s.logger.Error("Failed to read ai log", zap.Error(err))
		http.Error(w, "Failed to read ai log", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, records)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	entries, err := s.errs.Recent(limitParam(r, logstore.ErrorTailCap))
	if err != nil {
		s.logger.Error("Failed to read error log", zap.Error(err))
		http.Error(w, "Failed to read error log", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func limitParam(r *http.Request, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return max
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > max {
		return max
	}
	return n
}
