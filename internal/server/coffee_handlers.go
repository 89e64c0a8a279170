// ABOUTME: HTTP handlers for roasters, bags, and brews
// ABOUTME: Reads are public, writes require auth; this is the surface the gate protects

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/grindlog/grindlog/internal/store"
)

const defaultBrewListLimit = 50

func (s *Server) handleListRoasters(w http.ResponseWriter, r *http.Request) {
	roasters, err := s.store.ListRoasters(r.Context())
	if err != nil {
		s.logger.Error("failed to list roasters", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if roasters == nil {
		roasters = []*store.Roaster{}
	}
	s.writeJSON(w, http.StatusOK, roasters)
}

func (s *Server) handleCreateRoaster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	}
	if err := decode(r, &req); err != nil || req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name required")
		return
	}

	roaster := &store.Roaster{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Country:   req.Country,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateRoaster(r.Context(), roaster); err != nil {
		s.logger.Error("failed to create roaster", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusCreated, roaster)
}

func (s *Server) handleListBags(w http.ResponseWriter, r *http.Request) {
	bags, err := s.store.ListBags(r.Context())
	if err != nil {
		s.logger.Error("failed to list bags", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if bags == nil {
		bags = []*store.Bag{}
	}
	s.writeJSON(w, http.StatusOK, bags)
}

func (s *Server) handleCreateBag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoasterID  string `json:"roaster_id"`
		Name       string `json:"name"`
		RoastLevel string `json:"roast_level"`
	}
	if err := decode(r, &req); err != nil || req.Name == "" || req.RoasterID == "" {
		s.writeError(w, http.StatusBadRequest, "roaster_id and name required")
		return
	}

	bag := &store.Bag{
		ID:         uuid.New().String(),
		RoasterID:  req.RoasterID,
		Name:       req.Name,
		RoastLevel: req.RoastLevel,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateBag(r.Context(), bag); err != nil {
		s.logger.Error("failed to create bag", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusCreated, bag)
}

func (s *Server) handleListBrews(w http.ResponseWriter, r *http.Request) {
	limit := defaultBrewListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	brews, err := s.store.ListBrews(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list brews", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if brews == nil {
		brews = []*store.Brew{}
	}
	s.writeJSON(w, http.StatusOK, brews)
}

func (s *Server) handleCreateBrew(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BagID    string     `json:"bag_id"`
		Method   string     `json:"method"`
		DoseG    float64    `json:"dose_g"`
		YieldG   float64    `json:"yield_g"`
		Notes    string     `json:"notes"`
		BrewedAt *time.Time `json:"brewed_at"`
	}
	if err := decode(r, &req); err != nil || req.BagID == "" || req.Method == "" {
		s.writeError(w, http.StatusBadRequest, "bag_id and method required")
		return
	}

	now := time.Now()
	brewedAt := now
	if req.BrewedAt != nil {
		brewedAt = *req.BrewedAt
	}

	brew := &store.Brew{
		ID:        uuid.New().String(),
		BagID:     req.BagID,
		Method:    req.Method,
		DoseG:     req.DoseG,
		YieldG:    req.YieldG,
		Notes:     req.Notes,
		BrewedAt:  brewedAt,
		CreatedAt: now,
	}
	if err := s.store.CreateBrew(r.Context(), brew); err != nil {
		s.logger.Error("failed to create brew", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusCreated, brew)
}
