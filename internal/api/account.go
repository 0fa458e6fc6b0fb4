package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/service"
)

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.ledger.Account(r.Context(), userID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(account))
}

// handleEnsureAccount creates the caller's profile with the signup bonus on first use.
func (s *Server) handleEnsureAccount(w http.ResponseWriter, r *http.Request) {
	account, created, err := s.ledger.Ensure(r.Context(), userID(r.Context()), s.cfg.SignupCredits)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toAccount(account))
}

func (s *Server) handleListUsage(w http.ResponseWriter, r *http.Request) {
	records, err := s.ledger.Usage(r.Context(), userID(r.Context()), queryLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]usageResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, usageResponse{
			ID:               rec.ID,
			Kind:             string(rec.Kind),
			OperationType:    string(rec.OperationType),
			ModelIdentifier:  rec.ModelIdentifier,
			CostCharged:      credits(rec.CostCharged),
			InputDescription: rec.InputDescription,
			CreatedAt:        rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": out})
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeemVoucher(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	rec, err := s.vouchers.Redeem(ctx, userID(ctx), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.ledger.Balance(ctx, userID(ctx))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{
		"creditsAdded":     credits(rec.CostCharged),
		"creditsRemaining": credits(balance),
	})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := s.artifacts.List(r.Context(), userID(r.Context()), queryLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]artifactResponse, 0, len(artifacts))
	for i := range artifacts {
		out = append(out, toArtifact(&artifacts[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": out})
}

type visibilityRequest struct {
	Visibility string `json:"visibility"`
}

func (s *Server) handleUpdateArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, &service.ValidationError{Field: "id", Message: "invalid id"})
		return
	}
	var req visibilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.artifacts.SetVisibility(r.Context(), userID(r.Context()), id, models.Visibility(req.Visibility)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, &service.ValidationError{Field: "id", Message: "invalid id"})
		return
	}
	if err := s.artifacts.Delete(r.Context(), userID(r.Context()), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
