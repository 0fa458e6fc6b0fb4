package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/provider"
	"github.com/digkill/SynergyHub/internal/service"
)

type problem struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type insufficientCredits struct {
	Error            string  `json:"error"`
	Message          string  `json:"message"`
	CreditsRemaining float64 `json:"creditsRemaining"`
	CostRequired     float64 `json:"costRequired"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, problem{Error: code, Message: message, Details: details})
}

// writeError maps service errors onto HTTP responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		denied   *service.InsufficientCreditsError
		invalid  *service.ValidationError
		upstream *provider.Error
		persist  *service.PersistenceError
	)
	switch {
	case errors.As(err, &denied):
		writeJSON(w, http.StatusPaymentRequired, insufficientCredits{
			Error:            "insufficient_credits",
			Message:          "not enough credits for this operation",
			CreditsRemaining: denied.Balance.InexactFloat64(),
			CostRequired:     denied.Cost.InexactFloat64(),
		})
	case errors.As(err, &invalid):
		var details map[string]any
		if invalid.Field != "" {
			details = map[string]any{"field": invalid.Field}
		}
		writeProblem(w, http.StatusBadRequest, "invalid_request", invalid.Error(), details)
	case errors.Is(err, service.ErrAccountNotFound):
		writeProblem(w, http.StatusNotFound, "account_not_found", "create the account first", nil)
	case errors.Is(err, service.ErrTaskNotFound):
		writeProblem(w, http.StatusNotFound, "task_not_found", err.Error(), nil)
	case errors.Is(err, service.ErrArtifactNotFound):
		writeProblem(w, http.StatusNotFound, "artifact_not_found", err.Error(), nil)
	case errors.Is(err, service.ErrVoucherInvalid):
		writeProblem(w, http.StatusNotFound, "voucher_not_found", "unknown voucher code", nil)
	case errors.Is(err, service.ErrVoucherExhausted):
		writeProblem(w, http.StatusConflict, "voucher_exhausted", "voucher has no uses left", nil)
	case errors.Is(err, service.ErrVoucherAlreadyRedeemed):
		writeProblem(w, http.StatusConflict, "voucher_already_redeemed", "voucher already redeemed", nil)
	case errors.As(err, &upstream):
		details := map[string]any{"provider": upstream.Provider}
		if upstream.StatusCode > 0 {
			details["status"] = upstream.StatusCode
		}
		writeProblem(w, http.StatusBadGateway, "provider_error", upstream.Message, details)
	case errors.As(err, &persist):
		writeProblem(w, http.StatusInternalServerError, "persistence_failed", "result could not be stored; credits were refunded", nil)
	default:
		s.log.Error("api handler error", "path", r.URL.Path, "err", err)
		writeProblem(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return false
	}
	return true
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit")))
	return limit
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

func credits(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

type artifactResponse struct {
	ID              int64     `json:"id"`
	URL             string    `json:"url"`
	StoragePath     string    `json:"storagePath"`
	Prompt          string    `json:"prompt"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	Format          string    `json:"format"`
	Visibility      string    `json:"visibility"`
	OperationType   string    `json:"operationType"`
	ModelIdentifier string    `json:"modelIdentifier"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toArtifact(a *models.StoredArtifact) artifactResponse {
	return artifactResponse{
		ID:              a.ID,
		URL:             a.PublicURL,
		StoragePath:     a.StoragePath,
		Prompt:          a.PromptText,
		Width:           a.Width,
		Height:          a.Height,
		Format:          a.Format,
		Visibility:      string(a.Visibility),
		OperationType:   string(a.OperationType),
		ModelIdentifier: a.ModelIdentifier,
		CreatedAt:       a.CreatedAt,
	}
}

type taskResponse struct {
	ID          string    `json:"taskId"`
	Status      string    `json:"status"`
	Operation   string    `json:"operationType"`
	Model       string    `json:"modelIdentifier"`
	ArtifactID  int64     `json:"artifactId,omitempty"`
	ArtifactURL string    `json:"artifactUrl,omitempty"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toTask(t *models.GenerationTask) taskResponse {
	return taskResponse{
		ID:          t.ID,
		Status:      string(t.Status),
		Operation:   string(t.Operation),
		Model:       t.Model,
		ArtifactID:  t.ArtifactID,
		ArtifactURL: t.ArtifactURL,
		Error:       t.Error,
		Attempts:    t.Attempts,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

type usageResponse struct {
	ID               int64     `json:"id"`
	Kind             string    `json:"kind"`
	OperationType    string    `json:"operationType,omitempty"`
	ModelIdentifier  string    `json:"modelIdentifier,omitempty"`
	CostCharged      float64   `json:"costCharged"`
	InputDescription string    `json:"inputDescription"`
	CreatedAt        time.Time `json:"createdAt"`
}

type accountResponse struct {
	ID               string    `json:"id"`
	IsLegacyUser     bool      `json:"isLegacyUser"`
	CreditsRemaining float64   `json:"creditsRemaining"`
	CreatedAt        time.Time `json:"createdAt"`
}

func toAccount(a *models.UserAccount) accountResponse {
	return accountResponse{
		ID:               a.ID,
		IsLegacyUser:     a.IsLegacyUser,
		CreditsRemaining: credits(a.CreditsRemaining),
		CreatedAt:        a.CreatedAt,
	}
}
