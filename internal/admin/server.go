package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/service"
)

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	ledger   *service.LedgerService
	vouchers *service.VoucherService
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, ledger *service.LedgerService, vouchers *service.VoucherService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		ledger:   ledger,
		vouchers: vouchers,
		router:   r,
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleCreateAccount)
			r.Get("/{id}", s.handleGetAccount)
			r.Post("/{id}/grant", s.handleGrant)
			r.Put("/{id}/legacy", s.handleSetLegacy)
			r.Get("/{id}/usage", s.handleListUsage)
		})
		protected.Route("/vouchers", func(r chi.Router) {
			r.Get("/", s.handleListVouchers)
			r.Post("/", s.handleCreateVoucher)
			r.Put("/{id}", s.handleUpdateVoucher)
			r.Delete("/{id}", s.handleDeleteVoucher)
		})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin panel listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.ListAccounts(r.Context(), queryLimit(r))
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.ledger.Account(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, service.ErrAccountNotFound) {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	account, err := s.ledger.CreateAccount(r.Context(), strings.TrimSpace(req.ID), req.Legacy, req.Credits)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.log.Info("account created by admin", "user_id", account.ID, "legacy", account.IsLegacyUser, "credits", account.CreditsRemaining.String())
	s.writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	description := req.Description
	if description == "" {
		description = "admin grant"
	}
	err := s.ledger.Grant(r.Context(), id, req.Credits, description)
	if errors.Is(err, service.ErrAccountNotFound) {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.badRequest(w, err)
		return
	}
	account, err := s.ledger.Account(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleSetLegacy(w http.ResponseWriter, r *http.Request) {
	var req legacyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	err := s.ledger.SetLegacy(r.Context(), chi.URLParam(r, "id"), req.Legacy)
	if errors.Is(err, service.ErrAccountNotFound) {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListUsage(w http.ResponseWriter, r *http.Request) {
	records, err := s.ledger.Usage(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := s.vouchers.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vouchers)
}

func (s *Server) handleCreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req voucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	voucher, err := s.vouchers.Create(r.Context(), &models.Voucher{Code: req.Code, Credits: req.Credits, MaxUses: req.MaxUses})
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, voucher)
}

func (s *Server) handleUpdateVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req voucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	voucher, err := s.vouchers.Update(r.Context(), &models.Voucher{ID: id, Code: req.Code, Credits: req.Credits, MaxUses: req.MaxUses})
	if errors.Is(err, service.ErrVoucherInvalid) {
		http.Error(w, "voucher not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, voucher)
}

func (s *Server) handleDeleteVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.vouchers.Delete(r.Context(), id); err != nil {
		s.badRequest(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !matches(user, s.username) || !matches(pass, s.password) {
				w.Header().Set("WWW-Authenticate", `Basic realm="synergyhub"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func matches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

type accountRequest struct {
	ID      string          `json:"id"`
	Legacy  bool            `json:"is_legacy_user"`
	Credits decimal.Decimal `json:"credits"`
}

type grantRequest struct {
	Credits     decimal.Decimal `json:"credits"`
	Description string          `json:"description"`
}

type legacyRequest struct {
	Legacy bool `json:"is_legacy_user"`
}

type voucherRequest struct {
	Code    string          `json:"code"`
	Credits decimal.Decimal `json:"credits"`
	MaxUses int             `json:"max_uses"`
}
