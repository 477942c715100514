package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"playtokens/internal/auth"
	"playtokens/internal/config"
	"playtokens/internal/market"
	"playtokens/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
)

const SessionCookie = "playtokens_session"

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	market   *market.Service
	accounts *auth.Accounts
	sessions *auth.Sessions
	mux      *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, svc *market.Service, accounts *auth.Accounts, sessions *auth.Sessions) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		market:   svc,
		accounts: accounts,
		sessions: sessions,
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: !allowsAnyOrigin(s.cfg.CORSOrigins),
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/players", s.handlePlayersList)
		r.Get("/players/{id}", s.handlePlayerDetail)

		r.Post("/transactions/buy", s.handleBuy)
		r.Post("/transactions/sell", s.handleSell)
		r.Post("/transactions/swap", s.handleSwap)
		r.Get("/transactions/{userId}", s.handleTransactions)

		r.Get("/staking/plans", s.handleStakingPlans)
		r.Post("/staking/stake", s.handleStake)
		r.Post("/staking/unstake", s.handleUnstake)

		r.Get("/portfolio/{userId}", s.handlePortfolio)
		r.Get("/holdings/{userId}", s.handleHoldings)

		r.Get("/achievements", s.handleAchievementsList)
		r.Get("/achievements/{userId}", s.handleUserAchievements)
		r.Post("/achievements/{userId}/check", s.handleCheckAchievements)

		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Get("/user", s.handleCurrentUser)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			stack := debug.Stack()
			s.log.Error("panic serving request", "path", r.URL.Path, "panic", fmt.Sprint(rec), "stack", string(stack))
			s.writeInternal(w, fmt.Errorf("panic: %v", rec), stackPanic, stack)
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePlayersList(w http.ResponseWriter, r *http.Request) {
	out, err := s.market.ListPlayers(r.Context(), r.URL.Query().Get("sport"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlayerDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.market.GetPlayer(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type tradeRequest struct {
	UserID   int64           `json:"userId"`
	PlayerID int64           `json:"playerId"`
	Amount   int64           `json:"amount"`
	Price    json.RawMessage `json:"price"`
}

func (s *Server) decodeTrade(r *http.Request) (market.BuyInput, error) {
	var in tradeRequest
	if err := decodeJSON(r, &in); err != nil {
		return market.BuyInput{}, err
	}
	userID, err := s.resolveUser(r, in.UserID)
	if err != nil {
		return market.BuyInput{}, err
	}
	out := market.BuyInput{
		UserID:   userID,
		PlayerID: in.PlayerID,
		Amount:   in.Amount,
	}
	price, err := parsePrice(in.Price)
	if err != nil {
		return out, err
	}
	if price.IsZero() {
		// No quoted price: trade at the player's current price.
		player, err := s.market.GetPlayer(r.Context(), in.PlayerID)
		if err != nil {
			return out, err
		}
		price = player.TokenPrice
	}
	out.Price = price
	return out, nil
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	in, err := s.decodeTrade(r)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.market.Buy(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	in, err := s.decodeTrade(r)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.market.Sell(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID       int64 `json:"userId"`
		FromPlayerID int64 `json:"fromPlayerId"`
		ToPlayerID   int64 `json:"toPlayerId"`
		Amount       int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, err)
		return
	}
	userID, err := s.resolveUser(r, in.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.market.Swap(r.Context(), market.SwapInput{
		UserID:       userID,
		FromPlayerID: in.FromPlayerID,
		ToPlayerID:   in.ToPlayerID,
		Amount:       in.Amount,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.market.Transactions(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStakingPlans(w http.ResponseWriter, r *http.Request) {
	out, err := s.market.ListStakingPlans(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID   int64 `json:"userId"`
		PlayerID int64 `json:"playerId"`
		Amount   int64 `json:"amount"`
		PlanID   int64 `json:"planId"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, err)
		return
	}
	userID, err := s.resolveUser(r, in.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.market.Stake(r.Context(), market.StakeInput{
		UserID:   userID,
		PlayerID: in.PlayerID,
		Amount:   in.Amount,
		PlanID:   in.PlanID,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID   int64 `json:"userId"`
		PlayerID int64 `json:"playerId"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, err)
		return
	}
	userID, err := s.resolveUser(r, in.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.market.Unstake(r.Context(), userID, in.PlayerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.market.Portfolio(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.market.Holdings(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAchievementsList(w http.ResponseWriter, r *http.Request) {
	out, err := s.market.ListAchievements(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUserAchievements(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.market.UserAchievements(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCheckAchievements(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.market.CheckAchievements(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if out.Unlocked == nil {
		out.Unlocked = []store.Achievement{}
	}
	writeJSON(w, http.StatusOK, out)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, err)
		return
	}
	user, err := s.accounts.Register(r.Context(), in.Username, in.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.startSession(w, user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, err)
		return
	}
	user, err := s.accounts.Login(r.Context(), in.Username, in.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.startSession(w, user.ID)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		s.sessions.Destroy(c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Production(),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, err := s.sessionUser(r)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	user, err := s.accounts.User(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) startSession(w http.ResponseWriter, userID int64) {
	token, expires := s.sessions.Create(userID)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cfg.Production(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) sessionUser(r *http.Request) (int64, error) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return 0, auth.ErrNoSession
	}
	return s.sessions.Lookup(c.Value)
}

// resolveUser falls back to the session user when the body names none.
// With neither, the request is unauthenticated.
func (s *Server) resolveUser(r *http.Request, bodyID int64) (int64, error) {
	if bodyID != 0 {
		return bodyID, nil
	}
	return s.sessionUser(r)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case market.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case market.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case market.IsBusinessRule(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrNoSession):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, store.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("request failed", "err", err)
		s.writeInternal(w, err, stackHandler, debug.Stack())
	}
}

// Errors carry no stack of their own. A panic stack points at the failure
// site; a handler stack only shows the handler that reported the error.
const (
	stackPanic   = "panic"
	stackHandler = "handler"
)

func (s *Server) writeInternal(w http.ResponseWriter, err error, source string, stack []byte) {
	if s.cfg.Production() {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"message":     err.Error(),
		"stack":       string(stack),
		"stackSource": source,
	})
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", market.ErrValidation, name)
	}
	return id, nil
}

func parsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, nil
	}
	var p decimal.Decimal
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: price: %v", market.ErrValidation, err)
	}
	return p, nil
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", market.ErrValidation)
		}
		return fmt.Errorf("%w: %v", market.ErrValidation, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"message": strings.TrimSpace(message)})
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
