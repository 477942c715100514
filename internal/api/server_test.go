package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"playtokens/internal/auth"
	"playtokens/internal/config"
	"playtokens/internal/market"
	"playtokens/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testAPI struct {
	t      *testing.T
	srv    *Server
	svc    *market.Service
	cookie *http.Cookie
}

func newTestAPI(t *testing.T, env string) *testAPI {
	t.Helper()
	st := store.NewMemory()
	svc := market.NewService(st, nil)
	require.NoError(t, svc.SeedDefaults(context.Background()))
	cfg := config.APIConfig{Env: env, CORSOrigins: []string{"*"}, SessionTTL: time.Hour}
	accounts := auth.NewAccounts(st, nil, decimal.NewFromInt(10000), auth.WithBcryptCost(bcrypt.MinCost))
	return &testAPI{t: t, srv: New(cfg, nil, svc, accounts, auth.NewSessions(time.Hour)), svc: svc}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if a.cookie != nil {
		req.AddCookie(a.cookie)
	}
	rec := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]any](t, rec)["message"].(string)
}

func (a *testAPI) register(username string) store.User {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/register", map[string]any{"username": username, "password": "hunter22"})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			a.cookie = c
		}
	}
	require.NotNil(a.t, a.cookie)
	return decode[store.User](a.t, rec)
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t, "development")
	rec := a.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPlayersEndpoints(t *testing.T) {
	a := newTestAPI(t, "development")

	rec := a.do(http.MethodGet, "/api/players", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]store.Player](t, rec)
	assert.NotEmpty(t, all)

	rec = a.do(http.MethodGet, "/api/players?sport=NFL", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, p := range decode[[]store.Player](t, rec) {
		assert.Equal(t, store.SportNFL, p.Sport)
	}

	rec = a.do(http.MethodGet, "/api/players?sport=MLB", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodGet, fmt.Sprintf("/api/players/%d", all[0].ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, all[0].Name, decode[store.Player](t, rec).Name)

	rec = a.do(http.MethodGet, "/api/players/9999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, message(t, rec), "player not found")

	rec = a.do(http.MethodGet, "/api/players/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	a := newTestAPI(t, "development")

	rec := a.do(http.MethodGet, "/api/user", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	user := a.register("alice")
	assert.Equal(t, "10000", user.Balance.String())

	rec = a.do(http.MethodGet, "/api/user", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user.ID, decode[store.User](t, rec).ID)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = a.do(http.MethodPost, "/api/logout", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(http.MethodGet, "/api/user", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	a.cookie = nil
	rec = a.do(http.MethodPost, "/api/login", map[string]any{"username": "alice", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = a.do(http.MethodPost, "/api/login", map[string]any{"username": "alice", "password": "hunter22"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPost, "/api/register", map[string]any{"username": "alice", "password": "hunter22"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, message(t, rec), "username already taken")
}

func TestTradingFlow(t *testing.T) {
	a := newTestAPI(t, "development")
	user := a.register("bob")
	players := decode[[]store.Player](t, a.do(http.MethodGet, "/api/players?sport=NBA", nil))
	require.GreaterOrEqual(t, len(players), 2)
	p, q := players[0], players[1]

	rec := a.do(http.MethodPost, "/api/transactions/buy", map[string]any{
		"userId": user.ID, "playerId": p.ID, "amount": 3, "price": "2.50",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	trade := decode[market.TradeResult](t, rec)
	assert.Equal(t, int64(3), trade.Holding.Amount)
	assert.True(t, trade.Transaction.Price.Equal(decimal.RequireFromString("2.50")))

	// Price omitted: the current player price applies; userId omitted: the session user.
	rec = a.do(http.MethodPost, "/api/transactions/buy", map[string]any{"playerId": p.ID, "amount": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decode[market.TradeResult](t, rec).Transaction.Price.Equal(p.TokenPrice))

	rec = a.do(http.MethodPost, "/api/transactions/sell", map[string]any{
		"userId": user.ID, "playerId": p.ID, "amount": 99, "price": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, message(t, rec), "insufficient tokens")

	rec = a.do(http.MethodPost, "/api/transactions/swap", map[string]any{
		"userId": user.ID, "fromPlayerId": p.ID, "toPlayerId": q.ID, "amount": 5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	swap := decode[market.SwapResult](t, rec)
	assert.Equal(t, int64(0), swap.Source.Amount)

	rec = a.do(http.MethodGet, fmt.Sprintf("/api/transactions/%d", user.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode[[]store.Transaction](t, rec)
	require.Len(t, txs, 3)
	assert.Equal(t, store.TxSwap, txs[0].Type)

	rec = a.do(http.MethodGet, fmt.Sprintf("/api/portfolio/%d", user.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	portfolio := decode[market.Portfolio](t, rec)
	assert.Equal(t, portfolio.TotalTokens, portfolio.NBATokens+portfolio.NFLTokens)
	assert.Len(t, portfolio.History, 3)

	rec = a.do(http.MethodGet, fmt.Sprintf("/api/holdings/%d", user.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]market.HoldingView](t, rec), 2)

	rec = a.do(http.MethodGet, "/api/portfolio/9999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	a := newTestAPI(t, "development")
	user := a.register("carol")

	rec := a.do(http.MethodPost, "/api/transactions/buy", map[string]any{
		"userId": user.ID, "playerId": 1, "amount": 1, "price": "1", "extra": true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/staking/stake", nil)
	rec = httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, message(t, rec), "request body is required")

	rec = a.do(http.MethodPost, "/api/transactions/buy", map[string]any{
		"userId": user.ID, "playerId": 1, "amount": 0, "price": "1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStakingEndpoints(t *testing.T) {
	a := newTestAPI(t, "development")
	user := a.register("dave")

	rec := a.do(http.MethodGet, "/api/staking/plans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	plans := decode[[]store.StakingPlan](t, rec)
	require.NotEmpty(t, plans)
	plan := plans[0]

	rec = a.do(http.MethodPost, "/api/transactions/buy", map[string]any{"userId": user.ID, "playerId": 1, "amount": 20})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/staking/stake", map[string]any{
		"userId": user.ID, "playerId": 1, "amount": 20, "planId": plan.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	staked := decode[market.StakeResult](t, rec)
	assert.True(t, staked.Holding.IsStaked)

	rec = a.do(http.MethodPost, "/api/staking/unstake", map[string]any{"userId": user.ID, "playerId": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, message(t, rec), "lock period")

	rec = a.do(http.MethodPost, "/api/staking/stake", map[string]any{
		"userId": user.ID, "playerId": 1, "amount": 20, "planId": 9999,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAchievementEndpoints(t *testing.T) {
	a := newTestAPI(t, "development")
	user := a.register("erin")

	rec := a.do(http.MethodGet, "/api/achievements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]store.Achievement](t, rec))

	rec = a.do(http.MethodPost, fmt.Sprintf("/api/achievements/%d/check", user.ID), map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unlocked":[]`)

	rec = a.do(http.MethodPost, "/api/transactions/buy", map[string]any{"userId": user.ID, "playerId": 1, "amount": 1})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(http.MethodPost, fmt.Sprintf("/api/achievements/%d/check", user.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[market.AchievementReport](t, rec)
	require.Len(t, report.Unlocked, 1)
	assert.Equal(t, "First Trade", report.Unlocked[0].Name)

	rec = a.do(http.MethodGet, fmt.Sprintf("/api/achievements/%d", user.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]market.AchievementView](t, rec)
	completed := 0
	for _, v := range views {
		if v.Completed {
			completed++
		}
	}
	assert.Equal(t, 1, completed)

	rec = a.do(http.MethodGet, "/api/achievements/9999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPanicsBecomeInternalErrors(t *testing.T) {
	for _, env := range []string{"development", "production"} {
		t.Run(env, func(t *testing.T) {
			a := newTestAPI(t, env)
			a.srv.mux.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })

			rec := a.do(http.MethodGet, "/boom", nil)
			require.Equal(t, http.StatusInternalServerError, rec.Code)
			body := decode[map[string]any](t, rec)
			if env == "production" {
				assert.Equal(t, "internal server error", body["message"])
				assert.NotContains(t, body, "stack")
			} else {
				assert.Equal(t, "panic: kaboom", body["message"])
				assert.Contains(t, body, "stack")
				assert.Equal(t, "panic", body["stackSource"])
			}
		})
	}
}

func TestUnexpectedErrorsReportHandlerStack(t *testing.T) {
	a := newTestAPI(t, "development")
	a.srv.mux.Get("/fail", func(w http.ResponseWriter, _ *http.Request) {
		a.srv.writeDomainError(w, errors.New("disk on fire"))
	})

	rec := a.do(http.MethodGet, "/fail", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "disk on fire", body["message"])
	assert.Equal(t, "handler", body["stackSource"])
	assert.Contains(t, body["stack"], "writeDomainError")
}

func TestMutationsWithoutUserRequireSession(t *testing.T) {
	a := newTestAPI(t, "development")
	for _, tc := range []struct {
		path string
		body map[string]any
	}{
		{"/api/transactions/buy", map[string]any{"playerId": 1, "amount": 1}},
		{"/api/transactions/sell", map[string]any{"playerId": 1, "amount": 1, "price": "1"}},
		{"/api/transactions/swap", map[string]any{"fromPlayerId": 1, "toPlayerId": 2, "amount": 1}},
		{"/api/staking/stake", map[string]any{"playerId": 1, "amount": 10, "planId": 1}},
		{"/api/staking/unstake", map[string]any{"playerId": 1}},
	} {
		rec := a.do(http.MethodPost, tc.path, tc.body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
		assert.Equal(t, "not logged in", message(t, rec), tc.path)
	}
}
