package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"playtokens/internal/market"
	"playtokens/internal/store"
	"playtokens/internal/syncq"
)

const sessionCookie = "playtokens_session"

// APIError is a non-2xx response carrying the server's message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Token is sent as the session cookie when set.
	Token string
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Register(ctx context.Context, username, password string) (store.User, Session, error) {
	return c.authenticate(ctx, "/api/register", username, password)
}

func (c *Client) Login(ctx context.Context, username, password string) (store.User, Session, error) {
	return c.authenticate(ctx, "/api/login", username, password)
}

// authenticate posts credentials and turns the session cookie into a Session
// bound to this client's API base.
func (c *Client) authenticate(ctx context.Context, path, username, password string) (store.User, Session, error) {
	var out store.User
	resp, err := c.send(ctx, http.MethodPost, path, map[string]any{
		"username": username,
		"password": password,
	})
	if err != nil {
		return out, Session{}, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, Session{}, err
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookie {
			return out, Session{
				Token:     ck.Value,
				UserID:    out.ID,
				Username:  out.Username,
				APIBase:   c.BaseURL,
				ExpiresAt: ck.Expires,
			}, nil
		}
	}
	return out, Session{}, errors.New("server did not return a session cookie")
}

func (c *Client) Logout(ctx context.Context) error {
	return c.jsonRequest(ctx, http.MethodPost, "/api/logout", map[string]any{}, nil)
}

func (c *Client) CurrentUser(ctx context.Context) (store.User, error) {
	var out store.User
	err := c.jsonRequest(ctx, http.MethodGet, "/api/user", nil, &out)
	return out, err
}

func (c *Client) Players(ctx context.Context, sport string) ([]store.Player, error) {
	path := "/api/players"
	if sport != "" {
		path += "?sport=" + url.QueryEscape(sport)
	}
	var out []store.Player
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Player(ctx context.Context, id int64) (store.Player, error) {
	var out store.Player
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/api/players/%d", id), nil, &out)
	return out, err
}

func (c *Client) StakingPlans(ctx context.Context) ([]store.StakingPlan, error) {
	var out []store.StakingPlan
	err := c.jsonRequest(ctx, http.MethodGet, "/api/staking/plans", nil, &out)
	return out, err
}

func (c *Client) Portfolio(ctx context.Context, userID int64) (market.Portfolio, error) {
	var out market.Portfolio
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/api/portfolio/%d", userID), nil, &out)
	return out, err
}

func (c *Client) Holdings(ctx context.Context, userID int64) ([]market.HoldingView, error) {
	var out []market.HoldingView
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/api/holdings/%d", userID), nil, &out)
	return out, err
}

func (c *Client) Transactions(ctx context.Context, userID int64) ([]store.Transaction, error) {
	var out []store.Transaction
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/api/transactions/%d", userID), nil, &out)
	return out, err
}

func (c *Client) UserAchievements(ctx context.Context, userID int64) ([]market.AchievementView, error) {
	var out []market.AchievementView
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/api/achievements/%d", userID), nil, &out)
	return out, err
}

func (c *Client) CheckAchievements(ctx context.Context, userID int64) (market.AchievementReport, error) {
	var out market.AchievementReport
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/api/achievements/%d/check", userID), map[string]any{}, &out)
	return out, err
}

// Mutations are built as queue commands so the same shape can be sent now
// or replayed later.

func BuyCommand(userID, playerID, amount int64, price string) syncq.Command {
	return tradeCommand("/api/transactions/buy", userID, playerID, amount, price)
}

func SellCommand(userID, playerID, amount int64, price string) syncq.Command {
	return tradeCommand("/api/transactions/sell", userID, playerID, amount, price)
}

func tradeCommand(path string, userID, playerID, amount int64, price string) syncq.Command {
	body := map[string]any{"userId": userID, "playerId": playerID, "amount": amount}
	if price != "" {
		body["price"] = price
	}
	return syncq.Command{Method: http.MethodPost, Path: path, Body: body}
}

func SwapCommand(userID, fromPlayerID, toPlayerID, amount int64) syncq.Command {
	return syncq.Command{Method: http.MethodPost, Path: "/api/transactions/swap", Body: map[string]any{
		"userId": userID, "fromPlayerId": fromPlayerID, "toPlayerId": toPlayerID, "amount": amount,
	}}
}

func StakeCommand(userID, playerID, amount, planID int64) syncq.Command {
	return syncq.Command{Method: http.MethodPost, Path: "/api/staking/stake", Body: map[string]any{
		"userId": userID, "playerId": playerID, "amount": amount, "planId": planID,
	}}
}

func UnstakeCommand(userID, playerID int64) syncq.Command {
	return syncq.Command{Method: http.MethodPost, Path: "/api/staking/unstake", Body: map[string]any{
		"userId": userID, "playerId": playerID,
	}}
}

// Send executes a queued command and decodes the response into out. Network
// failures are wrapped with syncq.ErrUnreachable.
func (c *Client) Send(ctx context.Context, cmd syncq.Command, out any) error {
	var body any
	if cmd.Body != nil {
		body = cmd.Body
	}
	return c.jsonRequest(ctx, cmd.Method, cmd.Path, body, out)
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	resp, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) send(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.Token})
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", syncq.ErrUnreachable, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
		msg = payload.Message
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
