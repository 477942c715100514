package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type holdingKey struct {
	userID, playerID int64
}

type progressKey struct {
	userID, achievementID int64
}

type memState struct {
	users        map[int64]User
	usernames    map[string]int64
	players      map[int64]Player
	holdings     map[int64]TokenHolding
	holdingIdx   map[holdingKey]int64
	transactions []Transaction
	history      []PortfolioHistory
	plans        map[int64]StakingPlan
	achievements map[int64]Achievement
	progress     map[int64]UserAchievement
	progressIdx  map[progressKey]int64

	seqUser, seqPlayer, seqHolding, seqTx, seqHistory int64
	seqPlan, seqAchievement, seqProgress               int64
}

// Memory is the in-process Store. It is safe for concurrent use; WithinTx
// serializes writers and rolls back every write of a failed callback.
type Memory struct {
	mu sync.RWMutex
	st *memState
}

func NewMemory() *Memory {
	return &Memory{st: &memState{
		users:        make(map[int64]User),
		usernames:    make(map[string]int64),
		players:      make(map[int64]Player),
		holdings:     make(map[int64]TokenHolding),
		holdingIdx:   make(map[holdingKey]int64),
		plans:        make(map[int64]StakingPlan),
		achievements: make(map[int64]Achievement),
		progress:     make(map[int64]UserAchievement),
		progressIdx:  make(map[progressKey]int64),
	}}
}

func (m *Memory) WithinTx(ctx context.Context, fn func(Store) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{st: m.st, journal: true}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	return fn(tx)
}

func (m *Memory) read(fn func(*memTx)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(&memTx{st: m.st})
}

func (m *Memory) write(ctx context.Context, fn func(Store) error) error {
	return m.WithinTx(ctx, fn)
}

func (m *Memory) GetUser(ctx context.Context, id int64) (out User, err error) {
	m.read(func(tx *memTx) { out, err = tx.GetUser(ctx, id) })
	return
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (out User, err error) {
	m.read(func(tx *memTx) { out, err = tx.GetUserByUsername(ctx, username) })
	return
}

func (m *Memory) CreateUser(ctx context.Context, u User) (out User, err error) {
	err = m.write(ctx, func(s Store) error { out, err = s.CreateUser(ctx, u); return err })
	return
}

func (m *Memory) UpdateUser(ctx context.Context, id int64, p UserPatch) (out User, err error) {
	err = m.write(ctx, func(s Store) error { out, err = s.UpdateUser(ctx, id, p); return err })
	return
}

func (m *Memory) ListUsers(ctx context.Context) (out []User, err error) {
	m.read(func(tx *memTx) { out, err = tx.ListUsers(ctx) })
	return
}

func (m *Memory) ListPlayers(ctx context.Context, sport Sport) (out []Player, err error) {
	m.read(func(tx *memTx) { out, err = tx.ListPlayers(ctx, sport) })
	return
}

func (m *Memory) GetPlayer(ctx context.Context, id int64) (out Player, err error) {
	m.read(func(tx *memTx) { out, err = tx.GetPlayer(ctx, id) })
	return
}

func (m *Memory) CreatePlayer(ctx context.Context, p Player) (out Player, err error) {
	err = m.write(ctx, func(s Store) error { out, err = s.CreatePlayer(ctx, p); return err })
	return
}

func (m *Memory) UpdatePlayer(ctx context.Context, id int64, p PlayerPatch) (out Player, err error) {
	err = m.write(ctx, func(s Store) error { out, err = s.UpdatePlayer(ctx, id, p); return err })
	return
}

func (m *Memory) GetHolding(ctx context.Context, userID, playerID int64) (out TokenHolding, err error) {
	m.read(func(tx *memTx) { out, err = tx.GetHolding(ctx, userID, playerID) })
	return
}

func (m *Memory) ListHoldings(ctx context.Context, userID int64) (out []TokenHolding, err error) {
	m.read(func(tx *memTx) { out, err = tx.ListHoldings(ctx, userID) })
	return
}

func (m *Memory) CreateHolding(ctx context.Context, h TokenHolding) (out TokenHolding, err error) {
	err = m.write(ctx, func(s Store) error { out, err = s.CreateHolding(ctx, h); return err })
	return
}

func (m *Memory) UpdateHolding(ctx context.Context, id int64, p HoldingPatch) (out TokenHolding, err error) {
	err = m.write(ctx, func(s Store) error { out, err = s.UpdateHolding(ctx, id, p); return err })
	return
}

func (m *Memory) CreateTransaction(ctx context.Context, t Transaction) (out Transaction, err error) {
	err = m.write(ctx, func(s Store) error { out, err = s.CreateTransaction(ctx, t); return err })
	return
}

func (m *Memory) ListTransactions(ctx context.Context, userID int64) (out []Transaction, err error) {
	m.read(func(tx *memTx) { out, err = tx.ListTransactions(ctx, userID) })
	return
}

func (m *Memory) CreatePortfolioSnapshot(ctx context.Context, h PortfolioHistory) (out PortfolioHistory, err error) {
	err = m.write(ctx, func(s Store) error { out, err = s.CreatePortfolioSnapshot(ctx, h); return err })
	return
}

func (m *Memory) ListPortfolioHistory(ctx context.Context, userID int64) (out []PortfolioHistory, err error) {
	m.read(func(tx *memTx) { out, err = tx.ListPortfolioHistory(ctx, userID) })
	return
}

func (m *Memory) ListStakingPlans(ctx context.Context) (out []StakingPlan, err error) {
	m.read(func(tx *memTx) { out, err = tx.ListStakingPlans(ctx) })
	return
}

func (m *Memory) GetStakingPlan(ctx context.Context, id int64) (out StakingPlan, err error) {
	m.read(func(tx *memTx) { out, err = tx.GetStakingPlan(ctx, id) })
	return
}

func (m *Memory) CreateStakingPlan(ctx context.Context, p StakingPlan) (out StakingPlan, err error) {
	err = m.write(ctx, func(s Store) error { out, err = s.CreateStakingPlan(ctx, p); return err })
	return
}

func (m *Memory) ListAchievements(ctx context.Context) (out []Achievement, err error) {
	m.read(func(tx *memTx) { out, err = tx.ListAchievements(ctx) })
	return
}

func (m *Memory) GetAchievement(ctx context.Context, id int64) (out Achievement, err error) {
	m.read(func(tx *memTx) { out, err = tx.GetAchievement(ctx, id) })
	return
}

func (m *Memory) CreateAchievement(ctx context.Context, a Achievement) (out Achievement, err error) {
	err = m.write(ctx, func(s Store) error { out, err = s.CreateAchievement(ctx, a); return err })
	return
}

func (m *Memory) GetUserAchievement(ctx context.Context, userID, achievementID int64) (out UserAchievement, err error) {
	m.read(func(tx *memTx) { out, err = tx.GetUserAchievement(ctx, userID, achievementID) })
	return
}

func (m *Memory) ListUserAchievements(ctx context.Context, userID int64) (out []UserAchievement, err error) {
	m.read(func(tx *memTx) { out, err = tx.ListUserAchievements(ctx, userID) })
	return
}

func (m *Memory) CreateUserAchievement(ctx context.Context, ua UserAchievement) (out UserAchievement, err error) {
	err = m.write(ctx, func(s Store) error { out, err = s.CreateUserAchievement(ctx, ua); return err })
	return
}

func (m *Memory) UpdateUserAchievement(ctx context.Context, id int64, p UserAchievementPatch) (out UserAchievement, err error) {
	err = m.write(ctx, func(s Store) error { out, err = s.UpdateUserAchievement(ctx, id, p); return err })
	return
}

// memTx operates on memState directly; the caller holds Memory.mu. With
// journal set, every write pushes its inverse onto undo.
type memTx struct {
	st      *memState
	journal bool
	undo    []func()
}

func (tx *memTx) record(fn func()) {
	if tx.journal {
		tx.undo = append(tx.undo, fn)
	}
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) WithinTx(ctx context.Context, fn func(Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(tx)
}

func (tx *memTx) GetUser(_ context.Context, id int64) (User, error) {
	u, ok := tx.st.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return u, nil
}

func (tx *memTx) GetUserByUsername(ctx context.Context, username string) (User, error) {
	id, ok := tx.st.usernames[usernameKey(username)]
	if !ok {
		return User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return tx.GetUser(ctx, id)
}

func (tx *memTx) CreateUser(_ context.Context, u User) (User, error) {
	key := usernameKey(u.Username)
	if _, taken := tx.st.usernames[key]; taken {
		return User{}, fmt.Errorf("username %q: %w", u.Username, ErrConflict)
	}
	tx.st.seqUser++
	u.ID = tx.st.seqUser
	u.CreatedAt = orNow(u.CreatedAt)
	tx.st.users[u.ID] = u
	tx.st.usernames[key] = u.ID
	tx.record(func() {
		delete(tx.st.users, u.ID)
		delete(tx.st.usernames, key)
		tx.st.seqUser--
	})
	return u, nil
}

func (tx *memTx) UpdateUser(_ context.Context, id int64, p UserPatch) (User, error) {
	prev, ok := tx.st.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	next := prev
	next.apply(p)
	tx.st.users[id] = next
	tx.record(func() { tx.st.users[id] = prev })
	return next, nil
}

func (tx *memTx) ListUsers(_ context.Context) ([]User, error) {
	out := make([]User, 0, len(tx.st.users))
	for _, u := range tx.st.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) ListPlayers(_ context.Context, sport Sport) ([]Player, error) {
	out := make([]Player, 0, len(tx.st.players))
	for _, p := range tx.st.players {
		if sport != "" && p.Sport != sport {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) GetPlayer(_ context.Context, id int64) (Player, error) {
	p, ok := tx.st.players[id]
	if !ok {
		return Player{}, fmt.Errorf("player %d: %w", id, ErrNotFound)
	}
	return p, nil
}

func (tx *memTx) CreatePlayer(_ context.Context, p Player) (Player, error) {
	tx.st.seqPlayer++
	p.ID = tx.st.seqPlayer
	tx.st.players[p.ID] = p
	tx.record(func() {
		delete(tx.st.players, p.ID)
		tx.st.seqPlayer--
	})
	return p, nil
}

func (tx *memTx) UpdatePlayer(_ context.Context, id int64, p PlayerPatch) (Player, error) {
	prev, ok := tx.st.players[id]
	if !ok {
		return Player{}, fmt.Errorf("player %d: %w", id, ErrNotFound)
	}
	next := prev
	next.apply(p)
	tx.st.players[id] = next
	tx.record(func() { tx.st.players[id] = prev })
	return next, nil
}

func (tx *memTx) GetHolding(_ context.Context, userID, playerID int64) (TokenHolding, error) {
	id, ok := tx.st.holdingIdx[holdingKey{userID, playerID}]
	if !ok {
		return TokenHolding{}, fmt.Errorf("holding user=%d player=%d: %w", userID, playerID, ErrNotFound)
	}
	return tx.st.holdings[id].clone(), nil
}

func (tx *memTx) ListHoldings(_ context.Context, userID int64) ([]TokenHolding, error) {
	out := make([]TokenHolding, 0)
	for _, h := range tx.st.holdings {
		if h.UserID == userID {
			out = append(out, h.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) CreateHolding(_ context.Context, h TokenHolding) (TokenHolding, error) {
	key := holdingKey{h.UserID, h.PlayerID}
	if _, exists := tx.st.holdingIdx[key]; exists {
		return TokenHolding{}, fmt.Errorf("holding user=%d player=%d: %w", h.UserID, h.PlayerID, ErrConflict)
	}
	tx.st.seqHolding++
	h.ID = tx.st.seqHolding
	h.CreatedAt = orNow(h.CreatedAt)
	tx.st.holdings[h.ID] = h.clone()
	tx.st.holdingIdx[key] = h.ID
	tx.record(func() {
		delete(tx.st.holdings, h.ID)
		delete(tx.st.holdingIdx, key)
		tx.st.seqHolding--
	})
	return h.clone(), nil
}

func (tx *memTx) UpdateHolding(_ context.Context, id int64, p HoldingPatch) (TokenHolding, error) {
	prev, ok := tx.st.holdings[id]
	if !ok {
		return TokenHolding{}, fmt.Errorf("holding %d: %w", id, ErrNotFound)
	}
	next := prev
	next.apply(p)
	tx.st.holdings[id] = next
	tx.record(func() { tx.st.holdings[id] = prev })
	return next.clone(), nil
}

func (tx *memTx) CreateTransaction(_ context.Context, t Transaction) (Transaction, error) {
	tx.st.seqTx++
	t.ID = tx.st.seqTx
	t.Timestamp = orNow(t.Timestamp)
	n := len(tx.st.transactions)
	tx.st.transactions = append(tx.st.transactions, t.clone())
	tx.record(func() {
		tx.st.transactions = tx.st.transactions[:n]
		tx.st.seqTx--
	})
	return t.clone(), nil
}

func (tx *memTx) ListTransactions(_ context.Context, userID int64) ([]Transaction, error) {
	out := make([]Transaction, 0)
	for _, t := range tx.st.transactions {
		if t.UserID == userID {
			out = append(out, t.clone())
		}
	}
	return out, nil
}

func (tx *memTx) CreatePortfolioSnapshot(_ context.Context, h PortfolioHistory) (PortfolioHistory, error) {
	tx.st.seqHistory++
	h.ID = tx.st.seqHistory
	h.Timestamp = orNow(h.Timestamp)
	n := len(tx.st.history)
	tx.st.history = append(tx.st.history, h)
	tx.record(func() {
		tx.st.history = tx.st.history[:n]
		tx.st.seqHistory--
	})
	return h, nil
}

func (tx *memTx) ListPortfolioHistory(_ context.Context, userID int64) ([]PortfolioHistory, error) {
	out := make([]PortfolioHistory, 0)
	for _, h := range tx.st.history {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (tx *memTx) ListStakingPlans(_ context.Context) ([]StakingPlan, error) {
	out := make([]StakingPlan, 0, len(tx.st.plans))
	for _, p := range tx.st.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) GetStakingPlan(_ context.Context, id int64) (StakingPlan, error) {
	p, ok := tx.st.plans[id]
	if !ok {
		return StakingPlan{}, fmt.Errorf("staking plan %d: %w", id, ErrNotFound)
	}
	return p, nil
}

func (tx *memTx) CreateStakingPlan(_ context.Context, p StakingPlan) (StakingPlan, error) {
	tx.st.seqPlan++
	p.ID = tx.st.seqPlan
	tx.st.plans[p.ID] = p
	tx.record(func() {
		delete(tx.st.plans, p.ID)
		tx.st.seqPlan--
	})
	return p, nil
}

func (tx *memTx) ListAchievements(_ context.Context) ([]Achievement, error) {
	out := make([]Achievement, 0, len(tx.st.achievements))
	for _, a := range tx.st.achievements {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) GetAchievement(_ context.Context, id int64) (Achievement, error) {
	a, ok := tx.st.achievements[id]
	if !ok {
		return Achievement{}, fmt.Errorf("achievement %d: %w", id, ErrNotFound)
	}
	return a, nil
}

func (tx *memTx) CreateAchievement(_ context.Context, a Achievement) (Achievement, error) {
	tx.st.seqAchievement++
	a.ID = tx.st.seqAchievement
	tx.st.achievements[a.ID] = a
	tx.record(func() {
		delete(tx.st.achievements, a.ID)
		tx.st.seqAchievement--
	})
	return a, nil
}

func (tx *memTx) GetUserAchievement(_ context.Context, userID, achievementID int64) (UserAchievement, error) {
	id, ok := tx.st.progressIdx[progressKey{userID, achievementID}]
	if !ok {
		return UserAchievement{}, fmt.Errorf("user achievement user=%d achievement=%d: %w", userID, achievementID, ErrNotFound)
	}
	return tx.st.progress[id].clone(), nil
}

func (tx *memTx) ListUserAchievements(_ context.Context, userID int64) ([]UserAchievement, error) {
	out := make([]UserAchievement, 0)
	for _, ua := range tx.st.progress {
		if ua.UserID == userID {
			out = append(out, ua.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
	return out, nil
}

func (tx *memTx) CreateUserAchievement(_ context.Context, ua UserAchievement) (UserAchievement, error) {
	key := progressKey{ua.UserID, ua.AchievementID}
	if _, exists := tx.st.progressIdx[key]; exists {
		return UserAchievement{}, fmt.Errorf("user achievement user=%d achievement=%d: %w", ua.UserID, ua.AchievementID, ErrConflict)
	}
	tx.st.seqProgress++
	ua.ID = tx.st.seqProgress
	tx.st.progress[ua.ID] = ua.clone()
	tx.st.progressIdx[key] = ua.ID
	tx.record(func() {
		delete(tx.st.progress, ua.ID)
		delete(tx.st.progressIdx, key)
		tx.st.seqProgress--
	})
	return ua.clone(), nil
}

func (tx *memTx) UpdateUserAchievement(_ context.Context, id int64, p UserAchievementPatch) (UserAchievement, error) {
	prev, ok := tx.st.progress[id]
	if !ok {
		return UserAchievement{}, fmt.Errorf("user achievement %d: %w", id, ErrNotFound)
	}
	next := prev
	next.apply(p)
	tx.st.progress[id] = next
	tx.record(func() { tx.st.progress[id] = prev })
	return next.clone(), nil
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
