package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies the embedded schema migrations and returns how many ran.
func Migrate(pool *pgxpool.Pool) (int, error) {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	migrate.SetTable("playtokens_migrations")
	src := &migrate.EmbedFileSystemMigrationSource{FileSystem: migrationFS, Root: "migrations"}
	n, err := migrate.Exec(db, "postgres", src, migrate.Up)
	if err != nil {
		return n, fmt.Errorf("apply migrations: %w", err)
	}
	return n, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Postgres is the durable Store. Reads go straight to the pool; updates and
// WithinTx callbacks run in serializable transactions that are retried on
// serialization failures.
type Postgres struct {
	pgConn
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	p := &Postgres{pool: pool}
	p.pgConn = pgConn{q: pool, tx: p.WithinTx}
	return p
}

const (
	txMaxAttempts     = 8
	txInitialBackoff  = 50 * time.Millisecond
	txMaxRetryBackoff = 1200 * time.Millisecond
)

func (p *Postgres) WithinTx(ctx context.Context, fn func(Store) error) error {
	delay := txInitialBackoff
	for attempt := 0; attempt < txMaxAttempts; attempt++ {
		err := p.runTx(ctx, fn)
		if err == nil || !isSerializationError(err) {
			return err
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
		if delay < txMaxRetryBackoff {
			delay *= 2
		}
	}
	return ErrTxConflict
}

func (p *Postgres) runTx(ctx context.Context, fn func(Store) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	view := &pgConn{q: tx}
	view.tx = func(ctx context.Context, fn func(Store) error) error { return fn(view) }
	if err := fn(view); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ErrTxConflict is returned when a transaction keeps failing serialization.
var ErrTxConflict = errors.New("transaction conflict, retry later")

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return err
}

func conflict(err error, format string, args ...any) error {
	if isUniqueViolation(err) {
		return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
	}
	return err
}

// pgConn runs queries against either the pool or an open transaction.
type pgConn struct {
	q  querier
	tx func(ctx context.Context, fn func(Store) error) error
}

func (c *pgConn) WithinTx(ctx context.Context, fn func(Store) error) error {
	return c.tx(ctx, fn)
}

const userCols = `id, username, password_hash, balance::text, created_at`

func scanUser(r rowScanner) (User, error) {
	var u User
	err := r.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Balance, &u.CreatedAt)
	return u, err
}

func (c *pgConn) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(c.q.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if err != nil {
		return User{}, notFound(err, "user %d", id)
	}
	return u, nil
}

func (c *pgConn) GetUserByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(c.q.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE lower(username) = lower($1)`, username))
	if err != nil {
		return User{}, notFound(err, "user %q", username)
	}
	return u, nil
}

func (c *pgConn) CreateUser(ctx context.Context, u User) (User, error) {
	out, err := scanUser(c.q.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, balance, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userCols, u.Username, u.PasswordHash, u.Balance, orNow(u.CreatedAt)))
	if err != nil {
		return User{}, conflict(err, "username %q", u.Username)
	}
	return out, nil
}

func (c *pgConn) UpdateUser(ctx context.Context, id int64, p UserPatch) (out User, err error) {
	err = c.WithinTx(ctx, func(s Store) error {
		conn := s.(*pgConn)
		u, err := scanUser(conn.q.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err, "user %d", id)
		}
		u.apply(p)
		if _, err := conn.q.Exec(ctx, `UPDATE users SET balance = $1 WHERE id = $2`, u.Balance, id); err != nil {
			return err
		}
		out = u
		return nil
	})
	return out, err
}

func (c *pgConn) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := c.q.Query(ctx, `SELECT `+userCols+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

const playerCols = `id, name, team, position, sport, token_price::text, price_change_24h::text, total_supply, available_supply, image_url`

func scanPlayer(r rowScanner) (Player, error) {
	var p Player
	err := r.Scan(&p.ID, &p.Name, &p.Team, &p.Position, &p.Sport, &p.TokenPrice, &p.PriceChange24h, &p.TotalSupply, &p.AvailableSupply, &p.ImageURL)
	return p, err
}

func (c *pgConn) ListPlayers(ctx context.Context, sport Sport) ([]Player, error) {
	query := `SELECT ` + playerCols + ` FROM players`
	args := []any{}
	if sport != "" {
		query += ` WHERE sport = $1`
		args = append(args, string(sport))
	}
	query += ` ORDER BY id`
	rows, err := c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Player, 0)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *pgConn) GetPlayer(ctx context.Context, id int64) (Player, error) {
	p, err := scanPlayer(c.q.QueryRow(ctx, `SELECT `+playerCols+` FROM players WHERE id = $1`, id))
	if err != nil {
		return Player{}, notFound(err, "player %d", id)
	}
	return p, nil
}

func (c *pgConn) CreatePlayer(ctx context.Context, p Player) (Player, error) {
	return scanPlayer(c.q.QueryRow(ctx, `
		INSERT INTO players (name, team, position, sport, token_price, price_change_24h, total_supply, available_supply, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+playerCols,
		p.Name, p.Team, p.Position, string(p.Sport), p.TokenPrice, p.PriceChange24h, p.TotalSupply, p.AvailableSupply, p.ImageURL))
}

func (c *pgConn) UpdatePlayer(ctx context.Context, id int64, p PlayerPatch) (out Player, err error) {
	err = c.WithinTx(ctx, func(s Store) error {
		conn := s.(*pgConn)
		pl, err := scanPlayer(conn.q.QueryRow(ctx, `SELECT `+playerCols+` FROM players WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err, "player %d", id)
		}
		pl.apply(p)
		if _, err := conn.q.Exec(ctx, `
			UPDATE players SET token_price = $1, price_change_24h = $2, available_supply = $3
			WHERE id = $4
		`, pl.TokenPrice, pl.PriceChange24h, pl.AvailableSupply, id); err != nil {
			return err
		}
		out = pl
		return nil
	})
	return out, err
}

const holdingCols = `id, user_id, player_id, amount, purchase_price::text, is_staked, staking_plan, staking_start, staking_end, created_at`

func scanHolding(r rowScanner) (TokenHolding, error) {
	var h TokenHolding
	err := r.Scan(&h.ID, &h.UserID, &h.PlayerID, &h.Amount, &h.PurchasePrice, &h.IsStaked, &h.StakingPlan, &h.StakingStart, &h.StakingEnd, &h.CreatedAt)
	return h, err
}

func (c *pgConn) GetHolding(ctx context.Context, userID, playerID int64) (TokenHolding, error) {
	h, err := scanHolding(c.q.QueryRow(ctx, `SELECT `+holdingCols+` FROM token_holdings WHERE user_id = $1 AND player_id = $2`, userID, playerID))
	if err != nil {
		return TokenHolding{}, notFound(err, "holding user=%d player=%d", userID, playerID)
	}
	return h, nil
}

func (c *pgConn) ListHoldings(ctx context.Context, userID int64) ([]TokenHolding, error) {
	rows, err := c.q.Query(ctx, `SELECT `+holdingCols+` FROM token_holdings WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]TokenHolding, 0)
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (c *pgConn) CreateHolding(ctx context.Context, h TokenHolding) (TokenHolding, error) {
	out, err := scanHolding(c.q.QueryRow(ctx, `
		INSERT INTO token_holdings (user_id, player_id, amount, purchase_price, is_staked, staking_plan, staking_start, staking_end, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+holdingCols,
		h.UserID, h.PlayerID, h.Amount, h.PurchasePrice, h.IsStaked, h.StakingPlan, h.StakingStart, h.StakingEnd, orNow(h.CreatedAt)))
	if err != nil {
		return TokenHolding{}, conflict(err, "holding user=%d player=%d", h.UserID, h.PlayerID)
	}
	return out, nil
}

func (c *pgConn) UpdateHolding(ctx context.Context, id int64, p HoldingPatch) (out TokenHolding, err error) {
	err = c.WithinTx(ctx, func(s Store) error {
		conn := s.(*pgConn)
		h, err := scanHolding(conn.q.QueryRow(ctx, `SELECT `+holdingCols+` FROM token_holdings WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err, "holding %d", id)
		}
		h.apply(p)
		if _, err := conn.q.Exec(ctx, `
			UPDATE token_holdings
			SET amount = $1, purchase_price = $2, is_staked = $3, staking_plan = $4, staking_start = $5, staking_end = $6
			WHERE id = $7
		`, h.Amount, h.PurchasePrice, h.IsStaked, h.StakingPlan, h.StakingStart, h.StakingEnd, id); err != nil {
			return err
		}
		out = h
		return nil
	})
	return out, err
}

const txCols = `id, user_id, player_id, type, amount, price::text, from_player_id, timestamp`

func scanTransaction(r rowScanner) (Transaction, error) {
	var t Transaction
	err := r.Scan(&t.ID, &t.UserID, &t.PlayerID, &t.Type, &t.Amount, &t.Price, &t.FromPlayerID, &t.Timestamp)
	return t, err
}

func (c *pgConn) CreateTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	return scanTransaction(c.q.QueryRow(ctx, `
		INSERT INTO transactions (user_id, player_id, type, amount, price, from_player_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+txCols,
		t.UserID, t.PlayerID, string(t.Type), t.Amount, t.Price, t.FromPlayerID, orNow(t.Timestamp)))
}

func (c *pgConn) ListTransactions(ctx context.Context, userID int64) ([]Transaction, error) {
	rows, err := c.q.Query(ctx, `SELECT `+txCols+` FROM transactions WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const historyCols = `id, user_id, total_value::text, timestamp`

func scanHistory(r rowScanner) (PortfolioHistory, error) {
	var h PortfolioHistory
	err := r.Scan(&h.ID, &h.UserID, &h.TotalValue, &h.Timestamp)
	return h, err
}

func (c *pgConn) CreatePortfolioSnapshot(ctx context.Context, h PortfolioHistory) (PortfolioHistory, error) {
	return scanHistory(c.q.QueryRow(ctx, `
		INSERT INTO portfolio_history (user_id, total_value, timestamp)
		VALUES ($1, $2, $3)
		RETURNING `+historyCols, h.UserID, h.TotalValue, orNow(h.Timestamp)))
}

func (c *pgConn) ListPortfolioHistory(ctx context.Context, userID int64) ([]PortfolioHistory, error) {
	rows, err := c.q.Query(ctx, `SELECT `+historyCols+` FROM portfolio_history WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]PortfolioHistory, 0)
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

const planCols = `id, name, apy::text, lock_period_days, min_tokens`

func scanPlan(r rowScanner) (StakingPlan, error) {
	var p StakingPlan
	err := r.Scan(&p.ID, &p.Name, &p.APY, &p.LockPeriodDays, &p.MinTokens)
	return p, err
}

func (c *pgConn) ListStakingPlans(ctx context.Context) ([]StakingPlan, error) {
	rows, err := c.q.Query(ctx, `SELECT `+planCols+` FROM staking_plans ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]StakingPlan, 0)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *pgConn) GetStakingPlan(ctx context.Context, id int64) (StakingPlan, error) {
	p, err := scanPlan(c.q.QueryRow(ctx, `SELECT `+planCols+` FROM staking_plans WHERE id = $1`, id))
	if err != nil {
		return StakingPlan{}, notFound(err, "staking plan %d", id)
	}
	return p, nil
}

func (c *pgConn) CreateStakingPlan(ctx context.Context, p StakingPlan) (StakingPlan, error) {
	return scanPlan(c.q.QueryRow(ctx, `
		INSERT INTO staking_plans (name, apy, lock_period_days, min_tokens)
		VALUES ($1, $2, $3, $4)
		RETURNING `+planCols, p.Name, p.APY, p.LockPeriodDays, p.MinTokens))
}

const achievementCols = `id, name, description, icon, requirement, requirement_value, reward_amount::text`

func scanAchievement(r rowScanner) (Achievement, error) {
	var a Achievement
	err := r.Scan(&a.ID, &a.Name, &a.Description, &a.Icon, &a.Requirement, &a.RequirementValue, &a.RewardAmount)
	return a, err
}

func (c *pgConn) ListAchievements(ctx context.Context) ([]Achievement, error) {
	rows, err := c.q.Query(ctx, `SELECT `+achievementCols+` FROM achievements ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Achievement, 0)
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (c *pgConn) GetAchievement(ctx context.Context, id int64) (Achievement, error) {
	a, err := scanAchievement(c.q.QueryRow(ctx, `SELECT `+achievementCols+` FROM achievements WHERE id = $1`, id))
	if err != nil {
		return Achievement{}, notFound(err, "achievement %d", id)
	}
	return a, nil
}

func (c *pgConn) CreateAchievement(ctx context.Context, a Achievement) (Achievement, error) {
	return scanAchievement(c.q.QueryRow(ctx, `
		INSERT INTO achievements (name, description, icon, requirement, requirement_value, reward_amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+achievementCols, a.Name, a.Description, a.Icon, a.Requirement, a.RequirementValue, a.RewardAmount))
}

const progressCols = `id, user_id, achievement_id, progress, completed, completed_at`

func scanProgress(r rowScanner) (UserAchievement, error) {
	var ua UserAchievement
	err := r.Scan(&ua.ID, &ua.UserID, &ua.AchievementID, &ua.Progress, &ua.Completed, &ua.CompletedAt)
	return ua, err
}

func (c *pgConn) GetUserAchievement(ctx context.Context, userID, achievementID int64) (UserAchievement, error) {
	ua, err := scanProgress(c.q.QueryRow(ctx, `
		SELECT `+progressCols+` FROM user_achievements WHERE user_id = $1 AND achievement_id = $2
	`, userID, achievementID))
	if err != nil {
		return UserAchievement{}, notFound(err, "user achievement user=%d achievement=%d", userID, achievementID)
	}
	return ua, nil
}

func (c *pgConn) ListUserAchievements(ctx context.Context, userID int64) ([]UserAchievement, error) {
	rows, err := c.q.Query(ctx, `SELECT `+progressCols+` FROM user_achievements WHERE user_id = $1 ORDER BY achievement_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]UserAchievement, 0)
	for rows.Next() {
		ua, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ua)
	}
	return out, rows.Err()
}

func (c *pgConn) CreateUserAchievement(ctx context.Context, ua UserAchievement) (UserAchievement, error) {
	out, err := scanProgress(c.q.QueryRow(ctx, `
		INSERT INTO user_achievements (user_id, achievement_id, progress, completed, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+progressCols, ua.UserID, ua.AchievementID, ua.Progress, ua.Completed, ua.CompletedAt))
	if err != nil {
		return UserAchievement{}, conflict(err, "user achievement user=%d achievement=%d", ua.UserID, ua.AchievementID)
	}
	return out, nil
}

func (c *pgConn) UpdateUserAchievement(ctx context.Context, id int64, p UserAchievementPatch) (out UserAchievement, err error) {
	err = c.WithinTx(ctx, func(s Store) error {
		conn := s.(*pgConn)
		ua, err := scanProgress(conn.q.QueryRow(ctx, `SELECT `+progressCols+` FROM user_achievements WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err, "user achievement %d", id)
		}
		ua.apply(p)
		if _, err := conn.q.Exec(ctx, `
			UPDATE user_achievements SET progress = $1, completed = $2, completed_at = $3 WHERE id = $4
		`, ua.Progress, ua.Completed, ua.CompletedAt, id); err != nil {
			return err
		}
		out = ua
		return nil
	})
	return out, err
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)
