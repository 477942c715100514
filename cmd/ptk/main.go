package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "playtokens/internal/cli"
	"playtokens/internal/config"
	"playtokens/internal/market"
	"playtokens/internal/syncq"

	"github.com/spf13/cobra"
)

// homeDir holds the session file and the offline queue.
var homeDir string

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL
	homeDir = cfg.HomeDir

	root := &cobra.Command{
		Use:          "ptk",
		Short:        "Player token marketplace client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	achievements := newAchievementsCmd(&apiBase)
	achievements.AddCommand(newAchievementsCheckCmd(&apiBase))

	root.AddCommand(
		newRegisterCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(&apiBase),
		newWhoamiCmd(&apiBase),
		newPlayersCmd(&apiBase),
		newTradeCmd(&apiBase, "buy"),
		newTradeCmd(&apiBase, "sell"),
		newSwapCmd(&apiBase),
		newStakeCmd(&apiBase),
		newUnstakeCmd(&apiBase),
		newPlansCmd(&apiBase),
		newPortfolioCmd(&apiBase),
		newHoldingsCmd(&apiBase),
		newHistoryCmd(&apiBase),
		achievements,
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func sessionFile() (*cl.SessionFile, error) {
	return cl.OpenSessionFile(homeDir)
}

// sessionClient loads the saved session and returns a client that sends it.
func sessionClient(apiBase *string) (*cl.Client, cl.Session, error) {
	client := newClient(apiBase)
	file, err := sessionFile()
	if err != nil {
		return nil, cl.Session{}, err
	}
	sess, err := file.Load(client.BaseURL)
	if err != nil {
		return nil, sess, err
	}
	client.Token = sess.Token
	return client, sess, nil
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func newRegisterCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authenticate(cmd, apiBase, true)
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authenticate(cmd, apiBase, false)
		},
	}
}

func authenticate(cmd *cobra.Command, apiBase *string, register bool) error {
	username, err := promptRequired("Username")
	if err != nil {
		return err
	}
	password, err := promptPassword("Password")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()
	client := newClient(apiBase)

	login := client.Login
	if register {
		login = client.Register
	}
	user, sess, err := login(ctx, username, password)
	if err != nil {
		return err
	}
	file, err := sessionFile()
	if err != nil {
		return err
	}
	if err := file.Save(sess); err != nil {
		return err
	}
	if register {
		printSuccess(fmt.Sprintf("Welcome, %s. Starting balance %s.", user.Username, formatMoney(user.Balance)))
	} else {
		printSuccess(fmt.Sprintf("Logged in as %s.", user.Username))
	}
	return nil
}

func newLogoutCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear it locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			if client, _, err := sessionClient(apiBase); err == nil {
				ctx, cancel := requestContext(cmd)
				defer cancel()
				if err := client.Logout(ctx); err != nil {
					printWarn(fmt.Sprintf("Server logout failed: %v", err))
				}
			}
			file, err := sessionFile()
			if err != nil {
				return err
			}
			if err := file.Clear(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newWhoamiCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := sessionClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			user, err := client.CurrentUser(ctx)
			if err != nil {
				return err
			}
			renderUser(user)
			return nil
		},
	}
}

func newPlayersCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "players [NBA|NFL|ID]",
		Short: "List players, filter by sport, or inspect one player",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			client := newClient(apiBase)

			sport := ""
			if len(args) == 1 {
				if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
					p, err := client.Player(ctx, id)
					if err != nil {
						return err
					}
					renderPlayer(p)
					return nil
				}
				s, err := market.ParseSport(args[0])
				if err != nil {
					return err
				}
				sport = string(s)
			}
			players, err := client.Players(ctx, sport)
			if err != nil {
				return err
			}
			renderPlayers(players)
			return nil
		},
	}
}

func newTradeCmd(apiBase *string, side string) *cobra.Command {
	var price string
	cmd := &cobra.Command{
		Use:   side + " [playerId] [amount]",
		Short: strings.ToUpper(side[:1]) + side[1:] + " player tokens",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := sessionClient(apiBase)
			if err != nil {
				return err
			}
			playerID, err := int64FromArgOrPrompt(args, 0, "Player ID")
			if err != nil {
				return err
			}
			amount, err := int64FromArgOrPrompt(args, 1, "Amount")
			if err != nil {
				return err
			}
			q := cl.BuyCommand(sess.UserID, playerID, amount, price)
			if side == "sell" {
				q = cl.SellCommand(sess.UserID, playerID, amount, price)
			}

			ctx, cancel := requestContext(cmd)
			defer cancel()
			var out market.TradeResult
			if err := client.Send(ctx, q, &out); err != nil {
				return queueOnNetworkError(err, q)
			}
			renderTrade(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&price, "price", "", "price per token (defaults to the current player price)")
	return cmd
}

func newSwapCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "swap [fromPlayerId] [toPlayerId] [amount]",
		Short: "Swap tokens of one player for another at current prices",
		Args:  cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := sessionClient(apiBase)
			if err != nil {
				return err
			}
			from, err := int64FromArgOrPrompt(args, 0, "From player ID")
			if err != nil {
				return err
			}
			to, err := int64FromArgOrPrompt(args, 1, "To player ID")
			if err != nil {
				return err
			}
			amount, err := int64FromArgOrPrompt(args, 2, "Amount")
			if err != nil {
				return err
			}
			q := cl.SwapCommand(sess.UserID, from, to, amount)

			ctx, cancel := requestContext(cmd)
			defer cancel()
			var out market.SwapResult
			if err := client.Send(ctx, q, &out); err != nil {
				return queueOnNetworkError(err, q)
			}
			renderSwap(out)
			return nil
		},
	}
}

func newStakeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stake [playerId] [amount] [planId]",
		Short: "Stake a holding under a staking plan",
		Args:  cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := sessionClient(apiBase)
			if err != nil {
				return err
			}
			playerID, err := int64FromArgOrPrompt(args, 0, "Player ID")
			if err != nil {
				return err
			}
			amount, err := int64FromArgOrPrompt(args, 1, "Amount")
			if err != nil {
				return err
			}
			planID, err := int64FromArgOrPrompt(args, 2, "Plan ID")
			if err != nil {
				return err
			}
			q := cl.StakeCommand(sess.UserID, playerID, amount, planID)

			ctx, cancel := requestContext(cmd)
			defer cancel()
			var out market.StakeResult
			if err := client.Send(ctx, q, &out); err != nil {
				return queueOnNetworkError(err, q)
			}
			renderStake(out)
			return nil
		},
	}
}

func newUnstakeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unstake [playerId]",
		Short: "Release a staked holding once its lock period is over",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := sessionClient(apiBase)
			if err != nil {
				return err
			}
			playerID, err := int64FromArgOrPrompt(args, 0, "Player ID")
			if err != nil {
				return err
			}
			q := cl.UnstakeCommand(sess.UserID, playerID)

			ctx, cancel := requestContext(cmd)
			defer cancel()
			var out market.UnstakeResult
			if err := client.Send(ctx, q, &out); err != nil {
				return queueOnNetworkError(err, q)
			}
			renderUnstake(out)
			return nil
		},
	}
}

func newPlansCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List staking plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			plans, err := newClient(apiBase).StakingPlans(ctx)
			if err != nil {
				return err
			}
			renderPlans(plans)
			return nil
		},
	}
}

func newPortfolioCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "portfolio",
		Short:   "Show portfolio value and breakdown",
		Aliases: []string{"dash"},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := sessionClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			p, err := client.Portfolio(ctx, sess.UserID)
			if err != nil {
				return err
			}
			renderPortfolio(sess.Username, p)
			return nil
		},
	}
}

func newHoldingsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "holdings",
		Short: "List your token holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := sessionClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			holdings, err := client.Holdings(ctx, sess.UserID)
			if err != nil {
				return err
			}
			renderHoldings(holdings)
			return nil
		},
	}
}

func newHistoryCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List your transactions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := sessionClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			txs, err := client.Transactions(ctx, sess.UserID)
			if err != nil {
				return err
			}
			renderTransactions(txs)
			return nil
		},
	}
}

func newAchievementsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "achievements",
		Short:   "Show achievement progress",
		Aliases: []string{"ach"},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := sessionClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			views, err := client.UserAchievements(ctx, sess.UserID)
			if err != nil {
				return err
			}
			renderAchievements(views)
			return nil
		},
	}
}

func newAchievementsCheckCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Recompute achievement progress and collect rewards",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := sessionClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			report, err := client.CheckAchievements(ctx, sess.UserID)
			if err != nil {
				return err
			}
			renderAchievements(report.Achievements)
			renderUnlocked(report.Unlocked)
			return nil
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay commands queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := sessionClient(apiBase)
			if err != nil {
				return err
			}
			queue, err := syncq.Open(homeDir)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			results, err := queue.Replay(ctx, func(ctx context.Context, q syncq.Command) error {
				return client.Send(ctx, q, nil)
			})
			if err != nil {
				return err
			}
			remaining, err := queue.Load()
			if err != nil {
				return err
			}
			if len(results) == 0 && len(remaining) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			replayed := 0
			for _, r := range results {
				if r.Err != nil {
					printError(fmt.Sprintf("Dropped %s %s: %v", r.Command.Method, r.Command.Path, r.Err))
					continue
				}
				replayed++
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d dropped=%d remaining=%d", replayed, len(results)-replayed, len(remaining)))
			return nil
		},
	}
}

// queueOnNetworkError keeps a mutation for `ptk sync` when the API could not
// be reached. API rejections are returned as-is.
func queueOnNetworkError(err error, q syncq.Command) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, syncq.ErrUnreachable) {
		return err
	}
	queue, qerr := syncq.Open(homeDir)
	if qerr != nil {
		return fmt.Errorf("%w (queueing failed: %v)", err, qerr)
	}
	if _, qerr := queue.Push(q); qerr != nil {
		return fmt.Errorf("%w (queueing failed: %v)", err, qerr)
	}
	printWarn("API unreachable. Command queued; run `ptk sync` later.")
	return nil
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}
