package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"playtokens/internal/market"
	"playtokens/internal/store"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

var (
	cardDone = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("42")).
			Padding(0, 1).
			Width(34)
	cardOpen = cardDone.BorderForeground(lipgloss.Color("240"))
	cardHead = lipgloss.NewStyle().Bold(true)
	cardDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptPassword reads without echo on a terminal and falls back to a plain
// line read when stdin is piped.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func renderUser(u store.User) {
	accent.Printf("\n== %s ==\n", u.Username)
	fmt.Printf("User ID:  %d\n", u.ID)
	fmt.Printf("Balance:  %s\n", formatMoney(u.Balance))
	fmt.Printf("Joined:   %s\n\n", u.CreatedAt.Local().Format(time.RFC822))
}

func renderPlayers(players []store.Player) {
	accent.Println("\n== PLAYERS ==")
	if len(players) == 0 {
		printInfo("No players found.")
		return
	}
	fmt.Printf("%-4s %-24s %-5s %-4s %-24s %10s %9s\n", "ID", "NAME", "SPORT", "POS", "TEAM", "PRICE", "24H")
	for _, p := range players {
		fmt.Printf("%-4d %-24s %-5s %-4s %-24s %10s %9s\n",
			p.ID,
			truncate(p.Name, 24),
			p.Sport,
			p.Position,
			truncate(p.Team, 24),
			formatMoney(p.TokenPrice),
			colorizePercent(p.PriceChange24h),
		)
	}
	fmt.Println()
}

func renderPlayer(p store.Player) {
	accent.Printf("\n== %s (%s) ==\n", p.Name, p.Sport)
	fmt.Printf("Team:      %s\n", p.Team)
	fmt.Printf("Position:  %s\n", p.Position)
	fmt.Printf("Price:     %s (%s)\n", formatMoney(p.TokenPrice), colorizePercent(p.PriceChange24h))
	fmt.Printf("Supply:    %s / %s available\n\n", comma(p.AvailableSupply), comma(p.TotalSupply))
}

func renderTrade(out market.TradeResult) {
	t := out.Transaction
	verb := "Bought"
	if t.Type == store.TxSell {
		verb = "Sold"
	}
	printSuccess(fmt.Sprintf("%s %s tokens of player %d at %s (total %s).",
		verb, comma(t.Amount), t.PlayerID, formatMoney(t.Price), formatMoney(market.Notional(t.Amount, t.Price))))
	fmt.Printf("Holding now: %s tokens\n", comma(out.Holding.Amount))
}

func renderSwap(out market.SwapResult) {
	from := int64(0)
	if out.Transaction.FromPlayerID != nil {
		from = *out.Transaction.FromPlayerID
	}
	printSuccess(fmt.Sprintf("Swapped into %s tokens of player %d.", comma(out.Transaction.Amount), out.Transaction.PlayerID))
	fmt.Printf("Player %d holding: %s tokens\n", from, comma(out.Source.Amount))
	fmt.Printf("Player %d holding: %s tokens\n", out.Holding.PlayerID, comma(out.Holding.Amount))
}

func renderStake(out market.StakeResult) {
	end := "-"
	if out.Holding.StakingEnd != nil {
		end = out.Holding.StakingEnd.Local().Format(time.RFC822)
	}
	printSuccess(fmt.Sprintf("Staked player %d under %s (%s%% APY).", out.Holding.PlayerID, out.Plan.Name, out.Plan.APY.StringFixed(2)))
	fmt.Printf("Locked until: %s\n", end)
}

func renderUnstake(out market.UnstakeResult) {
	printSuccess(fmt.Sprintf("Unstaked player %d.", out.Holding.PlayerID))
	fmt.Printf("Estimated yield over the lock period: %s\n", formatMoney(out.EstimatedYield))
}

func renderPlans(plans []store.StakingPlan) {
	accent.Println("\n== STAKING PLANS ==")
	if len(plans) == 0 {
		printInfo("No staking plans.")
		return
	}
	fmt.Printf("%-4s %-12s %8s %10s %10s\n", "ID", "NAME", "APY", "LOCK", "MIN")
	for _, p := range plans {
		fmt.Printf("%-4d %-12s %7s%% %8dd %10s\n", p.ID, truncate(p.Name, 12), p.APY.StringFixed(2), p.LockPeriodDays, comma(p.MinTokens))
	}
	fmt.Println()
}

func renderPortfolio(username string, p market.Portfolio) {
	accent.Printf("\n== %s PORTFOLIO ==\n", strings.ToUpper(username))
	fmt.Printf("Balance:      %s\n", formatMoney(p.Balance))
	fmt.Printf("Token value:  %s\n", formatMoney(p.TotalValue))
	fmt.Printf("Tokens:       %s (NBA %s, NFL %s, staked %s)\n",
		comma(p.TotalTokens), comma(p.NBATokens), comma(p.NFLTokens), comma(p.StakedTokens))
	if n := len(p.History); n > 1 {
		first, last := p.History[0].TotalValue, p.History[n-1].TotalValue
		fmt.Printf("Since first snapshot: %s\n", colorizeMoney(last.Sub(first)))
	}
	renderHoldings(p.Holdings)
}

func renderHoldings(holdings []market.HoldingView) {
	accent.Println("\n== HOLDINGS ==")
	if len(holdings) == 0 {
		printInfo("No holdings yet.")
		return
	}
	fmt.Printf("%-24s %-5s %10s %10s %12s %-8s\n", "PLAYER", "SPORT", "AMOUNT", "PRICE", "VALUE", "STAKED")
	for _, h := range holdings {
		staked := "no"
		if h.IsStaked {
			staked = warn.Sprint("locked")
			if h.StakingEnd != nil && !time.Now().Before(*h.StakingEnd) {
				staked = success.Sprint("matured")
			}
		}
		fmt.Printf("%-24s %-5s %10s %10s %12s %-8s\n",
			truncate(h.Player.Name, 24),
			h.Player.Sport,
			comma(h.Amount),
			formatMoney(h.Player.TokenPrice),
			formatMoney(h.Value),
			staked,
		)
	}
	fmt.Println()
}

func renderTransactions(txs []store.Transaction) {
	accent.Println("\n== TRANSACTIONS ==")
	if len(txs) == 0 {
		printInfo("No transactions yet.")
		return
	}
	fmt.Printf("%-17s %-8s %-7s %10s %10s\n", "TIME", "TYPE", "PLAYER", "AMOUNT", "PRICE")
	for _, t := range txs {
		fmt.Printf("%-17s %-8s %-7d %10s %10s\n",
			t.Timestamp.Local().Format("2006-01-02 15:04"),
			t.Type,
			t.PlayerID,
			comma(t.Amount),
			formatMoney(t.Price),
		)
	}
	fmt.Println()
}

func renderAchievements(views []market.AchievementView) {
	accent.Println("\n== ACHIEVEMENTS ==")
	if len(views) == 0 {
		printInfo("No achievements defined.")
		return
	}
	cards := make([]string, 0, len(views))
	for _, v := range views {
		cards = append(cards, achievementCard(v))
	}
	for i := 0; i < len(cards); i += 2 {
		row := cards[i:min(i+2, len(cards))]
		fmt.Println(lipgloss.JoinHorizontal(lipgloss.Top, row...))
	}
	fmt.Println()
}

func achievementCard(v market.AchievementView) string {
	style := cardOpen
	status := fmt.Sprintf("%s / %s", comma(min(v.Progress, v.RequirementValue)), comma(v.RequirementValue))
	if v.Completed {
		style = cardDone
		status = "completed"
		if v.CompletedAt != nil {
			status += " " + v.CompletedAt.Local().Format("2006-01-02")
		}
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		cardHead.Render(v.Name),
		cardDim.Render(truncate(v.Description, 32)),
		progressBar(v.Progress, v.RequirementValue, 20)+" "+status,
		cardDim.Render("reward "+formatMoney(v.RewardAmount)),
	)
	return style.Render(body)
}

func renderUnlocked(unlocked []store.Achievement) {
	if len(unlocked) == 0 {
		printInfo("No new achievements.")
		return
	}
	for _, a := range unlocked {
		printSuccess(fmt.Sprintf("Unlocked %s! +%s", a.Name, formatMoney(a.RewardAmount)))
	}
}

func progressBar(progress, target int64, width int) string {
	if target <= 0 {
		target = 1
	}
	filled := int(min(progress, target) * int64(width) / target)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func formatMoney(v decimal.Decimal) string {
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Neg()
	}
	v = v.Round(2)
	whole := v.Truncate(0).IntPart()
	frac := v.Sub(decimal.NewFromInt(whole)).Shift(2).IntPart()
	return fmt.Sprintf("%s%s.%02d", sign, comma(whole), frac)
}

func colorizeMoney(v decimal.Decimal) string {
	text := formatMoney(v)
	switch v.Sign() {
	case 1:
		return success.Sprint("+" + text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v decimal.Decimal) string {
	f, _ := v.Float64()
	text := fmt.Sprintf("%+.2f%%", f)
	switch v.Sign() {
	case 1:
		return success.Sprint(text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
