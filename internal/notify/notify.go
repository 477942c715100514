// Package notify announces worker events, such as achievement unlocks, to
// an external channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"playtokens/internal/market"

	"github.com/bwmarrin/discordgo"
)

type Notifier interface {
	Unlocks(ctx context.Context, unlocks []market.Unlock) error
}

// Nop logs unlocks and sends nothing.
type Nop struct {
	Log *slog.Logger
}

func (n Nop) Unlocks(_ context.Context, unlocks []market.Unlock) error {
	if n.Log == nil {
		return nil
	}
	for _, u := range unlocks {
		n.Log.Info("achievement unlocked", "user_id", u.UserID, "achievement", u.Achievement.Name)
	}
	return nil
}

type Discord struct {
	session   *discordgo.Session
	webhookID string
	token     string
	log       *slog.Logger
}

// NewDiscord parses a webhook URL of the form
// https://discord.com/api/webhooks/{id}/{token}.
func NewDiscord(webhookURL string, logger *slog.Logger) (*Discord, error) {
	if logger == nil {
		logger = slog.Default()
	}
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{session: session, webhookID: id, token: token, log: logger}, nil
}

func (d *Discord) Unlocks(ctx context.Context, unlocks []market.Unlock) error {
	if len(unlocks) == 0 {
		return nil
	}
	var errs []error
	// Discord caps embeds per message at 10.
	for start := 0; start < len(unlocks); start += 10 {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+10, len(unlocks))
		params := &discordgo.WebhookParams{
			Username: "playtokens",
			Embeds:   unlockEmbeds(unlocks[start:end]),
		}
		if _, err := d.session.WebhookExecute(d.webhookID, d.token, false, params, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	d.log.Info("unlocks posted to discord", "count", len(unlocks))
	return nil
}

func unlockEmbeds(unlocks []market.Unlock) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, 0, len(unlocks))
	for _, u := range unlocks {
		out = append(out, &discordgo.MessageEmbed{
			Title:       fmt.Sprintf("%s unlocked %s", u.Username, u.Achievement.Name),
			Description: u.Achievement.Description,
			Color:       0x2ecc71,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Reward", Value: u.Achievement.RewardAmount.StringFixed(2), Inline: true},
			},
		})
	}
	return out
}

func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook url %q has no /webhooks/{id}/{token} path", raw)
}
