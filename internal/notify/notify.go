// Package notify pushes fiche summaries to an operator chat and builds
// calendar invites for scheduled guests.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"studiorelay/internal/config"
	"studiorelay/internal/fiche"
	"studiorelay/pkg/logx"
)

// Sender delivers one text notification to the operator channel.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// nopSender is used when notifications are disabled in config.
type nopSender struct{}

func (nopSender) Send(context.Context, string) error { return nil }

// Telegram sends through a bot account to a fixed chat. Sends are rate
// limited so a burst of fiche submissions cannot trip Telegram's flood
// control.
type Telegram struct {
	bot     *tele.Bot
	chat    *tele.Chat
	limiter *rate.Limiter
	log     logx.Logger
}

// NewSender builds a sender from config. Disabled config yields a no-op
// sender so callers never need a nil check.
func NewSender(cfg config.NotifyConfig, log logx.Logger) (Sender, error) {
	if !cfg.Enabled {
		return nopSender{}, nil
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("notify: telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify: chat_id is not set")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("notify: telegram bot: %w", err)
	}
	per := cfg.RatePerSec
	if per <= 0 {
		per = 1
	}
	return &Telegram{
		bot:     b,
		chat:    &tele.Chat{ID: cfg.ChatID},
		limiter: rate.NewLimiter(rate.Limit(per), per),
		log:     log,
	}, nil
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		t.log.Warn("telegram send failed", logx.Err(err))
		return fmt.Errorf("notify: send: %w", err)
	}
	t.log.Debug("notification sent", logx.Int("chars", len(text)))
	return nil
}

// FormatFiche renders one fiche as the operator chat message.
func FormatFiche(f fiche.Fiche) string {
	var b strings.Builder
	b.WriteString("📋 Fiche: ")
	b.WriteString(f.Titre)
	if f.Invite != "" {
		b.WriteString("\nInvité: ")
		b.WriteString(f.Invite)
	}
	if f.Email != "" {
		b.WriteString("\nEmail: ")
		b.WriteString(f.Email)
	}
	if f.Date != "" {
		b.WriteString("\nDate: ")
		b.WriteString(f.Date)
	}
	if f.Notes != "" {
		b.WriteString("\n\n")
		b.WriteString(f.Notes)
	}
	return b.String()
}

// SendFiche formats and delivers a fiche summary with a short deadline so
// a slow Telegram API never stalls the HTTP handler for long.
func SendFiche(ctx context.Context, s Sender, f fiche.Fiche) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.Send(ctx, FormatFiche(f))
}
