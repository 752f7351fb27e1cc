// Package telegram adapts telebot for the ops notifier. Send-only: this
// daemon has no inbound command surface.
package telegram

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token  string
	ChatID int64
}

type Adapter struct {
	bot  *tele.Bot
	chat tele.ChatID
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Adapter{bot: b, chat: tele.ChatID(cfg.ChatID)}, nil
}

// Send delivers one plain-text message to the ops chat.
func (a *Adapter) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Send(a.chat, text)
	return err
}
