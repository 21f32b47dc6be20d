// Package telegram adapts the core engine to Telegram via telebot. It
// maps commands, free text and callback queries onto engine interactions
// and renders responses as messages with inline keyboards.
package telegram

import (
	"context"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/bitter-oolong/telepage/pkg/alog"
	"github.com/bitter-oolong/telepage/pkg/engine"
	"github.com/bitter-oolong/telepage/pkg/render"
)

// Bot is the running Telegram front end.
type Bot struct {
	bot    *tele.Bot
	engine *engine.Engine
}

// New connects to the Telegram API and registers all handlers.
func New(token string, pollTimeout time.Duration, eng *engine.Engine) (*Bot, error) {
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
	})
	if err != nil {
		return nil, err
	}

	tb := &Bot{bot: b, engine: eng}
	tb.registerHandlers()
	return tb, nil
}

// Start blocks polling for updates until Stop is called.
func (b *Bot) Start() {
	alog.Infof("telegram bot @%s polling for updates", b.bot.Me.Username)
	b.bot.Start()
}

// Stop halts the poller.
func (b *Bot) Stop() {
	b.bot.Stop()
}

func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", func(c tele.Context) error {
		return b.submit(c, engine.KindStart, "")
	})
	b.bot.Handle("/help", func(c tele.Context) error {
		return b.submit(c, engine.KindHelp, "")
	})
	b.bot.Handle("/admin", func(c tele.Context) error {
		return b.submit(c, engine.KindAdmin, "")
	})
	b.bot.Handle("/cancel", func(c tele.Context) error {
		return b.submit(c, engine.KindCancel, "")
	})
	b.bot.Handle("/promote", func(c tele.Context) error {
		return b.submit(c, engine.KindPromote, strings.Join(c.Args(), " "))
	})
	b.bot.Handle("/demote", func(c tele.Context) error {
		return b.submit(c, engine.KindDemote, strings.Join(c.Args(), " "))
	})
	b.bot.Handle("/setwelcome", func(c tele.Context) error {
		return b.submit(c, engine.KindSetWelcome, strings.Join(c.Args(), " "))
	})

	b.bot.Handle(tele.OnText, func(c tele.Context) error {
		return b.submit(c, engine.KindText, c.Text())
	})

	b.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		// Ack right away so the button stops spinning.
		defer func() { _ = c.Respond() }()

		data := strings.TrimSpace(strings.TrimPrefix(c.Callback().Data, "\f"))
		if data == "" {
			return nil
		}
		in := b.interaction(c, engine.KindCallback, "")
		in.Data = data
		return b.engine.Submit(context.Background(), in)
	})
}

func (b *Bot) submit(c tele.Context, kind, text string) error {
	if c.Sender() == nil {
		return nil
	}
	return b.engine.Submit(context.Background(), b.interaction(c, kind, text))
}

func (b *Bot) interaction(c tele.Context, kind, text string) engine.Interaction {
	sender := c.Sender()
	return engine.Interaction{
		UserID: sender.ID,
		Name:   displayName(sender),
		Kind:   kind,
		Text:   text,
		Respond: func(resp *engine.Response) error {
			return b.deliver(c, resp)
		},
	}
}

// deliver renders an engine response into a Telegram message.
func (b *Bot) deliver(c tele.Context, resp *engine.Response) error {
	text, markup := composeMessage(resp)
	if text == "" && markup == nil {
		return nil
	}

	if resp.Edit && c.Callback() != nil {
		if err := trySend(c.Edit, text, markup); err == nil {
			return nil
		}
		// Editing fails when the message is too old or unchanged; fall
		// back to a fresh message.
	}
	return trySend(c.Send, text, markup)
}

func trySend(send func(any, ...any) error, text string, markup *tele.ReplyMarkup) error {
	if markup != nil {
		return send(text, markup, tele.ModeHTML)
	}
	return send(text, tele.ModeHTML)
}

func composeMessage(resp *engine.Response) (string, *tele.ReplyMarkup) {
	var parts []string
	if resp.Text != "" {
		parts = append(parts, render.Escape(resp.Text))
	}

	// Buttons carry raw callback data, bypassing telebot's unique-based
	// routing so tokens arrive intact in the OnCallback handler.
	var rows [][]tele.InlineButton
	if resp.Page != nil {
		parts = append(parts, render.Page(resp.Page.Title, resp.Page.Body))
		for _, btn := range resp.Page.Buttons {
			rows = append(rows, []tele.InlineButton{{Text: btn.Label, Data: btn.Token}})
		}
	}
	for _, choice := range resp.Choices {
		rows = append(rows, []tele.InlineButton{{Text: choice.Label, Data: choice.Data}})
	}
	if resp.URL != "" {
		label := resp.Text
		if label == "" {
			label = "Open link"
		}
		rows = append(rows, []tele.InlineButton{{Text: label, URL: resp.URL}})
		if len(parts) == 0 {
			parts = append(parts, "🔗 "+render.Escape(resp.URL))
		}
	}

	var markup *tele.ReplyMarkup
	if len(rows) > 0 {
		markup = &tele.ReplyMarkup{InlineKeyboard: rows}
	}
	return strings.Join(parts, "\n\n"), markup
}

func displayName(u *tele.User) string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
