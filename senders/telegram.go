package senders

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/fiffu/releasewatch/lib/models"
	tele "gopkg.in/telebot.v4"
)

// telegramCaptionLimit is the Bot API limit for photo captions.
const telegramCaptionLimit = 1024

// telegramSender posts to one chat. The bot is created on the first Ready
// call, which logs in with getMe.
//
// telebot calls take no context, so each one runs in its own goroutine and
// is abandoned when ctx expires. The bot's client carries the send timeout so
// abandoned requests still end.
type telegramSender struct {
	base

	mu  sync.Mutex
	bot *tele.Bot
}

func (t *telegramSender) Ready(ctx context.Context) error {
	_, err := t.getBot(ctx)
	return err
}

func (t *telegramSender) getBot(ctx context.Context) (*tele.Bot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bot, err := withContext(ctx, func() (*tele.Bot, error) {
		return tele.NewBot(t.settings())
	})
	if err != nil {
		return nil, err
	}
	t.log.Sugar().Infow("Telegram bot ready", "username", bot.Me.Username)
	t.bot = bot
	return bot, nil
}

func (t *telegramSender) Send(ctx context.Context, n *models.Notification) (string, error) {
	bot, err := t.getBot(ctx)
	if err != nil {
		return "", err
	}

	chat := &tele.Chat{ID: t.cfg.Telegram.ChatID}
	opts := &tele.SendOptions{
		ParseMode:   tele.ModeHTML,
		ReplyMarkup: telegramMarkup(n.Links),
	}

	text := telegramText(n)
	var what any = text
	if n.ThumbnailURL != "" && len([]rune(text)) <= telegramCaptionLimit {
		what = &tele.Photo{File: tele.FromURL(n.ThumbnailURL), Caption: text}
	}

	msg, err := withContext(ctx, func() (*tele.Message, error) {
		return bot.Send(chat, what, opts)
	})
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msg.ID), nil
}

func (t *telegramSender) settings() tele.Settings {
	var tpt http.RoundTripper
	if t.client != nil {
		tpt = t.client.Transport
	}
	return tele.Settings{
		URL:    t.cfg.Telegram.APIURL,
		Token:  t.cfg.Telegram.BotToken,
		Client: &http.Client{Transport: tpt, Timeout: t.cfg.SendTimeout()},
	}
}

// withContext returns fn's result, or ctx's error if ctx ends first.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn()
		done <- result{val, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func telegramText(n *models.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n\n%s", html.EscapeString(n.Title), html.EscapeString(n.Body))
	if n.Footer != "" {
		fmt.Fprintf(&b, "\n\n<i>%s</i>", html.EscapeString(n.Footer))
	}
	return b.String()
}

func telegramMarkup(links []models.Link) *tele.ReplyMarkup {
	if len(links) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	btns := make([]tele.Btn, len(links))
	for i, l := range links {
		btns[i] = rm.URL(l.Label, l.URL)
	}
	rm.Inline(rm.Row(btns...))
	return rm
}
