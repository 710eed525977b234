package senders

import (
	"context"
	"errors"

	"github.com/fiffu/releasewatch/lib/models"
	"github.com/fiffu/releasewatch/senders/email"
	"github.com/mailgun/mailgun-go/v4"
)

type mailgunSender struct {
	base
}

func (e *mailgunSender) Ready(ctx context.Context) error {
	if e.cfg.Mailgun.Domain == "" || e.cfg.Mailgun.APIKey == "" {
		return errors.New("mailgun domain and api key are required")
	}
	return nil
}

func (e *mailgunSender) Send(ctx context.Context, n *models.Notification) (string, error) {
	mg := mailgun.NewMailgun(e.cfg.Mailgun.Domain, e.cfg.Mailgun.APIKey)
	mg.SetClient(e.client)
	if e.cfg.Mailgun.APIBase != "" {
		mg.SetAPIBase(e.cfg.Mailgun.APIBase)
	}

	format := &email.ReleaseEmailFormat{Notification: n}

	// Create message with empty body first.
	message := mg.NewMessage(e.cfg.Mailgun.SenderFrom, format.Subject(), "", e.cfg.Mailgun.Recipient)
	// SetHtml with the payload proper. This will assign the MIME type properly.
	message.SetHtml(format.Body())

	_, id, err := mg.Send(ctx, message)
	return id, err
}
