package senders

import (
	"context"
	"fmt"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/releasewatch/lib/models"
)

// discordSender posts embeds through a channel webhook.
type discordSender struct {
	base
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color"`
	Thumbnail   *discordImage  `json:"thumbnail,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordImage struct {
	URL string `json:"url"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordMessage struct {
	ID string `json:"id"`
}

func (d *discordSender) Ready(ctx context.Context) error {
	return requests.URL(d.cfg.Discord.WebhookURL).
		Client(d.client).
		Fetch(ctx)
}

func (d *discordSender) Send(ctx context.Context, n *models.Notification) (string, error) {
	var msg discordMessage
	err := requests.URL(d.cfg.Discord.WebhookURL).
		Client(d.client).
		Param("wait", "true").
		BodyJSON(discordPayloadFor(n)).
		ToJSON(&msg).
		Fetch(ctx)
	return msg.ID, err
}

func discordPayloadFor(n *models.Notification) discordPayload {
	desc := n.Body
	if len(n.Links) > 0 {
		links := make([]string, len(n.Links))
		for i, l := range n.Links {
			links[i] = fmt.Sprintf("[%s](%s)", l.Label, l.URL)
		}
		desc += "\n\n" + strings.Join(links, " | ")
	}

	embed := discordEmbed{
		Title:       n.Title,
		Description: desc,
		Color:       n.Color,
	}
	if len(n.Links) > 0 {
		embed.URL = n.Links[0].URL
	}
	if n.ThumbnailURL != "" {
		embed.Thumbnail = &discordImage{n.ThumbnailURL}
	}
	if n.Footer != "" {
		embed.Footer = &discordFooter{n.Footer}
	}
	return discordPayload{Embeds: []discordEmbed{embed}}
}
