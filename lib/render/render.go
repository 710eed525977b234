// Package render maps a new item and its project metadata to a Notification.
// Renderers are pure: the same input always yields the same Notification, and
// missing optional fields fall back to defaults instead of failing.
package render

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fiffu/releasewatch/config"
	"github.com/fiffu/releasewatch/lib/models"
	"github.com/fiffu/releasewatch/lib/sources"
)

const (
	Color          = 0x0F172A
	changelogLimit = 300
)

type Renderer interface {
	Render(stream models.StreamConfig, item models.CandidateItem, meta models.ProjectMetadata) models.Notification
}

type Registry map[models.SourceKind]Renderer

func NewRegistry(cfg *config.Config) Registry {
	return Registry{
		models.SourceModtale:    &Modtale{BaseURL: cfg.ModtaleBaseURL},
		models.SourceCurseforge: &Curseforge{SiteURL: cfg.CurseforgeSiteURL, DirectLink: cfg.CurseforgeDirectLink},
	}
}

func footer(meta models.ProjectMetadata, fallback string) string {
	author := strings.TrimSpace(meta.Author)
	if author == "" {
		author = fallback
	}
	return "By " + author
}

func titleOr(meta models.ProjectMetadata, fallback string) string {
	if t := strings.TrimSpace(meta.Title); t != "" {
		return t
	}
	return fallback
}

type Modtale struct {
	BaseURL string
}

func (r *Modtale) DownloadURL(projectUUID, versionNumber string) string {
	return fmt.Sprintf(
		"%s/api/v1/projects/%s/versions/%s/download",
		strings.TrimRight(r.BaseURL, "/"), url.PathEscape(projectUUID), url.PathEscape(versionNumber),
	)
}

func (r *Modtale) Render(stream models.StreamConfig, item models.CandidateItem, meta models.ProjectMetadata) models.Notification {
	label := item.DisplayLabel
	var changelog string
	if v, ok := item.Raw.(sources.ModtaleVersion); ok {
		label = v.Label()
		changelog = sources.Excerpt(sources.PlainText(v.Changelog), changelogLimit)
	}
	if label == "" {
		label = item.ID
	}

	body := fmt.Sprintf("Version: %s\n\nA new version has been published on Modtale.", label)
	if changelog != "" {
		body += "\n\n" + changelog
	}

	n := models.Notification{
		Title:        fmt.Sprintf("A new version of %s is available", titleOr(meta, "Modtale Project")),
		Body:         body,
		ThumbnailURL: meta.ThumbnailURL,
		Footer:       footer(meta, "Unknown Author"),
		Color:        Color,
		Summary:      meta.Summary,
	}
	if label != "" {
		n.Links = append(n.Links, models.Link{
			Label: "Download from Modtale",
			URL:   r.DownloadURL(stream.Key, label),
		})
	}
	return n
}

type Curseforge struct {
	SiteURL    string
	DirectLink bool
}

func (r *Curseforge) FilePageURL(slug, fileID string) string {
	return fmt.Sprintf("%s/%s/download/%s", strings.TrimRight(r.SiteURL, "/"), url.PathEscape(slug), url.PathEscape(fileID))
}

func (r *Curseforge) DirectDownloadURL(slug, fileID string) string {
	return fmt.Sprintf("%s/%s/files/%s/download", strings.TrimRight(r.SiteURL, "/"), url.PathEscape(slug), url.PathEscape(fileID))
}

func (r *Curseforge) Render(stream models.StreamConfig, item models.CandidateItem, meta models.ProjectMetadata) models.Notification {
	slug := meta.Slug
	if slug == "" {
		slug = stream.Slug
	}
	label := item.DisplayLabel
	if label == "" {
		label = item.ID
	}

	n := models.Notification{
		Title:        fmt.Sprintf("A new version of %s is available", titleOr(meta, slug)),
		Body:         fmt.Sprintf("Version: %s\n\nA new file has been published on CurseForge.", label),
		ThumbnailURL: meta.ThumbnailURL,
		Footer:       footer(meta, "Unknown"),
		Color:        Color,
		Summary:      meta.Summary,
		Links: []models.Link{
			{Label: "Download from CurseForge", URL: r.FilePageURL(slug, item.ID)},
		},
	}
	if r.DirectLink {
		n.Links = append(n.Links, models.Link{Label: "Direct download", URL: r.DirectDownloadURL(slug, item.ID)})
	}
	return n
}
