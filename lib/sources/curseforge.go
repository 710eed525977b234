package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/fiffu/releasewatch/lib/models"
)

// Curseforge polls the cfwidget mirror of a CurseForge project; each entry of
// its files list is one candidate, identified by file id. Files are listed newest first.
type Curseforge struct {
	base
	baseURL string
}

type CurseforgeProject struct {
	ID          flexString       `json:"id"`
	Title       flexString       `json:"title"`
	Name        flexString       `json:"name"`
	Summary     string           `json:"summary"`
	Thumbnail   flexString       `json:"thumbnail"`
	Logo        flexString       `json:"logo"`
	Avatar      flexString       `json:"avatar"`
	Attachments json.RawMessage  `json:"attachments"`
	Author      flexString       `json:"author"`
	Owner       flexString       `json:"owner"`
	Username    flexString       `json:"username"`
	Members     []cfwidgetMember `json:"members"`
	Files       []CurseforgeFile `json:"files"`
}

type cfwidgetMember struct {
	Username flexString `json:"username"`
	Title    flexString `json:"title"`
}

type CurseforgeFile struct {
	ID          flexString `json:"id"`
	DisplayName flexString `json:"displayName"`
	Display     flexString `json:"display"`
	Name        flexString `json:"name"`
	FileName    flexString `json:"fileName"`
	Type        flexString `json:"type"`
	UploadedAt  string     `json:"uploaded_at"`
}

// Label resolves the display label: displayName, display, name, fileName, then id.
func (f CurseforgeFile) Label() string {
	return firstNonEmpty(
		f.DisplayName.String(),
		f.Display.String(),
		f.Name.String(),
		f.FileName.String(),
		f.ID.String(),
	)
}

func (c *Curseforge) Kind() models.SourceKind { return models.SourceCurseforge }

func (c *Curseforge) ProjectURL(projectID string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(c.baseURL, "/"), url.PathEscape(projectID))
}

func (c *Curseforge) Fetch(ctx context.Context, stream models.StreamConfig) (*models.FetchResult, error) {
	var project CurseforgeProject
	if err := c.getJSON(ctx, c.ProjectURL(stream.Key), nil, &project); err != nil {
		return nil, err
	}

	items := make(models.CandidateItems, 0, len(project.Files))
	for _, f := range project.Files {
		if f.ID == "" {
			continue
		}
		items = append(items, models.CandidateItem{
			ID:           f.ID.String(),
			DisplayLabel: f.Label(),
			Raw:          f,
		})
	}

	return &models.FetchResult{
		Items:    dedupe(items),
		Order:    models.NewestFirst,
		Metadata: c.metadata(stream, &project),
	}, nil
}

// metadata resolves optional project fields once:
//   - title: title, name, configured slug
//   - author: author, owner, username, first member, "Unknown"
//   - thumbnail: thumbnail, logo, attachments.logo, avatar; only absolute http(s) urls
func (c *Curseforge) metadata(stream models.StreamConfig, p *CurseforgeProject) models.ProjectMetadata {
	var member string
	if len(p.Members) > 0 {
		member = firstNonEmpty(p.Members[0].Username.String(), p.Members[0].Title.String())
	}

	thumb := firstNonEmpty(
		p.Thumbnail.String(),
		p.Logo.String(),
		attachmentLogo(p.Attachments),
		p.Avatar.String(),
	)
	if !strings.HasPrefix(thumb, "http") {
		thumb = ""
	}

	return models.ProjectMetadata{
		Title:        firstNonEmpty(p.Title.String(), p.Name.String(), stream.Slug),
		Author:       firstNonEmpty(p.Author.String(), p.Owner.String(), p.Username.String(), member, "Unknown"),
		ThumbnailURL: thumb,
		Slug:         stream.Slug,
		Summary:      Excerpt(PlainText(p.Summary), summaryLimit),
	}
}

// attachmentLogo reads attachments.logo when attachments is an object.
func attachmentLogo(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Logo flexString `json:"logo"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	return obj.Logo.String()
}
