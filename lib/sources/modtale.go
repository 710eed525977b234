package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/fiffu/releasewatch/lib/models"
)

const summaryLimit = 300

// Modtale polls a Modtale project document; each entry of its versions list
// is one candidate, identified by version id.
type Modtale struct {
	base
	baseURL string
}

type ModtaleProject struct {
	Title         flexString       `json:"title"`
	Author        flexString       `json:"author"`
	Slug          flexString       `json:"slug"`
	ImageURL      flexString       `json:"imageUrl"`
	GalleryImages []flexString     `json:"galleryImages"`
	Description   string           `json:"description"`
	Versions      []ModtaleVersion `json:"versions"`
}

type ModtaleVersion struct {
	ID            flexString `json:"id"`
	VersionNumber flexString `json:"versionNumber"`
	Changelog     string     `json:"changelog"`
	CreatedAt     string     `json:"createdAt"`
}

// Label resolves the display label: versionNumber, then id.
func (v ModtaleVersion) Label() string {
	return firstNonEmpty(v.VersionNumber.String(), v.ID.String())
}

func (m *Modtale) Kind() models.SourceKind { return models.SourceModtale }

func (m *Modtale) ProjectURL(projectUUID string) string {
	return fmt.Sprintf("%s/api/v1/projects/%s", strings.TrimRight(m.baseURL, "/"), url.PathEscape(projectUUID))
}

func (m *Modtale) Fetch(ctx context.Context, stream models.StreamConfig) (*models.FetchResult, error) {
	headers := map[string]string{}
	if stream.APIToken != "" {
		headers["X-MODTALE-KEY"] = stream.APIToken
	}

	var project ModtaleProject
	if err := m.getJSON(ctx, m.ProjectURL(stream.Key), headers, &project); err != nil {
		return nil, err
	}

	items := make(models.CandidateItems, 0, len(project.Versions))
	for _, v := range project.Versions {
		if v.ID == "" {
			continue
		}
		items = append(items, models.CandidateItem{
			ID:           v.ID.String(),
			DisplayLabel: v.Label(),
			Raw:          v,
		})
	}

	return &models.FetchResult{
		Items:    dedupe(items),
		Order:    models.NewestFirst,
		Metadata: m.metadata(stream, &project),
	}, nil
}

// metadata resolves optional project fields once, in a fixed order:
// icon is imageUrl then the first gallery image, made absolute against the base URL.
func (m *Modtale) metadata(stream models.StreamConfig, p *ModtaleProject) models.ProjectMetadata {
	icon := p.ImageURL.String()
	if icon == "" && len(p.GalleryImages) > 0 {
		icon = p.GalleryImages[0].String()
	}

	return models.ProjectMetadata{
		Title:        firstNonEmpty(p.Title.String(), "Modtale Project"),
		Author:       firstNonEmpty(p.Author.String(), "Unknown Author"),
		ThumbnailURL: MakeAbsoluteURL(m.baseURL, icon),
		Slug:         firstNonEmpty(p.Slug.String(), stream.Key),
		Summary:      Excerpt(PlainText(p.Description), summaryLimit),
	}
}

// MakeAbsoluteURL resolves a possibly relative path against base.
func MakeAbsoluteURL(base, maybeRelative string) string {
	maybeRelative = strings.TrimSpace(maybeRelative)
	if maybeRelative == "" {
		return ""
	}
	if strings.HasPrefix(maybeRelative, "http://") || strings.HasPrefix(maybeRelative, "https://") {
		return maybeRelative
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(maybeRelative, "/")
}
