package email

import (
	_ "embed"
	"html/template"
	"strings"

	"github.com/fiffu/releasewatch/lib/models"
)

var (
	//go:embed release.html
	releaseHTML     string
	releaseTemplate = template.Must(template.New("release.html").Parse(releaseHTML))
)

func mustFillTemplate(tmpl *template.Template, values any) string {
	buf := new(strings.Builder)
	err := tmpl.Execute(buf, values)
	if err != nil {
		return ""
	}
	return buf.String()
}

type ReleaseEmailFormat struct {
	Notification *models.Notification
}

func (ef *ReleaseEmailFormat) Subject() string {
	return "Releasewatch: " + ef.Notification.Title
}

// Paragraphs splits the body on blank lines.
func (ef *ReleaseEmailFormat) Paragraphs() []string {
	var out []string
	for _, p := range strings.Split(ef.Notification.Body, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (ef *ReleaseEmailFormat) Body() string {
	return mustFillTemplate(releaseTemplate, ef)
}
