package digest

import (
	"sort"
	"strings"
	"text/template"

	"golang.org/x/text/message"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/preference"
)

var bodyTemplate = template.Must(template.New("digest").Parse(
	`{{.Title}}

{{.L.Summary}}
  {{.L.Total}}: {{.Summary.Total}}
  {{.L.Unread}}: {{.Summary.Unread}}
  {{.L.High}}: {{.Summary.HighPriority}}
  {{.L.Critical}}: {{.Summary.Critical}}
{{- if .Highlights}}

{{.L.Highlights}}
{{- range .Highlights}}
  - [{{.Severity}}] {{.Headline}}
{{- end}}
{{- end}}
{{- if .ByType}}

{{.L.ByType}}
{{- range .ByType}}
  {{.Name}}: {{.Count}}
{{- end}}
{{- end}}
{{- if .ByCategory}}

{{.L.ByCategory}}
{{- range .ByCategory}}
  {{.Name}}: {{.Count}}
{{- end}}
{{- end}}
{{- if eq .Summary.Total 0}}

{{.L.Empty}}
{{- end}}
`))

type labels struct {
	Summary, Total, Unread, High, Critical string
	Highlights, ByType, ByCategory, Empty  string
}

type countRow struct {
	Name  string
	Count int
}

type bodyView struct {
	Title      string
	L          labels
	Summary    Summary
	Highlights []Highlight
	ByType     []countRow
	ByCategory []countRow
}

// render produces the localized subject and plain-text body.
func render(p *message.Printer, d *Digest, s preference.DigestSettings) (subject, body string, err error) {
	subject = p.Sprintf(alert.MsgDigestSubject, d.Summary.Total, d.Period.Week, d.Period.Year)

	view := bodyView{
		Title: subject,
		L: labels{
			Summary:    p.Sprintf(alert.MsgDigestSummary),
			Total:      p.Sprintf(alert.MsgDigestTotal),
			Unread:     p.Sprintf(alert.MsgDigestUnread),
			High:       p.Sprintf(alert.MsgDigestHigh),
			Critical:   p.Sprintf(alert.MsgDigestCritical),
			Highlights: p.Sprintf(alert.MsgDigestHighlights),
			ByType:     p.Sprintf(alert.MsgDigestByType),
			ByCategory: p.Sprintf(alert.MsgDigestByCategory),
			Empty:      p.Sprintf(alert.MsgDigestEmpty),
		},
		Summary:    d.Summary,
		Highlights: d.Highlights,
	}
	if s.GroupByType {
		for t, n := range d.Summary.ByType {
			view.ByType = append(view.ByType, countRow{Name: string(t), Count: n})
		}
		sortRows(view.ByType)
	}
	if s.GroupByCategory {
		for c, n := range d.Summary.ByCategory {
			view.ByCategory = append(view.ByCategory, countRow{Name: string(c), Count: n})
		}
		sortRows(view.ByCategory)
	}

	var b strings.Builder
	if err := bodyTemplate.Execute(&b, view); err != nil {
		return "", "", err
	}
	return subject, b.String(), nil
}

// sortRows orders by count descending, then name.
func sortRows(rows []countRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Name < rows[j].Name
	})
}
