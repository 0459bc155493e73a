package alert

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// containerID is the node every alert is mounted under.
const containerID = "buloradar-alerts"

// ContainerSelector matches the alert container. Hosts and scanners use it
// to tell alert markup apart from page content.
const ContainerSelector = "#" + containerID

const containerHTML = `<div id="` + containerID + `" aria-live="polite"></div>`

// Raw HTML in explanations is dropped: goldmark only passes it through with
// html.WithUnsafe, which is never set here.
var markdownEngine = goldmark.New(
	goldmark.WithExtensions(
		extension.Linkify,
		extension.Strikethrough,
	),
)

var alertTemplate = template.Must(template.New("alert").Parse(`<div class="buloradar-alerta" role="alert" data-buloradar-unit="{{.UnitID}}" data-buloradar-alert="{{.AlertID}}">
<div class="buloradar-alerta-header">
<h3>¡ALERTA DE POSIBLE BULO!</h3>
<button class="buloradar-cerrar" data-action="dismiss" aria-label="Cerrar">&times;</button>
</div>
<div class="buloradar-alerta-content">
<p><strong>{{.Title}}</strong></p>
{{- with .Description}}
<p>{{.}}</p>
{{- end}}
{{- with .Explanation}}
<div class="buloradar-verdad"><h4>REALIDAD:</h4>{{.}}</div>
{{- end}}
{{- with .Sources}}
<div class="buloradar-fuentes"><h4>Fuentes:</h4><ul>
{{- range .}}<li><a href="{{.URL}}" target="_blank" rel="noopener noreferrer">{{.Name}}</a></li>{{end -}}
</ul></div>
{{- end}}
</div>
<div class="buloradar-alerta-footer">
<button class="buloradar-btn buloradar-ver-mas" data-action="view-detail">Ver detalle completo</button>
</div>
</div>`))

type alertView struct {
	UnitID      string
	AlertID     string
	Title       string
	Description string
	Explanation template.HTML
	Sources     []sourceView
}

type sourceView struct {
	Name string
	URL  string
}

// renderMarkdown converts an explanation to HTML.
func renderMarkdown(src string) (template.HTML, error) {
	if src == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func executeAlert(view alertView) (string, error) {
	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}
