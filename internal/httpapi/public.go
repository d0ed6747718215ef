package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"list39.org/internal/registry"
)

const jsonSuffix = ".json"

type publicNotFound struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handlePublic serves /@{username}.json as pretty JSON and /@{username} as
// an HTML page. Private and absent records look the same from here. The
// suffix matches in any case, like the username.
func (a *API) handlePublic(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if n := len(handle) - len(jsonSuffix); n >= 0 && strings.EqualFold(handle[n:], jsonSuffix) {
		a.publicJSON(w, r, registry.NormalizeUsername(handle[:n]))
		return
	}
	a.publicHTML(w, r, registry.NormalizeUsername(handle))
}

func (a *API) publicJSON(w http.ResponseWriter, r *http.Request, username string) {
	rec, err := a.registry.ResolvePublic(r.Context(), username)
	switch {
	case err == nil:
		w.Header().Set("Cache-Control", "public, max-age=60")
		writePrettyJSON(w, http.StatusOK, rec)
	case errors.Is(err, registry.ErrNotFound):
		writePrettyJSON(w, http.StatusNotFound, publicNotFound{
			Error:   "Agent fact not found",
			Message: "No public agent found with username: " + username,
		})
	default:
		a.log.Error().Err(err).Str("username", username).Msg("public resolution failed")
		writePrettyJSON(w, http.StatusInternalServerError, publicNotFound{
			Error:   "Server error",
			Message: "Internal server error occurred",
		})
	}
}

func (a *API) publicHTML(w http.ResponseWriter, r *http.Request, username string) {
	rec, err := a.registry.ResolvePublic(r.Context(), username)
	switch {
	case err == nil:
		renderHTML(w, http.StatusOK, "agent", agentPage{Username: username, Record: rec})
	case errors.Is(err, registry.ErrNotFound):
		renderHTML(w, http.StatusNotFound, "missing", agentPage{Username: username})
	default:
		a.log.Error().Err(err).Str("username", username).Msg("public resolution failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

type agentPage struct {
	Username string
	Record   registry.PublicRecord
}

func renderHTML(w http.ResponseWriter, code int, name string, page agentPage) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, page); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

var pages = template.Must(template.New("pages").Funcs(template.FuncMap{
	"date": func(t interface{ Format(string) string }) string { return t.Format("Jan 2, 2006") },
	"join": strings.Join,
	"orNA": func(s string) string {
		if s == "" {
			return "N/A"
		}
		return s
	},
}).Parse(pageTemplates))

const pageStyle = `body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', system-ui, sans-serif; margin: 0; padding: 40px; background: #0f0f0f; color: #fff; line-height: 1.6; }
.container { max-width: 800px; margin: 0 auto; }
.header { border-bottom: 1px solid #333; padding-bottom: 20px; margin-bottom: 30px; }
h1 { margin: 0; }
.missing h1 { color: #ff6b6b; }
.subtitle, .muted { color: #999; }
.section h2 { color: #4dabf7; font-size: 18px; border-bottom: 1px solid #333; padding-bottom: 5px; }
.json-link { background: #1a1a1a; padding: 15px; border-radius: 8px; margin: 20px 0; }
a { color: #4dabf7; text-decoration: none; font-family: monospace; }
.meta { color: #666; font-size: 14px; }`

var pageTemplates = fmt.Sprintf(`
{{define "head"}}<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.}} - List39</title>
<style>%s</style>
</head>{{end}}

{{define "agent"}}{{template "head" .Record.AgentName}}
<body>
<div class="container">
  <div class="header">
    <h1>{{.Record.AgentName}}</h1>
    <div class="subtitle">@{{.Username}}</div>
  </div>
  <div class="section">
    <h2>Description</h2>
    <p>{{if .Record.Description}}{{.Record.Description}}{{else}}No description provided{{end}}</p>
  </div>
  <div class="json-link">
    <strong>JSON Endpoint:</strong><br>
    <a href="/@{{.Username}}.json">/@{{.Username}}.json</a>
  </div>
  <div class="section">
    <h2>Details</h2>
    <p><strong>Version:</strong> {{.Record.Version}}</p>
    <p><strong>Jurisdiction:</strong> {{.Record.Jurisdiction}}</p>
    <p><strong>Provider:</strong> {{orNA .Record.Provider.Name}}</p>
    <p><strong>Capabilities:</strong> {{join .Record.Capabilities.Modalities ", "}}</p>
  </div>
  <p class="meta">Created: {{date .Record.CreatedAt}}<br>Updated: {{date .Record.UpdatedAt}}</p>
  <p><a href="/">Back to List39</a></p>
</div>
</body>
</html>{{end}}

{{define "missing"}}{{template "head" "Agent Not Found"}}
<body>
<div class="container missing">
  <h1>404 - Agent Not Found</h1>
  <p class="muted">No public agent found with username: <strong>@{{.Username}}</strong></p>
  <p><a href="/">Back to List39</a></p>
</div>
</body>
</html>{{end}}
`, pageStyle)
