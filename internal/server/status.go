package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"
)

// HealthOutput is the body of GET /health.
type HealthOutput struct {
	Status    string `json:"status"`
	Protocol  string `json:"protocol"`
	Addr      string `json:"addr"`
	Codec     string `json:"codec"`
	Routes    int    `json:"routes"`
	Pending   int    `json:"pending"`
	COMMS     string `json:"comms,omitempty"`
	Timestamp string `json:"timestamp"`
}

// RouteInfo describes one registered route in GET /routes.
type RouteInfo struct {
	Pattern      string   `json:"pattern"`
	Key          string   `json:"key"`
	Input        string   `json:"input,omitempty"`
	Params       []string `json:"params,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

func (s *Server) health() *HealthOutput {
	h := &HealthOutput{
		Status:    "healthy",
		Protocol:  s.cfg.Protocol,
		Addr:      s.Addr(),
		Codec:     s.cfg.Codec,
		Routes:    s.pipe.router.Len(),
		Pending:   s.pipe.pending(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.nc != nil {
		h.COMMS = s.nc.Status().String()
		if !s.nc.IsConnected() {
			h.Status = "unhealthy"
		}
	}
	return h
}

func (s *Server) routes() []RouteInfo {
	packs := s.pipe.router.Items()
	out := make([]RouteInfo, 0, len(packs))
	for _, p := range packs {
		info := RouteInfo{Pattern: p.Pattern, Key: p.Key, Params: p.Params}
		if p.Input != nil {
			info.Input = p.Input.String()
		}
		for _, d := range p.Dependencies {
			info.Dependencies = append(info.Dependencies, d.String())
		}
		out = append(out, info)
	}
	return out
}

func (s *Server) statusMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := s.health()
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/routes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.routes())
	})
	return mux
}

const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>serveapi</title>
  <style>
    body { font-family: system-ui, sans-serif; margin: 2rem; color: #222; }
    table { border-collapse: collapse; }
    th, td { text-align: left; padding: 0.3rem 0.8rem; border-bottom: 1px solid #ddd; }
    code { background: #f4f4f4; padding: 0 0.2rem; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
  </style>
</head>
<body>
  <h1>serveapi</h1>
  <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span>
     &middot; {{.Health.Protocol}} on <code>{{.Health.Addr}}</code>
     &middot; codec {{.Health.Codec}} &middot; {{.Health.Pending}} pending</p>
  <h2>Routes ({{len .Routes}})</h2>
  <table>
    <tr><th>Pattern</th><th>Input</th><th>Dependencies</th></tr>
    {{range .Routes}}
    <tr><td><code>{{.Pattern}}</code></td><td>{{.Input}}</td><td>{{range .Dependencies}}{{.}} {{end}}</td></tr>
    {{end}}
  </table>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Health *HealthOutput
	Routes []RouteInfo
}

// handleHome returns an HTTP handler for the status home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		data := homeData{Health: s.health(), Routes: s.routes()}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
