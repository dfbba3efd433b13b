package main

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

// processInfo is a running tshark process as shown on the status page.
type processInfo struct {
	ID        uint64   `json:"id"`
	RequestID string   `json:"request_id,omitempty"`
	PID       int      `json:"pid"`
	Args      []string `json:"args"`
	Running   string   `json:"running"`
}

// status is the health report served at /status and /status.json.
type status struct {
	Server    string        `json:"server"`
	Version   string        `json:"version"`
	Healthy   bool          `json:"healthy"`
	Tshark    string        `json:"tshark"`
	TsharkVer string        `json:"tshark_version,omitempty"`
	Error     string        `json:"error,omitempty"`
	Started   time.Time     `json:"started"`
	Uptime    string        `json:"uptime"`
	Transport string        `json:"transport"`
	Tools     []string      `json:"tools"`
	Processes []processInfo `json:"processes"`
}

func (s *app) status(ctx context.Context) status {
	st := status{
		Server:    serverName,
		Version:   Version,
		Tshark:    s.runner.Path(),
		Started:   s.started,
		Uptime:    humanize.RelTime(s.started, time.Now(), "", ""),
		Transport: s.cfg.Server.Transport,
		Tools:     toolNames,
		Processes: []processInfo{},
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ver, err := s.runner.Version(ctx)
	if err != nil {
		st.Error = err.Error()
	} else {
		st.Healthy = true
		st.TsharkVer = ver
	}
	for _, p := range s.runner.Registry().Snapshot() {
		st.Processes = append(st.Processes, processInfo{
			ID:        p.ID,
			RequestID: p.RequestID,
			PID:       p.PID,
			Args:      p.Args,
			Running:   humanize.RelTime(p.StartedAt, time.Now(), "", ""),
		})
	}
	return st
}

var statusTmpl = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Server}} status</title></head>
<body>
<h1>{{.Server}} {{.Version}}</h1>
<p>Status: {{if .Healthy}}healthy{{else}}unhealthy: {{.Error}}{{end}}</p>
<p>tshark: {{.Tshark}}{{with .TsharkVer}} ({{.}}){{end}}</p>
<p>Transport: {{.Transport}}, up {{.Uptime}}</p>
<h2>Tools</h2>
<ul>{{range .Tools}}<li>{{.}}</li>{{end}}</ul>
<h2>Running tshark processes</h2>
{{if .Processes}}<table>
<tr><th>ID</th><th>PID</th><th>Request</th><th>Running</th><th>Arguments</th></tr>
{{range .Processes}}<tr><td>{{.ID}}</td><td>{{.PID}}</td><td>{{.RequestID}}</td><td>{{.Running}}</td><td>{{range .Args}}{{.}} {{end}}</td></tr>
{{end}}</table>{{else}}<p>none</p>{{end}}
</body>
</html>
`))

func (s *app) statusHandler(w http.ResponseWriter, r *http.Request) {
	st := s.status(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !st.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := statusTmpl.Execute(w, st); err != nil {
		s.lg.ErrorContext(r.Context(), "render status", "error", err)
	}
}

func (s *app) statusJSONHandler(w http.ResponseWriter, r *http.Request) {
	st := s.status(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !st.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		s.lg.ErrorContext(r.Context(), "encode status", "error", err)
	}
}
