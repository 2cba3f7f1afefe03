// Package web serves the live event dashboard.
package web

import (
	_ "embed"
	"html/template"
	"net/http"
)

//go:embed dashboard.html
var dashboardHTML string

var dashboardTemplate = template.Must(template.New("dashboard").Parse(dashboardHTML))

type dashboardData struct {
	Title      string
	EventsPath string
}

// DashboardHandler serves the dashboard page. The page subscribes to the
// event stream at eventsPath and only ever shows counts and entity types.
func DashboardHandler(title, eventsPath string) http.HandlerFunc {
	data := dashboardData{Title: title, EventsPath: eventsPath}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		if err := dashboardTemplate.Execute(w, data); err != nil {
			http.Error(w, "failed to render dashboard", http.StatusInternalServerError)
		}
	}
}
