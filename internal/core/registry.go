package core

import (
	"context"
	"net/http"
)

// PluginHealth is one row of the daemon's health report.
type PluginHealth struct {
	PluginID    string       `json:"plugin_id"`
	DisplayName string       `json:"display_name"`
	Version     string       `json:"version"`
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
}

// HealthSummary reports the current health of every plugin.
func HealthSummary(plugins []Plugin) []PluginHealth {
	summary := make([]PluginHealth, 0, len(plugins))
	for _, p := range plugins {
		manifest := p.Manifest()
		summary = append(summary, PluginHealth{
			PluginID:    manifest.PluginID,
			DisplayName: manifest.DisplayName,
			Version:     manifest.Version,
			Status:      p.Health(),
			Message:     p.HealthMessage(),
		})
	}
	return summary
}

// StartAll starts every Runner plugin. On failure the already-started plugins
// are stopped again.
func StartAll(ctx context.Context, plugins []Plugin) error {
	var started []Runner
	for _, p := range plugins {
		runner, ok := p.(Runner)
		if !ok {
			continue
		}
		if err := runner.Start(ctx); err != nil {
			for _, r := range started {
				r.Stop()
			}
			return err
		}
		started = append(started, runner)
	}
	return nil
}

// StopAll stops every Runner plugin.
func StopAll(plugins []Plugin) {
	for _, p := range plugins {
		if runner, ok := p.(Runner); ok {
			runner.Stop()
		}
	}
}

// RegisterHTTP mounts the handlers of every HTTPRegistrant plugin.
func RegisterHTTP(mux *http.ServeMux, plugins []Plugin) {
	for _, p := range plugins {
		if registrant, ok := p.(HTTPRegistrant); ok {
			registrant.RegisterHTTP(mux)
		}
	}
}
