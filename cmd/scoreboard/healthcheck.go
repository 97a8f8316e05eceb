// Package main is the entry point of the application
package main

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/scoreboard/pkg/game"
	"github.com/tecu23/scoreboard/pkg/server"
)

type healthResponse struct {
	Status      string            `json:"status"`
	Role        string            `json:"role"`
	SyncState   string            `json:"sync_state"`
	Uptime      string            `json:"uptime"`
	Connections *int              `json:"connections,omitempty"`
	Peers       []server.PeerInfo `json:"peers,omitempty"`
}

type stateResponse struct {
	SyncState string        `json:"sync_state"`
	Clock     string        `json:"clock"`
	State     game.Snapshot `json:"state"`
}

func (app *application) syncState() string {
	switch {
	case app.Master != nil:
		return app.Master.SyncState().String()
	case app.Replica != nil:
		return app.Replica.SyncState().String()
	}
	return ""
}

func (app *application) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.Logger.Error("Error marshaling JSON", zap.Error(err))
	}
}

// handleHealth handles the GET /health endpoint
func (app *application) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Role:      string(app.Config.Role),
		SyncState: app.syncState(),
		Uptime:    time.Since(app.StartTime).Round(time.Second).String(),
	}
	if app.Hub != nil {
		count := app.Hub.Count()
		resp.Connections = &count
		resp.Peers = app.Hub.Peers()
	}
	app.writeJSON(w, http.StatusOK, resp)
}

// handleState handles the GET /state endpoint
func (app *application) handleState(w http.ResponseWriter, _ *http.Request) {
	snap := app.State.Snapshot()
	app.writeJSON(w, http.StatusOK, stateResponse{
		SyncState: app.syncState(),
		Clock:     game.FormatClock(snap.Clock),
		State:     snap,
	})
}
