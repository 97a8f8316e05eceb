// Package main is the entry point of the application
package main

import (
	"net/http"

	"go.uber.org/zap"
)

// handleWebSocket attaches a slave to the hub
func (app *application) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP connection to WebSocket
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.Logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	conn, err := app.Hub.Accept(ws)
	if err != nil {
		app.Logger.Warn("Rejected slave", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	app.Logger.Debug("WebSocket connection established",
		zap.String("connection_id", conn.ID.String()),
		zap.String("remote_addr", r.RemoteAddr))
}
