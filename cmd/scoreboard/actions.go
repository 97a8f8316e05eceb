// Package main is the entry point of the application
package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/tecu23/scoreboard/pkg/game"
	"github.com/tecu23/scoreboard/pkg/manager"
)

const maxActionBytes = 4096

type errorResponse struct {
	Error string `json:"error"`
}

type actionResponse struct {
	Changed bool          `json:"changed"`
	State   game.Snapshot `json:"state"`
}

// handleAction handles POST /actions, the operator's input
func (app *application) handleAction(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActionBytes))
	dec.DisallowUnknownFields()

	var action manager.Action
	if err := dec.Decode(&action); err != nil {
		app.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid action payload"})
		return
	}

	changed, err := app.Master.Apply(action)
	if err != nil {
		var aerr *manager.ActionError
		if errors.As(err, &aerr) {
			app.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		app.Logger.Error("action failed", zap.Error(err))
		app.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "action failed"})
		return
	}

	app.writeJSON(w, http.StatusOK, actionResponse{
		Changed: changed,
		State:   app.State.Snapshot(),
	})
}
