// Package main is the entry point of the application
package main

import (
	"net/http"

	"github.com/rs/cors"
)

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", app.handleHealth)
	mux.HandleFunc("GET /state", app.handleState)

	if app.Master != nil {
		mux.HandleFunc("POST /actions", app.handleAction)
	}
	if app.Hub != nil {
		mux.HandleFunc("GET /ws", app.handleWebSocket)
	}

	// Operator panels are served from other origins
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})

	return app.logRequests(c.Handler(mux))
}
