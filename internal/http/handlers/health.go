package handlers

import (
	"net/http"
)

const serviceVersion = "1.0.0"

func (a *App) Root(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{
		"service": "flowgen",
		"status":  "running",
		"version": serviceVersion,
	})
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
