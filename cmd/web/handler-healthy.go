package main

import "net/http"

type healthResponse struct {
	Status  string `json:"status"`
	Running int    `json:"running"`
}

// healthy responds with a JSON object indicating that the server is healthy and how many generations are running.
func (app *application) healthy(w http.ResponseWriter, r *http.Request) {
	app.writeJSON(w, r, http.StatusOK, healthResponse{Status: "ok", Running: int(app.running.Load())})
}
