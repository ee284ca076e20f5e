package main

import (
	"net/http"

	"github.com/justinas/alice"
)

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	bounded := alice.New(func(h http.Handler) http.Handler { return timeoutHandler(h, defaultTimeout) })

	mux.HandleFunc("GET /api/healthy", app.healthy)
	mux.Handle("GET /api/cases", bounded.ThenFunc(app.listCases))

	const report = "/api/cases/{caseID}/reports/{reportType}"
	mux.Handle("POST "+report, bounded.ThenFunc(app.generate))
	mux.Handle("GET "+report, bounded.ThenFunc(app.report))
	mux.Handle("DELETE "+report, bounded.ThenFunc(app.clear))
	mux.Handle("GET "+report+"/export/{format}", bounded.ThenFunc(app.export))
	mux.Handle("GET "+report+"/diagram", bounded.ThenFunc(app.diagram))
	// The stream writes for as long as the generation runs, so it cannot sit behind the timeout handler.
	mux.HandleFunc("GET "+report+"/stream", app.stream)

	mux.HandleFunc("/", app.notFound)

	standard := alice.New(app.recoverPanic, app.logRequest, secureHeaders)
	return standard.Then(mux)
}
