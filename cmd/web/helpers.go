package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/myrjola/amlnarrator/internal/broker"
	"github.com/myrjola/amlnarrator/internal/casefile"
	"github.com/myrjola/amlnarrator/internal/diagram"
	"github.com/myrjola/amlnarrator/internal/document"
	"github.com/myrjola/amlnarrator/internal/errors"
	"github.com/myrjola/amlnarrator/internal/models"
	"github.com/myrjola/amlnarrator/internal/questions"
	"github.com/myrjola/amlnarrator/internal/reporting"
	"github.com/myrjola/amlnarrator/internal/repositories"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (app *application) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		app.serverError(w, r, errors.Wrap(err, "marshal response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (app *application) serverError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		method = r.Method
		uri    = r.URL.RequestURI()
	)

	app.logger.LogAttrs(r.Context(), slog.LevelError, "server error",
		slog.String("method", method), slog.String("uri", uri), errors.SlogError(err))
	app.writeJSON(w, r, http.StatusInternalServerError,
		errorResponse{Error: http.StatusText(http.StatusInternalServerError)})
}

func (app *application) clientError(w http.ResponseWriter, r *http.Request, status int, err error) {
	var (
		method = r.Method
		uri    = r.URL.RequestURI()
	)

	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	app.logger.LogAttrs(r.Context(), slog.LevelDebug, http.StatusText(status),
		slog.String("method", method), slog.String("uri", uri), slog.String("error", msg))
	app.writeJSON(w, r, status, errorResponse{Error: msg})
}

func (app *application) notFound(w http.ResponseWriter, r *http.Request) {
	app.clientError(w, r, http.StatusNotFound, nil)
}

// errorStatus maps errors that the client can act on to their HTTP status. Zero means a server error.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, repositories.ErrNotFound),
		errors.Is(err, casefile.ErrCaseNotFound),
		errors.Is(err, diagram.ErrNoDiagram):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnknownReportType),
		errors.Is(err, document.ErrUnknownFormat),
		errors.Is(err, questions.ErrUnknownSlot):
		return http.StatusBadRequest
	case errors.Is(err, reporting.ErrNothingToExport),
		errors.Is(err, broker.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, questions.ErrMalformedInput):
		return http.StatusUnprocessableEntity
	default:
		return 0
	}
}

// handleError responds with the status of err, or a server error for unexpected errors.
func (app *application) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if status := errorStatus(err); status != 0 {
		app.clientError(w, r, status, err)
		return
	}
	app.serverError(w, r, err)
}
