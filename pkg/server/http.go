package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bastiangx/hound/internal/utils"
	"github.com/bastiangx/hound/pkg/config"
	"github.com/bastiangx/hound/pkg/console"
	"github.com/bastiangx/hound/pkg/suggest"
	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type httpAPI struct {
	console *console.Console
	config  config.ServerConfig
}

type suggestResponse struct {
	Dataset     string         `json:"dataset"`
	Query       string         `json:"query"`
	Suggestions []suggest.Item `json:"suggestions"`
	Count       int            `json:"count"`
	Generation  uint64         `json:"generation"`
	TimeTaken   int64          `json:"time_us"`
}

type refreshResponse struct {
	Status     string   `json:"status"`
	Datasets   []string `json:"datasets,omitempty"`
	Generation uint64   `json:"generation,omitempty"`
	Error      string   `json:"error,omitempty"`
	Kind       string   `json:"kind,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// NewHTTPHandler returns the JSON API over the console's datasets.
func NewHTTPHandler(c *console.Console, cfg config.ServerConfig) http.Handler {
	api := &httpAPI{console: c, config: cfg}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/datasets", api.listDatasets)
		r.Get("/datasets/{name}/suggest", api.suggestions)
		r.Post("/datasets/{name}/refresh", api.refresh)
		r.Delete("/datasets/{name}", api.invalidate)
		r.Put("/params/{param}", api.setParam)
	})
	return r
}

// ListenAndServe serves h on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (a *httpAPI) listDatasets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"datasets": a.console.Status(),
		"params":   a.console.Params(),
	})
}

func (a *httpAPI) suggestions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	idx, err := a.console.Index(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}
	limit = clampLimit(limit, a.config.MaxLimit)
	text := utils.TruncateRunes(r.URL.Query().Get("q"), a.config.MaxQuery)

	start := time.Now()
	items, err := a.console.Query(name, text, limit)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, suggestResponse{
		Dataset:     name,
		Query:       text,
		Suggestions: items,
		Count:       len(items),
		Generation:  idx.Generation(),
		TimeTaken:   time.Since(start).Microseconds(),
	})
}

func (a *httpAPI) refresh(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	err := a.console.Refresh(r.Context(), name, force)
	if errors.Is(err, console.ErrUnknownDataset) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	resp := refreshBody(err)
	resp.Datasets = []string{name}
	if idx, lerr := a.console.Index(name); lerr == nil {
		resp.Generation = idx.Generation()
	}
	writeJSON(w, refreshStatus(err), resp)
}

func (a *httpAPI) invalidate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := a.console.Invalidate(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Status: "ok", Datasets: []string{name}})
}

func (a *httpAPI) setParam(w http.ResponseWriter, r *http.Request) {
	param := chi.URLParam(r, "param")
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	names, err := a.console.SetParam(r.Context(), param, body.Value)
	if errors.Is(err, console.ErrParamRequired) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := refreshBody(err)
	resp.Datasets = names
	writeJSON(w, refreshStatus(err), resp)
}

func refreshBody(err error) refreshResponse {
	if err == nil {
		return refreshResponse{Status: "ok"}
	}
	resp := refreshResponse{Status: "error", Error: err.Error()}
	if kind := suggest.KindOf(err); kind != 0 {
		resp.Kind = kind.String()
	}
	return resp
}

// refreshStatus maps a refresh outcome onto an HTTP status: upstream
// failures are a bad gateway, anything else an internal error.
func refreshStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case suggest.KindOf(err) != 0:
		return http.StatusBadGateway
	case errors.Is(err, suggest.ErrDiscarded):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Encoding HTTP response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, Status: status})
}
