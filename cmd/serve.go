package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clearspan/lcaflow/internal/engine"
	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/objstore"
	"github.com/clearspan/lcaflow/internal/output"
	"github.com/clearspan/lcaflow/internal/store"
)

var servePort int

// maxUploadBytes caps one job submission.
const maxUploadBytes = 256 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/health", handleHealth)
			r.Post("/jobs", handleCreateJob(app))
			r.Get("/jobs", handleListJobs(app))
			r.Get("/jobs/{jobID}", handleJobStatus(app))
			r.Get("/jobs/{jobID}/report", handleJobReport(app))
			r.Get("/jobs/{jobID}/events", handleJobEvents(app))
			r.Post("/jobs/{jobID}/override", handleOverride(app))
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateJob accepts a multipart upload (one or more "files" parts plus
// an optional "context" field), registers the job, and runs the pipeline in
// the background.
func handleCreateJob(app *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		uploads := r.MultipartForm.File["files"]
		if len(uploads) == 0 {
			writeError(w, http.StatusBadRequest, "at least one file is required")
			return
		}

		job, err := app.store.CreateJob(r.Context(), r.FormValue("context"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "create job")
			return
		}

		for _, hdr := range uploads {
			f, err := hdr.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("open %s", hdr.Filename))
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("read %s", hdr.Filename))
				return
			}
			if _, err := app.ingestor.Ingest(r.Context(), job.ID, hdr.Filename, data); err != nil {
				writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("ingest %s: %v", hdr.Filename, err))
				return
			}
		}

		// The pipeline outlives the request.
		go func() {
			if err := app.engine.RunJob(context.Background(), job.ID); err != nil {
				zap.L().Error("job run failed", zap.String("job_id", job.ID), zap.Error(err))
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
	}
}

func handleListJobs(app *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.JobFilter{Status: model.JobStatus(r.URL.Query().Get("status"))}
		jobs, err := app.store.ListJobs(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list jobs")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	}
}

func handleJobStatus(app *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proj, err := engine.Project(r.Context(), app.store, chi.URLParam(r, "jobID"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "load job")
			return
		}
		writeJSON(w, http.StatusOK, proj)
	}
}

var artifactNames = map[string]struct {
	filename    string
	contentType string
}{
	"report":   {output.ReportName, "text/markdown; charset=utf-8"},
	"analysis": {output.AnalysisName, "application/json"},
	"viz":      {output.VizName, "application/json"},
	"audit":    {output.AuditName, "application/json"},
}

// handleJobReport serves an assembled artifact, answering 202 while the job
// is still in flight.
func handleJobReport(app *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		job, err := app.store.GetJob(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "load job")
			return
		}
		if !job.Status.Terminal() {
			writeJSON(w, http.StatusAccepted, map[string]string{
				"status": string(job.Status),
				"detail": "job still processing",
			})
			return
		}

		name := r.URL.Query().Get("artifact")
		if name == "" {
			name = "report"
		}
		artifact, ok := artifactNames[name]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown artifact")
			return
		}

		data, err := app.objects.Get(r.Context(), objstore.ReportKey(jobID, artifact.filename))
		if err != nil {
			if errors.Is(err, objstore.ErrNotFound) {
				writeError(w, http.StatusNotFound, "artifact not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "load artifact")
			return
		}
		w.Header().Set("Content-Type", artifact.contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// handleJobEvents streams the job's live events as SSE until the job
// reaches a terminal status or the client disconnects.
func handleJobEvents(app *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if _, err := app.store.GetJob(r.Context(), jobID); err != nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		events, cancel := app.hub.Feed(jobID).Subscribe()
		defer cancel()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, open := <-events:
				if !open {
					fmt.Fprint(w, "event: done\ndata: {}\n\n")
					flusher.Flush()
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			}
		}
	}
}

// handleOverride re-runs synthesis and assembly including quarantined
// files. Extraction results are reused; no documents are re-processed.
func handleOverride(app *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if err := app.engine.OverrideRun(r.Context(), jobID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "synthesis re-run complete"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
