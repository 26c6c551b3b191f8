// Package api exposes the operational HTTP surface: queue observation and
// control, schedule toggles, trigger dry runs, and event ingestion. It never
// creates raw tasks or schedules; that stays with the embedding application.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MDx-Vision/fcra-sub001/internal/domain"
	"github.com/MDx-Vision/fcra-sub001/internal/queue"
	"github.com/MDx-Vision/fcra-sub001/internal/scheduler"
	"github.com/MDx-Vision/fcra-sub001/internal/store"
	"github.com/MDx-Vision/fcra-sub001/internal/trigger"
)

type Server struct {
	queue     *queue.Queue
	scheduler *scheduler.Service
	engine    *trigger.Engine
}

func NewServer(q *queue.Queue, sched *scheduler.Service, eng *trigger.Engine) http.Handler {
	return NewServerWithDebug(q, sched, eng, false)
}

func NewServerWithDebug(q *queue.Queue, sched *scheduler.Service, eng *trigger.Engine, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{queue: q, scheduler: sched, engine: eng}

	r.Get("/health", s.health)
	r.Get("/api/stats", s.stats)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Post("/api/tasks/{id}/cancel", s.cancelTask)
	r.Post("/api/tasks/{id}/retry", s.retryTask)
	r.Get("/api/jobs", s.listJobs)
	r.Post("/api/jobs/{id}/pause", s.pauseJob)
	r.Post("/api/jobs/{id}/resume", s.resumeJob)
	r.Post("/api/jobs/{id}/run", s.runJob)
	r.Get("/api/triggers", s.listTriggers)
	r.Post("/api/triggers/{id}/test", s.testTrigger)
	r.Post("/api/events", s.postEvent)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	qp := r.URL.Query()
	limit, _ := strconv.Atoi(qp.Get("limit"))
	offset, _ := strconv.Atoi(qp.Get("offset"))
	tasks, err := s.queue.ListTasks(r.Context(), store.TaskFilter{
		Status:   domain.TaskStatus(qp.Get("status")),
		TaskType: qp.Get("task_type"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.queue.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	ok, err := s.queue.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

func (s *Server) retryTask(w http.ResponseWriter, r *http.Request) {
	ok, err := s.queue.RetryFailed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"requeued": ok})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.scheduler.ListJobs(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	ok, err := s.scheduler.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": ok})
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	ok, err := s.scheduler.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resumed": ok})
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	task, err := s.scheduler.RunNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": task.ID})
}

func (s *Server) listTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := s.engine.ListTriggers(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, triggers)
}

func (s *Server) testTrigger(w http.ResponseWriter, r *http.Request) {
	var sample map[string]any
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	report, err := s.engine.TestTrigger(r.Context(), chi.URLParam(r, "id"), sample)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type eventReq struct {
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data"`
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	var req eventReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.EventType == "" {
		http.Error(w, "event_type is required", 400)
		return
	}
	matches, err := s.engine.Evaluate(r.Context(), req.EventType, req.EventData)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"matches": matches})
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), 404)
		return
	}
	http.Error(w, err.Error(), 500)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
