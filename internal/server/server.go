// Package server exposes the engine's operations as a JSON API for a
// separate presentation layer. Every response uses the
// {success, data, message} envelope; only creation-time validation errors
// are reported synchronously, everything else lands in job result logs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/gym-scheduler/internal/accounts"
	"github.com/example/gym-scheduler/internal/db"
	"github.com/example/gym-scheduler/internal/gym"
	"github.com/example/gym-scheduler/internal/jobs"
	"github.com/example/gym-scheduler/internal/scheduler"
	"github.com/example/gym-scheduler/internal/session"
)

// Accounts is the slice of the account registry the API needs.
type Accounts interface {
	Add(ctx context.Context, username, password string) error
	Remove(ctx context.Context, username string) error
	Get(ctx context.Context, username string) (accounts.Account, error)
	List(ctx context.Context) ([]accounts.Account, error)
}

type Server struct {
	Accounts Accounts
	Jobs     jobs.Store
	Sessions *session.Manager
	Client   gym.Client
	Sched    *scheduler.Scheduler
	Loc      *time.Location
	Clock    func() time.Time
	Log      *slog.Logger
}

func (s *Server) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /api/accounts", s.handleGetAccounts)
	mux.HandleFunc("POST /api/accounts", s.handleAddAccount)
	mux.HandleFunc("DELETE /api/accounts/{account}", s.handleRemoveAccount)
	mux.HandleFunc("POST /api/accounts/{account}/renew", s.handleRenewAccount)

	mux.HandleFunc("GET /api/campus", s.handleGetCampus)
	mux.HandleFunc("GET /api/facilities", s.handleGetFacilities)
	mux.HandleFunc("GET /api/areas", s.handleGetAreas)

	mux.HandleFunc("POST /api/jobs/book", s.handleBook(jobs.TypeBook))
	mux.HandleFunc("POST /api/jobs/book-and-pay", s.handleBook(jobs.TypeBookAndPay))
	mux.HandleFunc("GET /api/jobs", s.handleGetAllJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJobInfo)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleRemoveJob)

	return mux
}

// --- accounts ---

func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account  string `json:"account"`
		Password string `json:"password"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.Accounts.Add(r.Context(), req.Account, req.Password); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]string{"account": req.Account})
}

func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	if err := s.Accounts.Remove(r.Context(), account); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]string{"account": account})
}

func (s *Server) handleGetAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := s.Accounts.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	type entry struct {
		Account string `json:"account"`
		Valid   bool   `json:"valid"`
	}
	out := make([]entry, 0, len(list))
	for _, a := range list {
		out = append(out, entry{Account: a.Username, Valid: a.State == accounts.SessionValid})
	}
	s.ok(w, out)
}

func (s *Server) handleRenewAccount(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	if _, err := s.Accounts.Get(r.Context(), account); err != nil {
		s.fail(w, err)
		return
	}
	now := s.now()
	j := jobs.NewRenew(account, now, now)
	if err := s.Jobs.Create(r.Context(), j); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]string{"job_id": j.ID})
}

// --- venue queries (read-through, never persisted) ---

func (s *Server) handleGetCampus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ensure(w, r)
	if !ok {
		return
	}
	campuses, err := s.Client.Campuses(r.Context(), sess)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]any{"campus": campuses})
}

func (s *Server) handleGetFacilities(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ensure(w, r)
	if !ok {
		return
	}
	campus := gym.Campus{Name: r.URL.Query().Get("name"), Code: r.URL.Query().Get("campus")}
	if campus.Code == "" {
		s.failValidation(w, "campus is required")
		return
	}
	facilities, err := s.Client.Facilities(r.Context(), sess, campus)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]any{"facility": facilities})
}

func (s *Server) handleGetAreas(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ensure(w, r)
	if !ok {
		return
	}
	serviceID := r.URL.Query().Get("serviceid")
	date := r.URL.Query().Get("date")
	if serviceID == "" || date == "" {
		s.failValidation(w, "serviceid and date are required")
		return
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		s.failValidation(w, "date must be YYYY-MM-DD")
		return
	}
	areas, err := s.Client.Areas(r.Context(), sess, gym.Facility{ServiceID: serviceID}, date)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]any{"area": areas})
}

// ensure resolves the account query parameter to a live session.
func (s *Server) ensure(w http.ResponseWriter, r *http.Request) (gym.Session, bool) {
	account := strings.TrimSpace(r.URL.Query().Get("account"))
	if account == "" {
		s.failValidation(w, "account is required")
		return nil, false
	}
	sess, err := s.Sessions.Ensure(r.Context(), account)
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	return sess, true
}

// --- jobs ---

func (s *Server) handleBook(typ jobs.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Account string   `json:"account"`
			Area    gym.Area `json:"area"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		if _, err := s.Accounts.Get(r.Context(), req.Account); err != nil {
			s.fail(w, err)
			return
		}
		j, err := jobs.NewBooking(typ, req.Area, req.Account, s.now(), s.Loc)
		if err != nil {
			s.fail(w, err)
			return
		}
		if err := s.Jobs.Create(r.Context(), j); err != nil {
			s.fail(w, err)
			return
		}
		s.Log.Info("booking job created", "job", j.ID, "type", typ.String(), "account", req.Account)
		s.ok(w, map[string]string{"job_id": j.ID})
	}
}

type jobSummary struct {
	JobID       string `json:"job_id"`
	Description string `json:"description"`
	Status      string `json:"job_status"`
	Level       string `json:"job_level"`
	Type        string `json:"job_type"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func summarize(j *jobs.Job) jobSummary {
	return jobSummary{
		JobID:       j.ID,
		Description: j.Description,
		Status:      j.Status.String(),
		Level:       j.Level.String(),
		Type:        j.Type.String(),
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleGetAllJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.Jobs.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]jobSummary, 0, len(list))
	for _, j := range list {
		out = append(out, summarize(j))
	}
	s.ok(w, map[string]any{"all_jobs": out})
}

func (s *Server) handleGetJobInfo(w http.ResponseWriter, r *http.Request) {
	j, err := s.Jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	type detail struct {
		jobSummary
		Account     string        `json:"account,omitempty"`
		Area        *gym.Area     `json:"area,omitempty"`
		FailedCount int           `json:"failed_count"`
		NextDueAt   string        `json:"next_due_at"`
		WindowEndAt string        `json:"window_end_at,omitempty"`
		Results     []jobs.Result `json:"result"`
	}
	d := detail{
		jobSummary:  summarize(j),
		Account:     j.Account,
		Area:        j.Area,
		FailedCount: j.FailedCount,
		NextDueAt:   j.NextDueAt.Format(time.RFC3339),
		Results:     j.Results,
	}
	if j.WindowEndAt != nil {
		d.WindowEndAt = j.WindowEndAt.Format(time.RFC3339)
	}
	s.ok(w, map[string]any{"job": d})
}

func (s *Server) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Sched.Remove(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, map[string]string{"job_id": id})
}

// --- envelope plumbing ---

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

func (s *Server) write(w http.ResponseWriter, status int, e envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(e); err != nil {
		s.Log.Error("encode response", "err", err)
	}
}

func (s *Server) ok(w http.ResponseWriter, data any) {
	s.write(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case gym.IsValidation(err):
		status = http.StatusBadRequest
	case db.IsNotFound(err):
		status = http.StatusNotFound
	case gym.IsAuth(err):
		status = http.StatusBadGateway
	case errors.Is(err, gym.ErrTransient):
		status = http.StatusBadGateway
	}
	s.write(w, status, envelope{Success: false, Data: map[string]any{}, Message: err.Error()})
}

func (s *Server) failValidation(w http.ResponseWriter, msg string) {
	s.write(w, http.StatusBadRequest, envelope{Success: false, Data: map[string]any{}, Message: msg})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.failValidation(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// Start runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func Start(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
