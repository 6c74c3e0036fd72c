// Package api exposes the coach over HTTP and MCP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/empyre-fit/empyre/internal/coach"
	"github.com/empyre-fit/empyre/internal/laurel"
	"github.com/empyre-fit/empyre/internal/metrics"
	"github.com/empyre-fit/empyre/internal/profile"
	"github.com/empyre-fit/empyre/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const summaryLogLimit = 10

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	UserID       string         `json:"user_id"`
	Message      string         `json:"message"`
	ProfilePatch map[string]any `json:"profile_patch,omitempty"`
}

// ProgressRequest is the body of POST /progress.
type ProgressRequest struct {
	UserID  string          `json:"user_id"`
	LogType string          `json:"log_type"`
	LogData json.RawMessage `json:"log_data"`
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type AppDeps struct {
	Coach  *coach.Coach
	Store  *storage.Store
	Checks map[string]HealthCheck // run concurrently by /health
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", metrics.Handler())

	r.Post("/chat", handleChat(deps))
	r.Get("/profile/{user_id}", handleGetProfile(deps))
	r.Patch("/profile/{user_id}", handlePatchProfile(deps))
	r.Post("/progress", handleLogProgress(deps))
	r.Get("/progress/{user_id}", handleListProgress(deps))
	r.Get("/laurels/{user_id}", handleListLaurels(deps))
	r.Post("/laurels/{user_id}/award", handleAwardLaurel(deps))
	r.Get("/users/{user_id}/summary", handleSummary(deps))

	return r
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		resp, err := deps.Coach.Turn(r.Context(), coach.TurnRequest{
			UserID:  req.UserID,
			Message: req.Message,
			Patch:   req.ProfilePatch,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type profileView struct {
	Profile *profile.Profile `json:"profile"`
	Stage   coach.Stage      `json:"stage"`
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, stage, err := deps.Coach.State(r.Context(), chi.URLParam(r, "user_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profileView{Profile: p, Stage: stage})
	}
}

func handlePatchProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]any
		if !decodeBody(w, r, &patch) {
			return
		}
		p, stage, err := deps.Coach.Patch(r.Context(), chi.URLParam(r, "user_id"), patch)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profileView{Profile: p, Stage: stage})
	}
}

type progressView struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	LogType   string          `json:"log_type"`
	LogData   json.RawMessage `json:"log_data"`
	CreatedAt time.Time       `json:"created_at"`
}

func toProgressViews(logs []storage.ProgressLog) []progressView {
	out := make([]progressView, len(logs))
	for i, l := range logs {
		data := json.RawMessage(l.LogData)
		if !json.Valid(data) {
			data = json.RawMessage(`{}`)
		}
		out[i] = progressView{ID: l.ID, UserID: l.UserID, LogType: l.LogType, LogData: data, CreatedAt: l.CreatedAt}
	}
	return out
}

func handleLogProgress(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProgressRequest
		if !decodeBody(w, r, &req) {
			return
		}
		l, err := newProgressLog(req.UserID, req.LogType, req.LogData)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := deps.Store.AppendProgressLog(r.Context(), l); err != nil {
			writeError(w, r, fmt.Errorf("appending progress log: %w: %w", profile.ErrStoreUnavailable, err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"id":     l.ID,
			"status": "logged",
		})
	}
}

// newProgressLog validates an incoming activity entry. Empty data is
// stored as an empty object.
func newProgressLog(userID, logType string, data []byte) (storage.ProgressLog, error) {
	logType = strings.ToLower(strings.TrimSpace(logType))
	if strings.TrimSpace(userID) == "" {
		return storage.ProgressLog{}, coach.ErrMissingUser
	}
	if !coach.IsLogType(logType) {
		return storage.ProgressLog{}, fmt.Errorf("log_type must be workout, measurement or goal, got %q", logType)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		data = []byte(`{}`)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return storage.ProgressLog{}, fmt.Errorf("log_data must be a JSON object")
	}
	return storage.ProgressLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		LogType:   logType,
		LogData:   string(data),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func handleListProgress(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		logs, err := deps.Store.ListProgressLogs(r.Context(), chi.URLParam(r, "user_id"), limit)
		if err != nil {
			writeError(w, r, fmt.Errorf("listing progress logs: %w: %w", profile.ErrStoreUnavailable, err))
			return
		}
		writeJSON(w, http.StatusOK, toProgressViews(logs))
	}
}

type laurelView struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	LaurelType  string    `json:"laurel_type"`
	Points      int       `json:"points"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toLaurelView(l storage.Laurel) laurelView {
	return laurelView{
		ID:          l.ID,
		UserID:      l.UserID,
		LaurelType:  l.LaurelType,
		Points:      l.Points,
		Description: l.Description,
		CreatedAt:   l.CreatedAt,
	}
}

func handleListLaurels(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "user_id")
		ls, err := deps.Store.ListLaurels(r.Context(), userID)
		if err != nil {
			writeError(w, r, fmt.Errorf("listing laurels: %w: %w", profile.ErrStoreUnavailable, err))
			return
		}
		views := make([]laurelView, len(ls))
		total := 0
		for i, l := range ls {
			views[i] = toLaurelView(l)
			total += l.Points
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":      userID,
			"total_points": total,
			"laurels":      views,
		})
	}
}

func handleAwardLaurel(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var points *int
		if s := q.Get("points"); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "points must be an integer")
				return
			}
			points = &v
		}
		l, err := laurel.Manual(chi.URLParam(r, "user_id"), q.Get("laurel_type"), points, q.Get("description"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := deps.Store.AwardLaurel(r.Context(), l); err != nil {
			writeError(w, r, fmt.Errorf("awarding laurel: %w: %w", profile.ErrStoreUnavailable, err))
			return
		}
		metrics.RecordLaurel(l.LaurelType)
		writeJSON(w, http.StatusOK, toLaurelView(l))
	}
}

type summaryView struct {
	Profile     *profile.Profile `json:"profile"`
	Stage       coach.Stage      `json:"stage"`
	TotalPoints int              `json:"total_points"`
	RecentLogs  []progressView   `json:"recent_logs"`
}

// handleSummary loads the profile, laurel total and recent logs
// concurrently.
func handleSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "user_id")
		var out summaryView

		g, ctx := errgroup.WithContext(r.Context())
		g.Go(func() error {
			p, stage, err := deps.Coach.State(ctx, userID)
			if err != nil {
				return err
			}
			out.Profile, out.Stage = p, stage
			return nil
		})
		g.Go(func() error {
			pts, err := deps.Store.LaurelPoints(ctx, userID)
			if err != nil {
				return fmt.Errorf("summing laurels: %w: %w", profile.ErrStoreUnavailable, err)
			}
			out.TotalPoints = pts
			return nil
		})
		g.Go(func() error {
			logs, err := deps.Store.ListProgressLogs(ctx, userID, summaryLogLimit)
			if err != nil {
				return fmt.Errorf("listing progress logs: %w: %w", profile.ErrStoreUnavailable, err)
			}
			out.RecentLogs = toProgressViews(logs)
			return nil
		})
		if err := g.Wait(); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		names := make([]string, 0, len(deps.Checks))
		for name := range deps.Checks {
			names = append(names, name)
		}
		errs := make([]error, len(names))

		var g errgroup.Group
		for i, name := range names {
			check := deps.Checks[name]
			g.Go(func() error {
				errs[i] = check(ctx)
				return nil
			})
		}
		_ = g.Wait()

		results := make(map[string]string, len(names))
		status, code := "ok", http.StatusOK
		for i, name := range names {
			if errs[i] != nil {
				results[name] = errs[i].Error()
				status, code = "degraded", http.StatusServiceUnavailable
			} else {
				results[name] = "ok"
			}
		}
		writeJSON(w, code, map[string]any{"status": status, "checks": results})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
