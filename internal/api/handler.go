package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/digest"
	"github.com/lalithlochan/herdwatch/internal/preference"
	"github.com/lalithlochan/herdwatch/internal/scheduler"
)

const (
	defaultListLimit    = 20
	maxListLimit        = 100
	defaultCleanupDays  = 30
	maxPreferenceBody   = 64 << 10
	jobRunDetachTimeout = 30 * time.Minute
)

// NotificationStore defines the notification queries the API serves.
type NotificationStore interface {
	ListNotifications(ctx context.Context, owner string, f alert.ListFilter) ([]*alert.Notification, int, error)
	NotificationStats(ctx context.Context, owner string) (*alert.Stats, error)
	GetNotification(ctx context.Context, owner string, id uuid.UUID) (*alert.Notification, error)
	MarkRead(ctx context.Context, owner string, id uuid.UUID, at time.Time) (*alert.Notification, error)
	MarkAllRead(ctx context.Context, owner string, at time.Time) (int64, error)
	DeleteNotification(ctx context.Context, owner string, id uuid.UUID) error
	DeleteNotificationsBefore(ctx context.Context, owner string, cutoff time.Time) (int64, error)
	Health(ctx context.Context) error
}

// DigestService returns weekly digests, creating them on first request.
type DigestService interface {
	CreateWeeklyDigest(ctx context.Context, owner string, year, week int) (*digest.Digest, error)
}

// PreferenceService reads and patches preferences.
type PreferenceService interface {
	Get(ctx context.Context, owner string) (preference.Preference, error)
	Update(ctx context.Context, owner string, patch []byte) (preference.Preference, error)
}

// JobRunner exposes the scheduler.
type JobRunner interface {
	List() []scheduler.JobStatus
	RunNow(ctx context.Context, name string) (scheduler.Run, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger  *zap.Logger
	store   NotificationStore
	digests DigestService
	prefs   PreferenceService
	jobs    JobRunner
	checks  []healthCheck
	now     func() time.Time
}

type healthCheck struct {
	name  string
	check func(context.Context) error
}

// NewHandler creates a new API handler. jobs may be nil when the scheduler
// is disabled.
func NewHandler(logger *zap.Logger, store NotificationStore, digests DigestService, prefs PreferenceService, jobs JobRunner) *Handler {
	return &Handler{
		logger:  logger,
		store:   store,
		digests: digests,
		prefs:   prefs,
		jobs:    jobs,
		now:     time.Now,
	}
}

// AddHealthCheck registers an extra dependency probed by /health.
func (h *Handler) AddHealthCheck(name string, check func(context.Context) error) {
	h.checks = append(h.checks, healthCheck{name: name, check: check})
}

// ListNotifications handles GET /v1/notifications?read=&type=&severity=&category=&limit=&offset=
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := OwnerFromContext(ctx)
	q := r.URL.Query()

	var f alert.ListFilter
	if v := q.Get("read"); v != "" {
		read, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid read filter", "read must be true or false")
			return
		}
		f.Read = &read
	}
	if v := q.Get("type"); v != "" {
		f.Type = alert.Type(v)
		if !f.Type.Valid() {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid type", "type must be Treatment, Vaccine, VaccineDose, or Weight")
			return
		}
	}
	if v := q.Get("severity"); v != "" {
		f.Severity = alert.Severity(v)
		if !f.Severity.Valid() {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid severity", "severity must be low, medium, high, or critical")
			return
		}
	}
	if v := q.Get("category"); v != "" {
		f.Category = alert.Category(v)
		if !f.Category.Valid() {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid category", "category must be medical or routine")
			return
		}
	}

	// Parse pagination parameters with defaults
	f.Limit = defaultListLimit
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= maxListLimit {
			f.Limit = l
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			f.Offset = o
		}
	}

	notifications, total, err := h.store.ListNotifications(ctx, owner, f)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.String("owner", owner),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}
	if notifications == nil {
		notifications = []*alert.Notification{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   notifications,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
		"count":  len(notifications),
	})
}

// NotificationStats handles GET /v1/notifications/stats
func (h *Handler) NotificationStats(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())

	stats, err := h.store.NotificationStats(r.Context(), owner)
	if err != nil {
		h.logger.Error("failed to compute notification stats",
			zap.Error(err),
			zap.String("owner", owner),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to compute stats", "")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := h.notificationID(w, r)
	if !ok {
		return
	}
	owner := OwnerFromContext(r.Context())

	n, err := h.store.GetNotification(r.Context(), owner, id)
	if err != nil {
		h.storeError(w, err, "Failed to get notification", id)
		return
	}
	h.writeJSON(w, http.StatusOK, n)
}

// MarkRead handles POST /v1/notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := h.notificationID(w, r)
	if !ok {
		return
	}
	owner := OwnerFromContext(r.Context())

	n, err := h.store.MarkRead(r.Context(), owner, id, h.now().UTC())
	if err != nil {
		h.storeError(w, err, "Failed to mark notification read", id)
		return
	}

	h.logger.Info("notification marked read",
		zap.String("notification_id", id.String()),
		zap.String("owner", owner),
	)
	h.writeJSON(w, http.StatusOK, n)
}

// MarkAllRead handles POST /v1/notifications/read-all
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())

	updated, err := h.store.MarkAllRead(r.Context(), owner, h.now().UTC())
	if err != nil {
		h.logger.Error("failed to mark all notifications read",
			zap.Error(err),
			zap.String("owner", owner),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to mark notifications read", "")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

// DeleteNotification handles DELETE /v1/notifications/{id}
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := h.notificationID(w, r)
	if !ok {
		return
	}
	owner := OwnerFromContext(r.Context())

	if err := h.store.DeleteNotification(r.Context(), owner, id); err != nil {
		h.storeError(w, err, "Failed to delete notification", id)
		return
	}

	h.logger.Info("notification deleted",
		zap.String("notification_id", id.String()),
		zap.String("owner", owner),
	)
	w.WriteHeader(http.StatusNoContent)
}

// CleanupNotifications handles POST /v1/notifications/cleanup?days=
func (h *Handler) CleanupNotifications(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())

	days := defaultCleanupDays
	if v := r.URL.Query().Get("days"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid days", "days must be a positive integer")
			return
		}
		days = d
	}

	cutoff := h.now().UTC().AddDate(0, 0, -days)
	deleted, err := h.store.DeleteNotificationsBefore(r.Context(), owner, cutoff)
	if err != nil {
		h.logger.Error("failed to clean up notifications",
			zap.Error(err),
			zap.String("owner", owner),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to clean up notifications", "")
		return
	}

	h.logger.Info("notifications cleaned up",
		zap.String("owner", owner),
		zap.Int("days", days),
		zap.Int64("deleted", deleted),
	)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
		"before":  cutoff,
	})
}

// CurrentDigest handles GET /v1/digests/current: the digest of the last
// complete ISO week in the owner's timezone.
func (h *Handler) CurrentDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := OwnerFromContext(ctx)

	pref, err := h.prefs.Get(ctx, owner)
	if err != nil {
		h.logger.Error("failed to load preference", zap.Error(err), zap.String("owner", owner))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load preferences", "")
		return
	}
	year, week := digest.PreviousWeek(h.now().In(preference.Location(pref.QuietHours.Timezone)))
	h.serveDigest(w, r, owner, year, week)
}

// GetDigest handles GET /v1/digests/{year}/{week}
func (h *Handler) GetDigest(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())

	year, yerr := strconv.Atoi(chi.URLParam(r, "year"))
	week, werr := strconv.Atoi(chi.URLParam(r, "week"))
	if yerr != nil || werr != nil || !digest.ValidWeek(year, week) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid week", "year and week must name an ISO week")
		return
	}
	if digest.EndOfISOWeek(year, week, time.UTC).After(h.now().UTC().Add(14 * time.Hour)) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Week not complete", "digests cover completed weeks only")
		return
	}
	h.serveDigest(w, r, owner, year, week)
}

func (h *Handler) serveDigest(w http.ResponseWriter, r *http.Request, owner string, year, week int) {
	d, err := h.digests.CreateWeeklyDigest(r.Context(), owner, year, week)
	if err != nil {
		h.logger.Error("failed to get digest",
			zap.Error(err),
			zap.String("owner", owner),
			zap.Int("year", year),
			zap.Int("week", week),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get digest", "")
		return
	}
	if d == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Digest not available", "weekly digest is disabled in preferences")
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// GetPreferences handles GET /v1/preferences
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())

	p, err := h.prefs.Get(r.Context(), owner)
	if err != nil {
		h.logger.Error("failed to load preference", zap.Error(err), zap.String("owner", owner))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load preferences", "")
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// UpdatePreferences handles PUT /v1/preferences with a partial document.
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPreferenceBody+1))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unreadable body", err.Error())
		return
	}
	if len(body) > maxPreferenceBody {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Body too large", "preference documents are limited to 64KB")
		return
	}

	p, err := h.prefs.Update(r.Context(), owner, body)
	if err != nil {
		if errors.Is(err, preference.ErrInvalid) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid preferences", err.Error())
			return
		}
		h.logger.Error("failed to update preference", zap.Error(err), zap.String("owner", owner))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update preferences", "")
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// ListJobs handles GET /v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": []scheduler.JobStatus{}})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": h.jobs.List()})
}

// RunJob handles POST /v1/jobs/{name}/run. The run outlives a dropped
// client connection.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.jobs == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown job", "scheduler is disabled")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), jobRunDetachTimeout)
	defer cancel()

	run, err := h.jobs.RunNow(ctx, name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown job", err.Error())
		return
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		h.writeError(w, http.StatusConflict, "job_error", "Job already running", err.Error())
		return
	case err != nil:
		h.logger.Error("manual job run failed", zap.String("job", name), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "job_error", "Job failed", err.Error())
		return
	}

	h.logger.Info("manual job run finished",
		zap.String("job", name),
		zap.String("summary", run.Summary),
	)
	h.writeJSON(w, http.StatusOK, run)
}

// Health handles GET /health. The store is probed first, then every
// registered dependency.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := append([]healthCheck{{name: "store", check: h.store.Health}}, h.checks...)
	for _, c := range checks {
		if err := c.check(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", c.name), zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("UNAVAILABLE: " + c.name))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) notificationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) storeError(w http.ResponseWriter, err error, title string, id uuid.UUID) {
	if errors.Is(err, alert.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return
	}
	h.logger.Error(title,
		zap.Error(err),
		zap.String("notification_id", id.String()),
	)
	h.writeError(w, http.StatusInternalServerError, "database_error", title, "")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, status, errType, title, detail)
}

func writeProblem(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
