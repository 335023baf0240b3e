package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/schedq/internal/repo"
	"github.com/shaiso/schedq/internal/scheduler"
)

// CreateSchedule создаёт schedule.
// POST /api/v1/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	interval, err := scheduler.ParseInterval(req.UpdateInterval)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	schedule, err := h.schedules.Create(r.Context(), repo.CreateScheduleInput{
		OwnerID:        uuid.MustParse(req.OwnerID),
		UpdateInterval: interval,
		Metadata:       req.Metadata,
	})
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, ScheduleFromDomain(schedule))
}

// ListSchedules возвращает активные schedules workspace.
// GET /api/v1/schedules?owner_id=...&limit=...&offset=...
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	ownerID, err := uuid.Parse(q.Get("owner_id"))
	if err != nil {
		BadRequest(w, "owner_id query parameter must be a UUID")
		return
	}

	filter := repo.ScheduleFilter{
		OwnerID: ownerID,
		Limit:   parseIntDefault(q.Get("limit"), 50),
		Offset:  parseIntDefault(q.Get("offset"), 0),
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}

	schedules, err := h.schedules.ListByOwner(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := schedulesFromDomain(schedules)
	List(w, result, len(result))
}

// GetSchedule возвращает schedule по ID.
// GET /api/v1/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "schedule")
	if !ok {
		return
	}

	schedule, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// UpdateSchedule меняет metadata и/или интервал.
// PATCH /api/v1/schedules/{id}
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "schedule")
	if !ok {
		return
	}

	var req UpdateScheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if req.UpdateInterval == nil && req.Metadata == nil {
		BadRequest(w, "nothing to update: set update_interval or metadata")
		return
	}

	var in repo.UpdateScheduleInput
	in.Metadata = req.Metadata
	if req.UpdateInterval != nil {
		interval, err := scheduler.ParseInterval(*req.UpdateInterval)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		in.UpdateInterval = &interval
	}

	if err := h.schedules.Update(r.Context(), id, in); HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	schedule, err := h.schedules.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// DeleteSchedule мягко удаляет schedule. Повторное удаление тоже 204.
// DELETE /api/v1/schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "schedule")
	if !ok {
		return
	}

	if err := h.schedules.Delete(r.Context(), id); HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	NoContent(w)
}

// DeleteOwnerSchedules удаляет все schedules workspace.
// DELETE /api/v1/owners/{id}/schedules
func (h *Handler) DeleteOwnerSchedules(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := pathID(w, r, "owner")
	if !ok {
		return
	}

	n, err := h.schedules.DeleteByOwner(r.Context(), ownerID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Success(w, DeleteOwnerResponse{Deleted: n})
}

// Healthz проверяет доступность БД.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			Unavailable(w, "database unavailable")
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// pathID разбирает {id} из пути; при ошибке отвечает 400.
func pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
