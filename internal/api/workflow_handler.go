package api

import (
	"net/http"
)

// CreateWorkflow создаёт workflow.
// POST /api/v1/workflows
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	wf, err := h.workflows.Create(r.Context(), req.DisplayName)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, WorkflowFromDomain(wf))
}

// GetWorkflow возвращает workflow по ID.
// GET /api/v1/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "workflow")
	if !ok {
		return
	}

	wf, err := h.workflows.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	Success(w, WorkflowFromDomain(wf))
}

// DeleteWorkflow мягко удаляет workflow и осиротевшие schedules.
// DELETE /api/v1/workflows/{id}
func (h *Handler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "workflow")
	if !ok {
		return
	}

	if err := h.workflows.Delete(r.Context(), id); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	NoContent(w)
}

// ListWorkflowSchedules возвращает schedules workflow.
// GET /api/v1/workflows/{id}/schedules
func (h *Handler) ListWorkflowSchedules(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "workflow")
	if !ok {
		return
	}

	schedules, err := h.workflows.ListSchedules(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	result := schedulesFromDomain(schedules)
	List(w, result, len(result))
}

// ReplaceWorkflowSchedules заменяет набор schedules workflow целиком.
// PUT /api/v1/workflows/{id}/schedules
func (h *Handler) ReplaceWorkflowSchedules(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "workflow")
	if !ok {
		return
	}

	var req ReplaceSchedulesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	err := h.workflows.ReplaceSchedules(r.Context(), id, req.ParsedIDs())
	if HandleRepoError(w, h.logger, err, "workflow or schedule not found") {
		return
	}

	schedules, err := h.workflows.ListSchedules(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	result := schedulesFromDomain(schedules)
	List(w, result, len(result))
}
