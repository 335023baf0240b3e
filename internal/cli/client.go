package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client HTTP-клиент для schedq API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API по адресу baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError ошибка, которую вернул сервер.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound сообщает, что API ответил 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// --- Response types ---

// ScheduleResponse schedule в ответе API.
type ScheduleResponse struct {
	ID                    string          `json:"id"`
	OwnerID               string          `json:"owner_id"`
	UpdateInterval        string          `json:"update_interval"`
	UpdateIntervalSeconds int             `json:"update_interval_seconds"`
	Metadata              json.RawMessage `json:"metadata"`
	DueAt                 time.Time       `json:"due_at"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// WorkflowResponse workflow в ответе API.
type WorkflowResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DeleteOwnerResponse результат удаления schedules владельца.
type DeleteOwnerResponse struct {
	Deleted int64 `json:"deleted"`
}

// --- Request types ---

// CreateScheduleRequest тело запроса на создание schedule.
type CreateScheduleRequest struct {
	OwnerID        string          `json:"owner_id"`
	UpdateInterval string          `json:"update_interval"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// UpdateScheduleRequest тело частичного обновления schedule.
type UpdateScheduleRequest struct {
	UpdateInterval *string         `json:"update_interval,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// CreateWorkflowRequest тело запроса на создание workflow.
type CreateWorkflowRequest struct {
	DisplayName string `json:"display_name"`
}

// ReplaceSchedulesRequest новый набор schedules workflow.
type ReplaceSchedulesRequest struct {
	ScheduleIDs []string `json:"schedule_ids"`
}

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Schedules ---

// CreateSchedule создаёт schedule.
func (c *Client) CreateSchedule(req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/schedules", req, &schedule)
	return &schedule, err
}

// ListSchedules возвращает schedules владельца.
func (c *Client) ListSchedules(ownerID string, limit, offset int) ([]ScheduleResponse, error) {
	params := url.Values{}
	params.Set("owner_id", ownerID)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}

	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", params, &schedules)
	return schedules, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+url.PathEscape(id), &schedule)
	return &schedule, err
}

// UpdateSchedule меняет интервал и/или metadata.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.patch("/api/v1/schedules/"+url.PathEscape(id), req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/"+url.PathEscape(id), nil)
}

// DeleteOwnerSchedules удаляет все schedules владельца.
func (c *Client) DeleteOwnerSchedules(ownerID string) (int64, error) {
	var resp DeleteOwnerResponse
	err := c.delete("/api/v1/owners/"+url.PathEscape(ownerID)+"/schedules", &resp)
	return resp.Deleted, err
}

// --- Workflows ---

// CreateWorkflow создаёт workflow.
func (c *Client) CreateWorkflow(displayName string) (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.post("/api/v1/workflows", CreateWorkflowRequest{DisplayName: displayName}, &wf)
	return &wf, err
}

// GetWorkflow возвращает workflow по ID.
func (c *Client) GetWorkflow(id string) (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.get("/api/v1/workflows/"+url.PathEscape(id), &wf)
	return &wf, err
}

// DeleteWorkflow удаляет workflow.
func (c *Client) DeleteWorkflow(id string) error {
	return c.delete("/api/v1/workflows/"+url.PathEscape(id), nil)
}

// ListWorkflowSchedules возвращает schedules, связанные с workflow.
func (c *Client) ListWorkflowSchedules(id string) ([]ScheduleResponse, error) {
	var schedules []ScheduleResponse
	err := c.list("/api/v1/workflows/"+url.PathEscape(id)+"/schedules", nil, &schedules)
	return schedules, err
}

// ReplaceWorkflowSchedules заменяет набор schedules workflow.
func (c *Client) ReplaceWorkflowSchedules(id string, scheduleIDs []string) ([]ScheduleResponse, error) {
	if scheduleIDs == nil {
		scheduleIDs = []string{}
	}
	resp, err := c.do(http.MethodPut, "/api/v1/workflows/"+url.PathEscape(id)+"/schedules",
		ReplaceSchedulesRequest{ScheduleIDs: scheduleIDs})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return nil, err
	}

	var schedules []ScheduleResponse
	if err := decodeData(resp.Body, &schedules); err != nil {
		return nil, err
	}
	return schedules, nil
}

// Health проверяет /healthz.
func (c *Client) Health() error {
	resp, err := c.do(http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) patch(path string, body any, result any) error {
	return c.doData(http.MethodPatch, path, body, result)
}

func (c *Client) delete(path string, result any) error {
	return c.doData(http.MethodDelete, path, nil, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent || result == nil {
		return nil
	}

	return decodeData(resp.Body, result)
}

func decodeData(r io.Reader, result any) error {
	var dr dataResponse
	if err := json.NewDecoder(r).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
