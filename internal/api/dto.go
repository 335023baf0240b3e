package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shaiso/schedq/internal/domain"
	"github.com/shaiso/schedq/internal/scheduler"
)

// maxBodyBytes ограничение тела запроса. Metadata в БД не больше 64 KiB.
const maxBodyBytes = 128 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// В сообщениях об ошибках используем имена полей из JSON.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("interval", func(fl validator.FieldLevel) bool {
		_, err := scheduler.ParseInterval(fl.Field().String())
		return err == nil
	})
	return v
}

// decodeJSON читает тело запроса в dst и валидирует его.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %v", err)
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fieldMessage(fe)
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "uuid":
		return field + " must be a UUID"
	case "interval":
		return field + " must be seconds, a duration like 90s, or @every/@hourly/@daily/@weekly"
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// Schedule DTOs

// CreateScheduleRequest запрос на создание schedule.
//
// UpdateInterval принимает секунды ("90"), длительность ("90s")
// или cron-дескриптор ("@hourly").
type CreateScheduleRequest struct {
	OwnerID        string          `json:"owner_id" validate:"required,uuid"`
	UpdateInterval string          `json:"update_interval" validate:"required,interval"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// UpdateScheduleRequest частичное обновление schedule.
type UpdateScheduleRequest struct {
	UpdateInterval *string         `json:"update_interval,omitempty" validate:"omitnil,interval"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// ScheduleResponse ответ с schedule.
type ScheduleResponse struct {
	ID                    uuid.UUID       `json:"id"`
	OwnerID               uuid.UUID       `json:"owner_id"`
	UpdateInterval        string          `json:"update_interval"`
	UpdateIntervalSeconds int             `json:"update_interval_seconds"`
	Metadata              json.RawMessage `json:"metadata"`
	DueAt                 time.Time       `json:"due_at"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:                    s.ID,
		OwnerID:               s.OwnerID,
		UpdateInterval:        scheduler.FormatInterval(s.UpdateInterval),
		UpdateIntervalSeconds: s.IntervalSeconds(),
		Metadata:              s.Metadata,
		DueAt:                 s.DueAt(),
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

func schedulesFromDomain(schedules []domain.Schedule) []ScheduleResponse {
	result := make([]ScheduleResponse, len(schedules))
	for i := range schedules {
		result[i] = ScheduleFromDomain(&schedules[i])
	}
	return result
}

// DeleteOwnerResponse результат удаления schedules workspace.
type DeleteOwnerResponse struct {
	Deleted int64 `json:"deleted"`
}

// Workflow DTOs

// CreateWorkflowRequest запрос на создание workflow.
type CreateWorkflowRequest struct {
	DisplayName string `json:"display_name" validate:"required,min=1,max=255"`
}

// WorkflowResponse ответ с workflow.
type WorkflowResponse struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WorkflowFromDomain конвертирует domain.Workflow в WorkflowResponse.
func WorkflowFromDomain(wf *domain.Workflow) WorkflowResponse {
	return WorkflowResponse{
		ID:          wf.ID,
		DisplayName: wf.DisplayName,
		CreatedAt:   wf.CreatedAt,
		UpdatedAt:   wf.UpdatedAt,
	}
}

// ReplaceSchedulesRequest новый набор schedules workflow.
// Пустой список отвязывает все schedules.
type ReplaceSchedulesRequest struct {
	ScheduleIDs []string `json:"schedule_ids" validate:"max=1000,dive,uuid"`
}

// ParsedIDs возвращает ScheduleIDs как uuid. Вызывать после валидации.
func (r ReplaceSchedulesRequest) ParsedIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(r.ScheduleIDs))
	for i, s := range r.ScheduleIDs {
		ids[i] = uuid.MustParse(s)
	}
	return ids
}
