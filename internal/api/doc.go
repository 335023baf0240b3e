// Package api содержит HTTP API для управления schedules и workflows.
//
// Структура:
//   - handler.go: Handler и интерфейсы сервисов
//   - routes.go: регистрация маршрутов
//   - middleware.go: logging, metrics, recovery
//   - response.go: JSON-ответы и отображение ошибок репозиториев в статусы
//   - dto.go: request/response и валидация
//   - schedule_handler.go: /schedules, /owners/{id}/schedules
//   - workflow_handler.go: /workflows
package api
