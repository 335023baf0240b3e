package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPExecutor отправляет Job как JSON на webhook из metadata schedule.
//
// Metadata:
//   - url (string): адрес webhook (обязательно)
//   - method (string): default POST
//   - headers (map[string]string): дополнительные заголовки
//   - body (string или object): тело вместо JSON самого Job
//   - timeout_sec (number): таймаут запроса, default 30
//
// Строки в url, headers и body могут быть шаблонами text/template
// над TemplateData, например "https://hooks.local/{{ .ScheduleID }}".
// Ошибка шаблона постоянная.
//
// 2xx успех. 5xx, 408 и 429 повторяются, остальные коды ErrPermanent.
type HTTPExecutor struct {
	Client *http.Client
}

// NewHTTPExecutor создаёт HTTPExecutor с http.Client по умолчанию.
func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{Client: &http.Client{}}
}

// Execute выполняет HTTP-запрос.
func (e *HTTPExecutor) Execute(ctx context.Context, job Job) error {
	cfg, err := renderConfig(job.config(), newTemplateData(job))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	}

	method := getString(cfg, "method", http.MethodPost)
	url := getString(cfg, "url", "")
	if url == "" {
		return fmt.Errorf("%w: %w: url is required", ErrHTTPRequest, ErrPermanent)
	}

	ctx, cancel := context.WithTimeout(ctx, getTimeout(cfg))
	defer cancel()

	body, err := requestBody(cfg, job)
	if err != nil {
		return fmt.Errorf("%w: %w: %v", ErrHTTPRequest, ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w: create request: %v", ErrHTTPRequest, ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Schedq-Schedule-Id", job.ScheduleID.String())
	req.Header.Set("X-Schedq-Workflow-Id", job.WorkflowID.String())
	setHeaders(req, cfg)

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	err = fmt.Errorf("%w: HTTP %d: %s", ErrHTTPRequest, resp.StatusCode, truncate(string(respBody), 200))
	if !retryableStatus(resp.StatusCode) {
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	}
	return err
}

// requestBody тело запроса: metadata.body или сам Job.
func requestBody(cfg map[string]any, job Job) ([]byte, error) {
	switch b := cfg["body"].(type) {
	case nil:
		return json.Marshal(job)
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// getString извлекает строку из map с default значением.
func getString(m map[string]any, key, defaultVal string) string {
	if val, ok := m[key]; ok {
		if s, ok := val.(string); ok && s != "" {
			return s
		}
	}
	return defaultVal
}

// getTimeout извлекает timeout_sec.
func getTimeout(cfg map[string]any) time.Duration {
	if v, ok := cfg["timeout_sec"].(float64); ok && v > 0 {
		return time.Duration(v * float64(time.Second))
	}
	return defaultHTTPTimeout
}

// setHeaders устанавливает заголовки из metadata.headers.
func setHeaders(req *http.Request, cfg map[string]any) {
	headers, ok := cfg["headers"].(map[string]any)
	if !ok {
		return
	}
	for key, val := range headers {
		if s, ok := val.(string); ok {
			req.Header.Set(key, s)
		}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
