package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// ErrTemplate шаблон в metadata не разбирается или не выполняется.
var ErrTemplate = errors.New("metadata template error")

// TemplateData данные, доступные шаблонам в metadata:
//
//	{{ .ScheduleID }}, {{ .WorkflowID }}, {{ .OwnerID }}
//	{{ .DueAt }}, {{ .ClaimedAt }}
//	{{ .Metadata.some_key }}
type TemplateData struct {
	WorkflowID string
	ScheduleID string
	OwnerID    string
	DueAt      time.Time
	ClaimedAt  time.Time
	Metadata   map[string]any
}

func newTemplateData(job Job) TemplateData {
	return TemplateData{
		WorkflowID: job.WorkflowID.String(),
		ScheduleID: job.ScheduleID.String(),
		OwnerID:    job.OwnerID.String(),
		DueAt:      job.DueAt,
		ClaimedAt:  job.ClaimedAt,
		Metadata:   job.config(),
	}
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},
	"rfc3339": func(t time.Time) string {
		return t.UTC().Format(time.RFC3339)
	},
	"unix": func(t time.Time) int64 {
		return t.Unix()
	},
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
}

// render выполняет строковый шаблон. Строки без "{{" возвращаются как есть.
func render(tmpl string, data TemplateData) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: parse: %v", ErrTemplate, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: execute: %v", ErrTemplate, err)
	}
	return buf.String(), nil
}

// renderValue рекурсивно рендерит строки внутри map и slice.
func renderValue(value any, data TemplateData) (any, error) {
	switch v := value.(type) {
	case string:
		return render(v, data)

	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			r, err := renderValue(val, data)
			if err != nil {
				return nil, err
			}
			out[key] = r
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			r, err := renderValue(val, data)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil

	default:
		return value, nil
	}
}

// renderConfig рендерит metadata целиком. Ключ "action" не трогается.
func renderConfig(cfg map[string]any, data TemplateData) (map[string]any, error) {
	out := make(map[string]any, len(cfg))
	for key, val := range cfg {
		if key == "action" {
			out[key] = val
			continue
		}
		r, err := renderValue(val, data)
		if err != nil {
			return nil, fmt.Errorf("metadata.%s: %w", key, err)
		}
		out[key] = r
	}
	return out, nil
}
