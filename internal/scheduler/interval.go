package scheduler

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// intervalParser понимает стандартные 5 полей и дескрипторы (@hourly, @every 90s).
var intervalParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// sampleFrom и sampleCount задают окно, на котором проверяется, что
// cron-выражение срабатывает с постоянным шагом.
var sampleFrom = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

const sampleCount = 16

// MaxIntervalSeconds верхняя граница интервала: колонка update_interval INTEGER.
const MaxIntervalSeconds = math.MaxInt32

// ParseInterval переводит пользовательскую запись интервала в длительность.
//
// Допустимые формы:
//   - целое число секунд: "90"
//   - длительность Go: "90s", "1h30m"
//   - "@every <duration>", "@hourly", "@daily", "@weekly"
//   - cron-выражение с постоянным шагом: "*/15 * * * *", "0 9 * * *"
//
// Выражения с неравным шагом ("0 9 * * 1-5", "@monthly") отвергаются:
// очередь хранит только интервал.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}

	var d time.Duration
	switch {
	case isDigits(s):
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse interval %q: %w", s, err)
		}
		if n > MaxIntervalSeconds {
			return 0, fmt.Errorf("interval %q: must be at most %d seconds", s, MaxIntervalSeconds)
		}
		d = time.Duration(n) * time.Second
	case strings.HasPrefix(s, "@") || strings.Contains(s, " "):
		var err error
		d, err = cronInterval(s)
		if err != nil {
			return 0, err
		}
	default:
		var err error
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("parse interval %q: %w", s, err)
		}
	}

	if err := ValidateInterval(d); err != nil {
		return 0, fmt.Errorf("interval %q: %w", s, err)
	}
	return d, nil
}

// ValidateInterval проверяет, что интервал не меньше секунды, кратен ей
// и помещается в MaxIntervalSeconds.
func ValidateInterval(d time.Duration) error {
	if d < time.Second {
		return fmt.Errorf("must be at least 1s, got %s", d)
	}
	if d > MaxIntervalSeconds*time.Second {
		return fmt.Errorf("must be at most %ds, got %s", MaxIntervalSeconds, d)
	}
	if d%time.Second != 0 {
		return fmt.Errorf("must be a whole number of seconds, got %s", d)
	}
	return nil
}

// FormatInterval обратная к ParseInterval запись для вывода.
func FormatInterval(d time.Duration) string {
	switch d {
	case time.Hour:
		return "@hourly"
	case 24 * time.Hour:
		return "@daily"
	case 7 * 24 * time.Hour:
		return "@weekly"
	}
	return d.String()
}

func cronInterval(expr string) (time.Duration, error) {
	sched, err := intervalParser.Parse(expr)
	if err != nil {
		return 0, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}

	if c, ok := sched.(cron.ConstantDelaySchedule); ok {
		return c.Delay, nil
	}

	prev := sched.Next(sampleFrom)
	if prev.IsZero() {
		return 0, fmt.Errorf("cron expression %q never fires", expr)
	}
	var step time.Duration
	for range sampleCount {
		next := sched.Next(prev)
		gap := next.Sub(prev)
		if step == 0 {
			step = gap
		} else if gap != step {
			return 0, fmt.Errorf("cron expression %q does not fire at a fixed interval", expr)
		}
		prev = next
	}
	return step, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
