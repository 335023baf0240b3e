package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Виды ошибок репозиториев. Каждая ошибка, которую возвращает пакет,
// совпадает ровно с одним из них через errors.Is (ErrAlreadyExists
// дополнительно совпадает с ErrQuery).
var (
	// ErrNotFound запись отсутствует или мягко удалена.
	ErrNotFound = errors.New("not found")

	// ErrTimeout истёк таймаут ожидания соединения, блокировки или запроса.
	ErrTimeout = errors.New("timeout")

	// ErrConnection не удалось установить или сохранить соединение с БД.
	ErrConnection = errors.New("connection error")

	// ErrQuery некорректный запрос или нарушение ограничения.
	ErrQuery = errors.New("query error")

	// ErrAlreadyExists конфликт уникальности.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument аргумент отвергнут до обращения к БД.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCanceled вызывающий отменил контекст.
	ErrCanceled = errors.New("canceled")
)

// SQLSTATE коды, которые различает классификатор.
const (
	codeUniqueViolation  = "23505"
	codeLockNotAvailable = "55P03"
	codeQueryCanceled    = "57014"
	codeAdminShutdown    = "57P01"
	codeCrashShutdown    = "57P02"
	codeCannotConnectNow = "57P03"
)

// OpError ошибка операции репозитория.
//
// Kind один из sentinel-видов выше, Err исходная причина
// (например *pgconn.PgError), ID идентификатор записи, если он известен.
type OpError struct {
	Op   string
	ID   uuid.UUID
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.ID != uuid.Nil {
		b.WriteString(" ")
		b.WriteString(e.ID.String())
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil && !errors.Is(e.Err, e.Kind) {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap позволяет errors.Is/As видеть и вид, и причину.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Is нужен, чтобы ErrAlreadyExists совпадал и с ErrQuery.
func (e *OpError) Is(target error) bool {
	return e.Kind == ErrAlreadyExists && target == ErrQuery
}

// Constraint возвращает имя нарушенного ограничения, если причина в нём.
func (e *OpError) Constraint() string {
	var pgErr *pgconn.PgError
	if errors.As(e.Err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// Retryable сообщает, имеет ли смысл повторить вызов целиком позже.
// Повторяемы только таймауты и ошибки соединения.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection)
}

// Kind возвращает короткое имя вида ошибки для логов и метрик.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	default:
		return "query"
	}
}

func notFound(op string, id uuid.UUID) error {
	return &OpError{Op: op, ID: id, Kind: ErrNotFound}
}

func invalidArgument(op string, format string, args ...any) error {
	return &OpError{Op: op, Kind: ErrInvalidArgument, Err: fmt.Errorf(format, args...)}
}

// classify превращает ошибку pgx/pgconn/context в OpError.
func classify(op string, err error) error {
	return classifyID(op, uuid.Nil, err)
}

func classifyID(op string, id uuid.UUID, err error) error {
	if err == nil {
		return nil
	}

	var opErr *OpError
	if errors.As(err, &opErr) {
		return err
	}

	return &OpError{Op: op, ID: id, Kind: kindOf(err), Err: err}
}

func kindOf(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) {
		return ErrCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeLockNotAvailable, pgErr.Code == codeQueryCanceled:
			return ErrTimeout
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == codeAdminShutdown,
			pgErr.Code == codeCrashShutdown,
			pgErr.Code == codeCannotConnectNow:
			return ErrConnection
		case pgErr.Code == codeUniqueViolation:
			return ErrAlreadyExists
		default:
			return ErrQuery
		}
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return ErrConnection
	}
	if pgconn.Timeout(err) {
		return ErrTimeout
	}
	if pgconn.SafeToRetry(err) {
		return ErrConnection
	}

	return ErrQuery
}
