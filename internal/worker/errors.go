package worker

import "errors"

// Ошибки воркера.
var (
	// ErrUnknownAction в metadata schedule указан action без executor.
	ErrUnknownAction = errors.New("unknown action")

	// ErrHTTPRequest HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")

	// ErrPermanent повтор не поможет (например, HTTP 4xx).
	ErrPermanent = errors.New("permanent failure")

	// ErrRetryExhausted все попытки исчерпаны.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)
