package feedback

import "errors"

var (
	// ErrInvalidKind is returned when appending feedback with an unknown kind.
	ErrInvalidKind = errors.New("invalid feedback kind")

	// ErrInvalidSource is returned when appending feedback with an unknown source.
	ErrInvalidSource = errors.New("invalid feedback source")

	// ErrSummaryNotFound is returned for targets without any recorded feedback.
	ErrSummaryNotFound = errors.New("summary not found")
)

// Healthcheck errors, checked with errors.Is against the joined result.
var (
	ErrHealthcheckFailed = errors.New("healthcheck failed")
	ErrSinkNotRunning    = errors.New("feedback sink is not running")
)
