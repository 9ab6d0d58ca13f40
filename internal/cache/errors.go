package cache

import (
	"errors"
	"fmt"
)

// Authoring violations. A refresh that hits one of these aborts and the
// previously published snapshot stays in effect.
var (
	ErrOverlap         = errors.New("clips must not overlap")
	ErrNegativeTiming  = errors.New("clip timing must not be negative")
	ErrInvalidLength   = errors.New("clip length must be positive")
	ErrTrimOutOfBounds = errors.New("clip trim window is outside its source")
	ErrInvalidType     = errors.New("unknown clip type")
	ErrWrongChannel    = errors.New("clip type does not belong on this channel")
	ErrInvalidUUID     = errors.New("clip uuid must not be negative")
	ErrDuplicateUUID   = errors.New("clip uuid is used more than once")
)

// ValidationError ties an authoring violation to the clip that caused it.
type ValidationError struct {
	UUID    int64
	Channel int
	Err     error
	Detail  string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("clip %d on channel %d: %v", e.UUID, e.Channel, e.Err)
	}
	return fmt.Sprintf("clip %d on channel %d: %v (%s)", e.UUID, e.Channel, e.Err, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func violation(uuid int64, channel int, err error, format string, args ...any) *ValidationError {
	return &ValidationError{
		UUID:    uuid,
		Channel: channel,
		Err:     err,
		Detail:  fmt.Sprintf(format, args...),
	}
}
