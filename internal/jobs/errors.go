package jobs

import "errors"

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrLeaseLost      = errors.New("job is not leased")
	ErrLeaseExpired   = errors.New("job lease expired")
	ErrJobTimeout     = errors.New("job exceeded its timeout")
	ErrUnknownQueue   = errors.New("unknown queue")
	ErrInvalidCron    = errors.New("invalid cron expression")
	ErrInvalidJob     = errors.New("invalid job")
	ErrRepeatNotFound = errors.New("repeat schedule not found")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: the store fails the job immediately
// instead of scheduling another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
