package syncer

import (
	"errors"
	"fmt"
)

// ErrConfig classifies invalid input: bad block ranges, unknown source types,
// invalid engine settings. It is never retried.
var ErrConfig = errors.New("configuration error")

func configError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// FetchError is returned once a log source call has exhausted its retries.
type FetchError struct {
	Op       string
	From     uint64
	To       uint64
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Op == opLatestBlock {
		return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s %d-%d failed after %d attempts: %v", e.Op, e.From, e.To, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
