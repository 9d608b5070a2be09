package election

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateVote       = errors.New("voter has already voted for this post")
	ErrElectionClosed      = errors.New("voting is closed: results have been announced")
	ErrContestantNotFound  = errors.New("contestant not found")
	ErrPostNotFound        = errors.New("post not found")
	ErrPostExists          = errors.New("a post with this name already exists")
	ErrResultsNotAnnounced = errors.New("results have not been announced")
	// ErrStorage marks a failed storage call. The operation was not applied and may be retried.
	ErrStorage = errors.New("storage failure")
)

// ValidationError reports a missing or malformed field on an admin request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// storageErr passes domain sentinels through and wraps anything else as ErrStorage.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrDuplicateVote, ErrElectionClosed, ErrContestantNotFound, ErrPostNotFound, ErrPostExists,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
