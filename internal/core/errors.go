package core

import (
	"errors"

	"github.com/go4it/marketplace/internal/store"
)

// Error kinds returned by the control plane. Callers match them with
// errors.Is; the wrapped message carries the detail for display.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrAlreadyInProgress = errors.New("a deployment is already in progress")
	ErrAccessRequired    = errors.New("at least one member must be given access before launching")
	ErrAlreadyTaken      = errors.New("subdomain is already taken")
	ErrInvalidFormat     = errors.New("subdomain must be 1-30 characters of a-z, 0-9 and '-'")
	ErrInvalidMember     = errors.New("not a member of this organization")
	ErrConflict          = errors.New("the app was modified concurrently, try again")
	ErrProviderError     = errors.New("compute provider error")
	ErrTimeout           = errors.New("deployment timed out")
	ErrNotForkable       = errors.New("app has no generated source to modify")
	ErrInvalidTransition = errors.New("action not allowed in the current state")
	ErrNotOwner          = errors.New("owned by another user")
	ErrInvalidVersion    = errors.New("version must not be empty")
)

// kindError reports as its kind but still matches the store error it came
// from.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string   { return e.kind.Error() }
func (e *kindError) Unwrap() []error { return []error{e.kind, e.cause} }

// fromStore translates store sentinels into error kinds.
func fromStore(err error) error {
	var k *kindError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &k):
		return err
	case errors.Is(err, store.ErrNotFound):
		return &kindError{ErrNotFound, err}
	case errors.Is(err, store.ErrConflict):
		return &kindError{ErrConflict, err}
	case errors.Is(err, store.ErrAlreadyExists):
		return &kindError{ErrAlreadyExists, err}
	case errors.Is(err, store.ErrHostnameTaken):
		return &kindError{ErrAlreadyTaken, err}
	}
	return err
}

// retryOnConflict runs fn and, if it lost a compare-and-swap race, runs it
// exactly once more. fn must re-read and re-validate on every call.
func retryOnConflict(fn func() error) error {
	err := fn()
	if errors.Is(err, store.ErrConflict) {
		err = fn()
	}
	return fromStore(err)
}
