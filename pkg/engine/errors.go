package engine

import (
	"errors"
	"fmt"

	"github.com/timothyplummer/talesofvalor/pkg/eligibility"
	"github.com/timothyplummer/talesofvalor/pkg/grants"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/store"
)

var (
	ErrPrerequisiteNotMet     = errors.New("engine: prerequisites not met")
	ErrUnknownCharacter       = errors.New("engine: unknown character")
	ErrConcurrentModification = errors.New("engine: concurrent modification")
	ErrForbidden              = errors.New("engine: forbidden")

	ErrInsufficientPoints  = ledger.ErrInsufficientPoints
	ErrUnknownTarget       = eligibility.ErrUnknownTarget
	ErrGrantExhausted      = grants.ErrExhausted
	ErrOriginCategoryTaken = ledger.ErrOriginCategoryTaken
	ErrAlreadyOwned        = ledger.ErrAlreadyOwned
	ErrInvalidAmount       = ledger.ErrInvalidAmount
)

// DeniedError is returned when a purchase is refused. Nothing was changed.
// It matches ErrPrerequisiteNotMet or ErrInsufficientPoints.
type DeniedError struct {
	Decision eligibility.Decision
	cause    error
}

func denyPrerequisites(d eligibility.Decision) *DeniedError {
	return &DeniedError{Decision: d, cause: d.Err()}
}

func denyPoints(d eligibility.Decision, err error) *DeniedError {
	return &DeniedError{Decision: d, cause: err}
}

func (e *DeniedError) Error() string {
	return e.cause.Error()
}

func (e *DeniedError) Unwrap() []error {
	if errors.Is(e.cause, ledger.ErrInsufficientPoints) {
		return []error{e.cause}
	}
	return []error{ErrPrerequisiteNotMet, e.cause}
}

// translate maps store failures onto the engine's errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConcurrentModification, err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrUnknownCharacter, err)
	}
	return err
}
