package account

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrKeyMaterialExists   = errors.New("account already holds key material")
	ErrReferenceApplied    = errors.New("reference already applied to balance")
	// ErrStoreUnavailable marks backend failures the caller may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// StoreError wraps a driver error. It matches ErrStoreUnavailable with errors.Is
// and unwraps to the driver error.
type StoreError struct {
	Op  string
	Err error
}

// Unavailable wraps err as a retryable StoreError. It returns nil for nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}

	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable //nolint:errorlint // sentinel identity
}
