/*
errors.go - Failure taxonomy for the circulation workflow

PURPOSE:
  All workflow error types in one place. Business-rule failures are caught
  at the API boundary and rendered as {success:false, message}; store and
  transaction failures surface as internal errors with a generic message.

CATEGORIES:
  InvalidInput   - missing or malformed required field
  NotFound       - referenced book, issue, or user absent
  Conflict       - duplicate active issue, or return of a returned issue
  LimitExceeded  - per-user borrow limit
  Unavailable    - no copies left
  Internal       - everything else

USAGE:
  if circulation.IsClientError(err) { ... 400 ... }
*/
package circulation

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shelfwise/library-server/auth"
	"github.com/shelfwise/library-server/catalog"
)

// Sentinel errors. Use with errors.Is().
var (
	// ErrInvalidInput is returned for missing or unparseable request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIssueNotFound is returned when a referenced issue does not exist
	// or belongs to a different user/book than claimed.
	ErrIssueNotFound = errors.New("issue not found")

	// ErrAlreadyIssued is returned when the user already holds an active
	// issue for the same book.
	ErrAlreadyIssued = errors.New("book already issued to this user")

	// ErrAlreadyReturned is returned when returning an issue that is not
	// active. Guards against double-incrementing the available count.
	ErrAlreadyReturned = errors.New("issue already returned")

	// ErrNoCopiesAvailable is returned when the conditional decrement finds
	// no copy to reserve.
	ErrNoCopiesAvailable = errors.New("no copies available")

	// ErrLedgerInconsistent is returned when an increment would push
	// AvailableCopies past TotalCopies. Indicates a bug or manual data
	// edit, never a client mistake.
	ErrLedgerInconsistent = errors.New("ledger inconsistent: available copies would exceed total")
)

// BorrowLimitError reports a user at the active-issue limit.
type BorrowLimitError struct {
	UserID uuid.UUID
	Active int
	Limit  int
}

func (e *BorrowLimitError) Error() string {
	return fmt.Sprintf("borrow limit reached: %d of %d books issued", e.Active, e.Limit)
}

// ErrBorrowLimitExceeded is the sentinel BorrowLimitError unwraps to.
var ErrBorrowLimitExceeded = errors.New("borrow limit exceeded")

func (e *BorrowLimitError) Unwrap() error { return ErrBorrowLimitExceeded }

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrIssueNotFound) ||
		errors.Is(err, catalog.ErrBookNotFound) ||
		errors.Is(err, auth.ErrUserNotFound)
}

// IsConflict returns true if the error indicates a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyIssued) ||
		errors.Is(err, ErrAlreadyReturned) ||
		errors.Is(err, catalog.ErrBookHasActiveIssues)
}

// IsClientError returns true if the error is due to invalid client input
// or a business-rule rejection, as opposed to a store failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrBorrowLimitExceeded) ||
		errors.Is(err, ErrNoCopiesAvailable) ||
		errors.Is(err, catalog.ErrInvalidBook) ||
		errors.Is(err, catalog.ErrCopiesBelowCirculation) ||
		IsNotFound(err) ||
		IsConflict(err)
}
