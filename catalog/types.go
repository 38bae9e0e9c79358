/*
Package catalog manages book records and their copy-count ledger.

PURPOSE:
  A Book carries two counters: TotalCopies (how many the library owns) and
  AvailableCopies (how many sit on the shelf right now). The circulation
  workflow reserves and releases copies; this package owns the records and
  the staff-facing CRUD operations.

INVARIANT:
  0 <= AvailableCopies <= TotalCopies

  AvailableCopies is only ever changed through conditional store updates
  (decrement-if-positive, increment-if-below-total), never through a
  read-then-write on a previously loaded Book.

SEE ALSO:
  - circulation/workflow.go: Reserves/releases copies during issue/return
  - store/sqlite/sqlite.go: Conditional UPDATE implementations
*/
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Book is a catalog record.
type Book struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Category        string    `json:"category,omitempty"`
	PublishedYear   int       `json:"published_year,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Sentinel errors for catalog operations. Use with errors.Is().
var (
	// ErrBookNotFound is returned when a referenced book does not exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrBookHasActiveIssues is returned when deleting a book that still
	// has copies out on loan.
	ErrBookHasActiveIssues = errors.New("book has active issues")

	// ErrCopiesBelowCirculation is returned when an update would set
	// TotalCopies lower than the number of copies currently on loan.
	ErrCopiesBelowCirculation = errors.New("total copies below copies in circulation")

	// ErrInvalidBook is returned for malformed book input.
	ErrInvalidBook = errors.New("invalid book")
)
