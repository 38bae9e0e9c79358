/*
Package circulation implements the book-issuing workflow.

PURPOSE:
  Issues link a user to a book with a two-state lifecycle (issued ->
  returned). The workflow keeps the issue set and the catalog's
  available-copy counts mutually consistent: every active issue corresponds
  to exactly one copy reserved, every return or deletion to exactly one
  copy released.

INVARIANTS:
  1. At most one issue with status=issued per (user, book) pair.
  2. At most MaxActiveIssues issues with status=issued per user.
  3. Copy counts only move together with an issue write, inside a single
     store transaction.

SEE ALSO:
  - workflow.go: Operation contracts and validation order
  - errors.go: Failure taxonomy
  - store.go: Persistence interface
*/
package circulation

import (
	"time"

	"github.com/google/uuid"

	"github.com/shelfwise/library-server/auth"
	"github.com/shelfwise/library-server/catalog"
)

// MaxActiveIssues is the per-user borrow limit.
const MaxActiveIssues = 2

// Status is the issue lifecycle state.
type Status string

const (
	StatusIssued   Status = "issued"
	StatusReturned Status = "returned"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusIssued || s == StatusReturned
}

// Issue is a borrowing record.
type Issue struct {
	ID           uuid.UUID  `json:"id"`
	BookID       uuid.UUID  `json:"book_id"`
	UserID       uuid.UUID  `json:"user_id"`
	Status       Status     `json:"status"`
	IssueDate    time.Time  `json:"issue_date"`
	ReturnDate   time.Time  `json:"return_date"`              // due date, set at creation
	ReturnedDate *time.Time `json:"returned_date,omitempty"` // set on return
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Active reports whether the issue still holds a reserved copy.
func (i *Issue) Active() bool {
	return i.Status == StatusIssued
}

// IssueDetail is an issue with its book and user references resolved.
type IssueDetail struct {
	Issue
	Book *catalog.Book `json:"book"`
	User *auth.User    `json:"user"`
}

// Filter selects issues by equality on any combination of fields.
// Nil fields match everything.
type Filter struct {
	ID     *uuid.UUID
	UserID *uuid.UUID
	BookID *uuid.UUID
	Status *Status
}

// Patch is the constrained field set EditIssue accepts. Nil fields are
// left unchanged. Status changes route through the same guarded
// transitions as ReturnBook, so the ledger cannot drift.
type Patch struct {
	Status       *Status
	ReturnDate   *time.Time
	ReturnedDate *time.Time
}
