/*
store.go - Persistence interface for the circulation workflow

PURPOSE:
  Defines what the workflow needs from the database: issue CRUD, the two
  conditional copy-count updates, and a transactional wrapper so an issue
  write and its ledger adjustment commit or roll back together.

CONDITIONAL UPDATES:
  DecrementAvailable and IncrementAvailable are compare-and-set style
  statements (decrement only while available > 0, increment only while
  available < total). The workflow never trusts a previously read count
  when applying the write.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - store/memory: In-memory for tests

SEE ALSO:
  - workflow.go: The only consumer
*/
package circulation

import (
	"context"

	"github.com/google/uuid"

	"github.com/shelfwise/library-server/auth"
	"github.com/shelfwise/library-server/catalog"
)

// Store handles persistence for the circulation workflow.
type Store interface {
	// GetBook returns a book by ID, or catalog.ErrBookNotFound.
	GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error)

	// GetUser returns a user by ID, or auth.ErrUserNotFound.
	GetUser(ctx context.Context, id uuid.UUID) (*auth.User, error)

	// DecrementAvailable atomically reserves one copy. Returns
	// ErrNoCopiesAvailable if none is left, catalog.ErrBookNotFound if the
	// book does not exist.
	DecrementAvailable(ctx context.Context, bookID uuid.UUID) error

	// IncrementAvailable atomically releases one copy. Returns
	// ErrLedgerInconsistent if the count is already at TotalCopies,
	// catalog.ErrBookNotFound if the book does not exist.
	IncrementAvailable(ctx context.Context, bookID uuid.UUID) error

	// CreateIssue inserts a new issue. Returns ErrAlreadyIssued if an
	// active issue for the same (user, book) already exists.
	CreateIssue(ctx context.Context, issue *Issue) error

	// GetIssue returns an issue by ID, or ErrIssueNotFound.
	GetIssue(ctx context.Context, id uuid.UUID) (*Issue, error)

	// UpdateIssue persists changed fields of an existing issue.
	// Returns ErrIssueNotFound if it no longer exists.
	UpdateIssue(ctx context.Context, issue *Issue) error

	// DeleteIssue removes an issue. Returns ErrIssueNotFound if absent.
	DeleteIssue(ctx context.Context, id uuid.UUID) error

	// ActiveIssueExists reports whether the user holds an active issue
	// for the book.
	ActiveIssueExists(ctx context.Context, userID, bookID uuid.UUID) (bool, error)

	// CountActiveIssues returns how many active issues the user holds.
	CountActiveIssues(ctx context.Context, userID uuid.UUID) (int, error)

	// ListIssues returns issues matching the filter with book and user
	// references resolved, ordered by issue date descending.
	ListIssues(ctx context.Context, filter Filter) ([]*IssueDetail, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed. The Store passed to
	// fn runs every operation inside that transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}
