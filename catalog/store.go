package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Store handles persistence of catalog records.
//
// UpdateBook and DeleteBook are single atomic statements in every
// implementation: the copy-count adjustment and the active-issue guard
// run inside the store so callers never race a concurrent checkout.
type Store interface {
	// SaveBook inserts a new book.
	SaveBook(ctx context.Context, book *Book) error

	// GetBook returns a book by ID, or ErrBookNotFound.
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)

	// ListBooks returns all books ordered by title.
	ListBooks(ctx context.Context) ([]*Book, error)

	// UpdateBook updates descriptive fields and shifts AvailableCopies by
	// the TotalCopies delta. Returns ErrCopiesBelowCirculation if the shift
	// would make AvailableCopies negative.
	UpdateBook(ctx context.Context, id uuid.UUID, in BookInput) error

	// DeleteBook removes a book. Returns ErrBookHasActiveIssues if any
	// issue for it still has status=issued.
	DeleteBook(ctx context.Context, id uuid.UUID) error
}
