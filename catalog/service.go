/*
service.go - Staff-facing catalog operations

PURPOSE:
  Create, read, update, and delete catalog records. Copy-count changes
  triggered by edits are pushed down to the store so they apply atomically
  against the live ledger (a book may gain or lose copies while issues are
  being created concurrently).

SEE ALSO:
  - store.go: Persistence interface
  - api/handlers.go: HTTP surface
*/
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookInput carries the caller-editable fields of a Book.
type BookInput struct {
	Title         string
	Author        string
	Category      string
	PublishedYear int
	TotalCopies   int
}

// Service implements catalog operations over a Store.
type Service struct {
	store Store
	log   *zap.Logger
}

// NewService creates a new catalog service.
func NewService(store Store, log *zap.Logger) *Service {
	return &Service{store: store, log: log}
}

// AddBook creates a new catalog record. All copies start available.
func (s *Service) AddBook(ctx context.Context, in BookInput) (*Book, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	book := &Book{
		ID:              uuid.New(),
		Title:           in.Title,
		Author:          in.Author,
		Category:        in.Category,
		PublishedYear:   in.PublishedYear,
		TotalCopies:     in.TotalCopies,
		AvailableCopies: in.TotalCopies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.SaveBook(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to save book: %w", err)
	}

	s.log.Info("book added",
		zap.String("book_id", book.ID.String()),
		zap.String("title", book.Title),
		zap.Int("total_copies", book.TotalCopies))
	return book, nil
}

// GetBook returns a single book.
func (s *Service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	return s.store.GetBook(ctx, id)
}

// ListBooks returns all books ordered by title.
func (s *Service) ListBooks(ctx context.Context) ([]*Book, error) {
	return s.store.ListBooks(ctx)
}

// UpdateBook updates a book's descriptive fields and copy counts.
// A change to TotalCopies shifts AvailableCopies by the same delta; the
// store rejects the update if that would leave AvailableCopies negative
// (more copies on loan than the new total allows).
func (s *Service) UpdateBook(ctx context.Context, id uuid.UUID, in BookInput) (*Book, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	if err := s.store.UpdateBook(ctx, id, in); err != nil {
		return nil, err
	}

	s.log.Info("book updated", zap.String("book_id", id.String()))
	return s.store.GetBook(ctx, id)
}

// DeleteBook removes a book. Fails with ErrBookHasActiveIssues while any
// copy is still out on loan.
func (s *Service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteBook(ctx, id); err != nil {
		return err
	}
	s.log.Info("book deleted", zap.String("book_id", id.String()))
	return nil
}

func validateInput(in BookInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidBook)
	}
	if strings.TrimSpace(in.Author) == "" {
		return fmt.Errorf("%w: author is required", ErrInvalidBook)
	}
	if in.TotalCopies < 0 {
		return fmt.Errorf("%w: total copies must not be negative", ErrInvalidBook)
	}
	return nil
}
