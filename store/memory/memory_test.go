package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise/library-server/catalog"
	"github.com/shelfwise/library-server/circulation"
	"github.com/shelfwise/library-server/store/memory"
)

func seedBook(t *testing.T, store *memory.Store, copies int) *catalog.Book {
	t.Helper()
	now := time.Now().UTC()
	book := &catalog.Book{
		ID: uuid.New(), Title: "Dune", Author: "Frank Herbert",
		TotalCopies: copies, AvailableCopies: copies,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.SaveBook(context.Background(), book))
	return book
}

func TestWithTx_RestoresSnapshotOnError(t *testing.T) {
	// GIVEN: A transaction that mutates books and issues, then fails
	// WHEN: The callback returns an error
	// THEN: All mutations are rolled back

	store := memory.New()
	ctx := context.Background()
	book := seedBook(t, store, 2)

	sentinel := errors.New("boom")
	err := store.WithTx(ctx, func(s circulation.Store) error {
		if err := s.DecrementAvailable(ctx, book.ID); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := s.CreateIssue(ctx, &circulation.Issue{
			ID: uuid.New(), BookID: book.ID, UserID: uuid.New(),
			Status: circulation.StatusIssued, IssueDate: now,
			ReturnDate: now.AddDate(0, 1, 0), CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	got, err := store.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AvailableCopies)

	details, err := store.ListIssues(ctx, circulation.Filter{})
	require.NoError(t, err)
	assert.Empty(t, details)
}

func TestWithTx_CommitKeepsMutations(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	book := seedBook(t, store, 2)

	err := store.WithTx(ctx, func(s circulation.Store) error {
		return s.DecrementAvailable(ctx, book.ID)
	})
	require.NoError(t, err)

	got, err := store.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableCopies)
}

func TestDecrementAvailable_StopsAtZero(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	book := seedBook(t, store, 1)

	require.NoError(t, store.DecrementAvailable(ctx, book.ID))
	err := store.DecrementAvailable(ctx, book.ID)
	assert.ErrorIs(t, err, circulation.ErrNoCopiesAvailable)
}

func TestIncrementAvailable_BoundedByTotal(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	book := seedBook(t, store, 1)

	err := store.IncrementAvailable(ctx, book.ID)
	assert.ErrorIs(t, err, circulation.ErrLedgerInconsistent)
}
