package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise/library-server/auth"
	"github.com/shelfwise/library-server/catalog"
	"github.com/shelfwise/library-server/circulation"
	"github.com/shelfwise/library-server/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func insertBook(t *testing.T, store *sqlite.Store, copies int) *catalog.Book {
	t.Helper()
	now := time.Now().UTC()
	book := &catalog.Book{
		ID:              uuid.New(),
		Title:           "The Left Hand of Darkness",
		Author:          "Ursula K. Le Guin",
		Category:        "scifi",
		PublishedYear:   1969,
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, store.SaveBook(context.Background(), book))
	return book
}

func insertUser(t *testing.T, store *sqlite.Store, email string) *auth.User {
	t.Helper()
	user := &auth.User{
		ID:           uuid.New(),
		Name:         "Test User",
		Email:        email,
		PasswordHash: "irrelevant",
		Role:         auth.RolePatron,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.SaveUser(context.Background(), user))
	return user
}

func insertIssue(t *testing.T, store *sqlite.Store, userID, bookID uuid.UUID, status circulation.Status, issueDate time.Time) *circulation.Issue {
	t.Helper()
	now := time.Now().UTC()
	issue := &circulation.Issue{
		ID:         uuid.New(),
		BookID:     bookID,
		UserID:     userID,
		Status:     status,
		IssueDate:  issueDate,
		ReturnDate: issueDate.AddDate(0, 1, 0),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if status == circulation.StatusReturned {
		returned := issueDate.AddDate(0, 0, 7)
		issue.ReturnedDate = &returned
	}
	require.NoError(t, store.CreateIssue(context.Background(), issue))
	return issue
}

func available(t *testing.T, store *sqlite.Store, bookID uuid.UUID) int {
	t.Helper()
	book, err := store.GetBook(context.Background(), bookID)
	require.NoError(t, err)
	return book.AvailableCopies
}

// =============================================================================
// CONDITIONAL UPDATE TESTS
// =============================================================================

func TestDecrementAvailable_StopsAtZero(t *testing.T) {
	// GIVEN: A book with a single copy
	// WHEN: Decrementing twice
	// THEN: The first succeeds, the second reports no copies, count stays 0

	store := newTestStore(t)
	ctx := context.Background()
	book := insertBook(t, store, 1)

	require.NoError(t, store.DecrementAvailable(ctx, book.ID))

	err := store.DecrementAvailable(ctx, book.ID)
	assert.ErrorIs(t, err, circulation.ErrNoCopiesAvailable)
	assert.Equal(t, 0, available(t, store, book.ID))
}

func TestDecrementAvailable_UnknownBook(t *testing.T) {
	store := newTestStore(t)
	err := store.DecrementAvailable(context.Background(), uuid.New())
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)
}

func TestDecrementAvailable_ConcurrentCallers_ExactlyNSucceed(t *testing.T) {
	// GIVEN: A book with 3 copies and 10 concurrent decrements
	// WHEN: All goroutines race on the conditional update
	// THEN: Exactly 3 succeed and the count lands on 0, never below

	store := newTestStore(t)
	ctx := context.Background()
	book := insertBook(t, store, 3)

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.DecrementAvailable(ctx, book.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, circulation.ErrNoCopiesAvailable)
		}
	}
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 0, available(t, store, book.ID))
}

func TestIncrementAvailable_BoundedByTotal(t *testing.T) {
	// An increment past total_copies signals a corrupted ledger, not a
	// silent overcount.

	store := newTestStore(t)
	ctx := context.Background()
	book := insertBook(t, store, 2)

	require.NoError(t, store.DecrementAvailable(ctx, book.ID))
	require.NoError(t, store.IncrementAvailable(ctx, book.ID))

	err := store.IncrementAvailable(ctx, book.ID)
	assert.ErrorIs(t, err, circulation.ErrLedgerInconsistent)
	assert.Equal(t, 2, available(t, store, book.ID))
}

// =============================================================================
// SCHEMA CONSTRAINT TESTS
// =============================================================================

func TestCreateIssue_DuplicateActive_UniqueIndex(t *testing.T) {
	// The partial unique index is the backstop for one active issue per
	// (user, book) pair even if a caller skips the workflow checks.

	store := newTestStore(t)
	user := insertUser(t, store, "reader@example.com")
	book := insertBook(t, store, 5)

	insertIssue(t, store, user.ID, book.ID, circulation.StatusIssued, time.Now().UTC())

	dup := &circulation.Issue{
		ID:         uuid.New(),
		BookID:     book.ID,
		UserID:     user.ID,
		Status:     circulation.StatusIssued,
		IssueDate:  time.Now().UTC(),
		ReturnDate: time.Now().UTC().AddDate(0, 1, 0),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	err := store.CreateIssue(context.Background(), dup)
	assert.ErrorIs(t, err, circulation.ErrAlreadyIssued)
}

func TestCreateIssue_ReturnedIssuesDoNotBlockReissue(t *testing.T) {
	// The index only covers status='issued'; history rows are fine.

	store := newTestStore(t)
	user := insertUser(t, store, "reader@example.com")
	book := insertBook(t, store, 5)

	insertIssue(t, store, user.ID, book.ID, circulation.StatusReturned, time.Now().UTC().AddDate(0, 0, -30))
	insertIssue(t, store, user.ID, book.ID, circulation.StatusIssued, time.Now().UTC())
}

func TestSaveUser_DuplicateEmail(t *testing.T) {
	store := newTestStore(t)
	insertUser(t, store, "taken@example.com")

	dup := &auth.User{
		ID:           uuid.New(),
		Name:         "Second",
		Email:        "taken@example.com",
		PasswordHash: "x",
		Role:         auth.RolePatron,
		CreatedAt:    time.Now().UTC(),
	}
	err := store.SaveUser(context.Background(), dup)
	assert.ErrorIs(t, err, auth.ErrEmailExists)
}

// =============================================================================
// BOOK CRUD TESTS
// =============================================================================

func TestBook_SaveAndGet_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	book := insertBook(t, store, 4)

	got, err := store.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, book.ID, got.ID)
	assert.Equal(t, book.Title, got.Title)
	assert.Equal(t, book.Author, got.Author)
	assert.Equal(t, book.Category, got.Category)
	assert.Equal(t, book.PublishedYear, got.PublishedYear)
	assert.Equal(t, 4, got.TotalCopies)
	assert.Equal(t, 4, got.AvailableCopies)
}

func TestGetBook_Unknown(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetBook(context.Background(), uuid.New())
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)
}

func TestUpdateBook_TotalCopiesDeltaShiftsAvailable(t *testing.T) {
	// GIVEN: 3 total copies, 1 on loan (available = 2)
	// WHEN: Raising total to 5
	// THEN: Available rises by the same delta (to 4), loans unaffected

	store := newTestStore(t)
	ctx := context.Background()
	book := insertBook(t, store, 3)
	require.NoError(t, store.DecrementAvailable(ctx, book.ID))

	err := store.UpdateBook(ctx, book.ID, catalog.BookInput{
		Title:         book.Title,
		Author:        book.Author,
		Category:      book.Category,
		PublishedYear: book.PublishedYear,
		TotalCopies:   5,
	})
	require.NoError(t, err)

	got, err := store.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.TotalCopies)
	assert.Equal(t, 4, got.AvailableCopies)
}

func TestUpdateBook_CannotShrinkBelowCirculation(t *testing.T) {
	// GIVEN: 3 total copies, 2 on loan
	// WHEN: Shrinking total to 1
	// THEN: Rejected; the update would make available negative

	store := newTestStore(t)
	ctx := context.Background()
	book := insertBook(t, store, 3)
	require.NoError(t, store.DecrementAvailable(ctx, book.ID))
	require.NoError(t, store.DecrementAvailable(ctx, book.ID))

	err := store.UpdateBook(ctx, book.ID, catalog.BookInput{
		Title:       book.Title,
		Author:      book.Author,
		TotalCopies: 1,
	})
	assert.ErrorIs(t, err, catalog.ErrCopiesBelowCirculation)

	got, err := store.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalCopies)
	assert.Equal(t, 1, got.AvailableCopies)
}

func TestUpdateBook_Unknown(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateBook(context.Background(), uuid.New(), catalog.BookInput{
		Title: "x", Author: "y", TotalCopies: 1,
	})
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)
}

func TestDeleteBook_BlockedByActiveIssues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := insertUser(t, store, "reader@example.com")
	book := insertBook(t, store, 2)
	insertIssue(t, store, user.ID, book.ID, circulation.StatusIssued, time.Now().UTC())

	err := store.DeleteBook(ctx, book.ID)
	assert.ErrorIs(t, err, catalog.ErrBookHasActiveIssues)

	_, err = store.GetBook(ctx, book.ID)
	assert.NoError(t, err)
}

func TestDeleteBook_CascadesIssueHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := insertUser(t, store, "reader@example.com")
	book := insertBook(t, store, 2)
	old := insertIssue(t, store, user.ID, book.ID, circulation.StatusReturned, time.Now().UTC().AddDate(0, 0, -10))

	require.NoError(t, store.DeleteBook(ctx, book.ID))

	_, err := store.GetIssue(ctx, old.ID)
	assert.ErrorIs(t, err, circulation.ErrIssueNotFound)
}

func TestListBooks_OrderedByTitle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, title := range []string{"Neuromancer", "Accelerando", "Snow Crash"} {
		require.NoError(t, store.SaveBook(ctx, &catalog.Book{
			ID: uuid.New(), Title: title, Author: "a",
			TotalCopies: 1, AvailableCopies: 1,
			CreatedAt: now, UpdatedAt: now,
		}))
	}

	books, err := store.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 3)
	assert.Equal(t, "Accelerando", books[0].Title)
	assert.Equal(t, "Neuromancer", books[1].Title)
	assert.Equal(t, "Snow Crash", books[2].Title)
}

// =============================================================================
// ISSUE QUERY TESTS
// =============================================================================

func TestListIssues_FilterAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := insertUser(t, store, "alice@example.com")
	bob := insertUser(t, store, "bob@example.com")
	book := insertBook(t, store, 5)
	other := insertBook(t, store, 5)

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	oldest := insertIssue(t, store, alice.ID, book.ID, circulation.StatusReturned, base)
	middle := insertIssue(t, store, bob.ID, book.ID, circulation.StatusIssued, base.AddDate(0, 0, 1))
	newest := insertIssue(t, store, alice.ID, other.ID, circulation.StatusIssued, base.AddDate(0, 0, 2))

	all, err := store.ListIssues(ctx, circulation.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, newest.ID, all[0].ID, "newest first")
	assert.Equal(t, middle.ID, all[1].ID)
	assert.Equal(t, oldest.ID, all[2].ID)

	// References come back resolved from the join.
	assert.Equal(t, "alice@example.com", all[0].User.Email)
	assert.Equal(t, other.ID, all[0].Book.ID)

	byUser, err := store.ListIssues(ctx, circulation.Filter{UserID: &alice.ID})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	issued := circulation.StatusIssued
	byUserAndStatus, err := store.ListIssues(ctx, circulation.Filter{UserID: &alice.ID, Status: &issued})
	require.NoError(t, err)
	require.Len(t, byUserAndStatus, 1)
	assert.Equal(t, newest.ID, byUserAndStatus[0].ID)
}

func TestGetIssue_ReturnedDateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := insertUser(t, store, "reader@example.com")
	book := insertBook(t, store, 1)
	issue := insertIssue(t, store, user.ID, book.ID, circulation.StatusReturned, time.Now().UTC())

	got, err := store.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReturnedDate)
	assert.WithinDuration(t, *issue.ReturnedDate, *got.ReturnedDate, time.Second)
}

func TestUpdateIssue_Unknown(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateIssue(context.Background(), &circulation.Issue{
		ID: uuid.New(), Status: circulation.StatusReturned,
	})
	assert.ErrorIs(t, err, circulation.ErrIssueNotFound)
}

func TestCountActiveIssues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := insertUser(t, store, "reader@example.com")
	b1 := insertBook(t, store, 1)
	b2 := insertBook(t, store, 1)
	b3 := insertBook(t, store, 1)

	insertIssue(t, store, user.ID, b1.ID, circulation.StatusIssued, time.Now().UTC())
	insertIssue(t, store, user.ID, b2.ID, circulation.StatusIssued, time.Now().UTC())
	insertIssue(t, store, user.ID, b3.ID, circulation.StatusReturned, time.Now().UTC())

	count, err := store.CountActiveIssues(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "returned issues do not count")
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A transaction that decrements and then fails
	// WHEN: The callback returns an error
	// THEN: The decrement is rolled back

	store := newTestStore(t)
	ctx := context.Background()
	book := insertBook(t, store, 2)

	sentinel := errors.New("boom")
	err := store.WithTx(ctx, func(s circulation.Store) error {
		if err := s.DecrementAvailable(ctx, book.ID); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, available(t, store, book.ID))
}

func TestWithTx_CommitOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	book := insertBook(t, store, 2)
	user := insertUser(t, store, "reader@example.com")

	err := store.WithTx(ctx, func(s circulation.Store) error {
		if err := s.DecrementAvailable(ctx, book.ID); err != nil {
			return err
		}
		now := time.Now().UTC()
		return s.CreateIssue(ctx, &circulation.Issue{
			ID: uuid.New(), BookID: book.ID, UserID: user.ID,
			Status: circulation.StatusIssued, IssueDate: now,
			ReturnDate: now.AddDate(0, 1, 0), CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)

	assert.Equal(t, 1, available(t, store, book.ID))
	count, err := store.CountActiveIssues(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWithTx_NestedCallsReuseTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	book := insertBook(t, store, 1)

	err := store.WithTx(ctx, func(s circulation.Store) error {
		return s.WithTx(ctx, func(inner circulation.Store) error {
			return inner.DecrementAvailable(ctx, book.ID)
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 0, available(t, store, book.ID))
}
