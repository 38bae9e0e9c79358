package catalog_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelfwise/library-server/catalog"
	"github.com/shelfwise/library-server/store/memory"
)

func newTestService(t *testing.T) *catalog.Service {
	t.Helper()
	return catalog.NewService(memory.New(), zap.NewNop())
}

func validInput() catalog.BookInput {
	return catalog.BookInput{
		Title:         "A Wizard of Earthsea",
		Author:        "Ursula K. Le Guin",
		Category:      "fantasy",
		PublishedYear: 1968,
		TotalCopies:   3,
	}
}

func TestAddBook_AllCopiesStartAvailable(t *testing.T) {
	svc := newTestService(t)

	book, err := svc.AddBook(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, 3, book.TotalCopies)
	assert.Equal(t, 3, book.AvailableCopies)
	assert.NotZero(t, book.ID)
	assert.False(t, book.CreatedAt.IsZero())
}

func TestAddBook_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*catalog.BookInput)
	}{
		{"missing title", func(in *catalog.BookInput) { in.Title = "  " }},
		{"missing author", func(in *catalog.BookInput) { in.Author = "" }},
		{"negative copies", func(in *catalog.BookInput) { in.TotalCopies = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.AddBook(ctx, in)
			assert.ErrorIs(t, err, catalog.ErrInvalidBook)
		})
	}
}

func TestGetBook_Unknown(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GetBook(context.Background(), uuid.New())
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)
}

func TestUpdateBook_RaisingTotalRaisesAvailable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, validInput())
	require.NoError(t, err)

	in := validInput()
	in.TotalCopies = 5
	updated, err := svc.UpdateBook(ctx, book.ID, in)
	require.NoError(t, err)

	assert.Equal(t, 5, updated.TotalCopies)
	assert.Equal(t, 5, updated.AvailableCopies)
}

func TestUpdateBook_DescriptiveFields(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, validInput())
	require.NoError(t, err)

	in := validInput()
	in.Title = "The Tombs of Atuan"
	in.PublishedYear = 1971
	updated, err := svc.UpdateBook(ctx, book.ID, in)
	require.NoError(t, err)

	assert.Equal(t, "The Tombs of Atuan", updated.Title)
	assert.Equal(t, 1971, updated.PublishedYear)
	assert.Equal(t, 3, updated.AvailableCopies, "copy counts unchanged")
}

func TestDeleteBook(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, validInput())
	require.NoError(t, err)

	require.NoError(t, svc.DeleteBook(ctx, book.ID))
	_, err = svc.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)
}
