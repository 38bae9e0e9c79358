// Package memory provides an in-memory Store implementation (for testing/dev).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shelfwise/library-server/auth"
	"github.com/shelfwise/library-server/catalog"
	"github.com/shelfwise/library-server/circulation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation of all storage interfaces
// =============================================================================

// Store keeps everything in maps guarded by a single mutex. WithTx takes a
// deep copy of the state up front and restores it if fn fails, which gives
// the same all-or-nothing semantics as a database transaction.
type Store struct {
	mu   *sync.Mutex
	d    *data
	inTx bool
}

type data struct {
	books  map[uuid.UUID]catalog.Book
	users  map[uuid.UUID]auth.User
	issues map[uuid.UUID]circulation.Issue
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		mu: &sync.Mutex{},
		d: &data{
			books:  make(map[uuid.UUID]catalog.Book),
			users:  make(map[uuid.UUID]auth.User),
			issues: make(map[uuid.UUID]circulation.Issue),
		},
	}
}

func (d *data) clone() *data {
	c := &data{
		books:  make(map[uuid.UUID]catalog.Book, len(d.books)),
		users:  make(map[uuid.UUID]auth.User, len(d.users)),
		issues: make(map[uuid.UUID]circulation.Issue, len(d.issues)),
	}
	for k, v := range d.books {
		c.books[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.issues {
		c.issues[k] = v
	}
	return c
}

// lock is a no-op inside WithTx, which already holds the mutex.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithTx runs fn against the live state under the lock and rolls the state
// back to a snapshot if fn returns an error.
func (s *Store) WithTx(_ context.Context, fn func(circulation.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	if err := fn(&Store{mu: s.mu, d: s.d, inTx: true}); err != nil {
		*s.d = *snapshot
		return err
	}
	return nil
}

// =============================================================================
// BOOKS
// =============================================================================

func (s *Store) SaveBook(_ context.Context, book *catalog.Book) error {
	defer s.lock()()
	s.d.books[book.ID] = *book
	return nil
}

func (s *Store) GetBook(_ context.Context, id uuid.UUID) (*catalog.Book, error) {
	defer s.lock()()
	book, ok := s.d.books[id]
	if !ok {
		return nil, catalog.ErrBookNotFound
	}
	return &book, nil
}

func (s *Store) ListBooks(_ context.Context) ([]*catalog.Book, error) {
	defer s.lock()()
	books := make([]*catalog.Book, 0, len(s.d.books))
	for id := range s.d.books {
		book := s.d.books[id]
		books = append(books, &book)
	}
	sort.Slice(books, func(i, j int) bool {
		return strings.ToLower(books[i].Title) < strings.ToLower(books[j].Title)
	})
	return books, nil
}

func (s *Store) UpdateBook(_ context.Context, id uuid.UUID, in catalog.BookInput) error {
	defer s.lock()()
	book, ok := s.d.books[id]
	if !ok {
		return catalog.ErrBookNotFound
	}
	newAvailable := book.AvailableCopies + (in.TotalCopies - book.TotalCopies)
	if newAvailable < 0 {
		return catalog.ErrCopiesBelowCirculation
	}
	book.Title = in.Title
	book.Author = in.Author
	book.Category = in.Category
	book.PublishedYear = in.PublishedYear
	book.TotalCopies = in.TotalCopies
	book.AvailableCopies = newAvailable
	s.d.books[id] = book
	return nil
}

func (s *Store) DeleteBook(_ context.Context, id uuid.UUID) error {
	defer s.lock()()
	if _, ok := s.d.books[id]; !ok {
		return catalog.ErrBookNotFound
	}
	for _, issue := range s.d.issues {
		if issue.BookID == id && issue.Status == circulation.StatusIssued {
			return catalog.ErrBookHasActiveIssues
		}
	}
	delete(s.d.books, id)
	for issueID, issue := range s.d.issues {
		if issue.BookID == id {
			delete(s.d.issues, issueID)
		}
	}
	return nil
}

func (s *Store) DecrementAvailable(_ context.Context, bookID uuid.UUID) error {
	defer s.lock()()
	book, ok := s.d.books[bookID]
	if !ok {
		return catalog.ErrBookNotFound
	}
	if book.AvailableCopies <= 0 {
		return circulation.ErrNoCopiesAvailable
	}
	book.AvailableCopies--
	s.d.books[bookID] = book
	return nil
}

func (s *Store) IncrementAvailable(_ context.Context, bookID uuid.UUID) error {
	defer s.lock()()
	book, ok := s.d.books[bookID]
	if !ok {
		return catalog.ErrBookNotFound
	}
	if book.AvailableCopies >= book.TotalCopies {
		return circulation.ErrLedgerInconsistent
	}
	book.AvailableCopies++
	s.d.books[bookID] = book
	return nil
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) SaveUser(_ context.Context, user *auth.User) error {
	defer s.lock()()
	for _, existing := range s.d.users {
		if existing.Email == user.Email {
			return auth.ErrEmailExists
		}
	}
	s.d.users[user.ID] = *user
	return nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*auth.User, error) {
	defer s.lock()()
	user, ok := s.d.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*auth.User, error) {
	defer s.lock()()
	for _, user := range s.d.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

// =============================================================================
// ISSUES
// =============================================================================

func (s *Store) CreateIssue(_ context.Context, issue *circulation.Issue) error {
	defer s.lock()()
	if issue.Status == circulation.StatusIssued {
		for _, existing := range s.d.issues {
			if existing.UserID == issue.UserID && existing.BookID == issue.BookID &&
				existing.Status == circulation.StatusIssued {
				return circulation.ErrAlreadyIssued
			}
		}
	}
	s.d.issues[issue.ID] = *issue
	return nil
}

func (s *Store) GetIssue(_ context.Context, id uuid.UUID) (*circulation.Issue, error) {
	defer s.lock()()
	issue, ok := s.d.issues[id]
	if !ok {
		return nil, circulation.ErrIssueNotFound
	}
	return &issue, nil
}

func (s *Store) UpdateIssue(_ context.Context, issue *circulation.Issue) error {
	defer s.lock()()
	if _, ok := s.d.issues[issue.ID]; !ok {
		return circulation.ErrIssueNotFound
	}
	if issue.Status == circulation.StatusIssued {
		for id, existing := range s.d.issues {
			if id != issue.ID && existing.UserID == issue.UserID &&
				existing.BookID == issue.BookID &&
				existing.Status == circulation.StatusIssued {
				return circulation.ErrAlreadyIssued
			}
		}
	}
	s.d.issues[issue.ID] = *issue
	return nil
}

func (s *Store) DeleteIssue(_ context.Context, id uuid.UUID) error {
	defer s.lock()()
	if _, ok := s.d.issues[id]; !ok {
		return circulation.ErrIssueNotFound
	}
	delete(s.d.issues, id)
	return nil
}

func (s *Store) ActiveIssueExists(_ context.Context, userID, bookID uuid.UUID) (bool, error) {
	defer s.lock()()
	for _, issue := range s.d.issues {
		if issue.UserID == userID && issue.BookID == bookID &&
			issue.Status == circulation.StatusIssued {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CountActiveIssues(_ context.Context, userID uuid.UUID) (int, error) {
	defer s.lock()()
	count := 0
	for _, issue := range s.d.issues {
		if issue.UserID == userID && issue.Status == circulation.StatusIssued {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListIssues(_ context.Context, filter circulation.Filter) ([]*circulation.IssueDetail, error) {
	defer s.lock()()
	var details []*circulation.IssueDetail
	for id := range s.d.issues {
		issue := s.d.issues[id]
		if filter.ID != nil && issue.ID != *filter.ID {
			continue
		}
		if filter.UserID != nil && issue.UserID != *filter.UserID {
			continue
		}
		if filter.BookID != nil && issue.BookID != *filter.BookID {
			continue
		}
		if filter.Status != nil && issue.Status != *filter.Status {
			continue
		}
		book, ok := s.d.books[issue.BookID]
		if !ok {
			return nil, catalog.ErrBookNotFound
		}
		user, ok := s.d.users[issue.UserID]
		if !ok {
			return nil, auth.ErrUserNotFound
		}
		details = append(details, &circulation.IssueDetail{
			Issue: issue,
			Book:  &book,
			User:  &user,
		})
	}
	sort.Slice(details, func(i, j int) bool {
		return details[i].IssueDate.After(details[j].IssueDate)
	})
	return details, nil
}
