/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements catalog.Store, auth.UserStore, and circulation.Store on a
  single database. The same SQL patterns apply to PostgreSQL with minor
  dialect changes.

CONDITIONAL UPDATES:
  Copy counts are never written from a previously read value. The
  decrement runs as
      UPDATE books SET available_copies = available_copies - 1
      WHERE id = ? AND available_copies > 0
  so two concurrent checkouts of the last copy resolve to exactly one
  affected row; the loser sees zero rows and reports ErrNoCopiesAvailable.
  The increment is bounded by total_copies the same way.

CONSTRAINTS:
  - CHECK (available_copies BETWEEN 0 AND total_copies) backs the ledger
    invariant at the schema level.
  - A partial unique index on issues(user_id, book_id) WHERE
    status = 'issued' backs the one-active-issue-per-pair invariant.
  - users.email is unique.

CONCURRENCY:
  WAL mode for concurrent readers. A process-wide mutex serializes write
  transactions, mirroring SQLite's single-writer model; with PostgreSQL
  the database handles this instead.

USAGE:
  store, err := sqlite.New("./library.db")   // ":memory:" for tests
  defer store.Close()

SEE ALSO:
  - circulation/store.go: Interface contract
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shelfwise/library-server/auth"
	"github.com/shelfwise/library-server/catalog"
	"github.com/shelfwise/library-server/circulation"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	tx *sql.Tx
	mu *sync.Mutex
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases stable and matches
	// SQLite's single-writer model.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, mu: &sync.Mutex{}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) conn() dbtx {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// lock serializes writes. Inside WithTx the outer call already holds the
// mutex, so transactional copies skip it.
func (s *Store) lock() func() {
	if s.tx != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'patron',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		published_year INTEGER NOT NULL DEFAULT 0,
		total_copies INTEGER NOT NULL,
		available_copies INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (available_copies >= 0 AND available_copies <= total_copies)
	);

	CREATE INDEX IF NOT EXISTS idx_books_title ON books(title);

	CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id),
		status TEXT NOT NULL,
		issue_date TEXT NOT NULL,
		return_date TEXT NOT NULL,
		returned_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one active issue per (user, book) pair
	CREATE UNIQUE INDEX IF NOT EXISTS idx_issues_active_unique
		ON issues(user_id, book_id) WHERE status = 'issued';

	-- Borrow-limit counting and per-user listings
	CREATE INDEX IF NOT EXISTS idx_issues_user_status
		ON issues(user_id, status);

	-- Per-book listings and the active-issue guard on book deletion
	CREATE INDEX IF NOT EXISTS idx_issues_book_status
		ON issues(book_id, status);

	CREATE INDEX IF NOT EXISTS idx_issues_issue_date
		ON issues(issue_date DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (circulation.Store interface)
// =============================================================================

// WithTx executes fn inside a database transaction. Nested calls reuse
// the enclosing transaction.
func (s *Store) WithTx(ctx context.Context, fn func(circulation.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, tx: tx, mu: s.mu}); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// BOOKS (catalog.Store interface)
// =============================================================================

// SaveBook inserts a new book.
func (s *Store) SaveBook(ctx context.Context, book *catalog.Book) error {
	defer s.lock()()

	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO books (id, title, author, category, published_year,
			total_copies, available_copies, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID.String(), book.Title, book.Author, book.Category, book.PublishedYear,
		book.TotalCopies, book.AvailableCopies,
		formatTime(book.CreatedAt), formatTime(book.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save book: %w", err)
	}
	return nil
}

// GetBook returns a book by ID.
func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, title, author, category, published_year,
		       total_copies, available_copies, created_at, updated_at
		FROM books WHERE id = ?`, id.String())
	return scanBook(row)
}

// ListBooks returns all books ordered by title.
func (s *Store) ListBooks(ctx context.Context) ([]*catalog.Book, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, title, author, category, published_year,
		       total_copies, available_copies, created_at, updated_at
		FROM books ORDER BY title ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	var books []*catalog.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// UpdateBook updates descriptive fields and shifts available_copies by the
// total_copies delta in one statement.
func (s *Store) UpdateBook(ctx context.Context, id uuid.UUID, in catalog.BookInput) error {
	defer s.lock()()

	res, err := s.conn().ExecContext(ctx, `
		UPDATE books
		SET title = ?, author = ?, category = ?, published_year = ?,
		    available_copies = available_copies + (? - total_copies),
		    total_copies = ?,
		    updated_at = ?
		WHERE id = ? AND available_copies + (? - total_copies) >= 0`,
		in.Title, in.Author, in.Category, in.PublishedYear,
		in.TotalCopies, in.TotalCopies,
		formatTime(time.Now().UTC()),
		id.String(), in.TotalCopies,
	)
	if err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if exists, err := s.bookExists(ctx, id); err != nil {
			return err
		} else if !exists {
			return catalog.ErrBookNotFound
		}
		return catalog.ErrCopiesBelowCirculation
	}
	return nil
}

// DeleteBook removes a book unless copies are still out on loan.
// Issue history for the book is removed with it.
func (s *Store) DeleteBook(ctx context.Context, id uuid.UUID) error {
	defer s.lock()()

	res, err := s.conn().ExecContext(ctx, `
		DELETE FROM books
		WHERE id = ? AND NOT EXISTS (
			SELECT 1 FROM issues WHERE book_id = ? AND status = 'issued')`,
		id.String(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if exists, err := s.bookExists(ctx, id); err != nil {
			return err
		} else if !exists {
			return catalog.ErrBookNotFound
		}
		return catalog.ErrBookHasActiveIssues
	}
	return nil
}

// DecrementAvailable reserves one copy, or reports why it could not.
func (s *Store) DecrementAvailable(ctx context.Context, bookID uuid.UUID) error {
	defer s.lock()()

	res, err := s.conn().ExecContext(ctx, `
		UPDATE books
		SET available_copies = available_copies - 1, updated_at = ?
		WHERE id = ? AND available_copies > 0`,
		formatTime(time.Now().UTC()), bookID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to decrement available copies: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if exists, err := s.bookExists(ctx, bookID); err != nil {
			return err
		} else if !exists {
			return catalog.ErrBookNotFound
		}
		return circulation.ErrNoCopiesAvailable
	}
	return nil
}

// IncrementAvailable releases one copy, bounded by total_copies.
func (s *Store) IncrementAvailable(ctx context.Context, bookID uuid.UUID) error {
	defer s.lock()()

	res, err := s.conn().ExecContext(ctx, `
		UPDATE books
		SET available_copies = available_copies + 1, updated_at = ?
		WHERE id = ? AND available_copies < total_copies`,
		formatTime(time.Now().UTC()), bookID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to increment available copies: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if exists, err := s.bookExists(ctx, bookID); err != nil {
			return err
		} else if !exists {
			return catalog.ErrBookNotFound
		}
		return circulation.ErrLedgerInconsistent
	}
	return nil
}

func (s *Store) bookExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var one int
	err := s.conn().QueryRowContext(ctx,
		`SELECT 1 FROM books WHERE id = ?`, id.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check book existence: %w", err)
	}
	return true, nil
}

// =============================================================================
// USERS (auth.UserStore interface)
// =============================================================================

// SaveUser inserts a new user.
func (s *Store) SaveUser(ctx context.Context, user *auth.User) error {
	defer s.lock()()

	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID.String(), user.Name, user.Email, user.PasswordHash,
		string(user.Role), formatTime(user.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err, "users.email") {
			return auth.ErrEmailExists
		}
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, created_at
		FROM users WHERE id = ?`, id.String())
	return scanUser(row)
}

// GetUserByEmail returns a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, created_at
		FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// =============================================================================
// ISSUES (circulation.Store interface)
// =============================================================================

// CreateIssue inserts a new issue.
func (s *Store) CreateIssue(ctx context.Context, issue *circulation.Issue) error {
	defer s.lock()()

	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO issues (id, book_id, user_id, status, issue_date,
			return_date, returned_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID.String(), issue.BookID.String(), issue.UserID.String(),
		string(issue.Status), formatTime(issue.IssueDate),
		formatTime(issue.ReturnDate), formatTimePtr(issue.ReturnedDate),
		formatTime(issue.CreatedAt), formatTime(issue.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err, "issues.user_id") {
			return circulation.ErrAlreadyIssued
		}
		return fmt.Errorf("failed to create issue: %w", err)
	}
	return nil
}

// GetIssue returns an issue by ID.
func (s *Store) GetIssue(ctx context.Context, id uuid.UUID) (*circulation.Issue, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, book_id, user_id, status, issue_date,
		       return_date, returned_date, created_at, updated_at
		FROM issues WHERE id = ?`, id.String())
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, circulation.ErrIssueNotFound
	}
	return issue, err
}

// UpdateIssue persists the mutable fields of an issue.
func (s *Store) UpdateIssue(ctx context.Context, issue *circulation.Issue) error {
	defer s.lock()()

	res, err := s.conn().ExecContext(ctx, `
		UPDATE issues
		SET status = ?, return_date = ?, returned_date = ?, updated_at = ?
		WHERE id = ?`,
		string(issue.Status), formatTime(issue.ReturnDate),
		formatTimePtr(issue.ReturnedDate), formatTime(issue.UpdatedAt),
		issue.ID.String(),
	)
	if err != nil {
		if isUniqueConstraintError(err, "issues.user_id") {
			return circulation.ErrAlreadyIssued
		}
		return fmt.Errorf("failed to update issue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return circulation.ErrIssueNotFound
	}
	return nil
}

// DeleteIssue removes an issue.
func (s *Store) DeleteIssue(ctx context.Context, id uuid.UUID) error {
	defer s.lock()()

	res, err := s.conn().ExecContext(ctx,
		`DELETE FROM issues WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return circulation.ErrIssueNotFound
	}
	return nil
}

// ActiveIssueExists reports whether the user has an active issue for the book.
func (s *Store) ActiveIssueExists(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
	var one int
	err := s.conn().QueryRowContext(ctx, `
		SELECT 1 FROM issues
		WHERE user_id = ? AND book_id = ? AND status = 'issued'`,
		userID.String(), bookID.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check active issue: %w", err)
	}
	return true, nil
}

// CountActiveIssues returns the number of active issues held by the user.
func (s *Store) CountActiveIssues(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.conn().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM issues
		WHERE user_id = ? AND status = 'issued'`,
		userID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active issues: %w", err)
	}
	return count, nil
}

// ListIssues returns issues matching the filter with book and user
// references resolved, newest first.
func (s *Store) ListIssues(ctx context.Context, filter circulation.Filter) ([]*circulation.IssueDetail, error) {
	query := `
		SELECT i.id, i.book_id, i.user_id, i.status, i.issue_date,
		       i.return_date, i.returned_date, i.created_at, i.updated_at,
		       b.id, b.title, b.author, b.category, b.published_year,
		       b.total_copies, b.available_copies, b.created_at, b.updated_at,
		       u.id, u.name, u.email, u.password_hash, u.role, u.created_at
		FROM issues i
		JOIN books b ON b.id = i.book_id
		JOIN users u ON u.id = i.user_id
		WHERE 1 = 1`
	var args []any
	if filter.ID != nil {
		query += " AND i.id = ?"
		args = append(args, filter.ID.String())
	}
	if filter.UserID != nil {
		query += " AND i.user_id = ?"
		args = append(args, filter.UserID.String())
	}
	if filter.BookID != nil {
		query += " AND i.book_id = ?"
		args = append(args, filter.BookID.String())
	}
	if filter.Status != nil {
		query += " AND i.status = ?"
		args = append(args, string(*filter.Status))
	}
	query += " ORDER BY i.issue_date DESC, i.created_at DESC"

	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var details []*circulation.IssueDetail
	for rows.Next() {
		var (
			issueID, bookID, userID, status             string
			issueDate, returnDate                       string
			returnedDate                                sql.NullString
			issueCreated, issueUpdated                  string
			bID, title, author, category                string
			publishedYear, totalCopies, availableCopies int
			bookCreated, bookUpdated                    string
			uID, name, email, passwordHash, role        string
			userCreated                                 string
		)
		if err := rows.Scan(
			&issueID, &bookID, &userID, &status, &issueDate,
			&returnDate, &returnedDate, &issueCreated, &issueUpdated,
			&bID, &title, &author, &category, &publishedYear,
			&totalCopies, &availableCopies, &bookCreated, &bookUpdated,
			&uID, &name, &email, &passwordHash, &role, &userCreated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}

		details = append(details, &circulation.IssueDetail{
			Issue: circulation.Issue{
				ID:           uuid.MustParse(issueID),
				BookID:       uuid.MustParse(bookID),
				UserID:       uuid.MustParse(userID),
				Status:       circulation.Status(status),
				IssueDate:    parseTime(issueDate),
				ReturnDate:   parseTime(returnDate),
				ReturnedDate: parseTimePtr(returnedDate),
				CreatedAt:    parseTime(issueCreated),
				UpdatedAt:    parseTime(issueUpdated),
			},
			Book: &catalog.Book{
				ID:              uuid.MustParse(bID),
				Title:           title,
				Author:          author,
				Category:        category,
				PublishedYear:   publishedYear,
				TotalCopies:     totalCopies,
				AvailableCopies: availableCopies,
				CreatedAt:       parseTime(bookCreated),
				UpdatedAt:       parseTime(bookUpdated),
			},
			User: &auth.User{
				ID:           uuid.MustParse(uID),
				Name:         name,
				Email:        email,
				PasswordHash: passwordHash,
				Role:         auth.Role(role),
				CreatedAt:    parseTime(userCreated),
			},
		})
	}
	return details, rows.Err()
}

// =============================================================================
// SCAN / FORMAT HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*catalog.Book, error) {
	var (
		id, title, author, category                 string
		publishedYear, totalCopies, availableCopies int
		createdAt, updatedAt                        string
	)
	err := row.Scan(&id, &title, &author, &category, &publishedYear,
		&totalCopies, &availableCopies, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, catalog.ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan book: %w", err)
	}
	return &catalog.Book{
		ID:              uuid.MustParse(id),
		Title:           title,
		Author:          author,
		Category:        category,
		PublishedYear:   publishedYear,
		TotalCopies:     totalCopies,
		AvailableCopies: availableCopies,
		CreatedAt:       parseTime(createdAt),
		UpdatedAt:       parseTime(updatedAt),
	}, nil
}

func scanUser(row rowScanner) (*auth.User, error) {
	var id, name, email, passwordHash, role, createdAt string
	err := row.Scan(&id, &name, &email, &passwordHash, &role, &createdAt)
	if err == sql.ErrNoRows {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &auth.User{
		ID:           uuid.MustParse(id),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         auth.Role(role),
		CreatedAt:    parseTime(createdAt),
	}, nil
}

func scanIssue(row rowScanner) (*circulation.Issue, error) {
	var (
		id, bookID, userID, status string
		issueDate, returnDate      string
		returnedDate               sql.NullString
		createdAt, updatedAt       string
	)
	err := row.Scan(&id, &bookID, &userID, &status, &issueDate,
		&returnDate, &returnedDate, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	return &circulation.Issue{
		ID:           uuid.MustParse(id),
		BookID:       uuid.MustParse(bookID),
		UserID:       uuid.MustParse(userID),
		Status:       circulation.Status(status),
		IssueDate:    parseTime(issueDate),
		ReturnDate:   parseTime(returnDate),
		ReturnedDate: parseTimePtr(returnedDate),
		CreatedAt:    parseTime(createdAt),
		UpdatedAt:    parseTime(updatedAt),
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") &&
		strings.Contains(msg, column)
}
