/*
workflow.go - Issue/return/delete/edit operations

PURPOSE:
  Validates business rules and executes the coordinated writes that keep
  the issue set and the catalog ledger consistent. Every operation that
  touches both an issue and a copy count runs inside a single store
  transaction: either both writes commit or neither does.

VALIDATION ORDER (IssueBook):
  1. return date present and parseable  -> ErrInvalidInput
  2. book exists                        -> catalog.ErrBookNotFound
  3. no duplicate active issue          -> ErrAlreadyIssued
  4. user below borrow limit            -> BorrowLimitError
  5. a copy is available                -> ErrNoCopiesAvailable

  The availability check is deliberately last: it is the conditional
  decrement itself, so its outcome reflects the committed state rather
  than a prior read. Tests pin this order.

IDEMPOTENCE GUARDS:
  ReturnBook refuses issues that are not active (ErrAlreadyReturned) and
  DeleteIssue releases a copy only for active issues. Neither can
  double-increment the available count on repeated calls.

SEE ALSO:
  - store.go: Persistence contract
  - errors.go: Failure taxonomy
*/
package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// returnDateLayouts are the accepted due-date formats.
var returnDateLayouts = []string{time.RFC3339, "2006-01-02"}

// Workflow executes circulation operations against a Store.
type Workflow struct {
	store Store
	log   *zap.Logger
}

// NewWorkflow creates a new circulation workflow.
func NewWorkflow(store Store, log *zap.Logger) *Workflow {
	return &Workflow{store: store, log: log}
}

// =============================================================================
// ISSUE
// =============================================================================

// IssueBook atomically creates an issue and reserves one copy, or fails
// without side effects. returnDate is the due date, RFC 3339 or YYYY-MM-DD.
func (w *Workflow) IssueBook(ctx context.Context, userID, bookID uuid.UUID, returnDate string) (*IssueDetail, error) {
	due, err := parseReturnDate(returnDate)
	if err != nil {
		return nil, err
	}

	var detail *IssueDetail
	err = w.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetBook(ctx, bookID); err != nil {
			return err
		}

		exists, err := s.ActiveIssueExists(ctx, userID, bookID)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyIssued
		}

		active, err := s.CountActiveIssues(ctx, userID)
		if err != nil {
			return err
		}
		if active >= MaxActiveIssues {
			return &BorrowLimitError{UserID: userID, Active: active, Limit: MaxActiveIssues}
		}

		if err := s.DecrementAvailable(ctx, bookID); err != nil {
			return err
		}

		now := time.Now().UTC()
		issue := &Issue{
			ID:         uuid.New(),
			BookID:     bookID,
			UserID:     userID,
			Status:     StatusIssued,
			IssueDate:  now,
			ReturnDate: due,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.CreateIssue(ctx, issue); err != nil {
			return err
		}

		detail, err = resolve(ctx, s, issue)
		return err
	})
	if err != nil {
		return nil, err
	}

	w.log.Info("book issued",
		zap.String("issue_id", detail.ID.String()),
		zap.String("book_id", bookID.String()),
		zap.String("user_id", userID.String()))
	return detail, nil
}

// =============================================================================
// RETURN
// =============================================================================

// ReturnBook marks an issue returned and releases one copy, atomically.
// The issue must belong to userID. A second return of the same issue fails
// with ErrAlreadyReturned and does not touch the ledger.
func (w *Workflow) ReturnBook(ctx context.Context, issueID, userID uuid.UUID) (*IssueDetail, error) {
	var detail *IssueDetail
	err := w.store.WithTx(ctx, func(s Store) error {
		issue, err := s.GetIssue(ctx, issueID)
		if err != nil {
			return err
		}
		if issue.UserID != userID {
			// Do not leak other users' issue IDs.
			return ErrIssueNotFound
		}
		if _, err := s.GetBook(ctx, issue.BookID); err != nil {
			return err
		}
		if !issue.Active() {
			return ErrAlreadyReturned
		}

		now := time.Now().UTC()
		issue.Status = StatusReturned
		issue.ReturnedDate = &now
		issue.UpdatedAt = now
		if err := s.UpdateIssue(ctx, issue); err != nil {
			return err
		}

		if err := s.IncrementAvailable(ctx, issue.BookID); err != nil {
			return err
		}

		detail, err = resolve(ctx, s, issue)
		return err
	})
	if err != nil {
		return nil, err
	}

	w.log.Info("book returned",
		zap.String("issue_id", issueID.String()),
		zap.String("user_id", userID.String()))
	return detail, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteIssue removes an issue record. If the issue is still active its
// reserved copy is released; a returned issue already released its copy,
// so deleting it leaves the ledger untouched.
func (w *Workflow) DeleteIssue(ctx context.Context, issueID, bookID uuid.UUID) error {
	err := w.store.WithTx(ctx, func(s Store) error {
		issue, err := s.GetIssue(ctx, issueID)
		if err != nil {
			return err
		}
		if bookID != uuid.Nil && issue.BookID != bookID {
			return ErrIssueNotFound
		}

		if issue.Active() {
			if err := s.IncrementAvailable(ctx, issue.BookID); err != nil {
				return err
			}
		}

		return s.DeleteIssue(ctx, issueID)
	})
	if err != nil {
		return err
	}

	w.log.Info("issue deleted", zap.String("issue_id", issueID.String()))
	return nil
}

// =============================================================================
// EDIT
// =============================================================================

// EditIssue applies a constrained patch to an issue. Status changes route
// through the same guarded transitions as ReturnBook: flipping to returned
// releases a copy, flipping back to issued re-runs the duplicate, limit,
// and availability checks before reserving one.
func (w *Workflow) EditIssue(ctx context.Context, issueID uuid.UUID, patch Patch) (*IssueDetail, error) {
	var detail *IssueDetail
	err := w.store.WithTx(ctx, func(s Store) error {
		issue, err := s.GetIssue(ctx, issueID)
		if err != nil {
			return err
		}

		if patch.Status != nil && !patch.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *patch.Status)
		}

		if patch.Status != nil && *patch.Status != issue.Status {
			switch *patch.Status {
			case StatusReturned:
				now := time.Now().UTC()
				returned := now
				if patch.ReturnedDate != nil {
					returned = *patch.ReturnedDate
				}
				issue.ReturnedDate = &returned
				if err := s.IncrementAvailable(ctx, issue.BookID); err != nil {
					return err
				}
			case StatusIssued:
				exists, err := s.ActiveIssueExists(ctx, issue.UserID, issue.BookID)
				if err != nil {
					return err
				}
				if exists {
					return ErrAlreadyIssued
				}
				active, err := s.CountActiveIssues(ctx, issue.UserID)
				if err != nil {
					return err
				}
				if active >= MaxActiveIssues {
					return &BorrowLimitError{UserID: issue.UserID, Active: active, Limit: MaxActiveIssues}
				}
				if err := s.DecrementAvailable(ctx, issue.BookID); err != nil {
					return err
				}
				issue.ReturnedDate = nil
			}
			issue.Status = *patch.Status
		} else if patch.ReturnedDate != nil {
			if issue.Status != StatusReturned {
				return fmt.Errorf("%w: returnedDate only applies to returned issues", ErrInvalidInput)
			}
			issue.ReturnedDate = patch.ReturnedDate
		}

		if patch.ReturnDate != nil {
			issue.ReturnDate = *patch.ReturnDate
		}

		issue.UpdatedAt = time.Now().UTC()
		if err := s.UpdateIssue(ctx, issue); err != nil {
			return err
		}

		detail, err = resolve(ctx, s, issue)
		return err
	})
	if err != nil {
		return nil, err
	}

	w.log.Info("issue edited", zap.String("issue_id", issueID.String()))
	return detail, nil
}

// =============================================================================
// LIST
// =============================================================================

// ListIssues returns issues matching the filter, references resolved,
// newest first.
func (w *Workflow) ListIssues(ctx context.Context, filter Filter) ([]*IssueDetail, error) {
	return w.store.ListIssues(ctx, filter)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseReturnDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: return date is required", ErrInvalidInput)
	}
	for _, layout := range returnDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable return date %q", ErrInvalidInput, s)
}

func resolve(ctx context.Context, s Store, issue *Issue) (*IssueDetail, error) {
	book, err := s.GetBook(ctx, issue.BookID)
	if err != nil {
		return nil, err
	}
	user, err := s.GetUser(ctx, issue.UserID)
	if err != nil {
		return nil, err
	}
	return &IssueDetail{Issue: *issue, Book: book, User: user}, nil
}
