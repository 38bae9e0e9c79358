/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the API contract, decoupled from the domain types.

  The lending endpoints (/api/issues/*, /api/users/*) preserve the field
  names of the legacy client: "_id" identifiers and camelCase dates, with
  every response wrapped in {success, message, data?}. The catalog
  endpoints are newer and use conventional snake_case.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shelfwise/library-server/auth"
	"github.com/shelfwise/library-server/catalog"
	"github.com/shelfwise/library-server/circulation"
)

// Response is the envelope every lending/user endpoint returns.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// IssueBookRequest is the body of POST /api/issues/issue-new-book.
// User is optional; staff may issue on behalf of a patron, patrons issue
// for themselves.
type IssueBookRequest struct {
	Book       string `json:"book"`
	User       string `json:"user,omitempty"`
	ReturnDate string `json:"returnDate"`
}

// GetIssuesRequest is the body of POST /api/issues/get-issues. All fields
// are optional equality filters.
type GetIssuesRequest struct {
	ID     string `json:"_id,omitempty"`
	User   string `json:"user,omitempty"`
	Book   string `json:"book,omitempty"`
	Status string `json:"status,omitempty"`
}

// ReturnBookRequest is the body of POST /api/issues/return-book.
type ReturnBookRequest struct {
	ID   string `json:"_id"`
	Book string `json:"book,omitempty"`
	User string `json:"user,omitempty"`
}

// DeleteIssueRequest is the body of POST /api/issues/delete-issue.
type DeleteIssueRequest struct {
	ID   string `json:"_id"`
	Book string `json:"book,omitempty"`
}

// EditIssueRequest is the body of POST /api/issues/edit-issue. Only the
// fields below are patchable; anything else in the body is rejected.
type EditIssueRequest struct {
	ID           string  `json:"_id"`
	Status       *string `json:"status,omitempty"`
	ReturnDate   *string `json:"returnDate,omitempty"`
	ReturnedDate *string `json:"returnedDate,omitempty"`
}

// RegisterRequest is the body of POST /api/users/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /api/users/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// BookRequest is the body for catalog create/update.
type BookRequest struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	Category      string `json:"category,omitempty"`
	PublishedYear int    `json:"published_year,omitempty"`
	TotalCopies   int    `json:"total_copies"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// IssueDTO is an issue with references resolved, in the legacy shape.
type IssueDTO struct {
	ID           string   `json:"_id"`
	Book         *BookDTO `json:"book"`
	User         *UserDTO `json:"user"`
	Status       string   `json:"status"`
	IssueDate    string   `json:"issueDate"`
	ReturnDate   string   `json:"returnDate"`
	ReturnedDate string   `json:"returnedDate,omitempty"`
}

// BookDTO is a catalog record in API responses.
type BookDTO struct {
	ID              string `json:"_id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	Category        string `json:"category,omitempty"`
	PublishedYear   int    `json:"published_year,omitempty"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
}

// UserDTO is a user in API responses. Never carries credentials.
type UserDTO struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toBookDTO(b *catalog.Book) *BookDTO {
	if b == nil {
		return nil
	}
	return &BookDTO{
		ID:              b.ID.String(),
		Title:           b.Title,
		Author:          b.Author,
		Category:        b.Category,
		PublishedYear:   b.PublishedYear,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
	}
}

func toBookDTOs(books []*catalog.Book) []*BookDTO {
	dtos := make([]*BookDTO, len(books))
	for i, b := range books {
		dtos[i] = toBookDTO(b)
	}
	return dtos
}

func toUserDTO(u *auth.User) *UserDTO {
	if u == nil {
		return nil
	}
	return &UserDTO{
		ID:    u.ID.String(),
		Name:  u.Name,
		Email: u.Email,
		Role:  string(u.Role),
	}
}

func toIssueDTO(d *circulation.IssueDetail) *IssueDTO {
	dto := &IssueDTO{
		ID:         d.ID.String(),
		Book:       toBookDTO(d.Book),
		User:       toUserDTO(d.User),
		Status:     string(d.Status),
		IssueDate:  d.IssueDate.Format(time.RFC3339),
		ReturnDate: d.ReturnDate.Format(time.RFC3339),
	}
	if d.ReturnedDate != nil {
		dto.ReturnedDate = d.ReturnedDate.Format(time.RFC3339)
	}
	return dto
}

func toIssueDTOs(details []*circulation.IssueDetail) []*IssueDTO {
	dtos := make([]*IssueDTO, len(details))
	for i, d := range details {
		dtos[i] = toIssueDTO(d)
	}
	return dtos
}
