/*
handlers.go - HTTP handlers for the library server

PURPOSE:
  Parses requests, delegates to the domain services, and serializes
  responses. Business-rule failures come back from the circulation
  workflow as typed errors and are rendered as {success:false, message}
  with a matching status code; store failures surface as a generic 500.

ENDPOINTS:
  Users (legacy envelope contract):
    POST /api/users/register           Create account
    POST /api/users/login              Obtain bearer token
    GET  /api/users/get-current-user   Authenticated identity

  Issues (legacy envelope contract, auth required):
    POST /api/issues/issue-new-book    Issue a book
    POST /api/issues/get-issues        Filtered listing
    POST /api/issues/return-book       Return a book
    POST /api/issues/delete-issue      Remove an issue record (staff)
    POST /api/issues/edit-issue        Constrained patch (staff)

  Books (auth required; mutations staff-only):
    GET    /api/books                  List catalog
    POST   /api/books                  Add book
    GET    /api/books/{id}             Get book
    PUT    /api/books/{id}             Update book
    DELETE /api/books/{id}             Delete book

ERROR MAPPING:
  400 invalid input / limit / unavailable, 401 bad token, 403 role,
  404 missing record, 409 conflict, 500 everything else.

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Router wiring
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelfwise/library-server/auth"
	"github.com/shelfwise/library-server/catalog"
	"github.com/shelfwise/library-server/circulation"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Circulation *circulation.Workflow
	Catalog     *catalog.Service
	Auth        *auth.Service

	log *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(workflow *circulation.Workflow, cat *catalog.Service, authSvc *auth.Service, log *zap.Logger) *Handler {
	return &Handler{
		Circulation: workflow,
		Catalog:     cat,
		Auth:        authSvc,
		log:         log,
	}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// Register creates a new patron account.
// POST /api/users/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid request body"})
		return
	}

	if _, err := h.Auth.Register(r.Context(), req.Name, req.Email, req.Password); err != nil {
		h.writeFailure(w, err)
		return
	}

	writeEnvelope(w, http.StatusCreated, Response{Success: true, Message: "User created successfully"})
}

// Login verifies credentials and returns a bearer token.
// POST /api/users/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid request body"})
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	writeEnvelope(w, http.StatusOK, Response{Success: true, Message: "Login successful", Data: token})
}

// GetCurrentUser returns the authenticated identity.
// GET /api/users/get-current-user
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusOK, Response{
		Success: true,
		Message: "User fetched successfully",
		Data:    toUserDTO(userFrom(r)),
	})
}

// =============================================================================
// ISSUE HANDLERS
// =============================================================================

// IssueBook issues a book to a patron.
// POST /api/issues/issue-new-book
func (h *Handler) IssueBook(w http.ResponseWriter, r *http.Request) {
	var req IssueBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid request body"})
		return
	}

	bookID, err := uuid.Parse(req.Book)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid book id"})
		return
	}

	userID, ok := h.resolveTargetUser(w, r, req.User)
	if !ok {
		return
	}

	detail, err := h.Circulation.IssueBook(r.Context(), userID, bookID, req.ReturnDate)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	writeEnvelope(w, http.StatusOK, Response{
		Success: true,
		Message: "Book issued successfully.",
		Data:    toIssueDTO(detail),
	})
}

// GetIssues returns issues matching the filter in the body. Patrons only
// see their own issues; staff see everything.
// POST /api/issues/get-issues
func (h *Handler) GetIssues(w http.ResponseWriter, r *http.Request) {
	var req GetIssuesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid request body"})
		return
	}

	var filter circulation.Filter

	caller := userFrom(r)
	if caller.Role != auth.RoleStaff {
		id := caller.ID
		filter.UserID = &id
	} else if req.User != "" {
		id, err := uuid.Parse(req.User)
		if err != nil {
			writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid user id"})
			return
		}
		filter.UserID = &id
	}
	if req.ID != "" {
		id, err := uuid.Parse(req.ID)
		if err != nil {
			writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid issue id"})
			return
		}
		filter.ID = &id
	}
	if req.Book != "" {
		id, err := uuid.Parse(req.Book)
		if err != nil {
			writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid book id"})
			return
		}
		filter.BookID = &id
	}
	if req.Status != "" {
		status := circulation.Status(req.Status)
		if !status.Valid() {
			writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: fmt.Sprintf("unknown status %q", req.Status)})
			return
		}
		filter.Status = &status
	}

	details, err := h.Circulation.ListIssues(r.Context(), filter)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	writeEnvelope(w, http.StatusOK, Response{
		Success: true,
		Message: "Issues fetched successfully",
		Data:    toIssueDTOs(details),
	})
}

// ReturnBook marks an issue as returned.
// POST /api/issues/return-book
func (h *Handler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	var req ReturnBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid request body"})
		return
	}

	issueID, err := uuid.Parse(req.ID)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid issue id"})
		return
	}

	userID, ok := h.resolveTargetUser(w, r, req.User)
	if !ok {
		return
	}

	detail, err := h.Circulation.ReturnBook(r.Context(), issueID, userID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	writeEnvelope(w, http.StatusOK, Response{
		Success: true,
		Message: "Book returned successfully",
		Data:    toIssueDTO(detail),
	})
}

// DeleteIssue removes an issue record.
// POST /api/issues/delete-issue
func (h *Handler) DeleteIssue(w http.ResponseWriter, r *http.Request) {
	var req DeleteIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid request body"})
		return
	}

	issueID, err := uuid.Parse(req.ID)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid issue id"})
		return
	}

	bookID := uuid.Nil
	if req.Book != "" {
		bookID, err = uuid.Parse(req.Book)
		if err != nil {
			writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid book id"})
			return
		}
	}

	if err := h.Circulation.DeleteIssue(r.Context(), issueID, bookID); err != nil {
		h.writeFailure(w, err)
		return
	}

	writeEnvelope(w, http.StatusOK, Response{Success: true, Message: "Issue deleted successfully"})
}

// EditIssue applies a constrained patch to an issue. Unknown body fields
// are rejected rather than silently dropped.
// POST /api/issues/edit-issue
func (h *Handler) EditIssue(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req EditIssueRequest
	if err := dec.Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid request body: " + err.Error()})
		return
	}

	issueID, err := uuid.Parse(req.ID)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid issue id"})
		return
	}

	var patch circulation.Patch
	if req.Status != nil {
		status := circulation.Status(*req.Status)
		patch.Status = &status
	}
	if req.ReturnDate != nil {
		t, err := parseDate(*req.ReturnDate)
		if err != nil {
			writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid returnDate"})
			return
		}
		patch.ReturnDate = &t
	}
	if req.ReturnedDate != nil {
		t, err := parseDate(*req.ReturnedDate)
		if err != nil {
			writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid returnedDate"})
			return
		}
		patch.ReturnedDate = &t
	}

	if _, err := h.Circulation.EditIssue(r.Context(), issueID, patch); err != nil {
		h.writeFailure(w, err)
		return
	}

	writeEnvelope(w, http.StatusOK, Response{Success: true, Message: "Issue updated successfully"})
}

// =============================================================================
// BOOK HANDLERS
// =============================================================================

// ListBooks returns the catalog.
// GET /api/books
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.Catalog.ListBooks(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTOs(books))
}

// CreateBook adds a book to the catalog.
// POST /api/books
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	book, err := h.Catalog.AddBook(r.Context(), catalog.BookInput{
		Title:         req.Title,
		Author:        req.Author,
		Category:      req.Category,
		PublishedYear: req.PublishedYear,
		TotalCopies:   req.TotalCopies,
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookDTO(book))
}

// GetBook returns a single book.
// GET /api/books/{id}
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	book, err := h.Catalog.GetBook(r.Context(), id)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(book))
}

// UpdateBook updates a book's fields and copy counts.
// PUT /api/books/{id}
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	book, err := h.Catalog.UpdateBook(r.Context(), id, catalog.BookInput{
		Title:         req.Title,
		Author:        req.Author,
		Category:      req.Category,
		PublishedYear: req.PublishedYear,
		TotalCopies:   req.TotalCopies,
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(book))
}

// DeleteBook removes a book from the catalog.
// DELETE /api/books/{id}
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	if err := h.Catalog.DeleteBook(r.Context(), id); err != nil {
		h.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

// resolveTargetUser decides which user an issue operation applies to.
// Staff may act on behalf of any user; patrons only on themselves.
func (h *Handler) resolveTargetUser(w http.ResponseWriter, r *http.Request, requested string) (uuid.UUID, bool) {
	caller := userFrom(r)
	if requested == "" {
		return caller.ID, true
	}

	id, err := uuid.Parse(requested)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, Response{Success: false, Message: "invalid user id"})
		return uuid.Nil, false
	}
	if id != caller.ID && caller.Role != auth.RoleStaff {
		writeEnvelope(w, http.StatusForbidden, Response{Success: false, Message: "cannot act on behalf of another user"})
		return uuid.Nil, false
	}
	return id, true
}

// writeFailure maps a domain error to an HTTP status and envelope.
func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		// Do not leak store internals to clients.
		h.log.Error("internal error", zap.Error(err))
		message = "something went wrong"
	}
	writeEnvelope(w, status, Response{Success: false, Message: message})
}

func statusFor(err error) int {
	switch {
	case circulation.IsNotFound(err):
		return http.StatusNotFound
	case circulation.IsConflict(err) || errors.Is(err, auth.ErrEmailExists):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrRateLimited):
		return http.StatusTooManyRequests
	case circulation.IsClientError(err) || errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// ErrorResponse is the error body for the catalog endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeEnvelope(w http.ResponseWriter, status int, resp Response) {
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
