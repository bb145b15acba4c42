// Package target is an in-memory pull-request service exposing the create
// endpoint that prload drives. It exists to run the generator end to end
// without the real service and its database.
package target

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status of a pull request.
type Status string

const StatusOpen Status = "OPEN"

// PullRequest is the created resource as returned to clients.
type PullRequest struct {
	ID                string     `json:"pull_request_id"`
	Name              string     `json:"pull_request_name"`
	AuthorID          string     `json:"author_id"`
	Status            Status     `json:"status"`
	AssignedReviewers []string   `json:"assigned_reviewers"`
	CreatedAt         *time.Time `json:"createdAt,omitempty"`
}

// ErrorCode classifies a DomainError.
type ErrorCode string

const (
	ErrorCodePRExists   ErrorCode = "PR_EXISTS"
	ErrorCodeBadRequest ErrorCode = "BAD_REQUEST"
	ErrorCodeInternal   ErrorCode = "INTERNAL_ERROR"
)

// DomainError is returned by the store and mapped onto HTTP statuses.
type DomainError struct {
	Code    ErrorCode
	Message string
}

func (e DomainError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrPRExists is returned when the id is already taken.
var ErrPRExists = DomainError{Code: ErrorCodePRExists, Message: "pull request already exists"}

// Store keeps pull requests in memory.
type Store struct {
	mu  sync.RWMutex
	prs map[string]*PullRequest
	now func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		prs: make(map[string]*PullRequest),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create stores pr as OPEN. A second create with the same id fails with
// ErrPRExists and leaves the first one untouched.
func (s *Store) Create(ctx context.Context, pr PullRequest) (*PullRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prs[pr.ID]; ok {
		return nil, ErrPRExists
	}

	now := s.now()
	created := &PullRequest{
		ID:                pr.ID,
		Name:              pr.Name,
		AuthorID:          pr.AuthorID,
		Status:            StatusOpen,
		AssignedReviewers: []string{},
		CreatedAt:         &now,
	}
	s.prs[pr.ID] = created

	out := *created
	return &out, nil
}

// Get returns a copy of the pull request with id.
func (s *Store) Get(id string) (*PullRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pr, ok := s.prs[id]
	if !ok {
		return nil, false
	}
	out := *pr
	return &out, true
}

// Len returns the number of stored pull requests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prs)
}
