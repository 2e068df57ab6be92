// Package api exposes the governance operations over HTTP with
// RFC 7807 Problem Detail error responses.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Mindburn-Labs/tiller/pkg/election"
	"github.com/Mindburn-Labs/tiller/pkg/timelock"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://tiller.mindburn.dev/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteDomainError maps the governance error taxonomy onto HTTP statuses
// and writes the problem response.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := http.StatusInternalServerError, "Internal Error"
	switch {
	case errors.Is(err, timelock.ErrUnauthorized):
		status, title = http.StatusForbidden, "Unauthorized"
	case errors.Is(err, timelock.ErrDuplicateAction):
		status, title = http.StatusConflict, "Duplicate Action"
	case errors.Is(err, timelock.ErrNotPlanned):
		status, title = http.StatusNotFound, "Action Not Planned"
	case errors.Is(err, timelock.ErrNotMatured):
		status, title = http.StatusConflict, "Action Not Matured"
	case errors.Is(err, timelock.ErrExecutionFailed):
		status, title = http.StatusBadGateway, "Execution Failed"
	case errors.Is(err, election.ErrInsufficientAllowance):
		status, title = http.StatusConflict, "Insufficient Allowance"
	case errors.Is(err, election.ErrInsufficientStake):
		status, title = http.StatusConflict, "Insufficient Stake"
	case errors.Is(err, election.ErrSlateTooLarge):
		status, title = http.StatusBadRequest, "Slate Too Large"
	case errors.Is(err, election.ErrInsufficientApproval):
		status, title = http.StatusConflict, "Insufficient Approval"
	case errors.Is(err, election.ErrUnknownSlate):
		status, title = http.StatusNotFound, "Unknown Slate"
	}
	WriteError(w, r, status, title, err.Error())
}
