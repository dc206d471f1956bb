package internal

import (
	"fmt"
	"net/http"

	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

const (
	// ErrCodeUnknown is the error code for unknown errors
	ErrCodeUnknown = "UNKNOWN_ERROR"
	// ErrCodeRepoError is returned when the request to a repo fails with an error
	ErrCodeRepoError = "STORAGE_QUERY_FAILED"
	// ErrCodeRequiredFieldMissing is returned when at least one required field has not been populated on an incoming
	// request
	ErrCodeRequiredFieldMissing = "REQUIRED_FIELD_MISSING"
	// ErrCodeIllegalJSON is returned when the request did not contain a valid JSON body
	ErrCodeIllegalJSON = "ILLEGAL_JSON_REQUEST"
	// ErrCodeInvalidUint is returned when an ID is required inside a request, but is not provided or in a wrong format
	ErrCodeInvalidUint = "INVALID_UINT"
	// ErrCodeLoginFailed is returned when the user fails to login for some reason
	ErrCodeLoginFailed = "LOGIN_FAILED"
	// ErrCodeNotLoggedIn is returned when the user tried to access an API that needs a logged-in user, but the user
	// has no authenticated session
	ErrCodeNotLoggedIn = "NOT_LOGGED_IN"
	// ErrCodeNotFound is returned when a referenced proposal, vote, venue, ticket or user does not exist
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeForbidden is returned when the current user lacks the permission or ownership for an operation
	ErrCodeForbidden = "FORBIDDEN"
	// ErrCodeIllegalTransition is returned when a proposal state change is not allowed
	ErrCodeIllegalTransition = "ILLEGAL_TRANSITION"
	// ErrCodeInvalidField is returned when a field value is malformed or missing for the proposal type
	ErrCodeInvalidField = "INVALID_FIELD"
	// ErrCodeInvalidVenue is returned when a venue does not exist or does not allow the content type
	ErrCodeInvalidVenue = "INVALID_VENUE"
	// ErrCodeCapacityExceeded is returned when more seats are requested than a proposal can take
	ErrCodeCapacityExceeded = "CAPACITY_EXCEEDED"
	// ErrCodeLotteryState is returned when the lottery is entered or run outside of the matching signup state
	ErrCodeLotteryState = "LOTTERY_STATE_ERROR"
	// ErrCodeSchedulerInfeasible is returned when the scheduler could not place any of the requested proposals
	ErrCodeSchedulerInfeasible = "SCHEDULER_INFEASIBLE"
	// ErrCodeMailFailure is returned when a mail cannot be rendered or handed over
	ErrCodeMailFailure = "MAIL_FAILURE"
	// ErrCodeNotReviewable is returned when a reviewer acts on a proposal that is not open for their review
	ErrCodeNotReviewable = "NOT_REVIEWABLE"
)

var (
	// ErrNotLoggedIn is returned by every service operation that needs an acting user when there is none
	ErrNotLoggedIn = MakeError(
		http.StatusForbidden,
		ErrCodeNotLoggedIn,
		"This function needs a logged-in user",
	)
)

// HTTPError is an error that contains information about the error message to return to the client
type HTTPError struct {
	message string
	code    string
	status  int
	data    interface{}
}

// MakeError creates a new HTTPError with the given contents
func MakeError(status int, code, message string) *HTTPError {
	return MakeErrorWithData(status, code, message, nil)
}

// MakeErrorWithData creates a new HTTPError with the given contents and an additional data element
func MakeErrorWithData(status int, code, message string, data interface{}) *HTTPError {
	return &HTTPError{message, code, status, data}
}

// Error implements the errorer interface
func (e *HTTPError) Error() string {
	return e.message
}

// Status returns the HTTP status that should be returned
func (e *HTTPError) Status() int {
	return e.status
}

// ErrorCode returns the machine-readable error code
func (e *HTTPError) ErrorCode() string {
	return e.code
}

// Data returns additional data about the error
func (e *HTTPError) Data() interface{} {
	return e.data
}

// ErrorCodeOf returns the machine-readable code of an error or ErrCodeUnknown
func ErrorCodeOf(err error) string {
	if e, ok := err.(*HTTPError); ok {
		return e.code
	}
	return ErrCodeUnknown
}

// -- Helpers ----------------------------------------------------------------------------------------------------------

func errNotFound(what string, id uint) *HTTPError {
	return MakeError(http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("%s #%d does not exist", what, id))
}

func errForbidden(message string) *HTTPError {
	return MakeError(http.StatusForbidden, ErrCodeForbidden, message)
}

func errInvalidField(field, message string) *HTTPError {
	return MakeErrorWithData(http.StatusBadRequest, ErrCodeInvalidField, message, map[string]string{"field": field})
}

func errIllegalTransition(p *models.Proposal, to models.ProposalState) *HTTPError {
	return MakeErrorWithData(
		http.StatusConflict,
		ErrCodeIllegalTransition,
		fmt.Sprintf("Proposal #%d cannot go from '%s' to '%s'", p.ID, p.State, to),
		map[string]interface{}{"from": p.State, "to": to, "allowed": models.NextStates(p.State)},
	)
}

func errRepo(message string, err error) *HTTPError {
	return MakeErrorWithData(http.StatusInternalServerError, ErrCodeRepoError, message, err)
}

// mapRepoError turns a repository error into an HTTPError. HTTPErrors pass through unchanged.
func mapRepoError(err error, what string, id uint) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*HTTPError); ok {
		return err
	}
	if err == repos.ErrEntityNotExisting {
		return errNotFound(what, id)
	}
	return errRepo(fmt.Sprintf("Error while working on %s #%d", what, id), err)
}
