// Package inmem provides a session repository that holds the session data in-memory
package inmem

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// DefaultExpiry is how long a session lasts after its last use
const DefaultExpiry = 60 * time.Minute

type opKind int

const (
	opCreate opKind = iota
	opGet
	opDelete
)

// sessionRequest is sent to the control goroutine, which owns the session map
type sessionRequest struct {
	op        opKind
	sessionID string
	userID    uint
	extend    bool
	answer    chan<- sessionResponse
}

type sessionResponse struct {
	session *models.Session
	err     error
}

// SessionRepo is a session repository that stores the session data in-memory
type SessionRepo struct {
	requests chan<- sessionRequest
	done     chan struct{}
	expiry   time.Duration
}

// New creates a new session repository instance whose sessions expire after the given idle time
func New(expiry time.Duration) *SessionRepo {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	reqs := make(chan sessionRequest)
	repo := &SessionRepo{
		requests: reqs,
		done:     make(chan struct{}),
		expiry:   expiry,
	}
	go repo.control(reqs)
	return repo
}

// Close stops the control goroutine. The repository must not be used afterwards.
func (r *SessionRepo) Close() {
	close(r.done)
}

// newToken creates an unguessable session token
func newToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// control runs until Close is called, serving requests and purging expired sessions about once a minute
func (r *SessionRepo) control(reqs <-chan sessionRequest) {
	sessions := map[string]*models.Session{}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case req := <-reqs:
			req.answer <- r.handle(sessions, req)
		case <-ticker.C:
			for key, sess := range sessions {
				if sess.Expired() {
					delete(sessions, key)
				}
			}
		}
	}
}

func (r *SessionRepo) handle(sessions map[string]*models.Session, req sessionRequest) sessionResponse {
	switch req.op {
	case opCreate:
		sess := models.Session{
			ID:        newToken(),
			UserID:    req.userID,
			ExpiresAt: time.Now().Add(r.expiry),
		}
		sessions[sess.ID] = &sess
		ret := sess
		return sessionResponse{session: &ret}
	case opGet:
		sess, ok := sessions[req.sessionID]
		if !ok {
			return sessionResponse{err: repos.ErrEntityNotExisting}
		}
		if sess.Expired() {
			delete(sessions, req.sessionID)
			return sessionResponse{err: repos.ErrEntityNotExisting}
		}
		if req.extend {
			sess.ExpiresAt = time.Now().Add(r.expiry)
		}
		ret := *sess
		return sessionResponse{session: &ret}
	case opDelete:
		delete(sessions, req.sessionID)
	}
	return sessionResponse{}
}

func (r *SessionRepo) send(req sessionRequest) sessionResponse {
	answer := make(chan sessionResponse, 1)
	req.answer = answer
	r.requests <- req
	return <-answer
}

// CreateFor creates a new session for the given user ID
func (r *SessionRepo) CreateFor(userID uint) (*models.Session, error) {
	resp := r.send(sessionRequest{op: opCreate, userID: userID})
	return resp.session, resp.err
}

// GetByID returns the session associated with the given session ID and extends it's expiry if requested
func (r *SessionRepo) GetByID(sessionID string, extend bool) (*models.Session, error) {
	resp := r.send(sessionRequest{op: opGet, sessionID: sessionID, extend: extend})
	return resp.session, resp.err
}

// Delete removes a session from the session storage
func (r *SessionRepo) Delete(sessionID string) error {
	return r.send(sessionRequest{op: opDelete, sessionID: sessionID}).err
}
