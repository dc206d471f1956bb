package internal

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// ErrLoginFailed is returned for unknown e-mail addresses and wrong passwords alike
var ErrLoginFailed = MakeError(http.StatusForbidden, ErrCodeLoginFailed, "Login failed")

// SessionService logs CFP users in and out and tells the front end what the logged-in user may do
type SessionService interface {
	// Login checks the credentials and opens a session for the user
	Login(ctx context.Context, email string, password string) (*SessionInfo, error)
	// Logout ends a session
	Logout(ctx context.Context, sessionID string) error
	// WhoAmI returns information about the current session
	WhoAmI(ctx context.Context, sessionID string) (*SessionInfo, error)
	// GetContents returns the session and its user. Both are nil for unknown or expired sessions.
	// Used by the transport layer only.
	GetContents(ctx context.Context, sessionID string, extendExpiry bool) (*models.Session, *models.User, error)
}

// -- SessionService implementation ------------------------------------------------------------------------------------

// SessionInfo describes a session and the CFP roles of its user
type SessionInfo struct {
	SessionID   string   `json:"sessionId"`
	UserID      uint     `json:"userId"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	// Proposal types that go through review and that the user may vote on
	ReviewTypes []models.ProposalType `json:"reviewTypes"`
	// True for users who may see the anonymisation queue
	Anonymiser bool `json:"anonymiser"`
}

type sessionService struct {
	sessions repos.SessionRepo
	users    repos.UserRepo
	cs       ConfigService
	logger   *logrus.Entry
}

// NewSessionService creates a new session service instance
func NewSessionService(
	sr repos.SessionRepo,
	ur repos.UserRepo,
	cs ConfigService,
	logger *logrus.Entry,
) SessionService {
	return &sessionService{
		sessions: sr,
		users:    ur,
		cs:       cs,
		logger:   logger,
	}
}

func (s *sessionService) info(ctx context.Context, sess *models.Session, u *models.User) *SessionInfo {
	ret := &SessionInfo{
		SessionID:   sess.ID,
		UserID:      u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Permissions: u.Permissions(),
		ReviewTypes: []models.ProposalType{},
		Anonymiser:  u.HasPermission(models.PermCFPAnonymiser),
	}
	if ret.Permissions == nil {
		ret.Permissions = []string{}
	}
	conf := s.cs.GetConfig(ctx).CFP
	for _, t := range models.AllTypes {
		if conf.IsReviewable(t) && u.MayReview(t) {
			ret.ReviewTypes = append(ret.ReviewTypes, t)
		}
	}
	return ret
}

// Login checks the credentials and opens a session for the user
func (s *sessionService) Login(ctx context.Context, email string, password string) (*SessionInfo, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.users.GetByCredentials(email, password)
	if err == repos.ErrEntityNotExisting || (err == nil && u == nil) {
		s.logger.WithField("email", email).Info("Login failed")
		return nil, ErrLoginFailed
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to load user data for auth")
		return nil, errRepo("Failed to authenticate user", err)
	}
	sess, err := s.sessions.CreateFor(u.ID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to create session")
		return nil, errRepo("Failed to create session", err)
	}
	s.logger.WithFields(logrus.Fields{log.FldUser: u.ID, log.FldSession: sess.ID}).Info("User logged in")
	return s.info(ctx, sess, u), nil
}

// Logout ends a session
func (s *sessionService) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(sessionID); err != nil && err != repos.ErrEntityNotExisting {
		s.logger.WithError(err).Error("Failed to delete session")
		return errRepo("Failed to logout. Error in the data store", err)
	}
	return nil
}

// WhoAmI returns information about the current session
func (s *sessionService) WhoAmI(ctx context.Context, sessionID string) (*SessionInfo, error) {
	sess, u, err := s.GetContents(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotLoggedIn
	}
	return s.info(ctx, sess, u), nil
}

// GetContents returns the session and its user. Sessions of deleted users are closed.
func (s *sessionService) GetContents(ctx context.Context, sessionID string, extendExpiry bool) (*models.Session,
	*models.User, error) {
	sess, err := s.sessions.GetByID(sessionID, extendExpiry)
	if err == repos.ErrEntityNotExisting {
		return nil, nil, nil
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to retrieve session from repo")
		return nil, nil, errRepo("Failed to retrieve session information from storage", err)
	}
	u, err := s.users.GetByID(sess.UserID)
	if err == repos.ErrEntityNotExisting {
		s.logger.WithFields(logrus.Fields{log.FldUser: sess.UserID, log.FldSession: sess.ID}).
			Warn("Session of a deleted user closed")
		if err := s.sessions.Delete(sess.ID); err != nil {
			s.logger.WithError(err).Warn("Failed to delete session")
		}
		return nil, nil, nil
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to retrieve user data from repo")
		return nil, nil, errRepo("Failed to retrieve user information from storage", err)
	}
	return sess, u, nil
}
