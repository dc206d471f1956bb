package internal

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/mail"
	"github.com/derWhity/cfpdesk/internal/majority"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// Messaging modes of an acceptance run
const (
	// AcceptModeAcceptedUnaccepted mails the accepted authors and tells the others they are still considered
	AcceptModeAcceptedUnaccepted = "accepted_unaccepted"
	// AcceptModeAccepted mails the accepted authors only
	AcceptModeAccepted = "accepted"
	// AcceptModeNobody sends no mail at all
	AcceptModeNobody = "nobody"
	// AcceptModeAcceptedReject mails the accepted authors and rejects everyone else
	AcceptModeAcceptedReject = "accepted_reject"
)

// RankedProposal is a proposal together with its review result
type RankedProposal struct {
	Proposal models.Proposal `json:"proposal"`
	// Number of cast votes
	Votes int     `json:"votes"`
	Score float64 `json:"score"`
}

// AcceptResult lists what an acceptance run did to the ranked proposals
type AcceptResult struct {
	Accepted        []uint `json:"accepted"`
	StillConsidered []uint `json:"stillConsidered"`
	Rejected        []uint `json:"rejected"`
	// Proposals that could not be changed
	Failed []uint `json:"failed"`
}

// RoundService closes review rounds and turns the review results into acceptances
type RoundService interface {
	// PreviewClose lists the anonymised proposals a round close with the given vote minimum would mark as reviewed
	PreviewClose(ctx context.Context, minVotes int) ([]RankedProposal, error)
	// Close marks every anonymised proposal with at least minVotes cast votes as reviewed
	Close(ctx context.Context, minVotes int) ([]RankedProposal, error)
	// Ranking returns the reviewed proposals, best score first
	Ranking(ctx context.Context) ([]RankedProposal, error)
	// Accept accepts every reviewed proposal scoring at least the threshold and mails the authors according to mode
	Accept(ctx context.Context, req *AcceptRequest) (*AcceptResult, error)
}

// -- RoundService implementation --------------------------------------------------------------------------------------

type roundService struct {
	store  repos.Store
	ns     NotificationService
	logger *logrus.Entry
}

// NewRoundService creates a new round service instance
func NewRoundService(store repos.Store, ns NotificationService, logger *logrus.Entry) RoundService {
	return &roundService{
		store:  store,
		ns:     ns,
		logger: logger,
	}
}

// roundStates are the states a round close looks at. Reviewed proposals stay reviewed.
var roundStates = []models.ProposalState{models.StateAnonymised, models.StateReviewed}

// closable returns the proposals under review having enough cast votes
func (s *roundService) closable(minVotes int) ([]RankedProposal, error) {
	r := s.store.Repos()
	counts, err := r.Votes.VotedCounts(roundStates)
	if err != nil {
		return nil, errRepo("Error while counting votes", err)
	}
	list, err := findAll(r, repos.ProposalFilter{States: roundStates})
	if err != nil {
		return nil, errRepo("Error while searching proposals under review", err)
	}
	ret := []RankedProposal{}
	for _, p := range list {
		if n := counts[p.ID]; n >= minVotes {
			ret = append(ret, RankedProposal{Proposal: p, Votes: n})
		}
	}
	return ret, nil
}

// PreviewClose lists the proposals a round close would mark as reviewed
func (s *roundService) PreviewClose(ctx context.Context, minVotes int) ([]RankedProposal, error) {
	if _, err := requirePermission(ctx, models.PermCFPAdmin); err != nil {
		return nil, err
	}
	return s.closable(minVotes)
}

// Close marks every anonymised or reviewed proposal with at least minVotes cast votes as reviewed. Proposals that
// fail are skipped and logged.
func (s *roundService) Close(ctx context.Context, minVotes int) ([]RankedProposal, error) {
	user, err := requirePermission(ctx, models.PermCFPAdmin)
	if err != nil {
		return nil, err
	}
	if minVotes < 1 {
		return nil, errInvalidField("minVotes", "At least one vote is needed to close a round")
	}
	candidates, err := s.closable(minVotes)
	if err != nil {
		return nil, err
	}
	closed := []RankedProposal{}
	failed := 0
	for _, c := range candidates {
		err := s.store.InTx(ctx, func(r repos.Repos) error {
			p, err := r.Proposals.GetByID(c.Proposal.ID)
			if err != nil {
				return err
			}
			if p.State == models.StateReviewed {
				return nil
			}
			return transition(r, p, models.StateReviewed, user.ID, false)
		})
		if err != nil {
			failed++
			s.logger.WithError(err).WithField(log.FldProposal, c.Proposal.ID).Warn("Cannot close review")
			continue
		}
		c.Proposal.State = models.StateReviewed
		closed = append(closed, c)
	}
	s.logger.WithFields(logrus.Fields{"minVotes": minVotes, "success": len(closed), "failed": failed}).
		Info("Review round closed")
	return closed, nil
}

// Ranking returns the reviewed proposals, best score first
func (s *roundService) Ranking(ctx context.Context) ([]RankedProposal, error) {
	if _, err := requirePermission(ctx, models.PermCFPAdmin); err != nil {
		return nil, err
	}
	return s.ranking()
}

func (s *roundService) ranking() ([]RankedProposal, error) {
	r := s.store.Repos()
	list, err := findAll(r, repos.ProposalFilter{States: []models.ProposalState{models.StateReviewed}})
	if err != nil {
		return nil, errRepo("Error while searching reviewed proposals", err)
	}
	ret := make([]RankedProposal, 0, len(list))
	for _, p := range list {
		votes, err := r.Votes.ListForProposal(p.ID)
		if err != nil {
			return nil, errRepo(fmt.Sprintf("Cannot read votes of proposal #%d", p.ID), err)
		}
		var values []int
		for _, v := range votes {
			if v.State == models.VoteVoted && v.Vote != nil {
				values = append(values, *v.Vote)
			}
		}
		score, err := majority.NormalisedScore(values, majority.DefaultBase)
		if err != nil {
			s.logger.WithError(err).WithField(log.FldProposal, p.ID).Error("Cannot score proposal")
			continue
		}
		ret = append(ret, RankedProposal{Proposal: p, Votes: len(values), Score: score})
	}
	sort.SliceStable(ret, func(i, j int) bool {
		if ret[i].Score != ret[j].Score {
			return ret[i].Score > ret[j].Score
		}
		return ret[i].Proposal.ID < ret[j].Proposal.ID
	})
	return ret, nil
}

// Accept accepts every reviewed proposal scoring at least the threshold. Mails are queued after each state change
// has been committed; a mail that cannot be queued does not undo the change.
func (s *roundService) Accept(ctx context.Context, req *AcceptRequest) (*AcceptResult, error) {
	user, err := requirePermission(ctx, models.PermCFPAdmin)
	if err != nil {
		return nil, err
	}
	switch req.Mode {
	case AcceptModeAcceptedUnaccepted, AcceptModeAccepted, AcceptModeNobody, AcceptModeAcceptedReject:
	default:
		return nil, errInvalidField("mode", fmt.Sprintf("'%s' is no valid messaging mode", req.Mode))
	}
	ranked, err := s.ranking()
	if err != nil {
		return nil, err
	}
	res := &AcceptResult{Accepted: []uint{}, StillConsidered: []uint{}, Rejected: []uint{}, Failed: []uint{}}
	for i := range ranked {
		p := &ranked[i].Proposal
		target, kind := models.StateAccepted, models.MailAccepted
		if ranked[i].Score < req.MinScore {
			target, kind = "", models.MailStillConsidered
			if req.Mode == AcceptModeAcceptedReject {
				target, kind = models.StateRejected, models.MailRejected
			}
		}
		if target != "" {
			err := s.store.InTx(ctx, func(r repos.Repos) error {
				current, err := r.Proposals.GetByID(p.ID)
				if err != nil {
					return err
				}
				if err := transition(r, current, target, user.ID, false); err != nil {
					return err
				}
				*p = *current
				return nil
			})
			if err != nil {
				res.Failed = append(res.Failed, p.ID)
				s.logger.WithError(err).WithFields(logrus.Fields{log.FldProposal: p.ID, log.FldState: target}).
					Warn("Cannot change proposal state")
				continue
			}
		}
		switch kind {
		case models.MailAccepted:
			res.Accepted = append(res.Accepted, p.ID)
		case models.MailRejected:
			res.Rejected = append(res.Rejected, p.ID)
		default:
			res.StillConsidered = append(res.StillConsidered, p.ID)
		}
		if !mailsFor(req.Mode, kind) {
			continue
		}
		if err := s.ns.Notify(ctx, kind, p.UserID, p, mail.Data{}); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{log.FldProposal: p.ID, log.FldMail: kind}).
				Error("Cannot queue mail")
		}
	}
	s.logger.WithFields(logrus.Fields{
		"minScore":        req.MinScore,
		"mode":            req.Mode,
		"accepted":        len(res.Accepted),
		"stillConsidered": len(res.StillConsidered),
		"rejected":        len(res.Rejected),
		"failed":          len(res.Failed),
	}).Info("Acceptance run finished")
	return res, nil
}

// mailsFor checks if the messaging mode sends mails of the given kind
func mailsFor(mode string, kind string) bool {
	switch mode {
	case AcceptModeAcceptedUnaccepted:
		return kind == models.MailAccepted || kind == models.MailStillConsidered
	case AcceptModeAccepted:
		return kind == models.MailAccepted
	case AcceptModeAcceptedReject:
		return kind == models.MailAccepted || kind == models.MailRejected
	}
	return false
}
