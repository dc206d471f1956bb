package internal

import (
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// ReviewService provides the peer review of anonymised proposals
type ReviewService interface {
	// WorkingSet returns the proposals the current reviewer should look at next, in a stable order
	WorkingSet(ctx context.Context) ([]models.Proposal, error)
	// Vote casts or replaces the current reviewer's vote on a proposal
	Vote(ctx context.Context, req *VoteRequest) (*models.Vote, error)
	// Recuse withdraws the current reviewer from a proposal. The note tells the admins why.
	Recuse(ctx context.Context, proposalID uint, note string) (*models.Vote, error)
	// Block flags a proposal that should not be reviewed as it is. The note tells the admins why.
	Block(ctx context.Context, proposalID uint, note string) (*models.Vote, error)
	// Reopen puts a proposal back into the current reviewer's working set
	Reopen(ctx context.Context, proposalID uint) (*models.Vote, error)
	// MarkStale forces a re-review of a proposal by marking all cast votes as stale
	MarkStale(ctx context.Context, proposalID uint) (int, error)
	// ListNotes returns the votes carrying a note for admin triage
	ListNotes(ctx context.Context, unreadOnly bool) ([]models.VoteNote, error)
	// MarkAllRead marks all vote notes as read
	MarkAllRead(ctx context.Context) (int64, error)
}

// -- ReviewService implementation -------------------------------------------------------------------------------------

type reviewService struct {
	store       repos.Store
	workingSets repos.WorkingSetRepo
	cs          ConfigService
	logger      *logrus.Entry
}

// NewReviewService creates a new review service instance
func NewReviewService(
	store repos.Store,
	workingSets repos.WorkingSetRepo,
	cs ConfigService,
	logger *logrus.Entry,
) ReviewService {
	return &reviewService{
		store:       store,
		workingSets: workingSets,
		cs:          cs,
		logger:      logger,
	}
}

// reviewableTypes returns the proposal types the user may review
func reviewableTypes(u *models.User, conf models.CFPConfig) []models.ProposalType {
	var ret []models.ProposalType
	for _, t := range conf.ReviewableTypes {
		if u.MayReview(t) {
			ret = append(ret, t)
		}
	}
	return ret
}

// checkReviewable fails if the user may not review the proposal
func checkReviewable(u *models.User, p *models.Proposal, conf models.CFPConfig) error {
	switch {
	case p.State != models.StateAnonymised:
		return MakeErrorWithData(http.StatusConflict, ErrCodeNotReviewable,
			fmt.Sprintf("Proposal #%d is not open for review", p.ID), map[string]interface{}{"state": p.State})
	case p.UserID == u.ID:
		return MakeError(http.StatusForbidden, ErrCodeNotReviewable, "Nobody can review their own proposal")
	case !conf.IsReviewable(p.Type) || !u.MayReview(p.Type):
		return MakeErrorWithData(http.StatusForbidden, ErrCodeNotReviewable,
			fmt.Sprintf("You are not reviewing proposals of type '%s'", p.Type), map[string]interface{}{"type": p.Type})
	}
	return nil
}

// WorkingSet returns the proposals the current reviewer should look at next. Candidates are split into proposals
// the reviewer has to look at again, proposals changed since the last visit and older ones. The remembered order is
// kept unless it misses a proposal to look at again, or the reviewer has been away while new proposals came in.
func (s *reviewService) WorkingSet(ctx context.Context) ([]models.Proposal, error) {
	user, err := requirePermission(ctx, models.PermCFPReviewer)
	if err != nil {
		return nil, err
	}
	conf := s.cs.GetConfig(ctx)
	types := reviewableTypes(user, conf.CFP)
	if len(types) == 0 {
		return []models.Proposal{}, nil
	}
	r := s.store.Repos()
	candidates, err := findAll(r, repos.ProposalFilter{
		States:    []models.ProposalState{models.StateAnonymised},
		Types:     types,
		NotUserID: models.UintPtr(user.ID),
	})
	if err != nil {
		return nil, errRepo("Error while searching reviewable proposals", err)
	}
	votes, err := r.Votes.ListForUser(user.ID)
	if err != nil {
		return nil, errRepo("Error while reading votes", err)
	}
	byProposal := make(map[uint]*models.Vote, len(votes))
	for i := range votes {
		byProposal[votes[i].ProposalID] = &votes[i]
	}

	logger := s.logger.WithField(log.FldUser, user.ID)
	remembered, err := s.workingSets.Get(ctx, user.ID)
	if err != nil {
		if err != repos.ErrEntityNotExisting {
			logger.WithError(err).Warn("Cannot read working set")
		}
		remembered = nil
	}

	var again, fresh, old []uint
	known := make(map[uint]*models.Proposal, len(candidates))
	for i := range candidates {
		p := &candidates[i]
		known[p.ID] = p
		if v, ok := byProposal[p.ID]; ok {
			if v.NeedsAnotherLook() {
				again = append(again, p.ID)
			}
			continue
		}
		if remembered == nil || p.UpdatedAt.After(remembered.LastVisit) {
			fresh = append(fresh, p.ID)
		} else {
			old = append(old, p.ID)
		}
	}

	now := time.Now()
	away := time.Duration(conf.CFP.AwayMinutes) * time.Minute
	var order []uint
	reshuffle := remembered == nil || !remembered.Covers(again) ||
		(len(fresh) > 0 && now.Sub(remembered.LastVisit) > away)
	if !reshuffle {
		for _, id := range remembered.ProposalIDs {
			if _, ok := known[id]; !ok {
				continue
			}
			if v, ok := byProposal[id]; ok && !v.NeedsAnotherLook() {
				continue
			}
			order = append(order, id)
		}
		reshuffle = len(order) == 0 && len(again)+len(fresh)+len(old) > 0
	}
	if reshuffle {
		order = buildWorkingSet(rand.New(rand.NewSource(now.UnixNano())), again, fresh, old, conf.CFP.WorkingSetSize)
		logger.WithField("size", len(order)).Debug("Working set reshuffled")
	}

	if err := s.workingSets.Save(ctx, &models.WorkingSet{
		UserID:      user.ID,
		ProposalIDs: order,
		LastVisit:   now,
	}); err != nil {
		logger.WithError(err).Warn("Cannot save working set")
	}
	ret := make([]models.Proposal, 0, len(order))
	for _, id := range order {
		ret = append(ret, *known[id])
	}
	return ret, nil
}

// buildWorkingSet shuffles the partitions and concatenates all of again with new and old proportionally filling
// the rest of the set
func buildWorkingSet(rnd *rand.Rand, again, fresh, old []uint, size int) []uint {
	for _, part := range [][]uint{again, fresh, old} {
		rnd.Shuffle(len(part), func(i, j int) { part[i], part[j] = part[j], part[i] })
	}
	ret := append([]uint{}, again...)
	room := size - len(ret)
	if room <= 0 || len(fresh)+len(old) == 0 {
		return ret
	}
	numNew := (room*len(fresh) + (len(fresh)+len(old))/2) / (len(fresh) + len(old))
	numOld := room - numNew
	if numOld > len(old) {
		numNew += numOld - len(old)
		numOld = len(old)
	}
	if numNew > len(fresh) {
		numOld += numNew - len(fresh)
		numNew = len(fresh)
	}
	if numOld > len(old) {
		numOld = len(old)
	}
	ret = append(ret, fresh[:numNew]...)
	return append(ret, old[:numOld]...)
}

// Vote casts or replaces the current reviewer's vote on a proposal
func (s *reviewService) Vote(ctx context.Context, req *VoteRequest) (*models.Vote, error) {
	if req.Vote < models.VoteValueLow || req.Vote > models.VoteValueHigh {
		return nil, errInvalidField("vote", fmt.Sprintf("A vote must be between %d and %d",
			models.VoteValueLow, models.VoteValueHigh))
	}
	return s.changeVote(ctx, req.ProposalID, func(v *models.Vote) {
		v.State = models.VoteVoted
		v.Vote = models.IntPtr(req.Vote)
		setNote(v, req.Note)
	})
}

// Recuse withdraws the current reviewer from a proposal
func (s *reviewService) Recuse(ctx context.Context, proposalID uint, note string) (*models.Vote, error) {
	if strings.TrimSpace(note) == "" {
		return nil, errNoteMissing("Please tell the admins why you are recusing yourself")
	}
	return s.changeVote(ctx, proposalID, func(v *models.Vote) {
		v.State = models.VoteRecused
		v.Vote = nil
		setNote(v, note)
	})
}

// Block flags a proposal that should not be reviewed as it is
func (s *reviewService) Block(ctx context.Context, proposalID uint, note string) (*models.Vote, error) {
	if strings.TrimSpace(note) == "" {
		return nil, errNoteMissing("Please tell the admins why this proposal should be blocked")
	}
	return s.changeVote(ctx, proposalID, func(v *models.Vote) {
		v.State = models.VoteBlocked
		v.Vote = nil
		setNote(v, note)
	})
}

// Reopen puts a proposal back into the current reviewer's working set
func (s *reviewService) Reopen(ctx context.Context, proposalID uint) (*models.Vote, error) {
	return s.changeVote(ctx, proposalID, func(v *models.Vote) {
		v.State = models.VoteResolved
		v.Vote = nil
	})
}

// changeVote creates or updates the current reviewer's vote and records the change
func (s *reviewService) changeVote(ctx context.Context, proposalID uint, change func(v *models.Vote)) (*models.Vote,
	error) {
	user, err := requirePermission(ctx, models.PermCFPReviewer)
	if err != nil {
		return nil, err
	}
	conf := s.cs.GetConfig(ctx)
	var vote *models.Vote
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		p, err := r.Proposals.GetByID(proposalID)
		if err != nil {
			return err
		}
		if err := checkReviewable(user, p, conf.CFP); err != nil {
			return err
		}
		before := map[string]*string{}
		vote, err = r.Votes.GetFor(user.ID, proposalID)
		switch {
		case err == repos.ErrEntityNotExisting:
			vote = &models.Vote{UserID: user.ID, ProposalID: proposalID, State: models.VoteNew}
			change(vote)
			if err := r.Votes.Create(vote); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			before = vote.Snapshot()
			change(vote)
			if err := r.Votes.Update(vote); err != nil {
				return err
			}
		}
		return recordVersions(r, models.EntityVote, vote.ID, user.ID,
			models.Diff(models.VoteColumns, before, vote.Snapshot()), nil)
	})
	if err != nil {
		return nil, mapRepoError(err, "Proposal", proposalID)
	}
	s.logger.WithFields(logrus.Fields{
		log.FldProposal: proposalID,
		log.FldUser:     user.ID,
		log.FldState:    vote.State,
	}).Debug("Vote changed")
	return vote, nil
}

// setNote replaces the note of a vote. A changed note is unread again.
func setNote(v *models.Vote, note string) {
	note = strings.TrimSpace(note)
	if note == v.Note {
		return
	}
	v.Note = note
	v.HasBeenRead = note == ""
}

func errNoteMissing(message string) *HTTPError {
	return MakeErrorWithData(http.StatusBadRequest, ErrCodeRequiredFieldMissing, message,
		map[string]string{"field": "note"})
}

// MarkStale forces a re-review of a proposal. The cast values stay in the version log.
func (s *reviewService) MarkStale(ctx context.Context, proposalID uint) (int, error) {
	user, err := requirePermission(ctx, models.PermCFPAdmin)
	if err != nil {
		return 0, err
	}
	count := 0
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		if _, err := r.Proposals.GetByID(proposalID); err != nil {
			return err
		}
		votes, err := r.Votes.ListForProposal(proposalID)
		if err != nil {
			return err
		}
		for i := range votes {
			v := &votes[i]
			if v.State != models.VoteVoted {
				continue
			}
			before := v.Snapshot()
			v.State = models.VoteStale
			v.Vote = nil
			if err := r.Votes.Update(v); err != nil {
				return err
			}
			if err := recordVersions(r, models.EntityVote, v.ID, user.ID,
				models.Diff(models.VoteColumns, before, v.Snapshot()), nil); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, mapRepoError(err, "Proposal", proposalID)
	}
	s.logger.WithFields(logrus.Fields{log.FldProposal: proposalID, "votes": count}).Info("Votes marked as stale")
	return count, nil
}

// ListNotes returns the votes carrying a note for admin triage
func (s *reviewService) ListNotes(ctx context.Context, unreadOnly bool) ([]models.VoteNote, error) {
	if _, err := requirePermission(ctx, models.PermCFPAdmin); err != nil {
		return nil, err
	}
	list, err := s.store.Repos().Votes.ListNotes(unreadOnly)
	if err != nil {
		return nil, errRepo("Error while reading vote notes", err)
	}
	if list == nil {
		list = []models.VoteNote{}
	}
	return list, nil
}

// MarkAllRead marks all vote notes as read
func (s *reviewService) MarkAllRead(ctx context.Context) (int64, error) {
	user, err := requirePermission(ctx, models.PermCFPAdmin)
	if err != nil {
		return 0, err
	}
	var num int64
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		unread, err := r.Votes.ListNotes(true)
		if err != nil {
			return err
		}
		for i := range unread {
			v := unread[i].Vote
			before := v.Snapshot()
			v.HasBeenRead = true
			if err := recordVersions(r, models.EntityVote, v.ID, user.ID,
				models.Diff(models.VoteColumns, before, v.Snapshot()), nil); err != nil {
				return err
			}
		}
		num, err = r.Votes.MarkAllRead()
		return err
	})
	if err != nil {
		return 0, errRepo("Failed to mark notes as read", err)
	}
	return num, nil
}
