package internal

import (
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/bus"
	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/lottery"
	"github.com/derWhity/cfpdesk/internal/mail"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// LotteryResult summarises a lottery run
type LotteryResult struct {
	DryRun    bool `json:"dryRun"`
	Won       int  `json:"won"`
	Lost      int  `json:"lost"`
	Cancelled int  `json:"cancelled"`
	// The winning tickets with their seat codes
	Winners []models.EventTicket `json:"winners"`
}

// LotteryService hands out the seats of capped proposals
type LotteryService interface {
	// Enter enters the current user into the lottery of a proposal
	Enter(ctx context.Context, req *LotteryEntry) (*models.EventTicket, error)
	// Issue gives the current user seats of a proposal directly once the lottery is over
	Issue(ctx context.Context, proposalID uint, ticketCount int) (*models.EventTicket, error)
	// Tickets returns the tickets and lottery entries of the current user
	Tickets(ctx context.Context) ([]models.EventTicket, error)
	// Cancel gives back a ticket or lottery entry of the current user
	Cancel(ctx context.Context, ticketID uint) error
	// Run draws the lottery
	Run(ctx context.Context, req *LotteryRun) (*LotteryResult, error)
}

// -- LotteryService implementation ------------------------------------------------------------------------------------

type lotteryService struct {
	store  repos.Store
	ns     NotificationService
	cs     ConfigService
	logger *logrus.Entry
}

// NewLotteryService creates a new lottery service instance
func NewLotteryService(
	store repos.Store,
	ns NotificationService,
	cs ConfigService,
	logger *logrus.Entry,
) LotteryService {
	return &lotteryService{
		store:  store,
		ns:     ns,
		cs:     cs,
		logger: logger,
	}
}

func errLotteryState(state string, allowed ...string) *HTTPError {
	return MakeErrorWithData(
		http.StatusConflict,
		ErrCodeLotteryState,
		fmt.Sprintf("Not possible while the signup state is '%s'", state),
		map[string]interface{}{"state": state, "allowed": allowed},
	)
}

// signupState reads the signup state; a missing row counts as closed
func signupState(r repos.Repos) (string, error) {
	state, err := r.SiteState.Get(models.SiteStateSignup)
	if err == repos.ErrEntityNotExisting {
		return models.SignupClosed, nil
	}
	return state, err
}

// ticketedProposal loads a proposal that hands out seats
func ticketedProposal(r repos.Repos, id uint) (*models.Proposal, error) {
	p, err := r.Proposals.GetByID(id)
	if err != nil {
		return nil, err
	}
	open := p.State == models.StateAccepted || p.State == models.StateFinalised
	if !p.Type.HasTickets() || !p.RequiresTicket || !open {
		return nil, MakeError(http.StatusConflict, ErrCodeInvalidField,
			fmt.Sprintf("Proposal #%d does not hand out tickets", id))
	}
	return p, nil
}

// holdsTicket checks if the user already has an open entry or a ticket for the proposal
func holdsTicket(r repos.Repos, userID uint, proposalID uint) (bool, error) {
	tickets, err := r.Tickets.ListForProposal(proposalID, models.TicketEnteredLottery, models.TicketIssued)
	if err != nil {
		return false, err
	}
	for _, t := range tickets {
		if t.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// Enter enters the current user into the lottery of a proposal. Entries asking for more seats than the proposal has
// are accepted but can never win.
func (s *lotteryService) Enter(ctx context.Context, req *LotteryEntry) (*models.EventTicket, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if req.TicketCount < 1 {
		return nil, errInvalidField("ticketCount", "At least one seat is needed")
	}
	if req.Rank < 0 {
		return nil, errInvalidField("rank", "The rank must not be negative")
	}
	t := models.EventTicket{
		UserID:      user.ID,
		ProposalID:  req.ProposalID,
		State:       models.TicketEnteredLottery,
		TicketCount: req.TicketCount,
		Rank:        models.IntPtr(req.Rank),
	}
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		state, err := signupState(r)
		if err != nil {
			return err
		}
		if state != models.SignupIssueLotteryTickets {
			return errLotteryState(state, models.SignupIssueLotteryTickets)
		}
		if _, err := ticketedProposal(r, req.ProposalID); err != nil {
			return err
		}
		held, err := holdsTicket(r, user.ID, req.ProposalID)
		if err != nil {
			return err
		}
		if held {
			return MakeError(http.StatusConflict, ErrCodeInvalidField, "You already entered this lottery")
		}
		return r.Tickets.Create(&t)
	})
	if err != nil {
		return nil, mapRepoError(err, "Proposal", req.ProposalID)
	}
	s.logger.WithFields(logrus.Fields{log.FldTicket: t.ID, log.FldProposal: t.ProposalID, log.FldUser: user.ID}).
		Debug("Lottery entered")
	return &t, nil
}

// Issue gives the current user seats of a proposal directly once the lottery is over
func (s *lotteryService) Issue(ctx context.Context, proposalID uint, ticketCount int) (*models.EventTicket, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if ticketCount < 1 {
		return nil, errInvalidField("ticketCount", "At least one seat is needed")
	}
	t := models.EventTicket{
		UserID:      user.ID,
		ProposalID:  proposalID,
		State:       models.TicketIssued,
		TicketCount: ticketCount,
		TicketCodes: seatCodes(ticketCount),
	}
	err = s.store.InTx(ctx, func(r repos.Repos) error {
		state, err := signupState(r)
		if err != nil {
			return err
		}
		if state != models.SignupIssueEventTickets {
			return errLotteryState(state, models.SignupIssueEventTickets)
		}
		p, err := ticketedProposal(r, proposalID)
		if err != nil {
			return err
		}
		held, err := holdsTicket(r, user.ID, proposalID)
		if err != nil {
			return err
		}
		if held {
			return MakeError(http.StatusConflict, ErrCodeInvalidField, "You already have a ticket for this proposal")
		}
		issued, err := r.Tickets.IssuedSeats(proposalID)
		if err != nil {
			return err
		}
		if remaining := capacity(p) - issued; ticketCount > remaining {
			return MakeErrorWithData(http.StatusConflict, ErrCodeCapacityExceeded,
				fmt.Sprintf("Only %d seats are left", remaining), map[string]int{"remaining": remaining})
		}
		return r.Tickets.Create(&t)
	})
	if err != nil {
		return nil, mapRepoError(err, "Proposal", proposalID)
	}
	return &t, nil
}

// Tickets returns the tickets and lottery entries of the current user
func (s *lotteryService) Tickets(ctx context.Context) ([]models.EventTicket, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.store.Repos().Tickets.ListForUser(user.ID)
	if err != nil {
		return nil, errRepo("Error while reading tickets", err)
	}
	return list, nil
}

// Cancel gives back a ticket or lottery entry of the current user
func (s *lotteryService) Cancel(ctx context.Context, ticketID uint) error {
	user, err := currentUser(ctx)
	if err != nil {
		return err
	}
	return mapRepoError(s.store.InTx(ctx, func(r repos.Repos) error {
		t, err := r.Tickets.GetByID(ticketID)
		if err != nil {
			return err
		}
		if t.UserID != user.ID && !user.HasPermission(models.PermCFPAdmin) {
			return errForbidden("This ticket belongs to someone else")
		}
		if t.State != models.TicketEnteredLottery && t.State != models.TicketIssued {
			return MakeError(http.StatusConflict, ErrCodeInvalidField,
				fmt.Sprintf("A ticket in state '%s' cannot be cancelled", t.State))
		}
		t.State = models.TicketCancelled
		return r.Tickets.Update(t)
	}), "Ticket", ticketID)
}

func capacity(p *models.Proposal) int {
	if p.Attendees == nil {
		return 0
	}
	return *p.Attendees
}

// seatCodes returns one random code per seat
func seatCodes(count int) string {
	codes := make([]string, count)
	for i := range codes {
		codes[i] = uuid.NewString()
	}
	return strings.Join(codes, ",")
}

// Run draws the lottery. The signup state is set to run-lottery for the duration of the draw and to
// pending-tickets afterwards. A dry run rolls everything back, including the signup state.
func (s *lotteryService) Run(ctx context.Context, req *LotteryRun) (*LotteryResult, error) {
	if _, err := requirePermission(ctx, models.PermCFPAdmin); err != nil {
		return nil, err
	}
	res := &LotteryResult{DryRun: req.DryRun, Winners: []models.EventTicket{}}
	var losers []uint
	proposals := map[uint]*models.Proposal{}
	err := s.store.InTx(ctx, func(r repos.Repos) error {
		state, err := signupState(r)
		if err != nil {
			return err
		}
		if state != models.SignupIssueLotteryTickets && state != models.SignupRunLottery {
			return errLotteryState(state, models.SignupIssueLotteryTickets, models.SignupRunLottery)
		}
		if err := r.SiteState.Set(models.SiteStateSignup, models.SignupRunLottery); err != nil {
			return err
		}

		entries, err := r.Tickets.ListByState(models.TicketEnteredLottery)
		if err != nil {
			return err
		}
		tickets := make(map[uint]*models.EventTicket, len(entries))
		draws := map[uint]*lottery.Draw{}
		var order []uint
		for i := range entries {
			t := &entries[i]
			tickets[t.ID] = t
			d, ok := draws[t.ProposalID]
			if !ok {
				p, err := ticketedProposal(r, t.ProposalID)
				if err != nil {
					if _, ok := err.(*HTTPError); !ok {
						return err
					}
					s.logger.WithFields(logrus.Fields{log.FldTicket: t.ID, log.FldProposal: t.ProposalID}).
						Info("Proposal no longer runs a lottery, entry cancelled")
					t.State = models.TicketCancelled
					if err := r.Tickets.Update(t); err != nil {
						return err
					}
					res.Cancelled++
					continue
				}
				issued, err := r.Tickets.IssuedSeats(p.ID)
				if err != nil {
					return err
				}
				proposals[p.ID] = p
				d = &lottery.Draw{ProposalID: p.ID, Capacity: capacity(p) - issued}
				draws[p.ID] = d
				order = append(order, p.ID)
			}
			rank := 0
			if t.Rank != nil {
				rank = *t.Rank
			}
			d.Entries = append(d.Entries, lottery.Entry{TicketID: t.ID, UserID: t.UserID, Count: t.TicketCount, Rank: rank})
		}
		list := make([]lottery.Draw, 0, len(order))
		for _, id := range order {
			list = append(list, *draws[id])
		}

		drawn := lottery.Run(list, rand.New(rand.NewSource(time.Now().UnixNano())))
		winners := map[uint]bool{}
		for _, w := range drawn.Winners {
			winners[w.UserID] = true
		}
		lostUsers := map[uint]bool{}
		for id, st := range drawn.States {
			t := tickets[id]
			t.State = st
			switch st {
			case models.TicketIssued:
				t.TicketCodes = seatCodes(t.TicketCount)
				res.Won++
			case models.TicketLostLottery:
				res.Lost++
				if !winners[t.UserID] && !lostUsers[t.UserID] {
					lostUsers[t.UserID] = true
					losers = append(losers, t.UserID)
				}
			case models.TicketCancelled:
				res.Cancelled++
			}
			if err := r.Tickets.Update(t); err != nil {
				return err
			}
		}
		for _, w := range drawn.Winners {
			res.Winners = append(res.Winners, *tickets[w.TicketID])
		}
		if req.DryRun {
			return repos.ErrDryRun
		}
		return r.SiteState.Set(models.SiteStateSignup, models.SignupPendingTickets)
	})
	if err != nil && err != repos.ErrDryRun {
		if _, ok := err.(*HTTPError); ok {
			return nil, err
		}
		return nil, errRepo("Lottery run failed", err)
	}
	logger := s.logger.WithFields(logrus.Fields{
		"won":       res.Won,
		"lost":      res.Lost,
		"cancelled": res.Cancelled,
		"dryRun":    req.DryRun,
	})
	if req.DryRun {
		logger.Info("Lottery dry run finished, changes rolled back")
		return res, nil
	}
	logger.Info("Lottery finished")
	s.notifyWinners(ctx, res.Winners, proposals)
	if req.NotifyLosers {
		for _, userID := range losers {
			if err := s.ns.Notify(ctx, models.MailLotteryLost, userID, nil, mail.Data{}); err != nil {
				s.logger.WithError(err).WithField(log.FldUser, userID).Error("Cannot queue mail")
			}
		}
	}
	s.ns.Announce(ctx, bus.TopicGreenroom, fmt.Sprintf("Lottery drawn: %d tickets won, %d lost, %d cancelled",
		res.Won, res.Lost, res.Cancelled), 0)
	return res, nil
}

func (s *lotteryService) notifyWinners(ctx context.Context, winners []models.EventTicket,
	proposals map[uint]*models.Proposal) {
	r := s.store.Repos()
	loc := s.cs.GetConfig(ctx).Event.Location()
	for _, t := range winners {
		p := proposals[t.ProposalID]
		data := mail.Data{Codes: t.Codes()}
		if p.ScheduledTime != nil {
			data.Time = models.TimePtr(p.ScheduledTime.In(loc))
		}
		if p.ScheduledVenueID != nil {
			if v, err := r.Venues.GetByID(*p.ScheduledVenueID); err == nil {
				data.Venue = v.Name
			}
		}
		if err := s.ns.Notify(ctx, models.MailLotteryWon, t.UserID, p, data); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{log.FldTicket: t.ID, log.FldUser: t.UserID}).
				Error("Cannot queue mail")
		}
	}
}
