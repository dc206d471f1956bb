package internal

import (
	"bytes"
	"fmt"

	"github.com/go-kit/kit/endpoint"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/models"
)

// SessionEndpoints is a collection of endpoints for working with the session service
type SessionEndpoints struct {
	Login  endpoint.Endpoint
	Logout endpoint.Endpoint
	WhoAmI endpoint.Endpoint
}

// ProposalEndpoints is a collection of endpoints for working with the proposal service
type ProposalEndpoints struct {
	Create          endpoint.Endpoint
	Get             endpoint.Endpoint
	List            endpoint.Endpoint
	Update          endpoint.Endpoint
	Delete          endpoint.Endpoint
	Versions        endpoint.Endpoint
	Revert          endpoint.Endpoint
	Transition      endpoint.Endpoint
	Check           endpoint.Endpoint
	Withdraw        endpoint.Endpoint
	AddFavourite    endpoint.Endpoint
	RemoveFavourite endpoint.Endpoint
	SendMessage     endpoint.Endpoint
	ListMessages    endpoint.Endpoint
	MarkRead        endpoint.Endpoint
}

// AnonymiserEndpoints is a collection of endpoints for the anonymisation queue
type AnonymiserEndpoints struct {
	ListPending endpoint.Endpoint
	Next        endpoint.Endpoint
	Anonymise   endpoint.Endpoint
	Block       endpoint.Endpoint
}

// ReviewEndpoints is a collection of endpoints for the reviewers
type ReviewEndpoints struct {
	WorkingSet  endpoint.Endpoint
	Vote        endpoint.Endpoint
	Recuse      endpoint.Endpoint
	Block       endpoint.Endpoint
	Reopen      endpoint.Endpoint
	MarkStale   endpoint.Endpoint
	ListNotes   endpoint.Endpoint
	MarkAllRead endpoint.Endpoint
}

// RoundEndpoints is a collection of endpoints for closing review rounds and accepting proposals
type RoundEndpoints struct {
	PreviewClose endpoint.Endpoint
	Close        endpoint.Endpoint
	Ranking      endpoint.Endpoint
	Accept       endpoint.Endpoint
}

// ScheduleEndpoints is a collection of endpoints for the scheduler
type ScheduleEndpoints struct {
	SetRoughDurations endpoint.Endpoint
	Run               endpoint.Endpoint
	ApplyPotential    endpoint.Endpoint
	SenseCheck        endpoint.Endpoint
}

// LotteryEndpoints is a collection of endpoints for event tickets and the lottery
type LotteryEndpoints struct {
	Enter   endpoint.Endpoint
	Issue   endpoint.Endpoint
	Tickets endpoint.Endpoint
	Cancel  endpoint.Endpoint
	Run     endpoint.Endpoint
}

// VenueEndpoints is a collection of endpoints for the venues
type VenueEndpoints struct {
	List           endpoint.Endpoint
	Create         endpoint.Endpoint
	CreateDefaults endpoint.Endpoint
}

// AdminEndpoints bundles the remaining admin operations
type AdminEndpoints struct {
	Finalise  endpoint.Endpoint
	BulkEmail endpoint.Endpoint
	Flush     endpoint.Endpoint
	Outbox    endpoint.Endpoint
	Import    endpoint.Endpoint
	Export    endpoint.Endpoint
}

// The base for all responses which always contains an "ok" property to show if the call was successful and a
// data element containing the result of the request
type basicResponse struct {
	OK   bool        `json:"ok"`
	Data interface{} `json:"data,omitempty"`
}

type pagingResponse struct {
	Rows uint        `json:"rows"`
	List interface{} `json:"list"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

// A request made when logging in
type loginRequest struct {
	Email string `json:"email"`
	Pass  string `json:"password"`
}

// textRequest carries a free text for the proposal in the path: a note, a reason or a message body
type textRequest struct {
	ID   uint   `json:"-"`
	Text string `json:"text"`
}

type revertRequest struct {
	ID   uint   `json:"-"`
	TxID string `json:"txId"`
}

type transitionRequest struct {
	ID    uint                 `json:"-"`
	To    models.ProposalState `json:"to"`
	Force bool                 `json:"force"`
}

type anonymiseRequest struct {
	ID          uint   `json:"-"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type finaliseRequest struct {
	ID   uint
	Form FinaliseForm
}

type applyRequest struct {
	Type  models.ProposalType `json:"type"`
	Email bool                `json:"email"`
}

type issueRequest struct {
	ProposalID  uint `json:"proposalId"`
	TicketCount int  `json:"ticketCount"`
}

type importRequest struct {
	State models.ProposalState
	Data  []byte
}

// exportResponse is written as-is by encodeExportResponse
type exportResponse struct {
	Format string
	Body   []byte
}

// -- Sessions ---------------------------------------------------------------------------------------------------------

// MakeSessionEndpoints builds the endpoints needed to communicate with the Session Service
func MakeSessionEndpoints(s SessionService) SessionEndpoints {
	return SessionEndpoints{
		Login:  makeLoginEndpoint(s),
		Logout: makeLogoutEndpoint(s),
		WhoAmI: makeWhoAmIEndpoint(s),
	}
}

func makeLoginEndpoint(s SessionService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		se, ok := request.(loginRequest)
		if !ok {
			return nil, fmt.Errorf("illegal login request")
		}
		si, err := s.Login(ctx, se.Email, se.Pass)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, si}, nil
	}
}

func makeLogoutEndpoint(s SessionService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(string)
		if !ok {
			return nil, fmt.Errorf("illegal session token")
		}
		if err := s.Logout(ctx, id); err != nil {
			return nil, err
		}
		return basicResponse{true, nil}, nil
	}
}

func makeWhoAmIEndpoint(s SessionService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(string)
		if !ok {
			return nil, fmt.Errorf("illegal session token")
		}
		si, err := s.WhoAmI(ctx, id)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, si}, nil
	}
}

// -- Proposals --------------------------------------------------------------------------------------------------------

// MakeProposalEndpoints builds the endpoints needed to communicate with the Proposal Service
func MakeProposalEndpoints(s ProposalService) ProposalEndpoints {
	return ProposalEndpoints{
		Create:          EnsureUserLoggedIn(makeCreateProposalEndpoint(s)),
		Get:             EnsureUserLoggedIn(makeGetProposalEndpoint(s)),
		List:            EnsureUserLoggedIn(makeListProposalsEndpoint(s)),
		Update:          EnsureUserLoggedIn(makeUpdateProposalEndpoint(s)),
		Delete:          EnsureUserLoggedIn(makeDeleteProposalEndpoint(s)),
		Versions:        EnsureUserLoggedIn(makeVersionsEndpoint(s)),
		Revert:          EnsureUserLoggedIn(makeRevertEndpoint(s)),
		Transition:      EnsureUserLoggedIn(makeTransitionEndpoint(s)),
		Check:           EnsureUserLoggedIn(makeCheckEndpoint(s)),
		Withdraw:        EnsureUserLoggedIn(makeWithdrawEndpoint(s)),
		AddFavourite:    EnsureUserLoggedIn(makeAddFavouriteEndpoint(s)),
		RemoveFavourite: EnsureUserLoggedIn(makeRemoveFavouriteEndpoint(s)),
		SendMessage:     EnsureUserLoggedIn(makeSendMessageEndpoint(s)),
		ListMessages:    EnsureUserLoggedIn(makeListMessagesEndpoint(s)),
		MarkRead:        EnsureUserLoggedIn(makeMarkMessagesReadEndpoint(s)),
	}
}

func makeCreateProposalEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		p, ok := request.(models.Proposal)
		if !ok {
			return nil, fmt.Errorf("illegal proposal parameter")
		}
		created, err := s.Create(ctx, &p)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, created}, nil
	}
}

func makeGetProposalEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(uint)
		if !ok {
			return nil, fmt.Errorf("illegal proposal ID")
		}
		p, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, p}, nil
	}
}

func makeListProposalsEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		se, ok := request.(ProposalSearch)
		if !ok {
			return nil, fmt.Errorf("illegal search parameter")
		}
		list, numRows, err := s.List(ctx, &se)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, pagingResponse{numRows, list}}, nil
	}
}

func makeUpdateProposalEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		p, ok := request.(models.Proposal)
		if !ok {
			return nil, fmt.Errorf("illegal proposal parameter")
		}
		if err := s.Update(ctx, &p); err != nil {
			return nil, err
		}
		return basicResponse{true, nil}, nil
	}
}

func makeDeleteProposalEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(uint)
		if !ok {
			return nil, fmt.Errorf("illegal proposal ID")
		}
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		return basicResponse{true, nil}, nil
	}
}

func makeVersionsEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(uint)
		if !ok {
			return nil, fmt.Errorf("illegal proposal ID")
		}
		list, err := s.Versions(ctx, id)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, list}, nil
	}
}

func makeRevertEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(revertRequest)
		if !ok {
			return nil, fmt.Errorf("illegal revert request")
		}
		if err := s.Revert(ctx, req.ID, req.TxID); err != nil {
			return nil, err
		}
		return basicResponse{true, nil}, nil
	}
}

func makeTransitionEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(transitionRequest)
		if !ok {
			return nil, fmt.Errorf("illegal transition request")
		}
		if err := s.Transition(ctx, req.ID, req.To, req.Force); err != nil {
			return nil, err
		}
		return basicResponse{true, nil}, nil
	}
}

func makeCheckEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(uint)
		if !ok {
			return nil, fmt.Errorf("illegal proposal ID")
		}
		if err := s.Check(ctx, id); err != nil {
			return nil, err
		}
		return basicResponse{true, nil}, nil
	}
}

func makeWithdrawEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(textRequest)
		if !ok {
			return nil, fmt.Errorf("illegal withdraw request")
		}
		if err := s.Withdraw(ctx, req.ID, req.Text); err != nil {
			return nil, err
		}
		return basicResponse{true, nil}, nil
	}
}

func makeAddFavouriteEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(uint)
		if !ok {
			return nil, fmt.Errorf("illegal proposal ID")
		}
		if err := s.AddFavourite(ctx, id); err != nil {
			return nil, err
		}
		return basicResponse{true, nil}, nil
	}
}

func makeRemoveFavouriteEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(uint)
		if !ok {
			return nil, fmt.Errorf("illegal proposal ID")
		}
		if err := s.RemoveFavourite(ctx, id); err != nil {
			return nil, err
		}
		return basicResponse{true, nil}, nil
	}
}

func makeSendMessageEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(textRequest)
		if !ok {
			return nil, fmt.Errorf("illegal message request")
		}
		m, err := s.SendMessage(ctx, req.ID, req.Text)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, m}, nil
	}
}

func makeListMessagesEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(uint)
		if !ok {
			return nil, fmt.Errorf("illegal proposal ID")
		}
		list, err := s.ListMessages(ctx, id)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, list}, nil
	}
}

func makeMarkMessagesReadEndpoint(s ProposalService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(uint)
		if !ok {
			return nil, fmt.Errorf("illegal proposal ID")
		}
		n, err := s.MarkMessagesRead(ctx, id)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, countResponse{n}}, nil
	}
}

// -- Anonymisation ----------------------------------------------------------------------------------------------------

// MakeAnonymiserEndpoints builds the endpoints needed to communicate with the Anonymiser Service
func MakeAnonymiserEndpoints(s AnonymiserService) AnonymiserEndpoints {
	return AnonymiserEndpoints{
		ListPending: EnsureUserLoggedIn(makeListPendingEndpoint(s)),
		Next:        EnsureUserLoggedIn(makeNextPendingEndpoint(s)),
		Anonymise:   EnsureUserLoggedIn(makeAnonymiseEndpoint(s)),
		Block:       EnsureUserLoggedIn(makeBlockAnonymisationEndpoint(s)),
	}
}

func makeListPendingEndpoint(s AnonymiserService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		tag, _ := request.(string)
		list, err := s.ListPending(ctx, tag)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, list}, nil
	}
}

func makeNextPendingEndpoint(s AnonymiserService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		after, _ := request.(uint)
		p, err := s.Next(ctx, after)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, p}, nil
	}
}

func makeAnonymiseEndpoint(s AnonymiserService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(anonymiseRequest)
		if !ok {
			return nil, fmt.Errorf("illegal anonymisation request")
		}
		if err := s.Anonymise(ctx, req.ID, req.Title, req.Description); err != nil {
			return nil, err
		}
		return basicResponse{true, nil}, nil
	}
}

func makeBlockAnonymisationEndpoint(s AnonymiserService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(uint)
		if !ok {
			return nil, fmt.Errorf("illegal proposal ID")
		}
		if err := s.Block(ctx, id); err != nil {
			return nil, err
		}
		return basicResponse{true, nil}, nil
	}
}

// -- Reviews ----------------------------------------------------------------------------------------------------------

// MakeReviewEndpoints builds the endpoints needed to communicate with the Review Service
func MakeReviewEndpoints(s ReviewService) ReviewEndpoints {
	return ReviewEndpoints{
		WorkingSet:  EnsureUserLoggedIn(makeWorkingSetEndpoint(s)),
		Vote:        EnsureUserLoggedIn(makeVoteEndpoint(s)),
		Recuse:      EnsureUserLoggedIn(makeVoteNoteEndpoint(s.Recuse)),
		Block:       EnsureUserLoggedIn(makeVoteNoteEndpoint(s.Block)),
		Reopen:      EnsureUserLoggedIn(makeReopenEndpoint(s)),
		MarkStale:   EnsureUserLoggedIn(makeMarkStaleEndpoint(s)),
		ListNotes:   EnsureUserLoggedIn(makeListNotesEndpoint(s)),
		MarkAllRead: EnsureUserLoggedIn(makeMarkAllReadEndpoint(s)),
	}
}

func makeWorkingSetEndpoint(s ReviewService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		list, err := s.WorkingSet(ctx)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, list}, nil
	}
}

func makeVoteEndpoint(s ReviewService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(VoteRequest)
		if !ok {
			return nil, fmt.Errorf("illegal vote request")
		}
		v, err := s.Vote(ctx, &req)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, v}, nil
	}
}

// makeVoteNoteEndpoint serves the review actions that only take a note
func makeVoteNoteEndpoint(fn func(context.Context, uint, string) (*models.Vote, error)) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(textRequest)
		if !ok {
			return nil, fmt.Errorf("illegal note request")
		}
		v, err := fn(ctx, req.ID, req.Text)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, v}, nil
	}
}

func makeReopenEndpoint(s ReviewService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(uint)
		if !ok {
			return nil, fmt.Errorf("illegal proposal ID")
		}
		v, err := s.Reopen(ctx, id)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, v}, nil
	}
}

func makeMarkStaleEndpoint(s ReviewService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(uint)
		if !ok {
			return nil, fmt.Errorf("illegal proposal ID")
		}
		n, err := s.MarkStale(ctx, id)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, countResponse{int64(n)}}, nil
	}
}

func makeListNotesEndpoint(s ReviewService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		unreadOnly, _ := request.(bool)
		list, err := s.ListNotes(ctx, unreadOnly)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, list}, nil
	}
}

func makeMarkAllReadEndpoint(s ReviewService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		n, err := s.MarkAllRead(ctx)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, countResponse{n}}, nil
	}
}

// -- Review rounds ----------------------------------------------------------------------------------------------------

// MakeRoundEndpoints builds the endpoints needed to communicate with the Round Service
func MakeRoundEndpoints(s RoundService) RoundEndpoints {
	return RoundEndpoints{
		PreviewClose: EnsureUserLoggedIn(makeCloseRoundEndpoint(s.PreviewClose)),
		Close:        EnsureUserLoggedIn(makeCloseRoundEndpoint(s.Close)),
		Ranking:      EnsureUserLoggedIn(makeRankingEndpoint(s)),
		Accept:       EnsureUserLoggedIn(makeAcceptEndpoint(s)),
	}
}

func makeCloseRoundEndpoint(fn func(context.Context, int) ([]RankedProposal, error)) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		minVotes, ok := request.(int)
		if !ok {
			return nil, fmt.Errorf("illegal vote minimum")
		}
		list, err := fn(ctx, minVotes)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, list}, nil
	}
}

func makeRankingEndpoint(s RoundService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		list, err := s.Ranking(ctx)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, list}, nil
	}
}

func makeAcceptEndpoint(s RoundService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(AcceptRequest)
		if !ok {
			return nil, fmt.Errorf("illegal accept request")
		}
		res, err := s.Accept(ctx, &req)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, res}, nil
	}
}

// -- Scheduling -------------------------------------------------------------------------------------------------------

// MakeScheduleEndpoints builds the endpoints needed to communicate with the Schedule Service
func MakeScheduleEndpoints(s ScheduleService) ScheduleEndpoints {
	return ScheduleEndpoints{
		SetRoughDurations: EnsureUserLoggedIn(makeSetRoughDurationsEndpoint(s)),
		Run:               EnsureUserLoggedIn(makeRunScheduleEndpoint(s)),
		ApplyPotential:    EnsureUserLoggedIn(makeApplyPotentialEndpoint(s)),
		SenseCheck:        EnsureUserLoggedIn(makeSenseCheckEndpoint(s)),
	}
}

func makeSetRoughDurationsEndpoint(s ScheduleService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		n, err := s.SetRoughDurations(ctx)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, countResponse{int64(n)}}, nil
	}
}

func makeRunScheduleEndpoint(s ScheduleService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(ScheduleRun)
		if !ok {
			return nil, fmt.Errorf("illegal schedule run request")
		}
		res, err := s.Run(ctx, &req)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, res}, nil
	}
}

func makeApplyPotentialEndpoint(s ScheduleService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(applyRequest)
		if !ok {
			return nil, fmt.Errorf("illegal apply request")
		}
		n, err := s.ApplyPotential(ctx, req.Type, req.Email)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, countResponse{int64(n)}}, nil
	}
}

func makeSenseCheckEndpoint(s ScheduleService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		alerts, err := s.SenseCheck(ctx)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, alerts}, nil
	}
}

// -- Lottery ----------------------------------------------------------------------------------------------------------

// MakeLotteryEndpoints builds the endpoints needed to communicate with the Lottery Service
func MakeLotteryEndpoints(s LotteryService) LotteryEndpoints {
	return LotteryEndpoints{
		Enter:   EnsureUserLoggedIn(makeEnterLotteryEndpoint(s)),
		Issue:   EnsureUserLoggedIn(makeIssueTicketEndpoint(s)),
		Tickets: EnsureUserLoggedIn(makeTicketsEndpoint(s)),
		Cancel:  EnsureUserLoggedIn(makeCancelTicketEndpoint(s)),
		Run:     EnsureUserLoggedIn(makeRunLotteryEndpoint(s)),
	}
}

func makeEnterLotteryEndpoint(s LotteryService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(LotteryEntry)
		if !ok {
			return nil, fmt.Errorf("illegal lottery entry")
		}
		t, err := s.Enter(ctx, &req)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, t}, nil
	}
}

func makeIssueTicketEndpoint(s LotteryService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(issueRequest)
		if !ok {
			return nil, fmt.Errorf("illegal ticket request")
		}
		t, err := s.Issue(ctx, req.ProposalID, req.TicketCount)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, t}, nil
	}
}

func makeTicketsEndpoint(s LotteryService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		list, err := s.Tickets(ctx)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, list}, nil
	}
}

func makeCancelTicketEndpoint(s LotteryService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(uint)
		if !ok {
			return nil, fmt.Errorf("illegal ticket ID")
		}
		if err := s.Cancel(ctx, id); err != nil {
			return nil, err
		}
		return basicResponse{true, nil}, nil
	}
}

func makeRunLotteryEndpoint(s LotteryService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(LotteryRun)
		if !ok {
			return nil, fmt.Errorf("illegal lottery run request")
		}
		res, err := s.Run(ctx, &req)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, res}, nil
	}
}

// -- Venues -----------------------------------------------------------------------------------------------------------

// MakeVenueEndpoints builds the endpoints needed to communicate with the Venue Service
func MakeVenueEndpoints(s VenueService) VenueEndpoints {
	return VenueEndpoints{
		List:           makeListVenuesEndpoint(s),
		Create:         EnsureUserLoggedIn(makeCreateVenueEndpoint(s)),
		CreateDefaults: EnsureUserLoggedIn(makeCreateDefaultVenuesEndpoint(s)),
	}
}

func makeListVenuesEndpoint(s VenueService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		list, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, list}, nil
	}
}

func makeCreateVenueEndpoint(s VenueService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		v, ok := request.(models.Venue)
		if !ok {
			return nil, fmt.Errorf("illegal venue parameter")
		}
		created, err := s.Create(ctx, &v)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, created}, nil
	}
}

func makeCreateDefaultVenuesEndpoint(s VenueService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		list, err := s.CreateDefaults(ctx)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, list}, nil
	}
}

// -- Administration ---------------------------------------------------------------------------------------------------

// MakeAdminEndpoints builds the endpoints for finalisation, mail handling, import and export
func MakeAdminEndpoints(
	fs FinaliseService,
	ns NotificationService,
	is ImportService,
	es ExportService,
) AdminEndpoints {
	return AdminEndpoints{
		Finalise:  EnsureUserLoggedIn(makeFinaliseEndpoint(fs)),
		BulkEmail: EnsurePermission(models.PermCFPAdmin)(makeBulkEmailEndpoint(ns)),
		Flush:     EnsurePermission(models.PermCFPAdmin)(makeFlushEndpoint(ns)),
		Outbox:    EnsurePermission(models.PermCFPAdmin)(makeOutboxEndpoint(ns)),
		Import:    EnsureUserLoggedIn(makeImportEndpoint(is)),
		Export:    makeExportEndpoint(es),
	}
}

func makeFinaliseEndpoint(s FinaliseService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(finaliseRequest)
		if !ok {
			return nil, fmt.Errorf("illegal finalisation request")
		}
		p, err := s.Finalise(ctx, req.ID, &req.Form)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, p}, nil
	}
}

func makeBulkEmailEndpoint(s NotificationService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		kind, ok := request.(string)
		if !ok {
			return nil, fmt.Errorf("illegal mail kind")
		}
		n, err := s.BulkEmail(ctx, kind)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, countResponse{int64(n)}}, nil
	}
}

func makeFlushEndpoint(s NotificationService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		sent, failed, err := s.Flush(ctx)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, map[string]int{"sent": sent, "failed": failed}}, nil
	}
}

func makeOutboxEndpoint(s NotificationService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		id, ok := request.(uint)
		if !ok {
			return nil, fmt.Errorf("illegal proposal ID")
		}
		list, err := s.Outbox(ctx, id)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, list}, nil
	}
}

func makeImportEndpoint(s ImportService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(importRequest)
		if !ok {
			return nil, fmt.Errorf("illegal import request")
		}
		res, err := s.ImportCSV(ctx, bytes.NewReader(req.Data), req.State)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, res}, nil
	}
}

func makeExportEndpoint(s ExportService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		format, ok := request.(string)
		if !ok {
			return nil, fmt.Errorf("illegal export format")
		}
		var buf bytes.Buffer
		if err := s.Write(ctx, format, &buf); err != nil {
			return nil, err
		}
		return exportResponse{Format: format, Body: buf.Bytes()}, nil
	}
}
