package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-kit/kit/endpoint"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/kardianos/osext"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/ctxhelper"
	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
)

const (
	apiBasePath = "/api"
	// maxImportSize limits the size of uploaded CSV files
	maxImportSize = 16 << 20
)

// Defines an error that defines the HTTP status that should be returned
type httpStatuser interface {
	Status() int
}

// Defines an error that returns a machine-readable error code
type errorCoder interface {
	ErrorCode() string
}

// Defines an error that contains a data field with additional information
type dataBearer interface {
	Data() interface{}
}

type errorResponse struct {
	basicResponse
	// The error code
	Error   string      `json:"error"`
	Message string      `json:"errorMessage"`
	Details interface{} `json:"errorDetails,omitempty"`
}

// Services bundles everything the HTTP handler serves
type Services struct {
	Sessions      SessionService
	Proposals     ProposalService
	Anonymiser    AnonymiserService
	Reviews       ReviewService
	Rounds        RoundService
	Finalise      FinaliseService
	Schedule      ScheduleService
	Lottery       LotteryService
	Venues        VenueService
	Notifications NotificationService
	Import        ImportService
	Export        ExportService
}

// MakeHTTPHandler creates the main HTTP handler for the CFP service
func MakeHTTPHandler(s Services, logger *logrus.Entry) http.Handler {
	r := mux.NewRouter()

	options := []httptransport.ServerOption{
		httptransport.ServerErrorEncoder(encodeError),
		httptransport.ServerBefore(makeContextInjector(logger)),
		httptransport.ServerBefore(makeSessionDecoder(s.Sessions)),
	}
	handle := func(method, path string, ep endpoint.Endpoint, dec httptransport.DecodeRequestFunc) {
		r.Methods(method).Path(apiBasePath + path).Handler(httptransport.NewServer(
			ep,
			dec,
			encodeJSONResponse,
			options...,
		))
	}

	// -- Session service ------------------------------
	{
		ep := MakeSessionEndpoints(s.Sessions)
		handle(http.MethodPost, "/login", ep.Login, decodeLoginRequest)
		handle(http.MethodPost, "/logout", ep.Logout, decodeToken)
		handle(http.MethodGet, "/whoami", ep.WhoAmI, decodeToken)
	}

	// -- Proposal service -----------------------------
	{
		ep := MakeProposalEndpoints(s.Proposals)
		handle(http.MethodGet, "/proposals", ep.List, decodeProposalSearch)
		handle(http.MethodPost, "/proposals", ep.Create, decodeProposal)
		handle(http.MethodGet, "/proposals/{id:[0-9]+}", ep.Get, decodeIDFromPath)
		handle(http.MethodPut, "/proposals/{id:[0-9]+}", ep.Update, decodeProposalUpdate)
		handle(http.MethodDelete, "/proposals/{id:[0-9]+}", ep.Delete, decodeIDFromPath)
		handle(http.MethodGet, "/proposals/{id:[0-9]+}/versions", ep.Versions, decodeIDFromPath)
		handle(http.MethodPost, "/proposals/{id:[0-9]+}/revert", ep.Revert, decodeRevertRequest)
		handle(http.MethodPost, "/proposals/{id:[0-9]+}/transition", ep.Transition, decodeTransitionRequest)
		handle(http.MethodPost, "/proposals/{id:[0-9]+}/check", ep.Check, decodeIDFromPath)
		handle(http.MethodPost, "/proposals/{id:[0-9]+}/withdraw", ep.Withdraw, decodeTextRequest)
		handle(http.MethodPost, "/proposals/{id:[0-9]+}/favourite", ep.AddFavourite, decodeIDFromPath)
		handle(http.MethodDelete, "/proposals/{id:[0-9]+}/favourite", ep.RemoveFavourite, decodeIDFromPath)
		handle(http.MethodGet, "/proposals/{id:[0-9]+}/messages", ep.ListMessages, decodeIDFromPath)
		handle(http.MethodPost, "/proposals/{id:[0-9]+}/messages", ep.SendMessage, decodeTextRequest)
		handle(http.MethodPost, "/proposals/{id:[0-9]+}/messages/read", ep.MarkRead, decodeIDFromPath)
	}

	// -- Anonymiser service ---------------------------
	{
		ep := MakeAnonymiserEndpoints(s.Anonymiser)
		handle(http.MethodGet, "/anonymise", ep.ListPending, decodeTagQuery)
		handle(http.MethodGet, "/anonymise/next", ep.Next, decodeAfterQuery)
		handle(http.MethodPost, "/anonymise/{id:[0-9]+}", ep.Anonymise, decodeAnonymiseRequest)
		handle(http.MethodPost, "/anonymise/{id:[0-9]+}/block", ep.Block, decodeIDFromPath)
	}

	// -- Review service -------------------------------
	{
		ep := MakeReviewEndpoints(s.Reviews)
		handle(http.MethodGet, "/review", ep.WorkingSet, decodeNilRequest)
		handle(http.MethodPost, "/review/{id:[0-9]+}/vote", ep.Vote, decodeVoteRequest)
		handle(http.MethodPost, "/review/{id:[0-9]+}/recuse", ep.Recuse, decodeTextRequest)
		handle(http.MethodPost, "/review/{id:[0-9]+}/block", ep.Block, decodeTextRequest)
		handle(http.MethodPost, "/review/{id:[0-9]+}/reopen", ep.Reopen, decodeIDFromPath)
		handle(http.MethodPost, "/review/{id:[0-9]+}/stale", ep.MarkStale, decodeIDFromPath)
		handle(http.MethodGet, "/review/notes", ep.ListNotes, decodeUnreadQuery)
		handle(http.MethodPost, "/review/notes/read", ep.MarkAllRead, decodeNilRequest)
	}

	// -- Round service --------------------------------
	{
		ep := MakeRoundEndpoints(s.Rounds)
		handle(http.MethodGet, "/rounds/close", ep.PreviewClose, decodeMinVotesQuery)
		handle(http.MethodPost, "/rounds/close", ep.Close, decodeMinVotesQuery)
		handle(http.MethodGet, "/rounds/ranking", ep.Ranking, decodeNilRequest)
		handle(http.MethodPost, "/rounds/accept", ep.Accept, decodeAcceptRequest)
	}

	// -- Schedule service -----------------------------
	{
		ep := MakeScheduleEndpoints(s.Schedule)
		handle(http.MethodPost, "/schedule/durations", ep.SetRoughDurations, decodeNilRequest)
		handle(http.MethodPost, "/schedule/run", ep.Run, decodeScheduleRun)
		handle(http.MethodPost, "/schedule/apply", ep.ApplyPotential, decodeApplyRequest)
		handle(http.MethodGet, "/schedule/check", ep.SenseCheck, decodeNilRequest)
	}

	// -- Lottery service ------------------------------
	{
		ep := MakeLotteryEndpoints(s.Lottery)
		handle(http.MethodGet, "/tickets", ep.Tickets, decodeNilRequest)
		handle(http.MethodPost, "/tickets/lottery", ep.Enter, decodeLotteryEntry)
		handle(http.MethodPost, "/tickets/issue", ep.Issue, decodeIssueRequest)
		handle(http.MethodDelete, "/tickets/{id:[0-9]+}", ep.Cancel, decodeIDFromPath)
		handle(http.MethodPost, "/lottery/run", ep.Run, decodeLotteryRun)
	}

	// -- Venue service --------------------------------
	{
		ep := MakeVenueEndpoints(s.Venues)
		handle(http.MethodGet, "/venues", ep.List, decodeNilRequest)
		handle(http.MethodPost, "/venues", ep.Create, decodeVenue)
		handle(http.MethodPost, "/venues/defaults", ep.CreateDefaults, decodeNilRequest)
	}

	// -- Administration -------------------------------
	{
		ep := MakeAdminEndpoints(s.Finalise, s.Notifications, s.Import, s.Export)
		handle(http.MethodPost, "/proposals/{id:[0-9]+}/finalise", ep.Finalise, decodeFinaliseRequest)
		handle(http.MethodGet, "/proposals/{id:[0-9]+}/outbox", ep.Outbox, decodeIDFromPath)
		handle(http.MethodPost, "/mail/bulk/{kind}", ep.BulkEmail, decodeMailKind)
		handle(http.MethodPost, "/mail/flush", ep.Flush, decodeNilRequest)
		handle(http.MethodPost, "/import", ep.Import, decodeImportRequest)

		// Export is served outside of the API path and without the JSON envelope
		r.Methods(http.MethodGet).Path("/schedule.{format}").Handler(httptransport.NewServer(
			ep.Export,
			decodeExportFormat,
			encodeExportResponse,
			options...,
		))
	}

	// Simple alive answer for checking if HTTP can be reached
	r.Methods(http.MethodGet).Path("/alive").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		data := map[string]bool{"ok": true}
		json.NewEncoder(w).Encode(data)
	})

	// Plain file service for the UI serving everything from the "ui" folder right beside the application executable
	execDir, err := osext.ExecutableFolder()
	if err != nil {
		panic(err)
	}
	uiDir := filepath.Join(execDir, "ui")
	r.Methods(http.MethodGet).PathPrefix("/").Handler(http.FileServer(http.Dir(uiDir)))

	return r
}

// decodeNilRequest just does nothing with the request. It is used for endpoints that don't need anything to be passed
func decodeNilRequest(_ context.Context, r *http.Request) (request interface{}, err error) {
	return nil, nil
}

// decodeJSONBody reads the request's JSON body into dest
func decodeJSONBody(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return MakeError(
			http.StatusBadRequest,
			ErrCodeIllegalJSON,
			fmt.Sprintf("Failed to decode JSON body: %v", err),
		)
	}
	return nil
}

// decodeLoginRequest decodes a login request from the JSON body
func decodeLoginRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req loginRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	return req, nil
}

// decodeToken gets the token from the call's context
func decodeToken(ctx context.Context, r *http.Request) (request interface{}, err error) {
	session := ctxhelper.Session(ctx)
	if session == nil {
		return nil, MakeError(
			http.StatusBadRequest,
			ErrCodeNotLoggedIn,
			"You need an active session for this operation",
		)
	}
	return session.ID, nil
}

// decodePaginationRequest reads the pagination information from the request's query variables
func decodePaginationRequest(_ context.Context, r *http.Request) (request interface{}, err error) {
	val := r.URL.Query()
	pag := Pagination{
		Limit: 50,
	}
	if i, err := strconv.ParseUint(val.Get("offset"), 10, 64); err == nil {
		pag.Offset = uint(i)
	}
	if i, err := strconv.ParseUint(val.Get("limit"), 10, 64); err == nil {
		pag.Limit = uint(i)
	}
	return pag, nil
}

// decodeProposalSearch decodes the parameters of a proposal search from the GET variables
func decodeProposalSearch(ctx context.Context, r *http.Request) (request interface{}, err error) {
	val := r.URL.Query()
	pag, _ := decodePaginationRequest(ctx, r)
	mine, _ := strconv.ParseBool(val.Get("mine"))
	return ProposalSearch{
		Search: Search{
			Search:     val.Get("search"),
			Pagination: pag.(Pagination),
		},
		State: models.ProposalState(val.Get("state")),
		Type:  models.ProposalType(val.Get("type")),
		Tag:   val.Get("tag"),
		Mine:  mine,
	}, nil
}

// decodeProposal tries to load a proposal from the request's body
func decodeProposal(_ context.Context, r *http.Request) (interface{}, error) {
	var p models.Proposal
	if err := decodeJSONBody(r, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// Decodes a proposal from an update request where the ID of the proposal is in the path
func decodeProposalUpdate(ctx context.Context, r *http.Request) (interface{}, error) {
	id, err := getUintFromPath("id", r)
	if err != nil {
		return nil, err
	}
	var p models.Proposal
	if err := decodeJSONBody(r, &p); err != nil {
		return nil, err
	}
	p.ID = id
	return p, nil
}

func decodeRevertRequest(_ context.Context, r *http.Request) (interface{}, error) {
	id, err := getUintFromPath("id", r)
	if err != nil {
		return nil, err
	}
	var req revertRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	req.ID = id
	return req, nil
}

func decodeTransitionRequest(_ context.Context, r *http.Request) (interface{}, error) {
	id, err := getUintFromPath("id", r)
	if err != nil {
		return nil, err
	}
	var req transitionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	req.ID = id
	return req, nil
}

// decodeTextRequest reads an optional text from the body for the proposal in the path
func decodeTextRequest(_ context.Context, r *http.Request) (interface{}, error) {
	id, err := getUintFromPath("id", r)
	if err != nil {
		return nil, err
	}
	req := textRequest{ID: id}
	if r.ContentLength != 0 {
		if err := decodeJSONBody(r, &req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func decodeAnonymiseRequest(_ context.Context, r *http.Request) (interface{}, error) {
	id, err := getUintFromPath("id", r)
	if err != nil {
		return nil, err
	}
	var req anonymiseRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	req.ID = id
	return req, nil
}

func decodeTagQuery(_ context.Context, r *http.Request) (interface{}, error) {
	return r.URL.Query().Get("tag"), nil
}

func decodeAfterQuery(_ context.Context, r *http.Request) (interface{}, error) {
	after, err := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
	if err != nil {
		return uint(0), nil
	}
	return uint(after), nil
}

func decodeVoteRequest(_ context.Context, r *http.Request) (interface{}, error) {
	id, err := getUintFromPath("id", r)
	if err != nil {
		return nil, err
	}
	var req VoteRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	req.ProposalID = id
	return req, nil
}

func decodeUnreadQuery(_ context.Context, r *http.Request) (interface{}, error) {
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	return unread, nil
}

func decodeMinVotesQuery(_ context.Context, r *http.Request) (interface{}, error) {
	n, err := strconv.Atoi(r.URL.Query().Get("minVotes"))
	if err != nil || n < 0 {
		return nil, MakeErrorWithData(http.StatusBadRequest, ErrCodeInvalidField,
			"minVotes must be a non-negative number", map[string]string{"field": "minVotes"})
	}
	return n, nil
}

func decodeAcceptRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req AcceptRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeScheduleRun(_ context.Context, r *http.Request) (interface{}, error) {
	var req ScheduleRun
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeApplyRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req applyRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeLotteryEntry(_ context.Context, r *http.Request) (interface{}, error) {
	var req LotteryEntry
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeIssueRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req issueRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeLotteryRun(_ context.Context, r *http.Request) (interface{}, error) {
	var req LotteryRun
	if err := decodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeVenue(_ context.Context, r *http.Request) (interface{}, error) {
	var v models.Venue
	if err := decodeJSONBody(r, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeFinaliseRequest(_ context.Context, r *http.Request) (interface{}, error) {
	id, err := getUintFromPath("id", r)
	if err != nil {
		return nil, err
	}
	req := finaliseRequest{ID: id}
	if err := decodeJSONBody(r, &req.Form); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeMailKind(_ context.Context, r *http.Request) (interface{}, error) {
	return mux.Vars(r)["kind"], nil
}

// decodeImportRequest reads the CSV file from the body. The target state is taken from the "state" GET variable.
func decodeImportRequest(_ context.Context, r *http.Request) (interface{}, error) {
	state := models.ProposalState(r.URL.Query().Get("state"))
	if state == "" {
		state = models.StateChecked
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize))
	if err != nil {
		return nil, MakeError(http.StatusBadRequest, ErrCodeRequiredFieldMissing,
			fmt.Sprintf("Failed to read the CSV file: %v", err))
	}
	return importRequest{State: state, Data: data}, nil
}

func decodeExportFormat(_ context.Context, r *http.Request) (interface{}, error) {
	return mux.Vars(r)["format"], nil
}

// getUintFromPath is a helper function that gets a uint from the given path variable
func getUintFromPath(varname string, r *http.Request) (uint, error) {
	errmsg := fmt.Sprintf("Value for '%s' is no valid unsigned integer", varname)
	vars := mux.Vars(r)
	str, ok := vars[varname]
	if !ok {
		return 0, MakeError(http.StatusBadRequest, ErrCodeInvalidUint, errmsg)
	}
	id, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, MakeError(http.StatusBadRequest, ErrCodeInvalidUint, errmsg)
	}
	return uint(id), nil
}

// Decodes an ID from the "id" path variable provided by GoRilla
func decodeIDFromPath(ctx context.Context, r *http.Request) (interface{}, error) {
	return getUintFromPath("id", r)
}

// Encodes a typical JSON response
func encodeJSONResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(response)
}

// encodeExportResponse writes a rendered schedule with the content type of its format
func encodeExportResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	res, ok := response.(exportResponse)
	if !ok {
		return fmt.Errorf("illegal export response")
	}
	w.Header().Set("Content-Type", ExportFormats[res.Format])
	_, err := w.Write(res.Body)
	return err
}

// Builds an error response based on the incoming error
func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	if err == nil {
		panic("encodeError with nil error")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if st, ok := err.(httpStatuser); ok {
		w.WriteHeader(st.Status())
	} else {
		w.WriteHeader(http.StatusInternalServerError)
	}
	ret := errorResponse{
		basicResponse: basicResponse{false, nil},
		Message:       err.Error(),
		Error:         ErrCodeUnknown,
	}
	if cd, ok := err.(errorCoder); ok {
		ret.Error = cd.ErrorCode()
	}
	if db, ok := err.(dataBearer); ok {
		if data := db.Data(); data != nil {
			if err, ok := data.(error); ok {
				ret.Details = err.Error()
			} else {
				ret.Details = data
			}
		}
	}
	json.NewEncoder(w).Encode(&ret)
}

// makeSessionDecoder returns a function that is used in every HTTP call to decode the session used, if a session
// token is sent by the client
func makeSessionDecoder(s SessionService) httptransport.RequestFunc {
	return func(ctx context.Context, r *http.Request) context.Context {
		token := strings.TrimSpace(r.Header.Get("token"))
		logger := ctxhelper.Logger(ctx)
		if token != "" {
			// Try to load the session's data
			sess, user, err := s.GetContents(ctx, token, true)
			if err != nil {
				logger.WithError(err).WithField(log.FldSession, token).Error("Failed to retrieve session information")
				return ctx
			}
			if sess == nil || user == nil {
				// Nobody logged in
				return ctx
			}
			ctx = context.WithValue(ctx, ctxhelper.KeySession, *sess)
			ctx = ctxhelper.WithUser(ctx, *user)
			ctx = ctxhelper.WithLogger(ctx, logger.WithFields(logrus.Fields{
				log.FldSession: sess.ID,
				log.FldUser:    user.ID,
			}))
		}
		return ctx
	}
}

func makeContextInjector(logger *logrus.Entry) httptransport.RequestFunc {
	return func(ctx context.Context, r *http.Request) context.Context {
		return ctxhelper.WithLogger(ctx, logger)
	}
}
