package internal

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
	"github.com/derWhity/cfpdesk/internal/repos"
)

// importColumns are the columns a proposal CSV file has to provide
var importColumns = []string{"title", "description", "type", "length", "one_day", "need_finance", "attendees", "size"}

// ImportFailure is a CSV line that could not be imported
type ImportFailure struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// ImportResult summarises a CSV import
type ImportResult struct {
	Imported []uint          `json:"imported"`
	Failed   []ImportFailure `json:"failed"`
}

// ImportService bootstraps the proposal store from CSV files
type ImportService interface {
	// ImportCSV creates one proposal per CSV line in the given state, each with a synthetic author
	ImportCSV(ctx context.Context, r io.Reader, state models.ProposalState) (*ImportResult, error)
}

// -- ImportService implementation -------------------------------------------------------------------------------------

type importService struct {
	store  repos.Store
	cs     ConfigService
	logger *logrus.Entry
}

// NewImportService creates a new import service instance
func NewImportService(store repos.Store, cs ConfigService, logger *logrus.Entry) ImportService {
	return &importService{
		store:  store,
		cs:     cs,
		logger: logger,
	}
}

// ImportCSV creates one proposal per CSV line. Lines that fail are skipped and reported.
func (s *importService) ImportCSV(ctx context.Context, in io.Reader, state models.ProposalState) (*ImportResult,
	error) {
	user, err := requirePermission(ctx, models.PermCFPAdmin)
	if err != nil {
		return nil, err
	}
	if !state.Valid() {
		return nil, errInvalidField("state", fmt.Sprintf("'%s' is no valid proposal state", state))
	}
	reader := csv.NewReader(in)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, MakeErrorWithData(http.StatusBadRequest, ErrCodeInvalidField, "Cannot read the CSV header", err)
	}
	index := map[string]int{}
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range importColumns {
		if _, ok := index[col]; !ok {
			return nil, MakeErrorWithData(http.StatusBadRequest, ErrCodeRequiredFieldMissing,
				fmt.Sprintf("The CSV file has no '%s' column", col), map[string]string{"field": col})
		}
	}

	loc := s.cs.GetConfig(ctx).Event.Location()
	res := &ImportResult{Imported: []uint{}, Failed: []ImportFailure{}}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		fail := func(err error) {
			res.Failed = append(res.Failed, ImportFailure{Line: line, Error: err.Error()})
			s.logger.WithError(err).WithField("line", line).Warn("CSV line skipped")
		}
		if err != nil {
			fail(err)
			continue
		}
		field := func(name string) string {
			if i := index[name]; i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		p, err := proposalFromCSV(field, state)
		if err == nil {
			err = validateProposal(p, loc)
		}
		if err != nil {
			fail(err)
			continue
		}
		err = s.store.InTx(ctx, func(r repos.Repos) error {
			author := models.User{
				Email: fmt.Sprintf("import-%s@cfpdesk.invalid", uuid.NewString()),
				Name:  fmt.Sprintf("Imported author (line %d)", line),
			}
			if err := r.Users.Create(&author); err != nil {
				return err
			}
			p.UserID = author.ID
			if err := r.Proposals.Create(p); err != nil {
				return err
			}
			return recordVersions(r, models.EntityProposal, p.ID, user.ID,
				models.Diff(models.ProposalColumns, map[string]*string{}, p.Snapshot()), nil)
		})
		if err != nil {
			fail(err)
			continue
		}
		res.Imported = append(res.Imported, p.ID)
	}
	s.logger.WithFields(logrus.Fields{
		"success":    len(res.Imported),
		"failed":     len(res.Failed),
		log.FldState: state,
	}).Info("CSV import finished")
	return res, nil
}

// proposalFromCSV builds a proposal from the fields of one CSV line
func proposalFromCSV(field func(string) string, state models.ProposalState) (*models.Proposal, error) {
	p := &models.Proposal{
		Type:        models.ProposalType(strings.ToLower(field("type"))),
		State:       state,
		Title:       field("title"),
		Description: field("description"),
		Length:      field("length"),
		Size:        field("size"),
		Tags:        []string{},
	}
	var err error
	if p.OneDay, err = csvBool(field("one_day")); err != nil {
		return nil, errors.Wrap(err, "one_day")
	}
	if p.NeedFinance, err = csvBool(field("need_finance")); err != nil {
		return nil, errors.Wrap(err, "need_finance")
	}
	if text := field("attendees"); text != "" {
		n, err := strconv.Atoi(text)
		if err != nil {
			return nil, errors.Wrap(err, "attendees")
		}
		p.Attendees = models.IntPtr(n)
	}
	p.RequiresTicket = p.Type.HasTickets() && p.Attendees != nil
	return p, nil
}

func csvBool(text string) (bool, error) {
	switch strings.ToLower(text) {
	case "", "0", "false", "no", "n":
		return false, nil
	case "1", "true", "yes", "y":
		return true, nil
	}
	return false, fmt.Errorf("'%s' is no boolean value", text)
}
