// Package sqlite binds all SQLite repositories to one database, either directly or inside a write transaction
package sqlite

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // Just needed for the sqlite driver
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/migrate"
	"github.com/derWhity/cfpdesk/internal/repos"
	messagerepo "github.com/derWhity/cfpdesk/internal/repos/message/sqlite"
	outboxrepo "github.com/derWhity/cfpdesk/internal/repos/outbox/sqlite"
	proposalrepo "github.com/derWhity/cfpdesk/internal/repos/proposal/sqlite"
	sitestaterepo "github.com/derWhity/cfpdesk/internal/repos/sitestate/sqlite"
	taskrepo "github.com/derWhity/cfpdesk/internal/repos/task/sqlite"
	ticketrepo "github.com/derWhity/cfpdesk/internal/repos/ticket/sqlite"
	userrepo "github.com/derWhity/cfpdesk/internal/repos/user/sqlite"
	venuerepo "github.com/derWhity/cfpdesk/internal/repos/venue/sqlite"
	versionrepo "github.com/derWhity/cfpdesk/internal/repos/version/sqlite"
	voterepo "github.com/derWhity/cfpdesk/internal/repos/vote/sqlite"
)

// Store hands out SQLite repositories. The database must be opened with a single connection and the
// "_txlock=immediate" option so that write transactions serialise.
type Store struct {
	db     *sqlx.DB
	logger *logrus.Entry
}

// Open opens the SQLite database at the given path (or ":memory:") the way the store needs it and performs all
// pending migrations
func Open(path string, logger *logrus.Entry) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrate.ExecuteMigrationsOnDb(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// New creates a new store on the given database
func New(db *sqlx.DB, logger *logrus.Entry) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

func (s *Store) bind(q repos.Queryer, txID string) repos.Repos {
	logger := s.logger
	if txID != "" {
		logger = logger.WithField(log.FldTx, txID)
	}
	return repos.Repos{
		Proposals: proposalrepo.New(q, logger),
		Votes:     voterepo.New(q, logger),
		Messages:  messagerepo.New(q, logger),
		Venues:    venuerepo.New(q, logger),
		Tickets:   ticketrepo.New(q, logger),
		Users:     userrepo.New(q, logger),
		Versions:  versionrepo.New(q, logger),
		SiteState: sitestaterepo.New(q, logger),
		Outbox:    outboxrepo.New(q, logger),
		Tasks:     taskrepo.New(q, logger),
		TxID:      txID,
	}
}

// Repos returns repositories working directly on the database
func (s *Store) Repos() repos.Repos {
	return s.bind(s.db, "")
}

// InTx runs fn inside a write transaction. The transaction is committed if fn returns nil and rolled back
// otherwise; the error of fn is returned unchanged.
func (s *Store) InTx(ctx context.Context, fn func(r repos.Repos) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InTx: cannot begin transaction: %v", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(s.bind(tx, uuid.NewString())); err != nil {
		return repos.DoRollback(tx, err)
	}
	return tx.Commit()
}
