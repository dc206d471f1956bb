// Package migrate handles SQL database migration for the CFP database
package migrate

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var migrations []dbMigration

type dbMigration struct {
	Version uint
	Queries []string
}

// Execute runs the current DB migration on the given database
func (mig *dbMigration) Execute(db *sqlx.DB, logger *logrus.Entry) error {
	query := `SELECT success FROM Migrations WHERE version = $1`
	var success = false
	err := db.QueryRow(query, mig.Version).Scan(&success)
	if err != nil && err != sql.ErrNoRows {
		logger.WithError(err).Error("Failed to fetch version information")
		return err
	}
	if success {
		return nil
	}
	logger.Infof("Executing DB migration #%d", mig.Version)
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	for i, query := range mig.Queries {
		logger.Debugf("Query %d of %d...", (i + 1), len(mig.Queries))
		if _, err := tx.Exec(query); err != nil {
			logger.WithError(err).Errorf("Query #%d failed", (i + 1))
			tx.Rollback()
			db.Exec(`REPLACE INTO Migrations(version, success) VALUES($1, 0)`, mig.Version)
			return err
		}
	}
	if _, err := tx.Exec(`REPLACE INTO Migrations(version, success) VALUES($1, 1)`, mig.Version); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ExecuteMigrationsOnDb executes the database migrations on the given database instance
func ExecuteMigrationsOnDb(db *sqlx.DB, logger *logrus.Entry) error {
	query := `CREATE TABLE IF NOT EXISTS Migrations (
                version   INTEGER NOT NULL,
                success   INTEGER NOT NULL DEFAULT 0,
                PRIMARY KEY(version)
            )`
	if _, err := db.Exec(query); err != nil {
		logger.WithError(err).Error("Failed to create migrations table")
		return err
	}
	for _, mig := range migrations {
		if err := mig.Execute(db, logger); err != nil {
			logger.WithError(err).Errorf("Failed to execute migration #%d", mig.Version)
			return err
		}
	}
	return nil
}

func init() {
	migrations = []dbMigration{
		{
			Version: 1,
			Queries: []string{
				`CREATE TABLE "Users" (
                    id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
                    email VARCHAR(255) NOT NULL UNIQUE,
                    name VARCHAR(128) NOT NULL DEFAULT '',
                    passwordHash VARCHAR(128) NOT NULL DEFAULT '',
                    permissions VARCHAR(255) NOT NULL DEFAULT '',
                    reviewTypes VARCHAR(255) NOT NULL DEFAULT '',
                    createdAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                    updatedAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
                );`,
				`CREATE TABLE "Venues" (
                    id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
                    name VARCHAR(128) NOT NULL UNIQUE,
                    priority INTEGER NOT NULL DEFAULT 0,
                    capacity INTEGER NULL,
                    allowedTypes VARCHAR(255) NOT NULL DEFAULT '',
                    defaultForTypes VARCHAR(255) NOT NULL DEFAULT '',
                    latitude REAL NULL,
                    longitude REAL NULL,
                    scheduledContentOnly INTEGER NOT NULL DEFAULT 0
                );`,
				`CREATE TABLE "Proposals" (
                    id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
                    userId INTEGER NOT NULL,
                    type VARCHAR(32) NOT NULL,
                    state VARCHAR(32) NOT NULL DEFAULT 'new',
                    title VARCHAR(255) NOT NULL DEFAULT '',
                    description TEXT NOT NULL DEFAULT '',
                    notes TEXT NOT NULL DEFAULT '',
                    length VARCHAR(64) NOT NULL DEFAULT '',
                    attendees INTEGER NULL,
                    ageRange VARCHAR(64) NOT NULL DEFAULT '',
                    size VARCHAR(64) NOT NULL DEFAULT '',
                    slideLink VARCHAR(255) NOT NULL DEFAULT '',
                    session VARCHAR(64) NOT NULL DEFAULT '',
                    oneDay INTEGER NOT NULL DEFAULT 0,
                    needFinance INTEGER NOT NULL DEFAULT 0,
                    requiresTicket INTEGER NOT NULL DEFAULT 0,
                    publishedTitle VARCHAR(255) NOT NULL DEFAULT '',
                    publishedDescription TEXT NOT NULL DEFAULT '',
                    publishedNames VARCHAR(255) NOT NULL DEFAULT '',
                    publishedPronouns VARCHAR(255) NOT NULL DEFAULT '',
                    familyFriendly INTEGER NOT NULL DEFAULT 0,
                    contentNote TEXT NOT NULL DEFAULT '',
                    equipment TEXT NOT NULL DEFAULT '',
                    availability TEXT NOT NULL DEFAULT '',
                    arrivalPeriod VARCHAR(16) NOT NULL DEFAULT '',
                    departurePeriod VARCHAR(16) NOT NULL DEFAULT '',
                    telephoneNumber VARCHAR(64) NOT NULL DEFAULT '',
                    mayRecord INTEGER NOT NULL DEFAULT 0,
                    scheduledVenueId INTEGER NULL,
                    scheduledTime DATETIME NULL,
                    scheduledDuration INTEGER NULL,
                    potentialVenueId INTEGER NULL,
                    potentialTime DATETIME NULL,
                    allowedTimes TEXT NOT NULL DEFAULT '',
                    userScheduled INTEGER NOT NULL DEFAULT 0,
                    manuallyScheduled INTEGER NOT NULL DEFAULT 0,
                    hideFromSchedule INTEGER NOT NULL DEFAULT 0,
                    favouriteCount INTEGER NOT NULL DEFAULT 0,
                    anonymiserId INTEGER NULL,
                    createdAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                    updatedAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
                );`,
				`CREATE INDEX idx_proposal_state ON Proposals (state ASC, type ASC);`,
				`CREATE INDEX idx_proposal_user ON Proposals (userId ASC);`,
				`CREATE TABLE "Tags" (
                    id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
                    tag VARCHAR(64) NOT NULL UNIQUE
                );`,
				`CREATE TABLE "ProposalTags" (
                    proposalId INTEGER NOT NULL,
                    tagId INTEGER NOT NULL,
                    PRIMARY KEY(proposalId, tagId)
                );`,
				`CREATE TABLE "UserTags" (
                    userId INTEGER NOT NULL,
                    tagId INTEGER NOT NULL,
                    PRIMARY KEY(userId, tagId)
                );`,
				`CREATE TABLE "ProposalVenues" (
                    proposalId INTEGER NOT NULL,
                    venueId INTEGER NOT NULL,
                    PRIMARY KEY(proposalId, venueId)
                );`,
				`CREATE TABLE "Favourites" (
                    userId INTEGER NOT NULL,
                    proposalId INTEGER NOT NULL,
                    PRIMARY KEY(userId, proposalId)
                );`,
				`CREATE TABLE "Votes" (
                    id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
                    userId INTEGER NOT NULL,
                    proposalId INTEGER NOT NULL,
                    state VARCHAR(16) NOT NULL DEFAULT 'new',
                    vote INTEGER NULL,
                    note TEXT NOT NULL DEFAULT '',
                    hasBeenRead INTEGER NOT NULL DEFAULT 0,
                    createdAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                    updatedAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                    UNIQUE(userId, proposalId)
                );`,
				`CREATE INDEX idx_vote_proposal ON Votes (proposalId ASC);`,
				`CREATE TABLE "Messages" (
                    id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
                    proposalId INTEGER NOT NULL,
                    fromUserId INTEGER NOT NULL,
                    toAdmin INTEGER NOT NULL DEFAULT 1,
                    body TEXT NOT NULL DEFAULT '',
                    hasBeenRead INTEGER NOT NULL DEFAULT 0,
                    createdAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
                );`,
				`CREATE INDEX idx_message_proposal ON Messages (proposalId ASC);`,
				`CREATE TABLE "Versions" (
                    id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
                    entityType VARCHAR(32) NOT NULL,
                    entityId INTEGER NOT NULL,
                    txId VARCHAR(64) NOT NULL,
                    userId INTEGER NOT NULL DEFAULT 0,
                    field VARCHAR(64) NOT NULL,
                    valueBefore TEXT NULL,
                    valueAfter TEXT NULL,
                    revertedFrom VARCHAR(64) NULL,
                    createdAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
                );`,
				`CREATE INDEX idx_version_entity ON Versions (entityType ASC, entityId ASC, txId ASC);`,
			},
		},
		{
			Version: 2,
			Queries: []string{
				`CREATE TABLE "EventTickets" (
                    id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
                    userId INTEGER NOT NULL,
                    proposalId INTEGER NOT NULL,
                    state VARCHAR(32) NOT NULL,
                    ticketCount INTEGER NOT NULL DEFAULT 1,
                    rank INTEGER NULL,
                    ticketCodes VARCHAR(1024) NOT NULL DEFAULT '',
                    createdAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                    updatedAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
                );`,
				`CREATE INDEX idx_ticket_proposal ON EventTickets (proposalId ASC, state ASC);`,
				`CREATE INDEX idx_ticket_user ON EventTickets (userId ASC);`,
				`CREATE TABLE "SiteStates" (
                    name VARCHAR(64) NOT NULL PRIMARY KEY,
                    state VARCHAR(64) NOT NULL,
                    updatedAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
                );`,
				`INSERT INTO SiteStates(name, state) VALUES('signup_state', 'closed');`,
			},
		},
		{
			Version: 3,
			Queries: []string{
				`CREATE TABLE "Outbox" (
                    id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
                    kind VARCHAR(32) NOT NULL,
                    proposalId INTEGER NULL,
                    userId INTEGER NOT NULL DEFAULT 0,
                    recipient VARCHAR(255) NOT NULL,
                    subject VARCHAR(255) NOT NULL DEFAULT '',
                    body TEXT NOT NULL DEFAULT '',
                    attempts INTEGER NOT NULL DEFAULT 0,
                    lastError TEXT NOT NULL DEFAULT '',
                    sentAt DATETIME NULL,
                    createdAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
                );`,
				`CREATE INDEX idx_outbox_pending ON Outbox (sentAt ASC, id ASC);`,
				`CREATE TABLE "TaskRuns" (
                    id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
                    name VARCHAR(64) NOT NULL,
                    startedAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                    finishedAt DATETIME NULL,
                    success INTEGER NOT NULL DEFAULT 0,
                    failed INTEGER NOT NULL DEFAULT 0
                );`,
			},
		},
		{
			Version: 4,
			Queries: []string{
				`ALTER TABLE Outbox ADD COLUMN claimedBy INTEGER NULL;`,
				`ALTER TABLE Outbox ADD COLUMN claimedAt DATETIME NULL;`,
				`CREATE INDEX idx_outbox_claim ON Outbox (claimedBy ASC);`,
			},
		},
	}
}
